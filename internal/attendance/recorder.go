package attendance

import (
	"context"

	"smartattendance/internal/apperr"
	"smartattendance/internal/face"
	"smartattendance/internal/metrics"
	"smartattendance/internal/session"
)

// Outcome of a mark.
type Outcome string

const (
	Recorded        Outcome = "recorded"
	AlreadyRecorded Outcome = "already-recorded"
)

// SessionReader is the part of session.Manager the recorder needs.
type SessionReader interface {
	Get(ctx context.Context, id string) (session.Session, error)
}

// Recorder performs the guarded present write.
type Recorder struct {
	repo     *Repository
	sessions SessionReader
}

func NewRecorder(repo *Repository, sessions SessionReader) *Recorder {
	return &Recorder{repo: repo, sessions: sessions}
}

// MarkPresent records identityID as present in sessionID at most once. It
// requires an enrolled template, a matching proof and an active session,
// each read fresh. Concurrent callers may all write; the record is the same.
func (r *Recorder) MarkPresent(ctx context.Context, identityID, sessionID string, proof face.Result) (Outcome, error) {
	tpl, err := r.repo.Template(ctx, identityID)
	if err != nil {
		return "", err
	}
	if tpl == nil {
		return "", apperr.ErrNotEnrolled
	}
	if !proof.IsMatch() {
		return "", apperr.ErrVerificationNoMatch
	}
	s, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !s.Active() {
		return "", apperr.ErrSessionNotActive
	}

	present, err := r.repo.HasRecord(ctx, identityID, sessionID)
	if err != nil {
		return "", err
	}
	if present {
		metrics.Marks.WithLabelValues(string(AlreadyRecorded)).Inc()
		return AlreadyRecorded, nil
	}
	if err := r.repo.PutRecord(ctx, identityID, sessionID); err != nil {
		return "", err
	}
	metrics.Marks.WithLabelValues(string(Recorded)).Inc()
	return Recorded, nil
}
