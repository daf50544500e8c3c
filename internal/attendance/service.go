package attendance

import (
	"context"
	"fmt"
	"log"
	"time"

	"smartattendance/internal/apperr"
	"smartattendance/internal/face"
	"smartattendance/internal/metrics"
	"smartattendance/internal/session"
)

// DefaultMaxAttempts is the number of failed matches allowed per session.
const DefaultMaxAttempts = 3

// Sessions is the part of session.Manager the service needs.
type Sessions interface {
	SessionReader
	FindActiveSessionFor(ctx context.Context, class session.ClassKey, now time.Time) (*session.Session, error)
}

// Archiver stores an enrollment capture and returns where it lives.
type Archiver interface {
	Archive(ctx context.Context, name string, img []byte) (string, error)
}

// CheckInResult describes a successful or failed check-in attempt.
type CheckInResult struct {
	SessionID    string      `json:"session_id"`
	Outcome      Outcome     `json:"outcome,omitempty"`
	Verification face.Result `json:"verification"`
	AttemptsLeft int         `json:"attempts_left"`
}

// Summary is the per-session attendance count for a faculty view.
type Summary struct {
	SessionID string           `json:"session_id"`
	Class     session.ClassKey `json:"class"`
	Status    session.Status   `json:"status"`
	Enrolled  int              `json:"enrolled"`
	Present   int              `json:"present"`
	PresentID []string         `json:"present_ids"`
}

// Service coordinates enrollment and check-ins.
type Service struct {
	repo        *Repository
	recorder    *Recorder
	sessions    Sessions
	pipeline    *face.Pipeline
	archiver    Archiver
	maxAttempts int
	now         func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithArchiver uploads enrollment captures through a.
func WithArchiver(a Archiver) ServiceOption { return func(s *Service) { s.archiver = a } }

func WithMaxAttempts(n int) ServiceOption { return func(s *Service) { s.maxAttempts = n } }

func WithNow(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

// NewService creates a service backed by a repository.
func NewService(repo *Repository, sessions Sessions, pipeline *face.Pipeline, opts ...ServiceOption) *Service {
	s := &Service{
		repo:        repo,
		recorder:    NewRecorder(repo, sessions),
		sessions:    sessions,
		pipeline:    pipeline,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	return s
}

// Repository exposes the underlying repo for admin tooling.
func (s *Service) Repository() *Repository { return s.repo }

// Recorder exposes the guarded present write.
func (s *Service) Recorder() *Recorder { return s.recorder }

func (s *Service) student(ctx context.Context, identityID string) (*Identity, error) {
	id, err := s.repo.Identity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, apperr.NotFound("identity " + identityID)
	}
	if id.Role != RoleStudent {
		return nil, apperr.New(apperr.CodeForbidden, "only students can do this")
	}
	return id, nil
}

// Enroll stores the first face template for identityID. A second enrollment
// fails with ALREADY_ENROLLED until the template is reset.
func (s *Service) Enroll(ctx context.Context, identityID, device string, c face.Capture) (Template, error) {
	if _, err := s.student(ctx, identityID); err != nil {
		return Template{}, err
	}
	existing, err := s.repo.Template(ctx, identityID)
	if err != nil {
		return Template{}, err
	}
	if existing != nil {
		return Template{}, apperr.ErrAlreadyEnrolled
	}

	emb, quality, err := s.pipeline.Embed(ctx, c)
	if err != nil {
		return Template{}, err
	}
	tpl := Template{
		Embedding:  emb,
		Quality:    quality,
		Device:     device,
		EnrolledAt: s.now().UTC(),
	}
	if s.archiver != nil {
		url, err := s.archiver.Archive(ctx, identityID, c.Image)
		if err != nil {
			log.Printf("enroll %s: archive capture failed: %v", identityID, err)
		} else {
			tpl.ImageURL = url
		}
	}

	ok, err := s.repo.CreateTemplate(ctx, identityID, tpl)
	if err != nil {
		return Template{}, err
	}
	if !ok {
		return Template{}, apperr.ErrAlreadyEnrolled
	}
	log.Printf("enroll %s: template stored (quality %.2f)", identityID, quality)
	return tpl, nil
}

// ResetFace deletes the template and lets the identity enroll again.
func (s *Service) ResetFace(ctx context.Context, identityID string) error {
	return s.repo.DeleteTemplate(ctx, identityID)
}

// ActiveSession returns the session the student can check into now.
func (s *Service) ActiveSession(ctx context.Context, identityID string) (session.Session, error) {
	id, err := s.student(ctx, identityID)
	if err != nil {
		return session.Session{}, err
	}
	found, err := s.sessions.FindActiveSessionFor(ctx, id.Class, s.now())
	if err != nil {
		return session.Session{}, err
	}
	if found == nil {
		return session.Session{}, apperr.ErrNoActiveSession
	}
	return *found, nil
}

// CheckIn verifies a capture and marks the student present in the active
// session for their class. sessionID is optional; when set it must be that
// session. Failed matches count toward the per-session attempt cap.
func (s *Service) CheckIn(ctx context.Context, identityID, sessionID string, c face.Capture) (CheckInResult, error) {
	active, err := s.ActiveSession(ctx, identityID)
	if err != nil {
		return CheckInResult{}, err
	}
	if sessionID != "" && sessionID != active.ID {
		return CheckInResult{}, apperr.ErrSessionNotActive
	}
	res := CheckInResult{SessionID: active.ID}

	tpl, err := s.repo.Template(ctx, identityID)
	if err != nil {
		return res, err
	}
	if tpl == nil {
		return res, apperr.ErrNotEnrolled
	}
	used, err := s.repo.Attempts(ctx, identityID, active.ID)
	if err != nil {
		return res, err
	}
	if used >= s.maxAttempts {
		return res, apperr.ErrAttemptsExhausted
	}
	res.AttemptsLeft = s.maxAttempts - used

	start := time.Now()
	v, err := s.pipeline.Verify(ctx, tpl.Embedding, c)
	metrics.VerifyDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Verifications.WithLabelValues(string(apperr.CodeOf(err))).Inc()
		return res, err
	}
	res.Verification = v
	metrics.Verifications.WithLabelValues(string(v.Outcome)).Inc()

	if !v.IsMatch() {
		n, err := s.repo.IncrementAttempts(ctx, identityID, active.ID, s.now().UTC())
		if err != nil {
			return res, err
		}
		res.AttemptsLeft = max(s.maxAttempts-n, 0)
		if res.AttemptsLeft == 0 {
			log.Printf("checkin %s/%s: attempts exhausted", identityID, active.ID)
			return res, apperr.ErrAttemptsExhausted
		}
		return res, apperr.New(apperr.CodeVerificationNoMatch,
			fmt.Sprintf("face does not match, %d attempts left", res.AttemptsLeft))
	}

	out, err := s.recorder.MarkPresent(ctx, identityID, active.ID, v)
	if err != nil {
		return res, err
	}
	res.Outcome = out
	log.Printf("checkin %s/%s: %s (confidence %.2f)", identityID, active.ID, out, v.Confidence)
	return res, nil
}

// History lists the sessions identityID was marked present in.
func (s *Service) History(ctx context.Context, identityID string) ([]string, error) {
	return s.repo.SessionsAttended(ctx, identityID)
}

// Summary counts present students against the class roster.
func (s *Service) Summary(ctx context.Context, sessionID string) (Summary, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}
	ids, err := s.repo.Identities(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{SessionID: sess.ID, Class: sess.Class, Status: sess.Status, PresentID: []string{}}
	for _, id := range ids {
		if id.Role != RoleStudent || id.Class != sess.Class {
			continue
		}
		sum.Enrolled++
		ok, err := s.repo.HasRecord(ctx, id.ID, sess.ID)
		if err != nil {
			return Summary{}, err
		}
		if ok {
			sum.Present++
			sum.PresentID = append(sum.PresentID, id.ID)
		}
	}
	return sum, nil
}
