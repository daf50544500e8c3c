package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"smartattendance/internal/apperr"
	"smartattendance/internal/session"
	"smartattendance/internal/store"
)

// Roles an identity can hold.
const (
	RoleStudent = "student"
	RoleFaculty = "faculty"
)

const presentValue = `"present"`

// Identity is an enrolled person. Class is set for students only.
type Identity struct {
	ID    string           `json:"id"`
	Role  string           `json:"role"`
	Name  string           `json:"name,omitempty"`
	Email string           `json:"email,omitempty"`
	Class session.ClassKey `json:"class"`
}

// Template is the reference face for an identity.
type Template struct {
	Embedding  []float64 `json:"embedding"`
	Quality    float64   `json:"quality"`
	ImageURL   string    `json:"image_url,omitempty"`
	Device     string    `json:"device,omitempty"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

type attempts struct {
	NoMatch int       `json:"no_match"`
	LastAt  time.Time `json:"last_at"`
}

// Repository persists attendance data in the state store.
type Repository struct {
	store store.Store
}

// NewRepository creates a repo.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Identity returns the identity or nil when unknown.
func (r *Repository) Identity(ctx context.Context, id string) (*Identity, error) {
	var out Identity
	ok, err := store.GetJSON(ctx, r.store, store.IdentityPath(id), &out)
	if err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

// PutIdentity creates or replaces an identity.
func (r *Repository) PutIdentity(ctx context.Context, id Identity) error {
	if id.ID == "" {
		return apperr.Invalid("identity id required")
	}
	switch id.Role {
	case RoleStudent:
		if !id.Class.Valid() {
			return apperr.Invalid("students need branch, year and section")
		}
	case RoleFaculty:
	default:
		return apperr.Invalid(fmt.Sprintf("unknown role %q", id.Role))
	}
	return store.PutJSON(ctx, r.store, store.IdentityPath(id.ID), id)
}

// Identities lists every identity in id order.
func (r *Repository) Identities(ctx context.Context) ([]Identity, error) {
	nodes, err := r.store.Children(ctx, store.IdentitiesRoot)
	if err != nil {
		return nil, err
	}
	out := make([]Identity, 0, len(nodes))
	for _, n := range nodes {
		var id Identity
		if err := json.Unmarshal(n.Value, &id); err != nil {
			log.Printf("attendance: skipping undecodable %s: %v", n.Path, err)
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Template returns the stored face template or nil.
func (r *Repository) Template(ctx context.Context, identityID string) (*Template, error) {
	var t Template
	ok, err := store.GetJSON(ctx, r.store, store.FacePath(identityID), &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

// CreateTemplate writes t only if no template exists.
func (r *Repository) CreateTemplate(ctx context.Context, identityID string, t Template) (bool, error) {
	return store.CreateJSON(ctx, r.store, store.FacePath(identityID), t)
}

// DeleteTemplate removes the template so the identity can re-enroll.
func (r *Repository) DeleteTemplate(ctx context.Context, identityID string) error {
	return r.store.Delete(ctx, store.FacePath(identityID))
}

// HasRecord reports whether identityID is marked present for sessionID.
func (r *Repository) HasRecord(ctx context.Context, identityID, sessionID string) (bool, error) {
	_, ok, err := r.store.Get(ctx, store.AttendancePath(identityID, sessionID))
	return ok, err
}

// PutRecord marks identityID present. Repeating it is harmless.
func (r *Repository) PutRecord(ctx context.Context, identityID, sessionID string) error {
	return r.store.Set(ctx, store.AttendancePath(identityID, sessionID), []byte(presentValue))
}

// SessionsAttended lists session ids identityID is marked present for.
func (r *Repository) SessionsAttended(ctx context.Context, identityID string) ([]string, error) {
	nodes, err := r.store.Children(ctx, store.Join(store.AttendanceRoot, identityID))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, store.Base(n.Path))
	}
	return out, nil
}

// Attempts returns the failed verification count for a session.
func (r *Repository) Attempts(ctx context.Context, identityID, sessionID string) (int, error) {
	var a attempts
	if _, err := store.GetJSON(ctx, r.store, store.AttemptsPath(identityID, sessionID), &a); err != nil {
		return 0, err
	}
	return a.NoMatch, nil
}

// IncrementAttempts adds one failed verification and returns the new count.
func (r *Repository) IncrementAttempts(ctx context.Context, identityID, sessionID string, now time.Time) (int, error) {
	a, _, err := store.Update(ctx, r.store, store.AttemptsPath(identityID, sessionID), func(cur *attempts, _ bool) (bool, error) {
		cur.NoMatch++
		cur.LastAt = now
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return a.NoMatch, nil
}

// ResetAttempts clears the failed verification count.
func (r *Repository) ResetAttempts(ctx context.Context, identityID, sessionID string) error {
	return r.store.Delete(ctx, store.AttemptsPath(identityID, sessionID))
}
