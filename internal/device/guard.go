// Package device binds each account to the first physical device it logs in
// from.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"smartattendance/internal/apperr"
	"smartattendance/internal/metrics"
	"smartattendance/internal/store"
)

// Decision is the outcome of a login authorization.
type Decision string

const (
	Bound    Decision = "bound"
	Allowed  Decision = "allowed"
	Rejected Decision = "rejected"
)

// Binding is written once per identity.
type Binding struct {
	Fingerprint string    `json:"fingerprint"`
	BoundAt     time.Time `json:"bound_at"`
}

// Guard authorizes logins against the stored binding.
type Guard struct {
	store store.Store
	now   func() time.Time
}

// NewGuard builds a guard over s.
func NewGuard(s store.Store) *Guard {
	return &Guard{store: s, now: time.Now}
}

// AuthorizeLogin binds fingerprint on first login and afterwards allows only
// that fingerprint. Rejected is returned together with ErrDeviceMismatch.
func (g *Guard) AuthorizeLogin(ctx context.Context, identityID, fingerprint string) (Decision, error) {
	d, err := g.authorize(ctx, identityID, fingerprint)
	if d != "" {
		metrics.DeviceDecisions.WithLabelValues(string(d)).Inc()
	}
	return d, err
}

func (g *Guard) authorize(ctx context.Context, identityID, fingerprint string) (Decision, error) {
	if identityID == "" || fingerprint == "" {
		return "", apperr.Invalid("identity and fingerprint required")
	}
	path := store.DevicePath(identityID)

	existing, err := g.Binding(ctx, identityID)
	if err != nil {
		return "", err
	}
	if existing == nil {
		b := Binding{Fingerprint: fingerprint, BoundAt: g.now().UTC()}
		ok, err := store.CreateJSON(ctx, g.store, path, b)
		if err != nil {
			return "", err
		}
		if ok {
			return Bound, nil
		}
		// another login bound first; judge against the winner
		existing, err = g.Binding(ctx, identityID)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return "", apperr.New(apperr.CodeInternal, "binding vanished after conflicting create")
		}
	}
	if existing.Fingerprint == fingerprint {
		return Allowed, nil
	}
	return Rejected, apperr.ErrDeviceMismatch
}

// Binding returns the stored binding or nil.
func (g *Guard) Binding(ctx context.Context, identityID string) (*Binding, error) {
	raw, ok, err := g.store.Get(ctx, store.DevicePath(identityID))
	if err != nil || !ok {
		return nil, err
	}
	var b Binding
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode binding for %s: %w", identityID, err)
	}
	return &b, nil
}

// Clear removes the binding. Administrative action only.
func (g *Guard) Clear(ctx context.Context, identityID string) error {
	return g.store.Delete(ctx, store.DevicePath(identityID))
}
