package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"smartattendance/internal/apperr"
	"smartattendance/internal/metrics"
	"smartattendance/internal/notify"
	"smartattendance/internal/store"
)

// Config holds the session timing rules.
type Config struct {
	AutoClose time.Duration // deadline after creation
	Length    time.Duration // scheduled end after start
	Grace     time.Duration // late arrivals accepted after end
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{AutoClose: 30 * time.Minute, Length: 2 * time.Hour, Grace: 30 * time.Minute}
}

// Manager creates and terminates sessions. Termination is a conditional
// write on the session document, so a manual end and the expiry timer can
// race freely: exactly one of them transitions the session.
type Manager struct {
	store store.Store
	bus   notify.Bus
	clock Clock
	cfg   Config

	mu     sync.Mutex
	timers map[string]Timer
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }

func WithConfig(c Config) Option { return func(m *Manager) { m.cfg = c } }

// NewManager builds a manager. A nil bus discards events.
func NewManager(s store.Store, bus notify.Bus, opts ...Option) *Manager {
	if bus == nil {
		bus = notify.Discard{}
	}
	m := &Manager{
		store:  s,
		bus:    bus,
		clock:  RealClock,
		cfg:    DefaultConfig(),
		timers: make(map[string]Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	def := DefaultConfig()
	if m.cfg.AutoClose <= 0 {
		m.cfg.AutoClose = def.AutoClose
	}
	if m.cfg.Length <= 0 {
		m.cfg.Length = def.Length
	}
	if m.cfg.Grace < 0 {
		m.cfg.Grace = 0
	}
	return m
}

// Config returns the effective timings.
func (m *Manager) Config() Config { return m.cfg }

// Create opens a session for class and arms its expiry timer.
func (m *Manager) Create(ctx context.Context, class ClassKey, subject, facultyID string) (Session, error) {
	if !class.Valid() {
		return Session{}, apperr.Invalid("branch, year and section are required")
	}
	if subject == "" {
		return Session{}, apperr.Invalid("subject is required")
	}
	now := m.clock.Now().UTC()
	s := Session{
		ID:        NewID(class, now),
		Class:     class,
		Subject:   subject,
		FacultyID: facultyID,
		Date:      now.Format("2006-01-02"),
		StartTime: now,
		EndTime:   now.Add(m.cfg.Length),
		Status:    StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.AutoClose),
	}
	ok, err := store.CreateJSON(ctx, m.store, store.SessionPath(s.ID), s)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, apperr.Conflict(fmt.Sprintf("session %s already exists", s.ID))
	}
	m.arm(s.ID, m.cfg.AutoClose)
	metrics.SessionsCreated.Inc()
	log.Printf("session %s created for %s (%s)", s.ID, class, subject)
	return s, nil
}

// End terminates a session manually. Ending an already ended session
// succeeds without changing it. An active session already past its
// deadline is closed as expired instead.
func (m *Manager) End(ctx context.Context, id, actor string) (Session, error) {
	var reason string
	s, wrote, err := store.Update(ctx, m.store, store.SessionPath(id), func(cur *Session, found bool) (bool, error) {
		if !found {
			return false, apperr.NotFound("session " + id)
		}
		if !cur.Active() {
			return false, nil
		}
		now := m.clock.Now().UTC()
		if cur.Overdue(now) {
			reason = notify.ReasonAutoExpired
			markExpired(cur, cur.ExpiresAt)
			return true, nil
		}
		reason = notify.ReasonManual
		cur.Status = StatusEnded
		cur.EndedAt = &now
		cur.EndedBy = actor
		cur.AutoClosed = false
		return true, nil
	})
	if err != nil {
		return Session{}, err
	}
	m.disarm(id)
	if wrote {
		m.ended(ctx, s, reason)
	}
	return s, nil
}

// AutoExpire is the timer callback. It returns whether this call performed
// the transition; an already ended session is left untouched.
func (m *Manager) AutoExpire(ctx context.Context, id string) (bool, error) {
	return m.expire(ctx, id, time.Time{})
}

// expire transitions id to ended as auto-closed. A zero at stamps the
// current time.
func (m *Manager) expire(ctx context.Context, id string, at time.Time) (bool, error) {
	s, wrote, err := store.Update(ctx, m.store, store.SessionPath(id), func(cur *Session, found bool) (bool, error) {
		if !found {
			return false, apperr.NotFound("session " + id)
		}
		if !cur.Active() {
			return false, nil
		}
		when := at
		if when.IsZero() {
			when = m.clock.Now().UTC()
		}
		markExpired(cur, when)
		return true, nil
	})
	if err != nil {
		return false, err
	}
	m.disarm(id)
	if wrote {
		m.ended(ctx, s, notify.ReasonAutoExpired)
	}
	return wrote, nil
}

func markExpired(s *Session, at time.Time) {
	s.Status = StatusEnded
	s.EndedAt = &at
	s.AutoClosed = true
	s.AutoCloseReason = AutoCloseReason
}

func (m *Manager) ended(ctx context.Context, s Session, reason string) {
	metrics.SessionsEnded.WithLabelValues(reason).Inc()
	if reason == notify.ReasonAutoExpired {
		log.Printf("session %s auto-closed", s.ID)
	} else {
		log.Printf("session %s ended by %s", s.ID, s.EndedBy)
	}
	evt := notify.Event{Type: notify.TypeSessionEnded, SessionID: s.ID, Reason: reason}
	if s.EndedAt != nil {
		evt.At = *s.EndedAt
	}
	if err := m.bus.Publish(ctx, evt); err != nil {
		log.Printf("session %s: publish end event failed: %v", s.ID, err)
	}
}

// Get reads a session, closing it first if it is past its deadline.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	s, err := m.read(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.Overdue(m.clock.Now()) {
		if _, err := m.expire(ctx, id, s.ExpiresAt); err != nil {
			return Session{}, err
		}
		return m.read(ctx, id)
	}
	return s, nil
}

func (m *Manager) read(ctx context.Context, id string) (Session, error) {
	var s Session
	ok, err := store.GetJSON(ctx, m.store, store.SessionPath(id), &s)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, apperr.NotFound("session " + id)
	}
	return s, nil
}

// List returns every stored session in id order.
func (m *Manager) List(ctx context.Context) ([]Session, error) {
	nodes, err := m.store.Children(ctx, store.SessionsRoot)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(nodes))
	for _, n := range nodes {
		var s Session
		if err := json.Unmarshal(n.Value, &s); err != nil {
			log.Printf("session: skipping undecodable %s: %v", n.Path, err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// FindActiveSessionFor returns the first active session for class whose
// window contains now, or nil. Overdue sessions met during the scan are
// closed and skipped.
func (m *Manager) FindActiveSessionFor(ctx context.Context, class ClassKey, now time.Time) (*Session, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if !s.Active() || s.Class != class {
			continue
		}
		if s.Overdue(now) {
			if _, err := m.expire(ctx, s.ID, s.ExpiresAt); err != nil {
				log.Printf("session %s: lazy expiry failed: %v", s.ID, err)
			}
			continue
		}
		if s.InWindow(now, m.cfg.Grace) {
			found := s
			return &found, nil
		}
	}
	return nil, nil
}

// Reconcile closes every active session past its deadline. It returns how
// many this call transitioned.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	all, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	now := m.clock.Now()
	n := 0
	var errs []error
	for _, s := range all {
		if !s.Overdue(now) {
			continue
		}
		wrote, err := m.expire(ctx, s.ID, s.ExpiresAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire %s: %w", s.ID, err))
			continue
		}
		if wrote {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// Resume re-arms timers for active sessions after a restart and closes the
// ones whose deadline passed while nothing was running.
func (m *Manager) Resume(ctx context.Context) (armed int, err error) {
	all, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	now := m.clock.Now()
	for _, s := range all {
		if !s.Active() {
			continue
		}
		if s.Overdue(now) {
			if _, err := m.expire(ctx, s.ID, s.ExpiresAt); err != nil {
				log.Printf("session %s: expiry on resume failed: %v", s.ID, err)
			}
			continue
		}
		m.arm(s.ID, s.ExpiresAt.Sub(now))
		armed++
	}
	return armed, nil
}

// Watch streams the session document, starting with its current value,
// until ctx ends.
func (m *Manager) Watch(ctx context.Context, id string) (<-chan Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	// subscribe before reading so a change between the two is not lost
	changes, err := m.store.Subscribe(ctx, store.SessionPath(id))
	if err != nil {
		cancel()
		return nil, err
	}
	cur, err := m.Get(ctx, id)
	if err != nil {
		cancel()
		return nil, err
	}
	seen, _ := json.Marshal(cur)
	out := make(chan Session, 1)
	out <- cur
	go func() {
		defer cancel()
		defer close(out)
		for c := range changes {
			if c.Deleted || c.Path != store.SessionPath(id) || bytes.Equal(c.Value, seen) {
				continue
			}
			var s Session
			if err := json.Unmarshal(c.Value, &s); err != nil {
				continue
			}
			seen = c.Value
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close stops all pending timers. Persisted deadlines still apply on the
// next Resume or Reconcile.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	metrics.ActiveTimers.Set(0)
}

// Armed reports whether a timer is pending for id.
func (m *Manager) Armed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[id]
	return ok
}

func (m *Manager) arm(id string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if old, ok := m.timers[id]; ok {
		old.Stop()
	}
	m.timers[id] = m.clock.AfterFunc(d, func() { m.fire(id) })
	metrics.ActiveTimers.Set(float64(len(m.timers)))
}

func (m *Manager) fire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.AutoExpire(ctx, id); err != nil {
		// the persisted deadline lets the sweep retry
		log.Printf("session %s: auto-expire failed: %v", id, err)
		m.disarm(id)
	}
}

// disarm stops and drops the timer for id.
func (m *Manager) disarm(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
	metrics.ActiveTimers.Set(float64(len(m.timers)))
}
