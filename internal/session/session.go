// Package session owns the attendance window lifecycle: creation, manual
// end and automatic expiry.
package session

import (
	"fmt"
	"strings"
	"time"

	"smartattendance/internal/apperr"
)

// Status of a session. Ended is terminal.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

const AutoCloseReason = "Session automatically closed after 30 minutes"

// ClassKey identifies a class cohort.
type ClassKey struct {
	Branch  string `json:"branch"`
	Year    string `json:"year"`
	Section string `json:"section"`
}

func (k ClassKey) String() string { return k.Branch + "/" + k.Year + "/" + k.Section }

func (k ClassKey) Valid() bool { return k.Branch != "" && k.Year != "" && k.Section != "" }

// ParseClassKey parses "BRANCH/YEAR/SECTION".
func ParseClassKey(s string) (ClassKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return ClassKey{}, apperr.Invalid(fmt.Sprintf("class %q must be BRANCH/YEAR/SECTION", s))
	}
	k := ClassKey{Branch: parts[0], Year: parts[1], Section: parts[2]}
	if !k.Valid() {
		return ClassKey{}, apperr.Invalid(fmt.Sprintf("class %q has an empty part", s))
	}
	return k, nil
}

// Session is the stored session document.
type Session struct {
	ID              string     `json:"id"`
	Class           ClassKey   `json:"class"`
	Subject         string     `json:"subject"`
	FacultyID       string     `json:"faculty_id"`
	Date            string     `json:"date"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	EndedBy         string     `json:"ended_by,omitempty"`
	AutoClosed      bool       `json:"auto_closed"`
	AutoCloseReason string     `json:"auto_close_reason,omitempty"`
}

func (s Session) Active() bool { return s.Status == StatusActive }

// Overdue reports whether an active session has passed its expiry deadline.
func (s Session) Overdue(now time.Time) bool {
	return s.Active() && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// InWindow reports whether now falls in [start, end+grace].
func (s Session) InWindow(now time.Time, grace time.Duration) bool {
	return !now.Before(s.StartTime) && !now.After(s.EndTime.Add(grace))
}

// NewID builds the session id for a class opened at t.
func NewID(k ClassKey, t time.Time) string {
	return fmt.Sprintf("session_%s_%s_%s_%d", k.Branch, k.Year, k.Section, t.UnixMilli())
}
