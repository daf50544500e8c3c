// Package store is the hierarchical key-value state store shared by every
// attendance component. Paths are slash separated ("sessions/abc"); values
// are opaque bytes, JSON by convention.
package store

import (
	"context"
	"strings"
)

// Node is a stored path and its value.
type Node struct {
	Path  string
	Value []byte
}

// Change is delivered to subscribers after a write is visible.
type Change struct {
	Path    string `json:"path"`
	Value   []byte `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Store is the remote state store. Implementations are safe for concurrent
// use and report transport failures as apperr.ErrStoreUnavailable.
type Store interface {
	// Get returns the value at path. ok is false when nothing is stored.
	Get(ctx context.Context, path string) (value []byte, ok bool, err error)
	// Set writes value unconditionally.
	Set(ctx context.Context, path string, value []byte) error
	// ConditionalSet writes value only if the current value equals expected.
	// A nil expected means the path must be absent.
	ConditionalSet(ctx context.Context, path string, expected, value []byte) (bool, error)
	// Delete removes a path. Used by administrative resets only.
	Delete(ctx context.Context, path string) error
	// Children lists the direct children of path that hold a value, in path order.
	Children(ctx context.Context, path string) ([]Node, error)
	// Subscribe streams changes to path and everything below it until ctx ends.
	Subscribe(ctx context.Context, path string) (<-chan Change, error)
	Ping(ctx context.Context) error
	Close() error
}

// Join builds a path from segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Base returns the last segment of path.
func Base(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func parentOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}

// covers reports whether a change at path is visible to a subscription on root.
func covers(root, path string) bool {
	if root == "" || root == path {
		return true
	}
	return strings.HasPrefix(path, root+"/")
}

func isDirectChild(parent, path string) bool {
	return parentOf(path) == parent
}
