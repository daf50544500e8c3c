package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"smartattendance/internal/apperr"
	"smartattendance/internal/metrics"
)

// observe counts backend failures by operation and passes err through.
func observe(op string, err error) error {
	if errors.Is(err, apperr.ErrStoreUnavailable) {
		metrics.StoreErrors.WithLabelValues(op).Inc()
	}
	return err
}

// GetJSON decodes the value at path into out. ok is false when absent.
func GetJSON(ctx context.Context, s Store, path string, out any) (bool, error) {
	raw, ok, err := s.Get(ctx, path)
	if err != nil || !ok {
		return false, observe("get", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// PutJSON encodes v and writes it unconditionally.
func PutJSON(ctx context.Context, s Store, path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return observe("set", s.Set(ctx, path, raw))
}

// CreateJSON writes v only if path is absent.
func CreateJSON(ctx context.Context, s Store, path string, v any) (bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", path, err)
	}
	ok, err := s.ConditionalSet(ctx, path, nil, raw)
	return ok, observe("cas", err)
}

// Update runs a read-modify-conditional-write loop against path. fn mutates
// cur in place (found is false when the path is absent) and returns false to
// abandon the write. The loop retries until the conditional write lands. It
// returns the last value seen and whether this call wrote it.
func Update[T any](ctx context.Context, s Store, path string, fn func(cur *T, found bool) (bool, error)) (T, bool, error) {
	for {
		var cur T
		raw, found, err := s.Get(ctx, path)
		if err != nil {
			return cur, false, observe("get", err)
		}
		if found {
			if err := json.Unmarshal(raw, &cur); err != nil {
				return cur, false, fmt.Errorf("decode %s: %w", path, err)
			}
		}
		keep, err := fn(&cur, found)
		if err != nil || !keep {
			return cur, false, err
		}
		next, err := json.Marshal(cur)
		if err != nil {
			return cur, false, fmt.Errorf("encode %s: %w", path, err)
		}
		var expected []byte
		if found {
			expected = raw
		}
		ok, err := s.ConditionalSet(ctx, path, expected, next)
		if err != nil {
			return cur, false, observe("cas", err)
		}
		if ok {
			return cur, true, nil
		}
		if err := ctx.Err(); err != nil {
			return cur, false, err
		}
	}
}
