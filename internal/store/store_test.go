package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"smartattendance/internal/apperr"
	"smartattendance/internal/metrics"
)

// runStoreSuite exercises the Store contract against any backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Get(context.Background(), "sessions/none")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok {
			t.Errorf("Get(missing) ok = true, want false")
		}
	})

	t.Run("SetGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Set(ctx, "sessions/a", []byte(`{"x":1}`)); err != nil {
			t.Fatalf("Set: %v", err)
		}
		v, ok, err := s.Get(ctx, "sessions/a")
		if err != nil || !ok {
			t.Fatalf("Get = %v, %v", ok, err)
		}
		if string(v) != `{"x":1}` {
			t.Errorf("Get = %q, want %q", v, `{"x":1}`)
		}
	})

	t.Run("ConditionalSetAbsent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ok, err := s.ConditionalSet(ctx, "identities/u1/device", nil, []byte("fp1"))
		if err != nil || !ok {
			t.Fatalf("first create = %v, %v; want true", ok, err)
		}
		ok, err = s.ConditionalSet(ctx, "identities/u1/device", nil, []byte("fp2"))
		if err != nil {
			t.Fatalf("second create: %v", err)
		}
		if ok {
			t.Errorf("second create-if-absent succeeded")
		}
		v, _, _ := s.Get(ctx, "identities/u1/device")
		if string(v) != "fp1" {
			t.Errorf("value = %q, want fp1", v)
		}
	})

	t.Run("ConditionalSetExpected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.Set(ctx, "k/a", []byte("v1"))
		if ok, _ := s.ConditionalSet(ctx, "k/a", []byte("stale"), []byte("v2")); ok {
			t.Errorf("CAS with stale expectation succeeded")
		}
		if ok, _ := s.ConditionalSet(ctx, "k/a", []byte("v1"), []byte("v2")); !ok {
			t.Errorf("CAS with current expectation failed")
		}
		if ok, _ := s.ConditionalSet(ctx, "k/missing", []byte("v1"), []byte("v2")); ok {
			t.Errorf("CAS on missing path with expectation succeeded")
		}
	})

	t.Run("ConcurrentCreateOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.ConditionalSet(ctx, "race/node", nil, []byte{byte(i)})
				if err != nil {
					t.Errorf("ConditionalSet: %v", err)
				}
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}(i)
		}
		wg.Wait()
		if wins != 1 {
			t.Errorf("winners = %d, want 1", wins)
		}
	})

	t.Run("ChildrenDirectOnly", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.Set(ctx, "identities/b", []byte("b"))
		_ = s.Set(ctx, "identities/a", []byte("a"))
		_ = s.Set(ctx, "identities/a/device", []byte("fp"))
		_ = s.Set(ctx, "sessions/x", []byte("x"))
		nodes, err := s.Children(ctx, "identities")
		if err != nil {
			t.Fatalf("Children: %v", err)
		}
		if len(nodes) != 2 {
			t.Fatalf("Children = %d nodes, want 2: %+v", len(nodes), nodes)
		}
		if nodes[0].Path != "identities/a" || nodes[1].Path != "identities/b" {
			t.Errorf("Children order = %s, %s", nodes[0].Path, nodes[1].Path)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.Set(ctx, "identities/u/face", []byte("f"))
		if err := s.Delete(ctx, "identities/u/face"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, ok, _ := s.Get(ctx, "identities/u/face"); ok {
			t.Errorf("value still present after Delete")
		}
	})

	t.Run("Subscribe", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ch, err := s.Subscribe(ctx, "sessions/s1")
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		_ = s.Set(ctx, "sessions/other", []byte("ignored"))
		_ = s.Set(ctx, "sessions/s1", []byte("v1"))
		select {
		case c := <-ch:
			if c.Path != "sessions/s1" || string(c.Value) != "v1" {
				t.Errorf("change = %+v, want sessions/s1=v1", c)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("no change delivered")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemory() })
}

func TestMemorySubscribeClosesOnCancel(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := m.Subscribe(ctx, "")
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected change")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestUpdateRetriesOnConflict(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	type counter struct {
		N int `json:"n"`
	}
	if err := PutJSON(ctx, m, "c", counter{N: 0}); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := Update(ctx, m, "c", func(cur *counter, found bool) (bool, error) {
				cur.N++
				return true, nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()
	var got counter
	if _, err := GetJSON(ctx, m, "c", &got); err != nil {
		t.Fatal(err)
	}
	if got.N != 20 {
		t.Errorf("counter = %d, want 20", got.N)
	}
}

// unreachable fails every conditional write like a dropped connection.
type unreachable struct{ Store }

func (unreachable) ConditionalSet(context.Context, string, []byte, []byte) (bool, error) {
	return false, apperr.Unavailable(errors.New("connection refused"))
}

func TestUpdateCountsStoreErrors(t *testing.T) {
	s := unreachable{NewMemory()}
	before := testutil.ToFloat64(metrics.StoreErrors.WithLabelValues("cas"))
	_, wrote, err := Update(context.Background(), s, "c", func(cur *int, found bool) (bool, error) {
		*cur = 1
		return true, nil
	})
	if !errors.Is(err, apperr.ErrStoreUnavailable) || wrote {
		t.Fatalf("Update = wrote %v, err %v; want STORE_UNAVAILABLE", wrote, err)
	}
	if got := testutil.ToFloat64(metrics.StoreErrors.WithLabelValues("cas")) - before; got != 1 {
		t.Errorf("cas errors counted = %v, want 1", got)
	}
}

func TestPathHelpers(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DevicePath("u1"), "identities/u1/device"},
		{FacePath("u1"), "identities/u1/face"},
		{AttendancePath("u1", "s1"), "attendance/u1/s1"},
		{Base("sessions/s1"), "s1"},
		{parentOf("a/b/c"), "a/b"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
	if !covers("sessions", "sessions/x") || covers("sessions/x", "sessions/xy") {
		t.Error("covers prefix handling wrong")
	}
}
