package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"smartattendance/internal/apperr"
	"smartattendance/internal/store"
)

func TestAuthorizeLoginSequence(t *testing.T) {
	g := NewGuard(store.NewMemory())
	ctx := context.Background()

	steps := []struct {
		fingerprint string
		want        Decision
		wantErr     error
	}{
		{"aaaa", Bound, nil},
		{"aaaa", Allowed, nil},
		{"bbbb", Rejected, apperr.ErrDeviceMismatch},
		{"aaaa", Allowed, nil},
		{"bbbb", Rejected, apperr.ErrDeviceMismatch},
	}
	for i, st := range steps {
		got, err := g.AuthorizeLogin(ctx, "u1", st.fingerprint)
		if got != st.want {
			t.Errorf("step %d AuthorizeLogin(%q) = %s, want %s", i, st.fingerprint, got, st.want)
		}
		if st.wantErr == nil && err != nil {
			t.Errorf("step %d err = %v, want nil", i, err)
		}
		if st.wantErr != nil && !errors.Is(err, st.wantErr) {
			t.Errorf("step %d err = %v, want %v", i, err, st.wantErr)
		}
	}
}

func TestAuthorizeLoginConcurrentFirstLogin(t *testing.T) {
	g := NewGuard(store.NewMemory())
	ctx := context.Background()

	fps := []string{"f1", "f2", "f3", "f4", "f5", "f6"}
	results := make([]Decision, len(fps))
	var wg sync.WaitGroup
	for i, fp := range fps {
		wg.Add(1)
		go func(i int, fp string) {
			defer wg.Done()
			results[i], _ = g.AuthorizeLogin(ctx, "u1", fp)
		}(i, fp)
	}
	wg.Wait()

	bound := 0
	for _, d := range results {
		switch d {
		case Bound:
			bound++
		case Rejected:
		default:
			t.Errorf("unexpected decision %s", d)
		}
	}
	if bound != 1 {
		t.Errorf("bound = %d, want exactly 1", bound)
	}
	b, err := g.Binding(ctx, "u1")
	if err != nil || b == nil {
		t.Fatalf("Binding = %v, %v", b, err)
	}
	for i, d := range results {
		if d == Bound && fps[i] != b.Fingerprint {
			t.Errorf("winner %s but stored %s", fps[i], b.Fingerprint)
		}
	}
}

func TestClearAllowsRebinding(t *testing.T) {
	g := NewGuard(store.NewMemory())
	ctx := context.Background()
	_, _ = g.AuthorizeLogin(ctx, "u1", "old")
	if err := g.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, _ := g.AuthorizeLogin(ctx, "u1", "new"); got != Bound {
		t.Errorf("after Clear = %s, want bound", got)
	}
}

func TestAuthorizeLoginValidates(t *testing.T) {
	g := NewGuard(store.NewMemory())
	_, err := g.AuthorizeLogin(context.Background(), "u1", "")
	if apperr.CodeOf(err) != apperr.CodeInvalidArgument {
		t.Errorf("empty fingerprint err = %v, want INVALID_ARGUMENT", err)
	}
}

func TestFingerprint(t *testing.T) {
	got := Fingerprint("device-123")
	if len(got) != 16 {
		t.Fatalf("len = %d, want 16", len(got))
	}
	if got != Fingerprint("device-123") {
		t.Error("Fingerprint not stable")
	}
	if got == Fingerprint("device-124") {
		t.Error("different ids share a fingerprint")
	}
	if want := "e3b0c44298fc1c14"; Fingerprint("") != want {
		t.Errorf("Fingerprint(\"\") = %s, want %s", Fingerprint(""), want)
	}
}

func TestFileUUIDPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "device-id")
	p := FileUUID{Path: path}
	first, err := p.DeviceID(context.Background())
	if err != nil {
		t.Fatalf("DeviceID: %v", err)
	}
	second, _ := p.DeviceID(context.Background())
	if first != second {
		t.Errorf("DeviceID changed across calls: %s vs %s", first, second)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("id file not written: %v", err)
	}
}

func TestChainFallsBack(t *testing.T) {
	dir := t.TempDir()
	c := Chain{MachineID{Paths: []string{filepath.Join(dir, "missing")}}, FileUUID{Path: filepath.Join(dir, "id")}}
	id, err := c.DeviceID(context.Background())
	if err != nil || id == "" {
		t.Fatalf("Chain.DeviceID = %q, %v", id, err)
	}
	fp, err := LocalFingerprint(context.Background(), c)
	if err != nil || fp != Fingerprint(id) {
		t.Errorf("LocalFingerprint = %q, %v; want %q", fp, err, Fingerprint(id))
	}
}

func TestMachineIDReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine-id")
	_ = os.WriteFile(path, []byte("abc123\n"), 0o600)
	id, err := MachineID{Paths: []string{path}}.DeviceID(context.Background())
	if err != nil || id != "abc123" {
		t.Errorf("DeviceID = %q, %v; want abc123", id, err)
	}
	if _, err := (MachineID{}).DeviceID(context.Background()); !errors.Is(err, ErrNoDeviceID) {
		t.Errorf("empty MachineID err = %v, want ErrNoDeviceID", err)
	}
}
