package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const fingerprintLen = 16

// Fingerprint hashes a raw device identifier into the stored form.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// Provider yields a stable raw identifier for the current device.
type Provider interface {
	DeviceID(ctx context.Context) (string, error)
}

// ErrNoDeviceID means a provider has nothing to offer on this platform.
var ErrNoDeviceID = errors.New("device id not available")

// MachineID reads the OS machine id from the first readable file.
type MachineID struct {
	Paths []string
}

// NewMachineID uses the systemd and dbus locations.
func NewMachineID() MachineID {
	return MachineID{Paths: []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}}
}

func (m MachineID) DeviceID(context.Context) (string, error) {
	for _, p := range m.Paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	}
	return "", ErrNoDeviceID
}

// FileUUID generates a random identifier once and keeps it in a local file.
type FileUUID struct {
	Path string
}

func (f FileUUID) DeviceID(context.Context) (string, error) {
	if b, err := os.ReadFile(f.Path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return "", fmt.Errorf("create device id dir: %w", err)
	}
	if err := os.WriteFile(f.Path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// Chain returns the first identifier any provider yields.
type Chain []Provider

func (c Chain) DeviceID(ctx context.Context) (string, error) {
	for _, p := range c {
		id, err := p.DeviceID(ctx)
		if err == nil && id != "" {
			return id, nil
		}
	}
	return "", ErrNoDeviceID
}

// DefaultProvider prefers the machine id and falls back to a persisted UUID
// under dir.
func DefaultProvider(dir string) Provider {
	return Chain{NewMachineID(), FileUUID{Path: filepath.Join(dir, "device-id")}}
}

// LocalFingerprint fingerprints the current device with p.
func LocalFingerprint(ctx context.Context, p Provider) (string, error) {
	id, err := p.DeviceID(ctx)
	if err != nil {
		return "", err
	}
	return Fingerprint(id), nil
}
