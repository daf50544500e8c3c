package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"STATE_BACKEND", "SESSION_AUTO_CLOSE", "FACE_MATCH_THRESHOLD", "VERIFY_MAX_ATTEMPTS"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.StateBackend != "memory" || c.SessionAutoClose != 30*time.Minute {
		t.Errorf("defaults = %+v", c)
	}
	if c.FaceMatchThreshold != 0.75 || c.VerifyMaxAttempts != 3 {
		t.Errorf("face defaults = %v %d", c.FaceMatchThreshold, c.VerifyMaxAttempts)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("STATE_BACKEND", "redis")
	t.Setenv("SESSION_AUTO_CLOSE", "5m")
	t.Setenv("FACE_MATCH_THRESHOLD", "0.8")
	t.Setenv("VERIFY_WORKERS", "4")
	t.Setenv("SESSION_GRACE", "soon")

	c := FromEnv()
	if c.StateBackend != "redis" || c.SessionAutoClose != 5*time.Minute {
		t.Errorf("overrides = %+v", c)
	}
	if c.FaceMatchThreshold != 0.8 || c.VerifyWorkers != 4 {
		t.Errorf("face overrides = %v %d", c.FaceMatchThreshold, c.VerifyWorkers)
	}
	if c.SessionGrace != 30*time.Minute {
		t.Errorf("invalid duration should fall back, got %s", c.SessionGrace)
	}
}

func TestValidate(t *testing.T) {
	base := FromEnv()
	tests := []struct {
		name   string
		mutate func(*App)
	}{
		{"state backend", func(a *App) { a.StateBackend = "etcd" }},
		{"event backend", func(a *App) { a.EventBackend = "kafka" }},
		{"extractor", func(a *App) { a.FaceExtractor = "gpu" }},
		{"prod default key", func(a *App) { a.Env = "prod"; a.JWTSigningKey = "dev-signing-secret-change" }},
		{"production default key", func(a *App) {
			a.Env, a.JWTSigningKey, a.LoginAssertionKey = "production", "dev-signing-secret-change", "k"
		}},
		{"prod without assertion key", func(a *App) { a.Env, a.JWTSigningKey, a.LoginAssertionKey = "prod", "s3cret", "" }},
		{"production without assertion key", func(a *App) {
			a.Env, a.JWTSigningKey, a.LoginAssertionKey = "production", "s3cret", ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := base
			a.StateBackend, a.EventBackend, a.FaceExtractor = "memory", "memory", "local"
			tt.mutate(&a)
			if err := a.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidateProduction(t *testing.T) {
	a := FromEnv()
	a.StateBackend, a.EventBackend, a.FaceExtractor = "memory", "memory", "local"
	a.Env, a.JWTSigningKey, a.LoginAssertionKey = "production", "s3cret", "assert-key"
	if !a.Production() {
		t.Fatal("production env not recognised")
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	a.Env = "staging"
	a.LoginAssertionKey = ""
	if a.Production() {
		t.Error("staging treated as production")
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate staging: %v", err)
	}
}
