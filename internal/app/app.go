// Package app assembles the attendance core from configuration. The api,
// worker and attendctl binaries share it.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"smartattendance/internal/attendance"
	"smartattendance/internal/cloudinary"
	"smartattendance/internal/config"
	"smartattendance/internal/device"
	"smartattendance/internal/face"
	"smartattendance/internal/faceclient"
	"smartattendance/internal/notify"
	"smartattendance/internal/session"
	"smartattendance/internal/store"
)

// App is the wired core.
type App struct {
	Config     config.App
	Store      store.Store
	Bus        notify.Bus
	Sessions   *session.Manager
	Attendance *attendance.Service
	Guard      *device.Guard
	// FaceService is set when FACE_EXTRACTOR=remote.
	FaceService *faceclient.Client

	redis *redis.Client
}

// New opens the configured backends and builds every component.
func New(ctx context.Context, cfg config.App) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg}

	st, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = st

	switch cfg.EventBackend {
	case "redis":
		a.Bus = notify.NewRedis(a.redisClient(), cfg.StatePrefix+"events:")
	default:
		a.Bus = notify.NewInMemory(64)
	}

	a.Sessions = session.NewManager(a.Store, a.Bus, session.WithConfig(session.Config{
		AutoClose: cfg.SessionAutoClose,
		Length:    cfg.SessionLength,
		Grace:     cfg.SessionGrace,
	}))
	a.Guard = device.NewGuard(a.Store)

	var ext face.Extractor
	if cfg.FaceExtractor == "remote" {
		a.FaceService = faceclient.New(cfg.FaceServiceURL, 10*time.Second)
		ext = a.FaceService
	}
	gate := face.NewGate(face.Thresholds{
		MinArea:    cfg.FaceMinArea,
		MaxYaw:     cfg.FaceMaxYaw,
		MaxRoll:    cfg.FaceMaxRoll,
		MinEyeOpen: cfg.FaceMinEyeOpen,
	})
	pipe := face.NewPipeline(gate, ext, face.NewVerifier(cfg.FaceMatchThreshold), face.NewPool(cfg.VerifyWorkers))

	opts := []attendance.ServiceOption{attendance.WithMaxAttempts(cfg.VerifyMaxAttempts)}
	if cfg.CloudinaryEnabled() {
		opts = append(opts, attendance.WithArchiver(cloudinary.New(
			cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)))
		log.Printf("cloudinary archiving enabled for %s", cfg.CloudinaryCloudName)
	}
	a.Attendance = attendance.NewService(attendance.NewRepository(a.Store), a.Sessions, pipe, opts...)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	switch a.Config.StateBackend {
	case "redis":
		st := store.NewRedis(a.redisClient(), a.Config.StatePrefix)
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			a.redis = nil
			return nil, fmt.Errorf("redis %s: %w", a.Config.RedisAddr, err)
		}
		return st, nil
	case "postgres":
		db, err := store.NewDB(a.Config.DatabaseURL)
		if err != nil {
			if db != nil {
				_ = db.Close()
			}
			return nil, fmt.Errorf("postgres: %w", err)
		}
		st := store.NewPostgres(db)
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	default:
		log.Printf("using in-memory state; nothing survives a restart")
		return store.NewMemory(), nil
	}
}

// redisClient is shared by the store and the bus.
func (a *App) redisClient() *redis.Client {
	if a.redis == nil {
		a.redis = store.NewRedisClient(a.Config.RedisAddr)
	}
	return a.redis
}

// Close stops timers and releases backends.
func (a *App) Close() {
	if a.Sessions != nil {
		a.Sessions.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}
	// the redis store closes the shared client itself
	if a.redis != nil && a.Config.StateBackend != "redis" {
		_ = a.redis.Close()
	}
}
