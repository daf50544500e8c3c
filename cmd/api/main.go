package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"smartattendance/internal/app"
	"smartattendance/internal/config"
	"smartattendance/internal/httpapi"
	"smartattendance/internal/httpmiddleware"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("api failed: %v", err)
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	armed, err := a.Sessions.Resume(ctx)
	if err != nil {
		log.Printf("warning: resume sessions failed: %v", err)
	} else {
		log.Printf("resumed %d session timers", armed)
	}

	deps := httpapi.Deps{
		Store:      a.Store,
		Sessions:   a.Sessions,
		Attendance: a.Attendance,
		Guard:      a.Guard,
		Bus:        a.Bus,
		Limiter:    httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		Auth: httpapi.AuthConfig{
			Issuer:       cfg.JWTIssuer,
			SigningKey:   cfg.JWTSigningKey,
			AssertionKey: cfg.LoginAssertionKey,
			AccessTTL:    cfg.AccessTTL,
			RefreshTTL:   cfg.RefreshTTL,
		},
	}
	if a.FaceService != nil {
		deps.Detector = a.FaceService
		if err := a.FaceService.Health(ctx); err != nil {
			log.Printf("warning: face service not available: %v", err)
		}
	}

	// WriteTimeout stays zero so event streams are not cut off.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("starting server on :%s (state=%s events=%s)", cfg.HTTPPort, cfg.StateBackend, cfg.EventBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}
	log.Println("server exited")
	return nil
}
