package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"smartattendance/internal/app"
	"smartattendance/internal/config"
	"smartattendance/internal/notify"
)

// Worker sweeps overdue sessions on a schedule and logs lifecycle events.
// It backs up the API process timers, which die with it.
func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("worker init failed: %v", err)
	}
	defer a.Close()
	if cfg.StateBackend == "memory" {
		log.Println("warning: memory state is private to this process; the sweep sees nothing the api writes")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweep(ctx, a, cfg.ReconcileEvery) })
	g.Go(func() error { return logEvents(ctx, a.Bus) })

	log.Printf("worker started, reconciling every %s", cfg.ReconcileEvery)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("worker failed: %v", err)
	}
	log.Println("worker stopped")
}

func sweep(ctx context.Context, a *app.App, every time.Duration) error {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(every).StartImmediately().Do(func() {
		runCtx, cancel := context.WithTimeout(ctx, every)
		defer cancel()
		n, err := a.Sessions.Reconcile(runCtx)
		if err != nil {
			log.Printf("reconcile: %v", err)
		}
		if n > 0 {
			log.Printf("reconcile closed %d overdue sessions", n)
		}
	})
	if err != nil {
		return err
	}
	s.StartAsync()
	<-ctx.Done()
	s.Stop()
	return nil
}

func logEvents(ctx context.Context, bus notify.Bus) error {
	events, err := bus.Subscribe(ctx, "")
	if err != nil {
		return err
	}
	for evt := range events {
		log.Printf("event %s session=%s reason=%s at=%s", evt.Type, evt.SessionID, evt.Reason, evt.At.Format(time.RFC3339))
	}
	return nil
}
