//go:build integration

package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisBus(t *testing.T) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer client.Close()

	bus := NewRedis(client, "test:events:")
	subCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	one, err := bus.Subscribe(subCtx, "s1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	all, err := bus.Subscribe(subCtx, "")
	if err != nil {
		t.Fatalf("Subscribe all: %v", err)
	}

	for _, id := range []string{"s2", "s1"} {
		if err := bus.Publish(ctx, Event{Type: TypeSessionEnded, SessionID: id, Reason: ReasonManual}); err != nil {
			t.Fatalf("Publish %s: %v", id, err)
		}
	}

	got := <-one
	if got.SessionID != "s1" || got.Reason != ReasonManual {
		t.Errorf("filtered subscriber got %+v", got)
	}
	for _, want := range []string{"s2", "s1"} {
		if evt := <-all; evt.SessionID != want {
			t.Errorf("wildcard subscriber got %s, want %s", evt.SessionID, want)
		}
	}
}
