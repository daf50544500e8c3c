// Package notify carries session lifecycle events to interested parties.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const TypeSessionEnded = "session.ended"

// End reasons.
const (
	ReasonManual      = "manual"
	ReasonAutoExpired = "auto-expired"
)

// Event is a lifecycle notification keyed by session id.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Bus is the abstraction over different backends. Subscribe with an empty
// session id receives every event.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context, sessionID string) (<-chan Event, error)
}

// InMemory fans events out to in-process subscribers.
type InMemory struct {
	mu   sync.Mutex
	subs map[chan Event]string
	size int
}

// NewInMemory creates a bus whose subscribers buffer up to size events.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 16
	}
	return &InMemory{subs: make(map[chan Event]string), size: size}
}

// Publish delivers to every matching subscriber without blocking.
func (b *InMemory) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, id := range b.subs {
		if id != "" && id != evt.SessionID {
			continue
		}
		select {
		case ch <- evt:
		default:
			log.Printf("notify: subscriber for %q full, dropping %s", id, evt.Type)
		}
	}
	return nil
}

// Subscribe returns a channel closed when ctx ends.
func (b *InMemory) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	ch := make(chan Event, b.size)
	b.mu.Lock()
	b.subs[ch] = sessionID
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Redis publishes events on "<prefix><sessionID>" channels.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a bus using PUBLISH/PSUBSCRIBE.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "attendance:events:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (b *Redis) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.prefix+evt.SessionID, payload).Err()
}

func (b *Redis) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	var ps *redis.PubSub
	if sessionID == "" {
		ps = b.client.PSubscribe(ctx, b.prefix+"*")
	} else {
		ps = b.client.Subscribe(ctx, b.prefix+sessionID)
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt Event
				if err := json.NewDecoder(strings.NewReader(msg.Payload)).Decode(&evt); err != nil {
					log.Printf("notify: bad payload on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

func (Discard) Subscribe(ctx context.Context, _ string) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
