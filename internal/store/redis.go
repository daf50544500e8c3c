package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"smartattendance/internal/apperr"
)

// NewRedisClient connects to redis with short timeouts.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
}

// casScript sets KEYS[1] to ARGV[3] when the current value matches. ARGV[1]
// is "0" for create-if-absent and "1" for compare-with ARGV[2]. The change is
// published in the same script so subscribers never miss a landed write.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '0' then
	if cur then return 0 end
else
	if (not cur) or cur ~= ARGV[2] then return 0 end
end
redis.call('SET', KEYS[1], ARGV[3])
redis.call('PUBLISH', KEYS[2], ARGV[4])
return 1
`)

// Redis stores nodes as plain keys "<prefix>node:<path>" and publishes every
// change on "<prefix>changes:<path>".
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client. prefix namespaces all keys.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "attendance:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(path string) string     { return r.prefix + "node:" + path }
func (r *Redis) channel(path string) string { return r.prefix + "changes:" + path }

func (r *Redis) pathOf(key string) string { return strings.TrimPrefix(key, r.prefix+"node:") }

func (r *Redis) Get(ctx context.Context, path string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Unavailable(err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, path string, value []byte) error {
	payload, err := json.Marshal(Change{Path: path, Value: value})
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key(path), value, 0)
		p.Publish(ctx, r.channel(path), payload)
		return nil
	})
	if err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

func (r *Redis) ConditionalSet(ctx context.Context, path string, expected, value []byte) (bool, error) {
	payload, err := json.Marshal(Change{Path: path, Value: value})
	if err != nil {
		return false, err
	}
	mode := "1"
	if expected == nil {
		mode = "0"
	}
	n, err := casScript.Run(ctx, r.client,
		[]string{r.key(path), r.channel(path)},
		mode, expected, value, payload,
	).Int()
	if err != nil {
		return false, apperr.Unavailable(err)
	}
	return n == 1, nil
}

func (r *Redis) Delete(ctx context.Context, path string) error {
	payload, err := json.Marshal(Change{Path: path, Deleted: true})
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.key(path))
		p.Publish(ctx, r.channel(path), payload)
		return nil
	})
	if err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

// Children scans for keys below path and keeps the direct children.
func (r *Redis) Children(ctx context.Context, path string) ([]Node, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, escapeGlob(r.key(path))+"/*", 200).Iterator()
	for iter.Next(ctx) {
		if isDirectChild(path, r.pathOf(iter.Val())) {
			keys = append(keys, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		return nil, apperr.Unavailable(err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	out := make([]Node, 0, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// deleted between SCAN and MGET
			continue
		}
		out = append(out, Node{Path: r.pathOf(keys[i]), Value: []byte(s)})
	}
	return out, nil
}

// Subscribe listens on the path channel and its descendants.
func (r *Redis) Subscribe(ctx context.Context, path string) (<-chan Change, error) {
	ps := r.client.PSubscribe(ctx, escapeGlob(r.channel(path)), escapeGlob(r.channel(path))+"/*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, apperr.Unavailable(err)
	}
	out := make(chan Change, 64)
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
				var c Change
				if err := json.NewDecoder(strings.NewReader(msg.Payload)).Decode(&c); err != nil {
					log.Printf("store: bad change payload on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }

func escapeGlob(s string) string {
	var b bytes.Buffer
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

var (
	_ Store = (*Redis)(nil)
	_ Store = (*Memory)(nil)
)
