package store

import (
	"bytes"
	"context"
	"log"
	"sort"
	"sync"
)

// Memory is an in-process Store for dev and tests.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	subsMu sync.Mutex
	subs   map[*memSub]struct{}
}

type memSub struct {
	root string
	ch   chan Change
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string][]byte),
		subs: make(map[*memSub]struct{}),
	}
}

// Get returns a copy of the stored value.
func (m *Memory) Get(ctx context.Context, path string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	v, ok := m.data[path]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

// Set writes value unconditionally.
func (m *Memory) Set(ctx context.Context, path string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := bytes.Clone(value)
	m.mu.Lock()
	m.data[path] = v
	m.mu.Unlock()
	m.publish(Change{Path: path, Value: v})
	return nil
}

// ConditionalSet writes value when the current value equals expected.
func (m *Memory) ConditionalSet(ctx context.Context, path string, expected, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	v := bytes.Clone(value)
	m.mu.Lock()
	cur, ok := m.data[path]
	switch {
	case expected == nil && ok:
		m.mu.Unlock()
		return false, nil
	case expected != nil && (!ok || !bytes.Equal(cur, expected)):
		m.mu.Unlock()
		return false, nil
	}
	m.data[path] = v
	m.mu.Unlock()
	m.publish(Change{Path: path, Value: v})
	return true, nil
}

// Delete removes path.
func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	_, ok := m.data[path]
	delete(m.data, path)
	m.mu.Unlock()
	if ok {
		m.publish(Change{Path: path, Deleted: true})
	}
	return nil
}

// Children lists direct children of path in path order.
func (m *Memory) Children(ctx context.Context, path string) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []Node
	for p, v := range m.data {
		if isDirectChild(path, p) {
			out = append(out, Node{Path: p, Value: bytes.Clone(v)})
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Subscribe streams changes under path until ctx is done.
func (m *Memory) Subscribe(ctx context.Context, path string) (<-chan Change, error) {
	sub := &memSub{root: path, ch: make(chan Change, 64)}
	m.subsMu.Lock()
	m.subs[sub] = struct{}{}
	m.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subsMu.Lock()
		delete(m.subs, sub)
		close(sub.ch)
		m.subsMu.Unlock()
	}()
	return sub.ch, nil
}

func (m *Memory) publish(c Change) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for sub := range m.subs {
		if !covers(sub.root, c.Path) {
			continue
		}
		select {
		case sub.ch <- c:
		default:
			log.Printf("store: subscriber on %q is slow, dropping change for %s", sub.root, c.Path)
		}
	}
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() error { return nil }
