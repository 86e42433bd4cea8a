// Package store holds the small amount of durable state the agent keeps:
// a key-value space (credentials, cursors) and append-only log streams
// (the action audit trail).
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned by KV.Get for a missing key.
var ErrNotFound = errors.New("store: not found")

// KV is a durable key-value space. Values are opaque bytes, usually JSON.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// AppendLog is a set of named append-only streams of lines.
type AppendLog interface {
	Append(ctx context.Context, stream string, line []byte) error
	// Lines returns every line of stream in append order.
	Lines(ctx context.Context, stream string) ([][]byte, error)
}

// Backend bundles both views over one storage location.
type Backend interface {
	KV
	AppendLog
	Close() error
}

// Open returns the backend named by kind: "file", "sqlite" or "memory".
func Open(kind, dir, dbPath string) (Backend, error) {
	switch kind {
	case "", "file":
		return OpenFiles(dir)
	case "sqlite":
		return OpenSQLite(dbPath)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", kind)
	}
}

// Memory is an in-process Backend for tests and dry runs.
type Memory struct {
	mu   sync.Mutex
	kv   map[string][]byte
	logs map[string][][]byte
}

func NewMemory() *Memory {
	return &Memory{kv: map[string][]byte{}, logs: map[string][][]byte{}}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *Memory) Append(_ context.Context, stream string, line []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[stream] = append(m.logs[stream], append([]byte(nil), line...))
	return nil
}

func (m *Memory) Lines(_ context.Context, stream string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.logs[stream]
	out := make([][]byte, len(src))
	for i, l := range src {
		out[i] = append([]byte(nil), l...)
	}
	return out, nil
}

// Streams lists the streams that have at least one line.
func (m *Memory) Streams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.logs))
	for s := range m.logs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) Close() error { return nil }
