// Package event provides typed callback registries.
package event

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry holds subscribers for one event kind.
type Registry[T any] struct {
	list[func(T)]
}

// list is an ordered set of subscribers of any function type.
type list[F any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]F
}

func (l *list[F]) subscribe(fn F) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs == nil {
		l.subs = make(map[int]F)
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *list[F]) snapshot() []F {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]int, 0, len(l.subs))
	for id := range l.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]F, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.subs[id])
	}
	return fns
}

// Subscribe registers fn and returns a function that removes it.
func (r *Registry[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	return r.subscribe(fn)
}

// Emit calls every subscriber in subscription order. Subscribers run on the
// caller's goroutine; the registry lock is not held while they run.
func (r *Registry[T]) Emit(v T) {
	for _, fn := range r.snapshot() {
		fn(v)
	}
}

// Len reports the number of subscribers.
func (l *list[F]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

// Handlers is a registry of consumers that can fail. Dispatch runs each one
// and joins their errors; a panicking handler is reported as an error.
type Handlers[T any] struct {
	reg list[func(context.Context, T) error]
}

// Subscribe registers h and returns a function that removes it.
func (h *Handlers[T]) Subscribe(fn func(context.Context, T) error) (unsubscribe func()) {
	return h.reg.subscribe(fn)
}

// Dispatch calls every handler with v in subscription order.
func (h *Handlers[T]) Dispatch(ctx context.Context, v T) error {
	var errs []error
	for _, fn := range h.reg.snapshot() {
		if err := call(ctx, fn, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handlers[T]) Len() int { return h.reg.Len() }

func call[T any](ctx context.Context, fn func(context.Context, T) error, v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn(ctx, v)
}
