// Package queue holds autonomous thoughts until they are due and hands
// each one to the ready handlers exactly once.
package queue

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"beacon/internal/clock"
	"beacon/internal/event"
	"beacon/internal/logging"
	"beacon/internal/metrics"
	"beacon/internal/model"

	"github.com/google/uuid"
)

// Thought is an action batch waiting for its due time.
type Thought struct {
	ID    string            `json:"id"`
	Batch model.ActionBatch `json:"batch"`
	DueAt time.Time         `json:"dueAt"`
}

// Failure pairs a thought with the error its handlers returned.
type Failure struct {
	Thought Thought
	Err     error
}

// Queue keeps thoughts sorted by due time. Only one tick processes at a
// time, and each tick processes at most one thought.
type Queue struct {
	clock clock.Clock

	mu    sync.Mutex
	items []Thought

	processing atomic.Bool

	// Ready handlers receive each due thought once.
	Ready     event.Handlers[Thought]
	Added     event.Registry[Thought]
	Processed event.Registry[Thought]
	Failed    event.Registry[Failure]
}

func New(clk clock.Clock) *Queue {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Queue{clock: clk}
}

// AddThought inserts batch due at dueAt and returns its id. Thoughts with
// equal due times keep insertion order.
func (q *Queue) AddThought(batch model.ActionBatch, dueAt time.Time) string {
	t := Thought{ID: "thought-" + uuid.NewString(), Batch: batch, DueAt: dueAt}
	q.mu.Lock()
	i := sort.Search(len(q.items), func(i int) bool { return q.items[i].DueAt.After(dueAt) })
	q.items = append(q.items, Thought{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = t
	metrics.QueueDepth.Set(float64(len(q.items)))
	q.mu.Unlock()

	logging.Info("thought_added", map[string]any{"id": t.ID, "due_at": dueAt, "actions": len(batch.Actions)})
	q.Added.Emit(t)
	return t.ID
}

// RemoveThought drops a thought that has not been handed out yet.
func (q *Queue) RemoveThought(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.items {
		if t.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			metrics.QueueDepth.Set(float64(len(q.items)))
			return true
		}
	}
	return false
}

// Upcoming returns a copy of the queue in due order.
func (q *Queue) Upcoming() []Thought {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Thought(nil), q.items...)
}

// NextDue returns the head's due time.
func (q *Queue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].DueAt, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Tick pops the head if it is due and runs the ready handlers on it. It
// returns false without doing anything while another tick is processing.
// A backlog drains one thought per tick.
func (q *Queue) Tick(ctx context.Context) bool {
	if !q.processing.CompareAndSwap(false, true) {
		return false
	}
	defer q.processing.Store(false)

	q.mu.Lock()
	if len(q.items) == 0 || q.items[0].DueAt.After(q.clock.Now()) {
		q.mu.Unlock()
		return false
	}
	t := q.items[0]
	q.items = q.items[1:]
	metrics.QueueDepth.Set(float64(len(q.items)))
	q.mu.Unlock()

	if err := q.Ready.Dispatch(ctx, t); err != nil {
		logging.Error("thought_error", map[string]any{"id": t.ID, "error": err.Error()})
		q.Failed.Emit(Failure{Thought: t, Err: err})
	} else {
		logging.Info("thought_processed", map[string]any{"id": t.ID})
		q.Processed.Emit(t)
	}
	return true
}

// Run ticks every interval until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info("thought_queue_stop", map[string]any{"pending": q.Len()})
			return ctx.Err()
		case <-t.C:
			q.Tick(ctx)
		}
	}
}
