// Package schedule turns a batch of proposed actions into immediate or
// delayed dispatches and records every outcome.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"beacon/internal/audit"
	"beacon/internal/clock"
	"beacon/internal/event"
	"beacon/internal/executor"
	"beacon/internal/logging"
	"beacon/internal/metrics"
	"beacon/internal/model"

	"github.com/google/uuid"
)

// ErrClosed is returned by ScheduleActions after Close.
var ErrClosed = errors.New("scheduler closed")

// Executor performs one action.
type Executor interface {
	Execute(ctx context.Context, a model.ScheduledAction) executor.Result
}

// Pending is an action waiting in the delay queue.
type Pending struct {
	Action model.ScheduledAction
	DueAt  time.Time
}

type entry struct {
	Pending
	timer clock.Timer
}

// Scheduler owns every deferred dispatch. Pending actions can be listed
// and cancelled until their timer fires.
type Scheduler struct {
	clock clock.Clock
	exec  Executor
	audit *audit.Log

	// base is the context deferred dispatches run under.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*entry
	closed  bool
	wg      sync.WaitGroup

	Scheduled  event.Registry[Pending]
	Cancelled  event.Registry[Pending]
	Dispatched event.Registry[audit.Record]
}

func New(clk clock.Clock, exec Executor, log *audit.Log) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:   clk,
		exec:    exec,
		audit:   log,
		base:    base,
		cancel:  cancel,
		pending: make(map[string]*entry),
	}
}

// ScheduleActions dispatches every action whose intended time is not in
// the future before returning, and queues the rest. The delay is clamped
// at zero: a past-due action runs now. Actions without an id, or whose id
// is already used in this batch or pending, get a fresh one.
// It returns the action ids in batch order.
func (s *Scheduler) ScheduleActions(ctx context.Context, batch model.ActionBatch) ([]string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	ids := make([]string, 0, len(batch.Actions))
	seen := make(map[string]bool, len(batch.Actions))
	for _, a := range batch.Actions {
		if a.ID == "" || seen[a.ID] || s.isPending(a.ID) {
			if a.ID != "" {
				logging.Warn("action_id_reassigned", map[string]any{"action_id": a.ID, "type": a.Type})
			}
			a.ID = uuid.NewString()
		}
		seen[a.ID] = true
		ids = append(ids, a.ID)
		now := s.clock.Now()
		delay := time.Duration(0)
		if !a.IntendedPostTime.IsZero() {
			delay = max(0, a.IntendedPostTime.Sub(now))
		}
		if delay == 0 {
			s.dispatch(ctx, a)
			continue
		}
		id, err := s.enqueue(a, now.Add(delay), delay)
		if err != nil {
			return ids, err
		}
		ids[len(ids)-1] = id
	}
	return ids, nil
}

func (s *Scheduler) isPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// enqueue registers a timer for a and returns the id it is pending under.
// An id taken by a concurrent batch is replaced.
func (s *Scheduler) enqueue(a model.ScheduledAction, due time.Time, delay time.Duration) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if _, dup := s.pending[a.ID]; dup {
		a.ID = uuid.NewString()
	}
	id := a.ID
	e := &entry{Pending: Pending{Action: a, DueAt: due}}
	// registered under the lock so fire cannot observe a missing entry
	e.timer = s.clock.AfterFunc(delay, func() { s.fire(id) })
	s.pending[id] = e
	metrics.PendingActions.Set(float64(len(s.pending)))
	s.mu.Unlock()

	logging.Info("action_scheduled", map[string]any{"action_id": id, "type": a.Type, "due_at": due, "delay_ms": delay.Milliseconds()})
	s.Scheduled.Emit(e.Pending)
	return id, nil
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	e, ok := s.pending[id]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	metrics.PendingActions.Set(float64(len(s.pending)))
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	s.dispatch(s.base, e.Action)
}

// dispatch executes a and appends exactly one audit record for it.
func (s *Scheduler) dispatch(ctx context.Context, a model.ScheduledAction) {
	rec := audit.Record{ActionID: a.ID, Stream: audit.StreamFor(a.Type), Action: a}
	if !a.Type.Known() {
		rec.Outcome = audit.Unhandled
		rec.Error = fmt.Sprintf("action type %q not handled", a.Type)
		logging.Warn("action_unhandled", map[string]any{"action_id": a.ID, "type": a.Type})
	} else {
		res := s.execute(ctx, a)
		rec.PostedIDs = res.PostedIDs
		if res.Err != nil {
			rec.Outcome = audit.Failed
			rec.Error = res.Err.Error()
		} else {
			rec.Outcome = audit.Dispatched
		}
	}
	rec.At = s.clock.Now()
	if err := s.audit.Append(ctx, rec); err != nil {
		logging.Error("audit_append_failed", map[string]any{"action_id": a.ID, "error": err.Error()})
	}
	metrics.IncDispatch(rec.Stream, string(rec.Outcome))
	s.emitDispatched(rec)
}

func (s *Scheduler) execute(ctx context.Context, a model.ScheduledAction) (res executor.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = executor.Result{Type: a.Type, Err: fmt.Errorf("executor panicked: %v", r)}
		}
	}()
	return s.exec.Execute(ctx, a)
}

func (s *Scheduler) emitDispatched(rec audit.Record) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("dispatch_observer_panicked", map[string]any{"action_id": rec.ActionID, "panic": fmt.Sprint(r)})
		}
	}()
	s.Dispatched.Emit(rec)
}

// Cancel removes a pending action before it fires.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	e, ok := s.pending[id]
	if ok {
		e.timer.Stop()
		delete(s.pending, id)
		metrics.PendingActions.Set(float64(len(s.pending)))
	}
	s.mu.Unlock()
	if ok {
		logging.Info("action_cancelled", map[string]any{"action_id": id})
		s.Cancelled.Emit(e.Pending)
	}
	return ok
}

// Pending lists waiting actions by due time.
func (s *Scheduler) Pending() []Pending {
	s.mu.Lock()
	out := make([]Pending, 0, len(s.pending))
	for _, e := range s.pending {
		out = append(out, e.Pending)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].Action.ID < out[j].Action.ID
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out
}

// Close stops every pending timer, waits for dispatches already running,
// and rejects further scheduling. Dropped actions are logged.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dropped := make([]string, 0, len(s.pending))
	for id, e := range s.pending {
		e.timer.Stop()
		dropped = append(dropped, id)
	}
	s.pending = make(map[string]*entry)
	metrics.PendingActions.Set(0)
	s.mu.Unlock()
	if len(dropped) > 0 {
		sort.Strings(dropped)
		logging.Warn("scheduler_closed_with_pending", map[string]any{"dropped": dropped})
	}
	s.wg.Wait()
	s.cancel()
}
