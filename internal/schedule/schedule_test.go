package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"beacon/internal/audit"
	"beacon/internal/clock"
	"beacon/internal/executor"
	"beacon/internal/model"
	"beacon/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	action model.ScheduledAction
	at     time.Time
}

type fakeExec struct {
	clock clock.Clock
	mu    sync.Mutex
	calls []execCall
	fail  map[string]error
}

func (f *fakeExec) Execute(_ context.Context, a model.ScheduledAction) executor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, execCall{action: a, at: f.clock.Now()})
	return executor.Result{Type: a.Type, Err: f.fail[a.ID]}
}

func (f *fakeExec) snapshot() []execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execCall(nil), f.calls...)
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setup() (*Scheduler, *clock.Fake, *fakeExec, *audit.Log) {
	clk := clock.NewFake(t0)
	ex := &fakeExec{clock: clk, fail: map[string]error{}}
	log := audit.New(store.NewMemory())
	return New(clk, ex, log), clk, ex, log
}

func act(id string, typ model.ActionType, at time.Time) model.ScheduledAction {
	return model.ScheduledAction{ID: id, Type: typ, Text: "text " + id, TweetID: "1", IntendedPostTime: model.At(at)}
}

func TestPastDueActionRunsImmediatelyNotAfterAbsDelay(t *testing.T) {
	s, _, ex, _ := setup()
	_, err := s.ScheduleActions(context.Background(), model.ActionBatch{Actions: []model.ScheduledAction{
		act("past", model.ActionTweet, t0.Add(-10*time.Second)),
	}})
	require.NoError(t, err)

	calls := ex.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, t0, calls[0].at)
	assert.Empty(t, s.Pending())
}

func TestFutureActionWaitsForItsDelay(t *testing.T) {
	s, clk, ex, _ := setup()
	var scheduled []Pending
	s.Scheduled.Subscribe(func(p Pending) { scheduled = append(scheduled, p) })

	_, err := s.ScheduleActions(context.Background(), model.ActionBatch{Actions: []model.ScheduledAction{
		act("future", model.ActionLike, t0.Add(10*time.Second)),
	}})
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, t0.Add(10*time.Second), scheduled[0].DueAt)

	clk.Advance(9999 * time.Millisecond)
	assert.Empty(t, ex.snapshot())

	clk.Advance(time.Millisecond)
	calls := ex.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, t0.Add(10*time.Second), calls[0].at)
}

func TestMissingIntendedTimeRunsNowAndIDsAreAssigned(t *testing.T) {
	s, _, ex, _ := setup()
	ids, err := s.ScheduleActions(context.Background(), model.ActionBatch{Actions: []model.ScheduledAction{
		{Type: model.ActionTweet, Text: "gm"},
	}})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotEmpty(t, ids[0])
	require.Len(t, ex.snapshot(), 1)
	assert.Equal(t, ids[0], ex.snapshot()[0].action.ID)
}

func TestEndToEndWithSimulatedClock(t *testing.T) {
	s, clk, ex, log := setup()
	ctx := context.Background()
	var dispatched []audit.Record
	s.Dispatched.Subscribe(func(r audit.Record) { dispatched = append(dispatched, r) })

	_, err := s.ScheduleActions(ctx, model.ActionBatch{Actions: []model.ScheduledAction{
		act("a", model.ActionTweet, t0.Add(-1000*time.Millisecond)),
		act("b", model.ActionReply, t0.Add(500*time.Millisecond)),
		act("c", model.ActionRetweet, t0.Add(2000*time.Millisecond)),
	}})
	require.NoError(t, err)

	// first action ran in the same synchronous pass
	require.Len(t, ex.snapshot(), 1)
	assert.Equal(t, "a", ex.snapshot()[0].action.ID)
	assert.Len(t, s.Pending(), 2)

	clk.Advance(2500 * time.Millisecond)

	calls := ex.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{calls[0].action.ID, calls[1].action.ID, calls[2].action.ID})
	assert.Equal(t, t0, calls[0].at)
	assert.False(t, calls[1].at.Before(t0.Add(500*time.Millisecond)))
	assert.False(t, calls[2].at.Before(t0.Add(2000*time.Millisecond)))
	assert.Empty(t, s.Pending())
	assert.Len(t, dispatched, 3)

	for _, id := range []string{"a", "b", "c"} {
		recs, err := log.ByAction(ctx, id)
		require.NoError(t, err)
		require.Len(t, recs, 1, id)
		assert.Equal(t, audit.Dispatched, recs[0].Outcome)
	}
}

func TestFailuresAndUnhandledAreAuditedAndBatchContinues(t *testing.T) {
	s, _, ex, log := setup()
	ctx := context.Background()
	ex.fail["bad"] = errors.New("403 forbidden")

	_, err := s.ScheduleActions(ctx, model.ActionBatch{Actions: []model.ScheduledAction{
		act("bad", model.ActionFollow, t0),
		act("odd", "quote", t0),
		act("good", model.ActionTweet, t0),
	}})
	require.NoError(t, err)

	calls := ex.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "good", calls[1].action.ID)

	failed, err := log.Records(ctx, "follow")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, audit.Failed, failed[0].Outcome)
	assert.Equal(t, "403 forbidden", failed[0].Error)

	unhandled, err := log.Records(ctx, audit.UnhandledStream)
	require.NoError(t, err)
	require.Len(t, unhandled, 1)
	assert.Equal(t, "odd", unhandled[0].ActionID)
}

func TestDuplicateIDsAreReassignedAndBatchContinues(t *testing.T) {
	s, clk, ex, log := setup()
	ctx := context.Background()

	ids, err := s.ScheduleActions(ctx, model.ActionBatch{Actions: []model.ScheduledAction{
		act("1", model.ActionTweet, t0.Add(time.Minute)),
		act("1", model.ActionLike, t0.Add(2*time.Minute)),
		act("2", model.ActionTweet, t0.Add(-time.Second)),
	}})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, "1", ids[0])
	assert.NotEqual(t, "1", ids[1])
	assert.Equal(t, "2", ids[2])

	calls := ex.snapshot()
	require.Len(t, calls, 1, "past-due action runs during scheduling")
	assert.Equal(t, "2", calls[0].action.ID)

	later, err := s.ScheduleActions(ctx, model.ActionBatch{Actions: []model.ScheduledAction{
		act("1", model.ActionReply, t0.Add(3*time.Minute)),
	}})
	require.NoError(t, err)
	assert.NotEqual(t, "1", later[0])
	assert.Len(t, s.Pending(), 3)

	clk.Advance(5 * time.Minute)
	assert.Len(t, ex.snapshot(), 4)
	for _, id := range append(ids, later...) {
		recs, err := log.ByAction(ctx, id)
		require.NoError(t, err)
		assert.Len(t, recs, 1, "action %s", id)
	}
}

type panicExec struct{}

func (panicExec) Execute(context.Context, model.ScheduledAction) executor.Result { panic("boom") }

func TestPanickingExecutorIsIsolated(t *testing.T) {
	clk := clock.NewFake(t0)
	log := audit.New(store.NewMemory())
	s := New(clk, panicExec{}, log)
	_, err := s.ScheduleActions(context.Background(), model.ActionBatch{Actions: []model.ScheduledAction{
		act("x", model.ActionTweet, t0.Add(time.Second)),
	}})
	require.NoError(t, err)
	assert.NotPanics(t, func() { clk.Advance(time.Second) })

	recs, err := log.Records(context.Background(), "tweet")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, audit.Failed, recs[0].Outcome)
	assert.Contains(t, recs[0].Error, "panicked")
}

func TestCancelAndPendingOrder(t *testing.T) {
	s, clk, ex, _ := setup()
	var cancelled []string
	s.Cancelled.Subscribe(func(p Pending) { cancelled = append(cancelled, p.Action.ID) })

	_, err := s.ScheduleActions(context.Background(), model.ActionBatch{Actions: []model.ScheduledAction{
		act("late", model.ActionTweet, t0.Add(3*time.Second)),
		act("early", model.ActionTweet, t0.Add(time.Second)),
	}})
	require.NoError(t, err)

	p := s.Pending()
	require.Len(t, p, 2)
	assert.Equal(t, "early", p[0].Action.ID)
	assert.Equal(t, "late", p[1].Action.ID)

	assert.True(t, s.Cancel("late"))
	assert.False(t, s.Cancel("late"))
	assert.Equal(t, []string{"late"}, cancelled)

	clk.Advance(5 * time.Second)
	calls := ex.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "early", calls[0].action.ID)
}

func TestCloseDropsPendingAndRejectsNewWork(t *testing.T) {
	s, clk, ex, _ := setup()
	_, err := s.ScheduleActions(context.Background(), model.ActionBatch{Actions: []model.ScheduledAction{
		act("later", model.ActionTweet, t0.Add(time.Minute)),
	}})
	require.NoError(t, err)

	s.Close()
	clk.Advance(2 * time.Minute)
	assert.Empty(t, ex.snapshot())
	assert.Empty(t, s.Pending())

	_, err = s.ScheduleActions(context.Background(), model.ActionBatch{Actions: []model.ScheduledAction{act("x", model.ActionTweet, t0)}})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRealClockFiresDeferredDispatch(t *testing.T) {
	ex := &fakeExec{clock: clock.Real{}, fail: map[string]error{}}
	s := New(clock.Real{}, ex, audit.New(store.NewMemory()))
	defer s.Close()

	start := time.Now()
	_, err := s.ScheduleActions(context.Background(), model.ActionBatch{Actions: []model.ScheduledAction{
		act("soon", model.ActionTweet, start.Add(50*time.Millisecond)),
	}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(ex.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, ex.snapshot()[0].at.Sub(start), 40*time.Millisecond)
}
