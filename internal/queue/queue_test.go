package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"beacon/internal/clock"
	"beacon/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func batch(why string) model.ActionBatch { return model.ActionBatch{Why: why} }

func TestDrainsInDueOrderRegardlessOfInsertion(t *testing.T) {
	clk := clock.NewFake(t0)
	q := New(clk)
	var got []string
	q.Ready.Subscribe(func(_ context.Context, th Thought) error {
		got = append(got, th.Batch.Why)
		return nil
	})

	q.AddThought(batch("t+500"), t0.Add(500*time.Millisecond))
	q.AddThought(batch("t+100"), t0.Add(100*time.Millisecond))
	q.AddThought(batch("t+900"), t0.Add(900*time.Millisecond))

	due, ok := q.NextDue()
	require.True(t, ok)
	assert.Equal(t, t0.Add(100*time.Millisecond), due)

	for i := 0; i < 10; i++ {
		clk.Advance(100 * time.Millisecond)
		q.Tick(context.Background())
	}
	assert.Equal(t, []string{"t+100", "t+500", "t+900"}, got)
	assert.Zero(t, q.Len())
}

func TestEqualDueTimesKeepInsertionOrder(t *testing.T) {
	q := New(clock.NewFake(t0))
	q.AddThought(batch("first"), t0)
	q.AddThought(batch("second"), t0)
	q.AddThought(batch("zeroth"), t0.Add(-time.Second))
	up := q.Upcoming()
	require.Len(t, up, 3)
	assert.Equal(t, []string{"zeroth", "first", "second"}, []string{up[0].Batch.Why, up[1].Batch.Why, up[2].Batch.Why})
}

func TestNotDueHeadIsLeftAlone(t *testing.T) {
	q := New(clock.NewFake(t0))
	calls := 0
	q.Ready.Subscribe(func(context.Context, Thought) error { calls++; return nil })
	q.AddThought(batch("later"), t0.Add(time.Minute))
	assert.False(t, q.Tick(context.Background()))
	assert.Zero(t, calls)
	assert.Equal(t, 1, q.Len())
}

func TestBacklogDrainsOnePerTick(t *testing.T) {
	clk := clock.NewFake(t0)
	q := New(clk)
	processed := 0
	q.Processed.Subscribe(func(Thought) { processed++ })
	for i := 0; i < 3; i++ {
		q.AddThought(batch("overdue"), t0.Add(-time.Minute))
	}
	assert.True(t, q.Tick(context.Background()))
	assert.Equal(t, 1, processed)
	assert.Equal(t, 2, q.Len())
}

func TestSingleFlightTick(t *testing.T) {
	clk := clock.NewFake(t0)
	q := New(clk)
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var handled []string
	q.Ready.Subscribe(func(_ context.Context, th Thought) error {
		mu.Lock()
		handled = append(handled, th.Batch.Why)
		mu.Unlock()
		if th.Batch.Why == "slow" {
			close(entered)
			<-release
		}
		return nil
	})
	q.AddThought(batch("slow"), t0.Add(-2*time.Second))
	q.AddThought(batch("next"), t0.Add(-time.Second))

	done := make(chan bool)
	go func() { done <- q.Tick(context.Background()) }()
	<-entered

	assert.False(t, q.Tick(context.Background()))
	assert.Equal(t, 1, q.Len())

	close(release)
	assert.True(t, <-done)
	mu.Lock()
	assert.Equal(t, []string{"slow"}, handled)
	mu.Unlock()

	assert.True(t, q.Tick(context.Background()))
	assert.Zero(t, q.Len())
}

func TestHandlerErrorEmitsFailureAndClearsGuard(t *testing.T) {
	q := New(clock.NewFake(t0))
	var failures []Failure
	q.Failed.Subscribe(func(f Failure) { failures = append(failures, f) })
	q.Ready.Subscribe(func(context.Context, Thought) error { return errors.New("malformed") })
	q.Ready.Subscribe(func(context.Context, Thought) error { panic("worse") })

	q.AddThought(batch("a"), t0)
	q.AddThought(batch("b"), t0)
	assert.True(t, q.Tick(context.Background()))
	assert.True(t, q.Tick(context.Background()))

	require.Len(t, failures, 2)
	assert.ErrorContains(t, failures[0].Err, "malformed")
	assert.ErrorContains(t, failures[0].Err, "panicked")
}

func TestRemoveThought(t *testing.T) {
	q := New(clock.NewFake(t0))
	var added []string
	q.Added.Subscribe(func(th Thought) { added = append(added, th.ID) })
	id := q.AddThought(batch("x"), t0)
	assert.Equal(t, []string{id}, added)
	assert.Contains(t, id, "thought-")
	assert.True(t, q.RemoveThought(id))
	assert.False(t, q.RemoveThought(id))
	_, ok := q.NextDue()
	assert.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	q := New(nil)
	processed := make(chan string, 1)
	q.Ready.Subscribe(func(_ context.Context, th Thought) error {
		processed <- th.ID
		return nil
	})
	id := q.AddThought(batch("now"), time.Now().Add(-time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- q.Run(ctx, 10*time.Millisecond) }()

	select {
	case got := <-processed:
		assert.Equal(t, id, got)
	case <-time.After(2 * time.Second):
		t.Fatal("thought was not processed")
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
