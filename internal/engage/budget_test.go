package engage

import (
	"context"
	"testing"
	"time"

	"beacon/internal/audit"
	"beacon/internal/config"
	"beacon/internal/model"
	"beacon/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tweets(n int) []model.ScheduledAction {
	out := make([]model.ScheduledAction, n)
	for i := range out {
		out[i] = model.ScheduledAction{Type: model.ActionTweet, Text: "post"}
	}
	return out
}

func TestFilterRespectsHourlyAndDailyBudgets(t *testing.T) {
	ctx := context.Background()
	log := audit.New(store.NewMemory())
	now := time.Date(2025, 1, 1, 12, 30, 0, 0, time.UTC)
	for _, at := range []time.Time{now.Add(-10 * time.Minute), now.Add(-2 * time.Hour)} {
		require.NoError(t, log.Append(ctx, audit.Record{Outcome: audit.Dispatched, Action: model.ScheduledAction{Type: model.ActionTweet}, At: at}))
	}
	require.NoError(t, log.Append(ctx, audit.Record{Outcome: audit.Failed, Action: model.ScheduledAction{Type: model.ActionTweet}, At: now}))

	g := NewGate(log, map[string]config.Budget{"tweet": {MaxPerHour: 2, MaxPerDay: 3}})
	batch := model.ActionBatch{Why: "busy", Actions: append(tweets(3), model.ScheduledAction{Type: model.ActionLike, TweetID: "1"})}

	kept, dropped, err := g.Filter(ctx, batch, nil, now)
	require.NoError(t, err)
	assert.Equal(t, "busy", kept.Why)
	require.Len(t, kept.Actions, 2)
	assert.Equal(t, model.ActionTweet, kept.Actions[0].Type)
	assert.Equal(t, model.ActionLike, kept.Actions[1].Type)
	assert.Len(t, dropped, 2)
}

func TestFilterCountsInflight(t *testing.T) {
	g := NewGate(audit.New(store.NewMemory()), map[string]config.Budget{"tweet": {MaxPerHour: 1}})
	kept, dropped, err := g.Filter(context.Background(), model.ActionBatch{Actions: tweets(1)}, tweets(1), time.Now())
	require.NoError(t, err)
	assert.Empty(t, kept.Actions)
	assert.Len(t, dropped, 1)
}

func TestFilterWithoutBudgetsKeepsEverything(t *testing.T) {
	g := NewGate(audit.New(store.NewMemory()), nil)
	batch := model.ActionBatch{Actions: tweets(5)}
	kept, dropped, err := g.Filter(context.Background(), batch, nil, time.Now())
	require.NoError(t, err)
	assert.Len(t, kept.Actions, 5)
	assert.Empty(t, dropped)
}
