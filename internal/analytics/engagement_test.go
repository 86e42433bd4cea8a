package analytics

import (
	"testing"
	"time"

	"beacon/internal/audit"
	"beacon/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHourlyActivity(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := func(typ model.ActionType, o audit.Outcome, at time.Time) audit.Record {
		return audit.Record{Outcome: o, Action: model.ScheduledAction{Type: typ}, At: at}
	}
	records := []audit.Record{
		rec(model.ActionTweet, audit.Dispatched, base.Add(5*time.Minute)),
		rec(model.ActionTweet, audit.Dispatched, base.Add(50*time.Minute)),
		rec(model.ActionLike, audit.Dispatched, base.Add(70*time.Minute)),
		rec(model.ActionLike, audit.Failed, base.Add(71*time.Minute)),
		rec(model.ActionReply, audit.Dispatched, base.Add(-3*time.Hour)),
	}

	got := HourlyActivity(records, base)
	keys := SortedBucketKeys(got)
	require.Equal(t, []time.Time{base, base.Add(time.Hour)}, keys)
	assert.Equal(t, map[string]int{"tweet": 2}, got[base])
	assert.Equal(t, map[string]int{"like": 1}, got[base.Add(time.Hour)])
}
