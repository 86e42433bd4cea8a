// Package engage keeps the agent inside per-type action budgets.
package engage

import (
	"context"
	"time"

	"beacon/internal/audit"
	"beacon/internal/config"
	"beacon/internal/logging"
	"beacon/internal/model"
)

// History reads dispatched actions back.
type History interface {
	Records(ctx context.Context, stream string) ([]audit.Record, error)
}

// Gate drops proposed actions that would exceed an hourly or daily budget.
// Windows are calendar hours and days in UTC.
type Gate struct {
	history History
	budgets map[string]config.Budget
}

func NewGate(history History, budgets map[string]config.Budget) *Gate {
	return &Gate{history: history, budgets: budgets}
}

type usage struct{ hour, day int }

// Filter splits batch into the actions that fit the budgets at now and the
// ones that were dropped. inflight are actions already scheduled but not yet
// dispatched; they count against the budget.
func (g *Gate) Filter(ctx context.Context, batch model.ActionBatch, inflight []model.ScheduledAction, now time.Time) (model.ActionBatch, []model.ScheduledAction, error) {
	if len(g.budgets) == 0 {
		return batch, nil, nil
	}
	now = now.UTC()
	startHour := now.Truncate(time.Hour)
	startDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	used := make(map[model.ActionType]*usage)
	count := func(typ model.ActionType) (*usage, error) {
		if u, ok := used[typ]; ok {
			return u, nil
		}
		u := &usage{}
		recs, err := g.history.Records(ctx, audit.StreamFor(typ))
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.Outcome != audit.Dispatched || r.At.Before(startDay) {
				continue
			}
			u.day++
			if !r.At.Before(startHour) {
				u.hour++
			}
		}
		for _, a := range inflight {
			if a.Type == typ {
				u.hour++
				u.day++
			}
		}
		used[typ] = u
		return u, nil
	}

	kept := batch
	kept.Actions = make([]model.ScheduledAction, 0, len(batch.Actions))
	var dropped []model.ScheduledAction
	for _, a := range batch.Actions {
		b, ok := g.budgets[string(a.Type)]
		if !ok {
			kept.Actions = append(kept.Actions, a)
			continue
		}
		u, err := count(a.Type)
		if err != nil {
			return batch, nil, err
		}
		if (b.MaxPerHour > 0 && u.hour >= b.MaxPerHour) || (b.MaxPerDay > 0 && u.day >= b.MaxPerDay) {
			dropped = append(dropped, a)
			continue
		}
		u.hour++
		u.day++
		kept.Actions = append(kept.Actions, a)
	}
	if len(dropped) > 0 {
		logging.Info("budget_dropped_actions", map[string]any{"dropped": len(dropped), "kept": len(kept.Actions)})
	}
	return kept, dropped, nil
}
