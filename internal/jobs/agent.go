// Package jobs runs the agent's recurring cycles: reading the timeline and
// proposing actions, and queueing autonomous thoughts.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"beacon/internal/ai"
	"beacon/internal/clock"
	"beacon/internal/config"
	"beacon/internal/executor"
	"beacon/internal/logging"
	"beacon/internal/model"
	"beacon/internal/queue"
	"beacon/internal/schedule"
	"beacon/internal/store"
	"beacon/internal/xclient"
)

const mentionsCursorKey = "mentions-since-id"

// Planner proposes action batches from context.
type Planner interface {
	ProposeActions(ctx context.Context, sc ai.SocialContext) (model.ActionBatch, error)
	Think(ctx context.Context, sc ai.SocialContext) (model.ActionBatch, error)
}

// Feeds supplies news, trends and tokens. Lookups never fail; a source
// that is down yields stale or empty data.
type Feeds interface {
	Trends(ctx context.Context) model.Trends
	News(ctx context.Context, category string) []model.NewsItem
	NewestTokens(ctx context.Context) []model.TokenProfile
}

// Scheduler accepts batches for immediate or deferred dispatch.
type Scheduler interface {
	ScheduleActions(ctx context.Context, batch model.ActionBatch) ([]string, error)
	Pending() []schedule.Pending
}

// Budget trims batches that would exceed action limits.
type Budget interface {
	Filter(ctx context.Context, batch model.ActionBatch, inflight []model.ScheduledAction, now time.Time) (model.ActionBatch, []model.ScheduledAction, error)
}

// Deps are the services an Agent drives. Budget and Clock are optional.
type Deps struct {
	Tokens    executor.TokenSource
	API       xclient.SocialAPI
	Planner   Planner
	Feeds     Feeds
	KV        store.KV
	Scheduler Scheduler
	Thoughts  *queue.Queue
	Budget    Budget
	Clock     clock.Clock
}

// Agent wires the cycles to the scheduler and thought queue.
type Agent struct {
	cfg config.Config
	Deps

	mu     sync.Mutex
	selfID string
}

// New builds an Agent and subscribes it to the thought queue, so due
// thoughts are handed to the scheduler.
func New(cfg config.Config, d Deps) *Agent {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	a := &Agent{cfg: cfg, Deps: d, selfID: cfg.Account.UserID}
	if d.Thoughts != nil {
		d.Thoughts.Ready.Subscribe(a.releaseThought)
	}
	return a
}

func (a *Agent) releaseThought(ctx context.Context, t queue.Thought) error {
	_, err := a.schedule(ctx, t.Batch)
	return err
}

func (a *Agent) schedule(ctx context.Context, batch model.ActionBatch) ([]string, error) {
	if a.Budget != nil {
		var inflight []model.ScheduledAction
		for _, p := range a.Scheduler.Pending() {
			inflight = append(inflight, p.Action)
		}
		kept, _, err := a.Budget.Filter(ctx, batch, inflight, a.Clock.Now())
		if err != nil {
			return nil, fmt.Errorf("check budget: %w", err)
		}
		batch = kept
	}
	if len(batch.Actions) == 0 {
		return nil, nil
	}
	return a.Scheduler.ScheduleActions(ctx, batch)
}

func (a *Agent) self(ctx context.Context, token string) (string, error) {
	a.mu.Lock()
	id := a.selfID
	a.mu.Unlock()
	if id != "" {
		return id, nil
	}
	var (
		u   model.User
		err error
	)
	if a.cfg.Account.Username != "" {
		u, err = a.API.GetUserByUsername(ctx, token, a.cfg.Account.Username)
	} else {
		u, err = a.API.GetMe(ctx, token)
	}
	if err != nil {
		return "", fmt.Errorf("resolve own user id: %w", err)
	}
	a.mu.Lock()
	a.selfID = u.ID
	a.mu.Unlock()
	return u.ID, nil
}

// RunSocialUpdateOnce reads new mentions and the home timeline, asks the
// planner what to do and schedules the answer. The mentions cursor only
// advances once the batch is scheduled.
func (a *Agent) RunSocialUpdateOnce(ctx context.Context) error {
	token, err := a.Tokens.ValidToken(ctx)
	if err != nil {
		return err
	}
	selfID, err := a.self(ctx, token)
	if err != nil {
		return err
	}

	sinceID, err := a.loadCursor(ctx)
	if err != nil {
		return err
	}
	mentions, err := a.API.GetMentions(ctx, token, selfID, sinceID, a.cfg.Engine.MentionsLimit)
	if err != nil {
		logging.Warn("mentions_fetch_failed", logging.Err(err))
	}
	timeline, err := a.API.GetHomeTimeline(ctx, token, selfID, a.cfg.Engine.TimelineLimit)
	if err != nil {
		logging.Warn("timeline_fetch_failed", logging.Err(err))
	}

	sc := a.baseContext(ctx)
	sc.Mentions = model.DropSpam(mentions, a.cfg.Engine.MinOrganicScore)
	sc.Following = model.DropSpam(timeline, a.cfg.Engine.MinOrganicScore)

	batch, err := a.Planner.ProposeActions(ctx, sc)
	if err != nil {
		return err
	}
	ids, err := a.schedule(ctx, batch)
	if err != nil {
		return err
	}
	if next := maxID(mentions); next != "" && newerID(next, sinceID) {
		if err := a.KV.Put(ctx, mentionsCursorKey, []byte(next)); err != nil {
			return fmt.Errorf("save mentions cursor: %w", err)
		}
	}
	logging.Info("social_update", map[string]any{
		"mentions":  len(mentions),
		"timeline":  len(timeline),
		"proposed":  len(batch.Actions),
		"scheduled": len(ids),
		"since_id":  sinceID,
	})
	return nil
}

// RunThoughtOnce asks the planner for an unprompted post and queues it until
// its earliest intended time. It returns the thought id, or "" when the
// planner had nothing to say.
func (a *Agent) RunThoughtOnce(ctx context.Context) (string, error) {
	sc := a.baseContext(ctx)
	if token, err := a.Tokens.ValidToken(ctx); err != nil {
		logging.Warn("thought_without_own_tweets", logging.Err(err))
	} else if selfID, err := a.self(ctx, token); err == nil {
		if own, err := a.API.GetUserTweets(ctx, token, selfID, 10); err == nil {
			sc.OwnTweets = own
		}
	}

	batch, err := a.Planner.Think(ctx, sc)
	if err != nil {
		return "", err
	}
	if len(batch.Actions) == 0 {
		logging.Info("thought_empty", map[string]any{"why": batch.Why})
		return "", nil
	}
	return a.Thoughts.AddThought(batch, earliest(batch, a.Clock.Now())), nil
}

func (a *Agent) baseContext(ctx context.Context) ai.SocialContext {
	return ai.SocialContext{
		Now:          a.Clock.Now(),
		Username:     a.cfg.Account.Username,
		News:         a.Feeds.News(ctx, a.cfg.Feeds.NewsCategory),
		Trends:       a.Feeds.Trends(ctx),
		NewestTokens: a.Feeds.NewestTokens(ctx),
	}
}

func (a *Agent) loadCursor(ctx context.Context) (string, error) {
	b, err := a.KV.Get(ctx, mentionsCursorKey)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load mentions cursor: %w", err)
	}
	return string(b), nil
}

// earliest returns the first intended post time in batch, or now when no
// action carries one.
func earliest(batch model.ActionBatch, now time.Time) time.Time {
	var first time.Time
	for _, act := range batch.Actions {
		t := act.IntendedPostTime.Time
		if t.IsZero() {
			continue
		}
		if first.IsZero() || t.Before(first) {
			first = t
		}
	}
	if first.IsZero() {
		return now
	}
	return first
}

func maxID(tweets []model.Tweet) string {
	var out string
	for _, t := range tweets {
		if newerID(t.ID, out) {
			out = t.ID
		}
	}
	return out
}

// newerID compares snowflake ids, which are decimal strings of varying length.
func newerID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}
