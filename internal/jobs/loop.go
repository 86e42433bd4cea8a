package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"beacon/internal/logging"
	"beacon/internal/metrics"

	"golang.org/x/sync/errgroup"
)

// RunSocialLoop runs RunSocialUpdateOnce now and then every interval until
// ctx is cancelled. Cycle errors are logged and the loop continues.
func (a *Agent) RunSocialLoop(ctx context.Context, interval time.Duration) error {
	return runEvery(ctx, "social", interval, a.RunSocialUpdateOnce)
}

// RunThoughtLoop runs RunThoughtOnce every interval, starting after the
// first interval.
func (a *Agent) RunThoughtLoop(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info("thought_loop_stop", nil)
			return ctx.Err()
		case <-t.C:
			_ = cycle(ctx, "thought", func(ctx context.Context) error {
				_, err := a.RunThoughtOnce(ctx)
				return err
			})
		}
	}
}

// Run starts the social loop, the thought loop when enabled, and the
// thought queue ticker, and blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.RunSocialLoop(ctx, a.cfg.Engine.SocialInterval) })
	if a.cfg.Engine.ThoughtsEnabled && a.cfg.Engine.ThoughtInterval > 0 {
		g.Go(func() error { return a.RunThoughtLoop(ctx, a.cfg.Engine.ThoughtInterval) })
	}
	g.Go(func() error { return a.Thoughts.Run(ctx, a.cfg.Engine.QueueTick) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	_ = cycle(ctx, name, fn)
	for {
		select {
		case <-ctx.Done():
			logging.Info(name+"_loop_stop", nil)
			return ctx.Err()
		case <-t.C:
			_ = cycle(ctx, name, fn)
		}
	}
}

// cycle runs one unit of work with metrics, logging and panic recovery.
func cycle(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	start := time.Now()
	metrics.CycleRuns.WithLabelValues(name).Inc()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s cycle panicked: %v", name, r)
		}
		if err != nil {
			metrics.CycleErrors.WithLabelValues(name).Inc()
			logging.Error(name+"_cycle_error", logging.Err(err))
		}
		metrics.ObserveCycle(name, start)
	}()
	return fn(ctx)
}
