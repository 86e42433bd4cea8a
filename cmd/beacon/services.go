package main

import (
	"fmt"

	"beacon/internal/ai"
	"beacon/internal/audit"
	"beacon/internal/auth"
	"beacon/internal/config"
	"beacon/internal/engage"
	"beacon/internal/executor"
	"beacon/internal/feeds"
	"beacon/internal/jobs"
	"beacon/internal/logging"
	"beacon/internal/queue"
	"beacon/internal/schedule"
	"beacon/internal/store"
	"beacon/internal/xclient"
)

// services is every long-lived component, built once per process.
type services struct {
	cfg      config.Config
	backend  store.Backend
	auth     *auth.Manager
	audit    *audit.Log
	api      xclient.SocialAPI
	sched    *schedule.Scheduler
	thoughts *queue.Queue
	agent    *jobs.Agent
}

func openStore(cfg config.Config) (store.Backend, error) {
	b, err := store.Open(cfg.Storage.Backend, cfg.Storage.Dir, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	return b, nil
}

func newAuth(cfg config.Config, kv store.KV) *auth.Manager {
	return auth.New(auth.Options{
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret,
		AuthURL:      cfg.OAuth.AuthURL,
		TokenURL:     cfg.OAuth.TokenURL,
		Scopes:       cfg.OAuth.Scopes,
		CallbackPort: cfg.OAuth.CallbackPort,
		Store:        kv,
	})
}

func buildServices(cfg config.Config) (*services, error) {
	backend, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	s := &services{cfg: cfg, backend: backend}
	s.auth = newAuth(cfg, backend)
	s.audit = audit.New(backend)

	var api xclient.SocialAPI = xclient.NewHTTPClient()
	if cfg.Engine.DryRun {
		api = xclient.NewDryRun(api)
		logging.Warn("dry_run_enabled", nil)
	}
	s.api = api

	exec := executor.New(s.auth, api, cfg.Account.UserID)
	s.sched = schedule.New(nil, exec, s.audit)
	s.thoughts = queue.New(nil)
	s.agent = jobs.New(cfg, jobs.Deps{
		Tokens:    s.auth,
		API:       api,
		Planner:   ai.NewPlanner(ai.FromConfig(cfg.LLM), cfg.LLM.Persona),
		Feeds:     feeds.New(cfg.Feeds, nil),
		KV:        backend,
		Scheduler: s.sched,
		Thoughts:  s.thoughts,
		Budget:    engage.NewGate(s.audit, cfg.Engine.Budgets),
	})
	return s, nil
}

// Close drops actions that have not fired yet and releases the store.
func (s *services) Close() error {
	s.sched.Close()
	return s.backend.Close()
}
