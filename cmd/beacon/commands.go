package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"beacon/internal/analytics"
	"beacon/internal/audit"
	"beacon/internal/cmdlog"
	"beacon/internal/config"
	"beacon/internal/metrics"
	"beacon/internal/theme"

	"github.com/spf13/cobra"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmdlog.Run("init", func() error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("%s already exists", configPath)
			}
			if err := config.Save(configPath, config.Default()); err != nil {
				return err
			}
			abs, _ := filepath.Abs(configPath)
			theme.PrintBanner(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "Config written to:", abs)
			return nil
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize the account in a browser and store the token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmdlog.Run("login", func() error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Credentials.ClientID == "" {
				return fmt.Errorf("credentials.clientId is required (or TWITTER_CLIENT_ID)")
			}
			backend, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			ctx, cancel := signalContext()
			defer cancel()
			ctx, cancelTimeout := context.WithTimeout(ctx, 10*time.Minute)
			defer cancelTimeout()

			out := cmd.OutOrStdout()
			err = newAuth(cfg, backend).Login(ctx, func(u string) {
				fmt.Fprintln(out, "Open this URL to authorize beacon:")
				fmt.Fprintln(out, u)
			})
			if err != nil {
				return err
			}
			theme.OK.Fprintln(out, "Authentication successful.")
			return nil
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the social and thought cycles until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmdlog.Run("run", func() error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config:\n%w", err)
			}
			svc, err := buildServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, cancel := signalContext()
			defer cancel()
			if cfg.Metrics.Addr != "" {
				metrics.StartServer(ctx, cfg.Metrics.Addr)
			}
			theme.PrintBanner(cmd.OutOrStdout())
			return svc.agent.Run(ctx)
		})
	},
}

var (
	thinkWait bool
	thinkDry  bool
)

var thinkCmd = &cobra.Command{
	Use:   "think",
	Short: "Generate one autonomous thought now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmdlog.Run("think", func() error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if thinkDry {
				cfg.Engine.DryRun = true
			}
			svc, err := buildServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, cancel := signalContext()
			defer cancel()
			id, err := svc.agent.RunThoughtOnce(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if id == "" {
				fmt.Fprintln(out, "Nothing to say right now.")
				return nil
			}
			for _, t := range svc.thoughts.Upcoming() {
				b, _ := json.MarshalIndent(t, "", "  ")
				fmt.Fprintln(out, string(b))
			}
			if !thinkWait {
				return nil
			}
			return waitDrained(ctx, svc, cfg.Engine.QueueTick)
		})
	},
}

// waitDrained ticks the thought queue until it and the scheduler are empty.
func waitDrained(ctx context.Context, svc *services, tick time.Duration) error {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		svc.thoughts.Tick(ctx)
		if svc.thoughts.Len() == 0 && len(svc.sched.Pending()) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show credential state and dispatched action counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmdlog.Run("status", func() error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			backend, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			out := cmd.OutOrStdout()

			cred, state, err := newAuth(cfg, backend).Inspect(ctx)
			fmt.Fprintf(out, "account:    %s\n", cfg.Account.Username)
			fmt.Fprintf(out, "credential: %s\n", theme.State(state))
			if err == nil && cred.ExpiresAt > 0 {
				fmt.Fprintf(out, "expires:    %s\n", time.UnixMilli(cred.ExpiresAt).Format(time.RFC3339))
			}

			counts, err := audit.New(backend).Counts(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "actions:")
			if len(counts) == 0 {
				theme.Dim.Fprintln(out, "  none yet")
			}
			streams := make([]string, 0, len(counts))
			for s := range counts {
				streams = append(streams, s)
			}
			sort.Strings(streams)
			for _, s := range streams {
				c := counts[s]
				fmt.Fprintf(out, "  %-9s %s %s %s\n", s,
					theme.OK.Sprintf("%d ok", c[audit.Dispatched]),
					theme.Bad.Sprintf("%d failed", c[audit.Failed]),
					theme.Warn.Sprintf("%d unhandled", c[audit.Unhandled]))
			}
			return printActivity(ctx, cmd, audit.New(backend))
		})
	},
}

// printActivity lists the last day's successful dispatches per hour.
func printActivity(ctx context.Context, cmd *cobra.Command, log *audit.Log) error {
	var records []audit.Record
	for _, s := range audit.Streams() {
		recs, err := log.Records(ctx, s)
		if err != nil {
			return err
		}
		records = append(records, recs...)
	}
	buckets := analytics.HourlyActivity(records, time.Now().Add(-24*time.Hour))
	if len(buckets) == 0 {
		return nil
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "last 24h:")
	for _, hour := range analytics.SortedBucketKeys(buckets) {
		types := make([]string, 0, len(buckets[hour]))
		for typ := range buckets[hour] {
			types = append(types, typ)
		}
		sort.Strings(types)
		line := "  " + theme.Dim.Sprint(hour.Local().Format("Jan 02 15:00"))
		for _, typ := range types {
			line += fmt.Sprintf(" %s=%d", typ, buckets[hour][typ])
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func init() {
	thinkCmd.Flags().BoolVar(&thinkWait, "wait", false, "stay running until the thought is posted")
	thinkCmd.Flags().BoolVar(&thinkDry, "dry-run", false, "log actions instead of posting them")
}
