// Package audit records the outcome of every dispatched action in
// append-only per-type streams.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"beacon/internal/model"
	"beacon/internal/store"
)

// Outcome is the terminal state of one dispatch.
type Outcome string

const (
	Dispatched Outcome = "dispatched"
	Failed     Outcome = "failed"
	Unhandled  Outcome = "unhandled"
)

// UnhandledStream collects actions whose type has no handler.
const UnhandledStream = "unhandled"

// Record is one line of an audit stream.
type Record struct {
	ActionID  string                `json:"actionId"`
	Stream    string                `json:"stream"`
	Outcome   Outcome               `json:"outcome"`
	Action    model.ScheduledAction `json:"action"`
	PostedIDs []string              `json:"postedIds,omitempty"`
	Error     string                `json:"error,omitempty"`
	At        time.Time             `json:"at"`
}

// StreamFor maps an action type to its stream name.
func StreamFor(t model.ActionType) string {
	if t.Known() {
		return string(t)
	}
	return UnhandledStream
}

// Streams lists every stream name in a stable order.
func Streams() []string {
	out := make([]string, 0, len(model.KnownActions)+1)
	for _, t := range model.KnownActions {
		out = append(out, string(t))
	}
	return append(out, UnhandledStream)
}

// Log writes records to an append-only store.
type Log struct {
	out store.AppendLog
}

func New(out store.AppendLog) *Log { return &Log{out: out} }

// Append writes r to its stream.
func (l *Log) Append(ctx context.Context, r Record) error {
	if r.Stream == "" {
		r.Stream = StreamFor(r.Action.Type)
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	if err := l.out.Append(ctx, r.Stream, b); err != nil {
		return fmt.Errorf("append audit record to %s: %w", r.Stream, err)
	}
	return nil
}

// Records reads back a stream. Lines that fail to decode are skipped.
func (l *Log) Records(ctx context.Context, stream string) ([]Record, error) {
	lines, err := l.out.Lines(ctx, stream)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(lines))
	for _, line := range lines {
		var r Record
		if json.Unmarshal(line, &r) == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// Counts returns the number of records per stream and outcome.
func (l *Log) Counts(ctx context.Context) (map[string]map[Outcome]int, error) {
	out := make(map[string]map[Outcome]int)
	for _, s := range Streams() {
		recs, err := l.Records(ctx, s)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			continue
		}
		m := make(map[Outcome]int)
		for _, r := range recs {
			m[r.Outcome]++
		}
		out[s] = m
	}
	return out, nil
}

// ByAction returns every record for the given action id across streams.
func (l *Log) ByAction(ctx context.Context, actionID string) ([]Record, error) {
	var out []Record
	for _, s := range Streams() {
		recs, err := l.Records(ctx, s)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.ActionID == actionID {
				out = append(out, r)
			}
		}
	}
	return out, nil
}
