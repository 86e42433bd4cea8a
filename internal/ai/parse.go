package ai

import (
	"bytes"
	"encoding/json"
	"fmt"

	"beacon/internal/model"
	"beacon/internal/util"
)

// MalformedResponseError means the model's answer is not an action batch.
// It is not recovered locally; the cycle that asked fails.
type MalformedResponseError struct {
	Raw   string
	Cause error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed model response (%q): %v", util.Truncate(e.Raw, 120), e.Cause)
}

func (e *MalformedResponseError) Unwrap() error { return e.Cause }

// ParseBatch decodes the model output. A surrounding code fence is
// tolerated; anything else that is not {"actions": [...]} or a bare array
// of actions is a *MalformedResponseError.
func ParseBatch(raw string) (model.ActionBatch, error) {
	body := []byte(util.StripCodeFences(raw))
	if len(body) == 0 {
		return model.ActionBatch{}, &MalformedResponseError{Raw: raw, Cause: fmt.Errorf("empty response")}
	}
	if body[0] == '[' {
		var actions []model.ScheduledAction
		if err := json.Unmarshal(body, &actions); err != nil {
			return model.ActionBatch{}, &MalformedResponseError{Raw: raw, Cause: err}
		}
		return model.ActionBatch{Actions: actions}, nil
	}
	var probe struct {
		Actions json.RawMessage `json:"actions"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return model.ActionBatch{}, &MalformedResponseError{Raw: raw, Cause: err}
	}
	if len(probe.Actions) == 0 || bytes.Equal(probe.Actions, []byte("null")) {
		return model.ActionBatch{}, &MalformedResponseError{Raw: raw, Cause: fmt.Errorf("missing actions array")}
	}
	var b model.ActionBatch
	if err := json.Unmarshal(body, &b); err != nil {
		return model.ActionBatch{}, &MalformedResponseError{Raw: raw, Cause: err}
	}
	return b, nil
}
