package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ActionType names a side effect the agent can perform.
type ActionType string

const (
	ActionTweet   ActionType = "tweet"
	ActionRetweet ActionType = "retweet"
	ActionLike    ActionType = "like"
	ActionFollow  ActionType = "follow"
	ActionReply   ActionType = "reply"
)

// KnownActions lists the handled action types.
var KnownActions = []ActionType{ActionTweet, ActionRetweet, ActionLike, ActionFollow, ActionReply}

// Known reports whether t has a handler.
func (t ActionType) Known() bool {
	for _, k := range KnownActions {
		if t == k {
			return true
		}
	}
	return false
}

// ScheduledAction is one side effect proposed by the model. It is not
// mutated after it has been handed to the scheduler.
type ScheduledAction struct {
	ID               string     `json:"id,omitempty"`
	Type             ActionType `json:"type"`
	Text             string     `json:"tweet,omitempty"`
	TweetID          string     `json:"tweetId,omitempty"`
	UserID           string     `json:"userId,omitempty"`
	Username         string     `json:"username,omitempty"`
	IntendedPostTime PostTime   `json:"intendedPostTime"`
	IsThreaded       bool       `json:"isThreaded,omitempty"`
	OtherTweets      []string   `json:"otherTweets,omitempty"`
}

// UnmarshalJSON fills in the action type when the model omits it but gives text.
func (a *ScheduledAction) UnmarshalJSON(b []byte) error {
	type plain ScheduledAction
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	p.Type = ActionType(strings.ToLower(strings.TrimSpace(string(p.Type))))
	if p.Type == "" && strings.TrimSpace(p.Text) != "" {
		p.Type = ActionTweet
	}
	*a = ScheduledAction(p)
	return nil
}

// ActionBatch is the model's response: a rationale plus actions to perform.
type ActionBatch struct {
	Why     string            `json:"why,omitempty"`
	Message string            `json:"message,omitempty"`
	Actions []ScheduledAction `json:"actions"`
}

// PostTime is a lenient timestamp. The model writes times in several
// layouts; anything unparseable decodes to the zero time, which the
// scheduler treats as "now".
type PostTime struct{ time.Time }

var postTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func (p *PostTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		p.Time = time.Time{}
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// epoch milliseconds
		p.Time = time.UnixMilli(n).UTC()
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		p.Time = time.Time{}
		return nil
	}
	p.Time = ParsePostTime(raw)
	return nil
}

func (p PostTime) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(p.UTC().Format(time.RFC3339Nano))
}

// ParsePostTime parses s with the accepted layouts, returning the zero time on failure.
// Layouts without a zone are read as UTC, the zone the model is told the
// current time in, whatever the host's local zone is.
func ParsePostTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, l := range postTimeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// At is a convenience constructor.
func At(t time.Time) PostTime { return PostTime{t} }
