package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"beacon/internal/logging"
	"beacon/internal/model"
	"beacon/internal/util"
)

// SocialContext is everything the model sees before proposing actions.
type SocialContext struct {
	Now          time.Time            `json:"now"`
	Username     string               `json:"username,omitempty"`
	Following    []model.Tweet        `json:"following,omitempty"`
	Mentions     []model.Tweet        `json:"mentions,omitempty"`
	OwnTweets    []model.Tweet        `json:"own_tweets,omitempty"`
	News         []model.NewsItem     `json:"news,omitempty"`
	Trends       model.Trends         `json:"trends"`
	NewestTokens []model.TokenProfile `json:"newest_tokens,omitempty"`
}

// Planner turns context into action batches.
type Planner struct {
	llm     Completer
	persona string
}

func NewPlanner(llm Completer, persona string) *Planner {
	return &Planner{llm: llm, persona: persona}
}

// ProposeActions asks the model what to do about the current timeline.
func (p *Planner) ProposeActions(ctx context.Context, sc SocialContext) (model.ActionBatch, error) {
	return p.ask(ctx, "propose", p.systemPrompt(socialTask), sc)
}

// Think asks the model for an unprompted batch, usually a single original
// post or a short thread about news and trends.
func (p *Planner) Think(ctx context.Context, sc SocialContext) (model.ActionBatch, error) {
	return p.ask(ctx, "think", p.systemPrompt(thoughtTask), sc)
}

func (p *Planner) ask(ctx context.Context, kind, system string, sc SocialContext) (model.ActionBatch, error) {
	user, err := userMessage(sc)
	if err != nil {
		return model.ActionBatch{}, err
	}
	start := time.Now()
	raw, err := p.llm.Complete(ctx, system, user)
	if err != nil {
		logging.Error("ai_"+kind+"_error", logging.Err(err))
		return model.ActionBatch{}, err
	}
	batch, err := ParseBatch(raw)
	if err != nil {
		logging.Error("ai_"+kind+"_malformed", map[string]any{"error": err.Error()})
		return model.ActionBatch{}, err
	}
	logging.Info("ai_"+kind, map[string]any{
		"actions":     len(batch.Actions),
		"why":         util.Truncate(batch.Why, 200),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return batch, nil
}

func userMessage(sc SocialContext) (string, error) {
	payload, err := json.Marshal(sc)
	if err != nil {
		return "", fmt.Errorf("encode context: %w", err)
	}
	var b strings.Builder
	b.WriteString("The current time is ")
	b.WriteString(sc.Now.UTC().Format(time.RFC3339))
	b.WriteString(".\n<context>")
	b.Write(payload)
	b.WriteString("</context>")
	return b.String(), nil
}

const socialTask = `Review the context: posts from accounts you follow, mentions of you, news, trending coins and stories, and newly listed tokens.
Decide which actions to take. Reply to mentions that deserve an answer, like or retweet posts worth amplifying, follow interesting accounts, and post when you have something to say.
Schedule every action between 5 and 15 minutes after the current time and never more than 30 minutes ahead. Spread actions out; do not schedule two at the same minute.`

const thoughtTask = `Write one original post, or a short thread, about whatever in the context you find most interesting right now.
Do not reply, like, retweet or follow. Schedule it between 5 and 15 minutes after the current time and never more than 30 minutes ahead.`

const outputFormat = `Respond with JSON only, no prose and no code fences, in this shape:
{
  "why": "short reasoning",
  "message": "optional note",
  "actions": [
    {
      "type": "tweet | reply | like | retweet | follow",
      "tweet": "text for tweet or reply",
      "tweetId": "target tweet id for reply, like, retweet",
      "userId": "target user id for follow",
      "username": "target username for follow when the id is unknown",
      "intendedPostTime": "RFC3339 timestamp",
      "isThreaded": false,
      "otherTweets": ["follow-up posts when isThreaded is true"]
    }
  ]
}
Posts must be at most 280 characters. Use an empty actions array when nothing is worth doing.`

func (p *Planner) systemPrompt(task string) string {
	persona := strings.TrimSpace(p.persona)
	if persona == "" {
		persona = "You are an autonomous social media agent with a curious, upbeat voice who follows technology, markets and crypto."
	}
	return persona + "\n\n" + task + "\n\n" + outputFormat
}
