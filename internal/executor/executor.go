// Package executor performs one scheduled action against the social
// platform, gated by a valid access token.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"beacon/internal/logging"
	"beacon/internal/model"
	"beacon/internal/util"
	"beacon/internal/xclient"
)

// ErrUnhandled is returned for action types without a handler.
var ErrUnhandled = errors.New("action type not handled")

// TokenSource yields an access token that is valid right now.
type TokenSource interface {
	ValidToken(ctx context.Context) (string, error)
}

// Result is the outcome of one action. Err is nil on success.
type Result struct {
	Type      model.ActionType
	PostedIDs []string
	Err       error
}

func (r Result) OK() bool { return r.Err == nil }

type handler func(ctx context.Context, token string, a model.ScheduledAction) ([]string, error)

// Executor routes actions to the platform client by type.
type Executor struct {
	tokens   TokenSource
	api      xclient.SocialAPI
	handlers map[model.ActionType]handler

	mu     sync.Mutex
	selfID string
}

// New returns an executor acting as selfID. An empty selfID is looked up
// with the first token that needs it.
func New(tokens TokenSource, api xclient.SocialAPI, selfID string) *Executor {
	e := &Executor{tokens: tokens, api: api, selfID: selfID}
	e.handlers = map[model.ActionType]handler{
		model.ActionTweet:   e.tweet,
		model.ActionReply:   e.reply,
		model.ActionLike:    e.like,
		model.ActionRetweet: e.retweet,
		model.ActionFollow:  e.follow,
	}
	return e
}

// Execute performs a. It never panics and never returns an error out of
// band; failures are carried in the Result. There is no retry.
func (e *Executor) Execute(ctx context.Context, a model.ScheduledAction) (res Result) {
	res.Type = a.Type
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("%s handler panicked: %v", a.Type, r)
		}
		if res.Err != nil {
			logging.Error(string(a.Type)+"_failed", map[string]any{"action_id": a.ID, "error": res.Err.Error()})
		}
	}()
	h, ok := e.handlers[a.Type]
	if !ok {
		res.Err = fmt.Errorf("%w: %q", ErrUnhandled, a.Type)
		return res
	}
	token, err := e.tokens.ValidToken(ctx)
	if err != nil {
		res.Err = fmt.Errorf("get valid token: %w", err)
		return res
	}
	res.PostedIDs, res.Err = h(ctx, token, a)
	if res.Err == nil {
		logging.Info(string(a.Type)+"_ok", map[string]any{"action_id": a.ID, "posted": res.PostedIDs})
	}
	return res
}

func (e *Executor) self(ctx context.Context, token string) (string, error) {
	e.mu.Lock()
	id := e.selfID
	e.mu.Unlock()
	if id != "" {
		return id, nil
	}
	me, err := e.api.GetMe(ctx, token)
	if err != nil {
		return "", fmt.Errorf("look up own user id: %w", err)
	}
	e.mu.Lock()
	e.selfID = me.ID
	e.mu.Unlock()
	return me.ID, nil
}

// tweet posts the text, then each continuation as a reply to the previous part.
func (e *Executor) tweet(ctx context.Context, token string, a model.ScheduledAction) ([]string, error) {
	text := strings.TrimSpace(a.Text)
	if text == "" {
		return nil, errors.New("tweet without text")
	}
	id, err := e.api.PostTweet(ctx, token, text)
	if err != nil {
		return nil, err
	}
	posted := []string{id}
	if !a.IsThreaded {
		return posted, nil
	}
	for i, part := range a.OtherTweets {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		next, err := e.api.PostReply(ctx, token, posted[len(posted)-1], part)
		if err != nil {
			return posted, fmt.Errorf("thread part %d: %w", i+2, err)
		}
		posted = append(posted, next)
	}
	return posted, nil
}

func (e *Executor) reply(ctx context.Context, token string, a model.ScheduledAction) ([]string, error) {
	target := util.NormalizeID(a.TweetID)
	if target == "" {
		return nil, errors.New("reply without tweetId")
	}
	if strings.TrimSpace(a.Text) == "" {
		return nil, errors.New("reply without text")
	}
	id, err := e.api.PostReply(ctx, token, target, strings.TrimSpace(a.Text))
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

func (e *Executor) like(ctx context.Context, token string, a model.ScheduledAction) ([]string, error) {
	target := util.NormalizeID(a.TweetID)
	if target == "" {
		return nil, errors.New("like without tweetId")
	}
	me, err := e.self(ctx, token)
	if err != nil {
		return nil, err
	}
	return nil, e.api.LikeTweet(ctx, token, me, target)
}

func (e *Executor) retweet(ctx context.Context, token string, a model.ScheduledAction) ([]string, error) {
	target := util.NormalizeID(a.TweetID)
	if target == "" {
		return nil, errors.New("retweet without tweetId")
	}
	me, err := e.self(ctx, token)
	if err != nil {
		return nil, err
	}
	return nil, e.api.RetweetTweet(ctx, token, me, target)
}

// follow accepts a numeric userId, or a username in either field.
func (e *Executor) follow(ctx context.Context, token string, a model.ScheduledAction) ([]string, error) {
	target := util.NormalizeID(a.UserID)
	if !util.IsNumeric(target) {
		name := util.NormalizeID(a.Username)
		if name == "" {
			name = target
		}
		if name == "" {
			return nil, errors.New("follow without userId or username")
		}
		u, err := e.api.GetUserByUsername(ctx, token, name)
		if err != nil {
			return nil, fmt.Errorf("resolve @%s: %w", name, err)
		}
		target = u.ID
	}
	me, err := e.self(ctx, token)
	if err != nil {
		return nil, err
	}
	return nil, e.api.FollowUser(ctx, token, me, target)
}
