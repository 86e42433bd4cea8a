package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"beacon/internal/auth"
	"beacon/internal/model"
	"beacon/internal/xclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token string
	err   error
	calls int
}

func (s *staticTokens) ValidToken(context.Context) (string, error) {
	s.calls++
	return s.token, s.err
}

type call struct {
	op   string
	args []string
}

type fakeAPI struct {
	xclient.SocialAPI
	calls   []call
	failOn  string
	nextID  int
	meCalls int
}

func (f *fakeAPI) record(op string, args ...string) error {
	f.calls = append(f.calls, call{op: op, args: args})
	if op == f.failOn {
		return errors.New(op + " rejected")
	}
	return nil
}

func (f *fakeAPI) id() string {
	f.nextID++
	return fmt.Sprintf("t%d", f.nextID)
}

func (f *fakeAPI) GetMe(context.Context, string) (model.User, error) {
	f.meCalls++
	return model.User{ID: "self"}, nil
}

func (f *fakeAPI) GetUserByUsername(_ context.Context, _, name string) (model.User, error) {
	return model.User{ID: "id-" + name, Username: name}, f.record("lookup", name)
}

func (f *fakeAPI) PostTweet(_ context.Context, token, text string) (string, error) {
	if err := f.record("tweet", token, text); err != nil {
		return "", err
	}
	return f.id(), nil
}

func (f *fakeAPI) PostReply(_ context.Context, token, to, text string) (string, error) {
	if err := f.record("reply", token, to, text); err != nil {
		return "", err
	}
	return f.id(), nil
}

func (f *fakeAPI) LikeTweet(_ context.Context, token, me, id string) error {
	return f.record("like", token, me, id)
}

func (f *fakeAPI) RetweetTweet(_ context.Context, token, me, id string) error {
	return f.record("retweet", token, me, id)
}

func (f *fakeAPI) FollowUser(_ context.Context, token, me, id string) error {
	return f.record("follow", token, me, id)
}

func TestExecuteStripsIDPrefixes(t *testing.T) {
	api := &fakeAPI{}
	e := New(&staticTokens{token: "tok"}, api, "")
	ctx := context.Background()

	require.True(t, e.Execute(ctx, model.ScheduledAction{Type: model.ActionLike, TweetID: "tweetId:123"}).OK())
	require.True(t, e.Execute(ctx, model.ScheduledAction{Type: model.ActionRetweet, TweetID: "https://x.com/a/status/456"}).OK())
	require.True(t, e.Execute(ctx, model.ScheduledAction{Type: model.ActionReply, TweetID: "tweetId: 789", Text: "hey"}).OK())
	require.True(t, e.Execute(ctx, model.ScheduledAction{Type: model.ActionFollow, UserID: "userId:42"}).OK())

	assert.Equal(t, []call{
		{"like", []string{"tok", "self", "123"}},
		{"retweet", []string{"tok", "self", "456"}},
		{"reply", []string{"tok", "789", "hey"}},
		{"follow", []string{"tok", "self", "42"}},
	}, api.calls)
	assert.Equal(t, 1, api.meCalls)
}

func TestFollowResolvesUsername(t *testing.T) {
	api := &fakeAPI{}
	e := New(&staticTokens{token: "tok"}, api, "me")
	res := e.Execute(context.Background(), model.ScheduledAction{Type: model.ActionFollow, Username: "@gopher"})
	require.NoError(t, res.Err)
	assert.Equal(t, []call{
		{"lookup", []string{"gopher"}},
		{"follow", []string{"tok", "me", "id-gopher"}},
	}, api.calls)
	assert.Zero(t, api.meCalls)
}

func TestThreadedTweetChainsReplies(t *testing.T) {
	api := &fakeAPI{}
	e := New(&staticTokens{token: "tok"}, api, "me")
	res := e.Execute(context.Background(), model.ScheduledAction{
		Type: model.ActionTweet, Text: "1/3", IsThreaded: true, OtherTweets: []string{"2/3", " ", "3/3"},
	})
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, res.PostedIDs)
	assert.Equal(t, call{"reply", []string{"tok", "t1", "2/3"}}, api.calls[1])
	assert.Equal(t, call{"reply", []string{"tok", "t2", "3/3"}}, api.calls[2])
}

func TestFailuresAreReturnedNotThrown(t *testing.T) {
	ctx := context.Background()

	api := &fakeAPI{failOn: "like"}
	res := New(&staticTokens{token: "tok"}, api, "me").Execute(ctx, model.ScheduledAction{Type: model.ActionLike, TweetID: "1"})
	assert.ErrorContains(t, res.Err, "like rejected")

	res = New(&staticTokens{token: "tok"}, &fakeAPI{}, "me").Execute(ctx, model.ScheduledAction{Type: model.ActionReply, Text: "x"})
	assert.ErrorContains(t, res.Err, "without tweetId")

	res = New(&staticTokens{token: "tok"}, &fakeAPI{}, "me").Execute(ctx, model.ScheduledAction{Type: "quote"})
	assert.ErrorIs(t, res.Err, ErrUnhandled)

	// a nil API makes the handler panic; Execute must still return
	res = New(&staticTokens{token: "tok"}, nil, "me").Execute(ctx, model.ScheduledAction{Type: model.ActionTweet, Text: "x"})
	assert.ErrorContains(t, res.Err, "panicked")
}

func TestAuthErrorStopsBeforeAPICall(t *testing.T) {
	api := &fakeAPI{}
	tokens := &staticTokens{err: &auth.AuthError{Code: auth.ERefreshFailed, Msg: "refresh"}}
	res := New(tokens, api, "me").Execute(context.Background(), model.ScheduledAction{Type: model.ActionTweet, Text: "gm"})
	require.Error(t, res.Err)
	assert.True(t, auth.IsAuthError(res.Err))
	assert.Empty(t, api.calls)
	assert.Equal(t, 1, tokens.calls)
}
