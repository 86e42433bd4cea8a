package xclient

import (
	"context"
	"fmt"
	"sync/atomic"

	"beacon/internal/logging"
)

// DryRun passes reads through to the wrapped client and only logs writes.
type DryRun struct {
	SocialAPI
	seq atomic.Int64
}

func NewDryRun(inner SocialAPI) *DryRun { return &DryRun{SocialAPI: inner} }

func (d *DryRun) fakeID() string { return fmt.Sprintf("dry-%d", d.seq.Add(1)) }

func (d *DryRun) PostTweet(_ context.Context, _ string, text string) (string, error) {
	id := d.fakeID()
	logging.Info("dry_run_post_tweet", map[string]any{"id": id, "text": text})
	return id, nil
}

func (d *DryRun) PostReply(_ context.Context, _ string, inReplyToID, text string) (string, error) {
	id := d.fakeID()
	logging.Info("dry_run_post_reply", map[string]any{"id": id, "in_reply_to": inReplyToID, "text": text})
	return id, nil
}

func (d *DryRun) LikeTweet(_ context.Context, _ string, userID, tweetID string) error {
	logging.Info("dry_run_like", map[string]any{"user_id": userID, "tweet_id": tweetID})
	return nil
}

func (d *DryRun) RetweetTweet(_ context.Context, _ string, userID, tweetID string) error {
	logging.Info("dry_run_retweet", map[string]any{"user_id": userID, "tweet_id": tweetID})
	return nil
}

func (d *DryRun) FollowUser(_ context.Context, _ string, userID, targetUserID string) error {
	logging.Info("dry_run_follow", map[string]any{"user_id": userID, "target_user_id": targetUserID})
	return nil
}
