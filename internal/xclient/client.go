package xclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"beacon/internal/metrics"
	"beacon/internal/model"

	"golang.org/x/time/rate"
)

// SocialAPI is the subset of the X API v2 the agent uses. Every call takes
// the OAuth2 user access token explicitly.
type SocialAPI interface {
	GetMe(ctx context.Context, token string) (model.User, error)
	GetUserByUsername(ctx context.Context, token, username string) (model.User, error)
	GetMentions(ctx context.Context, token, userID, sinceID string, limit int) ([]model.Tweet, error)
	GetHomeTimeline(ctx context.Context, token, userID string, limit int) ([]model.Tweet, error)
	GetUserTweets(ctx context.Context, token, userID string, limit int) ([]model.Tweet, error)
	PostTweet(ctx context.Context, token, text string) (string, error)
	PostReply(ctx context.Context, token, inReplyToID, text string) (string, error)
	LikeTweet(ctx context.Context, token, userID, tweetID string) error
	RetweetTweet(ctx context.Context, token, userID, tweetID string) error
	FollowUser(ctx context.Context, token, userID, targetUserID string) error
}

// APIError is a non-2xx answer from the platform.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("x api %s: status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("x api %s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

// HTTPClient talks to X API v2 over HTTPS.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	readLimit   *rate.Limiter
	writeLimit  *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
}

func NewHTTPClient() *HTTPClient {
	return &HTTPClient{
		baseURL:     getEnv("X_API_BASE_URL", "https://api.twitter.com/2"),
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		readLimit:   limitFromEnv("X_API", defaultReadLimit).limiter(),
		writeLimit:  limitFromEnv("X_API_WRITE", defaultWriteLimit).limiter(),
		maxAttempts: getEnvInt("X_API_MAX_ATTEMPTS", 5),
		baseBackoff: time.Duration(getEnvInt("X_API_BASE_BACKOFF_MS", 500)) * time.Millisecond,
	}
}

// WithLimits replaces the read and write limiters.
func (c *HTTPClient) WithLimits(read, write Limit) *HTTPClient {
	c.readLimit = read.limiter()
	c.writeLimit = write.limiter()
	return c
}

// WithBaseURL points the client at another host, e.g. a test server.
func (c *HTTPClient) WithBaseURL(u string) *HTTPClient {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

const tweetFields = "tweet.fields=created_at,public_metrics,lang,author_id,conversation_id,in_reply_to_user_id,entities&expansions=author_id&user.fields=username"

type rawUser struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Username      string    `json:"username"`
	CreatedAt     time.Time `json:"created_at"`
	Verified      bool      `json:"verified"`
	Description   string    `json:"description"`
	PublicMetrics struct {
		FollowersCount int `json:"followers_count"`
		FollowingCount int `json:"following_count"`
		TweetCount     int `json:"tweet_count"`
	} `json:"public_metrics"`
}

func (u rawUser) toModel() model.User {
	return model.User{
		ID:             u.ID,
		Username:       u.Username,
		Name:           u.Name,
		CreatedAt:      u.CreatedAt,
		Verified:       u.Verified,
		Description:    u.Description,
		FollowersCount: u.PublicMetrics.FollowersCount,
		FollowingCount: u.PublicMetrics.FollowingCount,
		TweetCount:     u.PublicMetrics.TweetCount,
	}
}

type rawTweet struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	AuthorID       string    `json:"author_id"`
	CreatedAt      time.Time `json:"created_at"`
	Lang           string    `json:"lang"`
	ConversationID string    `json:"conversation_id"`
	Referenced     []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
	Entities struct {
		URLs []struct {
			URL string `json:"url"`
		} `json:"urls"`
	} `json:"entities"`
	PublicMetrics struct {
		LikeCount    int `json:"like_count"`
		ReplyCount   int `json:"reply_count"`
		RetweetCount int `json:"retweet_count"`
		QuoteCount   int `json:"quote_count"`
	} `json:"public_metrics"`
}

type tweetPage struct {
	Data     []rawTweet `json:"data"`
	Includes struct {
		Users []rawUser `json:"users"`
	} `json:"includes"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

func (p tweetPage) toModel() []model.Tweet {
	names := make(map[string]string, len(p.Includes.Users))
	for _, u := range p.Includes.Users {
		names[u.ID] = u.Username
	}
	out := make([]model.Tweet, 0, len(p.Data))
	for _, d := range p.Data {
		t := model.Tweet{
			ID:             d.ID,
			AuthorID:       d.AuthorID,
			AuthorUsername: names[d.AuthorID],
			Text:           d.Text,
			CreatedAt:      d.CreatedAt,
			ConversationID: d.ConversationID,
			Language:       d.Lang,
			HasLink:        len(d.Entities.URLs) > 0,
			LikeCount:      d.PublicMetrics.LikeCount,
			ReplyCount:     d.PublicMetrics.ReplyCount,
			RetweetCount:   d.PublicMetrics.RetweetCount,
			QuoteCount:     d.PublicMetrics.QuoteCount,
		}
		for _, r := range d.Referenced {
			if r.Type == "replied_to" {
				t.InReplyToID = r.ID
			}
		}
		out = append(out, t)
	}
	return out
}

func (c *HTTPClient) GetMe(ctx context.Context, token string) (model.User, error) {
	var raw struct {
		Data rawUser `json:"data"`
	}
	u := c.baseURL + "/users/me?user.fields=public_metrics,created_at,verified,description"
	if err := c.getJSON(ctx, token, "/users/me", u, &raw); err != nil {
		return model.User{}, err
	}
	return raw.Data.toModel(), nil
}

func (c *HTTPClient) GetUserByUsername(ctx context.Context, token, username string) (model.User, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return model.User{}, errors.New("empty username")
	}
	var raw struct {
		Data rawUser `json:"data"`
	}
	u := fmt.Sprintf("%s/users/by/username/%s?user.fields=public_metrics,created_at,verified,description", c.baseURL, url.PathEscape(username))
	if err := c.getJSON(ctx, token, "/users/by/username", u, &raw); err != nil {
		return model.User{}, err
	}
	if raw.Data.ID == "" {
		return model.User{}, fmt.Errorf("user %q not found", username)
	}
	return raw.Data.toModel(), nil
}

// GetMentions returns tweets mentioning userID, newest first. A non-empty
// sinceID limits the result to newer tweets.
func (c *HTTPClient) GetMentions(ctx context.Context, token, userID, sinceID string, limit int) ([]model.Tweet, error) {
	u := fmt.Sprintf("%s/users/%s/mentions?max_results=%d&%s", c.baseURL, url.PathEscape(userID), clamp(limit, 5, 100), tweetFields)
	if sinceID != "" {
		u += "&since_id=" + url.QueryEscape(sinceID)
	}
	var page tweetPage
	if err := c.getJSON(ctx, token, "/users/mentions", u, &page); err != nil {
		return nil, err
	}
	return page.toModel(), nil
}

// GetHomeTimeline returns the reverse-chronological home timeline.
func (c *HTTPClient) GetHomeTimeline(ctx context.Context, token, userID string, limit int) ([]model.Tweet, error) {
	u := fmt.Sprintf("%s/users/%s/timelines/reverse_chronological?max_results=%d&%s", c.baseURL, url.PathEscape(userID), clamp(limit, 1, 100), tweetFields)
	var page tweetPage
	if err := c.getJSON(ctx, token, "/users/timelines/reverse_chronological", u, &page); err != nil {
		return nil, err
	}
	return page.toModel(), nil
}

// GetUserTweets returns recent tweets for a user.
func (c *HTTPClient) GetUserTweets(ctx context.Context, token, userID string, limit int) ([]model.Tweet, error) {
	u := fmt.Sprintf("%s/users/%s/tweets?max_results=%d&exclude=retweets&%s", c.baseURL, url.PathEscape(userID), clamp(limit, 5, 100), tweetFields)
	var page tweetPage
	if err := c.getJSON(ctx, token, "/users/tweets", u, &page); err != nil {
		return nil, err
	}
	return page.toModel(), nil
}

type postedTweet struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

func (c *HTTPClient) PostTweet(ctx context.Context, token, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty tweet text")
	}
	var out postedTweet
	if err := c.postJSON(ctx, token, "/tweets", c.baseURL+"/tweets", map[string]any{"text": text}, &out); err != nil {
		return "", err
	}
	return out.Data.ID, nil
}

func (c *HTTPClient) PostReply(ctx context.Context, token, inReplyToID, text string) (string, error) {
	if inReplyToID == "" {
		return "", errors.New("reply without target tweet id")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty reply text")
	}
	body := map[string]any{
		"text":  text,
		"reply": map[string]string{"in_reply_to_tweet_id": inReplyToID},
	}
	var out postedTweet
	if err := c.postJSON(ctx, token, "/tweets", c.baseURL+"/tweets", body, &out); err != nil {
		return "", err
	}
	return out.Data.ID, nil
}

func (c *HTTPClient) LikeTweet(ctx context.Context, token, userID, tweetID string) error {
	u := fmt.Sprintf("%s/users/%s/likes", c.baseURL, url.PathEscape(userID))
	return c.postJSON(ctx, token, "/users/likes", u, map[string]string{"tweet_id": tweetID}, nil)
}

func (c *HTTPClient) RetweetTweet(ctx context.Context, token, userID, tweetID string) error {
	u := fmt.Sprintf("%s/users/%s/retweets", c.baseURL, url.PathEscape(userID))
	return c.postJSON(ctx, token, "/users/retweets", u, map[string]string{"tweet_id": tweetID}, nil)
}

func (c *HTTPClient) FollowUser(ctx context.Context, token, userID, targetUserID string) error {
	u := fmt.Sprintf("%s/users/%s/following", c.baseURL, url.PathEscape(userID))
	return c.postJSON(ctx, token, "/users/following", u, map[string]string{"target_user_id": targetUserID}, nil)
}

func auth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
}

// getJSON issues a GET with rate limiting and retries, decoding into out.
func (c *HTTPClient) getJSON(ctx context.Context, token, endpoint, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	auth(req, token)
	if err := c.readLimit.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.doWithRetry(ctx, endpoint, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(endpoint, resp, out)
}

// postJSON issues a single write attempt. Writes are not retried: a lost
// response could otherwise post twice.
func (c *HTTPClient) postJSON(ctx context.Context, token, endpoint, u string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	auth(req, token)
	req.Header.Set("Content-Type", "application/json")
	if err := c.writeLimit.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(endpoint, resp, out)
}

func decode(endpoint string, resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Endpoint: endpoint, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func (c *HTTPClient) doWithRetry(ctx context.Context, endpoint string, req *http.Request) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			metrics.IncAPIRetry(endpoint)
		}
		resp, err := c.httpClient.Do(req.Clone(ctx))
		if err == nil {
			if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
				wait := retryAfter(resp.Header.Get("Retry-After"), backoff)
				_ = resp.Body.Close()
				lastErr = &APIError{Endpoint: endpoint, Status: resp.StatusCode}
				// jitter +/-20%
				jitter := time.Duration(float64(wait) * 0.2)
				if jitter > 0 {
					wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
				}
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				backoff *= 2
				continue
			}
			return resp, nil
		}
		lastErr = err
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func retryAfter(h string, def time.Duration) time.Duration {
	if h == "" {
		return def
	}
	if secs, err := strconv.Atoi(h); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil && i > 0 {
		return i
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
