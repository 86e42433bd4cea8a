package model

import "time"

// User represents a subset of X user fields used by the agent.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	FollowersCount int       `json:"followers_count,omitempty"`
	FollowingCount int       `json:"following_count,omitempty"`
	TweetCount     int       `json:"tweet_count,omitempty"`
	Verified       bool      `json:"verified,omitempty"`
}

// Tweet represents a subset of X tweet fields used by the agent.
type Tweet struct {
	ID             string    `json:"id"`
	AuthorID       string    `json:"author_id,omitempty"`
	AuthorUsername string    `json:"author_username,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	InReplyToID    string    `json:"in_reply_to_id,omitempty"`
	LikeCount      int       `json:"like_count,omitempty"`
	ReplyCount     int       `json:"reply_count,omitempty"`
	RetweetCount   int       `json:"retweet_count,omitempty"`
	QuoteCount     int       `json:"quote_count,omitempty"`
	Language       string    `json:"lang,omitempty"`
	HasLink        bool      `json:"has_link,omitempty"`
}

// NewsItem is one headline from a news API or RSS feed.
type NewsItem struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	Source      string    `json:"source,omitempty"`
	Category    string    `json:"category,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Coin is a trending cryptocurrency.
type Coin struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Symbol string  `json:"symbol"`
	Rank   int     `json:"market_cap_rank,omitempty"`
	Score  float64 `json:"score"`
}

// Story is a Hacker News item.
type Story struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	Score int    `json:"score"`
	By    string `json:"by,omitempty"`
}

// Trends is the combined trend snapshot fed to the model.
type Trends struct {
	Headlines []NewsItem `json:"headlines,omitempty"`
	Coins     []Coin     `json:"coins,omitempty"`
	Stories   []Story    `json:"stories,omitempty"`
	WorldNews []NewsItem `json:"world_news,omitempty"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// Empty reports whether no source contributed anything.
func (t Trends) Empty() bool {
	return len(t.Headlines) == 0 && len(t.Coins) == 0 && len(t.Stories) == 0 && len(t.WorldNews) == 0
}

// TokenProfile is a recently listed token from DexScreener.
type TokenProfile struct {
	URL          string `json:"url"`
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
	Icon         string `json:"icon,omitempty"`
	Description  string `json:"description,omitempty"`
	Links        []struct {
		Type  string `json:"type,omitempty"`
		Label string `json:"label,omitempty"`
		URL   string `json:"url"`
	} `json:"links,omitempty"`
}
