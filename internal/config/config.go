package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
// It captures the account, API credentials, context feeds and engine timing.
type Config struct {
	Account     AccountConfig     `yaml:"account"`
	Credentials CredentialsConfig `yaml:"credentials"`
	OAuth       OAuthConfig       `yaml:"oauth"`
	LLM         LLMConfig         `yaml:"llm"`
	Feeds       FeedsConfig       `yaml:"feeds"`
	Engine      EngineConfig      `yaml:"engine"`
	Storage     StorageConfig     `yaml:"storage"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type AccountConfig struct {
	Username string `yaml:"username"`
	// Numeric user id. If empty, read from env TWITTER_ID or looked up by username.
	UserID string `yaml:"userId"`
}

type CredentialsConfig struct {
	// OAuth2 client. If empty, read from env TWITTER_CLIENT_ID / TWITTER_CLIENT_SECRET
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
}

type OAuthConfig struct {
	CallbackPort int      `yaml:"callbackPort"`
	AuthURL      string   `yaml:"authUrl"`
	TokenURL     string   `yaml:"tokenUrl"`
	Scopes       []string `yaml:"scopes"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"` // "xai", "openai" or "none"
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"baseUrl"`
	// If empty, read from env XAI_API_KEY (provider xai) or OPENAI_API_KEY
	APIKey      string        `yaml:"apiKey"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"maxTokens"`
	Timeout     time.Duration `yaml:"timeout"`
	// Persona is prepended to every system prompt.
	Persona string `yaml:"persona"`
}

type FeedsConfig struct {
	// If empty, read from env NEWS_API_KEY / WORLD_NEWS_API_KEY
	NewsAPIKey      string `yaml:"newsApiKey"`
	WorldNewsAPIKey string `yaml:"worldNewsApiKey"`

	TrendsTTL       time.Duration `yaml:"trendsTtl"`
	NewsTTL         time.Duration `yaml:"newsTtl"`
	TokensTTL       time.Duration `yaml:"tokensTtl"`
	HackerNewsLimit int           `yaml:"hackerNewsLimit"`
	Timeout         time.Duration `yaml:"timeout"`

	// RSS maps provider -> category -> feed URL.
	RSS map[string]map[string]string `yaml:"rss"`
	// NewsCategory is the category included in each social cycle.
	NewsCategory string `yaml:"newsCategory"`
}

type EngineConfig struct {
	SocialInterval  time.Duration `yaml:"socialInterval"`
	ThoughtInterval time.Duration `yaml:"thoughtInterval"`
	QueueTick       time.Duration `yaml:"queueTick"`
	ThoughtsEnabled bool          `yaml:"thoughtsEnabled"`
	MentionsLimit   int           `yaml:"mentionsLimit"`
	TimelineLimit   int           `yaml:"timelineLimit"`
	// DryRun logs actions instead of calling the platform.
	DryRun bool `yaml:"dryRun"`
	// MinOrganicScore drops mentions and timeline posts scoring below it
	// before they reach the model. Zero keeps everything.
	MinOrganicScore float64 `yaml:"minOrganicScore"`
	// Budgets caps proposed actions per type; missing types are unlimited.
	Budgets map[string]Budget `yaml:"budgets"`
}

// Budget limits how many actions of one type are dispatched per hour and
// per day. Zero means no limit.
type Budget struct {
	MaxPerHour int `yaml:"maxPerHour"`
	MaxPerDay  int `yaml:"maxPerDay"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // "file", "sqlite" or "memory"
	Dir     string `yaml:"dir"`
	DBPath  string `yaml:"dbPath"`
}

type MetricsConfig struct {
	// If empty, read from env METRICS_ADDR; metrics are off when both are empty.
	Addr string `yaml:"addr"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		OAuth: OAuthConfig{
			CallbackPort: 42069,
			AuthURL:      "https://twitter.com/i/oauth2/authorize",
			TokenURL:     "https://api.twitter.com/2/oauth2/token",
			Scopes:       []string{"tweet.read", "tweet.write", "users.read", "follows.write", "like.write", "offline.access"},
		},
		LLM: LLMConfig{
			Provider:    "xai",
			Model:       "grok-beta",
			BaseURL:     "https://api.x.ai/v1",
			Temperature: 0.8,
			MaxTokens:   2048,
			Timeout:     60 * time.Second,
		},
		Feeds: FeedsConfig{
			TrendsTTL:       5 * time.Minute,
			NewsTTL:         10 * time.Minute,
			TokensTTL:       15 * time.Minute,
			HackerNewsLimit: 10,
			Timeout:         15 * time.Second,
			NewsCategory:    "technology",
			RSS:             DefaultRSS(),
		},
		Engine: EngineConfig{
			SocialInterval:  5 * time.Minute,
			ThoughtInterval: 30 * time.Minute,
			QueueTick:       time.Second,
			ThoughtsEnabled: true,
			MentionsLimit:   20,
			TimelineLimit:   20,
			MinOrganicScore: 0.4,
			Budgets: map[string]Budget{
				"tweet":  {MaxPerHour: 4, MaxPerDay: 24},
				"reply":  {MaxPerHour: 10, MaxPerDay: 100},
				"follow": {MaxPerDay: 50},
			},
		},
		Storage: StorageConfig{Backend: "file", Dir: ".", DBPath: "./beacon.db"},
	}
}

// DefaultRSS returns the built-in news feeds.
func DefaultRSS() map[string]map[string]string {
	return map[string]map[string]string{
		"reuters": {
			"world":      "https://www.reutersagency.com/feed/",
			"business":   "https://www.reutersagency.com/feed/?best-topics=business-finance",
			"technology": "https://www.reutersagency.com/feed/?best-topics=tech",
		},
		"ap": {
			"world":      "https://feeds.apnews.com/rss/apnews",
			"technology": "https://feeds.apnews.com/rss/aptechnology",
			"business":   "https://feeds.apnews.com/rss/apbusiness",
		},
		"bbc": {
			"world":      "http://feeds.bbci.co.uk/news/world/rss.xml",
			"technology": "http://feeds.bbci.co.uk/news/technology/rss.xml",
			"business":   "http://feeds.bbci.co.uk/news/business/rss.xml",
		},
		"guardian": {
			"world":      "https://www.theguardian.com/world/rss",
			"technology": "https://www.theguardian.com/technology/rss",
			"business":   "https://www.theguardian.com/business/rss",
		},
		"npr": {
			"world":      "https://feeds.npr.org/1001/rss.xml",
			"technology": "https://feeds.npr.org/1019/rss.xml",
			"business":   "https://feeds.npr.org/1006/rss.xml",
		},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	setIfEmpty(&c.Account.Username, "TWITTER_USERNAME")
	setIfEmpty(&c.Account.UserID, "TWITTER_ID")
	setIfEmpty(&c.Credentials.ClientID, "TWITTER_CLIENT_ID")
	setIfEmpty(&c.Credentials.ClientSecret, "TWITTER_CLIENT_SECRET")
	switch c.LLM.Provider {
	case "xai":
		setIfEmpty(&c.LLM.APIKey, "XAI_API_KEY")
	case "openai":
		setIfEmpty(&c.LLM.APIKey, "OPENAI_API_KEY")
	}
	setIfEmpty(&c.Feeds.NewsAPIKey, "NEWS_API_KEY")
	setIfEmpty(&c.Feeds.WorldNewsAPIKey, "WORLD_NEWS_API_KEY")
	setIfEmpty(&c.Metrics.Addr, "METRICS_ADDR")
}

func setIfEmpty(dst *string, env string) {
	if *dst == "" {
		*dst = os.Getenv(env)
	}
}

// Validate reports every problem that would stop the engine from starting.
func (c Config) Validate() error {
	var errs []error
	if c.Account.Username == "" && c.Account.UserID == "" {
		errs = append(errs, errors.New("account.username or account.userId is required"))
	}
	if c.Credentials.ClientID == "" {
		errs = append(errs, errors.New("credentials.clientId is required (or TWITTER_CLIENT_ID)"))
	}
	if c.OAuth.CallbackPort <= 0 || c.OAuth.CallbackPort > 65535 {
		errs = append(errs, fmt.Errorf("oauth.callbackPort %d out of range", c.OAuth.CallbackPort))
	}
	if c.LLM.Provider != "none" && c.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("llm.apiKey is required for provider %q", c.LLM.Provider))
	}
	if c.Engine.SocialInterval <= 0 {
		errs = append(errs, errors.New("engine.socialInterval must be positive"))
	}
	for typ, b := range c.Engine.Budgets {
		if b.MaxPerHour < 0 || b.MaxPerDay < 0 {
			errs = append(errs, fmt.Errorf("engine.budgets.%s: limits must not be negative", typ))
		}
	}
	if c.Engine.QueueTick <= 0 {
		errs = append(errs, errors.New("engine.queueTick must be positive"))
	}
	switch c.Storage.Backend {
	case "file", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of file, sqlite, memory", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

// Load reads YAML config from path. Fields missing from the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
