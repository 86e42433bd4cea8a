// Package feeds gathers the outside world the agent talks about: headlines,
// trending coins and stories, RSS news and newly listed tokens.
package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"beacon/internal/cache"
	"beacon/internal/clock"
	"beacon/internal/config"
	"beacon/internal/model"

	"github.com/mmcdole/gofeed"
)

// Endpoints are the base URLs of each upstream source.
type Endpoints struct {
	NewsAPI     string
	CoinGecko   string
	HackerNews  string
	WorldNews   string
	DexScreener string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		NewsAPI:     "https://newsapi.org",
		CoinGecko:   "https://api.coingecko.com",
		HackerNews:  "https://hacker-news.firebaseio.com",
		WorldNews:   "https://api.worldnewsapi.com",
		DexScreener: "https://api.dexscreener.com",
	}
}

// Service fetches and caches every feed. Each instance owns its caches.
type Service struct {
	cfg        config.FeedsConfig
	endpoints  Endpoints
	httpClient *http.Client
	parser     *gofeed.Parser
	clock      clock.Clock

	trends *cache.TTL[model.Trends]
	news   *cache.TTL[[]model.NewsItem]
	tokens *cache.TTL[[]model.TokenProfile]
}

type Option func(*Service)

func WithEndpoints(e Endpoints) Option { return func(s *Service) { s.endpoints = e } }

func WithHTTPClient(c *http.Client) Option { return func(s *Service) { s.httpClient = c } }

// New builds a Service. A nil clock uses wall time.
func New(cfg config.FeedsConfig, clk clock.Clock, opts ...Option) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s := &Service{
		cfg:        cfg,
		endpoints:  DefaultEndpoints(),
		httpClient: &http.Client{Timeout: timeout},
		clock:      clk,
		trends:     cache.New[model.Trends]("trends", cfg.TrendsTTL, clk),
		news:       cache.New[[]model.NewsItem]("news", cfg.NewsTTL, clk),
		tokens:     cache.New[[]model.TokenProfile]("tokens", cfg.TokensTTL, clk),
	}
	for _, o := range opts {
		o(s)
	}
	s.parser = gofeed.NewParser()
	s.parser.Client = s.httpClient
	return s
}

// SourceError is a non-2xx answer from an upstream source.
type SourceError struct {
	Source string
	Status int
	Body   string
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Source, e.Status, e.Body)
}

func (s *Service) getJSON(ctx context.Context, source, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "beacon/1.0")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &SourceError{Source: source, Status: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", source, err)
	}
	return nil
}
