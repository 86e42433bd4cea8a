package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"beacon/internal/logging"
	"beacon/internal/model"

	"golang.org/x/sync/errgroup"
)

const trendsKey = "all"

// Trends returns the cached trend snapshot, refreshing it when stale. When
// every source fails the previous snapshot is served.
func (s *Service) Trends(ctx context.Context) model.Trends {
	return s.trends.Get(ctx, trendsKey, s.FetchTrends)
}

// FetchTrends queries every source concurrently. A failing source
// contributes nothing; an error is returned only when all of them fail.
func (s *Service) FetchTrends(ctx context.Context) (model.Trends, error) {
	var (
		mu   sync.Mutex
		errs []error
		out  model.Trends
		g    errgroup.Group
	)
	collect := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(ctx); err != nil {
				logging.Warn("trend_source_failed", map[string]any{"source": name, "error": err.Error()})
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	sources := 0
	if s.cfg.NewsAPIKey != "" {
		sources++
		collect("newsapi", func(ctx context.Context) error {
			v, err := s.headlines(ctx)
			mu.Lock()
			out.Headlines = v
			mu.Unlock()
			return err
		})
	}
	if s.cfg.WorldNewsAPIKey != "" {
		sources++
		collect("worldnews", func(ctx context.Context) error {
			v, err := s.worldNews(ctx)
			mu.Lock()
			out.WorldNews = v
			mu.Unlock()
			return err
		})
	}
	sources += 2
	collect("coingecko", func(ctx context.Context) error {
		v, err := s.trendingCoins(ctx)
		mu.Lock()
		out.Coins = v
		mu.Unlock()
		return err
	})
	collect("hackernews", func(ctx context.Context) error {
		v, err := s.topStories(ctx)
		mu.Lock()
		out.Stories = v
		mu.Unlock()
		return err
	})
	_ = g.Wait()

	if len(errs) == sources {
		return model.Trends{}, fmt.Errorf("all trend sources failed: %w", errors.Join(errs...))
	}
	out.FetchedAt = s.clock.Now()
	return out, nil
}

func (s *Service) headlines(ctx context.Context) ([]model.NewsItem, error) {
	var resp struct {
		Articles []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
			PublishedAt string `json:"publishedAt"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	u := s.endpoints.NewsAPI + "/v2/top-headlines?country=us&apiKey=" + url.QueryEscape(s.cfg.NewsAPIKey)
	if err := s.getJSON(ctx, "newsapi", u, &resp); err != nil {
		return nil, err
	}
	out := make([]model.NewsItem, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		out = append(out, model.NewsItem{
			Title:       a.Title,
			Description: a.Description,
			URL:         a.URL,
			Source:      a.Source.Name,
			PublishedAt: model.ParsePostTime(a.PublishedAt),
		})
	}
	return out, nil
}

func (s *Service) worldNews(ctx context.Context) ([]model.NewsItem, error) {
	var resp struct {
		News []struct {
			Title       string `json:"title"`
			Summary     string `json:"summary"`
			Text        string `json:"text"`
			URL         string `json:"url"`
			Author      string `json:"author"`
			PublishDate string `json:"publish_date"`
		} `json:"news"`
	}
	u := s.endpoints.WorldNews + "/search-news?text=cryptocurrency&language=en&api-key=" + url.QueryEscape(s.cfg.WorldNewsAPIKey)
	if err := s.getJSON(ctx, "worldnews", u, &resp); err != nil {
		return nil, err
	}
	out := make([]model.NewsItem, 0, len(resp.News))
	for _, n := range resp.News {
		desc := n.Summary
		if desc == "" {
			desc = n.Text
		}
		out = append(out, model.NewsItem{
			Title:       n.Title,
			Description: desc,
			URL:         n.URL,
			Source:      n.Author,
			PublishedAt: model.ParsePostTime(n.PublishDate),
		})
	}
	return out, nil
}

func (s *Service) trendingCoins(ctx context.Context) ([]model.Coin, error) {
	var resp struct {
		Coins []struct {
			Item struct {
				ID            string  `json:"id"`
				Name          string  `json:"name"`
				Symbol        string  `json:"symbol"`
				MarketCapRank int     `json:"market_cap_rank"`
				Score         float64 `json:"score"`
			} `json:"item"`
		} `json:"coins"`
	}
	if err := s.getJSON(ctx, "coingecko", s.endpoints.CoinGecko+"/api/v3/search/trending", &resp); err != nil {
		return nil, err
	}
	out := make([]model.Coin, 0, len(resp.Coins))
	for _, c := range resp.Coins {
		out = append(out, model.Coin{
			ID:     c.Item.ID,
			Name:   c.Item.Name,
			Symbol: c.Item.Symbol,
			Rank:   c.Item.MarketCapRank,
			Score:  c.Item.Score,
		})
	}
	return out, nil
}

func (s *Service) topStories(ctx context.Context) ([]model.Story, error) {
	var ids []int
	if err := s.getJSON(ctx, "hackernews", s.endpoints.HackerNews+"/v0/topstories.json", &ids); err != nil {
		return nil, err
	}
	limit := s.cfg.HackerNewsLimit
	if limit <= 0 {
		limit = 10
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	stories := make([]model.Story, len(ids))
	ok := make([]bool, len(ids))
	var g errgroup.Group
	g.SetLimit(5)
	for i, id := range ids {
		g.Go(func() error {
			var st model.Story
			if err := s.getJSON(ctx, "hackernews", fmt.Sprintf("%s/v0/item/%d.json", s.endpoints.HackerNews, id), &st); err != nil {
				logging.Debug("hn_item_failed", map[string]any{"id": id, "error": err.Error()})
				return nil
			}
			stories[i], ok[i] = st, true
			return nil
		})
	}
	_ = g.Wait()
	out := stories[:0]
	for i, st := range stories {
		if ok[i] {
			out = append(out, st)
		}
	}
	return out, nil
}
