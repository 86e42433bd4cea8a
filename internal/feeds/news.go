package feeds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"beacon/internal/logging"
	"beacon/internal/model"
	"beacon/internal/util"

	"golang.org/x/sync/errgroup"
)

// SearchCategories are the categories SearchNews looks through.
var SearchCategories = []string{"world", "business", "technology"}

// News returns the category's headlines from every configured RSS provider,
// newest first. Results are cached per category.
func (s *Service) News(ctx context.Context, category string) []model.NewsItem {
	if category == "" {
		category = "technology"
	}
	return s.news.Get(ctx, category, func(ctx context.Context) ([]model.NewsItem, error) {
		return s.FetchNews(ctx, category)
	})
}

// FetchNews reads every provider feed for category, skipping feeds that
// fail. It errors only when no feed could be read.
func (s *Service) FetchNews(ctx context.Context, category string) ([]model.NewsItem, error) {
	type feed struct{ provider, url string }
	var feeds []feed
	for provider, cats := range s.cfg.RSS {
		if u, ok := cats[category]; ok && u != "" {
			feeds = append(feeds, feed{provider, u})
		}
	}
	if len(feeds) == 0 {
		return nil, nil
	}
	var (
		mu   sync.Mutex
		out  []model.NewsItem
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(4)
	for _, f := range feeds {
		g.Go(func() error {
			items, err := s.readFeed(ctx, f.provider, category, f.url)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logging.Warn("rss_fetch_failed", map[string]any{"provider": f.provider, "category": category, "error": err.Error()})
				errs = append(errs, err)
				return nil
			}
			out = append(out, items...)
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) == len(feeds) {
		return nil, fmt.Errorf("all %s feeds failed: %w", category, errors.Join(errs...))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	return out, nil
}

func (s *Service) readFeed(ctx context.Context, provider, category, u string) ([]model.NewsItem, error) {
	f, err := s.parser.ParseURLWithContext(u, ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	items := make([]model.NewsItem, 0, len(f.Items))
	for _, it := range f.Items {
		desc := it.Description
		if desc == "" {
			desc = it.Content
		}
		published := now
		if it.PublishedParsed != nil {
			published = *it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			published = *it.UpdatedParsed
		}
		items = append(items, model.NewsItem{
			Title:       strings.TrimSpace(it.Title),
			Description: util.NormalizeWhitespace(desc),
			URL:         it.Link,
			Source:      provider,
			Category:    category,
			PublishedAt: published,
		})
	}
	return items, nil
}

// SearchNews returns headlines across SearchCategories whose title or
// description contains query, ignoring case. Duplicate URLs are dropped.
func (s *Service) SearchNews(ctx context.Context, query string) []model.NewsItem {
	q := strings.ToLower(strings.TrimSpace(query))
	seen := make(map[string]bool)
	var out []model.NewsItem
	for _, cat := range SearchCategories {
		for _, n := range s.News(ctx, cat) {
			if q != "" && !strings.Contains(strings.ToLower(n.Title), q) && !strings.Contains(strings.ToLower(n.Description), q) {
				continue
			}
			if seen[n.URL] {
				continue
			}
			seen[n.URL] = true
			out = append(out, n)
		}
	}
	return out
}
