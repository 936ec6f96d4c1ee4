// Package pipeline composes search, scraping, the LLM and persistence into
// the two enrichment jobs: full detail extraction and incremental updates.
package pipeline

import (
	"context"
	"time"

	"deadline/lib/cache"
	"deadline/lib/filters"
	"deadline/lib/logger"
	"deadline/lib/search"
	"deadline/lib/store"
	"deadline/lib/types"
)

type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]types.SearchResult, error)
	SearchImages(ctx context.Context, query string) []string
}

type Scraper interface {
	ScrapeMany(ctx context.Context, urls []string) []types.ScrapedArticle
	FetchFullText(ctx context.Context, results []types.SearchResult) []types.SearchResult
}

type Analyzer interface {
	ExtractEventData(ctx context.Context, articles []types.ScrapedArticle, snippets []types.SearchResult, query string) (*types.StructuredEventData, error)
	AnalyzeUpdates(ctx context.Context, event types.Event, groups []filters.DateGroup) (*types.UpdateAnalysis, error)
}

// Deps are the collaborators shared by both pipelines. Cache may be nil.
type Deps struct {
	Store    store.Gateway
	Searcher Searcher
	Scraper  Scraper
	Analyzer Analyzer
	Cache    cache.Invalidator
	Logger   *logger.Logger
}

// invalidate drops the public caches of an event. Failures are logged only:
// the data is already persisted and the next invalidation will catch up.
func (d Deps) invalidate(ctx context.Context, event types.Event) {
	if d.Cache == nil {
		return
	}
	tags := event.Tags()
	if err := d.Cache.Invalidate(ctx, tags...); err != nil {
		d.Logger.Warning("Cache invalidation for %v failed: %v", tags, err)
	}
}

func ms(since time.Time) int64 {
	return time.Since(since).Milliseconds()
}
