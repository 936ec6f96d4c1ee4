package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"deadline/lib/filters"
	"deadline/lib/metrics"
	"deadline/lib/search"
	"deadline/lib/types"
)

const (
	MaxScrapeURLs = 10
	MaxImages     = 10
)

var ErrNoArticles = errors.New("no articles found or scraped")

type DetailSummary struct {
	ArticlesScraped int   `json:"articles_scraped"`
	Sources         int   `json:"sources"`
	Images          int   `json:"images"`
	TimelineEntries int   `json:"timeline_entries"`
	ElapsedMs       int64 `json:"elapsed_ms"`
}

type DetailResult struct {
	EventID int64                      `json:"event_id"`
	Data    *types.StructuredEventData `json:"data"`
	Summary DetailSummary              `json:"analysis_summary"`
}

// DetailExtractor builds an event's full details record from scratch.
type DetailExtractor struct {
	Deps
	pageCount int
}

func NewDetailExtractor(deps Deps, pageCount int) *DetailExtractor {
	return &DetailExtractor{Deps: deps, pageCount: pageCount}
}

func (d *DetailExtractor) Run(ctx context.Context, idOrSlug string) (*DetailResult, error) {
	started := time.Now()
	event, err := d.Store.GetEvent(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}
	d.Logger.Info("Extracting details for event %d: %q", event.ID, event.Query)

	var results []types.SearchResult
	var images []string
	t := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		results, err = d.Searcher.Search(gctx, event.Query, search.Options{PageCount: d.pageCount})
		return err
	})
	g.Go(func() error {
		images = d.Searcher.SearchImages(gctx, event.Query)
		return nil
	})
	if err := g.Wait(); err != nil {
		metrics.RecordRun(metrics.PipelineDetails, "search_failed")
		return nil, fmt.Errorf("search for event %d: %w", event.ID, err)
	}
	metrics.ObserveStage(metrics.PipelineDetails, "search", time.Since(t), len(results))

	candidates := filters.DedupeSimilarTitles(results)
	urls := make([]string, 0, MaxScrapeURLs)
	for _, r := range candidates {
		if len(urls) == MaxScrapeURLs {
			break
		}
		urls = append(urls, r.Link)
	}
	d.Logger.Info("Event %d: %d results, %d after title dedupe, scraping %d", event.ID, len(results), len(candidates), len(urls))

	t = time.Now()
	articles := d.Scraper.ScrapeMany(ctx, urls)
	metrics.ObserveStage(metrics.PipelineDetails, "scrape", time.Since(t), len(articles))
	if len(articles) == 0 {
		metrics.RecordRun(metrics.PipelineDetails, "no_articles")
		return nil, fmt.Errorf("event %d: %w", event.ID, ErrNoArticles)
	}

	t = time.Now()
	data, err := d.Analyzer.ExtractEventData(ctx, articles, candidates, event.Query)
	metrics.ObserveStage(metrics.PipelineDetails, "extract", time.Since(t), 1)
	if err != nil {
		metrics.RecordRun(metrics.PipelineDetails, "extraction_failed")
		return nil, fmt.Errorf("extract event %d: %w", event.ID, err)
	}

	previous, err := d.Store.GetEventDetails(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	scraped := make([]string, 0, len(articles))
	var articleImages []string
	for _, a := range articles {
		scraped = append(scraped, a.URL)
		articleImages = append(articleImages, a.Images...)
	}
	details := &types.EventDetails{
		EventID:  event.ID,
		Title:    data.Title,
		Location: data.Location,
		Details:  data.Details,
		Accused:  data.Accused,
		Victims:  data.Victims,
		Timeline: data.Timeline,
		Sources:  filters.DedupeStrings(scraped),
		Images:   filters.DedupeStrings(images, articleImages),
	}
	if previous != nil {
		details.Sources = filters.DedupeStrings(details.Sources, previous.Sources)
		details.CreatedAt = previous.CreatedAt
	}
	if len(details.Images) > MaxImages {
		details.Images = details.Images[:MaxImages]
	}

	t = time.Now()
	if err := d.Store.UpsertEventDetails(ctx, event.ID, details); err != nil {
		metrics.RecordRun(metrics.PipelineDetails, "persist_failed")
		return nil, err
	}
	metrics.ObserveStage(metrics.PipelineDetails, "persist", time.Since(t), 1)
	d.invalidate(ctx, *event)
	metrics.RecordRun(metrics.PipelineDetails, "success")

	result := &DetailResult{
		EventID: event.ID,
		Data:    data,
		Summary: DetailSummary{
			ArticlesScraped: len(articles),
			Sources:         len(details.Sources),
			Images:          len(details.Images),
			TimelineEntries: len(data.Timeline),
			ElapsedMs:       ms(started),
		},
	}
	d.Logger.Info("Saved details for event %d in %dms", event.ID, result.Summary.ElapsedMs)
	return result, nil
}
