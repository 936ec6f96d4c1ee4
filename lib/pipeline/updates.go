package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"deadline/lib/filters"
	"deadline/lib/metrics"
	"deadline/lib/search"
	"deadline/lib/types"
)

var ErrExtractionFailed = errors.New("failed to extract updates from new articles")

type Stage string

const (
	StageIdle       Stage = "IDLE"
	StageSearching  Stage = "SEARCHING"
	StageFiltering  Stage = "FILTERING"
	StageScraping   Stage = "SCRAPING"
	StageAnalyzing  Stage = "ANALYZING"
	StagePersisting Stage = "PERSISTING"
)

type Outcome string

const (
	OutcomeNoUpdates        Outcome = "no_updates"
	OutcomeExtractionFailed Outcome = "extraction_failed"
	OutcomeUpdated          Outcome = "updated"
)

// Debug is returned to the caller on every run: it is the only view into
// which stage took the time or dropped the candidates.
type Debug struct {
	Frontier       string `json:"frontier"`
	SearchMs       int64  `json:"search_ms"`
	FilterMs       int64  `json:"filter_ms"`
	ScrapeMs       int64  `json:"scrape_ms"`
	AnalyzeMs      int64  `json:"analyze_ms"`
	PersistMs      int64  `json:"persist_ms"`
	TotalMs        int64  `json:"total_ms"`
	RawResults     int    `json:"raw_results"`
	NewerResults   int    `json:"newer_results"`
	Selected       int    `json:"selected"`
	WithContent    int    `json:"with_content"`
	UpdatesCreated int    `json:"updates_created"`
}

type UpdateResult struct {
	EventID     int64               `json:"event_id"`
	Outcome     Outcome             `json:"outcome"`
	Stage       Stage               `json:"stage"`
	Updates     []types.EventUpdate `json:"updates"`
	Status      string              `json:"status"`
	LastUpdated time.Time           `json:"last_updated"`
	Debug       Debug               `json:"debug"`
}

type UpdateOptions struct {
	PageCount        int
	DateRestrictDays int
	PerDate          int
}

// UpdateDetector appends updates newer than an event's last_updated frontier.
// Re-running it right after a success finds nothing newer and stops before
// the LLM, so duplicate or overlapping runs are harmless.
type UpdateDetector struct {
	Deps
	opts UpdateOptions
	now  func() time.Time
}

func NewUpdateDetector(deps Deps, opts UpdateOptions) *UpdateDetector {
	if opts.PerDate < 1 {
		opts.PerDate = 3
	}
	return &UpdateDetector{Deps: deps, opts: opts, now: time.Now}
}

func (d *UpdateDetector) Run(ctx context.Context, idOrSlug string) (*UpdateResult, error) {
	started := time.Now()
	event, err := d.Store.GetEvent(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}

	res := &UpdateResult{
		EventID:     event.ID,
		Stage:       StageIdle,
		Updates:     []types.EventUpdate{},
		Status:      event.Status,
		LastUpdated: event.LastUpdated,
	}
	res.Debug.Frontier = event.LastUpdated.UTC().Format(time.RFC3339)
	defer func() {
		res.Debug.TotalMs = ms(started)
		if res.Outcome != "" {
			metrics.RecordRun(metrics.PipelineUpdates, string(res.Outcome))
		}
	}()

	res.Stage = StageSearching
	t := time.Now()
	results, err := d.Searcher.Search(ctx, event.Query, search.Options{
		PageCount:        d.opts.PageCount,
		DateRestrictDays: d.opts.DateRestrictDays,
	})
	res.Debug.SearchMs = ms(t)
	if err != nil {
		return res, fmt.Errorf("search for event %d: %w", event.ID, err)
	}
	res.Debug.RawResults = len(results)
	metrics.ObserveStage(metrics.PipelineUpdates, "search", time.Since(t), len(results))

	res.Stage = StageFiltering
	t = time.Now()
	newer := filters.NewerThan(results, event.LastUpdated, d.now())
	res.Debug.NewerResults = len(newer)
	if len(newer) == 0 {
		res.Debug.FilterMs = ms(t)
		res.Stage = StageIdle
		res.Outcome = OutcomeNoUpdates
		d.Logger.Info("Event %d: no results newer than %s (%d raw)", event.ID, res.Debug.Frontier, len(results))
		return res, nil
	}
	selected := filters.Flatten(filters.CapPerDate(newer, d.opts.PerDate))
	res.Debug.Selected = len(selected)
	res.Debug.FilterMs = ms(t)
	metrics.ObserveStage(metrics.PipelineUpdates, "filter", time.Since(t), len(selected))

	res.Stage = StageScraping
	t = time.Now()
	hydrated := d.Scraper.FetchFullText(ctx, selected)
	for _, r := range hydrated {
		if r.FullContent != "" {
			res.Debug.WithContent++
		}
	}
	res.Debug.ScrapeMs = ms(t)
	metrics.ObserveStage(metrics.PipelineUpdates, "scrape", time.Since(t), res.Debug.WithContent)

	res.Stage = StageAnalyzing
	t = time.Now()
	analysis, err := d.Analyzer.AnalyzeUpdates(ctx, *event, filters.CapPerDate(hydrated, d.opts.PerDate))
	res.Debug.AnalyzeMs = ms(t)
	if err == nil && len(analysis.Updates) == 0 {
		err = errors.New("no valid update records in response")
	}
	if err != nil {
		res.Outcome = OutcomeExtractionFailed
		d.Logger.Error("Event %d: %d new articles but no updates: %v", event.ID, len(selected), err)
		return res, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	metrics.ObserveStage(metrics.PipelineUpdates, "analyze", time.Since(t), len(analysis.Updates))

	res.Stage = StagePersisting
	t = time.Now()
	batch := d.buildBatch(*event, analysis, newer, hydrated)
	if err := d.Store.ApplyUpdates(ctx, batch); err != nil {
		return res, fmt.Errorf("persist updates for event %d: %w", event.ID, err)
	}
	res.Debug.PersistMs = ms(t)
	d.invalidate(ctx, *event)

	res.Stage = StageIdle
	res.Outcome = OutcomeUpdated
	res.Updates = batch.Updates
	res.Status = batch.Status
	res.LastUpdated = batch.LastUpdated
	res.Debug.UpdatesCreated = len(batch.Updates)
	d.Logger.Info("Event %d: created %d updates, status %s, last_updated %s",
		event.ID, len(batch.Updates), batch.Status, batch.LastUpdated.Format(time.RFC3339))
	return res, nil
}

// buildBatch turns the analysis into rows. The new frontier is the latest of
// the old one, every update date and every publish time examined in this
// run, so the same articles are not picked up again.
func (d *UpdateDetector) buildBatch(event types.Event, analysis *types.UpdateAnalysis, newer, hydrated []types.SearchResult) types.UpdateBatch {
	frontier := event.LastUpdated
	updates := make([]types.EventUpdate, 0, len(analysis.Updates))
	for _, rec := range analysis.Updates {
		date, err := time.Parse(time.DateOnly, rec.Date)
		if err != nil {
			continue
		}
		updates = append(updates, types.EventUpdate{
			ID:          uuid.NewString(),
			EventID:     event.ID,
			Title:       rec.Title,
			Description: rec.Description,
			UpdateDate:  date,
		})
		if date.After(frontier) {
			frontier = date
		}
	}
	// Results capped out of the batch or skipped by the model are retired too.
	for _, r := range newer {
		if r.PublishedDate.After(frontier) {
			frontier = *r.PublishedDate
		}
	}

	status := analysis.Status
	if status == "" {
		status = event.Status
	}

	sources := make([]string, 0, len(hydrated))
	for _, r := range hydrated {
		sources = append(sources, r.Link)
	}

	return types.UpdateBatch{
		EventID:     event.ID,
		Updates:     updates,
		LastUpdated: frontier.UTC(),
		Status:      status,
		Sources:     filters.DedupeStrings(sources),
	}
}

type SweepSummary struct {
	Checked   int
	Updated   int
	NoUpdates int
	Failed    int
}

// RunAll checks every event once. A failing event is logged and skipped.
func (d *UpdateDetector) RunAll(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary
	ids, err := d.Store.ListEventIDs(ctx)
	if err != nil {
		return summary, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		res, err := d.Run(ctx, strconv.FormatInt(id, 10))
		switch {
		case err != nil:
			summary.Failed++
			d.Logger.Error("Update check for event %d failed: %v", id, err)
		case res.Outcome == OutcomeUpdated:
			summary.Updated++
		default:
			summary.NoUpdates++
		}
	}
	d.Logger.Info("Update sweep done: %d checked, %d updated, %d unchanged, %d failed",
		summary.Checked, summary.Updated, summary.NoUpdates, summary.Failed)
	return summary, nil
}
