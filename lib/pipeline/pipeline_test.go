package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"deadline/lib/filters"
	"deadline/lib/logger"
	"deadline/lib/search"
	"deadline/lib/store"
	"deadline/lib/types"
)

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) Search(ctx context.Context, query string, opts search.Options) ([]types.SearchResult, error) {
	args := m.Called(ctx, query, opts)
	results, _ := args.Get(0).([]types.SearchResult)
	return results, args.Error(1)
}

func (m *mockSearcher) SearchImages(ctx context.Context, query string) []string {
	images, _ := m.Called(ctx, query).Get(0).([]string)
	return images
}

type mockScraper struct{ mock.Mock }

func (m *mockScraper) ScrapeMany(ctx context.Context, urls []string) []types.ScrapedArticle {
	articles, _ := m.Called(ctx, urls).Get(0).([]types.ScrapedArticle)
	return articles
}

func (m *mockScraper) FetchFullText(ctx context.Context, results []types.SearchResult) []types.SearchResult {
	hydrated, _ := m.Called(ctx, results).Get(0).([]types.SearchResult)
	return hydrated
}

type mockAnalyzer struct{ mock.Mock }

func (m *mockAnalyzer) ExtractEventData(ctx context.Context, articles []types.ScrapedArticle, snippets []types.SearchResult, query string) (*types.StructuredEventData, error) {
	args := m.Called(ctx, articles, snippets, query)
	data, _ := args.Get(0).(*types.StructuredEventData)
	return data, args.Error(1)
}

func (m *mockAnalyzer) AnalyzeUpdates(ctx context.Context, event types.Event, groups []filters.DateGroup) (*types.UpdateAnalysis, error) {
	args := m.Called(ctx, event, groups)
	analysis, _ := args.Get(0).(*types.UpdateAnalysis)
	return analysis, args.Error(1)
}

type recordingCache struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (c *recordingCache) Invalidate(_ context.Context, tags ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, tags)
	return c.err
}

// memStore is an in-memory Gateway with the same frontier semantics as the
// Postgres implementation.
type memStore struct {
	mu      sync.Mutex
	events  map[int64]types.Event
	details map[int64]types.EventDetails
	updates []types.EventUpdate
	upserts int
}

func newMemStore(events ...types.Event) *memStore {
	s := &memStore{events: map[int64]types.Event{}, details: map[int64]types.EventDetails{}}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *memStore) GetEvent(_ context.Context, idOrSlug string) (*types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, err := strconv.ParseInt(idOrSlug, 10, 64); err == nil {
		if e, ok := s.events[id]; ok {
			return &e, nil
		}
	}
	for _, e := range s.events {
		if e.Slug == idOrSlug {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("event %q: %w", idOrSlug, store.ErrNotFound)
}

func (s *memStore) GetEventDetails(_ context.Context, eventID int64) (*types.EventDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.details[eventID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *memStore) UpsertEventDetails(_ context.Context, eventID int64, details *types.EventDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	s.details[eventID] = *details
	return nil
}

func (s *memStore) InsertUpdates(_ context.Context, updates []types.EventUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, updates...)
	return nil
}

func (s *memStore) UpdateEvent(_ context.Context, eventID int64, patch types.EventPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return store.ErrNotFound
	}
	if patch.LastUpdated != nil && patch.LastUpdated.After(e.LastUpdated) {
		e.LastUpdated = *patch.LastUpdated
	}
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	s.events[eventID] = e
	return nil
}

func (s *memStore) ApplyUpdates(ctx context.Context, batch types.UpdateBatch) error {
	status := batch.Status
	if err := s.UpdateEvent(ctx, batch.EventID, types.EventPatch{LastUpdated: &batch.LastUpdated, Status: &status}); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, batch.Updates...)
	d := s.details[batch.EventID]
	d.EventID = batch.EventID
	d.Sources = filters.DedupeStrings(d.Sources, batch.Sources)
	s.details[batch.EventID] = d
	return nil
}

func (s *memStore) ListUpdates(_ context.Context, eventID int64) ([]types.EventUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.EventUpdate
	for _, u := range s.updates {
		if u.EventID == eventID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *memStore) ListEventIDs(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := range s.events {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memStore) event(id int64) types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[id]
}

type fixture struct {
	store    *memStore
	searcher *mockSearcher
	scraper  *mockScraper
	analyzer *mockAnalyzer
	cache    *recordingCache
}

func newFixture(events ...types.Event) *fixture {
	return &fixture{
		store:    newMemStore(events...),
		searcher: new(mockSearcher),
		scraper:  new(mockScraper),
		analyzer: new(mockAnalyzer),
		cache:    &recordingCache{},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Store:    f.store,
		Searcher: f.searcher,
		Scraper:  f.scraper,
		Analyzer: f.analyzer,
		Cache:    f.cache,
		Logger:   logger.Discard(),
	}
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func result(title, link string, published *time.Time) types.SearchResult {
	return types.SearchResult{Title: title, Snippet: "snippet " + title, Link: link, PublishedDate: published}
}

func ptr(t time.Time) *time.Time { return &t }
