package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"deadline/lib/llm"
	"deadline/lib/search"
	"deadline/lib/store"
	"deadline/lib/types"
)

var detailOpts = search.Options{PageCount: 3}

func extractedData() *types.StructuredEventData {
	data := &types.StructuredEventData{
		Title:    "Dam failure kills 40 in village",
		Location: "Brumadinho, Minas Gerais, Brazil",
		Details:  types.Details{Overview: "The dam failed."},
		Timeline: []types.TimelineEntry{{Date: "2024-01-05", Context: "Collapse"}},
	}
	data.EnsureDefaults()
	return data
}

func TestDetailExtractorRun(t *testing.T) {
	f := newFixture(damEvent)
	created := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	f.store.details[1] = types.EventDetails{
		EventID:   1,
		Sources:   []string{"https://old.example/x", "https://a.example/1"},
		CreatedAt: created,
	}

	results := []types.SearchResult{
		result("Dam failure kills 40 in village", "https://a.example/1", nil),
		result("Dam failure kills 40 in village - Wire", "https://wire.example/1", nil),
		result("Operator blamed for dam collapse", "https://b.example/2", nil),
	}
	candidates := []types.SearchResult{results[0], results[2]}
	articles := []types.ScrapedArticle{
		{URL: "https://a.example/1", Content: "long text a", Images: []string{"https://img.example/2.jpg", "https://img.example/3.jpg"}},
		{URL: "https://b.example/2", Content: "long text b"},
	}

	f.searcher.On("Search", mock.Anything, damEvent.Query, detailOpts).Return(results, nil)
	f.searcher.On("SearchImages", mock.Anything, damEvent.Query).Return([]string{"https://img.example/1.jpg", "https://img.example/2.jpg"})
	f.scraper.On("ScrapeMany", mock.Anything, []string{"https://a.example/1", "https://b.example/2"}).Return(articles)
	f.analyzer.On("ExtractEventData", mock.Anything, articles, candidates, damEvent.Query).Return(extractedData(), nil)

	res, err := NewDetailExtractor(f.deps(), 3).Run(context.Background(), "1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.EventID)
	assert.Equal(t, "Brumadinho, Minas Gerais, Brazil", res.Data.Location)
	assert.Equal(t, DetailSummary{
		ArticlesScraped: 2,
		Sources:         3,
		Images:          3,
		TimelineEntries: 1,
		ElapsedMs:       res.Summary.ElapsedMs,
	}, res.Summary)

	saved := f.store.details[1]
	assert.Equal(t, "Dam failure kills 40 in village", saved.Title)
	assert.Equal(t, []string{"https://a.example/1", "https://b.example/2", "https://old.example/x"}, saved.Sources)
	assert.Equal(t, []string{"https://img.example/1.jpg", "https://img.example/2.jpg", "https://img.example/3.jpg"}, saved.Images)
	assert.Equal(t, created, saved.CreatedAt)
	assert.Equal(t, [][]string{{"event-1", "event-dam-failure", "events"}}, f.cache.calls)
	f.searcher.AssertExpectations(t)
	f.scraper.AssertExpectations(t)
	f.analyzer.AssertExpectations(t)
}

func TestDetailExtractorCapsScrapeCandidates(t *testing.T) {
	f := newFixture(damEvent)
	var results []types.SearchResult
	var images []string
	for i := 0; i < 15; i++ {
		results = append(results, result(strings.Repeat(string(rune('a'+i)), 10)+" reported about the dam case", fmt.Sprintf("https://n%d.example/", i), nil))
		images = append(images, fmt.Sprintf("https://img.example/%d.jpg", i))
	}

	f.searcher.On("Search", mock.Anything, damEvent.Query, detailOpts).Return(results, nil)
	f.searcher.On("SearchImages", mock.Anything, damEvent.Query).Return(images)
	f.scraper.On("ScrapeMany", mock.Anything, mock.MatchedBy(func(urls []string) bool { return len(urls) == MaxScrapeURLs })).
		Return([]types.ScrapedArticle{{URL: "https://n0.example/", Content: "text"}})
	f.analyzer.On("ExtractEventData", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(extractedData(), nil)

	res, err := NewDetailExtractor(f.deps(), 3).Run(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, MaxImages, res.Summary.Images)
	assert.Len(t, f.store.details[1].Images, MaxImages)
	f.scraper.AssertExpectations(t)
}

func TestDetailExtractorNoArticlesWritesNothing(t *testing.T) {
	f := newFixture(damEvent)
	f.searcher.On("Search", mock.Anything, damEvent.Query, detailOpts).Return([]types.SearchResult{
		result("Dam failure kills 40 in village", "https://slow.example/1", nil),
	}, nil)
	f.searcher.On("SearchImages", mock.Anything, damEvent.Query).Return([]string{})
	f.scraper.On("ScrapeMany", mock.Anything, []string{"https://slow.example/1"}).Return([]types.ScrapedArticle{})

	res, err := NewDetailExtractor(f.deps(), 3).Run(context.Background(), "1")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrNoArticles)
	assert.Zero(t, f.store.upserts)
	assert.Empty(t, f.store.details)
	assert.Empty(t, f.cache.calls)
	f.analyzer.AssertNotCalled(t, "ExtractEventData", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDetailExtractorMalformedExtractionWritesNothing(t *testing.T) {
	f := newFixture(damEvent)
	f.searcher.On("Search", mock.Anything, damEvent.Query, detailOpts).Return([]types.SearchResult{
		result("Dam failure kills 40 in village", "https://a.example/1", nil),
	}, nil)
	f.searcher.On("SearchImages", mock.Anything, damEvent.Query).Return([]string{})
	f.scraper.On("ScrapeMany", mock.Anything, mock.Anything).Return([]types.ScrapedArticle{{URL: "https://a.example/1", Content: "text"}})
	f.analyzer.On("ExtractEventData", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: no JSON object found", llm.ErrMalformedResponse))

	_, err := NewDetailExtractor(f.deps(), 3).Run(context.Background(), "1")
	assert.ErrorIs(t, err, llm.ErrMalformedResponse)
	assert.Zero(t, f.store.upserts)
}

func TestDetailExtractorUnknownEvent(t *testing.T) {
	f := newFixture()
	_, err := NewDetailExtractor(f.deps(), 3).Run(context.Background(), "missing-slug")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDetailExtractorSearchError(t *testing.T) {
	f := newFixture(damEvent)
	boom := errors.New("search query must not be empty")
	f.searcher.On("Search", mock.Anything, damEvent.Query, detailOpts).Return(nil, boom)
	f.searcher.On("SearchImages", mock.Anything, damEvent.Query).Return([]string{})

	_, err := NewDetailExtractor(f.deps(), 3).Run(context.Background(), "1")
	assert.ErrorIs(t, err, boom)
}
