package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deadline/lib/logger"
	"deadline/lib/types"
	"deadline/lib/web"
)

const body = "The tribunal heard that warnings about the dam had been filed three times before it failed. "

func page(title string) string {
	return fmt.Sprintf(`<html><head><title>%s</title></head><body><article><p>%s</p></article></body></html>`, title, strings.Repeat(body, 3))
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good", "/good2":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, page("Dam inquiry hears of ignored warnings "+r.URL.Path))
		case "/thin":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body><p>Subscribe to continue reading.</p></body></html>`)
		case "/thin-hindi":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body><p>`+strings.Repeat("क", 60)+`</p></body></html>`)
		case "/pdf":
			w.Header().Set("Content-Type", "application/pdf")
			fmt.Fprint(w, "%PDF-1.4")
		case "/slow":
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newScraper(server *httptest.Server) *Scraper {
	return New(&web.Fetcher{Client: server.Client()}, 100*time.Millisecond, logger.Discard())
}

func TestScrape(t *testing.T) {
	server := newServer(t)
	s := newScraper(server)

	t.Run("extracts article", func(t *testing.T) {
		a := s.Scrape(context.Background(), server.URL+"/good")
		require.NotNil(t, a)
		assert.Equal(t, server.URL+"/good", a.URL)
		assert.Contains(t, a.Content, "warnings about the dam")
	})

	t.Run("non OK status is nil", func(t *testing.T) {
		assert.Nil(t, s.Scrape(context.Background(), server.URL+"/paywalled"))
	})

	t.Run("timeout is nil", func(t *testing.T) {
		start := time.Now()
		assert.Nil(t, s.Scrape(context.Background(), server.URL+"/slow"))
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("non html is nil", func(t *testing.T) {
		assert.Nil(t, s.Scrape(context.Background(), server.URL+"/pdf"))
	})

	t.Run("unreachable host is nil", func(t *testing.T) {
		assert.Nil(t, s.Scrape(context.Background(), "http://127.0.0.1:1/unreachable"))
	})
}

func TestScrapeManyToleratesFailures(t *testing.T) {
	server := newServer(t)
	s := newScraper(server)

	urls := []string{
		server.URL + "/slow",
		server.URL + "/good",
		server.URL + "/blocked",
		server.URL + "/thin",
		server.URL + "/good2",
	}
	articles := s.ScrapeMany(context.Background(), urls)

	require.Len(t, articles, 2)
	assert.Equal(t, server.URL+"/good", articles[0].URL)
	assert.Equal(t, server.URL+"/good2", articles[1].URL)
}

func TestScrapeManyMeasuresContentInCharacters(t *testing.T) {
	server := newServer(t)
	s := newScraper(server)

	a := s.Scrape(context.Background(), server.URL+"/thin-hindi")
	require.NotNil(t, a)
	assert.Greater(t, len(a.Content), MinContentLength)

	articles := s.ScrapeMany(context.Background(), []string{server.URL + "/thin-hindi", server.URL + "/good"})
	require.Len(t, articles, 1)
	assert.Equal(t, server.URL+"/good", articles[0].URL)
}

func TestScrapeManyAllFail(t *testing.T) {
	server := newServer(t)
	s := newScraper(server)

	articles := s.ScrapeMany(context.Background(), []string{server.URL + "/slow", server.URL + "/blocked"})
	assert.NotNil(t, articles)
	assert.Empty(t, articles)
}

func TestFetchFullTextKeepsEveryResult(t *testing.T) {
	server := newServer(t)
	s := newScraper(server)

	results := []types.SearchResult{
		{Title: "a", Link: server.URL + "/good", Snippet: "s1"},
		{Title: "b", Link: server.URL + "/blocked", Snippet: "s2"},
	}
	hydrated := s.FetchFullText(context.Background(), results)

	require.Len(t, hydrated, 2)
	assert.Contains(t, hydrated[0].FullContent, "warnings about the dam")
	assert.Empty(t, hydrated[1].FullContent)
	assert.Equal(t, "s2", hydrated[1].Snippet)
	assert.Empty(t, results[0].FullContent, "input slice must not be mutated")
}
