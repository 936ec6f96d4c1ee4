package scraper

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"deadline/lib/logger"
	"deadline/lib/metrics"
	"deadline/lib/readability"
	"deadline/lib/types"
	"deadline/lib/web"
)

// MinContentLength is the shortest extracted text, in characters, worth
// sending to the LLM.
const MinContentLength = 100

type Scraper struct {
	fetcher *web.Fetcher
	timeout time.Duration
	logger  *logger.Logger
}

func New(fetcher *web.Fetcher, timeout time.Duration, log *logger.Logger) *Scraper {
	return &Scraper{fetcher: fetcher, timeout: timeout, logger: log}
}

// Scrape fetches one URL under its own timeout. Any failure yields nil.
func (s *Scraper) Scrape(ctx context.Context, url string) *types.ScrapedArticle {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, header, err := s.fetcher.Get(ctx, url)
	if err != nil {
		s.logger.Warning("Scrape failed for %s: %v", url, err)
		metrics.RecordFetchFailure("scraper")
		return nil
	}
	if ct := header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text/plain") {
		s.logger.Info("Skipping non-HTML content (%s) at %s", ct, url)
		return nil
	}

	article := readability.Extract(string(body), url)
	s.logger.Debug("Scraped %s: %d chars, title %q", url, utf8.RuneCountInString(article.Content), article.Title)
	return &article
}

// ScrapeMany scrapes every URL concurrently. One failure never cancels its
// siblings; results keep the input order and short extractions are dropped.
func (s *Scraper) ScrapeMany(ctx context.Context, urls []string) []types.ScrapedArticle {
	slots := make([]*types.ScrapedArticle, len(urls))

	var g errgroup.Group
	for i, url := range urls {
		g.Go(func() error {
			slots[i] = s.Scrape(ctx, url)
			return nil
		})
	}
	_ = g.Wait()

	articles := []types.ScrapedArticle{}
	for _, a := range slots {
		if a == nil || utf8.RuneCountInString(a.Content) <= MinContentLength {
			continue
		}
		articles = append(articles, *a)
	}
	s.logger.Info("Scraped %d/%d URLs with usable content", len(articles), len(urls))
	return articles
}

// FetchFullText hydrates FullContent for each result. Unlike ScrapeMany
// nothing is dropped: a result whose page could not be fetched keeps an empty
// FullContent and still reaches the LLM on its snippet alone.
func (s *Scraper) FetchFullText(ctx context.Context, results []types.SearchResult) []types.SearchResult {
	hydrated := make([]types.SearchResult, len(results))
	copy(hydrated, results)

	var g errgroup.Group
	for i := range hydrated {
		g.Go(func() error {
			if a := s.Scrape(ctx, hydrated[i].Link); a != nil {
				hydrated[i].FullContent = a.Content
			}
			return nil
		})
	}
	_ = g.Wait()
	return hydrated
}
