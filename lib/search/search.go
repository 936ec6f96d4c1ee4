package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"deadline/lib/config"
	"deadline/lib/filters"
	"deadline/lib/logger"
	"deadline/lib/metrics"
	"deadline/lib/types"
	"deadline/lib/web"
)

const (
	DefaultEndpoint = "https://www.googleapis.com/customsearch/v1"
	resultsPerPage  = 10
	maxImages       = 10
)

var errHTMLResponse = errors.New("search provider returned an HTML page instead of JSON")

type Options struct {
	PageCount        int
	ExcludeDomains   []string
	DateRestrictDays int
}

type Client struct {
	Endpoint string

	apiKey    string
	cx        string
	fetcher   *web.Fetcher
	pageDelay time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

// NewClient refuses to build a client without provider credentials, so a
// misconfiguration surfaces at startup rather than as empty search results.
func NewClient(apiKey, cx string, fetcher *web.Fetcher, pageDelay time.Duration, log *logger.Logger) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(cx) == "" {
		return nil, fmt.Errorf("%w: GOOGLE_API_KEY and GOOGLE_CSE_ID are required", config.ErrMissingCredentials)
	}
	return &Client{
		Endpoint:  DefaultEndpoint,
		apiKey:    apiKey,
		cx:        cx,
		fetcher:   fetcher,
		pageDelay: pageDelay,
		logger:    log,
		now:       time.Now,
	}, nil
}

type cseResponse struct {
	Items []cseItem `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type cseItem struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Snippet     string `json:"snippet"`
	DisplayLink string `json:"displayLink"`
	Mime        string `json:"mime"`
	Pagemap     struct {
		Metatags []map[string]any `json:"metatags"`
	} `json:"pagemap"`
}

// Search runs query over opts.PageCount result pages. A failing page is
// logged and skipped; it never aborts the search.
func (c *Client) Search(ctx context.Context, query string, opts Options) ([]types.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is empty")
	}
	pageCount := opts.PageCount
	if pageCount < 1 {
		pageCount = 1
	}
	excluded := append(append([]string{}, filters.DefaultExcludedDomains...), opts.ExcludeDomains...)

	limiter := rate.NewLimiter(rate.Every(c.pageDelay), 1)
	seen := make(map[string]bool)
	var results []types.SearchResult

	for page := 0; page < pageCount; page++ {
		if err := limiter.Wait(ctx); err != nil {
			c.logger.Warning("Search for %q stopped before page %d: %v", query, page+1, err)
			break
		}
		offset := page * resultsPerPage
		items, err := c.fetchPage(ctx, query, offset, opts.DateRestrictDays, false)
		if err != nil {
			c.logger.Warning("Skipping search page %d (offset %d) for %q: %v", page+1, offset, query, err)
			metrics.RecordFetchFailure("search")
			continue
		}
		c.logger.Debug("Search page %d for %q returned %d items", page+1, query, len(items))

		for _, item := range items {
			result := c.normalize(item)
			if result.Title == "" || result.Snippet == "" {
				continue
			}
			if !strings.HasPrefix(result.Link, "http://") && !strings.HasPrefix(result.Link, "https://") {
				continue
			}
			if seen[result.Link] {
				continue
			}
			if filters.IsExcluded(result, excluded) {
				c.logger.Debug("Skipping excluded domain: %v", result.Link)
				continue
			}
			seen[result.Link] = true
			results = append(results, result)
		}
	}

	c.logger.Info("Search for %q returned %d results over %d pages", query, len(results), pageCount)
	return results, nil
}

// SearchImages is best effort: any failure yields an empty list.
func (c *Client) SearchImages(ctx context.Context, query string) []string {
	images := []string{}
	items, err := c.fetchPage(ctx, query, 0, 0, true)
	if err != nil {
		c.logger.Warning("Image search for %q failed: %v", query, err)
		metrics.RecordFetchFailure("image_search")
		return images
	}
	seen := make(map[string]bool)
	for _, item := range items {
		link := strings.TrimSpace(item.Link)
		if link == "" || seen[link] || !IsLikelyImage(link) {
			continue
		}
		seen[link] = true
		images = append(images, link)
		if len(images) == maxImages {
			break
		}
	}
	return images
}

var iconFragments = []string{"favicon", "logo", "icon", "sprite", "avatar"}
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// IsLikelyImage drops icons and logos and requires an image-looking URL.
func IsLikelyImage(link string) bool {
	lower := strings.ToLower(link)
	for _, fragment := range iconFragments {
		if strings.Contains(lower, fragment) {
			return false
		}
	}
	path := lower
	if u, err := url.Parse(lower); err == nil {
		path = u.Path
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return strings.Contains(lower, "image")
}

func (c *Client) fetchPage(ctx context.Context, query string, offset, dateRestrictDays int, images bool) ([]cseItem, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.cx)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(resultsPerPage))
	// The provider's start parameter is 1-based.
	params.Set("start", strconv.Itoa(offset+1))
	if dateRestrictDays > 0 {
		params.Set("dateRestrict", fmt.Sprintf("d%d", dateRestrictDays))
	}
	if images {
		params.Set("searchType", "image")
		params.Set("safe", "active")
	}

	body, _, err := c.fetcher.Get(ctx, c.Endpoint+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if web.LooksLikeHTML(body) {
		return nil, errHTMLResponse
	}
	var resp cseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("search provider error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Items, nil
}

func (c *Client) normalize(item cseItem) types.SearchResult {
	result := types.SearchResult{
		Title:       clean(item.Title),
		Snippet:     clean(item.Snippet),
		Link:        strings.TrimSpace(item.Link),
		DisplayLink: strings.TrimSpace(item.DisplayLink),
	}
	result.PublishedDate = publishedFromMetatags(item.Pagemap.Metatags)
	if result.PublishedDate == nil {
		result.PublishedDate = publishedFromSnippet(result.Snippet, c.now())
	}
	return result
}

func clean(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}
