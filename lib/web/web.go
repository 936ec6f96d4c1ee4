package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// DefaultMaxBody bounds how much of a response we are willing to read.
const DefaultMaxBody = 5 << 20

var ErrStatus = errors.New("http status not OK")

// StatusError carries the status code of a non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %d for %s", ErrStatus, e.Code, e.URL)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Fetcher wraps an http.Client into a convenient GET handler.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
	MaxBody   int64
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: DefaultUserAgent,
		MaxBody:   DefaultMaxBody,
	}
}

// Get fetches url and returns the body and the response headers.
// Non-2xx responses are reported as *StatusError.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	ua := f.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.Header, &StatusError{Code: resp.StatusCode, URL: rawURL}
	}

	limit := f.MaxBody
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, resp.Header, err
	}
	return body, resp.Header, nil
}

// PostJSON sends payload as a JSON body with the given extra headers.
// Non-2xx responses are reported as *StatusError.
func (f *Fetcher) PostJSON(ctx context.Context, rawURL string, payload any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, URL: rawURL}
	}
	return nil
}

/* Html cleanup functions */

// StripScriptsAndStyles drops <script>, <style> and <noscript> blocks and inline
// style attributes. class and id are kept: content detection relies on them.
func StripScriptsAndStyles(r io.Reader) (string, error) {
	var b bytes.Buffer
	z := html.NewTokenizer(r)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return b.String(), nil
			}
			return "", z.Err()

		case html.StartTagToken, html.SelfClosingTagToken:
			token := z.Token()
			if tt == html.StartTagToken && isSkippedBlock(token.Data) {
				findAndSkip(z, token.Data)
				continue
			}
			token = removeStyleAttribute(token)
			b.WriteString(token.String())

		default:
			// Text keeps its original (escaped) form; z.Token().String() would re-escape it.
			b.Write(z.Raw())
		}
	}
}

func isSkippedBlock(tag string) bool {
	return tag == "script" || tag == "style" || tag == "noscript"
}

func findAndSkip(z *html.Tokenizer, tagName string) {
	depth := 1
	for depth > 0 {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return
		case html.StartTagToken:
			if z.Token().Data == tagName {
				depth++
			}
		case html.EndTagToken:
			if z.Token().Data == tagName {
				depth--
			}
		}
	}
}

func removeStyleAttribute(token html.Token) html.Token {
	attrs := token.Attr[:0]
	for _, attr := range token.Attr {
		if attr.Key == "style" || strings.HasPrefix(attr.Key, "on") {
			continue
		}
		attrs = append(attrs, attr)
	}
	token.Attr = attrs
	return token
}

// LooksLikeHTML reports whether a body that should be JSON is an HTML page.
func LooksLikeHTML(body []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 512)])))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html") || strings.Contains(head, "<body")
}

// GetDomain returns the lowercase hostname of link without a leading "www.".
func GetDomain(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Hostname() == "" {
		return strings.TrimPrefix(strings.ToLower(link), "www.")
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// HostMatches is true when host is domain or one of its subdomains.
func HostMatches(host, domain string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
