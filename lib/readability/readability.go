package readability

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"deadline/lib/filters"
	"deadline/lib/types"
	"deadline/lib/web"
)

const (
	// MinSufficientLength is the point at which a strategy's output is
	// accepted. Lengths here are counted in characters.
	MinSufficientLength = 200
	// MaxContentLength bounds what is handed to the LLM per article.
	MaxContentLength = 4000
	MaxTitleLength   = 120
	minLeafDivLength = 20
)

var contentClass = regexp.MustCompile(`(?i)content|article|post|story|news`)

var stripPolicy = func() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}()

type strategy struct {
	name string
	run  func(doc *goquery.Document) string
}

var strategies = []strategy{
	{"content-block", largestContentBlock},
	{"paragraphs", paragraphText},
	{"divs", leafDivText},
	{"meta-description", metaDescription},
}

// Extract isolates the main article text of rawHTML. It never fails: when no
// usable text is found the article comes back with empty Content.
func Extract(rawHTML, sourceURL string) types.ScrapedArticle {
	article := types.ScrapedArticle{URL: sourceURL, Source: web.GetDomain(sourceURL)}

	// Scripts and styles go first, before any text heuristic sees them.
	cleaned, err := web.StripScriptsAndStyles(strings.NewReader(rawHTML))
	if err != nil {
		cleaned = rawHTML
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cleaned))
	if err != nil {
		return article
	}
	doc.Find("script, style, noscript, template").Remove()

	article.Title = ExtractTitle(doc)
	article.Images = ExtractImages(doc, sourceURL)

	doc.Find("nav, header, footer, aside, form, iframe, [role='navigation']").Remove()
	article.Content = filters.Truncate(extractContent(doc), MaxContentLength)
	return article
}

func extractContent(doc *goquery.Document) string {
	best, bestLen := "", 0
	for _, s := range strategies {
		text := s.run(doc)
		n := utf8.RuneCountInString(text)
		if n >= MinSufficientLength {
			return text
		}
		if n > bestLen {
			best, bestLen = text, n
		}
	}
	return best
}

// collapse turns a selection into plain text with tags replaced by whitespace.
func collapse(sel *goquery.Selection) string {
	raw, err := goquery.OuterHtml(sel)
	if err != nil {
		return normalizeWhitespace(sel.Text())
	}
	return normalizeWhitespace(html.UnescapeString(stripPolicy.Sanitize(raw)))
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func largestContentBlock(doc *goquery.Document) string {
	longest, longestLen := "", 0
	doc.Find("article, main, div[class]").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "div" {
			class, _ := s.Attr("class")
			if !contentClass.MatchString(class) {
				return
			}
		}
		text := collapse(s)
		if n := utf8.RuneCountInString(text); n > longestLen {
			longest, longestLen = text, n
		}
	})
	return longest
}

func paragraphText(doc *goquery.Document) string {
	var parts []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := collapse(s); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

// leafDivText walks the div tree and keeps the text of the innermost divs, so
// nested wrappers do not repeat their children's text.
func leafDivText(doc *goquery.Document) string {
	var parts []string
	doc.Find("div").Each(func(_ int, s *goquery.Selection) {
		if s.Find("div").Length() > 0 {
			return
		}
		if text := collapse(s); utf8.RuneCountInString(text) >= minLeafDivLength {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

func metaDescription(doc *goquery.Document) string {
	for _, sel := range []string{"meta[name='description']", "meta[property='og:description']"} {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if text := normalizeWhitespace(html.UnescapeString(content)); text != "" {
				return text
			}
		}
	}
	return ""
}

// ExtractTitle prefers og:title, then twitter:title, <title> and the first <h1>.
func ExtractTitle(doc *goquery.Document) string {
	candidates := []string{
		metaContent(doc, "meta[property='og:title']", "meta[name='og:title']"),
		metaContent(doc, "meta[name='twitter:title']", "meta[property='twitter:title']"),
		doc.Find("title").First().Text(),
		doc.Find("h1").First().Text(),
	}
	for _, c := range candidates {
		if title := filters.CleanTitle(c); title != "" {
			return strings.TrimSpace(filters.Truncate(title, MaxTitleLength))
		}
	}
	return ""
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(content) != "" {
			return content
		}
	}
	return ""
}

// ExtractImages returns the page's social-card images, resolved against baseURL.
func ExtractImages(doc *goquery.Document, baseURL string) []string {
	base, _ := url.Parse(baseURL)
	var images []string
	for _, sel := range []string{"meta[property='og:image']", "meta[name='twitter:image']", "meta[property='twitter:image']"} {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			content, ok := s.Attr("content")
			if !ok || strings.TrimSpace(content) == "" {
				return
			}
			ref, err := url.Parse(strings.TrimSpace(content))
			if err != nil {
				return
			}
			if base != nil {
				ref = base.ResolveReference(ref)
			}
			if ref.Scheme == "http" || ref.Scheme == "https" {
				images = append(images, ref.String())
			}
		})
	}
	return filters.DedupeStrings(images)
}
