package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"deadline/lib/filters"
	"deadline/lib/logger"
	"deadline/lib/types"
)

const (
	MaxPromptArticles = 5
	MaxArticleRunes   = 3500
	MaxPromptSnippets = 8
	maxOverviewBold   = 3
)

// Extractor turns scraped material into structured records through a Completer.
type Extractor struct {
	completer Completer
	validate  *validator.Validate
	logger    *logger.Logger
}

func NewExtractor(completer Completer, log *logger.Logger) *Extractor {
	return &Extractor{completer: completer, validate: validator.New(), logger: log}
}

const extractionSchema = `The event documentation json API endpoint returns a single object with exactly this shape:

{
  "title": string,
  "location": string,
  "details": {
    "overview": string,
    "keyPoints": [{"label": string, "value": string}]
  },
  "accused": {
    "individuals": [{"name": string, "summary": string, "details": [{"label": string, "value": string}]}],
    "organizations": [{"name": string, "summary": string, "details": [{"label": string, "value": string}]}]
  },
  "victims": {
    "individuals": [{"name": string, "summary": string, "details": [{"label": string, "value": string}]}],
    "groups": [{"name": string, "summary": string, "details": [{"label": string, "value": string}]}]
  },
  "timeline": [
    {"date": "YYYY-MM-DD", "context": string, "events": [{"time": string, "description": string, "participants": [string], "evidence": [string]}]}
  ]
}

Field rules:
- title is a factual headline of 30 to 40 words.
- location is "City, Region, Country" as precisely as the sources allow.
- details.overview is 600 to 800 words of neutral prose. It may use **bold** for at most 2 to 3 key phrases and no other markup.
- keyPoints are short label/value facts (casualties, amounts, dates, charges).
- Quote numbers exactly as reported. Currency amounts carry their unit (e.g. "USD 4.2 million"). Dates are ISO 8601 (YYYY-MM-DD).
- Only name people and organizations the sources name. Use empty arrays when nothing is known; never omit a field and never use null.
- timeline is ordered oldest first.
`

// ExtractEventData asks the model for the full event record. A response
// that cannot be parsed, or whose present fields do not match the schema, is
// an error; fields that are absent or null are backfilled with empty defaults.
func (e *Extractor) ExtractEventData(ctx context.Context, articles []types.ScrapedArticle, snippets []types.SearchResult, query string) (*types.StructuredEventData, error) {
	prompt := buildExtractionPrompt(articles, snippets, query)
	e.logger.Info("Requesting event extraction for %q (%d articles, %d snippets, %d prompt chars)",
		query, min(len(articles), MaxPromptArticles), min(len(snippets), MaxPromptSnippets), len(prompt))

	raw, err := e.completer.Complete(ctx, prompt, true)
	if err != nil {
		return nil, fmt.Errorf("extraction request for %q: %w", query, err)
	}

	data, missing, err := parseEventData(raw)
	if err != nil {
		e.logger.Error("Could not parse extraction response for %q: %v", query, err)
		e.logger.Error("Response was: %s", truncateForLog(raw))
		return nil, err
	}
	if len(missing) > 0 {
		e.logger.Warning("Extraction for %q was missing %s; filled with defaults", query, strings.Join(missing, ", "))
	}
	return data, nil
}

func buildExtractionPrompt(articles []types.ScrapedArticle, snippets []types.SearchResult, query string) string {
	ranked := make([]types.ScrapedArticle, len(articles))
	copy(ranked, articles)
	sort.SliceStable(ranked, func(i, j int) bool {
		return len(ranked[i].Content) > len(ranked[j].Content)
	})
	if len(ranked) > MaxPromptArticles {
		ranked = ranked[:MaxPromptArticles]
	}

	var b strings.Builder
	b.WriteString(extractionSchema)
	fmt.Fprintf(&b, "\nThe event being documented is: %s\n\nSource articles:\n", query)
	for i, a := range ranked {
		fmt.Fprintf(&b, "\n<ARTICLE %d source=%q url=%q>\n%s\n%s\n</ARTICLE %d>\n",
			i+1, a.Source, a.URL, a.Title, filters.Truncate(a.Content, MaxArticleRunes), i+1)
	}

	if len(snippets) > 0 {
		b.WriteString("\nCorroborating search snippets:\n")
		for i, s := range snippets {
			if i == MaxPromptSnippets {
				break
			}
			fmt.Fprintf(&b, "- %s: %s (%s)\n", s.Title, s.Snippet, s.Link)
		}
	}

	b.WriteString("\nThe output is as follows (as a reminder, the endpoint returns only the json object described above, with every field present):\n")
	return b.String()
}

// fieldDecoder pulls typed values out of the top-level response object.
// Absent or null fields are recorded in missing; a present field that does
// not decode into its type is kept in err.
type fieldDecoder struct {
	fields  map[string]json.RawMessage
	missing []string
	err     error
}

func field[T any](d *fieldDecoder, key string) T {
	var v T
	raw, ok := d.fields[key]
	if !ok || types.IsNullOrEmpty(raw) {
		d.missing = append(d.missing, key)
		return v
	}
	var err error
	if _, isString := any(v).(string); isString {
		err = json.Unmarshal(raw, &v)
	} else {
		err = types.DecodeField(raw, &v)
	}
	if err != nil {
		if d.err == nil {
			d.err = fmt.Errorf("%w: field %q: %v", ErrMalformedResponse, key, err)
		}
		var zero T
		return zero
	}
	return v
}

func parseEventData(raw string) (*types.StructuredEventData, []string, error) {
	body, err := sliceJSONObject(raw)
	if err != nil {
		return nil, nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	d := &fieldDecoder{fields: fields}
	data := &types.StructuredEventData{
		Title:    sanitizeTitle(field[string](d, "title")),
		Location: sanitizeTitle(field[string](d, "location")),
		Details:  field[types.Details](d, "details"),
		Accused:  field[types.Accused](d, "accused"),
		Victims:  field[types.Victims](d, "victims"),
		Timeline: field[[]types.TimelineEntry](d, "timeline"),
	}
	if d.err != nil {
		return nil, nil, d.err
	}
	data.Details.Overview = sanitizeDescription(data.Details.Overview, maxOverviewBold)
	data.EnsureDefaults()
	return data, d.missing, nil
}
