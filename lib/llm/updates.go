package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"deadline/lib/filters"
	"deadline/lib/types"
)

const (
	MaxGroupContentRunes = 2000
	maxUpdateBold        = 2
)

type updateResponse struct {
	Updates []types.UpdateRecord `json:"updates"`
	Status  string               `json:"status"`
}

// AnalyzeUpdates asks for one update per offered date group plus a case
// status. Records that fail validation or name a date that was not offered
// are dropped; an empty result is returned as such, not as an error.
func (e *Extractor) AnalyzeUpdates(ctx context.Context, event types.Event, groups []filters.DateGroup) (*types.UpdateAnalysis, error) {
	analysis := &types.UpdateAnalysis{Updates: []types.UpdateRecord{}}
	if len(groups) == 0 {
		return analysis, nil
	}

	raw, err := e.completer.Complete(ctx, buildUpdatePrompt(event, groups), true)
	if err != nil {
		return nil, fmt.Errorf("update analysis for event %d: %w", event.ID, err)
	}
	body, err := sliceJSONObject(raw)
	if err != nil {
		e.logger.Error("Update analysis for event %d returned no JSON: %s", event.ID, truncateForLog(raw))
		return nil, err
	}
	var resp updateResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		e.logger.Error("Could not parse update analysis for event %d: %v", event.ID, err)
		e.logger.Error("Response was: %s", truncateForLog(raw))
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	offered := make(map[string]bool, len(groups))
	for _, g := range groups {
		offered[g.Date] = true
	}

	seen := make(map[string]bool)
	for _, rec := range resp.Updates {
		rec.Date = normalizeDate(rec.Date)
		rec.Title = sanitizeTitle(rec.Title)
		rec.Description = sanitizeDescription(rec.Description, maxUpdateBold)

		if err := e.validate.Struct(rec); err != nil {
			e.logger.Warning("Dropping invalid update for event %d: %v", event.ID, err)
			continue
		}
		if !offered[rec.Date] {
			e.logger.Warning("Dropping update for event %d dated %s: no articles on that date", event.ID, rec.Date)
			continue
		}
		if seen[rec.Date] {
			continue
		}
		seen[rec.Date] = true
		analysis.Updates = append(analysis.Updates, rec)
	}
	analysis.Status = types.NormalizeStatus(resp.Status)
	if analysis.Status == "" && resp.Status != "" {
		e.logger.Warning("Ignoring unknown status %q for event %d", resp.Status, event.ID)
	}
	return analysis, nil
}

func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > len(time.DateOnly) {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC().Format(time.DateOnly)
		}
	}
	return s
}

func buildUpdatePrompt(event types.Event, groups []filters.DateGroup) string {
	var b strings.Builder
	fmt.Fprintf(&b, `The case update json API endpoint returns a {updates, status} object, like {"updates": [{"date": "YYYY-MM-DD", "title": "...", "description": "..."}], "status": "Pending"}.

It is given new reporting about a documented event, grouped by publication date. For each date group below it writes exactly one update:
- date is the group's date, copied exactly (YYYY-MM-DD). Dates not listed below are not allowed.
- title is a short factual headline of the development.
- description is 2 to 4 sentences of plain text. It may use **bold** at most twice and no other markup.
If a group contains nothing new about the event it is skipped.

status is the overall state of the case after these developments: "%s" if those responsible have been held to account, "%s" if the case was closed or dismissed without accountability, "%s" otherwise.

Event: %s
Search query: %s
Current status: %s
Last update: %s

New reporting:
`, types.StatusJustice, types.StatusInjustice, types.StatusPending,
		event.Title, event.Query, event.Status, event.LastUpdated.UTC().Format(time.DateOnly))

	for _, g := range groups {
		fmt.Fprintf(&b, "\n### %s\n", g.Date)
		for _, r := range g.Results {
			fmt.Fprintf(&b, "\n<ITEM url=%q>\n%s\n%s\n", r.Link, r.Title, r.Snippet)
			if r.FullContent != "" {
				b.WriteString(filters.Truncate(r.FullContent, MaxGroupContentRunes))
			} else {
				b.WriteString("(full text unavailable)")
			}
			b.WriteString("\n</ITEM>\n")
		}
	}

	dates := make([]string, 0, len(groups))
	for _, g := range groups {
		dates = append(dates, g.Date)
	}
	fmt.Fprintf(&b, "\nThe output is as follows (as a reminder, one update per date among %s, and a status):\n", strings.Join(dates, ", "))
	return b.String()
}
