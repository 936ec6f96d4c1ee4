package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Metatag keys that carry a publication date, most specific first.
var publishedKeys = []string{
	"article:published_time",
	"og:published_time",
	"datepublished",
	"date_published",
	"publishdate",
	"pubdate",
	"dc.date.issued",
	"dc.date",
	"date",
	"sailthru.date",
	"parsely-pub-date",
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006/01/02",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"20060102",
}

// ParseDate tries every known layout. Unparseable input returns nil: an unknown
// date must never be mistaken for a recent one.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func publishedFromMetatags(metatags []map[string]any) *time.Time {
	for _, key := range publishedKeys {
		for _, tags := range metatags {
			for k, v := range tags {
				if !strings.EqualFold(k, key) {
					continue
				}
				if t := ParseDate(fmt.Sprint(v)); t != nil {
					return t
				}
			}
		}
	}
	return nil
}

var (
	absoluteSnippetDate = regexp.MustCompile(`^([A-Z][a-z]{2,8}\.? \d{1,2}, \d{4}|\d{1,2} [A-Z][a-z]{2,8} \d{4})\s*(\.\.\.|·|—|-)`)
	relativeSnippetDate = regexp.MustCompile(`^(\d{1,3}) (minute|minutes|min|mins|hour|hours|day|days|week|weeks) ago\b`)
)

// publishedFromSnippet reads the "Jan 5, 2024 ... " or "3 days ago ... " prefix
// search providers put in front of news snippets.
func publishedFromSnippet(snippet string, now time.Time) *time.Time {
	if m := absoluteSnippetDate.FindStringSubmatch(snippet); m != nil {
		return ParseDate(strings.Replace(m[1], ".", "", 1))
	}
	m := relativeSnippetDate.FindStringSubmatch(snippet)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	var unit time.Duration
	switch {
	case strings.HasPrefix(m[2], "min"):
		unit = time.Minute
	case strings.HasPrefix(m[2], "hour"):
		unit = time.Hour
	case strings.HasPrefix(m[2], "day"):
		unit = 24 * time.Hour
	default:
		unit = 7 * 24 * time.Hour
	}
	t := now.Add(-time.Duration(n) * unit).UTC()
	return &t
}
