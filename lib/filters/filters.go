package filters

import (
	"html"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/adrg/strutil/metrics"

	"deadline/lib/types"
	"deadline/lib/web"
)

// DefaultExcludedDomains are social and video platforms whose pages never
// carry article text worth scraping.
var DefaultExcludedDomains = []string{
	"facebook.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"tiktok.com",
	"youtube.com",
	"youtu.be",
	"reddit.com",
	"pinterest.com",
	"linkedin.com",
	"quora.com",
}

// IsExcluded checks the link host and the display domain against the blocklist.
func IsExcluded(result types.SearchResult, excluded []string) bool {
	hosts := []string{web.GetDomain(result.Link)}
	if result.DisplayLink != "" {
		hosts = append(hosts, web.GetDomain(result.DisplayLink))
	}
	for _, host := range hosts {
		for _, domain := range excluded {
			if web.HostMatches(host, domain) {
				return true
			}
		}
	}
	return false
}

// CleanTitle0 removes text after a specific marker if what remains before it
// is still a meaningful title.
func CleanTitle0(s string, endingMarker string) string {
	// Only crop if the title is long enough to be meaningful after cropping
	minLengthBeforeMarker := 20

	if pos := strings.Index(s, endingMarker); pos != -1 {
		head := strings.TrimSpace(s[:pos])
		if utf8.RuneCountInString(head) > minLengthBeforeMarker {
			return head
		}
	}
	return s
}

// CleanTitle decodes entities and drops " | Site" / " - Site" style suffixes.
func CleanTitle(s string) string {
	s = strings.Join(strings.Fields(html.UnescapeString(s)), " ")
	for _, marker := range []string{" | ", " — ", " – ", " - "} {
		s = CleanTitle0(s, marker)
	}
	return strings.TrimSpace(s)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// isTitleSimilar checks if two cleaned titles are near-identical using Hamming distance
func isTitleSimilar(title1, title2 string) bool {
	r1, r2 := []rune(strings.ToLower(title1)), []rune(strings.ToLower(title2))
	if string(r1) == string(r2) {
		return len(r1) > 0
	}

	// If titles are too different in length, they're probably not similar
	lenDiff := len(r1) - len(r2)
	if lenDiff < 0 {
		lenDiff = -lenDiff
	}
	if lenDiff > 10 {
		return false
	}

	minLength := min(len(r1), len(r2))
	if minLength > 20 {
		hamming := metrics.NewHamming()
		compareLength := min(30, minLength)
		distance := hamming.Distance(string(r1[:compareLength]), string(r2[:compareLength]))
		return distance <= 5
	}

	return false
}

// DedupeSimilarTitles keeps the first result of every group of near-identical
// headlines, so syndicated copies of one wire story are scraped once.
func DedupeSimilarTitles(results []types.SearchResult) []types.SearchResult {
	var kept []types.SearchResult
	var seen []string
	for _, r := range results {
		cleaned := CleanTitle(r.Title)
		dupe := false
		for _, s := range seen {
			if isTitleSimilar(cleaned, s) {
				dupe = true
				break
			}
		}
		if dupe {
			continue
		}
		seen = append(seen, cleaned)
		kept = append(kept, r)
	}
	return kept
}

// DedupeStrings keeps the first occurrence of every exact, non-empty value.
func DedupeStrings(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range lists {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// IsNewer reports whether a result was published strictly after the frontier
// and not in the future. Undated results are never considered new.
func IsNewer(result types.SearchResult, frontier, now time.Time) bool {
	if result.PublishedDate == nil {
		return false
	}
	published := *result.PublishedDate
	return published.After(frontier) && !published.After(now)
}

// NewerThan keeps the results IsNewer accepts, in their original order.
func NewerThan(results []types.SearchResult, frontier, now time.Time) []types.SearchResult {
	var newer []types.SearchResult
	for _, r := range results {
		if IsNewer(r, frontier, now) {
			newer = append(newer, r)
		}
	}
	return newer
}

// DateGroup is the set of selected results sharing one calendar date.
type DateGroup struct {
	Date    string
	Results []types.SearchResult
}

// CapPerDate groups results by calendar date and keeps at most perDate of each,
// preserving order inside a date. Groups are returned oldest first with the
// "unknown" bucket last.
func CapPerDate(results []types.SearchResult, perDate int) []DateGroup {
	index := make(map[string]int)
	var groups []DateGroup
	for _, r := range results {
		key := r.DateKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, DateGroup{Date: key})
		}
		if len(groups[i].Results) < perDate {
			groups[i].Results = append(groups[i].Results, r)
		}
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].Date == "unknown" || groups[b].Date == "unknown" {
			return groups[b].Date == "unknown" && groups[a].Date != "unknown"
		}
		return groups[a].Date < groups[b].Date
	})
	return groups
}

// Flatten returns every result of every group, in group order.
func Flatten(groups []DateGroup) []types.SearchResult {
	var out []types.SearchResult
	for _, g := range groups {
		out = append(out, g.Results...)
	}
	return out
}
