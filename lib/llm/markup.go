package llm

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	stripPolicy = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)
	boldPattern = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	spaceRun    = regexp.MustCompile(`[ \t]+`)
)

// limitBold keeps the first max **bold** spans and unwraps the rest.
func limitBold(s string, max int) string {
	n := 0
	return boldPattern.ReplaceAllStringFunc(s, func(m string) string {
		n++
		if n <= max {
			return m
		}
		return m[2 : len(m)-2]
	})
}

// sanitizeText removes any HTML the model emitted, leaving plain text in
// which **bold** is the only markup.
func sanitizeText(s string) string {
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func sanitizeDescription(s string, maxBold int) string {
	return limitBold(sanitizeText(s), maxBold)
}

func sanitizeTitle(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(sanitizeText(s), "**", ""))
}
