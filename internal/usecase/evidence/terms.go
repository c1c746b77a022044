package evidence

import (
	"regexp"
	"strings"
)

const minTermLen = 3

var wordRe = regexp.MustCompile(`[A-Za-z0-9]+`)

// Terms is a set of lowercased tokens of at least three characters.
type Terms map[string]struct{}

// QueryTerms tokenizes the user's original query, not the expanded one.
func QueryTerms(q string) Terms {
	out := make(Terms)
	for _, w := range wordRe.FindAllString(q, -1) {
		if len(w) >= minTermLen {
			out[strings.ToLower(w)] = struct{}{}
		}
	}
	return out
}

// Overlap counts distinct query terms present in text.
func (t Terms) Overlap(text string) int {
	if len(t) == 0 {
		return 0
	}
	seen := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(text, -1) {
		if len(w) < minTermLen {
			continue
		}
		w = strings.ToLower(w)
		if _, ok := t[w]; !ok {
			continue
		}
		seen[w] = struct{}{}
	}
	return len(seen)
}
