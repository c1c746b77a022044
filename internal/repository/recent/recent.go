// Package recent persists the recently asked queries, newest first and
// deduplicated by text.
package recent

import (
	"sort"
	"strings"
)

const (
	// DefaultLimit caps the stored history.
	DefaultLimit = 12
	// DefaultCount is how many queries Recent returns when n <= 0.
	DefaultCount = 5
)

// Entry is one recorded query.
type Entry struct {
	Query      string   `json:"q"`
	TS         float64  `json:"ts"`
	Publishers []string `json:"pubs"`
}

// normalize sorts entries newest first, drops blanks and repeats of the same
// text and keeps at most limit.
func normalize(entries []Entry, limit int) []Entry {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].TS > entries[j].TS })
	seen := make(map[string]struct{}, len(entries))
	out := make([]Entry, 0, min(len(entries), limit))
	for _, e := range entries {
		e.Query = strings.TrimSpace(e.Query)
		if e.Query == "" {
			continue
		}
		if _, dup := seen[e.Query]; dup {
			continue
		}
		seen[e.Query] = struct{}{}
		if e.Publishers == nil {
			e.Publishers = []string{}
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func publisherSet(pubs []string) []string {
	seen := make(map[string]struct{}, len(pubs))
	out := make([]string, 0, len(pubs))
	for _, p := range pubs {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
