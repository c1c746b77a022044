// Package assemble builds the bounded context and prompt handed to an
// answer composer.
package assemble

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/bookrag/internal/domain/hit"
)

// Clamp markers appended when text was cut.
const (
	ContextMarker = "... [ctx-clamped]"
	PromptMarker  = "... [llm-clamped]"
)

// DefaultPassageChars caps each passage before budgeting.
const DefaultPassageChars = 800

// Budget bounds context and prompt text. Token counts are whitespace tokens.
type Budget struct {
	ContextChars  int `json:"ctx_chars"`
	ContextTokens int `json:"ctx_tokens"`
	PromptChars   int `json:"prompt_chars"`
	PromptTokens  int `json:"prompt_tokens"`
}

// Flags report which budget cut the text.
type Flags struct {
	CharClamped  bool `json:"char_clamped"`
	TokenClamped bool `json:"token_clamped"`
}

// Clamped reports whether either budget applied.
func (f Flags) Clamped() bool { return f.CharClamped || f.TokenClamped }

// Clamp trims text to charBudget characters and tokBudget whitespace tokens
// (non-positive budgets are unlimited). When anything was cut, marker is
// appended and the result still fits both budgets.
func Clamp(text string, charBudget, tokBudget int, marker string) (string, Flags) {
	t := strings.TrimSpace(text)
	var f Flags
	if charBudget > 0 && utf8.RuneCountInString(t) > charBudget {
		t = string([]rune(t)[:charBudget])
		f.CharClamped = true
	}
	if toks := strings.Fields(t); tokBudget > 0 && len(toks) > tokBudget {
		t = strings.Join(toks[:tokBudget], " ")
		f.TokenClamped = true
	}
	if f.Clamped() && marker != "" {
		t = withMarker(t, charBudget, tokBudget, marker)
	}
	return t, f
}

// withMarker appends marker, dropping trailing tokens of t until the
// combination fits both budgets.
func withMarker(t string, charBudget, tokBudget int, marker string) string {
	markerToks := strings.Fields(marker)
	markerText := strings.Join(markerToks, " ")
	base := strings.Fields(t)
	if tokBudget > 0 {
		base = base[:min(len(base), max(0, tokBudget-len(markerToks)))]
	}
	join := func() string {
		return strings.TrimSpace(strings.Join(append(append([]string(nil), base...), markerToks...), " "))
	}
	combined := join()
	if charBudget > 0 {
		for utf8.RuneCountInString(combined) > charBudget && len(base) > 0 {
			base = base[:len(base)-1]
			combined = join()
		}
		if utf8.RuneCountInString(combined) > charBudget {
			combined = string([]rune(markerText)[:min(charBudget, utf8.RuneCountInString(markerText))])
		}
	}
	return combined
}

// Context concatenates passages, best judged first, separated by blank
// lines. Each passage is capped at passageChars; the last one that would
// overflow charBudget is cut to fit. A token budget is applied afterwards and
// a marker is appended when either budget cut the result.
func Context(hits []hit.Hit, charBudget, tokBudget, passageChars int) (string, Flags) {
	if len(hits) == 0 {
		return "", Flags{}
	}
	if passageChars <= 0 {
		passageChars = DefaultPassageChars
	}
	ordered := make([]hit.Hit, len(hits))
	copy(ordered, hits)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Judge != b.Judge {
			return a.Judge > b.Judge
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ID < b.ID
	})

	var parts []string
	used := 0
	cut := false
	for _, h := range ordered {
		tx := truncate(h.Text, passageChars)
		if tx == "" {
			continue
		}
		sep := 0
		if len(parts) > 0 {
			sep = 2
		}
		n := utf8.RuneCountInString(tx)
		next := used + n + sep
		if next > charBudget {
			remaining := charBudget - used - sep
			if remaining <= 0 {
				cut = true
				break
			}
			tx = truncate(tx, remaining)
			cut = true
			next = charBudget
		}
		parts = append(parts, tx)
		used = next
		if used >= charBudget {
			cut = true
			break
		}
	}

	ctx, f := Clamp(strings.Join(parts, "\n\n"), charBudget, tokBudget, ContextMarker)
	if cut && !f.Clamped() {
		ctx = withMarker(ctx, charBudget, tokBudget, ContextMarker)
	}
	f.CharClamped = f.CharClamped || cut
	return ctx, f
}

// Prompt renders the answer prompt for a context and question.
func Prompt(ctx, question string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s\nAnswer concisely without quotes.", ctx, question)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
