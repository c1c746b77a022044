package query

import (
	"context"

	"github.com/kailas-cloud/bookrag/internal/usecase/assemble"
)

// PromptComposer is the default Composer: it generates nothing and returns
// the prompt, clamped to the prompt budget.
type PromptComposer struct{}

// Compose implements Composer.
func (PromptComposer) Compose(_ context.Context, prompt string, b assemble.Budget) (string, error) {
	p, _ := assemble.Clamp(prompt, b.PromptChars, b.PromptTokens, assemble.PromptMarker)
	return p, nil
}
