package query

import (
	"sort"

	"github.com/kailas-cloud/bookrag/internal/domain/mode"
	"github.com/kailas-cloud/bookrag/internal/usecase/assemble"
	"github.com/kailas-cloud/bookrag/internal/usecase/evidence"
	"github.com/kailas-cloud/bookrag/internal/usecase/judge"
)

// DefaultMode is used for unknown or empty mode names.
const DefaultMode = "quick"

const (
	// DefaultReaderWindow is the number of neighbor chunks on each side.
	DefaultReaderWindow = 2
	// DefaultSnippetChars caps reader chunk text.
	DefaultSnippetChars = 850
)

// Mode is a named bundle of fetch widths and budgets.
type Mode struct {
	Name        string
	Label       string
	Description string
	FinalK      int
	MMRK        int
	DenseK      int
	LexK        int
	UseJudge    bool
	Budget      assemble.Budget
}

// ModeInfo is the public description of a mode.
type ModeInfo struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// DefaultModes returns the shipped quick and exact bundles.
func DefaultModes() map[string]Mode {
	return map[string]Mode{
		"quick": {
			Name:        "quick",
			Label:       "Quick",
			Description: "Faster answers with tighter retrieval and context budgets.",
			FinalK:      8,
			MMRK:        16,
			DenseK:      24,
			LexK:        24,
			UseJudge:    true,
			Budget:      assemble.Budget{ContextChars: 1400, ContextTokens: 380, PromptChars: 2000, PromptTokens: 260},
		},
		"exact": {
			Name:        "exact",
			Label:       "Find Exact Quote",
			Description: "Deeper search for citations with larger budgets and k.",
			FinalK:      12,
			MMRK:        28,
			DenseK:      40,
			LexK:        40,
			UseJudge:    true,
			Budget:      assemble.Budget{ContextChars: 2000, ContextTokens: 520, PromptChars: 2800, PromptTokens: 360},
		},
	}
}

// Config is the orchestrator configuration.
type Config struct {
	Modes map[string]Mode
	// JudgeMode applies when a request does not name one.
	JudgeMode    judge.Mode
	DisableJudge bool
	Policy       evidence.Policy
	PassageChars int
	SnippetChars int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Modes:        DefaultModes(),
		JudgeMode:    judge.ModeProxy,
		Policy:       evidence.DefaultPolicy(),
		PassageChars: assemble.DefaultPassageChars,
		SnippetChars: DefaultSnippetChars,
	}
}

// Options are the per-request knobs. Zero values take the mode defaults.
type Options struct {
	Publishers []string
	Mode       string
	// JudgeMode is real, proxy or off; empty uses the configured default.
	JudgeMode       string
	UseJudge        *bool
	JudgeMin        *float64
	Sort            mode.Sort
	ComputeNearMiss *bool
	UseLLM          bool
	Budget          assemble.Budget
}

func (c Config) mode(name string) Mode {
	if m, ok := c.Modes[name]; ok {
		return m
	}
	if m, ok := c.Modes[DefaultMode]; ok {
		return m
	}
	return DefaultModes()[DefaultMode]
}

// infos lists modes with the default first, the rest by name.
func (c Config) infos() []ModeInfo {
	names := make([]string, 0, len(c.Modes))
	for name := range c.Modes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if (names[i] == DefaultMode) != (names[j] == DefaultMode) {
			return names[i] == DefaultMode
		}
		return names[i] < names[j]
	})
	out := make([]ModeInfo, len(names))
	for i, name := range names {
		m := c.Modes[name]
		out[i] = ModeInfo{Name: name, Label: m.Label, Description: m.Description}
	}
	return out
}

func overlayBudget(base, over assemble.Budget) assemble.Budget {
	if over.ContextChars > 0 {
		base.ContextChars = over.ContextChars
	}
	if over.ContextTokens > 0 {
		base.ContextTokens = over.ContextTokens
	}
	if over.PromptChars > 0 {
		base.PromptChars = over.PromptChars
	}
	if over.PromptTokens > 0 {
		base.PromptTokens = over.PromptTokens
	}
	return base
}
