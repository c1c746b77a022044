package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the bookrag configuration.
type Config struct {
	HTTP      HTTPConfig              `yaml:"http"`
	Data      DataConfig              `yaml:"data"`
	Embedding EmbeddingConfig         `yaml:"embedding"`
	Judge     JudgeConfig             `yaml:"judge"`
	Retrieval RetrievalConfig         `yaml:"retrieval"`
	Evidence  EvidenceConfig          `yaml:"evidence"`
	Modes     map[string]ModeConfig   `yaml:"modes"`
	Budgets   map[string]BudgetConfig `yaml:"budgets"`
	Recent    RecentConfig            `yaml:"recent"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
	Logging   LoggingConfig           `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	QueryTimeoutSec int `yaml:"query_timeout_sec"`
}

// DataConfig locates the per-publisher index directories.
type DataConfig struct {
	Root       string   `yaml:"root"`
	Publishers []string `yaml:"publishers"`
}

// EmbeddingConfig holds the OpenAI-compatible embedding provider settings.
// An empty model disables dense retrieval.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"`
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	QueryInstruction string `yaml:"query_instruction"`
	CacheSize        int    `yaml:"cache_size"`
	ProbeTimeoutSec  int    `yaml:"probe_timeout_sec"`
	// SharedCacheTTLSec bounds vectors kept in the Redis/Valkey store when
	// recent.driver is redis or valkey. Negative disables the shared cache.
	SharedCacheTTLSec int `yaml:"shared_cache_ttl_sec"`
}

// JudgeConfig holds the relevance judge settings.
type JudgeConfig struct {
	Mode         string `yaml:"mode"` // real, proxy, off
	Endpoint     string `yaml:"endpoint"`
	TimeoutSec   int    `yaml:"timeout_sec"`
	TopN         int    `yaml:"top_n"`
	PassageChars int    `yaml:"passage_chars"`
	CacheTTLSec  int    `yaml:"cache_ttl_sec"`
	CacheSize    int    `yaml:"cache_size"`
}

// RetrievalConfig holds fetch widths, score floors and fusion weights.
type RetrievalConfig struct {
	DenseFetchK      int     `yaml:"dense_fetch_k"`
	LexFetchK        int     `yaml:"lex_fetch_k"`
	MinDenseScore    float64 `yaml:"min_dense_score"`
	DenseWeight      float64 `yaml:"dense_weight"`
	LexWeight        float64 `yaml:"lex_weight"`
	FallbackRetryMax int     `yaml:"fallback_retry_max"`
	TextMax          int     `yaml:"text_max"`
	SnippetChars     int     `yaml:"snippet_chars"`
}

// EvidenceConfig holds the evidence gating thresholds.
type EvidenceConfig struct {
	ShowK        int     `yaml:"show_k"`
	MinKeep      int     `yaml:"min_keep"`
	AbsMin       float64 `yaml:"abs_min"`
	DisplayMin   float64 `yaml:"display_min"`
	StrongMin    float64 `yaml:"strong_min"`
	VetoMaxMin   float64 `yaml:"veto_max_min"`
	VetoMeanMin  float64 `yaml:"veto_mean_min"`
	VetoMinCount int     `yaml:"veto_min_count"`
	NearMissMin  float64 `yaml:"near_miss_min"`
	NearMissMax  int     `yaml:"near_miss_max"`
	NearMissMinK int     `yaml:"near_miss_min_k"`
	PassageChars int     `yaml:"passage_chars"`
}

// ModeConfig is a named bundle of fetch widths.
type ModeConfig struct {
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
	FinalK      int    `yaml:"final_k"`
	MMRK        int    `yaml:"mmr_k"`
	DenseK      int    `yaml:"dense_k"`
	LexK        int    `yaml:"lex_k"`
	UseJudge    *bool  `yaml:"use_judge"`
}

// BudgetConfig bounds assembled context and prompt text per mode.
type BudgetConfig struct {
	ContextChars  int `yaml:"ctx_chars"`
	ContextTokens int `yaml:"ctx_tokens"`
	PromptChars   int `yaml:"prompt_chars"`
	PromptTokens  int `yaml:"prompt_tokens"`
}

// RecentConfig selects the recent-query store backend.
type RecentConfig struct {
	Driver   string   `yaml:"driver"` // file, redis, valkey (default: file)
	Path     string   `yaml:"path"`
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	Key      string   `yaml:"key"`
	Limit    int      `yaml:"limit"`
}

// TelemetryConfig holds the query event sink settings. Empty path disables it.
type TelemetryConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML bytes, expands ${VAR} references, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	c.applyHTTPDefaults()
	if c.Data.Root == "" {
		c.Data.Root = "data"
	}
	if len(c.Data.Publishers) == 0 {
		c.Data.Publishers = []string{"OReilly", "Manning", "Pearson"}
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.CacheSize <= 0 {
		c.Embedding.CacheSize = 512
	}
	if c.Embedding.ProbeTimeoutSec <= 0 {
		c.Embedding.ProbeTimeoutSec = 10
	}
	if c.Embedding.SharedCacheTTLSec == 0 {
		c.Embedding.SharedCacheTTLSec = 86400
	}
	c.applyJudgeDefaults()
	c.applyRetrievalDefaults()
	c.applyEvidenceDefaults()
	c.applyModeDefaults()
	if c.Recent.Driver == "" {
		c.Recent.Driver = "file"
	}
	if c.Recent.Path == "" {
		c.Recent.Path = filepath.Join("logs", "recent_queries.json")
	}
	if c.Recent.Key == "" {
		c.Recent.Key = "bookrag:recent"
	}
	if c.Recent.Limit <= 0 {
		c.Recent.Limit = 12
	}
}

func (c *Config) applyHTTPDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.QueryTimeoutSec <= 0 {
		c.HTTP.QueryTimeoutSec = 30
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
}

func (c *Config) applyJudgeDefaults() {
	if c.Judge.Mode == "" {
		c.Judge.Mode = "proxy"
	}
	if c.Judge.TimeoutSec <= 0 {
		c.Judge.TimeoutSec = 10
	}
	if c.Judge.TopN <= 0 {
		c.Judge.TopN = 12
	}
	if c.Judge.PassageChars <= 0 {
		c.Judge.PassageChars = 1200
	}
	if c.Judge.CacheTTLSec <= 0 {
		c.Judge.CacheTTLSec = 600
	}
	if c.Judge.CacheSize <= 0 {
		c.Judge.CacheSize = 256
	}
}

func (c *Config) applyRetrievalDefaults() {
	r := &c.Retrieval
	if r.DenseFetchK <= 0 {
		r.DenseFetchK = 60
	}
	if r.LexFetchK <= 0 {
		r.LexFetchK = 60
	}
	if r.MinDenseScore == 0 {
		r.MinDenseScore = 0.18
	}
	if r.DenseWeight == 0 && r.LexWeight == 0 {
		r.DenseWeight, r.LexWeight = 0.65, 0.35
	}
	if r.FallbackRetryMax == 0 {
		r.FallbackRetryMax = 8
	}
	if r.TextMax <= 0 {
		r.TextMax = 4000
	}
	if r.SnippetChars <= 0 {
		r.SnippetChars = 850
	}
}

func (c *Config) applyEvidenceDefaults() {
	e := &c.Evidence
	setInt := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	setFloat := func(v *float64, d float64) {
		if *v <= 0 {
			*v = d
		}
	}
	setInt(&e.ShowK, 18)
	setInt(&e.MinKeep, 4)
	setFloat(&e.AbsMin, 0.30)
	setFloat(&e.DisplayMin, 0.45)
	setFloat(&e.StrongMin, 0.60)
	setFloat(&e.VetoMaxMin, 0.35)
	setFloat(&e.VetoMeanMin, 0.45)
	setInt(&e.VetoMinCount, 1)
	setFloat(&e.NearMissMin, 0.28)
	setInt(&e.NearMissMax, 6)
	setInt(&e.NearMissMinK, 3)
	setInt(&e.PassageChars, 800)
}

func (c *Config) applyModeDefaults() {
	if c.Modes == nil {
		c.Modes = map[string]ModeConfig{}
	}
	defaults := map[string]ModeConfig{
		"quick": {
			Label: "Quick", Description: "Faster answers with tighter retrieval and context budgets.",
			FinalK: 8, MMRK: 16, DenseK: 24, LexK: 24,
		},
		"exact": {
			Label: "Find Exact Quote", Description: "Deeper search for citations with larger budgets and k.",
			FinalK: 12, MMRK: 28, DenseK: 40, LexK: 40,
		},
	}
	for name, d := range defaults {
		m, ok := c.Modes[name]
		if !ok {
			c.Modes[name] = d
			continue
		}
		if m.Label == "" {
			m.Label = d.Label
		}
		if m.Description == "" {
			m.Description = d.Description
		}
		if m.FinalK <= 0 {
			m.FinalK = d.FinalK
		}
		if m.MMRK <= 0 {
			m.MMRK = d.MMRK
		}
		if m.DenseK <= 0 {
			m.DenseK = d.DenseK
		}
		if m.LexK <= 0 {
			m.LexK = d.LexK
		}
		c.Modes[name] = m
	}

	if c.Budgets == nil {
		c.Budgets = map[string]BudgetConfig{}
	}
	budgets := map[string]BudgetConfig{
		"quick": {ContextChars: 1400, ContextTokens: 380, PromptChars: 2000, PromptTokens: 260},
		"exact": {ContextChars: 2000, ContextTokens: 520, PromptChars: 2800, PromptTokens: 360},
	}
	for name, d := range budgets {
		b := c.Budgets[name]
		if b.ContextChars <= 0 {
			b.ContextChars = d.ContextChars
		}
		if b.ContextTokens <= 0 {
			b.ContextTokens = d.ContextTokens
		}
		if b.PromptChars <= 0 {
			b.PromptChars = d.PromptChars
		}
		if b.PromptTokens <= 0 {
			b.PromptTokens = d.PromptTokens
		}
		c.Budgets[name] = b
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Judge.Mode {
	case "real", "proxy", "off":
	default:
		return fmt.Errorf("judge.mode must be \"real\", \"proxy\" or \"off\", got %q", c.Judge.Mode)
	}
	w := c.Retrieval
	if w.DenseWeight < 0 || w.DenseWeight > 1 || w.LexWeight < 0 || w.LexWeight > 1 {
		return fmt.Errorf("retrieval weights must be within [0, 1], got %.2f/%.2f", w.DenseWeight, w.LexWeight)
	}
	switch c.Recent.Driver {
	case "file", "none":
	case "redis", "valkey":
		if len(c.Recent.Addrs) == 0 {
			return fmt.Errorf("recent.addrs is required for driver %q", c.Recent.Driver)
		}
	default:
		return fmt.Errorf("recent.driver must be \"file\", \"redis\", \"valkey\" or \"none\", got %q", c.Recent.Driver)
	}
	if len(c.Data.Publishers) == 0 {
		return fmt.Errorf("data.publishers is required")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
