package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Helper      HelperConfig  `toml:"helper"`
	Storage     StorageConfig `toml:"storage"`
	Logging     LoggingConfig `toml:"logging"`
	Fetcher     FetcherConfig `toml:"fetcher"`
	Search      SearchConfig  `toml:"search"`
	LLM         LLMConfig     `toml:"llm"`
	Runtime     RuntimeConfig `toml:"runtime"`
}

// HelperConfig locates category inputs and generated rule packs
type HelperConfig struct {
	Root           string `toml:"root"`            // Helper root containing <category>/_source, _generated, _overrides
	CategoriesRoot string `toml:"categories_root"` // Root containing categories/<category>/{schema,sources,...}.json
	ArtifactsRoot  string `toml:"artifacts_root"`  // Object-store root for run artifacts (final/<category>/...)
}

type StorageConfig struct {
	Badger    BadgerConfig `toml:"badger"`
	SQLite    SQLiteConfig `toml:"sqlite"`
	QueuePath string       `toml:"queue_path"` // Product queue JSON document
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// SQLiteConfig configures the automation job store
type SQLiteConfig struct {
	Path string `toml:"path"` // Database file path
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// FetcherConfig contains page acquisition configuration
type FetcherConfig struct {
	UserAgent          string        `toml:"user_agent"`           // Default user agent string
	RequestTimeout     time.Duration `toml:"request_timeout"`      // Per-fetch timeout
	MaxBodySize        int           `toml:"max_body_size"`        // Maximum response body size in bytes
	EnableJavaScript   bool          `toml:"enable_javascript"`    // Render pages with chromedp before extraction
	JavaScriptWaitTime time.Duration `toml:"javascript_wait_time"` // Time to wait for JavaScript to settle
	RequestDelay       time.Duration `toml:"request_delay"`        // Minimum delay between requests to same host
	DryRun             bool          `toml:"dry_run"`              // Use the synthetic fetcher (no network)
}

// SearchConfig contains search provider configuration
type SearchConfig struct {
	Provider                 string `toml:"provider"`                    // "bing", "google", "searxng", "duckduckgo", "dual", "none"
	BingAPIKey               string `toml:"bing_api_key"`                //
	GoogleAPIKey             string `toml:"google_api_key"`              //
	GoogleCSEID              string `toml:"google_cse_id"`               // Custom search engine ID
	SearxngEndpoint          string `toml:"searxng_endpoint"`            // SearXNG JSON endpoint base URL
	MaxResultsPerQuery       int    `toml:"max_results_per_query"`       //
	CSERescueOnlyMode        bool   `toml:"cse_rescue_only_mode"`        // Reserve Google CSE for late-round rescue
	CSERescueRequiredRound   int    `toml:"cse_rescue_required_round"`   // Earliest round CSE rescue may fire
	RequestTimeout           string `toml:"request_timeout"`             // e.g. "20s"
	DisableProviderFallbacks bool   `toml:"disable_provider_fallbacks"`  // Dual mode: do not fall back to public engines
}

// ClaudeConfig contains Anthropic Claude configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`       // Default (deep tier) model
	FastModel   string  `toml:"fast_model"`  // Fast tier model
	VisionModel string  `toml:"vision_model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
	Timeout     string  `toml:"timeout"` // e.g. "120s"
}

// GeminiConfig contains Google Gemini configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	FastModel   string  `toml:"fast_model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
}

// LLMConfig selects the provider and global AI budgets
type LLMConfig struct {
	DefaultProvider   string       `toml:"default_provider"` // "claude" or "gemini"
	Claude            ClaudeConfig `toml:"claude"`
	Gemini            GeminiConfig `toml:"gemini"`
	MaxCallsPerRun    int          `toml:"max_calls_per_run"`    // Hard cap across all rounds
	DefaultFieldCalls int          `toml:"default_field_calls"`  // Per-field budget when rule omits ai_max_calls
	Offline           bool         `toml:"offline"`              // Use the offline provider (tests, dry runs)
}

// Convergence loop modes
const (
	ModeBalanced       = "balanced"
	ModeAggressive     = "aggressive"
	ModeUberAggressive = "uber_aggressive"
)

// RuntimeConfig tunes the convergence loop
type RuntimeConfig struct {
	Mode                string        `toml:"mode"`                  // "balanced", "aggressive", "uber_aggressive"
	MaxRounds           int           `toml:"max_rounds"`            //
	MaxRunSeconds       int           `toml:"max_run_seconds"`       // Wall-clock budget for one product run
	NoProgressRounds    int           `toml:"no_progress_rounds"`    // Stop after N rounds without improvement
	MaxLowQualityRounds int           `toml:"max_low_quality_rounds"`
	TargetCompleteness  float64       `toml:"target_completeness"`   //
	TargetConfidence    float64       `toml:"target_confidence"`     //
	URLCapFastPass      int           `toml:"url_cap_fast_pass"`     // Round 0 frontier cap
	URLCapDiscovery     int           `toml:"url_cap_discovery"`     // Round 1+ base frontier cap
	FetchConcurrency    int           `toml:"fetch_concurrency"`     //
	QueueBaseBackoff    time.Duration `toml:"queue_base_backoff"`    // Base for queue retry backoff
	QueueMaxAttempts    int           `toml:"queue_max_attempts"`    //
	SweepSchedule       string        `toml:"sweep_schedule"`        // Cron spec for queue/automation sweeps
	AutomationJobTTL    time.Duration `toml:"automation_job_ttl"`    // Queued automation jobs older than this expire
}

// LoadConfig reads configuration from one or more TOML files, later files
// overriding earlier ones, then applies environment overrides and defaults.
func LoadConfig(paths ...string) (*Config, error) {
	config := &Config{}

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	applyDefaults(config)

	return config, nil
}

// applyEnvOverrides applies SPECFORGE_* environment variables over file values
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SPECFORGE_HELPER_ROOT"); v != "" {
		config.Helper.Root = v
	}
	if v := os.Getenv("SPECFORGE_CATEGORIES_ROOT"); v != "" {
		config.Helper.CategoriesRoot = v
	}
	if v := os.Getenv("SPECFORGE_ARTIFACTS_ROOT"); v != "" {
		config.Helper.ArtifactsRoot = v
	}
	if v := os.Getenv("SPECFORGE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.LLM.Claude.APIKey == "" {
		config.LLM.Claude.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && config.LLM.Gemini.APIKey == "" {
		config.LLM.Gemini.APIKey = v
	}
	if v := os.Getenv("SPECFORGE_BING_API_KEY"); v != "" {
		config.Search.BingAPIKey = v
	}
	if v := os.Getenv("SPECFORGE_GOOGLE_API_KEY"); v != "" {
		config.Search.GoogleAPIKey = v
	}
	if v := os.Getenv("SPECFORGE_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Runtime.MaxRounds = n
		}
	}
	if v := os.Getenv("SPECFORGE_OFFLINE"); v != "" {
		config.LLM.Offline = strings.EqualFold(v, "true") || v == "1"
	}
}

// applyDefaults fills unset fields with production defaults
func applyDefaults(config *Config) {
	if config.Environment == "" {
		config.Environment = "development"
	}
	if config.Helper.Root == "" {
		config.Helper.Root = "./helper"
	}
	if config.Helper.CategoriesRoot == "" {
		config.Helper.CategoriesRoot = "./categories"
	}
	if config.Helper.ArtifactsRoot == "" {
		config.Helper.ArtifactsRoot = "./data/artifacts"
	}
	if config.Storage.Badger.Path == "" {
		config.Storage.Badger.Path = "./data/badger"
	}
	if config.Storage.SQLite.Path == "" {
		config.Storage.SQLite.Path = "./data/specforge.db"
	}
	if config.Storage.QueuePath == "" {
		config.Storage.QueuePath = "./data/queue.json"
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if len(config.Logging.Output) == 0 {
		config.Logging.Output = []string{"stdout"}
	}
	if config.Fetcher.UserAgent == "" {
		config.Fetcher.UserAgent = "specforge/1.0 (+https://github.com/ternarybob/specforge)"
	}
	if config.Fetcher.RequestTimeout <= 0 {
		config.Fetcher.RequestTimeout = 30 * time.Second
	}
	if config.Fetcher.MaxBodySize <= 0 {
		config.Fetcher.MaxBodySize = 10 * 1024 * 1024
	}
	if config.Fetcher.JavaScriptWaitTime <= 0 {
		config.Fetcher.JavaScriptWaitTime = 3 * time.Second
	}
	if config.Fetcher.RequestDelay <= 0 {
		config.Fetcher.RequestDelay = 1500 * time.Millisecond
	}
	if config.Search.Provider == "" {
		config.Search.Provider = "dual"
	}
	if config.Search.MaxResultsPerQuery <= 0 {
		config.Search.MaxResultsPerQuery = 10
	}
	if config.Search.RequestTimeout == "" {
		config.Search.RequestTimeout = "20s"
	}
	if config.Search.CSERescueRequiredRound <= 0 {
		config.Search.CSERescueRequiredRound = 2
	}
	if config.LLM.DefaultProvider == "" {
		config.LLM.DefaultProvider = "claude"
	}
	if config.LLM.Claude.Model == "" {
		config.LLM.Claude.Model = "claude-sonnet-4-20250514"
	}
	if config.LLM.Claude.FastModel == "" {
		config.LLM.Claude.FastModel = "claude-3-5-haiku-20241022"
	}
	if config.LLM.Claude.VisionModel == "" {
		config.LLM.Claude.VisionModel = config.LLM.Claude.Model
	}
	if config.LLM.Claude.MaxTokens <= 0 {
		config.LLM.Claude.MaxTokens = 8192
	}
	if config.LLM.Claude.Timeout == "" {
		config.LLM.Claude.Timeout = "120s"
	}
	if config.LLM.Gemini.Model == "" {
		config.LLM.Gemini.Model = "gemini-2.5-pro"
	}
	if config.LLM.Gemini.FastModel == "" {
		config.LLM.Gemini.FastModel = "gemini-2.5-flash"
	}
	if config.LLM.Gemini.Timeout == "" {
		config.LLM.Gemini.Timeout = "120s"
	}
	if config.LLM.MaxCallsPerRun <= 0 {
		config.LLM.MaxCallsPerRun = 40
	}
	if config.LLM.DefaultFieldCalls <= 0 {
		config.LLM.DefaultFieldCalls = 3
	}
	if config.Runtime.Mode == "" {
		config.Runtime.Mode = ModeBalanced
	}
	if config.Runtime.MaxRounds <= 0 {
		config.Runtime.MaxRounds = 6
	}
	if config.Runtime.MaxRunSeconds <= 0 {
		config.Runtime.MaxRunSeconds = 900
	}
	if config.Runtime.NoProgressRounds <= 0 {
		config.Runtime.NoProgressRounds = 2
	}
	if config.Runtime.MaxLowQualityRounds <= 0 {
		config.Runtime.MaxLowQualityRounds = 3
	}
	if config.Runtime.TargetCompleteness <= 0 {
		config.Runtime.TargetCompleteness = 0.9
	}
	if config.Runtime.TargetConfidence <= 0 {
		config.Runtime.TargetConfidence = 0.75
	}
	if config.Runtime.URLCapFastPass <= 0 {
		config.Runtime.URLCapFastPass = 6
	}
	if config.Runtime.URLCapDiscovery <= 0 {
		config.Runtime.URLCapDiscovery = 18
	}
	if config.Runtime.FetchConcurrency <= 0 {
		config.Runtime.FetchConcurrency = 4
	}
	if config.Runtime.QueueBaseBackoff <= 0 {
		config.Runtime.QueueBaseBackoff = 5 * time.Minute
	}
	if config.Runtime.QueueMaxAttempts <= 0 {
		config.Runtime.QueueMaxAttempts = 3
	}
	if config.Runtime.SweepSchedule == "" {
		config.Runtime.SweepSchedule = "@every 5m"
	}
	if config.Runtime.AutomationJobTTL <= 0 {
		config.Runtime.AutomationJobTTL = 24 * time.Hour
	}
}
