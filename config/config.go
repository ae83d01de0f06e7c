package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Automation AutomationConfig
	Browser    BrowserConfig
	LLM        LLMConfig
	Workflow   WorkflowConfig
	Scripts    ScriptsConfig
	Registry   RegistryConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Webhook    WebhookConfig
	Log        LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// AutomationConfig controls the connection to the browser-automation service.
type AutomationConfig struct {
	// Endpoint is the SSE base URL of the automation service.
	// Empty means no remote service; the local rod driver is used instead.
	Endpoint string

	// ProbePort is the TCP port checked for liveness before connecting.
	ProbePort int // default: 8931

	// ProbeTimeout bounds the liveness check.
	ProbeTimeout time.Duration // default: 2s

	// CallTimeout is the per-tool-call deadline.
	CallTimeout time.Duration // default: 60s
}

// BrowserConfig controls the local rod driver fallback.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Stealth enables the stealth page bootstrap.
	Stealth bool // default: true

	// NavigationTimeout is the max time for a single navigation.
	NavigationTimeout time.Duration // default: 30s
}

// LLMConfig controls the classification/generation service.
type LLMConfig struct {
	BaseURL string // default: "https://api.openai.com/v1"
	APIKey  string
	Model   string // default: "gpt-4o"

	// RequestsPerSecond throttles outbound LLM calls.
	RequestsPerSecond float64 // default: 2
	Burst             int     // default: 4

	Timeout time.Duration // default: 120s
}

// WorkflowConfig controls orchestrator timing and snapshot sizing.
type WorkflowConfig struct {
	// GridWaitTimeout bounds the combined grid-or-popup wait after submit.
	GridWaitTimeout time.Duration // default: 20s

	// PollInterval is the wait-for-selector poll period.
	PollInterval time.Duration // default: 500ms

	// SettleDelay is the pause after navigation or click before snapshot.
	SettleDelay time.Duration // default: 2s

	// ClassifySnapshotCap caps the cleaned DOM handed to the classifier.
	ClassifySnapshotCap int // default: 50000

	// GridSnapshotCap caps the cleaned DOM handed to the grid capturer.
	GridSnapshotCap int // default: 60000

	// SynthSnapshotCap caps markup excerpts embedded in synthesis prompts.
	SynthSnapshotCap int // default: 50000
}

// ScriptsConfig controls generated-script persistence and execution.
type ScriptsConfig struct {
	// OutputDir is where synthesized scripts are written.
	OutputDir string // default: "generated_scripts"

	// PythonBin runs the generated Playwright programs.
	PythonBin string // default: "python3"

	// TestTimeout is the wall-clock limit for one script test run.
	TestTimeout time.Duration // default: 120s
}

// RegistryConfig controls the per-site selector registry.
type RegistryConfig struct {
	// Path is the JSON file holding discovered selector sets per site.
	Path string // default: "selector_registry.json"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// WebhookConfig controls run-completion webhooks.
type WebhookConfig struct {
	// URL receives run lifecycle events. Empty disables delivery.
	URL string

	// Secret signs the payload with HMAC-SHA256 when non-empty.
	Secret string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("GRIDSCOUT_HOST", "0.0.0.0"),
			Port: envIntOr("GRIDSCOUT_PORT", 8080),
			Mode: envOr("GRIDSCOUT_MODE", "release"),
		},
		Automation: AutomationConfig{
			Endpoint:     os.Getenv("GRIDSCOUT_AUTOMATION_ENDPOINT"),
			ProbePort:    envIntOr("GRIDSCOUT_AUTOMATION_PROBE_PORT", 8931),
			ProbeTimeout: envDurationOr("GRIDSCOUT_AUTOMATION_PROBE_TIMEOUT", 2*time.Second),
			CallTimeout:  envDurationOr("GRIDSCOUT_AUTOMATION_CALL_TIMEOUT", 60*time.Second),
		},
		Browser: BrowserConfig{
			Headless:          envBoolOr("GRIDSCOUT_HEADLESS", true),
			NoSandbox:         envBoolOr("GRIDSCOUT_NO_SANDBOX", false),
			BrowserBin:        os.Getenv("GRIDSCOUT_BROWSER_BIN"),
			Stealth:           envBoolOr("GRIDSCOUT_STEALTH", true),
			NavigationTimeout: envDurationOr("GRIDSCOUT_NAV_TIMEOUT", 30*time.Second),
		},
		LLM: LLMConfig{
			BaseURL:           envOr("GRIDSCOUT_LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:            os.Getenv("GRIDSCOUT_LLM_API_KEY"),
			Model:             envOr("GRIDSCOUT_LLM_MODEL", "gpt-4o"),
			RequestsPerSecond: envFloatOr("GRIDSCOUT_LLM_RPS", 2.0),
			Burst:             envIntOr("GRIDSCOUT_LLM_BURST", 4),
			Timeout:           envDurationOr("GRIDSCOUT_LLM_TIMEOUT", 120*time.Second),
		},
		Workflow: WorkflowConfig{
			GridWaitTimeout:     envDurationOr("GRIDSCOUT_GRID_WAIT_TIMEOUT", 20*time.Second),
			PollInterval:        envDurationOr("GRIDSCOUT_POLL_INTERVAL", 500*time.Millisecond),
			SettleDelay:         envDurationOr("GRIDSCOUT_SETTLE_DELAY", 2*time.Second),
			ClassifySnapshotCap: envIntOr("GRIDSCOUT_CLASSIFY_SNAPSHOT_CAP", 50000),
			GridSnapshotCap:     envIntOr("GRIDSCOUT_GRID_SNAPSHOT_CAP", 60000),
			SynthSnapshotCap:    envIntOr("GRIDSCOUT_SYNTH_SNAPSHOT_CAP", 50000),
		},
		Scripts: ScriptsConfig{
			OutputDir:   envOr("GRIDSCOUT_SCRIPTS_DIR", "generated_scripts"),
			PythonBin:   envOr("GRIDSCOUT_PYTHON_BIN", "python3"),
			TestTimeout: envDurationOr("GRIDSCOUT_SCRIPT_TEST_TIMEOUT", 120*time.Second),
		},
		Registry: RegistryConfig{
			Path: envOr("GRIDSCOUT_REGISTRY_PATH", "selector_registry.json"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("GRIDSCOUT_AUTH_ENABLED", false),
			APIKeys: envSliceOr("GRIDSCOUT_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("GRIDSCOUT_RATE_RPS", 5.0),
			Burst:             envIntOr("GRIDSCOUT_RATE_BURST", 10),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("GRIDSCOUT_WEBHOOK_URL"),
			Secret: os.Getenv("GRIDSCOUT_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("GRIDSCOUT_LOG_LEVEL", "info"),
			Format: envOr("GRIDSCOUT_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
