// Package config handles loading and validating RLM configuration.
//
// Configuration comes from an optional JSON or YAML file plus RLM_-prefixed
// environment variables; environment variables take precedence. A .env file
// in the working directory is loaded automatically.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/1thirteeng3/rlm/internal/errdefs"
	"github.com/1thirteeng3/rlm/internal/sandbox"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for RLM.
type Config struct {
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Egress        EgressConfig         `json:"egress" yaml:"egress"`
	LLM           LLMConfig            `json:"llm" yaml:"llm"`
	Orchestrator  OrchestratorConfig   `json:"orchestrator" yaml:"orchestrator"`
	Budget        BudgetConfig         `json:"budget" yaml:"budget"`
	HTTP          *HTTPConfig          `json:"http,omitempty" yaml:"http,omitempty"`                   // nil = HTTP gateway disabled.
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = metrics/tracing disabled.
	AuditLogPath  string               `json:"audit_log_path,omitempty" yaml:"audit_log_path,omitempty"` // Empty = audit log disabled.
}

// SandboxConfig configures the container supervisor.
type SandboxConfig struct {
	Image              string  `json:"image" yaml:"image"`                               // Default: "python:3.11-slim".
	Runtime            string  `json:"runtime" yaml:"runtime"`                           // "auto" | "secure" | "standard".
	AllowUnsafeRuntime bool    `json:"allow_unsafe_runtime" yaml:"allow_unsafe_runtime"` // Permit fallback without runsc.
	MemoryLimit        string  `json:"memory_limit" yaml:"memory_limit"`                 // e.g. "256m". Swap is pinned equal.
	CPULimit           float64 `json:"cpu_limit" yaml:"cpu_limit"`                       // Fractional cores. Default: 0.5.
	PIDsLimit          int64   `json:"pids_limit" yaml:"pids_limit"`                     // Default: 50.
	ExecutionTimeoutS  int     `json:"execution_timeout_seconds" yaml:"execution_timeout_seconds"`
	NetworkEnabled     bool    `json:"network_enabled" yaml:"network_enabled"`
}

// EgressConfig configures the output filter thresholds.
type EgressConfig struct {
	EntropyThreshold    float64 `json:"entropy_threshold" yaml:"entropy_threshold"`       // Bits/symbol. Default: 4.5.
	MinEntropyLength    int     `json:"min_entropy_length" yaml:"min_entropy_length"`     // Default: 20.
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"` // Default: 0.8.
	MaxStdoutBytes      int     `json:"max_stdout_bytes" yaml:"max_stdout_bytes"`         // Default: 4000.
	RaiseOnLeak         bool    `json:"raise_on_leak" yaml:"raise_on_leak"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	Provider string   `json:"provider" yaml:"provider"` // "openai" (default), "anthropic", "gemini".
	Model    string   `json:"model" yaml:"model"`
	APIKey   string   `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Usually via provider env var.
	BaseURL  string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Fallback []string `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Providers tried in order on failure.
}

// OrchestratorConfig bounds the agent loop.
type OrchestratorConfig struct {
	MaxIterations int     `json:"max_iterations" yaml:"max_iterations"` // Default: 10.
	MaxTokens     int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature   float64 `json:"temperature" yaml:"temperature"`
}

// BudgetConfig sets the hard cost ceiling.
type BudgetConfig struct {
	MaxDollars  float64 `json:"max_dollars" yaml:"max_dollars"` // Default: 1.0.
	PricingPath string  `json:"pricing_path,omitempty" yaml:"pricing_path,omitempty"`
}

// HTTPConfig configures the HTTP API gateway.
type HTTPConfig struct {
	Enabled    bool            `json:"enabled" yaml:"enabled"`
	ListenAddr string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	APIKey     string          `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	EnableDocs bool            `json:"enable_docs" yaml:"enable_docs"`
	RateLimit  RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures per-client request throttling for the gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics bool           `json:"metrics" yaml:"metrics"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	Protocol    string  `json:"protocol" yaml:"protocol"` // "grpc" or "http".
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
	Insecure    bool    `json:"insecure" yaml:"insecure"`
}

// Default returns the configuration with all defaults applied and environment
// overrides read, without a config file.
func Default() (*Config, error) {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads a JSON or YAML config file, applies environment overrides, and
// validates the result. The format is detected by file extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config %s: %v", errdefs.ErrConfiguration, path, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing YAML config %s: %v", errdefs.ErrConfiguration, path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing JSON config %s: %v", errdefs.ErrConfiguration, path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv reads RLM_-prefixed environment overrides. Environment variables
// take precedence over config file values.
func (c *Config) applyEnv() {
	c.Sandbox.Image = goutils.Env("RLM_CONTAINER_IMAGE", c.Sandbox.Image)
	c.Sandbox.Runtime = goutils.Env("RLM_RUNTIME", c.Sandbox.Runtime)
	c.Sandbox.MemoryLimit = goutils.Env("RLM_MEMORY_LIMIT", c.Sandbox.MemoryLimit)
	envBool("RLM_ALLOW_UNSAFE_RUNTIME", &c.Sandbox.AllowUnsafeRuntime)
	envBool("RLM_NETWORK_ENABLED", &c.Sandbox.NetworkEnabled)
	envFloat("RLM_CPU_LIMIT", &c.Sandbox.CPULimit)
	envInt64("RLM_PIDS_LIMIT", &c.Sandbox.PIDsLimit)
	envInt("RLM_EXECUTION_TIMEOUT", &c.Sandbox.ExecutionTimeoutS)

	envFloat("RLM_ENTROPY_THRESHOLD", &c.Egress.EntropyThreshold)
	envInt("RLM_MIN_ENTROPY_LENGTH", &c.Egress.MinEntropyLength)
	envFloat("RLM_SIMILARITY_THRESHOLD", &c.Egress.SimilarityThreshold)
	envInt("RLM_MAX_STDOUT_BYTES", &c.Egress.MaxStdoutBytes)
	envBool("RLM_RAISE_ON_LEAK", &c.Egress.RaiseOnLeak)

	c.LLM.Provider = goutils.Env("RLM_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = goutils.Env("RLM_LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = goutils.Env("RLM_LLM_BASE_URL", c.LLM.BaseURL)

	envInt("RLM_MAX_ITERATIONS", &c.Orchestrator.MaxIterations)
	envFloat("RLM_MAX_BUDGET_DOLLARS", &c.Budget.MaxDollars)
	c.Budget.PricingPath = goutils.Env("RLM_PRICING_PATH", c.Budget.PricingPath)
	c.AuditLogPath = goutils.Env("RLM_AUDIT_LOG", c.AuditLogPath)
}

func (c *Config) applyDefaults() {
	if c.Sandbox.Image == "" {
		c.Sandbox.Image = "python:3.11-slim"
	}
	if c.Sandbox.Runtime == "" {
		c.Sandbox.Runtime = "auto"
	}
	if c.Sandbox.MemoryLimit == "" {
		c.Sandbox.MemoryLimit = "256m"
	}
	if c.Sandbox.CPULimit <= 0 {
		c.Sandbox.CPULimit = 0.5
	}
	if c.Sandbox.PIDsLimit <= 0 {
		c.Sandbox.PIDsLimit = 50
	}
	if c.Sandbox.ExecutionTimeoutS <= 0 {
		c.Sandbox.ExecutionTimeoutS = 30
	}
	if c.Egress.EntropyThreshold <= 0 {
		c.Egress.EntropyThreshold = 4.5
	}
	if c.Egress.MinEntropyLength <= 0 {
		c.Egress.MinEntropyLength = 20
	}
	if c.Egress.SimilarityThreshold <= 0 {
		c.Egress.SimilarityThreshold = 0.8
	}
	if c.Egress.MaxStdoutBytes <= 0 {
		c.Egress.MaxStdoutBytes = 4000
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModel(c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = providerAPIKey(c.LLM.Provider)
	}
	if c.Orchestrator.MaxIterations <= 0 {
		c.Orchestrator.MaxIterations = 10
	}
	if c.Budget.MaxDollars <= 0 {
		c.Budget.MaxDollars = 1.0
	}
	if c.HTTP != nil && c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8080"
	}
}

func defaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "gemini":
		return "gemini-2.5-flash"
	default:
		return "gpt-4o-mini"
	}
}

// providerAPIKey reads the conventional key variable for the provider.
func providerAPIKey(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

func (c *Config) validate() error {
	switch c.Sandbox.Runtime {
	case "auto", "secure", "standard":
	default:
		return fmt.Errorf("%w: sandbox.runtime %q (use auto, secure, or standard)", errdefs.ErrConfiguration, c.Sandbox.Runtime)
	}
	if _, err := units.RAMInBytes(c.Sandbox.MemoryLimit); err != nil {
		return fmt.Errorf("%w: sandbox.memory_limit %q: %v", errdefs.ErrConfiguration, c.Sandbox.MemoryLimit, err)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("%w: llm.provider %q (use openai, anthropic, or gemini)", errdefs.ErrConfiguration, c.LLM.Provider)
	}
	for _, f := range c.LLM.Fallback {
		switch f {
		case "openai", "anthropic", "gemini":
		default:
			return fmt.Errorf("%w: llm.fallback entry %q", errdefs.ErrConfiguration, f)
		}
	}
	if c.Egress.SimilarityThreshold > 1.0 {
		return fmt.Errorf("%w: egress.similarity_threshold must be <= 1.0", errdefs.ErrConfiguration)
	}
	return nil
}

// SandboxRuntimeConfig converts the loaded settings into the supervisor's
// configuration type.
func (c *Config) SandboxRuntimeConfig() sandbox.Config {
	memBytes, _ := units.RAMInBytes(c.Sandbox.MemoryLimit) // validated at load
	return sandbox.Config{
		Image:              c.Sandbox.Image,
		Timeout:            time.Duration(c.Sandbox.ExecutionTimeoutS) * time.Second,
		MemoryBytes:        memBytes,
		CPUCores:           c.Sandbox.CPULimit,
		PIDsLimit:          c.Sandbox.PIDsLimit,
		Runtime:            sandbox.RuntimeMode(c.Sandbox.Runtime),
		NetworkEnabled:     c.Sandbox.NetworkEnabled,
		AllowUnsafeRuntime: c.Sandbox.AllowUnsafeRuntime,
	}
}

// --- env parsing helpers ---

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "1" || strings.EqualFold(v, "true")
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
