// Package config loads and validates the runtime's single YAML
// configuration document: load, apply environment overrides, fill in
// defaults, then validate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nexus-run/nexus-core/internal/channels/utils"
	"github.com/nexus-run/nexus-core/internal/checkpoint"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/internal/providers/anthropic"
	"github.com/nexus-run/nexus-core/internal/providers/ark"
	"github.com/nexus-run/nexus-core/internal/providers/gemini"
	"github.com/nexus-run/nexus-core/internal/providers/openai"
	"github.com/nexus-run/nexus-core/internal/runloop"
	"github.com/nexus-run/nexus-core/internal/workflow"
)

// Config is the runtime's top-level configuration document.
type Config struct {
	RunLoop       RunLoopConfig       `yaml:"run_loop"`
	Spawner       SpawnerConfig       `yaml:"spawner"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint"`
	Channels      ChannelsConfig      `yaml:"channels"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Observability ObservabilityConfig `yaml:"observability"`
	Gateway       GatewayConfig       `yaml:"gateway"`
}

// RunLoopConfig configures the RunLoop.
type RunLoopConfig struct {
	DefaultAgentID string `yaml:"default_agent_id"`
}

// SpawnerConfig configures the Task Spawner. Reserved for future
// tuning knobs; the Spawner itself exposes none today.
type SpawnerConfig struct{}

// CheckpointConfig selects and configures the Checkpoint Store backend.
type CheckpointConfig struct {
	// Backend is one of "memory", "file", "sqlite", "postgres".
	// Defaults to "file".
	Backend string `yaml:"backend"`

	// Dir is the checkpoint directory for the file/sqlite backends.
	// Defaults to "~/.autohands/checkpoints".
	Dir string `yaml:"dir"`

	// DSN is the connection string for the postgres backend.
	DSN string `yaml:"dsn"`

	Postgres checkpoint.PostgresConfig `yaml:"postgres"`
}

// ChannelsConfig lists which channel adapters are active. Per-channel
// connection details (tokens, webhooks) are supplied through each
// channel's own environment variables, not this file, so secrets never
// need to live in a config document committed to disk.
type ChannelsConfig struct {
	Enabled []string `yaml:"enabled"`
}

// ProvidersConfig configures the four LLM provider executors. Each
// provider is registered only when its environment variable is
// present, per spec; this section only overrides model selection.
type ProvidersConfig struct {
	Anthropic ProviderModelConfig `yaml:"anthropic"`
	OpenAI    ProviderModelConfig `yaml:"openai"`
	Gemini    ProviderModelConfig `yaml:"gemini"`
	Ark       ArkConfig           `yaml:"ark"`
}

// ProviderModelConfig overrides a provider's default model.
type ProviderModelConfig struct {
	Model string `yaml:"model"`
}

// ArkConfig overrides Ark's default model and base URL.
type ArkConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// WorkflowConfig configures the Workflow Executor.
type WorkflowConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogLevel    string  `yaml:"log_level"`
	LogFormat   string  `yaml:"log_format"`
	LogDir      string  `yaml:"log_dir"`
	TraceEnable bool    `yaml:"trace_enabled"`
	TraceSample float64 `yaml:"trace_sample_rate"`
}

// GatewayConfig configures the HTTP API surface.
type GatewayConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	WebPort int    `yaml:"web_port"`
}

// Load reads path, applies environment overrides, fills in defaults, and
// validates. An empty path is valid and yields an all-default Config.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies deployment-time environment variables.
// AUTOHANDS_HOST replaces the file's gateway host; AUTOHANDS_STATE_DIR
// only supplies the checkpoint and log directories the file leaves unset.
func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("AUTOHANDS_HOST"); host != "" {
		c.Gateway.Host = host
	}
	if dir := os.Getenv("AUTOHANDS_STATE_DIR"); dir != "" {
		if c.Checkpoint.Dir == "" {
			c.Checkpoint.Dir = dir + "/checkpoints"
		}
		if c.Observability.LogDir == "" {
			c.Observability.LogDir = dir + "/debug"
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = "file"
	}
	c.Checkpoint.Dir = utils.ExpandPathWithDefault(c.Checkpoint.Dir, defaultStateDir()+"/checkpoints")
	if c.Checkpoint.Postgres == (checkpoint.PostgresConfig{}) {
		c.Checkpoint.Postgres = checkpoint.DefaultPostgresConfig()
	}
	if c.Workflow.DefaultTimeout <= 0 {
		c.Workflow.DefaultTimeout = 300 * time.Second
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.LogFormat == "" {
		c.Observability.LogFormat = "json"
	}
	c.Observability.LogDir = utils.ExpandPathWithDefault(c.Observability.LogDir, defaultStateDir()+"/debug")
	if c.Gateway.Host == "" {
		c.Gateway.Host = "127.0.0.1"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 8080
	}
	if c.Gateway.WebPort == 0 {
		c.Gateway.WebPort = 8081
	}
}

func (c *Config) validate() error {
	switch c.Checkpoint.Backend {
	case "memory", "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.Backend == "postgres" && c.Checkpoint.DSN == "" {
		return fmt.Errorf("config: checkpoint.dsn is required for the postgres backend")
	}
	return nil
}

// defaultStateDir returns the runtime's persisted-state root,
// ~/.autohands, falling back to a relative path if $HOME is unset.
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".autohands"
	}
	return home + "/.autohands"
}

// RunLoopConfig converts to runloop.Config.
func (c RunLoopConfig) ToRunLoop() runloop.Config {
	return runloop.Config{DefaultAgentID: c.DefaultAgentID}
}

// ToWorkflow converts to workflow.Config.
func (c WorkflowConfig) ToWorkflow() workflow.Config {
	return workflow.Config{DefaultTimeout: c.DefaultTimeout}
}

// ToLogConfig converts to observability.LogConfig.
func (c ObservabilityConfig) ToLogConfig() observability.LogConfig {
	return observability.LogConfig{Level: c.LogLevel, Format: c.LogFormat}
}

// ToAnthropic converts to anthropic.Config, reading the API key from
// its standard environment variable.
func (c ProviderModelConfig) ToAnthropic() anthropic.Config {
	return anthropic.Config{APIKey: os.Getenv(anthropic.EnvAPIKey), Model: c.Model}
}

// ToOpenAI converts to openai.Config.
func (c ProviderModelConfig) ToOpenAI() openai.Config {
	return openai.Config{APIKey: os.Getenv(openai.EnvAPIKey), Model: c.Model}
}

// ToGemini converts to gemini.Config.
func (c ProviderModelConfig) ToGemini() gemini.Config {
	return gemini.Config{APIKey: os.Getenv(gemini.EnvAPIKey), Model: c.Model}
}

// ToArk converts to ark.Config.
func (c ArkConfig) ToArk() ark.Config {
	return ark.Config{APIKey: os.Getenv(ark.EnvAPIKey), Model: c.Model, BaseURL: c.BaseURL}
}
