// Package config handles configuration loading and management for hivemind.
// It supports XDG config paths, per-run config files, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a hivemind run.
type Config struct {
	// Topic is the root topic every task analyzes.
	Topic string `mapstructure:"topic"`
	// FocusLevels is the ordered focus hierarchy. Levels referencing a
	// parent focus must appear after the level that declares it.
	FocusLevels []FocusLevel `mapstructure:"focus_levels"`
	// AnalysisAgents configures phase-two cross-cutting agents.
	AnalysisAgents []AgentGroup `mapstructure:"analysis_agents"`
	// DeepDiveAgents configures phase-two deep-dive agents.
	DeepDiveAgents []AgentGroup `mapstructure:"deep_dive_agents"`
	// Prompts holds the prompt templates.
	Prompts PromptsConfig `mapstructure:"prompts"`
	// Anthropic holds provider settings.
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	// Planner holds batching settings.
	Planner PlannerConfig `mapstructure:"planner"`
	// Engine holds scheduling and retry settings.
	Engine EngineConfig `mapstructure:"engine"`
	// Output holds report output settings.
	Output OutputConfig `mapstructure:"output"`
}

// FocusLevel describes one level of the focus hierarchy and how many
// tasks to spread across its focuses.
type FocusLevel struct {
	// Name is the level name, used in task IDs.
	Name string `mapstructure:"name"`
	// Focuses is the ordered list of focus names at this level.
	Focuses []string `mapstructure:"focuses"`
	// AgentCount is the number of tasks distributed across Focuses.
	AgentCount int `mapstructure:"agent_count"`
	// ParentFocus names a focus from an earlier level, or "" for a root level.
	ParentFocus string `mapstructure:"parent_focus"`
}

// AgentType configures one kind of specialized phase-two agent.
type AgentType struct {
	// Name is the role name for this agent type.
	Name string `mapstructure:"name"`
	// Focus is the specialty this agent type covers.
	Focus string `mapstructure:"focus"`
	// AgentCount is how many agents of this type to deploy.
	AgentCount int `mapstructure:"agent_count"`
}

// AgentGroup is a named group of specialized agent types.
type AgentGroup struct {
	// Name is the group name.
	Name string `mapstructure:"name"`
	// AgentTypes lists the agent types in this group.
	AgentTypes []AgentType `mapstructure:"agent_types"`
}

// PromptsConfig holds the prompt templates. Templates use the named
// placeholders {persona}, {subtask}, and {topic}, substituted verbatim.
type PromptsConfig struct {
	// SubtaskExecution is the template for per-task prompts.
	SubtaskExecution string `mapstructure:"subtask_execution"`
	// Synthesizer is the template for synthesis prompts.
	Synthesizer string `mapstructure:"synthesizer"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	// APIKey is the API key. ${VAR} references are expanded; the
	// ANTHROPIC_API_KEY environment variable overrides it.
	APIKey string `mapstructure:"api_key"`
	// Model is the model to run task prompts on.
	Model string `mapstructure:"model"`
	// UseAWSBedrock routes calls through AWS Bedrock instead of the API.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name.
	AWSProfile string `mapstructure:"aws_profile"`
}

// PlannerConfig holds batching settings.
type PlannerConfig struct {
	// TokenBudgetPerBatch caps the summed token estimate of one batch.
	TokenBudgetPerBatch int `mapstructure:"token_budget_per_batch"`
	// MaxItemsPerBatch caps the member count of one batch.
	MaxItemsPerBatch int `mapstructure:"max_items_per_batch"`
}

// EngineConfig holds scheduling, retry, and checkpoint settings.
type EngineConfig struct {
	// AgentsPerCore scales the worker pool against detected CPU cores.
	// Work is I/O-bound, so more than one worker per core pays off.
	AgentsPerCore int `mapstructure:"agents_per_core"`
	// MaxConcurrentInvocations is the global admission ceiling across all
	// lanes. Zero means twice the worker count.
	MaxConcurrentInvocations int `mapstructure:"max_concurrent_invocations"`
	// RetryMaxAttempts is the retry ceiling for transient provider errors.
	RetryMaxAttempts int `mapstructure:"retry_max_attempts"`
	// RetryBaseDelay is the base delay for exponential backoff.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	// InvokeTimeout is the per-invocation wall-clock timeout.
	InvokeTimeout time.Duration `mapstructure:"invoke_timeout"`
	// CheckpointPath is the checkpoint database path. Defaults to
	// hivemind.db inside the output directory.
	CheckpointPath string `mapstructure:"checkpoint_path"`
}

// OutputConfig holds report output settings.
type OutputConfig struct {
	// Dir is the directory run artifacts are written under.
	Dir string `mapstructure:"dir"`
}

// Workers returns the worker pool size for this engine configuration.
func (e EngineConfig) Workers() int {
	per := e.AgentsPerCore
	if per < 1 {
		per = 2
	}
	return per * runtime.NumCPU()
}

// Admission returns the global concurrency ceiling.
func (e EngineConfig) Admission() int {
	if e.MaxConcurrentInvocations > 0 {
		return e.MaxConcurrentInvocations
	}
	return e.Workers() * 2
}

// Load loads configuration for a run.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. The run config file given on the command line
// 3. User config (~/.config/hivemind/config.yaml)
// 4. Built-in defaults
func Load(runConfigPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Merge the run config (takes precedence)
	if runConfigPath != "" {
		runViper := viper.New()
		runViper.SetConfigFile(runConfigPath)
		if err := runViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading run config %s: %w", runConfigPath, err)
		}
		if err := v.MergeConfigMap(runViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging run config: %w", err)
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a single file, ignoring user config.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")

	v.SetDefault("planner.token_budget_per_batch", 8000)
	v.SetDefault("planner.max_items_per_batch", 10)

	v.SetDefault("engine.agents_per_core", 2)
	v.SetDefault("engine.max_concurrent_invocations", 0)
	v.SetDefault("engine.retry_max_attempts", 3)
	v.SetDefault("engine.retry_base_delay", "1s")
	v.SetDefault("engine.invoke_timeout", "2m")

	v.SetDefault("output.dir", "output")

	v.SetDefault("prompts.subtask_execution",
		"{persona}\n\nTopic: {topic}\n\nSubtask:\n{subtask}\n\nProvide actionable insights and expertise.")
	v.SetDefault("prompts.synthesizer",
		"You are a synthesizer specializing in summarizing all subtasks related to {topic}.\n\n{subtask}")
}

// getUserConfigDir returns the XDG config directory for hivemind.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hivemind")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hivemind")
	}
	return filepath.Join(home, ".config", "hivemind")
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// Default returns a Config with default values and no topic.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Planner: PlannerConfig{
			TokenBudgetPerBatch: 8000,
			MaxItemsPerBatch:    10,
		},
		Engine: EngineConfig{
			AgentsPerCore:    2,
			RetryMaxAttempts: 3,
			RetryBaseDelay:   time.Second,
			InvokeTimeout:    2 * time.Minute,
		},
		Output: OutputConfig{
			Dir: "output",
		},
		Prompts: PromptsConfig{
			SubtaskExecution: "{persona}\n\nTopic: {topic}\n\nSubtask:\n{subtask}\n\nProvide actionable insights and expertise.",
			Synthesizer:      "You are a synthesizer specializing in summarizing all subtasks related to {topic}.\n\n{subtask}",
		},
	}
}
