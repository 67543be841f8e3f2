package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eldtechnologies/agora/internal/agent"
	"github.com/eldtechnologies/agora/internal/compress"
)

// AgentConfig describes one agent process, loaded from a YAML file.
type AgentConfig struct {
	Name         string          `yaml:"name"`
	Persona      string          `yaml:"persona"`
	Server       string          `yaml:"server"`
	PollInterval time.Duration   `yaml:"poll_interval"`
	Reasoning    ReasoningConfig `yaml:"reasoning"`
	Context      ContextConfig   `yaml:"context"`
	Reply        ReplyConfig     `yaml:"reply"`
	Proactive    ProactiveConfig `yaml:"proactive"`
}

// ReasoningConfig points at an OpenAI-compatible endpoint.
type ReasoningConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"` // environment variable holding the key
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature *float64      `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ContextConfig controls context selection for replies.
type ContextConfig struct {
	Strategy  string `yaml:"strategy"`
	MaxTokens int    `yaml:"max_tokens"`
	History   int    `yaml:"history"`
}

// ReplyConfig tunes the reply gate.
type ReplyConfig struct {
	MinCooldown         time.Duration `yaml:"min_cooldown"`
	MaxCooldown         time.Duration `yaml:"max_cooldown"`
	Probability         *float64      `yaml:"probability"`
	AlwaysOnMention     *bool         `yaml:"always_on_mention"`
	MaxBackoff          float64       `yaml:"max_backoff"`
	SaturationThreshold int           `yaml:"saturation_threshold"`
}

// ProactiveConfig tunes proactive speaking.
type ProactiveConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Tick             time.Duration `yaml:"tick"`
	BaseCooldown     time.Duration `yaml:"base_cooldown"`
	MaxCooldown      time.Duration `yaml:"max_cooldown"`
	DailyMax         int           `yaml:"daily_max"`
	EngagementWindow time.Duration `yaml:"engagement_window"`
	Timezone         string        `yaml:"timezone"`
}

// LoadAgent reads a YAML agent file from path and returns a validated AgentConfig.
func LoadAgent(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseAgent(data)
}

// ParseAgent unmarshals YAML bytes into a validated AgentConfig.
func ParseAgent(data []byte) (*AgentConfig, error) {
	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AgentConfig) applyDefaults() {
	if c.Server == "" {
		c.Server = "http://localhost:8080"
	}
	if c.PollInterval == 0 {
		c.PollInterval = agent.DefaultPollInterval
	}
	if c.Reasoning.BaseURL == "" {
		c.Reasoning.BaseURL = "https://api.openai.com/v1"
	}
	if c.Reasoning.APIKeyEnv == "" {
		c.Reasoning.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Reasoning.Timeout == 0 {
		c.Reasoning.Timeout = agent.DefaultReasonTimeout
	}
	if c.Context.Strategy == "" {
		c.Context.Strategy = string(compress.StrategyHybrid)
	}
	if c.Context.MaxTokens == 0 {
		c.Context.MaxTokens = compress.DefaultMaxTokens
	}
	if c.Context.History == 0 {
		c.Context.History = agent.DefaultHistoryLimit
	}
	if c.Reply.MinCooldown == 0 {
		c.Reply.MinCooldown = agent.DefaultMinCooldown
	}
	if c.Reply.MaxCooldown == 0 {
		c.Reply.MaxCooldown = agent.DefaultMaxCooldown
	}
	if c.Reply.Probability == nil {
		p := agent.DefaultReplyProbability
		c.Reply.Probability = &p
	}
	if c.Reply.AlwaysOnMention == nil {
		on := true
		c.Reply.AlwaysOnMention = &on
	}
	if c.Reply.MaxBackoff == 0 {
		c.Reply.MaxBackoff = agent.DefaultMaxBackoff
	}
	if c.Proactive.DailyMax == 0 {
		c.Proactive.DailyMax = agent.DefaultDailyMax
	}
}

func (c *AgentConfig) validate() error {
	var errs []string
	if c.Name == "" {
		errs = append(errs, "name is required")
	}
	if c.Reasoning.Model == "" {
		errs = append(errs, "reasoning.model is required")
	}
	if _, err := compress.ParseStrategy(c.Context.Strategy); err != nil {
		errs = append(errs, fmt.Sprintf("context.strategy %q is not one of recent, important, hybrid", c.Context.Strategy))
	}
	if c.Context.MaxTokens < 0 || c.Context.History < 0 {
		errs = append(errs, "context sizes must be positive")
	}
	if c.Reply.MinCooldown < 0 || c.Reply.MaxCooldown < c.Reply.MinCooldown {
		errs = append(errs, "reply cooldown range is invalid")
	}
	if p := *c.Reply.Probability; p < 0 || p > 1 {
		errs = append(errs, "reply.probability must be within [0,1]")
	}
	if c.Reply.MaxBackoff < 1 {
		errs = append(errs, "reply.max_backoff must be at least 1")
	}
	if c.Proactive.DailyMax < 0 || c.Proactive.DailyMax > agent.GlobalDailyCeiling {
		errs = append(errs, fmt.Sprintf("proactive.daily_max must be within [0,%d]", agent.GlobalDailyCeiling))
	}
	if c.Proactive.Timezone != "" {
		if _, err := time.LoadLocation(c.Proactive.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("proactive.timezone: %v", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// APIKey reads the reasoning key from the configured environment variable.
func (c *AgentConfig) APIKey() string {
	return os.Getenv(c.Reasoning.APIKeyEnv)
}

// RuntimeConfig converts the file into the agent runtime's configuration.
func (c *AgentConfig) RuntimeConfig() agent.Config {
	strategy, _ := compress.ParseStrategy(c.Context.Strategy)
	loc := time.Local
	if c.Proactive.Timezone != "" {
		loc, _ = time.LoadLocation(c.Proactive.Timezone)
	}
	return agent.Config{
		Name:             c.Name,
		Persona:          c.Persona,
		ContextStrategy:  strategy,
		MaxContextTokens: c.Context.MaxTokens,
		HistoryLimit:     c.Context.History,
		PollInterval:     c.PollInterval,
		Strategy: agent.StrategyConfig{
			Self:                 c.Name,
			MinCooldown:          c.Reply.MinCooldown,
			MaxCooldown:          c.Reply.MaxCooldown,
			ReplyProbability:     *c.Reply.Probability,
			AlwaysReplyOnMention: *c.Reply.AlwaysOnMention,
			MaxBackoff:           c.Reply.MaxBackoff,
		},
		SaturationThreshold: c.Reply.SaturationThreshold,
		ProactiveEnabled:    c.Proactive.Enabled,
		Proactive: agent.ProactiveConfig{
			Self:             c.Name,
			Persona:          c.Persona,
			TickInterval:     c.Proactive.Tick,
			BaseCooldown:     c.Proactive.BaseCooldown,
			MaxCooldown:      c.Proactive.MaxCooldown,
			DailyMax:         c.Proactive.DailyMax,
			EngagementWindow: c.Proactive.EngagementWindow,
			ReasonTimeout:    c.Reasoning.Timeout,
			Location:         loc,
		},
	}
}
