// Package config loads the orchestrator's runtime configuration from
// environment variables. The surface is a flat set of scalars (agent
// tuning, skills directory, sandbox endpoint, LLM credentials, memory
// retrieval knobs), so a small Load() that seeds defaults and applies
// os.Getenv overrides is all it takes — no config-file parser.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the orchestrator's full runtime configuration.
type Config struct {
	Agent   AgentConfig
	Skills  SkillsConfig
	Sandbox SandboxConfig
	LLM     LLMConfig
	Memory  MemoryConfig
	Server  ServerConfig
	Logging LoggingConfig
}

// AgentConfig tunes the agent engine's loop.
type AgentConfig struct {
	MaxIterations      int
	DefaultTemperature float64
	DefaultMaxTokens   int
	SandboxTimeout     time.Duration
	CancelGrace        time.Duration
}

// SkillsConfig locates the skill manifest tree and its watch behavior.
type SkillsConfig struct {
	Directory     string
	WatchEnabled  bool
	WatchDebounce time.Duration
}

// SandboxConfig addresses the external sandbox execution service.
type SandboxConfig struct {
	Host           string
	Port           int
	DefaultTimeout time.Duration
}

// BaseURL renders the sandbox gateway's HTTP base URL.
func (c SandboxConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// LLMConfig addresses the upstream model provider.
type LLMConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// MemoryConfig tunes the memory store's retrieval pipeline.
type MemoryConfig struct {
	TopK              int
	ScoreFloor        float64
	UserTurnThreshold int
	RerankerBaseURL   string
}

// ServerConfig addresses the HTTP/SSE API listener.
type ServerConfig struct {
	Host string
	Port int
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load seeds defaults then applies environment variable overrides.
// Recognized variables: AGENT_MAX_ITERATIONS, AGENT_DEFAULT_TEMPERATURE,
// AGENT_DEFAULT_MAX_TOKENS, AGENT_SANDBOX_TIMEOUT, AGENT_CANCEL_GRACE,
// SKILLS_DIRECTORY, SKILLS_WATCH_ENABLED, SKILLS_WATCH_DEBOUNCE,
// SANDBOX_HOST, SANDBOX_PORT, SANDBOX_DEFAULT_TIMEOUT, LLM_BASE_URL,
// LLM_MODEL, LLM_API_KEY, MEMORY_TOP_K, MEMORY_SCORE_FLOOR,
// MEMORY_USER_TURN_THRESHOLD, MEMORY_RERANKER_BASE_URL, SERVER_HOST,
// SERVER_PORT, LOG_LEVEL, LOG_FORMAT.
func Load() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxIterations:      10,
			DefaultTemperature: 0.7,
			DefaultMaxTokens:   4096,
			SandboxTimeout:     30 * time.Second,
			CancelGrace:        2 * time.Second,
		},
		Skills: SkillsConfig{
			Directory:     "skills",
			WatchEnabled:  true,
			WatchDebounce: 250 * time.Millisecond,
		},
		Sandbox: SandboxConfig{
			Host:           "localhost",
			Port:           8070,
			DefaultTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.anthropic.com",
			Model:   "claude-sonnet-4-5",
		},
		Memory: MemoryConfig{
			TopK:              20,
			ScoreFloor:        0.0,
			UserTurnThreshold: 4,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envOverride reads a named environment variable and, if non-empty after
// trimming, calls apply with its value. getenv is injected so tests don't
// depend on process-global state.
func envOverride(getenv func(string) string, name string, apply func(value string) error) error {
	value := strings.TrimSpace(getenv(name))
	if value == "" {
		return nil
	}
	if err := apply(value); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	return applyEnvOverridesWith(cfg, os.Getenv)
}

func applyEnvOverridesWith(cfg *Config, getenv func(string) string) error {
	overrides := []struct {
		name  string
		apply func(string) error
	}{
		{"AGENT_MAX_ITERATIONS", intSetter(&cfg.Agent.MaxIterations)},
		{"AGENT_DEFAULT_TEMPERATURE", floatSetter(&cfg.Agent.DefaultTemperature)},
		{"AGENT_DEFAULT_MAX_TOKENS", intSetter(&cfg.Agent.DefaultMaxTokens)},
		{"AGENT_SANDBOX_TIMEOUT", durationSetter(&cfg.Agent.SandboxTimeout)},
		{"AGENT_CANCEL_GRACE", durationSetter(&cfg.Agent.CancelGrace)},

		{"SKILLS_DIRECTORY", stringSetter(&cfg.Skills.Directory)},
		{"SKILLS_WATCH_ENABLED", boolSetter(&cfg.Skills.WatchEnabled)},
		{"SKILLS_WATCH_DEBOUNCE", durationSetter(&cfg.Skills.WatchDebounce)},

		{"SANDBOX_HOST", stringSetter(&cfg.Sandbox.Host)},
		{"SANDBOX_PORT", intSetter(&cfg.Sandbox.Port)},
		{"SANDBOX_DEFAULT_TIMEOUT", durationSetter(&cfg.Sandbox.DefaultTimeout)},

		{"LLM_BASE_URL", stringSetter(&cfg.LLM.BaseURL)},
		{"LLM_MODEL", stringSetter(&cfg.LLM.Model)},
		{"LLM_API_KEY", stringSetter(&cfg.LLM.APIKey)},

		{"MEMORY_TOP_K", intSetter(&cfg.Memory.TopK)},
		{"MEMORY_SCORE_FLOOR", floatSetter(&cfg.Memory.ScoreFloor)},
		{"MEMORY_USER_TURN_THRESHOLD", intSetter(&cfg.Memory.UserTurnThreshold)},
		{"MEMORY_RERANKER_BASE_URL", stringSetter(&cfg.Memory.RerankerBaseURL)},

		{"SERVER_HOST", stringSetter(&cfg.Server.Host)},
		{"SERVER_PORT", intSetter(&cfg.Server.Port)},

		{"LOG_LEVEL", stringSetter(&cfg.Logging.Level)},
		{"LOG_FORMAT", stringSetter(&cfg.Logging.Format)},
	}

	for _, o := range overrides {
		if err := envOverride(getenv, o.name, o.apply); err != nil {
			return err
		}
	}
	return nil
}

func stringSetter(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func intSetter(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		*dst = n
		return nil
	}
}

func floatSetter(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid float %q", v)
		}
		*dst = f
		return nil
	}
}

func boolSetter(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid bool %q", v)
		}
		*dst = b
		return nil
	}
}

func durationSetter(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q", v)
		}
		*dst = d
		return nil
	}
}

// ConfigValidationError reports every invalid field found during Load at
// once, rather than stopping at the first.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if cfg.Agent.MaxIterations <= 0 {
		issues = append(issues, "agent.max_iterations must be > 0")
	}
	if cfg.Agent.DefaultMaxTokens <= 0 {
		issues = append(issues, "agent.default_max_tokens must be > 0")
	}
	if cfg.Agent.SandboxTimeout <= 0 {
		issues = append(issues, "agent.sandbox_timeout must be > 0")
	}
	if strings.TrimSpace(cfg.Skills.Directory) == "" {
		issues = append(issues, "skills.directory must be set")
	}
	if strings.TrimSpace(cfg.Sandbox.Host) == "" {
		issues = append(issues, "sandbox.host must be set")
	}
	if cfg.Sandbox.Port <= 0 {
		issues = append(issues, "sandbox.port must be > 0")
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		issues = append(issues, "llm.model must be set")
	}
	if cfg.Memory.TopK < 0 {
		issues = append(issues, "memory.top_k must be >= 0")
	}
	if cfg.Memory.UserTurnThreshold < 0 {
		issues = append(issues, "memory.user_turn_threshold must be >= 0")
	}
	if cfg.Server.Port <= 0 {
		issues = append(issues, "server.port must be > 0")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
