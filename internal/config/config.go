// Package config loads agentrund's settings: small env-derived server
// settings the way cmd/mcplexer/config.go's loadConfig does, plus an
// optional YAML file overriding the default tool catalog's approval modes
// and seeding default approval rules applied to every new turn, mirroring
// internal/config/loader.go's FileConfig/Parse/Apply shape.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"
)

// ServerConfig holds agentrund's environment-derived settings.
type ServerConfig struct {
	HTTPAddr string // AGENTRUN_HTTP_ADDR

	LLMProvider     string // AGENTRUN_LLM_PROVIDER: "anthropic" or "openai"
	AnthropicAPIKey string // ANTHROPIC_API_KEY
	OpenAIAPIKey    string // OPENAI_API_KEY

	MaxSteps              int           // AGENTRUN_MAX_STEPS
	PerStepTimeout        time.Duration // AGENTRUN_PER_STEP_TIMEOUT
	TotalTimeout          time.Duration // AGENTRUN_TOTAL_TIMEOUT
	SandboxTimeout        time.Duration // AGENTRUN_SANDBOX_TIMEOUT
	ApprovalTimeout       time.Duration // AGENTRUN_APPROVAL_TIMEOUT
	PostTerminalRetention time.Duration // AGENTRUN_POST_TERMINAL_RETENTION
	SweepSchedule         string        // AGENTRUN_SWEEP_SCHEDULE (robfig/cron expression)

	DBDSN      string // AGENTRUN_DB_DSN: sqlite file path
	AgeKeyPath string // AGENTRUN_AGE_KEY: path to an age identity file
	ConfigFile string // AGENTRUN_CONFIG: path to the YAML catalog/rules file

	LogLevel slog.Level // AGENTRUN_LOG_LEVEL
}

// LoadServerConfig reads ServerConfig from the environment, the way
// cmd/mcplexer/config.go's loadConfig does, applying a sane default to
// anything unset.
func LoadServerConfig() (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddr:        envOr("AGENTRUN_HTTP_ADDR", "127.0.0.1:8090"),
		LLMProvider:     envOr("AGENTRUN_LLM_PROVIDER", "anthropic"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		DBDSN:           envOr("AGENTRUN_DB_DSN", defaultDataPath("agentrun.db")),
		AgeKeyPath:      envOr("AGENTRUN_AGE_KEY", defaultDataPath("age.key")),
		ConfigFile:      envOr("AGENTRUN_CONFIG", defaultDataPath("agentrun.yaml")),
		SweepSchedule:   envOr("AGENTRUN_SWEEP_SCHEDULE", "@every 10s"),
		LogLevel:        parseLogLevel(envOr("AGENTRUN_LOG_LEVEL", "info")),
	}

	var err error
	if cfg.MaxSteps, err = envOrInt("AGENTRUN_MAX_STEPS", 6); err != nil {
		return cfg, err
	}
	if cfg.PerStepTimeout, err = envOrDuration("AGENTRUN_PER_STEP_TIMEOUT", 20*time.Second); err != nil {
		return cfg, err
	}
	if cfg.TotalTimeout, err = envOrDuration("AGENTRUN_TOTAL_TIMEOUT", 2*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.SandboxTimeout, err = envOrDuration("AGENTRUN_SANDBOX_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ApprovalTimeout, err = envOrDuration("AGENTRUN_APPROVAL_TIMEOUT", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.PostTerminalRetention, err = envOrDuration("AGENTRUN_POST_TERMINAL_RETENTION", 30*time.Second); err != nil {
		return cfg, err
	}

	if cfg.LLMProvider != "anthropic" && cfg.LLMProvider != "openai" {
		return cfg, fmt.Errorf("config: AGENTRUN_LLM_PROVIDER must be anthropic or openai, got %q", cfg.LLMProvider)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func envOrDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a duration (e.g. \"30s\"): %w", key, err)
	}
	return d, nil
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// defaultDataPath returns ~/.agentrun/<filename>, falling back to a
// CWD-relative path if the home directory can't be resolved.
func defaultDataPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		if u, uerr := user.Current(); uerr == nil {
			home = u.HomeDir
		}
	}
	if home == "" {
		return filename
	}
	return filepath.Join(home, ".agentrun", filename)
}
