// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Session store backends.
const (
	SessionBackendJSON   = "json"
	SessionBackendSQLite = "sqlite"
)

// Task registry backends.
const (
	TaskBackendFile   = "file"
	TaskBackendMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Host           string
	Port           string
	AllowedOrigins []string
	MaxBodyBytes   int64
	Auth           AuthConfig
	Agent          AgentConfig
	Session        SessionConfig
	Task           TaskConfig
}

// AuthConfig holds the basic-auth credentials guarding the API.
type AuthConfig struct {
	Username       string
	Password       string
	PasswordBcrypt string
}

// AgentConfig controls how the agent CLI is invoked.
type AgentConfig struct {
	Command       string
	WorkDir       string
	Timeout       time.Duration
	MaxConcurrent int
	ScrubEnv      []string
	BridgeURL     string // empty = spawn locally
	HistoryFile   string
}

// SessionConfig selects the conversation session store.
type SessionConfig struct {
	Backend string
	File    string
	DBPath  string
}

// TaskConfig controls the async task registry.
type TaskConfig struct {
	Backend       string
	Dir           string
	Prefix        string
	OrphanTTL     time.Duration
	SweepInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	workDir, err := ExpandPath(getEnv("CLAUDE_PROJECT_PATH", cwd))
	if err != nil {
		return nil, fmt.Errorf("resolve CLAUDE_PROJECT_PATH: %w", err)
	}

	home, _ := os.UserHomeDir()

	cfg := &Config{
		Host:           getEnv("HOST", "127.0.0.1"),
		Port:           getEnv("PORT", "8000"),
		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		MaxBodyBytes:   int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		Auth: AuthConfig{
			Username:       getEnv("AUTH_USERNAME", ""),
			Password:       getEnv("AUTH_PASSWORD", ""),
			PasswordBcrypt: getEnv("AUTH_PASSWORD_BCRYPT", ""),
		},
		Agent: AgentConfig{
			Command:       getEnv("AGENT_CLI_COMMAND", "claude"),
			WorkDir:       workDir,
			Timeout:       time.Duration(getEnvInt("AGENT_TIMEOUT", 600)) * time.Second,
			MaxConcurrent: getEnvInt("AGENT_MAX_CONCURRENT", 4),
			ScrubEnv:      getEnvList("AGENT_SCRUB_ENV", []string{"ANTHROPIC_API_KEY", "ANTHROPIC_AUTH_TOKEN"}),
			BridgeURL:     strings.TrimRight(getEnv("AGENT_BRIDGE_URL", ""), "/"),
			HistoryFile:   getEnv("AGENT_HISTORY_FILE", filepath.Join(home, ".claude", "history.jsonl")),
		},
		Session: SessionConfig{
			Backend: strings.ToLower(getEnv("SESSION_BACKEND", SessionBackendJSON)),
			File:    getEnv("SESSION_FILE", filepath.Join(cwd, "sessions", "sessions.json")),
			DBPath:  getEnv("SESSION_DB_PATH", "./data/sessions.db"),
		},
		Task: TaskConfig{
			Backend:       strings.ToLower(getEnv("TASK_BACKEND", TaskBackendFile)),
			Dir:           getEnv("TASK_DIR", os.TempDir()),
			Prefix:        getEnv("TASK_ARTIFACT_PREFIX", "agent_task_"),
			OrphanTTL:     getEnvDuration("TASK_ORPHAN_TTL", 24*time.Hour),
			SweepInterval: getEnvDuration("TASK_SWEEP_INTERVAL", 10*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Auth.Username == "" || (c.Auth.Password == "" && c.Auth.PasswordBcrypt == "") {
		return fmt.Errorf("AUTH_USERNAME and AUTH_PASSWORD (or AUTH_PASSWORD_BCRYPT) must be set")
	}
	if c.Agent.Command == "" {
		return fmt.Errorf("AGENT_CLI_COMMAND cannot be empty")
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT must be > 0")
	}
	if c.Agent.MaxConcurrent < 0 {
		return fmt.Errorf("AGENT_MAX_CONCURRENT must be >= 0")
	}
	switch c.Session.Backend {
	case SessionBackendJSON:
		if c.Session.File == "" {
			return fmt.Errorf("SESSION_FILE cannot be empty")
		}
	case SessionBackendSQLite:
		if c.Session.DBPath == "" {
			return fmt.Errorf("SESSION_DB_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.Session.Backend)
	}
	switch c.Task.Backend {
	case TaskBackendFile:
		if c.Task.Dir == "" {
			return fmt.Errorf("TASK_DIR cannot be empty")
		}
	case TaskBackendMemory:
	default:
		return fmt.Errorf("unknown TASK_BACKEND %q", c.Task.Backend)
	}
	if strings.ContainsAny(c.Task.Prefix, `/\`) {
		return fmt.Errorf("TASK_ARTIFACT_PREFIX must not contain path separators")
	}
	// A sweep must never reap an artifact whose run may still be writing it.
	if c.Task.OrphanTTL <= c.Agent.Timeout {
		return fmt.Errorf("TASK_ORPHAN_TTL (%s) must exceed AGENT_TIMEOUT (%s)", c.Task.OrphanTTL, c.Agent.Timeout)
	}
	if c.Task.SweepInterval <= 0 {
		return fmt.Errorf("TASK_SWEEP_INTERVAL must be > 0")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// ExpandPath expands a leading ~ and returns an absolute path.
func ExpandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
