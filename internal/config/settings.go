// Package config loads orchestrator settings from AGENTMUX_* environment
// variables, normalizing defaults so callers never see zero values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TerminalIDEnv carries the identity of the terminal a process runs in.
// It is injected into every tmux session the orchestrator creates and is
// required for sender-attributed operations.
const TerminalIDEnv = "AGENTMUX_TERMINAL_ID"

// APIBaseURLEnv tells an agent process where the orchestrator API lives.
const APIBaseURLEnv = "AGENTMUX_API_BASE_URL"

const (
	defaultPort              = 8765
	defaultRetentionDays     = 7
	defaultSchedulerInterval = time.Minute
	defaultProvider          = "q_cli"
)

type Settings struct {
	// TerminalID is the caller's own terminal identity, empty outside a
	// managed terminal.
	TerminalID string

	Port       int
	APIBaseURL string

	DataDir        string
	TerminalLogDir string
	ServerLogDir   string
	DatabasePath   string

	DefaultProvider        string
	EnableWorkingDirectory bool
	RetentionDays          int
	SchedulerInterval      time.Duration
	LogLevel               string
}

// Load reads settings from the environment. It only errors when an
// explicitly-set variable cannot be parsed; absent variables fall back
// to defaults rooted under ~/.agentmux.
func Load() (Settings, error) {
	settings := Settings{
		TerminalID:        os.Getenv(TerminalIDEnv),
		Port:              defaultPort,
		DefaultProvider:   defaultProvider,
		RetentionDays:     defaultRetentionDays,
		SchedulerInterval: defaultSchedulerInterval,
		LogLevel:          "info",
	}

	if raw := os.Getenv("AGENTMUX_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Settings{}, fmt.Errorf("invalid AGENTMUX_PORT %q", raw)
		}
		settings.Port = port
	}

	dataDir := os.Getenv("AGENTMUX_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Settings{}, fmt.Errorf("resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".agentmux")
	}
	settings.DataDir = dataDir
	settings.TerminalLogDir = filepath.Join(dataDir, "logs", "terminals")
	settings.ServerLogDir = filepath.Join(dataDir, "logs")
	settings.DatabasePath = filepath.Join(dataDir, "agentmux.db")

	if raw := os.Getenv("AGENTMUX_DEFAULT_PROVIDER"); raw != "" {
		settings.DefaultProvider = raw
	}
	settings.EnableWorkingDirectory = boolEnv("AGENTMUX_ENABLE_WORKING_DIRECTORY")

	if raw := os.Getenv("AGENTMUX_RETENTION_DAYS"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 0 {
			return Settings{}, fmt.Errorf("invalid AGENTMUX_RETENTION_DAYS %q", raw)
		}
		settings.RetentionDays = days
	}

	if raw := os.Getenv("AGENTMUX_SCHEDULER_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil || interval <= 0 {
			return Settings{}, fmt.Errorf("invalid AGENTMUX_SCHEDULER_INTERVAL %q", raw)
		}
		settings.SchedulerInterval = interval
	}

	if raw := os.Getenv("AGENTMUX_LOG_LEVEL"); raw != "" {
		settings.LogLevel = raw
	}

	settings.APIBaseURL = os.Getenv(APIBaseURLEnv)
	if settings.APIBaseURL == "" {
		settings.APIBaseURL = fmt.Sprintf("http://127.0.0.1:%d/api", settings.Port)
	}

	return settings, nil
}

// EnsureDirectories creates the data and log directories.
func (s Settings) EnsureDirectories() error {
	for _, dir := range []string{s.DataDir, s.ServerLogDir, s.TerminalLogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func boolEnv(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
