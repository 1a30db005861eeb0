// Package config provides configuration management for the pipetrace agent.
// Configuration is loaded from environment variables, optionally seeded from
// a .env file, with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort           = 8787
	DefaultLogLevel       = "info"
	DefaultDataDir        = ".pipetrace"
	DefaultPollIntervalMS = 500
	DefaultHTTPTimeoutS   = 60
	DefaultEnvFile        = ".env"

	// Environment variable names
	EnvPort         = "PIPETRACE_PORT"
	EnvLogLevel     = "PIPETRACE_LOG_LEVEL"
	EnvLogFile      = "PIPETRACE_LOG_FILE"
	EnvDataDir      = "PIPETRACE_DATA_DIR"
	EnvServiceURL   = "PIPETRACE_SERVICE_URL"
	EnvPollInterval = "PIPETRACE_POLL_INTERVAL_MS"
	EnvHTTPTimeout  = "PIPETRACE_HTTP_TIMEOUT_S"
	EnvHeadless     = "PIPETRACE_HEADLESS"
	EnvInboxDir     = "PIPETRACE_INBOX_DIR"
	EnvEnvFile      = "PIPETRACE_ENV_FILE"

	// Database filename
	DBFilename = "pipetrace.db"
)

// Query animation timing and notice lifetime. These are fixed.
const (
	AnimationStageDuration   = 1200 * time.Millisecond
	AnimationInterStageDelay = 500 * time.Millisecond
	AnimationFrameInterval   = 100 * time.Millisecond
	NoticeTTL                = 3 * time.Second
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFile() string
	DataDir() string
	DBPath() string
	UploadDir() string
	InboxDir() string
	ServiceURL() string
	Simulated() bool
	PollInterval() time.Duration
	HTTPTimeout() time.Duration
	Headless() bool
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port         int
	logLevel     string
	logFile      string
	dataDir      string
	inboxDir     string
	serviceURL   string
	pollInterval time.Duration
	httpTimeout  time.Duration
	headless     bool
}

// New creates a new EnvConfig with defaults and environment variable overrides.
// Variables from the .env file (PIPETRACE_ENV_FILE, default ./.env) are
// loaded first and never override variables already set.
func New() (*EnvConfig, error) {
	envFile := os.Getenv(EnvEnvFile)
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &EnvConfig{
		port:         DefaultPort,
		logLevel:     DefaultLogLevel,
		dataDir:      defaultDataDir(),
		pollInterval: DefaultPollIntervalMS * time.Millisecond,
		httpTimeout:  DefaultHTTPTimeoutS * time.Second,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}
	cfg.logFile = os.Getenv(EnvLogFile)

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}
	cfg.inboxDir = os.Getenv(EnvInboxDir)

	if u := strings.TrimSpace(os.Getenv(EnvServiceURL)); u != "" {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return nil, fmt.Errorf("invalid %s: must be an http(s) URL", EnvServiceURL)
		}
		cfg.serviceURL = strings.TrimRight(u, "/")
	}

	if v := os.Getenv(EnvPollInterval); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 50 {
			return nil, fmt.Errorf("invalid %s: must be an integer >= 50", EnvPollInterval)
		}
		cfg.pollInterval = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv(EnvHTTPTimeout); v != "" {
		s, err := strconv.Atoi(v)
		if err != nil || s < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvHTTPTimeout)
		}
		cfg.httpTimeout = time.Duration(s) * time.Second
	}

	if v := os.Getenv(EnvHeadless); v != "" {
		h, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = h
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFile returns the rotating log file path, empty for stdout only
func (c *EnvConfig) LogFile() string {
	return c.logFile
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// UploadDir is where documents received over the operator API are stored.
func (c *EnvConfig) UploadDir() string {
	return filepath.Join(c.dataDir, "uploads")
}

// InboxDir is the folder watched for dropped documents.
func (c *EnvConfig) InboxDir() string {
	if c.inboxDir != "" {
		return c.inboxDir
	}
	return filepath.Join(c.dataDir, "inbox")
}

// ServiceURL returns the job service base URL, empty in demo mode
func (c *EnvConfig) ServiceURL() string {
	return c.serviceURL
}

// Simulated reports whether the in-process job service stands in for a
// real one.
func (c *EnvConfig) Simulated() bool {
	return c.serviceURL == ""
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *EnvConfig) HTTPTimeout() time.Duration {
	return c.httpTimeout
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
