package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Workflow contains configuration for daemon timing and concurrency.
type Workflow struct {
	Workers             int `toml:"workers"`
	QueuePollInterval   int `toml:"queue_poll_interval"`
	ErrorRetryInterval  int `toml:"error_retry_interval"`
	HeartbeatInterval   int `toml:"heartbeat_interval"`
	HeartbeatTimeout    int `toml:"heartbeat_timeout"`
	ExpirySweepInterval int `toml:"expiry_sweep_interval"`
	StageTimeout        int `toml:"stage_timeout"`
}

// Retry contains the exponential backoff policy applied to transient stage
// and upload failures.
type Retry struct {
	MaxAttempts    int     `toml:"max_attempts"`
	BaseDelay      int     `toml:"base_delay"`
	MaxDelay       int     `toml:"max_delay"`
	JitterFraction float64 `toml:"jitter_fraction"`
}

// Quota contains admission-control settings for the per-tenant quota gate.
type Quota struct {
	MaxWait       int `toml:"max_wait"`
	RetryInterval int `toml:"retry_interval"`
}

// Publish contains defaults for the multi-platform upload coordinator.
type Publish struct {
	DefaultPolicy string `toml:"default_policy"`
}

// Storage selects the file-store backend holding media artifacts.
type Storage struct {
	Backend  string `toml:"backend"`
	S3Bucket string `toml:"s3_bucket"`
	S3Region string `toml:"s3_region"`
	S3Prefix string `toml:"s3_prefix"`
}

// Source contains settings for the inbound recording sync.
type Source struct {
	PollInterval int    `toml:"poll_interval"`
	Endpoint     string `toml:"endpoint"`
	Token        string `toml:"token"`
}

// Tools names the external binaries the transform stages shell out to.
type Tools struct {
	FFmpeg      string `toml:"ffmpeg"`
	Transcriber string `toml:"transcriber"`
}

// Platform describes one configured publish destination.
type Platform struct {
	Endpoint       string `toml:"endpoint"`
	Credential     string `toml:"credential"`
	RefreshURL     string `toml:"refresh_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config encapsulates all configuration values for the lectern daemon.
//
// Configuration sections by subsystem:
//   - Paths: data, staging, and log directories
//   - Logging: log format and level
//   - Workflow: worker count, polling intervals, heartbeats, stage timeout
//   - Retry: exponential backoff policy for transient failures
//   - Quota: admission wait behaviour for the quota gate
//   - Publish: default upload completion policy
//   - Storage: file-store backend (local disk or S3)
//   - Source: inbound recording sync endpoint and cadence
//   - Tools: external binaries used by the transform stages
//   - Platforms: publish destinations keyed by platform name
type Config struct {
	Paths     Paths               `toml:"paths"`
	Logging   Logging             `toml:"logging"`
	Workflow  Workflow            `toml:"workflow"`
	Retry     Retry               `toml:"retry"`
	Quota     Quota               `toml:"quota"`
	Publish   Publish             `toml:"publish"`
	Storage   Storage             `toml:"storage"`
	Source    Source              `toml:"source"`
	Tools     Tools               `toml:"tools"`
	Platforms map[string]Platform `toml:"platforms"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lectern/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lectern.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SampleConfig returns the embedded sample configuration document.
func SampleConfig() string {
	return sampleConfig
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	return abs, nil
}
