package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Workflow.Workers <= 0 {
		t.Fatal("expected positive worker count")
	}
	if cfg.Publish.DefaultPolicy != "all_required" {
		t.Fatalf("default publish policy = %q", cfg.Publish.DefaultPolicy)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != path {
		t.Fatalf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Retry.MaxAttempts != defaultRetryMaxAttempts {
		t.Fatalf("Retry.MaxAttempts = %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[paths]
data_dir = "` + dir + `/data"
staging_dir = "` + dir + `/staging"
log_dir = "` + dir + `/logs"

[workflow]
workers = 2

[publish]
default_policy = "best_effort"

[platforms.campus-tube]
endpoint = "https://tube.example.com/api"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Workflow.Workers != 2 {
		t.Fatalf("Workers = %d", cfg.Workflow.Workers)
	}
	if cfg.Publish.DefaultPolicy != "best_effort" {
		t.Fatalf("DefaultPolicy = %q", cfg.Publish.DefaultPolicy)
	}
	if _, ok := cfg.Platforms["campus-tube"]; !ok {
		t.Fatal("expected campus-tube platform")
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg.Publish.DefaultPolicy = "sometimes"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "default_policy") {
		t.Fatalf("expected policy error, got %v", err)
	}
}

func TestValidateS3RequiresBucket(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg.Storage.Backend = "s3"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "s3_bucket") {
		t.Fatalf("expected bucket error, got %v", err)
	}
}
