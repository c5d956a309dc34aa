package logging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lectern/internal/services"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lecternd.log")
	logger, err := New(Options{Level: "info", Format: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("daemon started", String(FieldEventType, "daemon_started"), Int("workers", 4))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, data)
	}
	if record["msg"] != "daemon started" || record[FieldEventType] != "daemon_started" {
		t.Fatalf("record = %v", record)
	}
	if record["workers"] != float64(4) {
		t.Fatalf("workers = %v", record["workers"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	for _, level := range []string{"", "info", "nonsense"} {
		if got := parseLevel(level); got.String() != "INFO" {
			t.Fatalf("parseLevel(%q) = %v", level, got)
		}
	}
	if got := parseLevel("DEBUG"); got.String() != "DEBUG" {
		t.Fatalf("parseLevel(DEBUG) = %v", got)
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Options{Level: "warn", Format: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("quiet")
	logger.Warn("loud")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), "quiet") || !strings.Contains(string(data), "loud") {
		t.Fatalf("level filtering failed:\n%s", data)
	}
}

func TestWithContextDerivesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Options{Format: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := services.WithTenant(context.Background(), "acme")
	ctx = services.WithItemID(ctx, 42)
	ctx = services.WithStage(ctx, "trim")

	WithContext(ctx, logger).Info("stage starting")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if record[FieldTenant] != "acme" || record[FieldItemID] != float64(42) || record[FieldStage] != "trim" {
		t.Fatalf("context fields missing: %v", record)
	}
}

func TestWithContextNilLoggerIsSafe(t *testing.T) {
	logger := WithContext(context.Background(), nil)
	logger.Info("dropped")
}
