package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lectern/internal/testsupport"
)

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("file %s never appeared", path)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRunStartsAndStopsCleanly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, Options{}) }()

	// The pid file appears once the instance lock is held.
	pidPath := filepath.Join(cfg.Paths.DataDir, "lecternd.pid")
	waitForFile(t, pidPath)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatal("pid file should be removed on shutdown")
	}
}

func TestRunRejectsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, Options{}) }()
	waitForFile(t, filepath.Join(cfg.Paths.DataDir, "lecternd.pid"))

	if err := Run(context.Background(), cfg, Options{}); err == nil {
		t.Fatal("second instance should fail to acquire the lock")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}
