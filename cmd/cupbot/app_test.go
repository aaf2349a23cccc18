package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-cupbot/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	targetsFile := filepath.Join(dir, "targets.txt")
	if err := os.WriteFile(targetsFile, []byte("0 0 1\n0.5 0 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.Checkpoint = filepath.Join(dir, "checkpoint.txt")
	cfg.Targets.File = targetsFile
	cfg.Task.Base = config.Vec{1, 0, 0}
	cfg.Task.Entry = config.Vec{1, 0, -0.5}
	cfg.Loop.ControlRate = 5 * time.Millisecond
	cfg.Loop.FrameRate = 5 * time.Millisecond
	return cfg
}

func TestApp_RunWithSimBus(t *testing.T) {
	cfg := testConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	a, err := newApp(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st := a.ctrl.Status()
	if st.Session != "active" {
		t.Errorf("session = %q, want active", st.Session)
	}
	if st.Task.Count != 2 {
		t.Errorf("task count = %d, want 2", st.Task.Count)
	}
	// No tracker: the sequencer never started.
	if st.Task.Moving {
		t.Error("sequencer should wait without poses")
	}
}

func TestApp_BadTargetsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Targets.File = filepath.Join(t.TempDir(), "missing.txt")
	if _, err := newApp(cfg); err == nil {
		t.Error("expected error for missing targets file")
	}
}

func TestCheckTargets(t *testing.T) {
	cfg := testConfig(t)
	if err := checkTargets(cfg); err != nil {
		t.Errorf("checkTargets: %v", err)
	}

	cfg.Task.StartIndex = 5
	if err := checkTargets(cfg); err == nil {
		t.Error("start index beyond targets should fail")
	}

	cfg.Targets.File = ""
	if err := checkTargets(cfg); err == nil {
		t.Error("missing targets file should fail")
	}
}
