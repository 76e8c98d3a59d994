package logx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestZeroValueLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	// Must not panic.
	l.Info("message", String("k", "v"), Err(errors.New("x")))
	l.With(Int("n", 1)).Debug("derived")
}

func TestNopDiscards(t *testing.T) {
	t.Parallel()

	l := Nop()
	if l.IsZero() {
		t.Fatal("Nop() should not be the zero value")
	}
	l.Error("dropped", Any("v", struct{ X int }{1}))
}

func TestServiceApplySwitchesFileSink(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "debug", Console: false, File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Info("hello file", String("k", "v"))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(b) == 0 {
		t.Fatal("nothing written to file sink")
	}

	// Apply with file disabled: logger stays live, file stops growing.
	svc.Apply(Config{Level: "info", Console: false})
	size := len(b)
	log.Info("after apply")
	b, _ = os.ReadFile(path)
	if len(b) != size {
		t.Fatalf("file sink still active after Apply: %d -> %d bytes", size, len(b))
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "warn", Console: false, File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Debug("filtered out")
	log.Info("filtered out too")

	b, _ := os.ReadFile(path)
	if len(b) != 0 {
		t.Fatalf("below-level output written: %q", string(b))
	}
	log.Warn("kept")
	b, _ = os.ReadFile(path)
	if len(b) == 0 {
		t.Fatal("warn output missing")
	}
}
