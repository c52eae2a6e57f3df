package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStopWatcherFiresOnStopFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "control")

	sw, err := NewStopWatcher(dir)
	if err != nil {
		t.Fatalf("NewStopWatcher: %v", err)
	}
	defer sw.Close()

	if sw.Stopped() {
		t.Fatal("watcher stopped before any signal")
	}

	if err := os.WriteFile(filepath.Join(dir, "stop"), nil, 0644); err != nil {
		t.Fatalf("write stop file: %v", err)
	}

	select {
	case <-sw.C():
	case <-time.After(2 * time.Second):
		t.Fatal("stop signal never fired")
	}
	if !sw.Stopped() {
		t.Error("Stopped() false after signal")
	}
}

func TestStopWatcherIgnoresOtherFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "control")

	sw, err := NewStopWatcher(dir)
	if err != nil {
		t.Fatalf("NewStopWatcher: %v", err)
	}
	defer sw.Close()

	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case <-sw.C():
		t.Fatal("stop signal fired for unrelated file")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStopWatcherPreexistingStopFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "control")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stop"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	sw, err := NewStopWatcher(dir)
	if err != nil {
		t.Fatalf("NewStopWatcher: %v", err)
	}
	defer sw.Close()

	if !sw.Stopped() {
		t.Error("expected pre-existing stop file to fire immediately")
	}
}
