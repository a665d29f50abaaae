package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDetectsCreateAndModify(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	path := filepath.Join(dir, "new.txt")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != "new.txt" {
			t.Fatalf("expected event for new.txt, got %s", ev.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for create event")
	}
}

func TestWatcherFiltersExcludedPaths(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, []string{"*.tmp"})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "ignored.tmp"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "seen.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path == "ignored.tmp" {
			t.Fatal("excluded path should not produce an event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
