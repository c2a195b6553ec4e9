package watcher

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsmweb/uploader/internal/queue"
)

func quietOptions() Options {
	return Options{Logger: log.New(io.Discard, "", 0)}
}

// waitFor reads events until one for path arrives or the timeout expires.
func waitFor(t *testing.T, w *Watcher, path string) Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Path == path {
				return ev
			}
		case err := <-w.Errors():
			t.Fatalf("Unexpected watcher error: %v", err)
		case <-timeout:
			t.Fatalf("Timeout waiting for event on %s", path)
		}
	}
}

// TestNew verifies that a new watcher is not running.
func TestNew(t *testing.T) {
	w, err := New(quietOptions())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer w.Stop()

	if w.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
}

// TestStartStop verifies that the watcher can start and stop cleanly.
func TestStartStop(t *testing.T) {
	w, err := New(quietOptions())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := w.Start(t.TempDir()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !w.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := w.Start(t.TempDir()); err == nil {
		t.Error("Start() on a running watcher should fail")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
}

// TestStart_MissingDirectory verifies that an unwatchable root is reported.
func TestStart_MissingDirectory(t *testing.T) {
	w, err := New(quietOptions())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Start() should fail for a missing directory")
	}
}

// TestCreateAndModify verifies create and modify events carry a detection time.
func TestCreateAndModify(t *testing.T) {
	dir := t.TempDir()
	stamp := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	opts := quietOptions()
	opts.Now = func() time.Time { return stamp }
	w, err := New(opts)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := w.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "results.htm")
	if err := os.WriteFile(path, []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}

	ev := waitFor(t, w, path)
	if ev.Op != queue.OpCreate && ev.Op != queue.OpModify {
		t.Errorf("Op = %v, want create or modify", ev.Op)
	}
	if !ev.Time.Equal(stamp) {
		t.Errorf("Time = %v, want %v", ev.Time, stamp)
	}
}

// TestSuffixFilter verifies that only matching basenames are reported.
func TestSuffixFilter(t *testing.T) {
	dir := t.TempDir()

	opts := quietOptions()
	opts.Suffixes = []string{"JudgesDetailsperSkater.pdf"}
	w, err := New(opts)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := w.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "Other.pdf"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(dir, "SEG001_JudgesDetailsperSkater.pdf")
	if err := os.WriteFile(target, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if filepath.Base(ev.Path) == "Other.pdf" {
				t.Fatalf("filtered file reported: %+v", ev)
			}
			if ev.Path == target {
				return
			}
		case <-timeout:
			t.Fatal("Timeout waiting for target event")
		}
	}
}

// TestRecursive verifies that files in subdirectories created after Start are seen.
func TestRecursive(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "existing"), 0755); err != nil {
		t.Fatal(err)
	}

	opts := quietOptions()
	opts.Recursive = true
	w, err := New(opts)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := w.Start(root); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	deep := filepath.Join(root, "existing", "a.pdf")
	if err := os.WriteFile(deep, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, deep)

	fresh := filepath.Join(root, "fresh")
	if err := os.Mkdir(fresh, 0755); err != nil {
		t.Fatal(err)
	}
	// give the loop a moment to register the new directory
	time.Sleep(100 * time.Millisecond)

	inFresh := filepath.Join(fresh, "b.pdf")
	if err := os.WriteFile(inFresh, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, inFresh)
}

// TestDeleteObserved verifies that deletions are reported as delete events.
func TestDeleteObserved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.htm")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := New(quietOptions())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := w.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if ev := waitFor(t, w, path); ev.Op != queue.OpDelete {
		t.Errorf("Op = %v, want delete", ev.Op)
	}
}
