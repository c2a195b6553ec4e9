package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeReleaser map[string]time.Time

func (f fakeReleaser) HeldAt(name string, asOf time.Time) bool {
	release, ok := f[name]
	return ok && asOf.Before(release)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestCompute_Stable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.htm", "<html>results</html>")

	first := Compute(path)
	second := Compute(path)
	if first == Absent {
		t.Fatal("Compute() returned Absent for an existing file")
	}
	if first != second {
		t.Errorf("Compute() not stable: %s != %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("digest length = %d, want 64", len(first))
	}
}

func TestCompute_SingleByteChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.htm", "abcdef")
	before := Compute(path)

	writeFile(t, dir, "a.htm", "abcdeg")
	after := Compute(path)

	if before == after {
		t.Error("Compute() did not detect a single-byte change")
	}
}

func TestCompute_MissingFile(t *testing.T) {
	if got := Compute(filepath.Join(t.TempDir(), "gone.htm")); got != Absent {
		t.Errorf("Compute() = %q, want Absent", got)
	}
}

func TestSnapshotDirectory_SkipsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.htm", "a")
	b := writeFile(t, dir, "b.pdf", "b")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "sub"), "c.htm", "c")

	snap, err := SnapshotDirectory(dir)
	if err != nil {
		t.Fatalf("SnapshotDirectory() failed: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("len(snap) = %d, want 2: %v", len(snap), snap)
	}
	if snap[a] != Compute(a) || snap[b] != Compute(b) {
		t.Errorf("unexpected digests: %v", snap)
	}
}

func TestLoad_MissingCreatesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "save.json")

	snap, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(snap) != 0 {
		t.Errorf("len(snap) = %d, want 0", len(snap))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Load() did not create %s: %v", path, err)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	snap, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if snap == nil || len(snap) != 0 {
		t.Errorf("Load(\"\") = %v, want empty snapshot", snap)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.json")
	want := Snapshot{"/site/a.htm": "x", "/site/b.pdf": "y"}

	if err := Save(path, want); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("got[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestLoad_Corrupt(t *testing.T) {
	path := writeFile(t, t.TempDir(), "save.json", "{not json")
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on corrupt snapshot")
	}
}

func TestTrim(t *testing.T) {
	release := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	r := fakeReleaser{"PanelAOF.htm": release}
	snap := Snapshot{
		"/site/PanelAOF.htm": "g",
		"/site/index.htm":    "i",
	}

	tests := []struct {
		name     string
		asOf     time.Time
		wantKept bool
	}{
		{"before release removes gated file", release.Add(-time.Second), false},
		{"at release keeps gated file", release, true},
		{"after release keeps gated file", release.Add(time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Trim(snap, r, tt.asOf)
			_, kept := got["/site/PanelAOF.htm"]
			if kept != tt.wantKept {
				t.Errorf("gated entry kept = %v, want %v", kept, tt.wantKept)
			}
			if _, ok := got["/site/index.htm"]; !ok {
				t.Error("non-gated entry should always be kept")
			}
		})
	}

	if len(snap) != 2 {
		t.Error("Trim() must not modify its input")
	}
}
