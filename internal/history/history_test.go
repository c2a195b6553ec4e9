package history

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

// testStore opens a store in a temp directory.
func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history", "fsmup.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestOpen_Success tests database creation and schema setup.
func TestOpen_Success(t *testing.T) {
	s := testStore(t)

	var count int
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='transfers'`).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query schema: %v", err)
	}
	if count != 1 {
		t.Error("transfers table does not exist")
	}

	// idempotent
	if err := s.InitSchema(); err != nil {
		t.Errorf("InitSchema() second call failed: %v", err)
	}
}

// TestAppendRecent tests ordering, filtering and limits.
func TestAppendRecent(t *testing.T) {
	s := testStore(t)
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	records := []Record{
		{Time: base, Kind: KindUpload, Path: "/site/a.htm"},
		{Time: base.Add(time.Second), Kind: KindCopy, Path: "/fsm/b.pdf"},
		{Time: base.Add(2 * time.Second), Kind: KindKeepalive},
		{Time: base.Add(3 * time.Second), Kind: KindFailure, Path: "/site/c.htm", Detail: "upload retry limit exceeded"},
	}
	for _, r := range records {
		if err := s.Append(r); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	got, err := s.Recent(Filter{})
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("Recent() returned %d rows, want 4", len(got))
	}
	if got[0].Kind != KindFailure || got[0].Detail != "upload retry limit exceeded" {
		t.Errorf("newest = %+v", got[0])
	}
	if !got[3].Time.Equal(base) {
		t.Errorf("oldest time = %v, want %v", got[3].Time, base)
	}

	uploads, err := s.Recent(Filter{Kind: KindUpload})
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(uploads) != 1 || uploads[0].Path != "/site/a.htm" {
		t.Errorf("uploads = %+v", uploads)
	}

	limited, err := s.Recent(Filter{Limit: 2})
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited = %d rows, want 2", len(limited))
	}
}

// TestCounts tests per-kind counting.
func TestCounts(t *testing.T) {
	s := testStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Append(Record{Kind: KindUpload, Path: fmt.Sprintf("/site/%d.htm", i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Append(Record{Kind: KindKeepalive}); err != nil {
		t.Fatal(err)
	}

	counts, err := s.Counts()
	if err != nil {
		t.Fatalf("Counts() failed: %v", err)
	}
	if counts[KindUpload] != 3 || counts[KindKeepalive] != 1 || counts[KindCopy] != 0 {
		t.Errorf("Counts() = %v", counts)
	}
}

// TestClose_Idempotent tests that Close can be called twice.
func TestClose_Idempotent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}
