// Package differ performs the one-shot catch-up scan of a session: it works
// out which website files changed since the last persisted snapshot, and which
// artifact PDFs are missing from, or stale in, the website directory.
package differ

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsmweb/uploader/internal/schedule"
	"github.com/fsmweb/uploader/internal/snapshot"
)

// IndexPage is the competition index document every website must contain.
const IndexPage = "index.htm"

// TargetPDFs are the artifact names copied into the website directory.
var TargetPDFs = []string{"JudgesDetailsperSkater.pdf"}

// ErrIndexMissing is returned when the website directory has no index page.
var ErrIndexMissing = errors.New("index.htm not found: index page must be present before running uploader")

// ListFilesToUpload snapshots dir and returns every path whose digest differs
// from, or is missing in, previous. Paths are sorted.
func ListFilesToUpload(dir string, previous snapshot.Snapshot) ([]string, error) {
	current, err := snapshot.SnapshotDirectory(dir)
	if err != nil {
		return nil, err
	}

	var changed []string
	for path, digest := range current {
		if digest == snapshot.Absent {
			// vanished between listing and hashing
			continue
		}
		if old, ok := previous[path]; !ok || old != digest {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

// ListPDFsToCopy walks sourceRoot recursively for files named like one of
// targetNames and returns those absent from destDir or present there with a
// different digest. When several source files share a basename, the last one
// in walk order wins.
func ListPDFsToCopy(sourceRoot, destDir string, targetNames []string) ([]string, error) {
	sources := make(map[string]string)
	err := filepath.WalkDir(sourceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !matchesTarget(d.Name(), targetNames) {
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		sources[d.Name()] = abs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", sourceRoot, err)
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", destDir, err)
	}
	present := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !matchesTarget(entry.Name(), targetNames) {
			continue
		}
		present[entry.Name()] = filepath.Join(destDir, entry.Name())
	}

	var toCopy []string
	for name, src := range sources {
		dst, ok := present[name]
		if !ok || snapshot.Compute(dst) != snapshot.Compute(src) {
			toCopy = append(toCopy, src)
		}
	}
	sort.Strings(toCopy)
	return toCopy, nil
}

// ReadSchedule parses the index page of websiteDir into the panel schedule.
// A missing index page is ErrIndexMissing.
func ReadSchedule(websiteDir string, loc *time.Location) (*schedule.Schedule, error) {
	path := filepath.Join(websiteDir, IndexPage)
	// #nosec G304 - path is built from validated configuration
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrIndexMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	s, err := schedule.Parse(f, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to build panel schedule from %s: %w", path, err)
	}
	return s, nil
}

func matchesTarget(name string, targets []string) bool {
	for _, target := range targets {
		if strings.Contains(name, target) {
			return true
		}
	}
	return false
}
