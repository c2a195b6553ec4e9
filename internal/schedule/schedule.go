// Package schedule holds the release times of gated pages.
//
// Judging-panel pages (names ending in "OF.htm") must not be published before
// their segment starts. The times come from the timetable table on the
// competition index page; see Parse.
package schedule

import (
	"sort"
	"strings"
	"time"
)

// GatedSuffix marks a basename whose publication waits for a release time.
const GatedSuffix = "OF.htm"

// IsGated reports whether name follows the gated naming pattern.
func IsGated(name string) bool {
	return strings.HasSuffix(name, GatedSuffix)
}

// Schedule maps gated basenames to release times. It is immutable once built.
// A nil *Schedule behaves as an empty schedule.
type Schedule struct {
	releases map[string]time.Time
}

// New builds a schedule from a name -> release time mapping. The map is copied.
func New(releases map[string]time.Time) *Schedule {
	m := make(map[string]time.Time, len(releases))
	for k, v := range releases {
		m[k] = v
	}
	return &Schedule{releases: m}
}

// Release returns the release time for name, if known.
func (s *Schedule) Release(name string) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	t, ok := s.releases[name]
	return t, ok
}

// HeldAt reports whether name is gated and its release is still after asOf.
// Names missing from the schedule are releasable immediately.
func (s *Schedule) HeldAt(name string, asOf time.Time) bool {
	if !IsGated(name) {
		return false
	}
	release, ok := s.Release(name)
	if !ok {
		return false
	}
	return asOf.Before(release)
}

// Len returns the number of scheduled pages.
func (s *Schedule) Len() int {
	if s == nil {
		return 0
	}
	return len(s.releases)
}

// Names returns the scheduled basenames ordered by release time, then name.
func (s *Schedule) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.releases))
	for name := range s.releases {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ti, tj := s.releases[names[i]], s.releases[names[j]]
		if ti.Equal(tj) {
			return names[i] < names[j]
		}
		return ti.Before(tj)
	})
	return names
}
