package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// CheckTimeLayout is the exact format accepted for an operator check time.
const CheckTimeLayout = "2006-01-02 15:04:05"

// ParseCheckTime parses an operator-supplied check time. It accepts
// CheckTimeLayout, RFC 3339, or an English expression such as
// "today 10:00" or "tomorrow 9am" resolved relative to now.
func ParseCheckTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty check time")
	}

	if t, err := time.ParseInLocation(CheckTimeLayout, s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse check time %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognised check time %q (use %q)", s, CheckTimeLayout)
	}
	return r.Time, nil
}
