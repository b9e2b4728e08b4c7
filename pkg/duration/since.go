package duration

import (
	"fmt"
	"strings"
	"time"
)

// sinceLayouts are the absolute forms ParseSince accepts, tried in order.
var sinceLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseSince parses a lower time bound for journal queries, resolved
// against now. It accepts:
//   - "" (no bound, returns the zero time)
//   - "now", "today" and "yesterday" (the latter two at local midnight)
//   - a duration in any form Parse accepts, optionally followed by "ago"
//   - an absolute timestamp such as RFC 3339, "2006-01-02 15:04" or "2006-01-02"
//
// Timestamps without a zone are read in now's location.
func ParseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}

	switch strings.ToLower(s) {
	case "now":
		return now, nil
	case "today":
		return midnight(now), nil
	case "yesterday":
		return midnight(now).AddDate(0, 0, -1), nil
	}

	for _, layout := range sinceLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}

	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "-") {
		return time.Time{}, fmt.Errorf("since %q: duration must not be negative", s)
	}
	expr := strings.TrimSpace(strings.TrimSuffix(lower, "ago"))
	d, err := Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("since %q: %w", s, err)
	}
	return now.Add(-d), nil
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
