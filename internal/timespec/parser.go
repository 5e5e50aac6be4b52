// Package timespec parses the time arguments the CLI accepts: Go durations such as "2h30m"
// and RFC3339 timestamps.
package timespec

import (
	"fmt"
	"strings"
	"time"
)

// Parse parses a time specification that points into the past, for filters such as
// --since. A duration is subtracted from now; "1h" means one hour ago.
//
// Returns Unix timestamp in milliseconds.
func Parse(spec string, now time.Time) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		return now.Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// ParseDeadline parses a mission deadline. A duration is added to now; "2h" means two
// hours from now. The deadline must lie in the future.
func ParseDeadline(spec string, now time.Time) (time.Time, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty deadline")
	}

	var deadline time.Time
	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		deadline = t
	} else if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("deadline duration must be positive, got %s", spec)
		}
		deadline = now.Add(d)
	} else {
		return time.Time{}, fmt.Errorf("invalid deadline: %s (use duration like '2h' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
	}

	if !deadline.After(now) {
		return time.Time{}, fmt.Errorf("deadline %s is not in the future", deadline.UTC().Format(time.RFC3339))
	}
	return deadline, nil
}

// ParseRange parses both --since and --until flags into a time range.
// Returns (sinceTimestampMs, untilTimestampMs, error).
// Zero values indicate "no bound" for that end of the range.
func ParseRange(since, until string, now time.Time) (int64, int64, error) {
	var sinceMS, untilMS int64
	var err error

	if since != "" {
		sinceMS, err = Parse(since, now)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		untilMS, err = Parse(until, now)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if sinceMS > 0 && untilMS > 0 && sinceMS >= untilMS {
		return 0, 0, fmt.Errorf("--since must be before --until")
	}

	return sinceMS, untilMS, nil
}
