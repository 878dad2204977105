package schedule

import (
	"fmt"
	"time"

	"github.com/hashicorp/cronexpr"
)

// maxRunsPerWindow bounds RunTimesBetween so a per-second expression
// cannot flood a long window.
const maxRunsPerWindow = 64

// NextRunTimes returns the next N run times that a cron expression will run.
// Each run time is in UTC.
func NextRunTimes(cron string, n int) ([]time.Time, error) {
	cutoff := time.Now().UTC()
	return NextRunTimesAfter(cron, cutoff, n)
}

// NextRunTimesAfter returns the next N run times after a specific time.
// It returns an error if the cron expression is invalid or if count is less than 1.
func NextRunTimesAfter(cron string, after time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, fmt.Errorf("count must be greater than 0")
	}
	expr, err := cronexpr.Parse(cron)
	if err != nil {
		return nil, err
	}
	return expr.NextN(after, uint(n)), nil
}

// RunTimesBetween returns the run times in [from, to). Adjacent windows
// never share a run time.
func RunTimesBetween(cron string, from, to time.Time) ([]time.Time, error) {
	expr, err := cronexpr.Parse(cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	var runs []time.Time
	// Next is strictly after its argument.
	next := expr.Next(from.Add(-time.Nanosecond))
	for !next.IsZero() && next.Before(to) && len(runs) < maxRunsPerWindow {
		runs = append(runs, next)
		next = expr.Next(next)
	}
	return runs, nil
}

func ValidateCron(cron string) error {
	_, err := cronexpr.Parse(cron)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
