package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/desertthunder/cmdarr/internal/shared"
)

// Parse parses a standard five-field cron expression.
func Parse(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("%w: cron %q: %w", shared.ErrInvalidInput, expr, err)
	}
	return sched, nil
}

// ResolveLocation loads the named zone. An empty name is UTC. An unknown name
// also resolves to UTC, and the returned error says so; callers log it and go on.
func ResolveLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC, fmt.Errorf("%w: timezone %q, falling back to UTC: %w", shared.ErrInvalidConfig, tz, err)
	}
	return loc, nil
}

// NextRun returns the first boundary of expr strictly after after, evaluated in tz.
func NextRun(expr, tz string, after time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, _ := ResolveLocation(tz)
	return sched.Next(after.In(loc)), nil
}

// IsDue reports whether now is exactly a boundary of expr in tz. An instant
// one second past the boundary is not due; [Crossed] covers tick windows.
func IsDue(expr, tz string, now time.Time) (bool, error) {
	sched, err := Parse(expr)
	if err != nil {
		return false, err
	}
	loc, _ := ResolveLocation(tz)
	t := now.In(loc)
	return sched.Next(t.Add(-time.Second)).Equal(t), nil
}

// Crossed reports whether a boundary of expr lies in (since, now], returning it.
func Crossed(expr, tz string, since, now time.Time) (bool, time.Time, error) {
	next, err := NextRun(expr, tz, since)
	if err != nil {
		return false, time.Time{}, err
	}
	return !next.IsZero() && !next.After(now), next, nil
}
