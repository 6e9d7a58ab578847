// Package cronexpr validates 5-field cron expressions and computes their fire times.
//
// Fields are minute (0-59), hour (0-23), day-of-month (1-31), month (1-12) and
// day-of-week (0-6, 0 is Sunday). Each field accepts *, single values, comma
// lists, ranges (a-b) and steps (*/n, a-b/n).
//
// When both day-of-month and day-of-week are restricted, a time matches if
// either of them matches. This is the conventional POSIX cron behaviour.
package cronexpr

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// HorizonYears bounds how far into the future Next searches for a match.
const HorizonYears = 4

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Expression is a parsed cron expression
type Expression struct {
	raw      string
	schedule cron.Schedule
}

// Parse parses a 5-field cron expression
func Parse(expr string) (*Expression, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "@") || strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, ErrDescriptorNotAllowed)
	}

	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	return &Expression{raw: expr, schedule: schedule}, nil
}

// Validate reports whether expr is a syntactically valid 5-field expression.
// It does not check that the expression can ever match.
func Validate(expr string) bool {
	_, err := Parse(expr)
	return err == nil
}

// NextFireAfter returns the earliest time strictly after ref matching expr
func NextFireAfter(expr string, ref time.Time) (time.Time, error) {
	e, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return e.Next(ref)
}

// String returns the expression as written
func (e *Expression) String() string {
	return e.raw
}

// Next returns the earliest time strictly after ref that satisfies the
// expression, evaluated in ref's location.
func (e *Expression) Next(ref time.Time) (time.Time, error) {
	next := e.schedule.Next(ref)
	if next.IsZero() || next.After(ref.AddDate(HorizonYears, 0, 0)) {
		return time.Time{}, fmt.Errorf("expression %q after %s: %w", e.raw, ref.Format(time.RFC3339), ErrNoFutureMatch)
	}
	return next, nil
}

// NextN returns the next n fire times after ref
func (e *Expression) NextN(ref time.Time, n int) ([]time.Time, error) {
	times := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		next, err := e.Next(ref)
		if err != nil {
			return times, err
		}
		times = append(times, next)
		ref = next
	}
	return times, nil
}
