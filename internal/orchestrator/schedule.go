package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/t77yq/pushbot/internal/config"
	"github.com/t77yq/pushbot/internal/cronexpr"
)

const scheduleTimeLayout = "2006-01-02 15:04:05"

// WriteSchedule writes the next fire time after now of every enabled
// declaration, evaluated in loc. An invalid expression yields a warning line
// instead of a time.
func WriteSchedule(w io.Writer, decls []config.TaskConfig, now time.Time, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	var b strings.Builder
	fmt.Fprintf(&b, "📅 Task schedule (%s, now %s)\n", loc, now.Format(scheduleTimeLayout))
	for _, decl := range decls {
		if !decl.IsEnabled() {
			continue
		}

		next, err := cronexpr.NextFireAfter(decl.Cron, now)
		if err != nil {
			fmt.Fprintf(&b, "⚠️  %s (%s): %v\n", decl.Name, decl.Cron, err)
			continue
		}
		fmt.Fprintf(&b, "  %s (%s): next run at %s\n", decl.Name, decl.Cron, next.Format(scheduleTimeLayout))
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write schedule: %w", err)
	}
	return nil
}

// ShowSchedule writes the schedule of the currently enabled tasks
func (o *Orchestrator) ShowSchedule(w io.Writer) error {
	return WriteSchedule(w, o.Declarations(), o.now(), o.loc)
}
