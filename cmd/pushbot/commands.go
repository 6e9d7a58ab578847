package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/t77yq/pushbot/internal/config"
	"github.com/t77yq/pushbot/internal/cronexpr"
	"github.com/t77yq/pushbot/internal/handler"
	"github.com/t77yq/pushbot/internal/model"
	"github.com/t77yq/pushbot/internal/orchestrator"
	"github.com/t77yq/pushbot/internal/service"
	"github.com/t77yq/pushbot/internal/storage"
)

const timeLayout = "2006-01-02 15:04:05"

var stdout io.Writer = os.Stdout

func runSchedule(ctx context.Context, args []string) error {
	fs, g := newFlagSet("schedule")
	remote := fs.Bool("remote", false, "show the live bindings of the running daemon")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := loadEnv(fs, g)
	if err != nil {
		return err
	}
	defer e.close()

	if *remote {
		client, closeConn, err := e.remoteClient(ctx)
		if err != nil {
			return err
		}
		defer closeConn()

		infos, err := client.Schedule(ctx)
		if err != nil {
			return err
		}
		return writeBindings(stdout, infos)
	}

	loc, err := e.cfg.Location()
	if err != nil {
		return err
	}
	return orchestrator.WriteSchedule(stdout, e.cfg.Tasks, time.Now(), loc)
}

func writeBindings(w io.Writer, infos []model.ScheduleInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tCRON\tNEXT\tLAST\tRUNNING")
	for _, info := range infos {
		running := "-"
		if info.Running && info.RunningSince != nil {
			running = "since " + humanize.Time(*info.RunningSince)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			info.TaskName, info.Expression,
			formatTime(info.NextFireTime), formatTime(info.LastFireTime), running)
	}
	return tw.Flush()
}

func runTest(ctx context.Context, args []string) error {
	fs, g := newFlagSet("test")
	name := fs.String("task", "", "run only this task, even when it is disabled")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := loadEnv(fs, g)
	if err != nil {
		return err
	}
	defer e.close()

	orch, cleanup, err := e.localOrchestrator()
	if err != nil {
		return err
	}
	defer cleanup()

	if *name != "" {
		result, err := orch.RunTask(ctx, *name)
		if err != nil {
			return err
		}
		writeResult(stdout, result)
		if !result.Succeeded() {
			return errTasksFailed
		}
		return nil
	}

	results := orch.RunAllOnce(ctx)
	names := make([]string, 0, len(results))
	for n := range results {
		names = append(names, n)
	}
	sort.Strings(names)

	failed := false
	for _, n := range names {
		ok := results[n]
		switch {
		case ok == nil:
			fmt.Fprintf(stdout, "⏭  %s: disabled\n", n)
		case *ok:
			fmt.Fprintf(stdout, "✅ %s\n", n)
		default:
			failed = true
			status, _ := orch.TaskStatus(n)
			fmt.Fprintf(stdout, "❌ %s: %s\n", n, status.LastError)
		}
	}

	if failed {
		return errTasksFailed
	}
	return nil
}

func writeResult(w io.Writer, result model.ExecutionResult) {
	if result.Succeeded() {
		fmt.Fprintf(w, "✅ %s (%s)\n", result.TaskName, result.Duration.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(w, "❌ %s: %s: %s\n", result.TaskName, result.Outcome, result.Detail)
}

func runList(ctx context.Context, args []string) error {
	fs, g := newFlagSet("list")
	remote := fs.Bool("remote", false, "query the running daemon")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := loadEnv(fs, g)
	if err != nil {
		return err
	}
	defer e.close()

	if *remote {
		client, closeConn, err := e.remoteClient(ctx)
		if err != nil {
			return err
		}
		defer closeConn()

		names, err := client.List(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(stdout, name)
		}
		return nil
	}

	return writeDeclarations(stdout, e.cfg.Tasks)
}

func writeDeclarations(w io.Writer, decls []config.TaskConfig) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tKIND\tSOURCE\tCRON\tENABLED")
	for _, decl := range decls {
		source := decl.Source
		if source == "" {
			source = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", decl.Name, decl.Kind, source, decl.Cron, decl.IsEnabled())
	}
	return tw.Flush()
}

func runStatus(ctx context.Context, args []string) error {
	fs, g := newFlagSet("status")
	name := fs.String("task", "", "show only this task")
	remote := fs.Bool("remote", false, "query the running daemon")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := loadEnv(fs, g)
	if err != nil {
		return err
	}
	defer e.close()

	var statuses map[string]model.Status
	if *remote {
		client, closeConn, err := e.remoteClient(ctx)
		if err != nil {
			return err
		}
		defer closeConn()

		if *name != "" {
			status, err := client.Status(ctx, *name)
			if err != nil {
				return err
			}
			statuses = map[string]model.Status{status.Name: status}
		} else if statuses, err = client.AllStatus(ctx); err != nil {
			return err
		}
	} else {
		orch, cleanup, err := e.localOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()

		if *name != "" {
			status, ok := orch.TaskStatus(*name)
			if !ok {
				return fmt.Errorf("%w: %s", orchestrator.ErrTaskNotFound, *name)
			}
			statuses = map[string]model.Status{status.Name: status}
		} else {
			statuses = orch.AllStatus()
		}
	}

	return writeStatuses(stdout, statuses)
}

func writeStatuses(w io.Writer, statuses map[string]model.Status) error {
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tENABLED\tLAST RUN\tLAST ERROR")
	for _, name := range names {
		status := statuses[name]
		lastRun := "never"
		if status.LastRunTime != nil {
			lastRun = humanize.Time(*status.LastRunTime)
		}
		lastError := status.LastError
		if lastError == "" {
			lastError = "-"
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", name, status.Enabled, lastRun, lastError)
	}
	return tw.Flush()
}

func runEnable(ctx context.Context, args []string) error {
	return toggleTask(ctx, "enable", args)
}

func runDisable(ctx context.Context, args []string) error {
	return toggleTask(ctx, "disable", args)
}

func toggleTask(ctx context.Context, op string, args []string) error {
	fs, g := newFlagSet(op)
	name := fs.String("task", "", "task to "+op)
	remote := fs.Bool("remote", false, "apply to the running daemon")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("--task is required")
	}

	e, err := loadEnv(fs, g)
	if err != nil {
		return err
	}
	defer e.close()

	var status model.Status
	if *remote {
		client, closeConn, err := e.remoteClient(ctx)
		if err != nil {
			return err
		}
		defer closeConn()

		apply := client.Enable
		if op == "disable" {
			apply = client.Disable
		}
		if status, err = apply(ctx, *name); err != nil {
			return err
		}
	} else {
		orch, cleanup, err := e.localOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()

		apply := orch.EnableTask
		if op == "disable" {
			apply = orch.DisableTask
		}
		if !apply(*name) {
			return fmt.Errorf("%w: %s", orchestrator.ErrTaskNotFound, *name)
		}
		status, _ = orch.TaskStatus(*name)
		fmt.Fprintln(os.Stderr, "note: the change only lasts for this process; use --remote to change the running daemon")
	}

	fmt.Fprintf(stdout, "%s: enabled=%t\n", status.Name, status.Enabled)
	return nil
}

func runTrigger(ctx context.Context, args []string) error {
	fs, g := newFlagSet("trigger")
	name := fs.String("task", "", "task to dispatch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("--task is required")
	}

	e, err := loadEnv(fs, g)
	if err != nil {
		return err
	}
	defer e.close()

	client, closeConn, err := e.remoteClient(ctx)
	if err != nil {
		return err
	}
	defer closeConn()

	if err := client.Run(ctx, *name); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: dispatched\n", *name)
	return nil
}

func runWatch(ctx context.Context, args []string) error {
	fs, g := newFlagSet("watch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := loadEnv(fs, g)
	if err != nil {
		return err
	}
	defer e.close()

	nc, err := connectNATS(ctx, e.cfg.NATS, e.logger, 1)
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}
	publisher, err := service.NewResultPublisher(js, e.cfg.NATS.SubjectPrefix, e.logger)
	if err != nil {
		return err
	}

	err = publisher.Subscribe(ctx, func(result model.ExecutionResult) {
		fmt.Fprintf(stdout, "%s  ", result.AttemptedAt.Local().Format(timeLayout))
		writeResult(stdout, result)
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs, g := newFlagSet("history")
	name := fs.String("task", "", "show only this task")
	outcome := fs.String("outcome", "", "show only this outcome (success, no_data, format_or_send_failure, exception)")
	limit := fs.IntP("limit", "n", 20, "maximum number of records")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := loadEnv(fs, g)
	if err != nil {
		return err
	}
	defer e.close()

	history, err := e.openHistory()
	if err != nil {
		return err
	}
	if history == nil {
		return errors.New("history.path is not configured")
	}
	defer history.Close()

	filter := storage.HistoryFilter{TaskName: *name, Outcome: model.Outcome(*outcome)}
	results, err := history.List(ctx, filter, 0, *limit)
	if err != nil {
		return err
	}
	total, err := history.Count(ctx, filter)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ATTEMPTED\tTASK\tOUTCOME\tDURATION\tDETAIL")
	for _, result := range results {
		fmt.Fprintf(tw, "%s (%s)\t%s\t%s\t%s\t%s\n",
			result.AttemptedAt.Local().Format(timeLayout), humanize.Time(result.AttemptedAt),
			result.TaskName, result.Outcome, result.Duration.Round(time.Millisecond), result.Detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d of %s records\n", len(results), humanize.Comma(int64(total)))
	return nil
}

func runSources(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("pushbot sources", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tNAME\tURL")
	for _, site := range handler.Sources() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", site.Key, site.Name, site.URL)
	}
	return tw.Flush()
}

func runCron(ctx context.Context, args []string) error {
	fs, g := newFlagSet("cron")
	count := fs.Int("count", 5, "number of fire times to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) < 2 || (rest[0] != "validate" && rest[0] != "next") {
		return errors.New(`usage: pushbot cron validate|next "MIN HOUR DOM MON DOW"`)
	}
	action, expression := rest[0], strings.Join(rest[1:], " ")

	expr, err := cronexpr.Parse(expression)
	if err != nil {
		return err
	}
	if action == "validate" {
		fmt.Fprintf(stdout, "✅ %q is valid\n", expr.String())
		return nil
	}

	e, err := loadEnv(fs, g)
	if err != nil {
		return err
	}
	defer e.close()

	loc, err := e.cfg.Location()
	if err != nil {
		return err
	}

	times, err := expr.NextN(time.Now().In(loc), *count)
	for i, t := range times {
		fmt.Fprintf(stdout, "%2d. %s (%s)\n", i+1, t.Format(timeLayout+" MST"), humanize.Time(t))
	}
	return err
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}
