package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/config"
	"github.com/t77yq/pushbot/internal/executor"
	"github.com/t77yq/pushbot/internal/handler"
	"github.com/t77yq/pushbot/internal/logging"
	"github.com/t77yq/pushbot/internal/notify"
	"github.com/t77yq/pushbot/internal/orchestrator"
	"github.com/t77yq/pushbot/internal/storage"
)

// errTasksFailed makes the process exit non-zero without printing an error
var errTasksFailed = errors.New("one or more tasks failed")

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"run", "run the scheduler daemon (default)", runDaemon},
	{"schedule", "print the next fire time of every enabled task", runSchedule},
	{"test", "run tasks once and report the outcome", runTest},
	{"list", "list the configured tasks", runList},
	{"status", "show task status", runStatus},
	{"enable", "enable a task", runEnable},
	{"disable", "disable a task", runDisable},
	{"trigger", "dispatch a task on the running daemon", runTrigger},
	{"watch", "stream execution results from the running daemon", runWatch},
	{"history", "list stored execution records", runHistory},
	{"sources", "list the supported hot-search sources", runSources},
	{"cron", "validate a cron expression or print its next fire times", runCron},
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	name := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}

	if name == "help" {
		printUsage()
		return 0
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "pushbot: unknown command %q\n\n", name)
		printUsage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, args); err != nil {
		switch {
		case errors.Is(err, pflag.ErrHelp):
			return 0
		case errors.Is(err, errTasksFailed):
		default:
			fmt.Fprintf(os.Stderr, "pushbot %s: %v\n", name, err)
		}
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: pushbot [command] [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Run 'pushbot <command> --help' for the flags of a command.")
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func newFlagSet(name string) (*pflag.FlagSet, *globalFlags) {
	fs := pflag.NewFlagSet("pushbot "+name, pflag.ContinueOnError)
	g := &globalFlags{}
	fs.StringVarP(&g.configPath, "config", "c", "", "path to the YAML config file")
	fs.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	return fs, g
}

// env holds what every command needs after flag parsing
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func loadEnv(fs *pflag.FlagSet, g *globalFlags) (*env, error) {
	cfg, err := config.Load(g.configPath, fs)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}

	return &env{cfg: cfg, logger: logger}, nil
}

func (e *env) close() {
	_ = e.logger.Sync()
}

func (e *env) newNotifier() (*notify.DingTalk, error) {
	return notify.NewDingTalk(notify.DingTalkConfig{
		Webhook:       e.cfg.DingTalk.Webhook,
		Secret:        e.cfg.DingTalk.Secret,
		Timeout:       e.cfg.DingTalk.Timeout,
		RatePerMinute: e.cfg.DingTalk.RatePerMinute,
		MaxRetries:    e.cfg.DingTalk.MaxRetries,
		AtAll:         e.cfg.DingTalk.AtAll,
	}, e.logger)
}

// openHistory opens the execution history, or returns nil when it is disabled
func (e *env) openHistory() (*storage.SQLiteExecutionHistory, error) {
	if e.cfg.History.Path == "" {
		return nil, nil
	}
	history, err := storage.NewSQLiteExecutionHistory(e.logger, e.cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open execution history: %w", err)
	}
	return history, nil
}

// newOrchestrator validates the configuration and builds the orchestrator
// with its notifier.
func (e *env) newOrchestrator(notifier notify.Notifier, recorder *executor.Recorder) (*orchestrator.Orchestrator, error) {
	var opts []orchestrator.Option
	if recorder != nil {
		opts = append(opts, orchestrator.WithObserver(recorder))
	}
	return orchestrator.New(e.cfg, handler.NewFactory(e.cfg, e.logger), notifier, e.logger, opts...)
}

// localOrchestrator builds an orchestrator for a one-shot command. Its
// executions are recorded in the history when one is configured.
func (e *env) localOrchestrator() (*orchestrator.Orchestrator, func(), error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", orchestrator.ErrInvalidConfig, err)
	}

	notifier, err := e.newNotifier()
	if err != nil {
		return nil, nil, err
	}

	history, err := e.openHistory()
	if err != nil {
		return nil, nil, err
	}

	var recorderOpts []executor.Option
	cleanup := func() {}
	if history != nil {
		recorderOpts = append(recorderOpts, executor.WithHistory(history))
		cleanup = func() { _ = history.Close() }
	}

	orch, err := e.newOrchestrator(notifier, executor.NewRecorder(e.logger, recorderOpts...))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return orch, cleanup, nil
}
