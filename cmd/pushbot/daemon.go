package main

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/api"
	"github.com/t77yq/pushbot/internal/executor"
	"github.com/t77yq/pushbot/internal/model"
	"github.com/t77yq/pushbot/internal/monitor"
	"github.com/t77yq/pushbot/internal/orchestrator"
	"github.com/t77yq/pushbot/internal/service"
	"github.com/t77yq/pushbot/internal/storage"
)

const (
	historyPruneInterval = 24 * time.Hour
	httpShutdownTimeout  = 10 * time.Second
	natsConnectAttempts  = 5
)

func runDaemon(ctx context.Context, args []string) error {
	fs, g := newFlagSet("run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := loadEnv(fs, g)
	if err != nil {
		return err
	}
	defer e.close()
	logger := e.logger

	if err := e.cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return fmt.Errorf("%w: %w", orchestrator.ErrInvalidConfig, err)
	}

	notifier, err := e.newNotifier()
	if err != nil {
		return err
	}

	var recorderOpts []executor.Option

	history, err := e.openHistory()
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
		recorderOpts = append(recorderOpts, executor.WithHistory(history))
		go pruneHistory(ctx, history, e.cfg.History.Retention, logger)
	}

	if e.cfg.Alert.FailureThreshold > 0 {
		alerts := monitor.NewAlertManager(notifier, e.cfg.Alert.FailureThreshold, logger)
		recorderOpts = append(recorderOpts, executor.WithAlerts(alerts))
	}

	var nc *nats.Conn
	if e.cfg.NATS.URL != "" {
		nc, err = connectNATS(ctx, e.cfg.NATS, logger, natsConnectAttempts)
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				logger.Warn("Failed to drain NATS connection", zap.Error(err))
			}
		}()

		js, err := nc.JetStream()
		if err != nil {
			return fmt.Errorf("failed to create JetStream context: %w", err)
		}
		publisher, err := service.NewResultPublisher(js, e.cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return err
		}
		recorderOpts = append(recorderOpts, executor.WithPublisher(publisher))
	}

	recorder := executor.NewRecorder(logger, recorderOpts...)
	orch, err := e.newOrchestrator(notifier, recorder)
	if err != nil {
		logger.Error("Failed to build orchestrator", zap.Error(err))
		return err
	}

	if nc != nil {
		control := service.NewControlServer(nc, e.cfg.NATS.SubjectPrefix, orch, logger)
		if err := control.Start(); err != nil {
			return err
		}
		defer control.Stop()
	}

	if e.cfg.HTTP.Addr != "" {
		server := api.NewServer(e.cfg.HTTP.Addr, orch, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("HTTP server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to shut down HTTP server", zap.Error(err))
			}
		}()
	}

	go func() {
		<-ctx.Done()
		logger.Info("Received shutdown signal")
		notifySystemd(logger, daemon.SdNotifyStopping)
		orch.Stop()
	}()

	notifySystemd(logger, daemon.SdNotifyReady)
	err = orch.Start(ctx)

	counts := recorder.Counts()
	logger.Info("Scheduler exited",
		zap.Int64("succeeded", counts[model.OutcomeSuccess]),
		zap.Int64("no_data", counts[model.OutcomeNoData]),
		zap.Int64("format_or_send_failures", counts[model.OutcomeFormatOrSendFailure]),
		zap.Int64("exceptions", counts[model.OutcomeException]))
	return err
}

func notifySystemd(logger *zap.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("Failed to notify systemd", zap.String("state", state), zap.Error(err))
		return
	}
	if sent {
		logger.Debug("Notified systemd", zap.String("state", state))
	}
}

func pruneHistory(ctx context.Context, history storage.ExecutionHistory, retention time.Duration, logger *zap.Logger) {
	if retention <= 0 {
		return
	}

	prune := func() {
		cutoff := time.Now().Add(-retention)
		deleted, err := history.DeleteBefore(ctx, cutoff)
		if err != nil {
			logger.Error("Failed to prune execution history", zap.Error(err))
			return
		}
		logger.Info("Pruned execution history",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}

	prune()

	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
