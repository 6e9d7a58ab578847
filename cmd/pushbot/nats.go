package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/config"
	"github.com/t77yq/pushbot/internal/service"
)

var errNATSDisabled = errors.New("nats.url is not configured")

// connectNATS connects to the configured server, retrying up to attempts
// times with a linear backoff.
func connectNATS(ctx context.Context, cfg config.NATSConfig, logger *zap.Logger, attempts int) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, errNATSDisabled
	}
	if attempts < 1 {
		attempts = 1
	}

	opts := []nats.Option{
		nats.Name("pushbot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	for i := 0; i < attempts; i++ {
		nc, err = nats.Connect(cfg.URL, opts...)
		if err == nil {
			logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
			return nc, nil
		}
		if i == attempts-1 {
			break
		}

		logger.Warn("Failed to connect to NATS, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second * time.Duration(i+1)):
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", attempts, err)
}

// remoteClient connects to the daemon's control plane
func (e *env) remoteClient(ctx context.Context) (*service.ControlClient, func(), error) {
	nc, err := connectNATS(ctx, e.cfg.NATS, e.logger, 1)
	if err != nil {
		return nil, nil, err
	}
	client := service.NewControlClient(nc, e.cfg.NATS.SubjectPrefix, e.cfg.NATS.RequestTimeout)
	return client, nc.Close, nil
}
