// Package service connects the daemon to NATS: it publishes execution results
// to JetStream and answers control requests from the command line.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/model"
)

const (
	// ResultStreamName is the JetStream stream holding execution results
	ResultStreamName = "PUSHBOT_RESULTS"

	resultMaxAge     = 24 * time.Hour
	resultMaxMsgSize = 1 * 1024 * 1024
	publishTimeout   = 5 * time.Second
)

// SubjectToken turns a task name into a single subject token
func SubjectToken(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

// ResultSubject returns the subject results of a task are published on
func ResultSubject(prefix, taskName string) string {
	return fmt.Sprintf("%s.result.%s", prefix, SubjectToken(taskName))
}

// ResultPublisher publishes execution results to JetStream
type ResultPublisher struct {
	js     nats.JetStreamContext
	prefix string
	logger *zap.Logger
}

// NewResultPublisher creates a new publisher and ensures its stream exists
func NewResultPublisher(js nats.JetStreamContext, prefix string, logger *zap.Logger) (*ResultPublisher, error) {
	p := &ResultPublisher{
		js:     js,
		prefix: prefix,
		logger: logger.Named("results"),
	}

	if err := p.setup(); err != nil {
		return nil, err
	}
	return p, nil
}

// setup creates or updates the result stream
func (p *ResultPublisher) setup() error {
	subjects := []string{p.prefix + ".result.>"}

	streamInfo, err := p.js.StreamInfo(ResultStreamName)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	if streamInfo == nil {
		_, err = p.js.AddStream(&nats.StreamConfig{
			Name:       ResultStreamName,
			Subjects:   subjects,
			Retention:  nats.LimitsPolicy,
			MaxAge:     resultMaxAge,
			MaxMsgs:    -1,
			MaxBytes:   -1,
			Discard:    nats.DiscardOld,
			MaxMsgSize: resultMaxMsgSize,
			Storage:    nats.FileStorage,
			Replicas:   1,
			Duplicates: time.Hour,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", ResultStreamName, err)
		}
		p.logger.Info("Created stream", zap.String("name", ResultStreamName))
		return nil
	}

	config := streamInfo.Config
	config.Subjects = subjects
	config.MaxAge = resultMaxAge
	config.MaxMsgSize = resultMaxMsgSize

	if _, err := p.js.UpdateStream(&config); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", ResultStreamName, err)
	}
	p.logger.Info("Updated stream", zap.String("name", ResultStreamName))
	return nil
}

// Publish publishes a result, deduplicated by its ID
func (p *ResultPublisher) Publish(ctx context.Context, result model.ExecutionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	subject := ResultSubject(p.prefix, result.TaskName)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(result.ID)); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	p.logger.Debug("Result published",
		zap.String("subject", subject),
		zap.String("id", result.ID))
	return nil
}

// Subscribe delivers results published from now on to handler until ctx is
// done
func (p *ResultPublisher) Subscribe(ctx context.Context, handler func(model.ExecutionResult)) error {
	sub, err := p.js.Subscribe(p.prefix+".result.>", func(msg *nats.Msg) {
		var result model.ExecutionResult
		if err := json.Unmarshal(msg.Data, &result); err != nil {
			p.logger.Error("Failed to unmarshal result", zap.Error(err))
			_ = msg.Term()
			return
		}

		handler(result)
		if err := msg.Ack(); err != nil {
			p.logger.Error("Failed to acknowledge message", zap.Error(err))
		}
	}, nats.DeliverNew(), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("failed to subscribe to results: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()

	return nil
}
