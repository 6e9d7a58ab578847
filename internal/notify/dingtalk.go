package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DingTalkConfig holds the robot webhook settings
type DingTalkConfig struct {
	Webhook       string
	Secret        string
	Timeout       time.Duration
	RatePerMinute int
	MaxRetries    int
	AtAll         bool
}

// APIError is returned when DingTalk rejects a message
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dingtalk errcode %d: %s", e.Code, e.Message)
}

// retryableError marks transport failures and server errors
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// DingTalkOption configures a DingTalk notifier
type DingTalkOption func(*DingTalk)

// WithRetryStrategy overrides the retry backoff
func WithRetryStrategy(s RetryStrategy) DingTalkOption {
	return func(d *DingTalk) {
		d.backoff = s
	}
}

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c *http.Client) DingTalkOption {
	return func(d *DingTalk) {
		d.client = c
	}
}

// DingTalk sends markdown messages through a DingTalk robot webhook
type DingTalk struct {
	logger  *zap.Logger
	cfg     DingTalkConfig
	client  *http.Client
	limiter *rate.Limiter
	backoff RetryStrategy
	now     func() time.Time
}

type dingTalkMessage struct {
	MsgType  string           `json:"msgtype"`
	Markdown dingTalkMarkdown `json:"markdown"`
	At       dingTalkAt       `json:"at"`
}

type dingTalkMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type dingTalkAt struct {
	IsAtAll bool `json:"isAtAll"`
}

type dingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// NewDingTalk creates a new DingTalk notifier
func NewDingTalk(cfg DingTalkConfig, logger *zap.Logger, opts ...DingTalkOption) (*DingTalk, error) {
	if cfg.Webhook == "" {
		return nil, errors.New("dingtalk webhook is empty")
	}
	if _, err := url.Parse(cfg.Webhook); err != nil {
		return nil, fmt.Errorf("invalid dingtalk webhook: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
		burst = cfg.RatePerMinute
	}

	d := &DingTalk{
		logger:  logger.Named("dingtalk"),
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		backoff: DefaultBackoff(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Send posts a markdown message, retrying transport failures and server errors
func (d *DingTalk) Send(ctx context.Context, title, body string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	payload, err := json.Marshal(dingTalkMessage{
		MsgType:  "markdown",
		Markdown: dingTalkMarkdown{Title: title, Text: body},
		At:       dingTalkAt{IsAtAll: d.cfg.AtAll},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := d.backoff.NextRetry(attempt - 1)
			d.logger.Warn("Retrying message delivery",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("failed to send message: %w", ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = d.post(ctx, payload)
		if lastErr == nil {
			d.logger.Info("Message sent", zap.String("title", title))
			return nil
		}

		var retryable *retryableError
		if !errors.As(lastErr, &retryable) {
			return lastErr
		}
	}

	return fmt.Errorf("failed to send message after %d attempts: %w", d.cfg.MaxRetries+1, lastErr)
}

func (d *DingTalk) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.signedURL(d.now()), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("failed to post message: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &retryableError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return &retryableError{err: fmt.Errorf("dingtalk returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("dingtalk returned status %d", resp.StatusCode)
	}

	var result dingTalkResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if result.ErrCode != 0 {
		return &APIError{Code: result.ErrCode, Message: result.ErrMsg}
	}
	return nil
}

func (d *DingTalk) signedURL(now time.Time) string {
	if d.cfg.Secret == "" {
		return d.cfg.Webhook
	}

	timestamp := now.UnixMilli()
	sep := "&"
	if !strings.Contains(d.cfg.Webhook, "?") {
		sep = "?"
	}
	return fmt.Sprintf("%s%stimestamp=%d&sign=%s", d.cfg.Webhook, sep, timestamp, url.QueryEscape(Sign(timestamp, d.cfg.Secret)))
}

// Sign computes the robot signature for a millisecond timestamp
func Sign(timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d\n%s", timestamp, secret)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
