package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36"
	maxResponseSize  = 4 << 20
)

// httpGetter performs the GET requests of the data sources
type httpGetter struct {
	logger     *zap.Logger
	httpClient *http.Client
}

func newHTTPGetter(timeout time.Duration, logger *zap.Logger) *httpGetter {
	return &httpGetter{
		logger: logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// get fetches url and returns the response body. Statuses of 400 and above
// and bodies over maxResponseSize are errors.
func (g *httpGetter) get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	g.logger.Debug("Executing HTTP request", zap.String("host", req.URL.Host))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, maxResponseSize)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("HTTP request failed with status: %d", resp.StatusCode)
	}

	return body, nil
}
