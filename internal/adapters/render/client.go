// Package render calls the external document rendering service.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/pkg/logger"
	"github.com/okian/fleetreport/pkg/metrics"
)

// Request is one document to render.
type Request = model.RenderRequest

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the wall-clock Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type payload struct {
	HTML   string       `json:"html"`
	Format model.Format `json:"format"`
}

// Client is an HTTP Renderer with bounded retries.
type Client struct {
	endpoint    string
	apiKey      string
	httpClient  *http.Client
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	sleep       Sleeper
	log         logger.Logger
}

// NewClient creates a Client posting to endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		httpClient:  &http.Client{},
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		sleep:       Sleep,
		log:         logger.Get().Named("render"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Render posts req to the service. Network errors, timeouts and 5xx
// responses are retried with exponential backoff; a quota response from the
// provider returns ErrOverage at once.
func (c *Client) Render(ctx context.Context, req Request) ([]byte, error) {
	if req.Format == "" {
		req.Format = model.FormatPDF
	}
	body, err := json.Marshal(payload{HTML: req.Input, Format: req.Format})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrRender, err)
	}

	var lastErr error
	delay := c.backoff
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTransient, err)
			}
			delay *= 2
		}

		metrics.RecordRenderAttempt()
		start := time.Now()
		out, err := c.attempt(ctx, body)
		metrics.RecordRenderLatency(float64(time.Since(start).Milliseconds()))
		if err == nil {
			metrics.RecordRender(len(out))
			return out, nil
		}
		if !errors.Is(err, ErrTransient) {
			metrics.RecordRenderFailure(failureKind(err))
			return nil, err
		}

		lastErr = err
		c.log.Warn(ctx, "render attempt failed",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", c.maxAttempts),
			logger.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}

	metrics.RecordRenderFailure("transient")
	return nil, fmt.Errorf("after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrRender, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: empty document", ErrRender)
		}
		return data, nil
	case resp.StatusCode == http.StatusPaymentRequired, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status=%d", ErrOverage, resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status=%d", ErrTransient, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrRender, resp.StatusCode, truncate(data))
	}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrOverage):
		return "overage"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "terminal"
	}
}

const maxErrorBody = 256

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "...(" + strconv.Itoa(len(b)) + " bytes)"
	}
	return string(b)
}
