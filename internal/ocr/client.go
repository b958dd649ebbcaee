package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/archive-transcriber/constants"
)

// Config configures the remote transcription service client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration // per HTTP attempt; default 30s
	MaxRetries int           // retries after the first attempt; default 5
	Backoff    time.Duration // first retry delay, doubled each retry; default 1s
}

// StatusResult is the remote view of one job.
type StatusResult struct {
	Status     constants.RemoteStatus
	Transcript string // set when Status is COMPLETED
}

// Client talks to the remote OCR service over HTTP with bearer auth.
type Client struct {
	cfg   Config
	http  *http.Client
	log   *slog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

// WithHTTPClient replaces the default *http.Client (its Timeout overrides Config.Timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithSleep replaces the backoff sleeper; tests use it to skip real waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		log:   logger,
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit uploads one base64-encoded image and returns the remote job id.
func (c *Client) Submit(ctx context.Context, imageBase64 string) (string, error) {
	body := map[string]any{
		"input": map[string]any{"image": imageBase64},
	}
	raw, err := c.do(ctx, "submit", http.MethodPost, c.cfg.BaseURL+"/run", body)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := decodeValidated(submitSchema, raw, &resp); err != nil {
		c.log.Error("ocr.submit.invalid_response", "error", err, "raw_bytes", len(raw))
		return "", err
	}
	return resp.ID, nil
}

// Status fetches the current remote status of a job.
func (c *Client) Status(ctx context.Context, externalJobID string) (StatusResult, error) {
	endpoint := c.cfg.BaseURL + "/status/" + url.PathEscape(externalJobID)
	raw, err := c.do(ctx, "status", http.MethodGet, endpoint, nil)
	if err != nil {
		return StatusResult{}, err
	}
	var resp struct {
		Status string `json:"status"`
		Output *struct {
			Transcript string `json:"transcript"`
		} `json:"output"`
	}
	if err := decodeValidated(statusSchema, raw, &resp); err != nil {
		c.log.Error("ocr.status.invalid_response", "external_job_id", externalJobID, "error", err, "raw", string(raw))
		return StatusResult{}, err
	}
	out := StatusResult{Status: constants.RemoteStatus(resp.Status)}
	if resp.Output != nil {
		out.Transcript = resp.Output.Transcript
	}
	return out, nil
}

// do sends the request, retrying transient failures with exponential backoff.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		payload = bs
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(c.cfg.Backoff, attempt)
			c.log.Warn("ocr.http.retry", "op", op, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		raw, err := c.send(ctx, op, method, endpoint, payload)
		if err == nil {
			return raw, nil
		}
		if !retryable(ctx, err) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s failed after %d attempts: %v", ErrUnavailable, op, c.cfg.MaxRetries+1, lastErr)
}

func (c *Client) send(ctx context.Context, op, method, endpoint string, payload []byte) ([]byte, error) {
	reqID := uuid.New().String()
	start := time.Now()

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		c.log.Error("ocr.http.build_request_error", "req_id", reqID, "error", err)
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	c.log.Debug("ocr.http.request", "req_id", reqID, "op", op, "method", method, "url", endpoint, "content_length", len(payload))

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("ocr.http.send_error", "req_id", reqID, "op", op, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("ocr.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Error("ocr.http.read_error", "req_id", reqID, "op", op, "error", err)
		return nil, err
	}

	c.log.Debug("ocr.http.response",
		"req_id", reqID,
		"op", op,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
