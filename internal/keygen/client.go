// Package keygen is a small client for the Keygen licensing API. Keygen owns
// license and machine enforcement; this package only speaks its JSON:API.
package keygen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cheetahbyte/plg/internal/metrics"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	mediaType        = "application/vnd.api+json"
	responseLimit    = 4 * 1024 * 1024
	defaultTimeout   = 10 * time.Second
	defaultRetryWait = 250 * time.Millisecond
)

type Options struct {
	BaseURL    string
	AccountID  string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	// RetryWaitMin overrides the minimum backoff; tests set it low.
	RetryWaitMin time.Duration
}

type Client struct {
	base  string
	token string
	http  *retryablehttp.Client
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	waitMin := opts.RetryWaitMin
	if waitMin <= 0 {
		waitMin = defaultRetryWait
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = max(opts.MaxRetries, 0)
	rc.RetryWaitMin = waitMin
	rc.RetryWaitMax = 20 * waitMin
	rc.HTTPClient.Timeout = timeout
	rc.Logger = leveledLogger{l: log.With().Str("component", "keygen").Logger()}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.keygen.sh"
	}
	return &Client{
		base:  fmt.Sprintf("%s/v1/accounts/%s", base, opts.AccountID),
		token: opts.Token,
		http:  rc,
	}
}

// do issues a request and decodes the JSON:API document into out when out is
// non-nil. Non-2xx responses become *Error.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("keygen %s: encode request: %w", op, err)
		}
		body = b
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, bytesOrNil(body))
	if err != nil {
		return fmt.Errorf("keygen %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", mediaType)
	if body != nil {
		req.Header.Set("Content-Type", mediaType)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	// With the passthrough error handler an exhausted retry still hands back
	// the last response; its status decides the outcome.
	resp, err := c.http.Do(req)
	if resp == nil {
		metrics.KeygenRequestDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("keygen %s: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.KeygenRequestDuration.WithLabelValues(op, statusClass(resp.StatusCode)).Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	if err != nil {
		return fmt.Errorf("keygen %s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(op, resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("keygen %s: decode response: %w", op, err)
	}
	return nil
}

func bytesOrNil(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

type leveledLogger struct {
	l zerolog.Logger
}

func (z leveledLogger) Error(msg string, kv ...any) { z.l.Error().Fields(kv).Msg(msg) }
func (z leveledLogger) Warn(msg string, kv ...any)  { z.l.Warn().Fields(kv).Msg(msg) }
func (z leveledLogger) Info(msg string, kv ...any)  { z.l.Debug().Fields(kv).Msg(msg) }
func (z leveledLogger) Debug(msg string, kv ...any) { z.l.Trace().Fields(kv).Msg(msg) }

var _ retryablehttp.LeveledLogger = leveledLogger{}
