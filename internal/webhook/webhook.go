package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"assemblyline/internal/config"
	"assemblyline/internal/logging"
	"assemblyline/internal/services"
)

const (
	userAgent = "assemblyline-webhook/1.0"

	// SignatureHeader carries "sha256=<hex hmac>" of the request body.
	SignatureHeader = "X-Assembly-Signature"
	// AttemptHeader carries the 1-based delivery attempt number.
	AttemptHeader = "X-Assembly-Delivery-Attempt"

	defaultTimeout = 30 * time.Second
	defaultBackoff = time.Second
)

// Notifier delivers a payload to a webhook target.
type Notifier interface {
	Deliver(ctx context.Context, url string, payload any, secret string, maxRetries int) (Result, error)
}

// Result summarises a delivery.
type Result struct {
	Attempts   int
	StatusCode int
}

// Client is the HTTP Notifier.
type Client struct {
	client  *http.Client
	timeout time.Duration
	backoff time.Duration
	sleep   func(context.Context, time.Duration) error
	logger  *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Client) { n.client = c }
}

// WithSleep replaces the backoff wait. Tests use it to record delays.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(n *Client) { n.sleep = sleep }
}

// New builds a Client from webhook configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Client {
	n := &Client{
		client:  &http.Client{CheckRedirect: keepRedirect},
		timeout: defaultTimeout,
		backoff: defaultBackoff,
		sleep:   sleepContext,
		logger:  logging.NewComponentLogger(logger, "webhook"),
	}
	if cfg != nil {
		if d := cfg.WebhookTimeout(); d > 0 {
			n.timeout = d
		}
		n.backoff = cfg.WebhookBackoff()
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(signature)))
}

// Deliver POSTs payload as JSON. maxRetries counts retries after the first
// attempt; the wait before retry n (1-based) is backoff * 2^(n-1).
func (n *Client) Deliver(ctx context.Context, url string, payload any, secret string, maxRetries int) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, services.Wrap(services.ErrWebhookDelivery, "webhook", "marshal", "", err)
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	var signature string
	if secret != "" {
		signature = Sign(secret, body)
	}

	var (
		result  Result
		lastErr error
	)
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if attempt > 1 {
			delay := n.backoff << (attempt - 2)
			if err := n.sleep(ctx, delay); err != nil {
				return result, services.Wrap(services.ErrWebhookDelivery, "webhook", "deliver", "cancelled", err)
			}
		}
		result.Attempts = attempt

		status, retry, err := n.attempt(ctx, url, body, signature, attempt)
		result.StatusCode = status
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retry {
			break
		}
		n.logger.Debug("webhook attempt failed",
			logging.String("url", url),
			logging.Int("attempt", attempt),
			logging.Error(err),
		)
	}
	return result, services.Wrap(services.ErrWebhookDelivery, "webhook", "deliver",
		fmt.Sprintf("%s after %d attempt(s)", url, result.Attempts), lastErr)
}

// attempt performs one POST and reports whether a failure is retryable.
func (n *Client) attempt(ctx context.Context, url string, body []byte, signature string, attempt int) (int, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(AttemptHeader, fmt.Sprint(attempt))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, true, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, false, nil
	case resp.StatusCode < 400:
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, false, fmt.Errorf("target redirected delivery with %d to %q", resp.StatusCode, resp.Header.Get("Location"))
	case resp.StatusCode < 500:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return resp.StatusCode, false, fmt.Errorf("target rejected delivery with %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return resp.StatusCode, true, fmt.Errorf("target returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}

// keepRedirect stops the client at the first redirect. A signed body is only
// ever sent to the configured URL, and a moved target is a configuration
// error rather than a transient one.
func keepRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type noopNotifier struct{}

// NewNoop returns a Notifier that accepts every delivery without sending it.
func NewNoop() Notifier { return noopNotifier{} }

func (noopNotifier) Deliver(context.Context, string, any, string, int) (Result, error) {
	return Result{}, nil
}
