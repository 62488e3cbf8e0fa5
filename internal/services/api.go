// HTTP plumbing shared by every service client
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/cmdarr/internal/shared"
)

// ClientOptions tune an [APIClient]. Zero values fall back to defaults.
type ClientOptions struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	BaseDelay         time.Duration
	HTTPClient        *http.Client
	Logger            *log.Logger
}

// OptionsFromConfig maps the [http] config section onto ClientOptions.
func OptionsFromConfig(cfg shared.HTTPConfig, logger *log.Logger) ClientOptions {
	return ClientOptions{
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxRetries:        cfg.MaxRetries,
		Logger:            logger,
	}
}

// APIClient performs rate limited JSON requests against one upstream and
// retries transient failures with exponential backoff.
type APIClient struct {
	service    string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	authorize  func(*http.Request)
	logger     *log.Logger
}

// NewAPIClient creates a client for service rooted at baseURL. authorize, when
// non-nil, decorates every request with credentials.
func NewAPIClient(service, baseURL string, authorize func(*http.Request), opts ClientOptions) *APIClient {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}

	return &APIClient{
		service:    service,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		authorize:  authorize,
		logger:     shared.WithLogger(logger, "service", service),
	}
}

// Do sends a request and decodes a JSON response into result when non-nil.
// body, when non-nil, is encoded as JSON.
func (c *APIClient) Do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", c.service, err)
		}
		payload = b
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return contextErr(ctx, err)
		}

		err := c.once(ctx, method, path, query, payload, result)
		if err == nil {
			return nil
		}
		if !shared.IsRetryable(err) || attempt >= c.maxRetries {
			return err
		}

		delay := c.baseDelay << attempt
		c.logger.Warn("retrying request", "method", method, "path", path, "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *APIClient) once(ctx context.Context, method, path string, query url.Values, payload []byte, result any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", c.service, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authorize != nil {
		c.authorize(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", shared.ErrTransientUpstream, c.service, path, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(c.service, resp); err != nil {
		return err
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: failed to decode response: %v", shared.ErrAPIRequest, c.service, err)
	}
	return nil
}

// classifyStatus maps a non-2xx response onto the error taxonomy.
func classifyStatus(service string, resp *http.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(snippet))

	var kind error
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		kind = shared.ErrAuth
	case code == http.StatusNotFound:
		kind = shared.ErrNotFound
	case code == http.StatusTooManyRequests, code >= 500:
		kind = shared.ErrTransientUpstream
	default:
		kind = shared.ErrAPIRequest
	}

	if detail == "" {
		return fmt.Errorf("%w: %s returned status %d", kind, service, code)
	}
	return fmt.Errorf("%w: %s returned status %d: %s", kind, service, code, detail)
}

func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
