// Package vend provides a typed client for the remote retail platform API.
//
// The client owns per-request resilience: transient failures (transport
// errors and 5xx responses) are retried with exponential backoff up to a
// configured ceiling, and 429 responses wait out the advertised Retry-After
// window on a separate budget. Everything else surfaces as a typed
// *APIError so callers can make their own terminal-vs-retryable decision.
package vend

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/retailops/stocksync/internal/backoff"
	"github.com/retailops/stocksync/internal/logger"
)

const (
	// DefaultTimeout is the per-attempt request timeout
	DefaultTimeout = 30 * time.Second

	// DefaultMaxAttempts bounds transport/5xx retries per call
	DefaultMaxAttempts = 4

	// rateLimitBudget bounds consecutive 429 waits per call so a hard
	// rate-limited endpoint cannot pin a worker forever
	rateLimitBudget = 10
)

// Sleeper abstracts waiting between attempts so tests can observe delays
// without slowing down.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client is the surface the sync engine and job handlers depend on
type Client interface {
	ListConsignments(ctx context.Context, after string, pageSize int) ([]Consignment, error)
	GetConsignment(ctx context.Context, id string) (*Consignment, error)
	CreateConsignment(ctx context.Context, req *ConsignmentRequest) (*Consignment, error)
	UpdateConsignment(ctx context.Context, id string, req *ConsignmentRequest) (*Consignment, error)
	DeleteConsignment(ctx context.Context, id string) error
	ListConsignmentProducts(ctx context.Context, consignmentID string) ([]ConsignmentProduct, error)
	AddConsignmentProduct(ctx context.Context, consignmentID string, p *ConsignmentProduct) error
	RemoveConsignmentProduct(ctx context.Context, consignmentID, productID string) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListWebhooks(ctx context.Context) ([]Webhook, error)
	CreateWebhook(ctx context.Context, w *Webhook) (*Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
}

var _ Client = (*APIClient)(nil)

// APIClient talks to the platform's REST API
type APIClient struct {
	baseURL     string
	token       string
	timeout     time.Duration
	maxAttempts int
	backoff     *backoff.Policy
	sleeper     Sleeper
}

// Options configures an APIClient
type Options struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     *backoff.Policy
	Sleeper     Sleeper
}

// NewClient creates a client for the given platform account
func NewClient(opts Options) *APIClient {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff == nil {
		opts.Backoff = backoff.New(backoff.DefaultBase, backoff.DefaultCap)
	}
	if opts.Sleeper == nil {
		opts.Sleeper = realSleeper{}
	}
	return &APIClient{
		baseURL:     opts.BaseURL,
		token:       opts.Token,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		sleeper:     opts.Sleeper,
	}
}

// result carries one completed call's outcome
type result struct {
	StatusCode int
	Body       []byte
	RequestID  string
	Elapsed    time.Duration
}

// do executes a request with the retry loop. Transport errors and 5xx
// responses consume the attempt budget; 429 waits are tracked separately
// and never count against it.
func (c *APIClient) do(ctx context.Context, method, endpoint string, body interface{}) (*result, error) {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	attempts := 0
	rateLimitWaits := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		requestID := uuid.New().String()
		start := time.Now()
		status, respBody, retryAfter, sendErr := c.send(method, endpoint, reqBody, requestID)
		elapsed := time.Since(start)

		switch {
		case sendErr != nil || status >= 500:
			attempts++
			if attempts >= c.maxAttempts {
				if sendErr != nil {
					return nil, fmt.Errorf("request %s %s failed after %d attempts: %w", method, endpoint, attempts, sendErr)
				}
				return nil, &APIError{
					StatusCode: status,
					Body:       string(respBody),
					RequestID:  requestID,
					Elapsed:    elapsed,
					Retryable:  true,
				}
			}
			delay := c.backoff.Delay(attempts)
			logger.Debugf("retrying %s %s in %s (attempt %d/%d)", method, endpoint, delay, attempts, c.maxAttempts)
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				return nil, err
			}

		case status == fiber.StatusTooManyRequests:
			rateLimitWaits++
			if rateLimitWaits > rateLimitBudget {
				return nil, &APIError{
					StatusCode: status,
					Body:       string(respBody),
					RequestID:  requestID,
					Elapsed:    elapsed,
					Retryable:  true,
				}
			}
			delay := c.rateLimitDelay(retryAfter, rateLimitWaits)
			logger.Debugf("rate limited on %s %s, waiting %s", method, endpoint, delay)
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				return nil, err
			}

		case status >= 400:
			return nil, &APIError{
				StatusCode: status,
				Body:       string(respBody),
				RequestID:  requestID,
				Elapsed:    elapsed,
				Retryable:  false,
			}

		default:
			return &result{
				StatusCode: status,
				Body:       respBody,
				RequestID:  requestID,
				Elapsed:    elapsed,
			}, nil
		}
	}
}

// send performs a single HTTP attempt and returns the Retry-After header
// value alongside the response.
func (c *APIClient) send(method, endpoint string, body []byte, requestID string) (int, []byte, string, error) {
	var agent *fiber.Agent
	url := c.baseURL + endpoint
	switch method {
	case fiber.MethodGet:
		agent = fiber.Get(url)
	case fiber.MethodPost:
		agent = fiber.Post(url)
	case fiber.MethodPut:
		agent = fiber.Put(url)
	case fiber.MethodDelete:
		agent = fiber.Delete(url)
	default:
		return 0, nil, "", fmt.Errorf("unsupported method: %s", method)
	}

	agent.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	agent.Set("X-Request-ID", requestID)
	agent.Timeout(c.timeout)
	if body != nil {
		agent.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		agent.Body(body)
	}

	resp := fiber.AcquireResponse()
	defer fiber.ReleaseResponse(resp)
	agent.SetResponse(resp)

	status, respBody, errs := agent.Bytes()
	if len(errs) > 0 {
		return 0, nil, "", errs[0]
	}
	retryAfter := string(resp.Header.Peek(fiber.HeaderRetryAfter))
	return status, respBody, retryAfter, nil
}

// rateLimitDelay derives the 429 wait from the advertised Retry-After
// header when present (delta-seconds only), otherwise from the backoff
// schedule.
func (c *APIClient) rateLimitDelay(retryAfter string, waits int) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.backoff.Delay(waits)
}
