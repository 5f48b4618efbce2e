package llm

import (
	"context"
	"log/slog"
	"time"
)

// Outcomes reported to a RetryClient observer.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeError   = "error"
)

// RetryClient retries Chat on transient provider errors with
// exponential backoff. Permanent errors are returned on first sight.
type RetryClient struct {
	next       Client
	provider   string
	maxRetries int
	delay      time.Duration
	observe    func(provider, outcome string)
	logger     *slog.Logger
}

// RetryOption configures a RetryClient.
type RetryOption func(*RetryClient)

// WithRetryDelay sets the base backoff delay. Attempt n waits delay*2^(n-1).
func WithRetryDelay(d time.Duration) RetryOption {
	return func(r *RetryClient) { r.delay = d }
}

// WithObserver registers a callback invoked once per attempt.
func WithObserver(fn func(provider, outcome string)) RetryOption {
	return func(r *RetryClient) { r.observe = fn }
}

// NewRetryClient wraps next. maxRetries is the number of extra attempts
// after the first; negative values are treated as zero.
func NewRetryClient(next Client, provider string, maxRetries int, logger *slog.Logger, opts ...RetryOption) *RetryClient {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &RetryClient{
		next:       next,
		provider:   provider,
		maxRetries: maxRetries,
		delay:      500 * time.Millisecond,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Chat calls the wrapped client, retrying transient failures.
func (r *RetryClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			wait := r.delay << (attempt - 1)
			r.logger.Warn("retrying model request",
				"provider", r.provider,
				"model", model,
				"attempt", attempt,
				"wait", wait,
				"error", lastErr,
			)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				r.report(OutcomeError)
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := r.next.Chat(ctx, model, messages, tools)
		if err == nil {
			r.report(OutcomeSuccess)
			return resp, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == r.maxRetries {
			break
		}
		r.report(OutcomeRetry)
	}
	r.report(OutcomeError)
	return nil, lastErr
}

// Ping is passed through without retries.
func (r *RetryClient) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}

func (r *RetryClient) report(outcome string) {
	if r.observe != nil {
		r.observe(r.provider, outcome)
	}
}
