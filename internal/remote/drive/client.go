// Package drive adapts Google Drive to the normalized remote API: the
// changes feed backs the delta reader, file content moves through the v3
// media endpoints, and transient API failures are retried with exponential
// backoff honoring Retry-After.
package drive

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/skysync/skysync/internal/logging"
	"github.com/skysync/skysync/internal/utils"
)

const (
	defaultMaxRetries   = 3
	defaultRetryDelayMs = 500
	maxRetryDelay       = 30 * time.Second
)

// Client wraps the Drive service with retry logic.
type Client struct {
	service    *drive.Service
	maxRetries int
	retryDelay time.Duration
	logger     logging.Logger
}

func NewClient(service *drive.Service, maxRetries, retryDelayMs int, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if retryDelayMs <= 0 {
		retryDelayMs = defaultRetryDelayMs
	}
	return &Client{
		service:    service,
		maxRetries: maxRetries,
		retryDelay: time.Duration(retryDelayMs) * time.Millisecond,
		logger:     logger,
	}
}

// executeWithRetry runs one API call, retrying transient failures with
// exponential backoff. Non-retryable failures return immediately, classified
// into the tool's error taxonomy.
func executeWithRetry[T any](ctx context.Context, c *Client, op string, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}

		if !isRetryable(lastErr) {
			return result, classifyError(op, lastErr)
		}

		if attempt < c.maxRetries {
			delay := calculateBackoff(c.retryDelay, attempt, lastErr)
			c.logger.Warn("drive call failed, retrying",
				logging.F("op", op),
				logging.F("attempt", attempt+1),
				logging.F("delay_ms", delay.Milliseconds()),
				logging.F("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	c.logger.Error("drive call failed after max retries",
		logging.F("op", op),
		logging.F("attempts", c.maxRetries+1),
		logging.F("error", lastErr.Error()),
	)
	return result, classifyError(op, lastErr)
}

func isRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}

// calculateBackoff derives the retry delay: the Retry-After header when the
// server sends one, exponential backoff with jitter otherwise.
func calculateBackoff(baseDelay time.Duration, attempt int, err error) time.Duration {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if retryAfter := apiErr.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, perr := strconv.Atoi(retryAfter); perr == nil {
				delay := time.Duration(seconds) * time.Second
				if delay > maxRetryDelay {
					return maxRetryDelay
				}
				return delay
			}
		}
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	jitterRange := delay / 4
	jitter := time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
	delay += jitter
	if delay < 0 {
		delay = baseDelay
	}
	return delay
}

func classifyError(op string, err error) error {
	code := utils.ErrCodeNetworkError
	retryable := false

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429:
			code = utils.ErrCodeRateLimited
			retryable = true
		case 404, 410:
			code = utils.ErrCodeMetadataNotFound
		case 408, 504:
			code = utils.ErrCodeTimeout
			retryable = true
		case 500, 502, 503:
			retryable = true
		}
	} else if errors.Is(err, context.DeadlineExceeded) {
		code = utils.ErrCodeTimeout
	} else if errors.Is(err, context.Canceled) {
		code = utils.ErrCodeCancelled
	}

	return utils.NewSyncError(code, "drive API call failed").
		WithContext("op", op).
		WithRetryable(retryable).
		WithCause(err).
		Build()
}
