package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryTransport runs fn up to attempts times, retrying only transport errors
// that are not client errors (4xx). The last error is returned.
func RetryTransport(ctx context.Context, attempts uint, delay time.Duration, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
	)
}

func isRetryable(err error) bool {
	if !IsTransport(err) {
		return false
	}
	status := StatusCode(err)
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}
