package session

import (
	"context"
	"time"
)

const (
	retryAttempts = 3
	retryBaseWait = 500 * time.Millisecond
)

// withRetry runs fn with bounded attempts and exponential backoff. One retry
// policy covers every outbound call the broker makes.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	wait := retryBaseWait

	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			wait *= 2
		}

		if err = fn(); err == nil {
			return nil
		}
	}

	return err
}
