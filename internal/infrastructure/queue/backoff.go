package queue

import "time"

const (
	// backoffBase is the delay before the first retry.
	backoffBase = 30 * time.Second
	// backoffCap bounds the exponential growth.
	backoffCap = time.Hour
)

// Backoff returns the delay before the next attempt: base doubled per prior
// retry, capped. retryCount is the number of retries already consumed.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := backoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
