package realtime

import "time"

const (
	// MaxRetries is the number of consecutive reconnections attempted
	// after abnormal closes before the client gives up.
	MaxRetries = 5

	baseDelay = time.Second
	maxDelay  = 30 * time.Second
)

// BackoffDelay returns min(1s * 2^retry, 30s).
func BackoffDelay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	d := baseDelay
	for i := 0; i < retry; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}
