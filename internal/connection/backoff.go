package connection

import "time"

// BackoffDelay returns the wait before the attempt-th automatic reconnect
// (1-indexed): base*attempt, capped at maxWait. The growth is linear.
func BackoffDelay(attempt int, base, maxWait time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(attempt)
	if d > maxWait || d < 0 {
		return maxWait
	}
	return d
}
