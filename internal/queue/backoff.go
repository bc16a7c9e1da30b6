package queue

import (
	"math"
	"math/rand/v2"
	"time"
)

// backoff bounds, per the retry/backoff design note: base 30s, cap 15min.
const (
	backoffBase = 30 * time.Second
	backoffCap  = 15 * time.Minute
)

// nextRetryDelay computes an exponential-backoff-with-full-jitter delay for
// the given attempt count, adapted from the outbox worker's
// computeNextRetry but using full jitter (uniform in [0, backoff)) rather
// than a +/-20% band, since the job queue has no downstream broker
// confirming delivery to bound the spread against.
func nextRetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := backoffBase * time.Duration(math.Pow(2, float64(attempt)))
	if backoff > backoffCap || backoff <= 0 {
		backoff = backoffCap
	}
	return time.Duration(rand.Int64N(int64(backoff)))
}
