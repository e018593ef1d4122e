package supervisor

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff waits base, 2*base, 3*base, ...
type linearBackOff struct {
	base time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.base
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

// newBackOff returns the reconnect schedule: maxAttempts linear delays, then backoff.Stop
func newBackOff(base time.Duration, maxAttempts int) backoff.BackOff {
	return backoff.WithMaxRetries(&linearBackOff{base: base}, uint64(maxAttempts))
}
