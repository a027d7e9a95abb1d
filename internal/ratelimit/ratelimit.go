// Package ratelimit throttles file retrieval with a token bucket so a
// snapshot run does not saturate the tunnel under test.
package ratelimit

import (
	"io"
	"sync"
	"time"
)

// maxWait caps a single sleep so a large read cannot stall for long.
const maxWait = time.Second

// readChunk is the largest read passed through at once.
const readChunk = 8 * 1024

// Limiter is a token bucket refilled at a fixed number of bytes per second.
// The bucket holds one second worth of tokens.
type Limiter struct {
	mu       sync.Mutex
	rate     float64
	tokens   float64
	refilled time.Time
}

// New returns a limiter for bytesPerSecond, or nil when the rate is not
// positive. A nil *Limiter never blocks.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	rate := float64(bytesPerSecond)
	return &Limiter{rate: rate, tokens: rate, refilled: time.Now()}
}

// refill adds the tokens earned since the last refill. Callers hold mu.
func (l *Limiter) refill(now time.Time) {
	l.tokens += now.Sub(l.refilled).Seconds() * l.rate
	if l.tokens > l.rate {
		l.tokens = l.rate
	}
	l.refilled = now
}

// Wait blocks until n bytes may pass.
func (l *Limiter) Wait(n int) {
	if l == nil || n <= 0 {
		return
	}

	need := float64(n)

	l.mu.Lock()
	l.refill(time.Now())
	if l.tokens >= need {
		l.tokens -= need
		l.mu.Unlock()
		return
	}
	wait := time.Duration((need - l.tokens) / l.rate * float64(time.Second))
	l.mu.Unlock()

	if wait > maxWait {
		wait = maxWait
	}
	time.Sleep(wait)

	l.mu.Lock()
	l.refill(time.Now())
	l.tokens -= need
	if l.tokens < 0 {
		l.tokens = 0
	}
	l.mu.Unlock()
}

type reader struct {
	r       io.Reader
	limiter *Limiter
}

// NewReader throttles reads from r. Bytes are charged after they arrive, so
// a short final read only pays for what it returned. With a nil limiter r is
// returned as is.
func NewReader(r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{r: r, limiter: limiter}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > readChunk {
		p = p[:readChunk]
	}
	n, err := r.r.Read(p)
	r.limiter.Wait(n)
	return n, err
}
