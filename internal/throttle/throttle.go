// Package throttle caps the bandwidth of artifact transfers. Storage
// backends wrap their download streams in a Reader when the adapter
// config carries a "bandwidthLimit" parameter, so one slow restore
// cannot saturate the link shared with production traffic.
package throttle

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limiter is a token bucket counted in bytes. The bucket starts full
// and refills continuously at the configured rate; a transfer spends
// tokens as bytes move and blocks when the bucket runs dry.
type Limiter struct {
	mu         sync.Mutex
	rate       int64 // bytes per second
	burst      int64
	tokens     int64
	lastRefill time.Time
	done       chan struct{}
}

// NewLimiter returns a limiter refilling at rate bytes per second.
// burst is raised to rate when smaller, so a single large read can
// always eventually pass.
func NewLimiter(rate, burst int64) *Limiter {
	if burst < rate {
		burst = rate
	}
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
		done:       make(chan struct{}),
	}
}

// Wait blocks until n tokens are available or the limiter is closed.
func (l *Limiter) Wait(n int64) error {
	for {
		select {
		case <-l.done:
			return fmt.Errorf("throttle: limiter closed")
		default:
		}

		l.mu.Lock()
		l.refill()
		if l.tokens >= n {
			l.tokens -= n
			l.mu.Unlock()
			return nil
		}
		needed := n - l.tokens
		l.mu.Unlock()

		// Sleep roughly until enough tokens accrue, but wake at least
		// every 100ms so Close is honored promptly.
		sleep := time.Duration(float64(needed) / float64(l.rate) * float64(time.Second))
		if sleep > 100*time.Millisecond {
			sleep = 100 * time.Millisecond
		}
		select {
		case <-l.done:
			return fmt.Errorf("throttle: limiter closed")
		case <-time.After(sleep):
		}
	}
}

// refill credits tokens for the time elapsed since the last refill.
// Caller holds l.mu.
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill)
	l.lastRefill = now

	l.tokens += int64(float64(l.rate) * elapsed.Seconds())
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
}

// Close releases any goroutine blocked in Wait. Safe to call once.
func (l *Limiter) Close() {
	close(l.done)
}

// Reader wraps an io.Reader so its throughput never exceeds the
// limiter's rate.
type Reader struct {
	r       io.Reader
	limiter *Limiter
}

// NewReader caps r at bytesPerSecond with a burst of twice the rate.
func NewReader(r io.Reader, bytesPerSecond int64) *Reader {
	return &Reader{
		r:       r,
		limiter: NewLimiter(bytesPerSecond, bytesPerSecond*2),
	}
}

func (t *Reader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		if waitErr := t.limiter.Wait(int64(n)); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

// Close stops the limiter. The wrapped reader is not closed; its
// lifetime belongs to the transfer that opened it.
func (t *Reader) Close() error {
	t.limiter.Close()
	return nil
}

// ParseRate turns a config value like "10MB/s", "500KB/s", "1G" into
// bytes per second. Empty and "0" mean unlimited and parse to 0.
func ParseRate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	u := strings.ToUpper(s)
	u = strings.TrimSuffix(u, "/S")
	u = strings.TrimSuffix(u, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(u, "K"):
		multiplier = 1024
		u = strings.TrimSuffix(u, "K")
	case strings.HasSuffix(u, "M"):
		multiplier = 1024 * 1024
		u = strings.TrimSuffix(u, "M")
	case strings.HasSuffix(u, "G"):
		multiplier = 1024 * 1024 * 1024
		u = strings.TrimSuffix(u, "G")
	}

	value, err := strconv.ParseInt(u, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid rate %q", s)
	}
	return value * multiplier, nil
}
