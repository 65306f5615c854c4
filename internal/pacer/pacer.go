package pacer

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Pacer spaces outbound requests. Every request to the platform, including
// the signing bootstrap, goes through one shared Pacer.
type Pacer struct {
	minInterval time.Duration
	jitter      time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
	rand func(n int64) int64
}

func New(minInterval, jitter time.Duration) *Pacer {
	return &Pacer{
		minInterval: minInterval,
		jitter:      jitter,
		now:         time.Now,
		rand:        rand.Int64N,
	}
}

// Wait blocks until at least the minimum interval (plus jitter) has passed
// since the previous Wait returned. The first call returns immediately.
// The only error is the context's.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() {
		delay := p.minInterval + p.nextJitter() - p.now().Sub(p.last)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	p.last = p.now()
	return nil
}

func (p *Pacer) nextJitter() time.Duration {
	if p.jitter <= 0 {
		return 0
	}
	return time.Duration(p.rand(int64(p.jitter)))
}
