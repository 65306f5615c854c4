package pacer

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"video_archiver/internal/config"
)

// SwitchDelay computes the pause taken between two creators. Larger
// catalogs cost more requests, so the pause grows with the number of
// videos listed for the previous creator, up to a cap.
type SwitchDelay struct {
	cfg config.CreatorSwitchConfig

	mu        sync.Mutex
	lastCount int
	rand      func() float64
}

func NewSwitchDelay(cfg config.CreatorSwitchConfig) *SwitchDelay {
	return &SwitchDelay{cfg: cfg, rand: rand.Float64}
}

// Observe records the catalog size of the creator just processed.
func (d *SwitchDelay) Observe(videoCount int) {
	d.mu.Lock()
	d.lastCount = videoCount
	d.mu.Unlock()
}

func (d *SwitchDelay) Next() time.Duration {
	d.mu.Lock()
	count := d.lastCount
	d.mu.Unlock()

	capped := min(d.cfg.BaseDelay+time.Duration(count)*d.cfg.PerVideo, d.cfg.MaxDelay)
	jitter := float64(capped) * d.cfg.JitterRatio
	// uniform in [-jitter, +jitter)
	delay := time.Duration(float64(capped) + (d.rand()*2-1)*jitter)
	return max(delay, 0)
}

func (d *SwitchDelay) Wait(ctx context.Context) error {
	timer := time.NewTimer(d.Next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
