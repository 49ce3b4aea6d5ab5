package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"catalog-import-service/internal/entity"
)

// DelayFor is the pause between two successfully processed items.
func DelayFor(cfg entity.ImporterRunConfig) time.Duration {
	if cfg.InterItemDelayMs <= 0 {
		return 0
	}
	return time.Duration(cfg.InterItemDelayMs) * time.Millisecond
}

// Limiter spaces items at least delay apart. It does not react to errors.
type Limiter struct {
	lim   *rate.Limiter
	delay time.Duration
}

func NewLimiter(delay time.Duration) *Limiter {
	if delay <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	lim := rate.NewLimiter(rate.Every(delay), 1)
	// start empty so the first item is followed by a full delay
	lim.Allow()
	return &Limiter{lim: lim, delay: delay}
}

func (l *Limiter) Delay() time.Duration { return l.delay }

func (l *Limiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}
