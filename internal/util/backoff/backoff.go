package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

type Options struct {
	// Must be positive. Zero means default.
	Base time.Duration
	// Must be >= Base. Zero means default.
	Max time.Duration
	// Must be >= 1.0. Zero means default.
	Grow float64
	// Must be >= 1.0. Zero means default, 1.0 disables jitter.
	Jitter float64
}

func (o *Options) Validate() error {
	if o.Base < 0 {
		return fmt.Errorf("negative base")
	}
	if o.Max < 0 {
		return fmt.Errorf("negative max")
	}
	if o.Base != 0 && o.Max != 0 && o.Max < o.Base {
		return fmt.Errorf("max < base")
	}
	if o.Grow < 1.0 && o.Grow != 0.0 {
		return fmt.Errorf("grow < 1.0")
	}
	if o.Jitter < 1.0 && o.Jitter != 0.0 {
		return fmt.Errorf("jitter < 1.0")
	}
	return nil
}

func (o *Options) FillDefaults() {
	if o.Base == 0 {
		o.Base = time.Second
	}
	if o.Max == 0 {
		o.Max = 30 * time.Second
	}
	if o.Grow == 0.0 {
		o.Grow = 2.0
	}
	if o.Jitter == 0.0 {
		o.Jitter = 1.25
	}
}

// Delay returns min(Base * Grow^attempt, Max), stretched by a random factor in
// [1, Jitter) and capped at Max again. Attempts are numbered from zero.
func (o *Options) Delay(attempt int) time.Duration {
	flMax := float64(o.Max.Nanoseconds())
	exp := float64(o.Base.Nanoseconds()) * math.Pow(o.Grow, float64(attempt))
	waitTime := min(flMax, exp)
	if o.Jitter > 1.0 {
		waitTime = min(flMax, waitTime*(1.0+rand.Float64()*(o.Jitter-1.0)))
	}
	return time.Duration(int64(waitTime))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
