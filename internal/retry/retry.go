package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alex65536/bracketd/internal/util/backoff"
	"github.com/alex65536/bracketd/internal/util/slogx"
)

type Policy struct {
	// Zero means default, negative disables retries.
	MaxRetries int           `toml:"max-retries"`
	BaseDelay  time.Duration `toml:"base-delay"`
	MaxDelay   time.Duration `toml:"max-delay"`
	// Must be >= 1.0; 1.0 disables jitter. Zero means default.
	Jitter float64 `toml:"jitter"`
}

func (p *Policy) FillDefaults() {
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	b := p.backoff()
	b.FillDefaults()
	p.BaseDelay, p.MaxDelay, p.Jitter = b.Base, b.Max, b.Jitter
}

func (p *Policy) Validate() error {
	b := p.backoff()
	return b.Validate()
}

func (p Policy) backoff() backoff.Options {
	return backoff.Options{
		Base:   p.BaseDelay,
		Max:    p.MaxDelay,
		Grow:   2.0,
		Jitter: p.Jitter,
	}
}

// Delay is the wait before retry number attempt+1.
func (p Policy) Delay(attempt int) time.Duration {
	b := p.backoff()
	return b.Delay(attempt)
}

type RateLimitExceededError struct {
	Attempts int
	Policy   Policy
	Err      error
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RateLimitExceededError) Unwrap() error {
	return e.Err
}

type rateLimiter interface {
	RateLimited() bool
}

type statusCoder interface {
	StatusCode() int
}

var rateLimitVocabulary = []string{
	"rate limit",
	"rate-limit",
	"ratelimit",
	"too many requests",
	"throttl",
	"status 429",
	"http 429",
}

// IsRateLimited reports whether err signals upstream throttling. Only such
// errors are retried.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var exceeded *RateLimitExceededError
	if errors.As(err, &exceeded) {
		return false
	}
	var rl rateLimiter
	if errors.As(err, &rl) {
		return rl.RateLimited()
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode() == http.StatusTooManyRequests
	}
	msg := strings.ToLower(err.Error())
	for _, w := range rateLimitVocabulary {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}

// OnRetry observes each retry before its sleep. Its error is logged and
// otherwise ignored.
type OnRetry func(attempt int, delay time.Duration, lastErr error) error

type Operation[T any] func(ctx context.Context) (T, error)

type config struct {
	policy  Policy
	onRetry OnRetry
	sleep   func(context.Context, time.Duration) error
	log     *slog.Logger
}

type Option func(*config)

func WithPolicy(p Policy) Option {
	return func(c *config) {
		p.FillDefaults()
		c.policy = p
	}
}

func WithOnRetry(f OnRetry) Option {
	return func(c *config) { c.onRetry = f }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithSleep replaces the backoff sleep, mostly for tests.
func WithSleep(f func(context.Context, time.Duration) error) Option {
	return func(c *config) { c.sleep = f }
}

func newConfig(p Policy, opts []Option) config {
	p.FillDefaults()
	c := config{
		policy: p,
		sleep:  backoff.Sleep,
		log:    slogx.DiscardLogger(),
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

func (c *config) notify(attempt int, delay time.Duration, lastErr error) {
	if c.onRetry == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("retry callback panicked", slog.Any("panic", r))
		}
	}()
	if err := c.onRetry(attempt, delay, lastErr); err != nil {
		c.log.Warn("retry callback failed", slogx.Err(err))
	}
}

func run[T any](ctx context.Context, c config, op Operation[T]) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if !IsRateLimited(err) {
			return zero, err
		}
		if attempt >= max(c.policy.MaxRetries, 0) {
			return zero, &RateLimitExceededError{
				Attempts: attempt + 1,
				Policy:   c.policy,
				Err:      err,
			}
		}
		delay := c.policy.Delay(attempt)
		c.log.Info("rate limited, backing off",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slogx.Err(err),
		)
		c.notify(attempt+1, delay, err)
		if err := c.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("backoff: %w", err)
		}
	}
}

// Do invokes op, retrying with exponential backoff while it fails with a
// rate-limit error. Other errors are returned unchanged after one attempt.
func Do[T any](ctx context.Context, p Policy, op Operation[T], opts ...Option) (T, error) {
	return run(ctx, newConfig(p, opts), op)
}

// Wrapper is a reusable invoker bound to a default policy.
type Wrapper struct {
	policy Policy
	opts   []Option
}

func NewWrapper(p Policy, opts ...Option) *Wrapper {
	p.FillDefaults()
	return &Wrapper{policy: p, opts: opts}
}

func (w *Wrapper) Policy() Policy {
	return w.policy
}

// Run calls op through w. Options given here override the wrapper's own,
// so WithPolicy replaces the default policy for this call only.
func (w *Wrapper) Run(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	_, err := Call(ctx, w, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

func Call[T any](ctx context.Context, w *Wrapper, op Operation[T], opts ...Option) (T, error) {
	all := make([]Option, 0, len(w.opts)+len(opts))
	all = append(all, w.opts...)
	all = append(all, opts...)
	return run(ctx, newConfig(w.policy, all), op)
}
