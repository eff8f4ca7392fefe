// Package admission decides, per provider, whether a request may be sent
// now. It enforces the provider's minute/hour/day windows, cooldown, burst
// allowance and an adaptive throttle that backs off after quota violations.
package admission

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/market-feed/internal/clock"
	"github.com/Rajchodisetti/market-feed/internal/health"
	"github.com/Rajchodisetti/market-feed/internal/observ"
	"github.com/Rajchodisetti/market-feed/internal/provider"
	"github.com/Rajchodisetti/market-feed/internal/registry"
)

// Task is one provider call. The context carries the per-call timeout.
type Task func(ctx context.Context) error

// Options tune the waiting behaviour shared by every controller.
type Options struct {
	// MaxWait bounds the single wait Run performs before giving up with
	// ErrProviderUnavailable.
	MaxWait time.Duration
	// ApproachingRatio is the window usage at which spacing is inflated.
	ApproachingRatio float64
	SlowdownFactor   float64
}

func DefaultOptions() Options {
	return Options{
		MaxWait:          30 * time.Second,
		ApproachingRatio: 0.8,
		SlowdownFactor:   1.25,
	}
}

type window struct {
	name  string
	span  time.Duration
	limit int
}

// Stats is a point-in-time view of a controller.
type Stats struct {
	Provider       string        `json:"provider"`
	MinuteCount    int           `json:"minute_count"`
	HourCount      int           `json:"hour_count"`
	DayCount       int           `json:"day_count"`
	Utilization    float64       `json:"utilization"`
	Throttle       time.Duration `json:"throttle"`
	LastRequest    time.Time     `json:"last_request"`
	Ready          bool          `json:"ready"`
	TimeUntilReady time.Duration `json:"time_until_ready"`
}

// Controller gates calls to one provider. Every check-then-reserve happens
// under mu, so concurrent callers never overshoot a window.
type Controller struct {
	mu      sync.Mutex
	profile registry.ProviderProfile
	clock   clock.Clock
	tracker *health.Tracker
	logger  logrus.FieldLogger
	opts    Options
	burst   *rate.Limiter
	windows []window

	dispatched    []time.Time // ascending, pruned to the day window
	lastRequest   time.Time
	throttle      time.Duration
	throttleUntil time.Time
}

// NewController creates a new admission controller for profile. tracker may
// be nil when outcomes need not be recorded.
func NewController(profile registry.ProviderProfile, c clock.Clock, tracker *health.Tracker, logger logrus.FieldLogger, opts Options) *Controller {
	if c == nil {
		c = clock.Real{}
	}
	def := DefaultOptions()
	if opts.MaxWait <= 0 {
		opts.MaxWait = def.MaxWait
	}
	if opts.ApproachingRatio <= 0 {
		opts.ApproachingRatio = def.ApproachingRatio
	}
	if opts.SlowdownFactor < 1 {
		opts.SlowdownFactor = def.SlowdownFactor
	}

	ctl := &Controller{
		profile: profile,
		clock:   c,
		tracker: tracker,
		logger:  observ.Logger(logger).WithFields(logrus.Fields{"component": "admission", "provider": profile.ID}),
		opts:    opts,
	}
	for _, w := range []window{
		{"minute", time.Minute, profile.RequestsPerMinute},
		{"hour", time.Hour, profile.RequestsPerHour},
		{"day", 24 * time.Hour, profile.RequestsPerDay},
	} {
		if w.limit > 0 {
			ctl.windows = append(ctl.windows, w)
		}
	}
	if profile.BurstLimit > 0 {
		r := rate.Inf
		switch {
		case profile.RequestsPerMinute > 0:
			r = rate.Limit(float64(profile.RequestsPerMinute) / 60)
		case profile.Cooldown > 0:
			r = rate.Every(profile.Cooldown)
		}
		ctl.burst = rate.NewLimiter(r, profile.BurstLimit)
	}
	return ctl
}

func (c *Controller) ID() string { return c.profile.ID }

// Profile returns a copy of the provider profile.
func (c *Controller) Profile() registry.ProviderProfile {
	p := c.profile
	p.Capabilities = append([]registry.Capability(nil), c.profile.Capabilities...)
	return p
}

// CanProceed reports whether a request could be dispatched right now.
func (c *Controller) CanProceed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockedFor(c.clock.Now()) == 0
}

// TimeUntilReady is how long until CanProceed would turn true, assuming no
// other dispatches in between.
func (c *Controller) TimeUntilReady() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockedFor(c.clock.Now())
}

// Utilization is the highest count/limit ratio across the windows.
func (c *Controller) Utilization() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.utilization(c.clock.Now())
}

// Throttle returns the adaptive throttle delay currently in force.
func (c *Controller) Throttle() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireThrottle(c.clock.Now())
	return c.throttle
}

// OptimalDelay is the wait before the next request that keeps the spacing
// between requests within the most restrictive of the per-window rates and
// the cooldown. Spacing grows by the slowdown factor once any window is at
// the approaching ratio. It is never shorter than TimeUntilReady.
func (c *Controller) OptimalDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()

	spacing := c.profile.Cooldown
	for _, w := range c.windows {
		if s := w.span / time.Duration(w.limit); s > spacing {
			spacing = s
		}
	}
	if c.utilization(now) >= c.opts.ApproachingRatio {
		spacing = time.Duration(float64(spacing) * c.opts.SlowdownFactor)
	}

	delay := time.Duration(0)
	if !c.lastRequest.IsZero() {
		delay = c.lastRequest.Add(spacing).Sub(now)
	}
	if ready := c.blockedFor(now); ready > delay {
		delay = ready
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Escalate applies a quota violation to the adaptive throttle:
// min(current + 2×base, 10×base), where base is the cooldown, or the
// per-minute spacing when there is no cooldown. The throttle resets to zero
// once the new delay has elapsed.
func (c *Controller) Escalate() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	c.expireThrottle(now)

	base := c.profile.Cooldown
	if base <= 0 {
		base = time.Second
		if c.profile.RequestsPerMinute > 0 {
			base = time.Minute / time.Duration(c.profile.RequestsPerMinute)
		}
	}
	next := c.throttle + 2*base
	if ceiling := 10 * base; next > ceiling {
		next = ceiling
	}
	c.throttle = next
	c.throttleUntil = now.Add(next)

	observ.ProviderThrottle.WithLabelValues(c.profile.ID).Set(next.Seconds())
	c.logger.WithField("throttle", next.String()).Warn("quota violation, throttling provider")
	return next
}

// Stats returns window counts, utilization and throttle state.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	c.expireThrottle(now)
	wait := c.blockedFor(now)
	return Stats{
		Provider:       c.profile.ID,
		MinuteCount:    c.count(now, time.Minute),
		HourCount:      c.count(now, time.Hour),
		DayCount:       c.count(now, 24*time.Hour),
		Utilization:    c.utilization(now),
		Throttle:       c.throttle,
		LastRequest:    c.lastRequest,
		Ready:          wait == 0,
		TimeUntilReady: wait,
	}
}

// Run executes fn when admission allows. A blocked call waits once for
// OptimalDelay, if that is within MaxWait, and tries again; a call still
// blocked fails with ErrProviderUnavailable carrying the time until ready.
func (c *Controller) Run(ctx context.Context, fn Task) error {
	if !c.reserve() {
		delay := c.OptimalDelay()
		if delay > c.opts.MaxWait {
			return c.deny("wait_exceeds_max")
		}
		if err := clock.Sleep(ctx, c.clock, delay); err != nil {
			return err
		}
		if !c.reserve() {
			return c.deny("blocked_after_wait")
		}
	}
	return c.execute(ctx, fn)
}

// TryDispatch executes fn only if admission allows right now. The boolean
// reports whether fn ran.
func (c *Controller) TryDispatch(ctx context.Context, fn Task) (bool, error) {
	if !c.reserve() {
		return false, nil
	}
	return true, c.execute(ctx, fn)
}

// Go is TryDispatch without waiting for fn: the slot is reserved
// synchronously and fn runs on its own goroutine. The channel yields fn's
// outcome and is nil when admission refused.
func (c *Controller) Go(ctx context.Context, fn Task) <-chan error {
	if !c.reserve() {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		done <- c.execute(ctx, fn)
	}()
	return done
}

// Schedule runs task through c and returns its result.
func Schedule[T any](ctx context.Context, c *Controller, task func(context.Context) (T, error)) (T, error) {
	var out T
	err := c.Run(ctx, func(ctx context.Context) error {
		v, err := task(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (c *Controller) deny(reason string) error {
	wait := c.TimeUntilReady()
	observ.AdmissionDecisions.WithLabelValues(c.profile.ID, "denied").Inc()
	c.logger.WithFields(logrus.Fields{"reason": reason, "wait": wait.String()}).Debug("admission denied")
	return provider.NewProviderUnavailable(c.profile.ID, wait)
}

// reserve claims a dispatch slot if every condition allows it.
func (c *Controller) reserve() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if c.blockedFor(now) > 0 {
		return false
	}
	c.prune(now)
	c.dispatched = append(c.dispatched, now)
	c.lastRequest = now
	if c.burst != nil {
		c.burst.AllowN(now, 1)
	}
	for _, w := range c.windows {
		observ.ProviderUtilization.WithLabelValues(c.profile.ID, w.name).
			Set(float64(c.count(now, w.span)) / float64(w.limit))
	}
	observ.AdmissionDecisions.WithLabelValues(c.profile.ID, "admitted").Inc()
	return true
}

func (c *Controller) execute(ctx context.Context, fn Task) error {
	ctx, span := observ.Tracer().Start(ctx, "provider.call")
	span.SetAttributes(attribute.String("provider", c.profile.ID))

	callCtx := ctx
	if c.profile.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.profile.Timeout)
		defer cancel()
	}

	start := c.clock.Now()
	err := fn(callCtx)
	elapsed := c.clock.Now().Sub(start)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = provider.NewNetworkTransient(c.profile.ID, "", "call timed out after "+c.profile.Timeout.String(), 0, err)
	}

	limited := provider.IsRateLimited(err)
	if c.tracker != nil {
		c.tracker.Record(c.profile.ID, health.RequestRecord{
			Timestamp:    start,
			Success:      err == nil,
			ResponseTime: elapsed,
			StatusCode:   provider.StatusCode(err),
			RateLimited:  limited,
		})
	}
	if limited {
		c.Escalate()
	}

	outcome := "ok"
	if err != nil {
		outcome = string(provider.KindOf(err))
		if outcome == "" {
			outcome = "canceled"
		}
	}
	observ.ProviderRequests.WithLabelValues(c.profile.ID, outcome).Inc()
	observ.ProviderLatency.WithLabelValues(c.profile.ID).Observe(elapsed.Seconds())
	span.SetAttributes(attribute.String("outcome", outcome))
	observ.EndSpan(span, err)
	return err
}

// blockedFor returns the longest remaining wait across all admission
// conditions, or 0 when a request may go now. Caller holds mu.
func (c *Controller) blockedFor(now time.Time) time.Duration {
	c.expireThrottle(now)
	var wait time.Duration
	raise := func(d time.Duration) {
		if d > wait {
			wait = d
		}
	}

	if !c.lastRequest.IsZero() && c.profile.Cooldown > 0 {
		raise(c.lastRequest.Add(c.profile.Cooldown).Sub(now))
	}
	for _, w := range c.windows {
		in := c.inWindow(now, w.span)
		if len(in) >= w.limit {
			// the slot that must expire before the count drops below limit
			raise(in[len(in)-w.limit].Add(w.span).Sub(now))
		}
	}
	if c.throttle > 0 {
		raise(c.throttleUntil.Sub(now))
	}
	if c.burst != nil {
		if tokens := c.burst.TokensAt(now); tokens < 1 {
			if lim := float64(c.burst.Limit()); lim > 0 && !math.IsInf(lim, 1) {
				ms := math.Ceil((1 - tokens) / lim * 1000)
				raise(time.Duration(ms) * time.Millisecond)
			}
		}
	}
	return wait
}

// expireThrottle resets an elapsed throttle. Caller holds mu.
func (c *Controller) expireThrottle(now time.Time) {
	if c.throttle > 0 && !now.Before(c.throttleUntil) {
		c.throttle = 0
		c.throttleUntil = time.Time{}
		observ.ProviderThrottle.WithLabelValues(c.profile.ID).Set(0)
		c.logger.Info("throttle reset")
	}
}

// inWindow returns the dispatches younger than span. Caller holds mu.
func (c *Controller) inWindow(now time.Time, span time.Duration) []time.Time {
	cutoff := now.Add(-span)
	i := sort.Search(len(c.dispatched), func(i int) bool { return c.dispatched[i].After(cutoff) })
	return c.dispatched[i:]
}

func (c *Controller) count(now time.Time, span time.Duration) int {
	return len(c.inWindow(now, span))
}

func (c *Controller) utilization(now time.Time) float64 {
	var u float64
	for _, w := range c.windows {
		if r := float64(c.count(now, w.span)) / float64(w.limit); r > u {
			u = r
		}
	}
	return u
}

func (c *Controller) prune(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	i := sort.Search(len(c.dispatched), func(i int) bool { return c.dispatched[i].After(cutoff) })
	if i > 0 {
		c.dispatched = append(c.dispatched[:0], c.dispatched[i:]...)
	}
}
