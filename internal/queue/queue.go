// Package queue defers provider requests that admission cannot take yet and
// drains them in priority order as capacity frees up.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Rajchodisetti/market-feed/internal/admission"
	"github.com/Rajchodisetti/market-feed/internal/clock"
	"github.com/Rajchodisetti/market-feed/internal/observ"
	"github.com/Rajchodisetti/market-feed/internal/provider"
	"github.com/Rajchodisetti/market-feed/internal/registry"
)

var ErrSchedulerStopped = errors.New("queue scheduler stopped")

// Ticket is the caller's handle on a queued request.
type Ticket struct {
	ID string
	e  *entry
}

// Wait blocks until the request completes or ctx ends. Abandoning a ticket
// does not cancel the request; it still runs and its outcome is recorded.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case err := <-t.e.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchedAt is when the last attempt was handed to the provider. Only
// meaningful after Wait returned the request's outcome.
func (t *Ticket) DispatchedAt() time.Time { return t.e.dispatchedAt }

// Retries is how many times the request was re-enqueued. Only meaningful
// after Wait returned the request's outcome.
func (t *Ticket) Retries() int { return t.e.retries }

type entry struct {
	id         string
	task       admission.Task
	score      int
	enqueuedAt time.Time
	seq        uint64
	retries    int
	done       chan error

	dispatchedAt time.Time
}

// before orders entries: higher score first, then earlier enqueue, then
// insertion order.
func (e *entry) before(o *entry) bool {
	if e.score != o.score {
		return e.score > o.score
	}
	if !e.enqueuedAt.Equal(o.enqueuedAt) {
		return e.enqueuedAt.Before(o.enqueuedAt)
	}
	return e.seq < o.seq
}

// Scheduler is the per-provider request queue.
type Scheduler struct {
	ctl    *admission.Controller
	clock  clock.Clock
	logger logrus.FieldLogger

	mu      sync.Mutex
	entries []*entry
	seq     uint64
	wake    chan struct{}
	taskCtx context.Context
	cancel  context.CancelFunc
	stopped bool
	loop    sync.WaitGroup
	flight  sync.WaitGroup
}

// NewScheduler creates a new queue draining into ctl.
func NewScheduler(ctl *admission.Controller, c clock.Clock, logger logrus.FieldLogger) *Scheduler {
	if c == nil {
		c = clock.Real{}
	}
	return &Scheduler{
		ctl:     ctl,
		clock:   c,
		logger:  observ.Logger(logger).WithFields(logrus.Fields{"component": "queue", "provider": ctl.ID()}),
		wake:    make(chan struct{}, 1),
		taskCtx: context.Background(),
	}
}

func (s *Scheduler) Controller() *admission.Controller { return s.ctl }

// Enqueue adds task with the caller's priority.
func (s *Scheduler) Enqueue(task admission.Task, callerPriority registry.Priority) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrSchedulerStopped
	}
	s.seq++
	e := &entry{
		id:         uuid.NewString(),
		task:       task,
		score:      int(s.ctl.Profile().Priority)*10 + int(callerPriority),
		enqueuedAt: s.clock.Now(),
		seq:        s.seq,
		done:       make(chan error, 1),
	}
	s.insert(e)
	s.signal()
	return &Ticket{ID: e.id, e: e}, nil
}

// Submit enqueues task and waits for its result.
func Submit[T any](ctx context.Context, s *Scheduler, task func(context.Context) (T, error), callerPriority registry.Priority) (T, error) {
	var out, zero T
	t, err := s.Enqueue(func(ctx context.Context) error {
		v, err := task(ctx)
		if err == nil {
			out = v
		}
		return err
	}, callerPriority)
	if err != nil {
		return zero, err
	}
	if err := t.Wait(ctx); err != nil {
		return zero, err
	}
	return out, nil
}

// Depth returns the number of entries waiting for dispatch.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start launches the drain loop. Dispatched tasks run detached from ctx's
// cancellation; ctx ending only stops further dispatching.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.taskCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	s.loop.Add(1)
	go func() {
		defer s.loop.Done()
		s.drain(ctx)
	}()
}

// Stop halts dispatching, waits for in-flight calls and rejects everything
// still queued with ErrSchedulerStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.loop.Wait()
	s.flight.Wait()

	s.mu.Lock()
	pending := s.entries
	s.entries = nil
	s.mu.Unlock()
	for _, e := range pending {
		e.done <- ErrSchedulerStopped
	}
	observ.QueueDepth.WithLabelValues(s.ctl.ID()).Set(0)
	if len(pending) > 0 {
		s.logger.WithField("rejected", len(pending)).Info("queue stopped with pending entries")
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		wait, ok := s.nextEligible()
		if !ok {
			// empty: sleep until something is enqueued
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}
		if wait == 0 {
			wait = s.ctl.TimeUntilReady()
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			case <-s.clock.After(wait):
			}
			continue
		}

		s.dispatchHead()
	}
}

// nextEligible reports how long until the head eligible entry may go (0 if
// one is eligible now). ok is false when the queue is empty.
func (s *Scheduler) nextEligible() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return 0, false
	}
	now := s.clock.Now()
	var soonest time.Duration = -1
	for _, e := range s.entries {
		if !e.enqueuedAt.After(now) {
			return 0, true
		}
		if d := e.enqueuedAt.Sub(now); soonest < 0 || d < soonest {
			soonest = d
		}
	}
	return soonest, true
}

// dispatchHead pops the first eligible entry and hands it to admission. The
// entry goes back untouched if admission refuses.
func (s *Scheduler) dispatchHead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	idx := -1
	for i, e := range s.entries {
		if !e.enqueuedAt.After(now) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	e := s.entries[idx]

	done := s.ctl.Go(s.taskCtx, e.task)
	if done == nil {
		return
	}
	e.dispatchedAt = now
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	observ.QueueDepth.WithLabelValues(s.ctl.ID()).Set(float64(len(s.entries)))

	s.flight.Add(1)
	go func() {
		defer s.flight.Done()
		s.complete(e, <-done)
	}()
}

func (s *Scheduler) complete(e *entry, err error) {
	if err == nil {
		e.done <- nil
		return
	}

	profile := s.ctl.Profile()
	log := s.logger.WithFields(logrus.Fields{"entry": e.id, "retries": e.retries, "error": err.Error()})
	if !provider.Retryable(err) || e.retries >= profile.RetryAttempts {
		log.Debug("queued request failed")
		e.done <- err
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		e.done <- err
		return
	}
	e.retries++
	e.enqueuedAt = s.clock.Now().Add(profile.RetryDelay << (e.retries - 1))
	s.insert(e)
	s.signal()

	observ.QueueRetries.WithLabelValues(s.ctl.ID()).Inc()
	log.WithField("eligible_at", e.enqueuedAt).Info("retrying queued request")
}

// insert places e in order. Caller holds mu.
func (s *Scheduler) insert(e *entry) {
	i := sort.Search(len(s.entries), func(i int) bool { return e.before(s.entries[i]) })
	s.entries = append(s.entries, nil)
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
	observ.QueueDepth.WithLabelValues(s.ctl.ID()).Set(float64(len(s.entries)))
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
