// Package rotation picks which provider of a capability class should take
// the next request.
package rotation

import (
	"sort"
	"sync"
	"time"

	"github.com/Rajchodisetti/market-feed/internal/admission"
	"github.com/Rajchodisetti/market-feed/internal/clock"
	"github.com/Rajchodisetti/market-feed/internal/provider"
	"github.com/Rajchodisetti/market-feed/internal/registry"
)

const approachingRatio = 0.8

// Selector ranks the providers of one capability class.
type Selector struct {
	capability registry.Capability
	providers  []*admission.Controller
	clock      clock.Clock

	mu       sync.Mutex
	lastUsed map[string]time.Time
}

// NewSelector creates a new selector over providers.
func NewSelector(capability registry.Capability, providers []*admission.Controller, c clock.Clock) *Selector {
	if c == nil {
		c = clock.Real{}
	}
	return &Selector{
		capability: capability,
		providers:  providers,
		clock:      c,
		lastUsed:   make(map[string]time.Time),
	}
}

func (s *Selector) Capability() registry.Capability { return s.capability }

func (s *Selector) Providers() []*admission.Controller {
	return append([]*admission.Controller(nil), s.providers...)
}

type candidate struct {
	ctl         *admission.Controller
	utilization float64
	priority    registry.Priority
	lastUsed    time.Time
}

// SelectBest returns the best provider ready right now, or
// ErrAllProvidersExhausted carrying the shortest wait across the class.
func (s *Selector) SelectBest(callerPriority registry.Priority) (*admission.Controller, error) {
	ranked, err := s.Ranked(callerPriority)
	if err != nil {
		return nil, err
	}
	return ranked[0], nil
}

// Ranked returns every ready provider, best first. Callers fall through to
// the next entry when the first loses an admission race. callerPriority
// does not change the order within one call.
func (s *Selector) Ranked(callerPriority registry.Priority) ([]*admission.Controller, error) {
	s.mu.Lock()
	var ready []candidate
	minWait := time.Duration(-1)
	for _, ctl := range s.providers {
		if wait := ctl.TimeUntilReady(); wait > 0 {
			if minWait < 0 || wait < minWait {
				minWait = wait
			}
			continue
		}
		ready = append(ready, candidate{
			ctl:         ctl,
			utilization: ctl.Utilization(),
			priority:    ctl.Profile().Priority,
			lastUsed:    s.lastUsed[ctl.ID()],
		})
	}
	s.mu.Unlock()

	if len(ready) == 0 {
		if minWait < 0 {
			minWait = 0
		}
		return nil, provider.NewAllProvidersExhausted(string(s.capability), minWait)
	}

	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if ap, bp := a.utilization >= approachingRatio, b.utilization >= approachingRatio; ap != bp {
			return !ap
		}
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		if a.utilization != b.utilization {
			return a.utilization < b.utilization
		}
		return a.lastUsed.Before(b.lastUsed)
	})

	out := make([]*admission.Controller, len(ready))
	for i, c := range ready {
		out[i] = c.ctl
	}
	return out, nil
}

// MarkUsed records that id just served a request.
func (s *Selector) MarkUsed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed[id] = s.clock.Now()
}

// MinWait is the shortest TimeUntilReady across the class.
func (s *Selector) MinWait() time.Duration {
	minWait := time.Duration(-1)
	for _, ctl := range s.providers {
		if w := ctl.TimeUntilReady(); minWait < 0 || w < minWait {
			minWait = w
		}
	}
	if minWait < 0 {
		return 0
	}
	return minWait
}
