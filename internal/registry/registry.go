// Package registry holds the static per-provider quota profiles loaded at
// startup. Profiles are immutable once the registry is built.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Priority ranks both providers (static) and callers.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

// ParsePriority accepts "high", "medium" or "low" (case-insensitive).
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Capability names a class of data that several providers can serve
// interchangeably.
type Capability string

const (
	CapEquitiesQuotes Capability = "equities-quotes"
	CapCryptoQuotes   Capability = "crypto-quotes"
	CapForexQuotes    Capability = "forex-quotes"
)

// ProviderProfile is the quota and retry policy for one provider.
// A zero window limit means the window is not enforced.
type ProviderProfile struct {
	ID                string
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
	BurstLimit        int
	Cooldown          time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	Timeout           time.Duration
	Priority          Priority
	Capabilities      []Capability
}

// Serves reports whether the provider can serve capability c.
func (p ProviderProfile) Serves(c Capability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Validate checks the profile for values the admission layer cannot use.
func (p ProviderProfile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("provider id is required")
	}
	if p.RequestsPerMinute < 0 || p.RequestsPerHour < 0 || p.RequestsPerDay < 0 {
		return fmt.Errorf("provider %s: negative request limit", p.ID)
	}
	if p.BurstLimit < 0 || p.RetryAttempts < 0 {
		return fmt.Errorf("provider %s: negative burst limit or retry attempts", p.ID)
	}
	if p.Cooldown < 0 || p.RetryDelay < 0 || p.Timeout < 0 {
		return fmt.Errorf("provider %s: negative duration", p.ID)
	}
	if p.Priority < PriorityLow || p.Priority > PriorityHigh {
		return fmt.Errorf("provider %s: invalid priority %d", p.ID, p.Priority)
	}
	if len(p.Capabilities) == 0 {
		return fmt.Errorf("provider %s: no capabilities", p.ID)
	}
	return nil
}

func (p ProviderProfile) clone() ProviderProfile {
	p.Capabilities = append([]Capability(nil), p.Capabilities...)
	return p
}

// Registry indexes provider profiles by id and capability.
type Registry struct {
	profiles map[string]ProviderProfile
	order    []string
}

// New validates and indexes profiles. Duplicate ids are rejected.
func New(profiles []ProviderProfile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]ProviderProfile, len(profiles))}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.profiles[p.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", p.ID)
		}
		r.profiles[p.ID] = p.clone()
		r.order = append(r.order, p.ID)
	}
	return r, nil
}

// Get returns a copy of the profile for id.
func (r *Registry) Get(id string) (ProviderProfile, bool) {
	p, ok := r.profiles[id]
	if !ok {
		return ProviderProfile{}, false
	}
	return p.clone(), true
}

// All returns every profile in load order.
func (r *Registry) All() []ProviderProfile {
	out := make([]ProviderProfile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.profiles[id].clone())
	}
	return out
}

// ForCapability returns the profiles serving c in load order.
func (r *Registry) ForCapability(c Capability) []ProviderProfile {
	var out []ProviderProfile
	for _, id := range r.order {
		if p := r.profiles[id]; p.Serves(c) {
			out = append(out, p.clone())
		}
	}
	return out
}

// Capabilities lists every capability served by at least one provider.
func (r *Registry) Capabilities() []Capability {
	seen := map[Capability]bool{}
	var out []Capability
	for _, id := range r.order {
		for _, c := range r.profiles[id].Capabilities {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
