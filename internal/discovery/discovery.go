// Package discovery enumerates the candidate symbols the prefetch cycle
// keeps warm, with whatever descriptive data the source holds for them.
package discovery

import (
	"context"
	"sort"
	"strings"
)

// Candidate is one symbol offered for prefetching. The descriptive fields
// may all be empty when the source knows only the symbol.
type Candidate struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Name     string `json:"name,omitempty" yaml:"name"`
	Sector   string `json:"sector,omitempty" yaml:"sector"`
	Industry string `json:"industry,omitempty" yaml:"industry"`
	Exchange string `json:"exchange,omitempty" yaml:"exchange"`
	Country  string `json:"country,omitempty" yaml:"country"`
	Currency string `json:"currency,omitempty" yaml:"currency"`
}

// HasData reports whether the candidate carries any descriptive field.
func (c Candidate) HasData() bool {
	return c.Name != "" || c.Sector != "" || c.Industry != "" ||
		c.Exchange != "" || c.Country != "" || c.Currency != ""
}

// Static serves fixed candidate lists keyed by category.
type Static struct {
	lists map[string][]Candidate
}

// NewStatic creates a new static source. Symbols are upper-cased and
// de-duplicated, keeping the first occurrence.
func NewStatic(lists map[string][]Candidate) *Static {
	s := &Static{lists: make(map[string][]Candidate, len(lists))}
	for cat, cands := range lists {
		seen := make(map[string]bool, len(cands))
		out := make([]Candidate, 0, len(cands))
		for _, c := range cands {
			c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
			if c.Symbol == "" || seen[c.Symbol] {
				continue
			}
			seen[c.Symbol] = true
			out = append(out, c)
		}
		s.lists[strings.ToLower(cat)] = out
	}
	return s
}

// ListCandidateSymbols returns the configured list for category; an unknown
// category has no candidates.
func (s *Static) ListCandidateSymbols(_ context.Context, category string) ([]Candidate, error) {
	return append([]Candidate(nil), s.lists[strings.ToLower(category)]...), nil
}

// Categories returns the categories with a configured list.
func (s *Static) Categories() []string {
	out := make([]string, 0, len(s.lists))
	for c := range s.lists {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
