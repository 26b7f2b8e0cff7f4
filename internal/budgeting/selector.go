// Package budgeting merges per-domain PTAM limits, runs compound-to-
// sub-domain distribution, and selects the per-RAPL-domain budget handed
// to Control, grounded on original_source/budgeting/budgeting.hpp.
package budgeting

import "github.com/openbmc/node-manager/internal/policy"

// PowerLimitSelector keeps per-source-domain candidate limits and returns
// the minimum, remembering which domain won — the arbitration primitive
// both the per-RAPL-domain selectors and the one compound selector share.
type PowerLimitSelector struct {
	candidates map[policy.DomainID]float64
	winner     policy.DomainID
	hasWinner  bool
}

func NewPowerLimitSelector() *PowerLimitSelector {
	return &PowerLimitSelector{candidates: make(map[policy.DomainID]float64)}
}

// Clear drops every candidate; called at the start of every
// propagatePtamLimits pass so a domain's stale limit cannot linger.
func (s *PowerLimitSelector) Clear() {
	for k := range s.candidates {
		delete(s.candidates, k)
	}
	s.hasWinner = false
}

func (s *PowerLimitSelector) UpdateLimit(domain policy.DomainID, value float64) {
	s.candidates[domain] = value
}

// Selected returns the minimum candidate limit and the domain that
// contributed it.
func (s *PowerLimitSelector) Selected() (value float64, domain policy.DomainID, ok bool) {
	first := true
	for d, v := range s.candidates {
		if first || v < value {
			value, domain, first = v, d, false
		}
	}
	return value, domain, !first
}

// IsWinner reports whether domain is currently the selector's minimum.
func (s *PowerLimitSelector) IsWinner(domain policy.DomainID) bool {
	_, winner, ok := s.Selected()
	return ok && winner == domain
}
