package x402

import "time"

// Select chooses the best requirement from a validated list.
//
// Selection, in order:
//  1. Expired requirements are dropped; nil is returned if none remain.
//  2. If any candidate uses the canonical "exact" scheme, the candidate set
//     is restricted to those.
//  3. A candidate on preferredNetwork wins, when one exists.
//  4. Otherwise the first remaining candidate in original order wins, so
//     list order is the deterministic tie-break.
//
// Select is pure: no side effects, no mutation of its input.
func Select(requirements []PaymentRequirement, preferredNetwork string, now time.Time) *PaymentRequirement {
	var candidates []PaymentRequirement
	for _, r := range requirements {
		if r.Expired(now) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return nil
	}

	var exact []PaymentRequirement
	for _, r := range candidates {
		if r.Scheme == SchemeExact {
			exact = append(exact, r)
		}
	}
	if len(exact) > 0 {
		candidates = exact
	}

	if preferredNetwork != "" {
		for _, r := range candidates {
			if r.Network == preferredNetwork {
				selected := r
				return &selected
			}
		}
	}

	selected := candidates[0]
	return &selected
}
