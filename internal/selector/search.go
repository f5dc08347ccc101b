package selector

import (
	"fmt"
	"slices"

	"github.com/desertthunder/wissel/internal/models"
)

// DefaultSearchBudget caps validator evaluations per search.
const DefaultSearchBudget = 200

// ValidateFunc evaluates one proposed block.
type ValidateFunc func(block []models.Candidate) []models.Violation

// Result is the outcome of a bounded search.
type Result struct {
	Candidates []models.Candidate
	Violations []models.Violation
	Attempts   int
}

// Valid reports whether the chosen set satisfies every policy.
func (r Result) Valid() bool {
	return len(r.Violations) == 0
}

// Search picks n candidates from pool, in pool order first, then by single swaps with the rest of
// the pool. A swap is kept only if it strictly lowers the violation count. Each validator call counts
// against budget; the set with the fewest violations seen is returned.
//
// A pool smaller than n yields every candidate plus a block size violation.
func Search(pool []models.Candidate, n int, validate ValidateFunc, budget int) Result {
	if budget <= 0 {
		budget = DefaultSearchBudget
	}

	k := min(n, len(pool))
	current := slices.Clone(pool[:k])
	rest := slices.Clone(pool[k:])

	best := validate(current)
	attempts := 1

search:
	for len(best) > 0 && attempts < budget {
		for _, i := range swapOrder(current, best) {
			for j := range rest {
				if attempts >= budget {
					break search
				}

				trial := slices.Clone(current)
				trial[i] = rest[j]
				violations := validate(trial)
				attempts++

				if len(violations) < len(best) {
					rest[j] = current[i]
					current = trial
					best = violations
					continue search
				}
			}
		}
		break
	}

	if len(pool) < n {
		best = append(best, models.Violation{
			Rule:    models.RuleBlockSize,
			Message: fmt.Sprintf("not enough candidates: got %d of %d", len(pool), n),
		})
	}

	return Result{Candidates: current, Violations: best, Attempts: attempts}
}

// swapOrder lists positions to try replacing: candidates named in a violation or sharing an
// artist with an earlier candidate first, then the rest from the least relevant end.
func swapOrder(block []models.Candidate, violations []models.Violation) []int {
	implicated := make(map[string]bool)
	for _, v := range violations {
		if v.TrackID != "" {
			implicated[v.TrackID] = true
		}
	}

	seenArtist := make(map[string]bool)
	var first, later []int
	for i, c := range block {
		artist := normalizedArtist(c)
		if implicated[c.TrackID] || seenArtist[artist] {
			first = append(first, i)
		} else {
			later = append(later, i)
		}
		seenArtist[artist] = true
	}
	slices.Reverse(later)
	return append(first, later...)
}
