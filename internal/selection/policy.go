package selection

import (
	"fmt"
	"sort"
	"time"

	"github.com/memodrill/memodrill/pkg/types"
)

// DefaultHardThreshold is the difficulty at or above which an item counts as
// hard for the hard_only policy.
const DefaultHardThreshold = 7.0

// hardIncorrectStreak is the alternative hard criterion: this many
// consecutive failures marks an item hard regardless of difficulty.
const hardIncorrectStreak = 2

// filterAndOrder applies a selection policy to the candidate pool and
// returns the candidates that qualify, in serve order. The input slice is
// not modified. shuffle randomizes in place and must be safe for concurrent
// callers.
func filterAndOrder(policy types.PolicyName, pool []Candidate, now time.Time, hardThreshold float64, shuffle func(n int, swap func(i, j int))) ([]Candidate, error) {
	switch policy {
	case types.PolicyNewOnly:
		out := filter(pool, func(c Candidate) bool { return c.IsNew() })
		sortByPosition(out)
		return out, nil

	case types.PolicyDueOnly:
		out := filter(pool, func(c Candidate) bool { return isDue(c, now) })
		sortByDue(out)
		return out, nil

	case types.PolicyHardOnly:
		out := filter(pool, func(c Candidate) bool { return isHard(c, hardThreshold) })
		sortByDueThenID(out)
		return out, nil

	case types.PolicyAllReview:
		out := filter(pool, func(c Candidate) bool { return !c.IsNew() })
		shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out, nil

	case types.PolicyMixed:
		due := filter(pool, func(c Candidate) bool { return isDue(c, now) })
		sortByDue(due)
		fresh := filter(pool, func(c Candidate) bool { return c.IsNew() })
		sortByPosition(fresh)
		return append(due, fresh...), nil

	case types.PolicySequential:
		// Only items available to study right now: never seen, or due.
		out := filter(pool, func(c Candidate) bool { return c.IsNew() || isDue(c, now) })
		sortByPosition(out)
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidPolicy, policy)
	}
}

// isDue reports whether the candidate has been studied and its due time has
// arrived. New items are never due.
func isDue(c Candidate, now time.Time) bool {
	return c.Card != nil && c.Card.State != types.StateNew &&
		c.Card.Due != nil && !c.Card.Due.After(now)
}

// isHard reports whether the candidate qualifies for hard_only: either its
// difficulty has drifted to the threshold, or the user keeps failing it.
func isHard(c Candidate, threshold float64) bool {
	if c.Card == nil || c.Card.State == types.StateNew {
		return false
	}
	return c.Card.Difficulty >= threshold || c.Card.IncorrectStreak >= hardIncorrectStreak
}

func filter(pool []Candidate, keep func(Candidate) bool) []Candidate {
	var out []Candidate
	for _, c := range pool {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// sortByPosition orders by container then position, the content platform's
// native presentation order.
func sortByPosition(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Item.ContainerID != cands[j].Item.ContainerID {
			return cands[i].Item.ContainerID < cands[j].Item.ContainerID
		}
		return cands[i].Item.Position < cands[j].Item.Position
	})
}

// sortByDue orders most-overdue first.
func sortByDue(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Card.Due.Before(*cands[j].Card.Due)
	})
}

// sortByDueThenID orders most-overdue first, breaking due ties by item id.
// Cards without a due time (possible only for corrupt rows) sort last.
func sortByDueThenID(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		di, dj := cands[i].Card.Due, cands[j].Card.Due
		if di == nil || dj == nil {
			return di != nil
		}
		if !di.Equal(*dj) {
			return di.Before(*dj)
		}
		return cands[i].Item.ID < cands[j].Item.ID
	})
}
