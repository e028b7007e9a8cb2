// Package optimizer fits the 19 scheduler weights to a user's review
// history by minimizing log loss over predicted recall, the same objective
// the forgetting-curve model is defined by: for every review after an item's
// first, the model predicts the recall probability at review time and the
// actual outcome grades the prediction.
package optimizer

import (
	"sort"

	"github.com/memodrill/memodrill/pkg/types"
)

// MinReviewEvents is the minimum number of usable review events (across
// items with at least two reviews) required before fitting is attempted.
// Below this the default weights generalize better than anything fitted.
const MinReviewEvents = 100

// itemHistory is one item's reviews in chronological order.
type itemHistory struct {
	itemID int64
	events []types.ReviewEvent
}

// dataset is the training corpus for one (user, mode).
type dataset struct {
	histories []itemHistory
	// samples counts the predictable reviews: every review after an item's
	// first. The first review of an item carries no prediction, the model
	// has nothing to predict from yet.
	samples int
}

// buildDataset groups the event log by item, orders each item's reviews
// chronologically, and keeps only items reviewed at least twice.
func buildDataset(events []types.ReviewEvent) dataset {
	byItem := make(map[int64][]types.ReviewEvent)
	for _, ev := range events {
		byItem[ev.ItemID] = append(byItem[ev.ItemID], ev)
	}

	var ds dataset
	for itemID, evs := range byItem {
		if len(evs) < 2 {
			continue
		}
		sort.SliceStable(evs, func(i, j int) bool {
			return evs[i].ReviewedAt.Before(evs[j].ReviewedAt)
		})
		ds.histories = append(ds.histories, itemHistory{itemID: itemID, events: evs})
		ds.samples += len(evs) - 1
	}

	// Deterministic iteration order for reproducible fits.
	sort.Slice(ds.histories, func(i, j int) bool {
		return ds.histories[i].itemID < ds.histories[j].itemID
	})
	return ds
}
