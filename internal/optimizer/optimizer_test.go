package optimizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/memodrill/memodrill/pkg/types"
)

// syntheticHistory builds items reviews apart by the given day offsets. A
// lapsing item fails its final review, everything else passes.
func syntheticHistory(items int, dayOffsets []int, lapseEvery int) []types.ReviewEvent {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	var events []types.ReviewEvent
	for i := 0; i < items; i++ {
		itemID := int64(i + 1)
		for j, off := range dayOffsets {
			rating := types.Good
			if lapseEvery > 0 && i%lapseEvery == 0 && j == len(dayOffsets)-1 {
				rating = types.Again
			}
			events = append(events, types.ReviewEvent{
				UserID:     "u1",
				ItemID:     itemID,
				Mode:       types.ModeFlashcard,
				Rating:     rating,
				IsCorrect:  rating.IsCorrect(),
				ReviewedAt: base.AddDate(0, 0, off).Add(time.Duration(i) * time.Minute),
			})
		}
	}
	return events
}

func TestBuildDataset(t *testing.T) {
	events := syntheticHistory(3, []int{0, 1, 5}, 0)
	// One extra item with a single review: not usable.
	events = append(events, types.ReviewEvent{
		UserID: "u1", ItemID: 99, Mode: types.ModeFlashcard,
		Rating: types.Good, IsCorrect: true,
		ReviewedAt: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	})

	ds := buildDataset(events)
	if len(ds.histories) != 3 {
		t.Fatalf("got %d histories, want 3", len(ds.histories))
	}
	// 3 items x 3 reviews: 2 predictable reviews each.
	if ds.samples != 6 {
		t.Errorf("got %d samples, want 6", ds.samples)
	}
	for _, h := range ds.histories {
		for i := 1; i < len(h.events); i++ {
			if h.events[i].ReviewedAt.Before(h.events[i-1].ReviewedAt) {
				t.Errorf("item %d events out of order", h.itemID)
			}
		}
	}
}

func TestLogLossFiniteAndPositive(t *testing.T) {
	ds := buildDataset(syntheticHistory(10, []int{0, 1, 4, 10}, 3))

	loss, err := logLoss(ds, types.DefaultWeights)
	if err != nil {
		t.Fatalf("logLoss: %v", err)
	}
	if loss <= 0 {
		t.Errorf("loss %f must be positive for imperfect predictions", loss)
	}
	if loss > 20 {
		t.Errorf("loss %f implausibly large", loss)
	}
}

func TestTrainRejectsSmallHistory(t *testing.T) {
	events := syntheticHistory(5, []int{0, 1}, 0) // 5 samples

	_, err := Train(context.Background(), events, Config{MaxIterations: 1})
	var insufficient *InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("got %v, want InsufficientDataError", err)
	}
	if insufficient.Have != 5 || insufficient.Needed != MinReviewEvents {
		t.Errorf("got have=%d needed=%d", insufficient.Have, insufficient.Needed)
	}
}

func TestTrainNeverWorsensLossAndStaysInBounds(t *testing.T) {
	// 60 items x 3 reviews = 120 predictable samples.
	events := syntheticHistory(60, []int{0, 2, 9}, 4)

	result, err := Train(context.Background(), events, Config{MaxIterations: 3})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	if result.LossAfter > result.LossBefore {
		t.Errorf("loss worsened: %f -> %f", result.LossBefore, result.LossAfter)
	}
	if result.Samples != 120 {
		t.Errorf("got %d samples, want 120", result.Samples)
	}
	if err := types.ValidateWeights(result.Weights); err != nil {
		t.Errorf("fitted weights out of bounds: %v", err)
	}
}

func TestTrainHonorsCancellation(t *testing.T) {
	events := syntheticHistory(60, []int{0, 2, 9}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Train(ctx, events, Config{MaxIterations: 50})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	// The partial result is still usable.
	if result == nil {
		t.Fatal("cancelled run must return the best result so far")
	}
	if err := types.ValidateWeights(result.Weights); err != nil {
		t.Errorf("weights out of bounds: %v", err)
	}
}

func TestAdamCosineSchedule(t *testing.T) {
	a := newAdam(0.1, 10)
	a.t = 1
	first := a.currentLR()
	a.t = 10
	last := a.currentLR()

	if first <= last {
		t.Errorf("learning rate must decay: first %f, last %f", first, last)
	}
	if last < 0.1/100 {
		t.Errorf("learning rate %f decayed below floor", last)
	}
}
