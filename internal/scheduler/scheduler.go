// Package scheduler implements the forgetting-curve review scheduler: a pure
// update of the per-item memory record on every answer, plus retrievability
// and interval queries used by selection and the optimizer.
package scheduler

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/memodrill/memodrill/pkg/types"
)

// ErrCardMismatch is returned by Replay when an event does not belong to the
// card being rebuilt.
var ErrCardMismatch = errors.New("scheduler: event does not belong to card")

// Config configures a Scheduler. Zero values produce the documented defaults.
type Config struct {
	Weights          types.Weights   // zero -> types.DefaultWeights
	DesiredRetention float64         // zero -> 0.9; validated into (0.7, 0.99]
	LearningSteps    []time.Duration // nil -> [1m, 10m]; empty -> no ladder
	RelearningSteps  []time.Duration // nil -> [10m]; empty -> no ladder
	MaximumInterval  int             // days; zero -> 36500
	DisableFuzzing   bool
}

// Scheduler computes the next memory state and due time for a review card.
// It is stateless apart from the fuzz RNG; Review never mutates its input.
type Scheduler struct {
	algo             algo
	desiredRetention float64
	learningSteps    []time.Duration
	relearningSteps  []time.Duration
	maximumInterval  int
	disableFuzzing   bool
	fuzz             *fuzzer
}

// New creates a Scheduler from the given config.
func New(cfg Config) (*Scheduler, error) {
	weights := cfg.Weights
	if weights == (types.Weights{}) {
		weights = types.DefaultWeights
	}

	dr := cfg.DesiredRetention
	if dr == 0 {
		dr = types.DefaultDesiredRetention
	}
	params := types.Parameters{Weights: weights, DesiredRetention: dr}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	maxIvl := cfg.MaximumInterval
	if maxIvl == 0 {
		maxIvl = 36500
	}
	if maxIvl < 0 {
		return nil, fmt.Errorf("scheduler: maximum interval %d must be positive", maxIvl)
	}

	ls := cfg.LearningSteps
	if ls == nil {
		ls = []time.Duration{time.Minute, 10 * time.Minute}
	}
	rs := cfg.RelearningSteps
	if rs == nil {
		rs = []time.Duration{10 * time.Minute}
	}

	return &Scheduler{
		algo:             algo{w: weights},
		desiredRetention: dr,
		learningSteps:    ls,
		relearningSteps:  rs,
		maximumInterval:  maxIvl,
		disableFuzzing:   cfg.DisableFuzzing,
		fuzz:             newFuzzer(rand.New(rand.NewSource(time.Now().UnixNano()))),
	}, nil
}

// Retrievability returns the probability that the learner currently recalls
// the card. A card never reviewed has retrievability 0.
func (s *Scheduler) Retrievability(card *types.ReviewCard, now time.Time) float64 {
	if card.LastReviewedAt == nil || card.Stability <= 0 {
		return 0
	}
	elapsed := now.Sub(*card.LastReviewedAt).Hours() / 24.0
	if elapsed < 0 {
		elapsed = 0
	}
	return s.algo.retrievability(elapsed, card.Stability)
}

// Review applies one answer to the card and returns the updated card along
// with the review event to append to the historical log. The input card is
// not mutated. An out-of-range rating is a caller contract violation and is
// rejected, never coerced.
func (s *Scheduler) Review(card *types.ReviewCard, rating types.Rating, now time.Time) (*types.ReviewCard, types.ReviewEvent, error) {
	if !rating.IsValid() {
		return nil, types.ReviewEvent{}, fmt.Errorf("%w: %d", types.ErrInvalidRating, int(rating))
	}

	c := card.Clone()
	c.Normalize()

	var elapsedDays float64
	if c.LastReviewedAt != nil {
		elapsedDays = now.Sub(*c.LastReviewedAt).Hours() / 24.0
		if elapsedDays < 0 {
			elapsedDays = 0
		}
	}

	priorState := c.State
	s.updateMemory(c, rating, elapsedDays)
	s.updateCounters(c, rating, priorState)

	interval := s.transition(c, rating)

	// Fuzz only applies to day-scale Review intervals and can never move the
	// due date before now (fuzzed intervals are at least one day).
	if !s.disableFuzzing && c.State == types.StateReview {
		days := int(interval.Hours() / 24.0)
		if days > 0 {
			interval = time.Duration(s.fuzz.jitter(days, s.maximumInterval)) * 24 * time.Hour
		}
	}

	due := now.Add(interval)
	c.Due = &due
	reviewedAt := now
	c.LastReviewedAt = &reviewedAt

	event := types.ReviewEvent{
		UserID:     c.UserID,
		ItemID:     c.ItemID,
		Mode:       c.Mode,
		Rating:     rating,
		IsCorrect:  rating.IsCorrect(),
		ReviewedAt: now,
		Stability:  c.Stability,
		Difficulty: c.Difficulty,
	}
	return c, event, nil
}

// Preview returns the would-be card for each possible rating without
// committing anything. Used by UIs to show interval hints on answer buttons.
func (s *Scheduler) Preview(card *types.ReviewCard, now time.Time) map[types.Rating]*types.ReviewCard {
	out := make(map[types.Rating]*types.ReviewCard, 4)
	for _, r := range []types.Rating{types.Again, types.Hard, types.Good, types.Easy} {
		c, _, err := s.Review(card, r, now)
		if err != nil {
			continue
		}
		out[r] = c
	}
	return out
}

// Replay rebuilds a card's scheduling state from its review log, oldest
// first. Events for a different user, item, or mode return ErrCardMismatch.
func (s *Scheduler) Replay(card *types.ReviewCard, events []types.ReviewEvent) (*types.ReviewCard, error) {
	c := card.Clone()
	for _, ev := range events {
		if ev.UserID != c.UserID || ev.ItemID != c.ItemID || ev.Mode != c.Mode {
			return nil, fmt.Errorf("%w: card (%s, %d, %s), event (%s, %d, %s)",
				ErrCardMismatch, c.UserID, c.ItemID, c.Mode, ev.UserID, ev.ItemID, ev.Mode)
		}
		next, _, err := s.Review(c, ev.Rating, ev.ReviewedAt)
		if err != nil {
			return nil, err
		}
		c = next
	}
	return c, nil
}

// updateMemory updates stability and difficulty in place.
func (s *Scheduler) updateMemory(c *types.ReviewCard, rating types.Rating, elapsedDays float64) {
	if c.State == types.StateNew || c.LastReviewedAt == nil {
		// Bootstrap: the stability recurrence is undefined near S=0, so the
		// very first review initializes from the weight vector directly.
		c.Stability = s.algo.initStability(rating)
		c.Difficulty = s.algo.initDifficulty(rating)
		return
	}

	if elapsedDays < 1 {
		st := s.algo.shortTermStability(c.Stability, rating)
		// Stability never decreases on a successful review, same-day included.
		if rating.IsCorrect() && st < c.Stability {
			st = c.Stability
		}
		c.Stability = st
	} else {
		retr := s.algo.retrievability(elapsedDays, c.Stability)
		c.Stability = s.algo.nextStability(c.Difficulty, c.Stability, retr, rating)
	}
	c.Difficulty = s.algo.nextDifficulty(c.Difficulty, rating)
}

// updateCounters maintains streaks, totals, and the lapse count. The streaks
// are mutually exclusive: exactly one of them is zero after every review.
func (s *Scheduler) updateCounters(c *types.ReviewCard, rating types.Rating, priorState types.CardState) {
	if rating.IsCorrect() {
		c.CorrectStreak++
		c.IncorrectStreak = 0
		c.TimesCorrect++
		return
	}
	c.IncorrectStreak++
	c.CorrectStreak = 0
	c.TimesIncorrect++
	if priorState == types.StateReview {
		// A lapse is a failure of an item that had graduated to Review.
		c.Lapses++
	}
}

// transition applies the state machine and returns the scheduling interval.
func (s *Scheduler) transition(c *types.ReviewCard, rating types.Rating) time.Duration {
	switch c.State {
	case types.StateNew:
		c.State = types.StateLearning
		c.Step = 0
		if len(s.learningSteps) == 0 {
			return s.graduate(c)
		}
		return s.learningSteps[0]
	case types.StateLearning:
		return s.transitionLadder(c, rating, s.learningSteps)
	case types.StateRelearning:
		return s.transitionLadder(c, rating, s.relearningSteps)
	default:
		return s.transitionReview(c, rating)
	}
}

// transitionLadder handles the Learning and Relearning short-step ladders.
func (s *Scheduler) transitionLadder(c *types.ReviewCard, rating types.Rating, steps []time.Duration) time.Duration {
	step := c.Step

	// Empty ladder or step overflow with a pass: graduate.
	if len(steps) == 0 || (step >= len(steps) && rating != types.Again) {
		return s.graduate(c)
	}

	switch rating {
	case types.Again:
		c.Step = 0
		return steps[0]

	case types.Hard:
		if step == 0 && len(steps) == 1 {
			return time.Duration(float64(steps[0]) * 1.5)
		}
		if step == 0 && len(steps) >= 2 {
			return (steps[0] + steps[1]) / 2
		}
		return steps[step]

	case types.Good:
		next := step + 1
		if next >= len(steps) {
			return s.graduate(c)
		}
		c.Step = next
		return steps[next]

	default: // Easy skips the remaining ladder.
		return s.graduate(c)
	}
}

// transitionReview handles reviews of graduated cards. A failure moves the
// card to Relearning.
func (s *Scheduler) transitionReview(c *types.ReviewCard, rating types.Rating) time.Duration {
	if rating == types.Again && len(s.relearningSteps) > 0 {
		c.State = types.StateRelearning
		c.Step = 0
		return s.relearningSteps[0]
	}

	c.Step = 0
	days := s.algo.nextIntervalDays(c.Stability, s.desiredRetention, s.maximumInterval)
	return time.Duration(days) * 24 * time.Hour
}

// graduate moves a card out of a ladder into the Review cycle.
func (s *Scheduler) graduate(c *types.ReviewCard) time.Duration {
	c.State = types.StateReview
	c.Step = 0
	days := s.algo.nextIntervalDays(c.Stability, s.desiredRetention, s.maximumInterval)
	return time.Duration(days) * 24 * time.Hour
}
