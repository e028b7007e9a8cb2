package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/memodrill/memodrill/internal/storage"
	"github.com/memodrill/memodrill/pkg/types"
)

// Trainer runs batch optimization over every (user, mode) with review
// history and persists the fitted weights. It is designed to run as a
// scheduled job: Run processes candidates one at a time and can be stopped
// between candidates without losing finished fits.
type Trainer struct {
	store storage.Store
	cfg   Config

	stopped atomic.Bool
}

// NewTrainer creates a trainer over the store.
func NewTrainer(store storage.Store, cfg Config) *Trainer {
	return &Trainer{store: store, cfg: cfg}
}

// Stop requests a graceful stop: the current fit finishes, later candidates
// are skipped. The trainer can be reused after Run returns.
func (t *Trainer) Stop() {
	t.stopped.Store(true)
}

// Run fits every candidate with enough history. Users without enough data
// are skipped silently; individual fit failures are logged and do not abort
// the batch.
func (t *Trainer) Run(ctx context.Context) error {
	t.stopped.Store(false)

	candidates, err := t.store.ListReviewedUserModes(ctx)
	if err != nil {
		return fmt.Errorf("optimizer: failed to list candidates: %w", err)
	}

	var fitted, skipped int
	for _, um := range candidates {
		if t.stopped.Load() {
			log.Printf("optimizer: stop requested, %d candidates left", len(candidates)-fitted-skipped)
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := t.trainOne(ctx, um.UserID, um.Mode)
		var insufficient *InsufficientDataError
		switch {
		case errors.As(err, &insufficient):
			skipped++
		case err != nil:
			log.Printf("optimizer: fit failed for (%s, %s): %v", um.UserID, um.Mode, err)
			skipped++
		default:
			fitted++
		}
	}

	log.Printf("optimizer: batch done, fitted=%d skipped=%d", fitted, skipped)
	return nil
}

// trainOne fits one (user, mode) and persists the result, preserving the
// user's desired retention and starting from their current weights so
// refits are incremental.
func (t *Trainer) trainOne(ctx context.Context, userID string, mode types.StudyMode) error {
	events, err := t.store.ListEvents(ctx, userID, mode)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}

	cfg := t.cfg
	retention := types.DefaultDesiredRetention
	current, err := t.store.GetParameters(ctx, userID, mode)
	switch {
	case err == nil:
		cfg.Initial = current.Weights
		retention = current.DesiredRetention
	case errors.Is(err, storage.ErrNotFound):
		// First fit starts from defaults.
	default:
		return fmt.Errorf("failed to load parameters: %w", err)
	}

	result, err := Train(ctx, events, cfg)
	if err != nil {
		return err
	}

	params := &types.Parameters{Weights: result.Weights, DesiredRetention: retention}
	if err := t.store.PutParameters(ctx, userID, mode, params); err != nil {
		return fmt.Errorf("failed to persist parameters: %w", err)
	}

	log.Printf("optimizer: fitted (%s, %s): samples=%d loss %.4f -> %.4f",
		userID, mode, result.Samples, result.LossBefore, result.LossAfter)
	return nil
}
