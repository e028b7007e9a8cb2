// Package storage defines the durable persistence interfaces for the
// scheduling engine: review cards, study sessions, the append-only review
// log, and per-user scheduler parameters.
//
// The interfaces are small and composable so backends can be implemented
// independently; the sqlite and postgres subpackages each provide a Store
// implementing all of them over one database handle.
package storage

import (
	"context"
	"errors"

	"github.com/memodrill/memodrill/pkg/types"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("storage: record not found")

	// ErrInvalidInput indicates malformed input to a store operation.
	ErrInvalidInput = errors.New("storage: invalid input")
)

// CardStore persists the per-(user, item, mode) memory records.
// Implementations clamp corrupt stored values at the read boundary via
// types.ReviewCard.Normalize, so callers never observe out-of-range rows.
type CardStore interface {
	// GetCard retrieves one card. Returns ErrNotFound when no row exists;
	// by convention an absent row means the item is New.
	GetCard(ctx context.Context, userID string, itemID int64, mode types.StudyMode) (*types.ReviewCard, error)

	// GetCards retrieves the cards for the given item ids, keyed by item id.
	// Items without a row are simply absent from the result map.
	GetCards(ctx context.Context, userID string, mode types.StudyMode, itemIDs []int64) (map[int64]*types.ReviewCard, error)

	// UpsertCard creates or replaces a card.
	UpsertCard(ctx context.Context, card *types.ReviewCard) error

	// DeleteUserCards removes every card for a user (explicit user-data
	// reset). Returns the number of rows removed.
	DeleteUserCards(ctx context.Context, userID string) (int, error)
}

// SessionStore persists study sessions keyed by session id.
type SessionStore interface {
	// PutSession creates or replaces a session record.
	PutSession(ctx context.Context, s *types.StudySession) error

	// GetSession retrieves a session by id. Returns ErrNotFound if the
	// session never existed.
	GetSession(ctx context.Context, id string) (*types.StudySession, error)

	// FindActiveSession returns the Active session for (user, mode), or
	// ErrNotFound when there is none. At most one can exist.
	FindActiveSession(ctx context.Context, userID string, mode types.StudyMode) (*types.StudySession, error)

	// CancelActiveSessions marks every Active session for (user, mode) as
	// Cancelled and returns how many were cancelled.
	CancelActiveSessions(ctx context.Context, userID string, mode types.StudyMode) (int, error)
}

// ReviewLogStore is the append-only historical review log.
type ReviewLogStore interface {
	// AppendEvent appends one review event.
	AppendEvent(ctx context.Context, ev *types.ReviewEvent) error

	// ListEvents returns all events for (user, mode) ordered by review time.
	ListEvents(ctx context.Context, userID string, mode types.StudyMode) ([]types.ReviewEvent, error)

	// CountEvents returns the number of logged events for (user, mode).
	CountEvents(ctx context.Context, userID string, mode types.StudyMode) (int, error)

	// ListReviewedUserModes returns every distinct (user, mode) pair present
	// in the log. Used by the trainer to enumerate optimization candidates.
	ListReviewedUserModes(ctx context.Context) ([]UserMode, error)
}

// UserMode identifies one (user, mode) review history.
type UserMode struct {
	UserID string
	Mode   types.StudyMode
}

// ParameterStore persists fitted per-(user, mode) scheduler parameters.
type ParameterStore interface {
	// GetParameters returns the user's fitted parameters, or ErrNotFound
	// when the user still runs on defaults.
	GetParameters(ctx context.Context, userID string, mode types.StudyMode) (*types.Parameters, error)

	// PutParameters stores or replaces the user's fitted parameters.
	PutParameters(ctx context.Context, userID string, mode types.StudyMode, p *types.Parameters) error
}

// ReviewCommitter persists the full outcome of one processed answer
// atomically: the updated card, the appended review event, and the updated
// session record all commit together or not at all.
type ReviewCommitter interface {
	CommitReview(ctx context.Context, card *types.ReviewCard, ev *types.ReviewEvent, sess *types.StudySession) error
}

// Store is the composed persistence surface the engine runs on.
type Store interface {
	CardStore
	SessionStore
	ReviewLogStore
	ParameterStore
	ReviewCommitter

	// Close releases the underlying database handle.
	Close() error
}
