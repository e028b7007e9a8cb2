// Package selection implements the item-selection engine: given a user, a
// scope of content containers, and a selection policy, it produces the
// ordered pool of items a study session will serve.
package selection

import (
	"context"

	"github.com/memodrill/memodrill/pkg/types"
)

// ContentItem is one studyable item as served by the content platform.
// Items with the same non-empty GroupKey belong to one presentation group
// and are served together by the session engine.
type ContentItem struct {
	ID          int64  `json:"id"`
	ContainerID int64  `json:"container_id"`
	Position    int    `json:"position"` // ordering within the container
	GroupKey    string `json:"group_key,omitempty"`
	Front       string `json:"front"`
	Back        string `json:"back"`
}

// ContentProvider serves item metadata from the content platform. The engine
// treats it as an external dependency; see Breaker for the resilient wrapper.
type ContentProvider interface {
	// ItemsInContainers returns every item in the given containers for the
	// given mode, in container order then position order.
	ItemsInContainers(ctx context.Context, containerIDs []int64, mode types.StudyMode) ([]ContentItem, error)

	// Item returns one item by id, or an error when it does not exist.
	Item(ctx context.Context, itemID int64) (*ContentItem, error)
}

// AccessController answers content authorization questions. Access is checked
// before any content is fetched, so an unauthorized scope never touches the
// provider.
type AccessController interface {
	// CanRead reports whether the user may study the container's content.
	CanRead(ctx context.Context, userID string, containerID int64) (bool, error)

	// ReadableContainers lists every container the user may study. Used to
	// resolve an "all content" scope.
	ReadableContainers(ctx context.Context, userID string) ([]int64, error)

	// IsAdmin reports whether the user bypasses per-container checks.
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// Candidate pairs an item with its memory record. A nil Card means the user
// has never studied the item.
type Candidate struct {
	Item ContentItem
	Card *types.ReviewCard
}

// IsNew reports whether the candidate has no review history.
func (c Candidate) IsNew() bool {
	return c.Card == nil || c.Card.State == types.StateNew
}
