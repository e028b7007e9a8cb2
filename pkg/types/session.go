package types

import (
	"fmt"
	"time"
)

// PolicyName identifies an item-selection strategy.
type PolicyName string

const (
	PolicyNewOnly    PolicyName = "new_only"
	PolicyDueOnly    PolicyName = "due_only"
	PolicyHardOnly   PolicyName = "hard_only"
	PolicyAllReview  PolicyName = "all_review"
	PolicyMixed      PolicyName = "mixed" // default "smart" mode: due first, then new
	PolicySequential PolicyName = "sequential"
)

// IsValid reports whether p names a known policy.
func (p PolicyName) IsValid() bool {
	switch p {
	case PolicyNewOnly, PolicyDueOnly, PolicyHardOnly, PolicyAllReview, PolicyMixed, PolicySequential:
		return true
	}
	return false
}

// Scope restricts selection to one or more content containers, or to every
// container the user may read when All is set.
type Scope struct {
	All          bool    `json:"all,omitempty"`
	ContainerIDs []int64 `json:"container_ids,omitempty"`
}

// ScopeAll returns the scope covering every readable container.
func ScopeAll() Scope { return Scope{All: true} }

// ScopeContainers returns a scope over an explicit container list.
func ScopeContainers(ids ...int64) Scope { return Scope{ContainerIDs: ids} }

// Validate rejects malformed scopes: neither All nor a non-empty container
// list, both at once, or a non-positive container id.
func (s Scope) Validate() error {
	if s.All {
		if len(s.ContainerIDs) > 0 {
			return fmt.Errorf("%w: all and explicit containers are mutually exclusive", ErrInvalidScope)
		}
		return nil
	}
	if len(s.ContainerIDs) == 0 {
		return fmt.Errorf("%w: no containers given", ErrInvalidScope)
	}
	for _, id := range s.ContainerIDs {
		if id <= 0 {
			return fmt.Errorf("%w: container id %d", ErrInvalidScope, id)
		}
	}
	return nil
}

// SessionStatus is the lifecycle state of a study session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// StudySession is the durable, resumable record of one study run. Everything
// NextBatch needs to continue after a restart lives here; no in-memory state
// is authoritative.
type StudySession struct {
	ID     string     `json:"id"`
	UserID string     `json:"user_id"`
	Mode   StudyMode  `json:"mode"`
	Policy PolicyName `json:"policy"`
	Scope  Scope      `json:"scope"`

	TotalItems       int     `json:"total_items"`
	ProcessedItemIDs []int64 `json:"processed_item_ids"`
	CorrectCount     int     `json:"correct_count"`
	IncorrectCount   int     `json:"incorrect_count"`

	// GroupNumbering maps a group key to the monotonically increasing display
	// number assigned the first time any member of the group was seen.
	// GroupSubCounters counts how many sub-indices each group has handed out,
	// and ItemSubNumbers pins the sub-index each item received on first serve
	// so re-serving the same item repeats the same N.x.
	GroupNumbering   map[string]int `json:"group_numbering"`
	GroupSubCounters map[string]int `json:"group_sub_counters"`
	ItemSubNumbers   map[int64]int  `json:"item_sub_numbers"`
	NextGroupNumber  int            `json:"next_group_number"`

	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// IsActive reports whether the session still accepts batches and answers.
func (s *StudySession) IsActive() bool { return s.Status == SessionActive }

// ProcessedSet returns the processed item ids as a lookup set.
func (s *StudySession) ProcessedSet() map[int64]bool {
	set := make(map[int64]bool, len(s.ProcessedItemIDs))
	for _, id := range s.ProcessedItemIDs {
		set[id] = true
	}
	return set
}
