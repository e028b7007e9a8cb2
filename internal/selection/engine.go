package selection

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/memodrill/memodrill/internal/storage"
	"github.com/memodrill/memodrill/pkg/types"
)

// Engine resolves a (scope, policy) request into an ordered item pool. One
// engine serves every user, so the shuffle source is guarded by a mutex
// (rand.Rand is not safe for concurrent use).
type Engine struct {
	provider      ContentProvider
	access        AccessController
	cards         storage.CardStore
	hardThreshold float64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithHardThreshold overrides the hard_only difficulty threshold.
func WithHardThreshold(threshold float64) Option {
	return func(e *Engine) { e.hardThreshold = threshold }
}

// WithRandSource fixes the shuffle source, for deterministic tests.
func WithRandSource(src rand.Source) Option {
	return func(e *Engine) { e.rng = rand.New(src) }
}

// NewEngine creates a selection engine over the given provider, access
// controller, and card store.
func NewEngine(provider ContentProvider, access AccessController, cards storage.CardStore, opts ...Option) *Engine {
	e := &Engine{
		provider:      provider,
		access:        access,
		cards:         cards,
		hardThreshold: DefaultHardThreshold,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// shuffle randomizes a slice under the rng mutex.
func (e *Engine) shuffle(n int, swap func(i, j int)) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	e.rng.Shuffle(n, swap)
}

// Counts summarizes a scope for a user without selecting anything.
type Counts struct {
	Total int `json:"total"`
	New   int `json:"new"`
	Due   int `json:"due"`
	Hard  int `json:"hard"`
}

// Select returns up to limit candidates for the given policy, in serve
// order. A limit of zero or less means no limit. Authorization is enforced
// before any content is read; a scope containing a container the user cannot
// read fails the whole call with types.ErrAccessDenied.
func (e *Engine) Select(ctx context.Context, userID string, mode types.StudyMode, scope types.Scope, policy types.PolicyName, limit int, now time.Time) ([]Candidate, error) {
	if !policy.IsValid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidPolicy, policy)
	}

	pool, err := e.loadPool(ctx, userID, mode, scope)
	if err != nil {
		return nil, err
	}

	selected, err := filterAndOrder(policy, pool, now, e.hardThreshold, e.shuffle)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected, nil
}

// Count summarizes the scope: total items, plus how many are new, due, and
// hard for this user right now.
func (e *Engine) Count(ctx context.Context, userID string, mode types.StudyMode, scope types.Scope, now time.Time) (Counts, error) {
	pool, err := e.loadPool(ctx, userID, mode, scope)
	if err != nil {
		return Counts{}, err
	}

	counts := Counts{Total: len(pool)}
	for _, c := range pool {
		if c.IsNew() {
			counts.New++
		}
		if isDue(c, now) {
			counts.Due++
		}
		if isHard(c, e.hardThreshold) {
			counts.Hard++
		}
	}
	return counts, nil
}

// loadPool authorizes the scope, fetches its items, and joins each item with
// the user's memory record.
func (e *Engine) loadPool(ctx context.Context, userID string, mode types.StudyMode, scope types.Scope) ([]Candidate, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	containerIDs, err := e.authorizeScope(ctx, userID, scope)
	if err != nil {
		return nil, err
	}
	if len(containerIDs) == 0 {
		return nil, types.ErrEmptyScope
	}

	items, err := e.provider.ItemsInContainers(ctx, containerIDs, mode)
	if err != nil {
		return nil, fmt.Errorf("selection: failed to fetch items: %w", err)
	}
	if len(items) == 0 {
		return nil, types.ErrEmptyPool
	}

	itemIDs := make([]int64, len(items))
	for i, it := range items {
		itemIDs[i] = it.ID
	}
	cardsByID, err := e.cards.GetCards(ctx, userID, mode, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("selection: failed to load cards: %w", err)
	}

	pool := make([]Candidate, len(items))
	for i, it := range items {
		pool[i] = Candidate{Item: it, Card: cardsByID[it.ID]}
	}
	return pool, nil
}

// authorizeScope resolves the scope to concrete container ids the user may
// read. Admins bypass per-container checks.
func (e *Engine) authorizeScope(ctx context.Context, userID string, scope types.Scope) ([]int64, error) {
	if scope.All {
		ids, err := e.access.ReadableContainers(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("selection: failed to list readable containers: %w", err)
		}
		return ids, nil
	}

	admin, err := e.access.IsAdmin(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("selection: failed to check admin: %w", err)
	}
	if admin {
		return scope.ContainerIDs, nil
	}

	for _, id := range scope.ContainerIDs {
		ok, err := e.access.CanRead(ctx, userID, id)
		if err != nil {
			return nil, fmt.Errorf("selection: failed to check access to container %d: %w", id, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: container %d", types.ErrAccessDenied, id)
		}
	}
	return scope.ContainerIDs, nil
}
