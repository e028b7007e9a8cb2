// Package session implements durable, resumable study sessions on top of the
// selection engine and scheduler: starting a session supersedes the previous
// one, answers commit atomically per item, and the display numbering of item
// groups survives restarts because it lives in the session record.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memodrill/memodrill/internal/scheduler"
	"github.com/memodrill/memodrill/internal/selection"
	"github.com/memodrill/memodrill/internal/storage"
	"github.com/memodrill/memodrill/pkg/types"
)

// Engine runs study sessions. All state lives in the store; the engine keeps
// only per-session mutexes so concurrent calls on one session serialize.
type Engine struct {
	store    storage.Store
	selector *selection.Engine

	schedCfg scheduler.Config // weight/retention fields are overridden per user

	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a session engine. The scheduler config supplies ladder
// steps and fuzzing behavior; weights and desired retention are resolved per
// user from the parameter store.
func NewEngine(store storage.Store, selector *selection.Engine, schedCfg scheduler.Config) *Engine {
	return &Engine{
		store:    store,
		selector: selector,
		schedCfg: schedCfg,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lock returns the mutex serializing operations on one session. Entries are
// kept for the process lifetime: removing one while a goroutine is blocked on
// it would let a later caller mint a second mutex for the same session.
func (e *Engine) lock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sessionID] = l
	}
	return l
}

// schedulerFor builds a scheduler with the user's fitted parameters, falling
// back to defaults for users who have never been optimized.
func (e *Engine) schedulerFor(ctx context.Context, userID string, mode types.StudyMode) (*scheduler.Scheduler, error) {
	cfg := e.schedCfg
	params, err := e.store.GetParameters(ctx, userID, mode)
	switch {
	case err == nil:
		cfg.Weights = params.Weights
		cfg.DesiredRetention = params.DesiredRetention
	case errors.Is(err, storage.ErrNotFound):
		// Defaults.
	default:
		return nil, fmt.Errorf("session: failed to load parameters: %w", err)
	}
	return scheduler.New(cfg)
}

// Start begins a session for (user, mode). Any session already active for
// the pair is cancelled first: starting supersedes, it never errors on an
// existing session. The item pool is fixed at start time by running the
// selection policy once; only its size is persisted, the queue itself is
// recomputed deterministically from the durable record.
func (e *Engine) Start(ctx context.Context, userID string, mode types.StudyMode, scope types.Scope, policy types.PolicyName, limit int) (*types.StudySession, error) {
	now := e.now().UTC()

	// Selection validates scope, policy, and access before we touch any
	// session state, so a bad request never cancels the previous session.
	selected, err := e.selector.Select(ctx, userID, mode, scope, policy, limit, now)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		// The scope has items, but none qualify under this policy right now.
		return nil, types.ErrEmptyPool
	}

	if _, err := e.store.CancelActiveSessions(ctx, userID, mode); err != nil {
		return nil, fmt.Errorf("session: failed to supersede: %w", err)
	}

	sess := &types.StudySession{
		ID:               uuid.NewString(),
		UserID:           userID,
		Mode:             mode,
		Policy:           policy,
		Scope:            scope,
		TotalItems:       len(selected),
		ProcessedItemIDs: []int64{},
		GroupNumbering:   map[string]int{},
		GroupSubCounters: map[string]int{},
		ItemSubNumbers:   map[int64]int{},
		NextGroupNumber:  1,
		Status:           types.SessionActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: failed to persist: %w", err)
	}
	return sess, nil
}

// Resume returns the user's active session for the mode, or (nil, nil) when
// there is nothing to resume.
func (e *Engine) Resume(ctx context.Context, userID string, mode types.StudyMode) (*types.StudySession, error) {
	sess, err := e.store.FindActiveSession(ctx, userID, mode)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: failed to find active session: %w", err)
	}
	return sess, nil
}

// ServedItem is one item handed to the client, with its stable display
// numbering: items in the same group share Number and are distinguished by
// Sub (1-based within the group).
type ServedItem struct {
	Item   selection.ContentItem `json:"item"`
	Number int                   `json:"number"`
	Sub    int                   `json:"sub"`
	IsNew  bool                  `json:"is_new"`
}

// NextBatch returns up to batchSize pending groups for the session, served
// whole: a group never splits across batches, and batchSize counts groups,
// not items, so a batch with a large group runs over its size in items.
// Numbers and sub-indices are assigned on first serve and persisted, so
// re-serving an unanswered item (client reload, process restart) repeats the
// same N.x.
func (e *Engine) NextBatch(ctx context.Context, sessionID string, batchSize int) ([]ServedItem, error) {
	l := e.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := e.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	pending, err := e.pendingQueue(ctx, sess)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	runs := groupRuns(pending)
	if batchSize <= 0 || batchSize > len(runs) {
		batchSize = len(runs)
	}
	if sess.ItemSubNumbers == nil {
		sess.ItemSubNumbers = map[int64]int{}
	}

	var (
		served  []ServedItem
		touched bool
	)
	for _, group := range runs[:batchSize] {
		for _, cand := range group {
			key := groupKey(cand.Item)
			num, ok := sess.GroupNumbering[key]
			if !ok {
				num = sess.NextGroupNumber
				sess.NextGroupNumber++
				sess.GroupNumbering[key] = num
				touched = true
			}
			sub, ok := sess.ItemSubNumbers[cand.Item.ID]
			if !ok {
				sess.GroupSubCounters[key]++
				sub = sess.GroupSubCounters[key]
				sess.ItemSubNumbers[cand.Item.ID] = sub
				touched = true
			}
			served = append(served, ServedItem{
				Item:   cand.Item,
				Number: num,
				Sub:    sub,
				IsNew:  cand.IsNew(),
			})
		}
	}

	if touched {
		sess.UpdatedAt = e.now().UTC()
		if err := e.store.PutSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("session: failed to persist numbering: %w", err)
		}
	}
	return served, nil
}

// Answer is one submitted response.
type Answer struct {
	ItemID     int64        `json:"item_id"`
	Rating     types.Rating `json:"rating"`
	DurationMs int          `json:"duration_ms"`
}

// AnswerResult reports the scheduling outcome of one answer.
type AnswerResult struct {
	ItemID    int64             `json:"item_id"`
	Card      *types.ReviewCard `json:"card"`
	IsCorrect bool              `json:"is_correct"`
}

// SubmitAnswers processes a batch of answers. The whole batch is validated
// before anything commits: an invalid rating, an item outside the session, a
// repeat of an already-processed item, or the same item twice in the batch
// rejects the entire call with no state change. Each accepted answer then
// commits atomically (card, log event, session record in one transaction).
// When the last pending item is processed the session completes itself.
func (e *Engine) SubmitAnswers(ctx context.Context, sessionID string, answers []Answer) ([]AnswerResult, error) {
	if len(answers) == 0 {
		return nil, nil
	}

	l := e.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := e.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	pending, err := e.pendingQueue(ctx, sess)
	if err != nil {
		return nil, err
	}
	pendingByID := make(map[int64]selection.Candidate, len(pending))
	for _, c := range pending {
		pendingByID[c.Item.ID] = c
	}

	processed := sess.ProcessedSet()
	seen := make(map[int64]bool, len(answers))
	for _, a := range answers {
		if !a.Rating.IsValid() {
			return nil, fmt.Errorf("%w: %d for item %d", types.ErrInvalidRating, int(a.Rating), a.ItemID)
		}
		if processed[a.ItemID] || seen[a.ItemID] {
			return nil, fmt.Errorf("%w: item %d", types.ErrDuplicateAnswer, a.ItemID)
		}
		if _, ok := pendingByID[a.ItemID]; !ok {
			return nil, fmt.Errorf("%w: item %d", types.ErrItemNotInSession, a.ItemID)
		}
		seen[a.ItemID] = true
	}

	sched, err := e.schedulerFor(ctx, sess.UserID, sess.Mode)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	results := make([]AnswerResult, 0, len(answers))
	for _, a := range answers {
		cand := pendingByID[a.ItemID]
		card := cand.Card
		if card == nil {
			card = types.NewReviewCard(sess.UserID, a.ItemID, sess.Mode)
		}

		updated, event, err := sched.Review(card, a.Rating, now)
		if err != nil {
			return results, err
		}
		event.SessionID = sess.ID
		event.DurationMs = a.DurationMs

		sess.ProcessedItemIDs = append(sess.ProcessedItemIDs, a.ItemID)
		if event.IsCorrect {
			sess.CorrectCount++
		} else {
			sess.IncorrectCount++
		}
		if len(sess.ProcessedItemIDs) >= sess.TotalItems {
			sess.Status = types.SessionCompleted
		}
		sess.UpdatedAt = now

		if err := e.store.CommitReview(ctx, updated, &event, sess); err != nil {
			return results, fmt.Errorf("session: failed to commit answer for item %d: %w", a.ItemID, err)
		}
		results = append(results, AnswerResult{
			ItemID:    a.ItemID,
			Card:      updated,
			IsCorrect: event.IsCorrect,
		})
	}

	return results, nil
}

// End completes the session. Ending an already-completed session is a no-op
// and returns the session as stored; ending a cancelled session is an error
// because a superseded session cannot be revived or finished.
func (e *Engine) End(ctx context.Context, sessionID string) (*types.StudySession, error) {
	l := e.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := e.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case types.SessionCompleted:
		return sess, nil
	case types.SessionCancelled:
		return nil, fmt.Errorf("%w: session %s was superseded", types.ErrSessionNotActive, sessionID)
	}

	sess.Status = types.SessionCompleted
	sess.UpdatedAt = e.now().UTC()
	if err := e.store.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: failed to persist: %w", err)
	}
	return sess, nil
}

// getSession loads a session, mapping storage.ErrNotFound to the
// engine-level sentinel.
func (e *Engine) getSession(ctx context.Context, sessionID string) (*types.StudySession, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("session: failed to load session: %w", err)
	}
	return sess, nil
}

func (e *Engine) activeSession(ctx context.Context, sessionID string) (*types.StudySession, error) {
	sess, err := e.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() {
		return nil, fmt.Errorf("%w: %s is %s", types.ErrSessionNotActive, sessionID, sess.Status)
	}
	return sess, nil
}

// pendingQueue recomputes the session's serve queue from its durable record:
// the selection policy runs again over the same scope, capped at the
// session's item budget, and the already processed items drop out. Items
// that became due (or stopped being due) since the session started are
// judged as of now, which is the desired behavior for a session resumed
// much later.
func (e *Engine) pendingQueue(ctx context.Context, sess *types.StudySession) ([]selection.Candidate, error) {
	selected, err := e.selector.Select(ctx, sess.UserID, sess.Mode, sess.Scope, sess.Policy, sess.TotalItems, e.now().UTC())
	if err != nil {
		// A pool that emptied out from under an active session is not an
		// error for the session itself.
		if errors.Is(err, types.ErrEmptyPool) {
			return nil, nil
		}
		return nil, err
	}

	processed := sess.ProcessedSet()
	var pending []selection.Candidate
	for _, c := range selected {
		if !processed[c.Item.ID] {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

// groupKey is the numbering key for an item: its presentation group when it
// has one, otherwise the item stands alone under a synthetic key.
func groupKey(item selection.ContentItem) string {
	if item.GroupKey != "" {
		return item.GroupKey
	}
	return "item:" + strconv.FormatInt(item.ID, 10)
}

// groupRuns consolidates the ordered queue into groups: all members of a
// group gather at the position of its first member, so a group is always
// served whole even when the policy order interleaves its items with others.
func groupRuns(queue []selection.Candidate) [][]selection.Candidate {
	var (
		runs  [][]selection.Candidate
		index = make(map[string]int)
	)
	for _, c := range queue {
		key := groupKey(c.Item)
		if i, ok := index[key]; ok {
			runs[i] = append(runs[i], c)
			continue
		}
		index[key] = len(runs)
		runs = append(runs, []selection.Candidate{c})
	}
	return runs
}
