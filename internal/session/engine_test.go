package session

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memodrill/memodrill/internal/scheduler"
	"github.com/memodrill/memodrill/internal/selection"
	"github.com/memodrill/memodrill/internal/storage/sqlite"
	"github.com/memodrill/memodrill/pkg/types"
)

type fakeProvider struct {
	items map[int64][]selection.ContentItem
}

func (p *fakeProvider) ItemsInContainers(_ context.Context, containerIDs []int64, _ types.StudyMode) ([]selection.ContentItem, error) {
	var out []selection.ContentItem
	for _, id := range containerIDs {
		out = append(out, p.items[id]...)
	}
	return out, nil
}

func (p *fakeProvider) Item(_ context.Context, itemID int64) (*selection.ContentItem, error) {
	for _, items := range p.items {
		for _, it := range items {
			if it.ID == itemID {
				item := it
				return &item, nil
			}
		}
	}
	return nil, types.ErrEmptyPool
}

type openAccess struct{}

func (openAccess) CanRead(context.Context, string, int64) (bool, error) { return true, nil }
func (openAccess) ReadableContainers(context.Context, string) ([]int64, error) {
	return []int64{1}, nil
}
func (openAccess) IsAdmin(context.Context, string) (bool, error) { return false, nil }

type fixture struct {
	store  *sqlite.Store
	engine *Engine
	now    time.Time
}

func newFixture(t *testing.T, items []selection.ContentItem) *fixture {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	provider := &fakeProvider{items: map[int64][]selection.ContentItem{1: items}}
	selector := selection.NewEngine(provider, openAccess{}, store,
		selection.WithRandSource(rand.NewSource(1)))

	engine := NewEngine(store, selector, scheduler.Config{DisableFuzzing: true})
	f := &fixture{
		store:  store,
		engine: engine,
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	engine.now = func() time.Time { return f.now }
	return f
}

func plainItems(ids ...int64) []selection.ContentItem {
	items := make([]selection.ContentItem, len(ids))
	for i, id := range ids {
		items[i] = selection.ContentItem{ID: id, ContainerID: 1, Position: i}
	}
	return items
}

func TestStartSupersedesActiveSession(t *testing.T) {
	f := newFixture(t, plainItems(1, 2, 3))
	ctx := context.Background()

	first, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)
	second, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	got, err := f.store.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCancelled, got.Status)

	resumed, err := f.engine.Resume(ctx, "u1", types.ModeQuiz)
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, second.ID, resumed.ID)
}

func TestStartBadScopeLeavesActiveSessionAlone(t *testing.T) {
	f := newFixture(t, plainItems(1, 2))
	ctx := context.Background()

	sess, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)

	_, err = f.engine.Start(ctx, "u1", types.ModeQuiz, types.Scope{}, types.PolicySequential, 0)
	assert.ErrorIs(t, err, types.ErrInvalidScope)

	resumed, err := f.engine.Resume(ctx, "u1", types.ModeQuiz)
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, sess.ID, resumed.ID)
}

func TestResumeWithoutActiveSession(t *testing.T) {
	f := newFixture(t, plainItems(1))

	resumed, err := f.engine.Resume(context.Background(), "u1", types.ModeQuiz)
	require.NoError(t, err)
	assert.Nil(t, resumed)
}

func TestNextBatchGroupConsolidationAndNumbering(t *testing.T) {
	// Items 2 and 4 form a group; sequential order interleaves them with 3.
	items := []selection.ContentItem{
		{ID: 1, ContainerID: 1, Position: 0},
		{ID: 2, ContainerID: 1, Position: 1, GroupKey: "dialogue-7"},
		{ID: 3, ContainerID: 1, Position: 2},
		{ID: 4, ContainerID: 1, Position: 3, GroupKey: "dialogue-7"},
	}
	f := newFixture(t, items)
	ctx := context.Background()

	sess, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)

	batch, err := f.engine.NextBatch(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, batch, 4)

	// Group members gather at the group's first position and share a number.
	assert.Equal(t, int64(1), batch[0].Item.ID)
	assert.Equal(t, int64(2), batch[1].Item.ID)
	assert.Equal(t, int64(4), batch[2].Item.ID)
	assert.Equal(t, int64(3), batch[3].Item.ID)

	assert.Equal(t, 1, batch[0].Number)
	assert.Equal(t, 2, batch[1].Number)
	assert.Equal(t, 2, batch[2].Number)
	assert.Equal(t, 3, batch[3].Number)

	assert.Equal(t, 1, batch[1].Sub)
	assert.Equal(t, 2, batch[2].Sub)
}

func TestNextBatchNeverSplitsGroup(t *testing.T) {
	items := []selection.ContentItem{
		{ID: 1, ContainerID: 1, Position: 0, GroupKey: "g"},
		{ID: 2, ContainerID: 1, Position: 1, GroupKey: "g"},
		{ID: 3, ContainerID: 1, Position: 2, GroupKey: "g"},
		{ID: 4, ContainerID: 1, Position: 3},
	}
	f := newFixture(t, items)
	ctx := context.Background()

	sess, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)

	// Asking for one item still yields the whole three-item group.
	batch, err := f.engine.NextBatch(ctx, sess.ID, 1)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for _, s := range batch {
		assert.Equal(t, 1, s.Number)
	}
}

func TestNumberingSurvivesRestart(t *testing.T) {
	items := []selection.ContentItem{
		{ID: 1, ContainerID: 1, Position: 0, GroupKey: "passage-3"},
		{ID: 2, ContainerID: 1, Position: 1, GroupKey: "passage-3"},
		{ID: 3, ContainerID: 1, Position: 2},
	}
	f := newFixture(t, items)
	ctx := context.Background()

	sess, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)

	before, err := f.engine.NextBatch(ctx, sess.ID, 0)
	require.NoError(t, err)

	// Re-serving unanswered items (a client reload) repeats the numbering.
	reserved, err := f.engine.NextBatch(ctx, sess.ID, 0)
	require.NoError(t, err)

	// A fresh engine over the same store stands in for a process restart.
	restarted := NewEngine(f.store, f.engine.selector, scheduler.Config{DisableFuzzing: true})
	restarted.now = f.engine.now
	after, err := restarted.NextBatch(ctx, sess.ID, 0)
	require.NoError(t, err)

	require.Len(t, reserved, len(before))
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Item.ID, reserved[i].Item.ID)
		assert.Equal(t, before[i].Number, reserved[i].Number)
		assert.Equal(t, before[i].Sub, reserved[i].Sub, "item %d sub index drifted on re-serve", before[i].Item.ID)

		assert.Equal(t, before[i].Item.ID, after[i].Item.ID)
		assert.Equal(t, before[i].Number, after[i].Number)
		assert.Equal(t, before[i].Sub, after[i].Sub, "item %d sub index drifted across restart", before[i].Item.ID)
	}
}

func TestNextBatchSizeCountsGroups(t *testing.T) {
	items := []selection.ContentItem{
		{ID: 1, ContainerID: 1, Position: 0, GroupKey: "a"},
		{ID: 2, ContainerID: 1, Position: 1, GroupKey: "a"},
		{ID: 3, ContainerID: 1, Position: 2, GroupKey: "b"},
		{ID: 4, ContainerID: 1, Position: 3, GroupKey: "b"},
		{ID: 5, ContainerID: 1, Position: 4},
	}
	f := newFixture(t, items)
	ctx := context.Background()

	sess, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)

	// Two groups of two items each: the batch holds four items, not two.
	batch, err := f.engine.NextBatch(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, batch, 4)
	assert.Equal(t, int64(1), batch[0].Item.ID)
	assert.Equal(t, int64(2), batch[1].Item.ID)
	assert.Equal(t, int64(3), batch[2].Item.ID)
	assert.Equal(t, int64(4), batch[3].Item.ID)
}

func TestStartWithLimitBoundsSession(t *testing.T) {
	f := newFixture(t, plainItems(1, 2, 3, 4))
	ctx := context.Background()

	sess, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.TotalItems)

	// The serve queue honours the limit: only the first two items appear.
	batch, err := f.engine.NextBatch(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(1), batch[0].Item.ID)
	assert.Equal(t, int64(2), batch[1].Item.ID)

	_, err = f.engine.SubmitAnswers(ctx, sess.ID, []Answer{
		{ItemID: 1, Rating: types.Good},
		{ItemID: 2, Rating: types.Good},
	})
	require.NoError(t, err)

	got, err := f.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, got.Status)
}

func TestSubmitAnswersUpdatesEverything(t *testing.T) {
	f := newFixture(t, plainItems(1, 2, 3))
	ctx := context.Background()

	sess, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)

	results, err := f.engine.SubmitAnswers(ctx, sess.ID, []Answer{
		{ItemID: 1, Rating: types.Good, DurationMs: 1500},
		{ItemID: 2, Rating: types.Again, DurationMs: 4000},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].IsCorrect)
	assert.False(t, results[1].IsCorrect)
	assert.Equal(t, types.StateLearning, results[0].Card.State)

	got, err := f.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CorrectCount)
	assert.Equal(t, 1, got.IncorrectCount)
	assert.ElementsMatch(t, []int64{1, 2}, got.ProcessedItemIDs)
	assert.Equal(t, types.SessionActive, got.Status)

	card, err := f.store.GetCard(ctx, "u1", 1, types.ModeQuiz)
	require.NoError(t, err)
	assert.Equal(t, types.StateLearning, card.State)

	n, err := f.store.CountEvents(ctx, "u1", types.ModeQuiz)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events, err := f.store.ListEvents(ctx, "u1", types.ModeQuiz)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, events[0].SessionID)
	assert.Equal(t, 1500, events[0].DurationMs)
}

func TestSubmitAnswersRejectsDuplicatesBeforeMutating(t *testing.T) {
	f := newFixture(t, plainItems(1, 2, 3))
	ctx := context.Background()

	sess, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)

	_, err = f.engine.SubmitAnswers(ctx, sess.ID, []Answer{{ItemID: 1, Rating: types.Good}})
	require.NoError(t, err)

	tests := []struct {
		name    string
		answers []Answer
		wantErr error
	}{
		{"already processed", []Answer{{ItemID: 1, Rating: types.Good}}, types.ErrDuplicateAnswer},
		{"twice in one batch", []Answer{{ItemID: 2, Rating: types.Good}, {ItemID: 2, Rating: types.Again}}, types.ErrDuplicateAnswer},
		{"outside the session", []Answer{{ItemID: 99, Rating: types.Good}}, types.ErrItemNotInSession},
		{"invalid rating", []Answer{{ItemID: 2, Rating: 0}}, types.ErrInvalidRating},
		{"mixed valid and dup rejects whole batch", []Answer{{ItemID: 2, Rating: types.Good}, {ItemID: 1, Rating: types.Good}}, types.ErrDuplicateAnswer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.SubmitAnswers(ctx, sess.ID, tt.answers)
			assert.ErrorIs(t, err, tt.wantErr)

			// Nothing committed: counts unchanged.
			got, err := f.store.GetSession(ctx, sess.ID)
			require.NoError(t, err)
			assert.Len(t, got.ProcessedItemIDs, 1)
			n, err := f.store.CountEvents(ctx, "u1", types.ModeQuiz)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestSessionCompletesOnLastAnswer(t *testing.T) {
	f := newFixture(t, plainItems(1, 2))
	ctx := context.Background()

	sess, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)

	_, err = f.engine.SubmitAnswers(ctx, sess.ID, []Answer{
		{ItemID: 1, Rating: types.Good},
		{ItemID: 2, Rating: types.Good},
	})
	require.NoError(t, err)

	got, err := f.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, got.Status)

	// Further answers are rejected.
	_, err = f.engine.SubmitAnswers(ctx, sess.ID, []Answer{{ItemID: 1, Rating: types.Good}})
	assert.ErrorIs(t, err, types.ErrSessionNotActive)
}

func TestEndLifecycle(t *testing.T) {
	f := newFixture(t, plainItems(1, 2))
	ctx := context.Background()

	sess, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)

	ended, err := f.engine.End(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, ended.Status)

	// Idempotent on a completed session.
	again, err := f.engine.End(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, again.Status)

	// A superseded session cannot be ended.
	first, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)
	_, err = f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)
	_, err = f.engine.End(ctx, first.ID)
	assert.ErrorIs(t, err, types.ErrSessionNotActive)

	// Unknown session.
	_, err = f.engine.End(ctx, "no-such-session")
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
}

func TestSessionMutexStableAcrossCompletion(t *testing.T) {
	f := newFixture(t, plainItems(1))
	ctx := context.Background()

	sess, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)

	before := f.engine.lock(sess.ID)
	_, err = f.engine.End(ctx, sess.ID)
	require.NoError(t, err)

	// Completion must not mint a fresh mutex for the session: a goroutine
	// still queued on the old one would otherwise run unserialized.
	assert.Same(t, before, f.engine.lock(sess.ID))
}

func TestNextBatchExcludesProcessedItems(t *testing.T) {
	f := newFixture(t, plainItems(1, 2, 3))
	ctx := context.Background()

	sess, err := f.engine.Start(ctx, "u1", types.ModeQuiz, types.ScopeContainers(1), types.PolicySequential, 0)
	require.NoError(t, err)

	_, err = f.engine.SubmitAnswers(ctx, sess.ID, []Answer{{ItemID: 1, Rating: types.Good}})
	require.NoError(t, err)

	batch, err := f.engine.NextBatch(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(2), batch[0].Item.ID)
	assert.Equal(t, int64(3), batch[1].Item.ID)
}

func TestSchedulerUsesFittedParameters(t *testing.T) {
	f := newFixture(t, plainItems(1))
	ctx := context.Background()

	p := types.DefaultParameters()
	p.DesiredRetention = 0.8
	require.NoError(t, f.store.PutParameters(ctx, "u1", types.ModeQuiz, p))

	sched, err := f.engine.schedulerFor(ctx, "u1", types.ModeQuiz)
	require.NoError(t, err)
	require.NotNil(t, sched)

	// No stored parameters falls back to defaults.
	sched, err = f.engine.schedulerFor(ctx, "fresh-user", types.ModeQuiz)
	require.NoError(t, err)
	require.NotNil(t, sched)
}
