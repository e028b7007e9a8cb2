// Package postgres implements storage.Store on PostgreSQL via lib/pq. It is
// the deployment backend for multi-instance setups; sqlite remains the
// single-node default.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/memodrill/memodrill/internal/storage"
	"github.com/memodrill/memodrill/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS review_cards (
	user_id          TEXT NOT NULL,
	item_id          BIGINT NOT NULL,
	mode             TEXT NOT NULL,
	state            TEXT NOT NULL,
	step             INTEGER NOT NULL DEFAULT 0,
	stability        DOUBLE PRECISION NOT NULL DEFAULT 0,
	difficulty       DOUBLE PRECISION NOT NULL DEFAULT 5.0,
	due_at           TIMESTAMPTZ,
	last_reviewed_at TIMESTAMPTZ,
	lapses           INTEGER NOT NULL DEFAULT 0,
	correct_streak   INTEGER NOT NULL DEFAULT 0,
	incorrect_streak INTEGER NOT NULL DEFAULT 0,
	times_correct    INTEGER NOT NULL DEFAULT 0,
	times_incorrect  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, item_id, mode)
);

CREATE INDEX IF NOT EXISTS idx_review_cards_due
	ON review_cards(user_id, mode, due_at);

CREATE TABLE IF NOT EXISTS study_sessions (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	mode               TEXT NOT NULL,
	policy             TEXT NOT NULL,
	scope              JSONB NOT NULL,
	total_items        INTEGER NOT NULL DEFAULT 0,
	processed_item_ids JSONB NOT NULL DEFAULT '[]',
	correct_count      INTEGER NOT NULL DEFAULT 0,
	incorrect_count    INTEGER NOT NULL DEFAULT 0,
	group_numbering    JSONB NOT NULL DEFAULT '{}',
	group_sub_counters JSONB NOT NULL DEFAULT '{}',
	item_sub_numbers   JSONB NOT NULL DEFAULT '{}',
	next_group_number  INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_study_sessions_active
	ON study_sessions(user_id, mode, status);

CREATE TABLE IF NOT EXISTS review_events (
	id          BIGSERIAL PRIMARY KEY,
	user_id     TEXT NOT NULL,
	item_id     BIGINT NOT NULL,
	mode        TEXT NOT NULL,
	session_id  TEXT,
	rating      INTEGER NOT NULL,
	is_correct  BOOLEAN NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	reviewed_at TIMESTAMPTZ NOT NULL,
	stability   DOUBLE PRECISION NOT NULL,
	difficulty  DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_events_user
	ON review_events(user_id, mode, reviewed_at);
CREATE INDEX IF NOT EXISTS idx_review_events_item
	ON review_events(user_id, item_id, mode, reviewed_at);

CREATE TABLE IF NOT EXISTS srs_parameters (
	user_id           TEXT NOT NULL,
	mode              TEXT NOT NULL,
	weights           JSONB NOT NULL,
	desired_retention DOUBLE PRECISION NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, mode)
);
`

// Store implements storage.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open connects to PostgreSQL, verifies the connection, and applies the
// schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const cardColumns = `user_id, item_id, mode, state, step, stability, difficulty,
	due_at, last_reviewed_at, lapses, correct_streak, incorrect_streak,
	times_correct, times_incorrect`

// GetCard retrieves one card. Absent rows return storage.ErrNotFound.
func (s *Store) GetCard(ctx context.Context, userID string, itemID int64, mode types.StudyMode) (*types.ReviewCard, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cardColumns+`
		FROM review_cards
		WHERE user_id = $1 AND item_id = $2 AND mode = $3
	`, userID, itemID, string(mode))

	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get card: %w", err)
	}
	return card, nil
}

// GetCards retrieves the cards for the given item ids, keyed by item id.
func (s *Store) GetCards(ctx context.Context, userID string, mode types.StudyMode, itemIDs []int64) (map[int64]*types.ReviewCard, error) {
	result := make(map[int64]*types.ReviewCard, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM review_cards
		WHERE user_id = $1 AND mode = $2 AND item_id = ANY($3)
	`, userID, string(mode), pq.Array(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query cards: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan card: %w", err)
		}
		result[card.ItemID] = card
	}
	return result, rows.Err()
}

// UpsertCard creates or replaces a card.
func (s *Store) UpsertCard(ctx context.Context, card *types.ReviewCard) error {
	return upsertCard(ctx, s.db, card)
}

func upsertCard(ctx context.Context, ex execer, card *types.ReviewCard) error {
	if card == nil || card.UserID == "" || card.ItemID <= 0 {
		return fmt.Errorf("%w: card identity is required", storage.ErrInvalidInput)
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO review_cards (`+cardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, item_id, mode) DO UPDATE SET
			state = EXCLUDED.state,
			step = EXCLUDED.step,
			stability = EXCLUDED.stability,
			difficulty = EXCLUDED.difficulty,
			due_at = EXCLUDED.due_at,
			last_reviewed_at = EXCLUDED.last_reviewed_at,
			lapses = EXCLUDED.lapses,
			correct_streak = EXCLUDED.correct_streak,
			incorrect_streak = EXCLUDED.incorrect_streak,
			times_correct = EXCLUDED.times_correct,
			times_incorrect = EXCLUDED.times_incorrect
	`,
		card.UserID, card.ItemID, string(card.Mode), card.State.String(), card.Step,
		card.Stability, card.Difficulty, nullTime(card.Due), nullTime(card.LastReviewedAt),
		card.Lapses, card.CorrectStreak, card.IncorrectStreak,
		card.TimesCorrect, card.TimesIncorrect,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert card: %w", err)
	}
	return nil
}

// DeleteUserCards removes every card for a user.
func (s *Store) DeleteUserCards(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM review_cards WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete cards: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const sessionColumns = `id, user_id, mode, policy, scope, total_items,
	processed_item_ids, correct_count, incorrect_count,
	group_numbering, group_sub_counters, item_sub_numbers, next_group_number,
	status, created_at, updated_at`

// PutSession creates or replaces a session record.
func (s *Store) PutSession(ctx context.Context, sess *types.StudySession) error {
	return putSession(ctx, s.db, sess)
}

func putSession(ctx context.Context, ex execer, sess *types.StudySession) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("%w: session id is required", storage.ErrInvalidInput)
	}

	scopeJSON, err := json.Marshal(sess.Scope)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal scope: %w", err)
	}
	processedJSON, err := json.Marshal(sess.ProcessedItemIDs)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal processed ids: %w", err)
	}
	numberingJSON, err := json.Marshal(sess.GroupNumbering)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal group numbering: %w", err)
	}
	subJSON, err := json.Marshal(sess.GroupSubCounters)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal sub counters: %w", err)
	}
	itemSubJSON, err := json.Marshal(sess.ItemSubNumbers)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal item sub numbers: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO study_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			total_items = EXCLUDED.total_items,
			processed_item_ids = EXCLUDED.processed_item_ids,
			correct_count = EXCLUDED.correct_count,
			incorrect_count = EXCLUDED.incorrect_count,
			group_numbering = EXCLUDED.group_numbering,
			group_sub_counters = EXCLUDED.group_sub_counters,
			item_sub_numbers = EXCLUDED.item_sub_numbers,
			next_group_number = EXCLUDED.next_group_number,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`,
		sess.ID, sess.UserID, string(sess.Mode), string(sess.Policy), string(scopeJSON),
		sess.TotalItems, string(processedJSON), sess.CorrectCount, sess.IncorrectCount,
		string(numberingJSON), string(subJSON), string(itemSubJSON), sess.NextGroupNumber,
		string(sess.Status), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*types.StudySession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM study_sessions WHERE id = $1
	`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get session: %w", err)
	}
	return sess, nil
}

// FindActiveSession returns the Active session for (user, mode), if any.
func (s *Store) FindActiveSession(ctx context.Context, userID string, mode types.StudyMode) (*types.StudySession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM study_sessions
		WHERE user_id = $1 AND mode = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, string(mode), string(types.SessionActive))

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to find active session: %w", err)
	}
	return sess, nil
}

// CancelActiveSessions marks every Active session for (user, mode) Cancelled.
func (s *Store) CancelActiveSessions(ctx context.Context, userID string, mode types.StudyMode) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE study_sessions
		SET status = $1, updated_at = $2
		WHERE user_id = $3 AND mode = $4 AND status = $5
	`, string(types.SessionCancelled), time.Now().UTC(), userID, string(mode), string(types.SessionActive))
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to cancel sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// AppendEvent appends one review event to the historical log.
func (s *Store) AppendEvent(ctx context.Context, ev *types.ReviewEvent) error {
	return appendEvent(ctx, s.db, ev)
}

func appendEvent(ctx context.Context, ex execer, ev *types.ReviewEvent) error {
	if ev == nil || ev.UserID == "" || ev.ItemID <= 0 {
		return fmt.Errorf("%w: event identity is required", storage.ErrInvalidInput)
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO review_events (
			user_id, item_id, mode, session_id, rating, is_correct,
			duration_ms, reviewed_at, stability, difficulty
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		ev.UserID, ev.ItemID, string(ev.Mode), nullString(ev.SessionID),
		int(ev.Rating), ev.IsCorrect, ev.DurationMs, ev.ReviewedAt,
		ev.Stability, ev.Difficulty,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns all events for (user, mode) ordered by review time.
func (s *Store) ListEvents(ctx context.Context, userID string, mode types.StudyMode) ([]types.ReviewEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, item_id, mode, session_id, rating, is_correct,
			duration_ms, reviewed_at, stability, difficulty
		FROM review_events
		WHERE user_id = $1 AND mode = $2
		ORDER BY reviewed_at ASC, id ASC
	`, userID, string(mode))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []types.ReviewEvent
	for rows.Next() {
		var (
			ev        types.ReviewEvent
			mode      string
			sessionID sql.NullString
		)
		if err := rows.Scan(&ev.UserID, &ev.ItemID, &mode, &sessionID, &ev.Rating,
			&ev.IsCorrect, &ev.DurationMs, &ev.ReviewedAt, &ev.Stability, &ev.Difficulty); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan event: %w", err)
		}
		ev.Mode = types.StudyMode(mode)
		ev.SessionID = sessionID.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEvents returns the number of logged events for (user, mode).
func (s *Store) CountEvents(ctx context.Context, userID string, mode types.StudyMode) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM review_events WHERE user_id = $1 AND mode = $2
	`, userID, string(mode)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count events: %w", err)
	}
	return n, nil
}

// ListReviewedUserModes returns every distinct (user, mode) pair in the log.
func (s *Store) ListReviewedUserModes(ctx context.Context) ([]storage.UserMode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id, mode FROM review_events ORDER BY user_id, mode
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list user modes: %w", err)
	}
	defer rows.Close()

	var out []storage.UserMode
	for rows.Next() {
		var um storage.UserMode
		var mode string
		if err := rows.Scan(&um.UserID, &mode); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan user mode: %w", err)
		}
		um.Mode = types.StudyMode(mode)
		out = append(out, um)
	}
	return out, rows.Err()
}

// GetParameters returns the user's fitted scheduler parameters.
func (s *Store) GetParameters(ctx context.Context, userID string, mode types.StudyMode) (*types.Parameters, error) {
	var (
		weightsJSON []byte
		retention   float64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT weights, desired_retention FROM srs_parameters
		WHERE user_id = $1 AND mode = $2
	`, userID, string(mode)).Scan(&weightsJSON, &retention)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get parameters: %w", err)
	}

	p := &types.Parameters{DesiredRetention: retention}
	if err := json.Unmarshal(weightsJSON, &p.Weights); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal weights: %w", err)
	}
	return p, nil
}

// PutParameters stores or replaces the user's fitted parameters.
func (s *Store) PutParameters(ctx context.Context, userID string, mode types.StudyMode, p *types.Parameters) error {
	if p == nil {
		return fmt.Errorf("%w: parameters are required", storage.ErrInvalidInput)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	weightsJSON, err := json.Marshal(p.Weights)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal weights: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO srs_parameters (user_id, mode, weights, desired_retention, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, mode) DO UPDATE SET
			weights = EXCLUDED.weights,
			desired_retention = EXCLUDED.desired_retention,
			updated_at = EXCLUDED.updated_at
	`, userID, string(mode), string(weightsJSON), p.DesiredRetention, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert parameters: %w", err)
	}
	return nil
}

// CommitReview persists one processed answer atomically.
func (s *Store) CommitReview(ctx context.Context, card *types.ReviewCard, ev *types.ReviewEvent, sess *types.StudySession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertCard(ctx, tx, card); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, ev); err != nil {
		return err
	}
	if sess != nil {
		if err := putSession(ctx, tx, sess); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit review: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*types.ReviewCard, error) {
	var (
		card         types.ReviewCard
		mode, state  string
		due, lastRev sql.NullTime
	)
	err := row.Scan(&card.UserID, &card.ItemID, &mode, &state, &card.Step,
		&card.Stability, &card.Difficulty, &due, &lastRev,
		&card.Lapses, &card.CorrectStreak, &card.IncorrectStreak,
		&card.TimesCorrect, &card.TimesIncorrect)
	if err != nil {
		return nil, err
	}

	card.Mode = types.StudyMode(mode)
	if err := card.State.UnmarshalText([]byte(state)); err != nil {
		return nil, err
	}
	if due.Valid {
		card.Due = &due.Time
	}
	if lastRev.Valid {
		card.LastReviewedAt = &lastRev.Time
	}

	if card.Normalize() {
		log.Printf("postgres: repaired corrupt card values for (%s, %d, %s)",
			card.UserID, card.ItemID, card.Mode)
	}
	return &card, nil
}

func scanSession(row rowScanner) (*types.StudySession, error) {
	var (
		sess                                                    types.StudySession
		mode, policy, status                                    string
		scopeJSON, processedJSON, numJSON, subJSON, itemSubJSON []byte
	)
	err := row.Scan(&sess.ID, &sess.UserID, &mode, &policy, &scopeJSON,
		&sess.TotalItems, &processedJSON, &sess.CorrectCount, &sess.IncorrectCount,
		&numJSON, &subJSON, &itemSubJSON, &sess.NextGroupNumber,
		&status, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sess.Mode = types.StudyMode(mode)
	sess.Policy = types.PolicyName(policy)
	sess.Status = types.SessionStatus(status)
	if err := json.Unmarshal(scopeJSON, &sess.Scope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scope: %w", err)
	}
	if err := json.Unmarshal(processedJSON, &sess.ProcessedItemIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal processed ids: %w", err)
	}
	if err := json.Unmarshal(numJSON, &sess.GroupNumbering); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group numbering: %w", err)
	}
	if err := json.Unmarshal(subJSON, &sess.GroupSubCounters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sub counters: %w", err)
	}
	if err := json.Unmarshal(itemSubJSON, &sess.ItemSubNumbers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item sub numbers: %w", err)
	}
	return &sess, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
