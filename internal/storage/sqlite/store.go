// Package sqlite implements storage.Store on SQLite via modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/memodrill/memodrill/internal/storage"
	"github.com/memodrill/memodrill/pkg/types"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Open opens a SQLite database, configures WAL mode, and applies the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load;
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s failed: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// execer covers both *sql.DB and *sql.Tx so the write helpers can run inside
// CommitReview's transaction.
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
		WHERE user_id = ? AND item_id = ? AND mode = ?
	`, userID, itemID, string(mode))

	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get card: %w", err)
	}
	return card, nil
}

// GetCards retrieves the cards for the given item ids, keyed by item id.
func (s *Store) GetCards(ctx context.Context, userID string, mode types.StudyMode, itemIDs []int64) (map[int64]*types.ReviewCard, error) {
	result := make(map[int64]*types.ReviewCard, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(itemIDs))
	args := make([]any, 0, len(itemIDs)+2)
	args = append(args, userID, string(mode))
	for i, id := range itemIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM review_cards
		WHERE user_id = ? AND mode = ? AND item_id IN (`+strings.Join(placeholders, ",")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query cards: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan card: %w", err)
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, item_id, mode) DO UPDATE SET
			state = excluded.state,
			step = excluded.step,
			stability = excluded.stability,
			difficulty = excluded.difficulty,
			due_at = excluded.due_at,
			last_reviewed_at = excluded.last_reviewed_at,
			lapses = excluded.lapses,
			correct_streak = excluded.correct_streak,
			incorrect_streak = excluded.incorrect_streak,
			times_correct = excluded.times_correct,
			times_incorrect = excluded.times_incorrect
	`,
		card.UserID, card.ItemID, string(card.Mode), card.State.String(), card.Step,
		card.Stability, card.Difficulty, nullTime(card.Due), nullTime(card.LastReviewedAt),
		card.Lapses, card.CorrectStreak, card.IncorrectStreak,
		card.TimesCorrect, card.TimesIncorrect,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert card: %w", err)
	}
	return nil
}

// DeleteUserCards removes every card for a user.
func (s *Store) DeleteUserCards(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM review_cards WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to delete cards: %w", err)
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
		return fmt.Errorf("sqlite: failed to marshal scope: %w", err)
	}
	processedJSON, err := json.Marshal(sess.ProcessedItemIDs)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal processed ids: %w", err)
	}
	numberingJSON, err := json.Marshal(sess.GroupNumbering)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal group numbering: %w", err)
	}
	subJSON, err := json.Marshal(sess.GroupSubCounters)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal sub counters: %w", err)
	}
	itemSubJSON, err := json.Marshal(sess.ItemSubNumbers)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal item sub numbers: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO study_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_items = excluded.total_items,
			processed_item_ids = excluded.processed_item_ids,
			correct_count = excluded.correct_count,
			incorrect_count = excluded.incorrect_count,
			group_numbering = excluded.group_numbering,
			group_sub_counters = excluded.group_sub_counters,
			item_sub_numbers = excluded.item_sub_numbers,
			next_group_number = excluded.next_group_number,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		sess.ID, sess.UserID, string(sess.Mode), string(sess.Policy), string(scopeJSON),
		sess.TotalItems, string(processedJSON), sess.CorrectCount, sess.IncorrectCount,
		string(numberingJSON), string(subJSON), string(itemSubJSON), sess.NextGroupNumber,
		string(sess.Status), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*types.StudySession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM study_sessions WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get session: %w", err)
	}
	return sess, nil
}

// FindActiveSession returns the Active session for (user, mode), if any.
func (s *Store) FindActiveSession(ctx context.Context, userID string, mode types.StudyMode) (*types.StudySession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM study_sessions
		WHERE user_id = ? AND mode = ? AND status = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, string(mode), string(types.SessionActive))

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to find active session: %w", err)
	}
	return sess, nil
}

// CancelActiveSessions marks every Active session for (user, mode) Cancelled.
func (s *Store) CancelActiveSessions(ctx context.Context, userID string, mode types.StudyMode) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE study_sessions
		SET status = ?, updated_at = ?
		WHERE user_id = ? AND mode = ? AND status = ?
	`, string(types.SessionCancelled), time.Now().UTC(), userID, string(mode), string(types.SessionActive))
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to cancel sessions: %w", err)
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.UserID, ev.ItemID, string(ev.Mode), nullString(ev.SessionID),
		int(ev.Rating), ev.IsCorrect, ev.DurationMs, ev.ReviewedAt,
		ev.Stability, ev.Difficulty,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns all events for (user, mode) ordered by review time.
func (s *Store) ListEvents(ctx context.Context, userID string, mode types.StudyMode) ([]types.ReviewEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, item_id, mode, session_id, rating, is_correct,
			duration_ms, reviewed_at, stability, difficulty
		FROM review_events
		WHERE user_id = ? AND mode = ?
		ORDER BY reviewed_at ASC, id ASC
	`, userID, string(mode))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query events: %w", err)
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
			return nil, fmt.Errorf("sqlite: failed to scan event: %w", err)
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
		SELECT COUNT(*) FROM review_events WHERE user_id = ? AND mode = ?
	`, userID, string(mode)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to count events: %w", err)
	}
	return n, nil
}

// ListReviewedUserModes returns every distinct (user, mode) pair in the log.
func (s *Store) ListReviewedUserModes(ctx context.Context) ([]storage.UserMode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id, mode FROM review_events ORDER BY user_id, mode
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list user modes: %w", err)
	}
	defer rows.Close()

	var out []storage.UserMode
	for rows.Next() {
		var um storage.UserMode
		var mode string
		if err := rows.Scan(&um.UserID, &mode); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan user mode: %w", err)
		}
		um.Mode = types.StudyMode(mode)
		out = append(out, um)
	}
	return out, rows.Err()
}

// GetParameters returns the user's fitted scheduler parameters.
func (s *Store) GetParameters(ctx context.Context, userID string, mode types.StudyMode) (*types.Parameters, error) {
	var (
		weightsJSON string
		retention   float64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT weights, desired_retention FROM srs_parameters
		WHERE user_id = ? AND mode = ?
	`, userID, string(mode)).Scan(&weightsJSON, &retention)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get parameters: %w", err)
	}

	p := &types.Parameters{DesiredRetention: retention}
	if err := json.Unmarshal([]byte(weightsJSON), &p.Weights); err != nil {
		return nil, fmt.Errorf("sqlite: failed to unmarshal weights: %w", err)
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
		return fmt.Errorf("sqlite: failed to marshal weights: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO srs_parameters (user_id, mode, weights, desired_retention, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, mode) DO UPDATE SET
			weights = excluded.weights,
			desired_retention = excluded.desired_retention,
			updated_at = excluded.updated_at
	`, userID, string(mode), string(weightsJSON), p.DesiredRetention, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert parameters: %w", err)
	}
	return nil
}

// CommitReview persists one processed answer atomically: card, review event,
// and session record commit together or not at all.
func (s *Store) CommitReview(ctx context.Context, card *types.ReviewCard, ev *types.ReviewEvent, sess *types.StudySession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
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
		return fmt.Errorf("sqlite: failed to commit review: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCard reads one card row, enforcing value invariants at the read
// boundary: corrupt stored difficulty/stability is repaired, not propagated.
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
		log.Printf("sqlite: repaired corrupt card values for (%s, %d, %s)",
			card.UserID, card.ItemID, card.Mode)
	}
	return &card, nil
}

func scanSession(row rowScanner) (*types.StudySession, error) {
	var (
		sess                                                    types.StudySession
		mode, policy, status                                    string
		scopeJSON, processedJSON, numJSON, subJSON, itemSubJSON string
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
	if err := json.Unmarshal([]byte(scopeJSON), &sess.Scope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scope: %w", err)
	}
	if err := json.Unmarshal([]byte(processedJSON), &sess.ProcessedItemIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal processed ids: %w", err)
	}
	if err := json.Unmarshal([]byte(numJSON), &sess.GroupNumbering); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group numbering: %w", err)
	}
	if err := json.Unmarshal([]byte(subJSON), &sess.GroupSubCounters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sub counters: %w", err)
	}
	if err := json.Unmarshal([]byte(itemSubJSON), &sess.ItemSubNumbers); err != nil {
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
