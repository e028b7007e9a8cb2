package sqlite

// Schema is the embedded sqlite schema, applied idempotently on open.
// Numbering maps, processed ids, and weight vectors are stored as JSON
// blobs; everything the engine filters or orders on has its own column.
const Schema = `
CREATE TABLE IF NOT EXISTS review_cards (
	user_id          TEXT NOT NULL,
	item_id          INTEGER NOT NULL,
	mode             TEXT NOT NULL,
	state            TEXT NOT NULL,
	step             INTEGER NOT NULL DEFAULT 0,
	stability        REAL NOT NULL DEFAULT 0,
	difficulty       REAL NOT NULL DEFAULT 5.0,
	due_at           TIMESTAMP,
	last_reviewed_at TIMESTAMP,
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
	scope              TEXT NOT NULL,
	total_items        INTEGER NOT NULL DEFAULT 0,
	processed_item_ids TEXT NOT NULL DEFAULT '[]',
	correct_count      INTEGER NOT NULL DEFAULT 0,
	incorrect_count    INTEGER NOT NULL DEFAULT 0,
	group_numbering    TEXT NOT NULL DEFAULT '{}',
	group_sub_counters TEXT NOT NULL DEFAULT '{}',
	item_sub_numbers   TEXT NOT NULL DEFAULT '{}',
	next_group_number  INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL,
	created_at         TIMESTAMP NOT NULL,
	updated_at         TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_study_sessions_active
	ON study_sessions(user_id, mode, status);

CREATE TABLE IF NOT EXISTS review_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT NOT NULL,
	item_id     INTEGER NOT NULL,
	mode        TEXT NOT NULL,
	session_id  TEXT,
	rating      INTEGER NOT NULL,
	is_correct  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	reviewed_at TIMESTAMP NOT NULL,
	stability   REAL NOT NULL,
	difficulty  REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_events_user
	ON review_events(user_id, mode, reviewed_at);
CREATE INDEX IF NOT EXISTS idx_review_events_item
	ON review_events(user_id, item_id, mode, reviewed_at);

CREATE TABLE IF NOT EXISTS srs_parameters (
	user_id           TEXT NOT NULL,
	mode              TEXT NOT NULL,
	weights           TEXT NOT NULL,
	desired_retention REAL NOT NULL,
	updated_at        TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, mode)
);
`
