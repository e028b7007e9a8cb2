package types

import "time"

// ReviewEvent is one entry of the append-only historical review log, written
// once per submitted answer. Stability and Difficulty are snapshots taken
// after the scheduler update.
type ReviewEvent struct {
	UserID     string    `json:"user_id"`
	ItemID     int64     `json:"item_id"`
	Mode       StudyMode `json:"mode"`
	SessionID  string    `json:"session_id,omitempty"` // optional, for analytics
	Rating     Rating    `json:"rating"`
	IsCorrect  bool      `json:"is_correct"`
	DurationMs int       `json:"duration_ms"`
	ReviewedAt time.Time `json:"reviewed_at"`

	Stability  float64 `json:"stability"`
	Difficulty float64 `json:"difficulty"`
}
