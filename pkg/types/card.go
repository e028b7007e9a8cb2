package types

import "time"

// StudyMode identifies the learning-mode variant a card belongs to.
// Memory state is tracked independently per mode.
type StudyMode string

const (
	ModeFlashcard StudyMode = "flashcard"
	ModeQuiz      StudyMode = "quiz"
	ModeCourse    StudyMode = "course"
	ModeListening StudyMode = "listening"
)

// IsValid reports whether m is a known study mode.
func (m StudyMode) IsValid() bool {
	switch m {
	case ModeFlashcard, ModeQuiz, ModeCourse, ModeListening:
		return true
	}
	return false
}

const (
	// DefaultDifficulty replaces corrupt stored difficulty values.
	DefaultDifficulty = 5.0

	// MinDifficulty and MaxDifficulty bound the intrinsic hardness parameter.
	MinDifficulty = 1.0
	MaxDifficulty = 10.0
)

// ReviewCard is the durable per-(user, item, mode) memory record.
//
// Invariants: Difficulty stays within [1, 10]; Due is non-nil whenever
// State != New; at most one of CorrectStreak/IncorrectStreak is non-zero
// after a review; Stability only grows on success and resets toward a small
// floor on failure.
type ReviewCard struct {
	UserID string    `json:"user_id"`
	ItemID int64     `json:"item_id"`
	Mode   StudyMode `json:"mode"`

	State      CardState `json:"state"`
	Step       int       `json:"step"` // ladder index, meaningful in Learning/Relearning only
	Stability  float64   `json:"stability"`
	Difficulty float64   `json:"difficulty"`

	Due            *time.Time `json:"due,omitempty"` // nil only while State == New
	LastReviewedAt *time.Time `json:"last_reviewed_at,omitempty"`

	Lapses          int `json:"lapses"`
	CorrectStreak   int `json:"correct_streak"`
	IncorrectStreak int `json:"incorrect_streak"`
	TimesCorrect    int `json:"times_correct"`
	TimesIncorrect  int `json:"times_incorrect"`
}

// NewReviewCard returns a fresh card in the New state. By convention an
// absent durable row reads as exactly this value.
func NewReviewCard(userID string, itemID int64, mode StudyMode) *ReviewCard {
	return &ReviewCard{
		UserID:     userID,
		ItemID:     itemID,
		Mode:       mode,
		State:      StateNew,
		Difficulty: DefaultDifficulty,
	}
}

// Clone returns a deep copy of the card. Pointer fields are copied by value.
func (c *ReviewCard) Clone() *ReviewCard {
	out := *c
	if c.Due != nil {
		v := *c.Due
		out.Due = &v
	}
	if c.LastReviewedAt != nil {
		v := *c.LastReviewedAt
		out.LastReviewedAt = &v
	}
	return &out
}

// Normalize enforces the value invariants on a card read from storage and
// reports whether anything had to be repaired. Historical rows are known to
// carry difficulty values outside [1, 10] (a legacy field was conflated with
// difficulty); such values are treated as corrupt and replaced with the
// default rather than propagated.
func (c *ReviewCard) Normalize() bool {
	repaired := false

	if c.Difficulty < MinDifficulty || c.Difficulty > MaxDifficulty {
		c.Difficulty = DefaultDifficulty
		repaired = true
	}
	if c.Stability < 0 {
		c.Stability = 0
		repaired = true
	}
	if !c.State.IsValid() {
		c.State = StateNew
		repaired = true
	}
	if c.CorrectStreak > 0 && c.IncorrectStreak > 0 {
		// Streaks are mutually exclusive; keep the one matching the most
		// recent outcome unknowable from the row alone, so drop both.
		c.CorrectStreak = 0
		c.IncorrectStreak = 0
		repaired = true
	}
	return repaired
}
