package types

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// Rating is the learner's assessment of recall quality on the 4-point scale.
type Rating int

const (
	Again Rating = iota + 1 // Failed to recall.
	Hard                    // Recalled with significant difficulty.
	Good                    // Recalled with some effort.
	Easy                    // Recalled effortlessly.
)

var (
	ratingNames  = [...]string{Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}
	ratingByName = map[string]Rating{
		"Again": Again,
		"Hard":  Hard,
		"Good":  Good,
		"Easy":  Easy,
	}
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = Rating(0)
	_ json.Marshaler           = Rating(0)
	_ json.Unmarshaler         = (*Rating)(nil)
	_ encoding.TextMarshaler   = Rating(0)
	_ encoding.TextUnmarshaler = (*Rating)(nil)
)

// IsValid reports whether r is a valid rating (Again through Easy).
func (r Rating) IsValid() bool {
	return r >= Again && r <= Easy
}

// IsCorrect reports whether r counts as a successful recall.
// Again is the only failing rating on the 4-point scale.
func (r Rating) IsCorrect() bool {
	return r >= Hard
}

// String returns the name of the rating ("Again", "Hard", "Good", "Easy").
// For invalid values it returns "Rating(n)".
func (r Rating) String() string {
	if r.IsValid() {
		return ratingNames[r]
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// RatingFromQuality maps a legacy 6-point quality answer (0-5, SM-2 style)
// onto the 4-point scale. Qualities 0-2 are failures; 3 and above pass.
func RatingFromQuality(quality int) (Rating, error) {
	switch {
	case quality < 0 || quality > 5:
		return 0, fmt.Errorf("%w: quality %d outside [0, 5]", ErrInvalidRating, quality)
	case quality <= 2:
		return Again, nil
	case quality == 3:
		return Hard, nil
	case quality == 4:
		return Good, nil
	default:
		return Easy, nil
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Rating) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRating, int(r))
	}
	return []byte(ratingNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rating) UnmarshalText(text []byte) error {
	v, ok := ratingByName[string(text)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidRating, text)
	}
	*r = v
	return nil
}

// MarshalJSON implements json.Marshaler. Rating serializes as a JSON string.
func (r Rating) MarshalJSON() ([]byte, error) {
	text, err := r.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON implements json.Unmarshaler. Accepts the name ("Good") or
// the ordinal (3); API clients send either.
func (r *Rating) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return r.UnmarshalText([]byte(s))
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRating, data)
	}
	v := Rating(n)
	if !v.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidRating, n)
	}
	*r = v
	return nil
}
