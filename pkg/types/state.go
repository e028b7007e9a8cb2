package types

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// CardState is the learning stage of a review card.
// The zero value is StateNew, so an absent durable record reads as New.
type CardState int

const (
	StateNew        CardState = iota // Never reviewed.
	StateLearning                    // In the initial short-step ladder.
	StateReview                      // In the long-term review cycle.
	StateRelearning                  // Forgotten, relearning.
)

var (
	stateNames = [...]string{
		StateNew:        "New",
		StateLearning:   "Learning",
		StateReview:     "Review",
		StateRelearning: "Relearning",
	}
	stateByName = map[string]CardState{
		"New":        StateNew,
		"Learning":   StateLearning,
		"Review":     StateReview,
		"Relearning": StateRelearning,
	}
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = CardState(0)
	_ json.Marshaler           = CardState(0)
	_ json.Unmarshaler         = (*CardState)(nil)
	_ encoding.TextMarshaler   = CardState(0)
	_ encoding.TextUnmarshaler = (*CardState)(nil)
)

// IsValid reports whether s is one of the four defined states.
func (s CardState) IsValid() bool {
	return s >= StateNew && s <= StateRelearning
}

// String returns the name of the state. For invalid values it returns "CardState(n)".
func (s CardState) String() string {
	if s.IsValid() {
		return stateNames[s]
	}
	return fmt.Sprintf("CardState(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s CardState) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("srs: invalid card state: %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CardState) UnmarshalText(text []byte) error {
	v, ok := stateByName[string(text)]
	if !ok {
		return fmt.Errorf("srs: invalid card state: %q", text)
	}
	*s = v
	return nil
}

// MarshalJSON implements json.Marshaler. CardState serializes as a JSON string.
func (s CardState) MarshalJSON() ([]byte, error) {
	text, err := s.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON implements json.Unmarshaler. Expects a JSON string.
func (s *CardState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("srs: invalid card state: %s", data)
	}
	return s.UnmarshalText([]byte(str))
}
