package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRatingIsCorrect(t *testing.T) {
	if Again.IsCorrect() {
		t.Error("Again must not count as correct")
	}
	for _, r := range []Rating{Hard, Good, Easy} {
		if !r.IsCorrect() {
			t.Errorf("%s must count as correct", r)
		}
	}
}

func TestRatingFromQuality(t *testing.T) {
	cases := []struct {
		quality int
		want    Rating
	}{
		{0, Again}, {1, Again}, {2, Again},
		{3, Hard}, {4, Good}, {5, Easy},
	}
	for _, tc := range cases {
		got, err := RatingFromQuality(tc.quality)
		if err != nil {
			t.Fatalf("RatingFromQuality(%d): %v", tc.quality, err)
		}
		if got != tc.want {
			t.Errorf("RatingFromQuality(%d) = %s, want %s", tc.quality, got, tc.want)
		}
	}
}

func TestRatingFromQualityOutOfRange(t *testing.T) {
	for _, q := range []int{-1, 6, 100} {
		if _, err := RatingFromQuality(q); !errors.Is(err, ErrInvalidRating) {
			t.Errorf("RatingFromQuality(%d): expected ErrInvalidRating, got %v", q, err)
		}
	}
}

func TestRatingJSONRoundTrip(t *testing.T) {
	for _, r := range []Rating{Again, Hard, Good, Easy} {
		data, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal %s: %v", r, err)
		}
		var back Rating
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != r {
			t.Errorf("round trip: got %s, want %s", back, r)
		}
	}
}

func TestRatingUnmarshalOrdinal(t *testing.T) {
	var r Rating
	if err := json.Unmarshal([]byte(`3`), &r); err != nil {
		t.Fatalf("unmarshal ordinal: %v", err)
	}
	if r != Good {
		t.Errorf("got %s, want Good", r)
	}
	if err := json.Unmarshal([]byte(`7`), &r); !errors.Is(err, ErrInvalidRating) {
		t.Errorf("out-of-range ordinal: expected ErrInvalidRating, got %v", err)
	}
}

func TestInvalidRatingMarshal(t *testing.T) {
	if _, err := json.Marshal(Rating(9)); err == nil {
		t.Error("expected error marshalling invalid rating")
	}
}
