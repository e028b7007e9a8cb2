package types

import (
	"errors"
	"testing"
)

func TestScopeValidate(t *testing.T) {
	cases := []struct {
		name    string
		scope   Scope
		wantErr bool
	}{
		{"all", ScopeAll(), false},
		{"single_container", ScopeContainers(7), false},
		{"multi_container", ScopeContainers(1, 2, 3), false},
		{"empty", Scope{}, true},
		{"all_plus_list", Scope{All: true, ContainerIDs: []int64{1}}, true},
		{"non_positive_id", ScopeContainers(0), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.scope.Validate()
			if tc.wantErr && !errors.Is(err, ErrInvalidScope) {
				t.Errorf("expected ErrInvalidScope, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPolicyNameIsValid(t *testing.T) {
	valid := []PolicyName{
		PolicyNewOnly, PolicyDueOnly, PolicyHardOnly,
		PolicyAllReview, PolicyMixed, PolicySequential,
	}
	for _, p := range valid {
		if !p.IsValid() {
			t.Errorf("%s should be valid", p)
		}
	}
	if PolicyName("smart").IsValid() {
		t.Error("unknown policy name should be invalid")
	}
}

func TestProcessedSet(t *testing.T) {
	s := &StudySession{ProcessedItemIDs: []int64{5, 9, 5}}
	set := s.ProcessedSet()
	if !set[5] || !set[9] {
		t.Error("expected processed ids in set")
	}
	if set[1] {
		t.Error("unexpected id in set")
	}
}

func TestParametersValidate(t *testing.T) {
	p := DefaultParameters()
	if err := p.Validate(); err != nil {
		t.Fatalf("default parameters must validate: %v", err)
	}

	p.DesiredRetention = 0.5
	if !errors.Is(p.Validate(), ErrInvalidParameters) {
		t.Error("retention below 0.7 must be rejected")
	}

	p = DefaultParameters()
	p.Weights[4] = 99.0
	if !errors.Is(p.Validate(), ErrInvalidParameters) {
		t.Error("out-of-bounds weight must be rejected")
	}
}
