package model

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func validSpec() JobSpec {
	return JobSpec{
		Text:           "hello",
		ModelName:      "demo/model",
		GuidanceScale:  1.5,
		InferenceSteps: 5,
	}
}

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestSpecValidateAccepts(t *testing.T) {
	s := validSpec()
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	s.Voice = "en-Alice_woman"
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() with voice = %v, want nil", err)
	}
}

func TestSpecValidateAppliesDefaults(t *testing.T) {
	s := JobSpec{Text: "hello", ModelName: "demo/model"}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if s.GuidanceScale != DefaultGuidanceScale {
		t.Errorf("GuidanceScale = %g, want default %g", s.GuidanceScale, DefaultGuidanceScale)
	}
	if s.InferenceSteps != DefaultInferenceSteps {
		t.Errorf("InferenceSteps = %d, want default %d", s.InferenceSteps, DefaultInferenceSteps)
	}
}

func TestSpecValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*JobSpec)
	}{
		{"empty text", func(s *JobSpec) { s.Text = "" }},
		{"oversized text", func(s *JobSpec) { s.Text = strings.Repeat("a", MaxTextLength+1) }},
		{"empty model", func(s *JobSpec) { s.ModelName = "" }},
		{"model with spaces", func(s *JobSpec) { s.ModelName = "demo model" }},
		{"voice with slash", func(s *JobSpec) { s.Voice = "../../etc/passwd" }},
		{"cfg_scale too low", func(s *JobSpec) { s.GuidanceScale = 0.01 }},
		{"cfg_scale too high", func(s *JobSpec) { s.GuidanceScale = 25 }},
		{"negative steps", func(s *JobSpec) { s.InferenceSteps = -1 }},
		{"too many steps", func(s *JobSpec) { s.InferenceSteps = 51 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSpec()
			tt.mutate(&s)
			err := s.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !errors.Is(err, ErrInvalidSpec) {
				t.Errorf("Validate() = %v, want ErrInvalidSpec", err)
			}
		})
	}
}

func TestValidTransitions(t *testing.T) {
	allowed := []struct{ from, to string }{
		{StatePending, StateProgress},
		{StateProgress, StateProgress},
		{StateProgress, StateCompleted},
		{StateProgress, StateFailed},
		{StateProgress, StateCancelled},
		{StateProgress, StateTimedOut},
		{StatePending, StateCancelled},
	}
	for _, tr := range allowed {
		if !ValidTransition(tr.from, tr.to) {
			t.Errorf("ValidTransition(%q, %q) = false, want true", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to string }{
		{StateCompleted, StateProgress},
		{StateFailed, StateCompleted},
		{StateCancelled, StateProgress},
		{StateTimedOut, StateFailed},
		{StateProgress, StatePending},
	}
	for _, tr := range denied {
		if ValidTransition(tr.from, tr.to) {
			t.Errorf("ValidTransition(%q, %q) = true, want false", tr.from, tr.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, state := range []string{StateCompleted, StateFailed, StateCancelled, StateTimedOut} {
		if !IsTerminal(state) {
			t.Errorf("IsTerminal(%q) = false, want true", state)
		}
	}
	for _, state := range []string{StatePending, StateProgress, StateNotFound} {
		if IsTerminal(state) {
			t.Errorf("IsTerminal(%q) = true, want false", state)
		}
	}
}
