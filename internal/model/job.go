package model

import (
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"
)

// Job state constants.
const (
	StatePending   = "pending"
	StateProgress  = "progress"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
	StateTimedOut  = "timed_out"
	StateNotFound  = "not_found"
)

// JobSpec bounds and defaults. The defaults fill in tuning fields the
// client omitted; zero is not a usable value for either.
const (
	MaxTextLength     = 100000
	MinGuidanceScale  = 0.1
	MaxGuidanceScale  = 20.0
	MinInferenceSteps = 1
	MaxInferenceSteps = 50

	DefaultGuidanceScale  = 1.5
	DefaultInferenceSteps = 5
)

// ErrInvalidSpec is the base error for all job spec validation failures.
var ErrInvalidSpec = errors.New("invalid job spec")

var (
	modelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9/\-_.]+$`)
	voicePattern     = regexp.MustCompile(`^[a-zA-Z0-9_\-.]+$`)
)

// ValidModelName reports whether a model name matches the allowed character
// set. Names reach filesystem lookups, so anything else is rejected.
func ValidModelName(name string) bool {
	return modelNamePattern.MatchString(name)
}

// validTransitions maps each job state to the set of states it may transition
// to. Terminal states have no successors.
var validTransitions = map[string]map[string]bool{
	StatePending: {
		StateProgress:  true,
		StateCompleted: true,
		StateFailed:    true,
		StateCancelled: true,
		StateTimedOut:  true,
	},
	StateProgress: {
		StateProgress:  true,
		StateCompleted: true,
		StateFailed:    true,
		StateCancelled: true,
		StateTimedOut:  true,
	},
}

// ValidTransition reports whether transitioning from one state to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether a state admits no further transitions.
func IsTerminal(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// JobSpec describes one requested synthesis job as submitted by a client.
type JobSpec struct {
	Text           string  `json:"text"`
	ModelName      string  `json:"model_name"`
	Voice          string  `json:"speaker,omitempty"`
	GuidanceScale  float64 `json:"cfg_scale"`
	InferenceSteps int     `json:"inference_steps"`
}

// Validate fills in defaults for omitted tuning fields, then checks all spec
// fields against their bounds. Every failure wraps ErrInvalidSpec so callers
// can reject the request before allocating a job id.
func (s *JobSpec) Validate() error {
	if s.GuidanceScale == 0 {
		s.GuidanceScale = DefaultGuidanceScale
	}
	if s.InferenceSteps == 0 {
		s.InferenceSteps = DefaultInferenceSteps
	}
	if s.Text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidSpec)
	}
	if utf8.RuneCountInString(s.Text) > MaxTextLength {
		return fmt.Errorf("%w: text exceeds %d characters", ErrInvalidSpec, MaxTextLength)
	}
	if s.ModelName == "" || !modelNamePattern.MatchString(s.ModelName) {
		return fmt.Errorf("%w: malformed model name", ErrInvalidSpec)
	}
	if s.Voice != "" && !voicePattern.MatchString(s.Voice) {
		return fmt.Errorf("%w: malformed voice id", ErrInvalidSpec)
	}
	if s.GuidanceScale < MinGuidanceScale || s.GuidanceScale > MaxGuidanceScale {
		return fmt.Errorf("%w: cfg_scale must be between %g and %g", ErrInvalidSpec, MinGuidanceScale, MaxGuidanceScale)
	}
	if s.InferenceSteps < MinInferenceSteps || s.InferenceSteps > MaxInferenceSteps {
		return fmt.Errorf("%w: inference_steps must be between %d and %d", ErrInvalidSpec, MinInferenceSteps, MaxInferenceSteps)
	}
	return nil
}

// ArtifactRecord is the durable row written exactly once when a job completes
// successfully. Immutable after creation.
type ArtifactRecord struct {
	ID             int64     `json:"id"`
	OwnerID        string    `json:"owner_id"`
	TextInput      string    `json:"text_input"`
	ModelName      string    `json:"model_name"`
	Voice          string    `json:"speaker,omitempty"`
	GuidanceScale  float64   `json:"cfg_scale"`
	InferenceSteps int       `json:"inference_steps"`
	Duration       float64   `json:"duration"`
	StoragePath    string    `json:"file_path"`
	CreatedAt      time.Time `json:"timestamp"`
}

// JobStatus is the latest state-store record for a job. The store keeps only
// the newest message per job, not a log.
type JobStatus struct {
	ID        string          `json:"job_id"`
	State     string          `json:"state"`
	Message   string          `json:"status,omitempty"`
	Result    *ArtifactRecord `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// JobPayload is the message handed from the dispatcher to a worker through
// the queue.
type JobPayload struct {
	ID        string    `json:"job_id"`
	OwnerID   string    `json:"owner_id"`
	Spec      JobSpec   `json:"spec"`
	CreatedAt time.Time `json:"created_at"`
}
