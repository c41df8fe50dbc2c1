// Package backend is the client for the attendance backend's REST contract.
// The backend owns attendance records; this package only creates or
// transitions them and appends photo paths, never touching other fields.
package backend

import (
	"fmt"

	"github.com/c360studio/fieldcheck/location"
)

// Kind is the attendance transition a submission performs.
type Kind string

// Event kinds.
const (
	CheckIn  Kind = "check-in"
	CheckOut Kind = "check-out"
)

// Outcome grades how a field day went. Purely descriptive.
type Outcome string

// Work outcomes. OutcomeUnset means the user skipped the question.
const (
	OutcomeUnset            Outcome = ""
	OutcomeProductive       Outcome = "productive"
	OutcomeChallenging      Outcome = "challenging"
	OutcomeNormal           Outcome = "normal"
	OutcomeExceptional      Outcome = "exceptional"
	OutcomeNeedsImprovement Outcome = "needs_improvement"
)

// WorkSummary describes a field day on check-out. It never blocks submission;
// validation only normalizes, it does not reject.
type WorkSummary struct {
	VisitCount      uint32  `json:"visitCount"`
	TasksCompleted  uint32  `json:"tasksCompleted"`
	Outcome         Outcome `json:"outcome,omitempty"`
	WorkDescription string  `json:"workDescription,omitempty"`
	NextAction      string  `json:"nextAction,omitempty"`
}

// Event is the payload submitted to the backend for a check-in or check-out.
// It is built once per submit and never retried automatically.
type Event struct {
	Kind     Kind         `json:"kind"`
	UserID   string       `json:"userId"`
	Location location.Fix `json:"location"`
	Address  string       `json:"address,omitempty"`
	Summary  *WorkSummary `json:"summary,omitempty"`
}

// Validate checks the event's hard preconditions.
func (e *Event) Validate() error {
	if e.Kind != CheckIn && e.Kind != CheckOut {
		return fmt.Errorf("invalid event kind %q", e.Kind)
	}
	if e.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if e.Location.AccuracyMeters < 0 {
		return fmt.Errorf("location accuracy must be non-negative")
	}
	return nil
}
