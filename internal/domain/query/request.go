package query

import (
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/stquery/internal/domain"
)

// Status is the lifecycle state of a request.
type Status string

const (
	// StatusPending is set at creation.
	StatusPending Status = "pending"
	// StatusProcessing is set once traversal starts.
	StatusProcessing Status = "processing"
	// StatusCompleted is set on any result, including an empty one.
	StatusCompleted Status = "completed"
	// StatusFailed is set on structural or key errors only.
	StatusFailed Status = "failed"
)

// FailReason classifies why a request failed.
type FailReason string

const (
	FailCancelled      FailReason = "cancelled"
	FailKeyUnavailable FailReason = "key_unavailable"
	FailStructural     FailReason = "structural"
	FailInternal       FailReason = "internal"
)

// FailReasonOf classifies cause. Cancellation wins over the error it wraps.
func FailReasonOf(cause error) FailReason {
	switch {
	case errors.Is(cause, domain.ErrQueryCancelled):
		return FailCancelled
	case errors.Is(cause, domain.ErrKeyUnavailable):
		return FailKeyUnavailable
	case errors.Is(cause, domain.ErrStructural):
		return FailStructural
	default:
		return FailInternal
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Request tracks one logical query. Mutated only by the orchestrator.
type Request struct {
	ID           string
	Keyword      string
	Algorithm    Algorithm
	Regions      []int
	Status       Status
	Trajectories []string
	Error        string
	Reason       FailReason
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewRequest creates a pending request.
func NewRequest(id string, q Query, now time.Time) *Request {
	return &Request{
		ID:        id,
		Keyword:   q.Keyword,
		Algorithm: q.Algorithm,
		Regions:   q.Regions(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Request) moveTo(next Status, now time.Time) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("%s -> %s: %w", r.Status, next, domain.ErrInvalidTransition)
	}
	r.Status = next
	r.UpdatedAt = now
	return nil
}

// Start marks the request as processing.
func (r *Request) Start(now time.Time) error {
	return r.moveTo(StatusProcessing, now)
}

// Complete records the accepted trajectories.
func (r *Request) Complete(trajectories []string, now time.Time) error {
	if err := r.moveTo(StatusCompleted, now); err != nil {
		return err
	}
	r.Trajectories = trajectories
	return nil
}

// Fail records the error and its reason.
func (r *Request) Fail(cause error, now time.Time) error {
	if err := r.moveTo(StatusFailed, now); err != nil {
		return err
	}
	r.Reason = FailReasonOf(cause)
	if cause != nil {
		r.Error = cause.Error()
	}
	return nil
}
