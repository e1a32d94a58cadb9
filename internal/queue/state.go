package queue

import (
	"time"

	"notification-pipeline/internal/models"
)

type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeRetryableFailure
	OutcomePermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeRetryableFailure:
		return "retryable_failure"
	default:
		return "permanent_failure"
	}
}

// Policy holds the retry schedule. Backoff[k-1] is the delay applied after
// the k-th failed attempt; attempts past the end reuse the last entry.
type Policy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute},
	}
}

func NewPolicy(maxAttempts int, backoffMinutes []int) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if len(backoffMinutes) > 0 {
		p.Backoff = make([]time.Duration, len(backoffMinutes))
		for i, m := range backoffMinutes {
			p.Backoff[i] = time.Duration(m) * time.Minute
		}
	}
	return p
}

func (p Policy) BackoffFor(attempts int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}

// State is the mutable part of a NotificationRequest the state machine owns.
type State struct {
	Status       models.Status
	Attempts     int
	ScheduledFor time.Time
}

// NextState applies a delivery outcome to a claimed request.
// A successful send does not count as an attempt.
func (p Policy) NextState(cur State, outcome Outcome, now time.Time) State {
	switch outcome {
	case OutcomeSent:
		return State{Status: models.StatusSent, Attempts: cur.Attempts, ScheduledFor: cur.ScheduledFor}
	case OutcomePermanentFailure:
		return State{Status: models.StatusFailed, Attempts: cur.Attempts + 1, ScheduledFor: cur.ScheduledFor}
	}

	attempts := cur.Attempts + 1
	if attempts >= p.MaxAttempts {
		return State{Status: models.StatusFailed, Attempts: attempts, ScheduledFor: cur.ScheduledFor}
	}
	return State{
		Status:       models.StatusPending,
		Attempts:     attempts,
		ScheduledFor: now.Add(p.BackoffFor(attempts)),
	}
}
