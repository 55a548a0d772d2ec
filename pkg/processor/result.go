package processor

import (
	"context"
	"time"
)

// DefaultRetryDelay is the short delay used for transient failures that carry no better hint.
const DefaultRetryDelay = 5 * time.Second

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomePermanentFailure
	OutcomeTransientFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePermanentFailure:
		return "permanent"
	case OutcomeTransientFailure:
		return "transient"
	}
	return "unknown"
}

// Result is what a handler tells the consumer loop about a message. Success and permanent
// failures are acknowledged; transient failures are requeued after Delay.
type Result struct {
	Outcome Outcome
	Reason  string
	Delay   time.Duration
}

func Success() Result {
	return Result{Outcome: OutcomeSuccess}
}

func Permanent(reason string) Result {
	return Result{Outcome: OutcomePermanentFailure, Reason: reason}
}

// Transient requeues the message after delay. A zero delay requeues immediately.
func Transient(reason string, delay time.Duration) Result {
	if delay < 0 {
		delay = 0
	}
	return Result{Outcome: OutcomeTransientFailure, Reason: reason, Delay: delay}
}

// Requeue reports whether the message must be redelivered.
func (r Result) Requeue() bool {
	return r.Outcome == OutcomeTransientFailure
}

// Handler processes a single message body.
type Handler func(ctx context.Context, body []byte) Result
