package turn

import (
	"context"
	"errors"
)

// User-visible failure messages.
const (
	MsgRequestFailed          = "Something went wrong. Please try again later."
	MsgNoDataFound            = "No emails found"
	MsgIntegrationUnavailable = "Failed to access Gmail - please reconnect"
)

var (
	// ErrNoDataFound is returned when a mailbox question finds no emails.
	ErrNoDataFound = errors.New("no emails found")
	// ErrIntegrationUnavailable is returned when the mailbox cannot be read.
	ErrIntegrationUnavailable = errors.New("mailbox integration unavailable")
	// ErrNothingToRewrite is returned when the last turn has no answer yet.
	ErrNothingToRewrite = errors.New("nothing to rewrite")
)

// Outcome is the terminal tag of an operation.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// ErrorKind classifies a failed operation.
type ErrorKind string

const (
	KindRequestFailed          ErrorKind = "request_failed"
	KindNoDataFound            ErrorKind = "no_data_found"
	KindIntegrationUnavailable ErrorKind = "integration_unavailable"
)

// Error is a caller-visible failure.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the tagged outcome of Answer or Rewrite. Retry is non-nil only
// for KindRequestFailed and re-invokes the same operation with the same
// arguments.
type Result struct {
	Outcome   Outcome                           `json:"outcome"`
	TurnIndex int                               `json:"turn_index"`
	Answer    string                            `json:"answer"`
	Err       *Error                            `json:"error,omitempty"`
	Retry     func(ctx context.Context) Result `json:"-"`
}

// Cause returns the failure as an error value, ErrNothingToRewrite for a
// skipped rewrite, and nil otherwise.
func (r Result) Cause() error {
	switch {
	case r.Err != nil:
		return r.Err
	case r.Outcome == OutcomeSkipped:
		return ErrNothingToRewrite
	default:
		return nil
	}
}

func failed(idx int, kind ErrorKind, cause error) Result {
	msg := MsgRequestFailed
	switch kind {
	case KindNoDataFound:
		msg = MsgNoDataFound
	case KindIntegrationUnavailable:
		msg = MsgIntegrationUnavailable
	}
	return Result{
		Outcome:   OutcomeFailed,
		TurnIndex: idx,
		Err:       &Error{Kind: kind, Message: msg, Err: cause},
	}
}
