package deploylock

import (
	"encoding/json"
	"errors"
)

// Error is a failure of kind Err caused by Reason
type Error struct {
	Err    error `json:"error,omitempty"`
	Reason error `json:"reason,omitempty"`
}

// wireError is the JSON form of an Error
type wireError struct {
	Err    string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (e *Error) Error() string {
	if e.Reason == nil {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Reason.Error()
}

// Is matches the target against the kind, the reason and the errors they wrap.
// Matching is by message, as errors decoded from JSON are new values.
func (e *Error) Is(target error) bool {
	for ; target != nil; target = errors.Unwrap(target) {
		msg := target.Error()
		for _, candidate := range []error{e.Err, e.Reason, errors.Unwrap(e.Err), errors.Unwrap(e.Reason)} {
			if candidate != nil && candidate.Error() == msg {
				return true
			}
		}
	}
	return false
}

func (e *Error) Unwrap() error {
	return e.Reason
}

// MarshalJSON writes the kind and the reason as messages
func (e *Error) MarshalJSON() ([]byte, error) {
	wire := wireError{Err: e.Err.Error()}
	if e.Reason != nil {
		wire.Reason = e.Reason.Error()
	}
	return json.Marshal(wire)
}

// UnmarshalJSON restores an Error from its messages
func (e *Error) UnmarshalJSON(data []byte) error {
	wire := wireError{}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	e.Err = errors.New(wire.Err)
	e.Reason = nil
	if wire.Reason != "" {
		e.Reason = errors.New(wire.Reason)
	}
	return nil
}

// NewError returns an Error of kind err. Each reason is the cause of the one before it.
func NewError(err error, reasons ...error) *Error {
	var reason error
	if len(reasons) > 0 {
		reason = NewError(reasons[0], reasons[1:]...)
	}
	return &Error{Err: err, Reason: reason}
}

// NewWrappedError returns an Error of kind err caused by reason
func NewWrappedError(err error, reason error) *Error {
	return &Error{Err: err, Reason: reason}
}
