package domain

import (
	"errors"
	"fmt"
)

// Outcome is the immutable result of a single step: either a success carrying an
// optional value, or a failure carrying a message and an optional cause.
type Outcome struct {
	ok      bool
	value   any
	message string
	cause   error
}

// Success creates a successful outcome. value may be nil, meaning the step
// succeeded without producing data.
func Success(value any) Outcome {
	return Outcome{ok: true, value: value}
}

// Failure creates a failed outcome.
func Failure(message string, cause error) Outcome {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return Outcome{message: message, cause: cause}
}

// Fail creates a failed outcome whose message is taken from err.
func Fail(err error) Outcome {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return Outcome{message: err.Error(), cause: err}
}

// Succeeded reports whether the outcome is a success.
func (o Outcome) Succeeded() bool { return o.ok }

// Value returns the produced value, nil for failures and value-less successes.
func (o Outcome) Value() any { return o.value }

// HasValue reports whether the outcome is a success carrying a non-nil value.
func (o Outcome) HasValue() bool { return o.ok && o.value != nil }

// Message returns the failure message.
func (o Outcome) Message() string { return o.message }

// Cause returns the failure cause, if any.
func (o Outcome) Cause() error { return o.cause }

// Err returns nil for successes and an error describing the failure otherwise.
// The cause, when present, is wrapped.
func (o Outcome) Err() error {
	if o.ok {
		return nil
	}
	if o.cause == nil {
		return errors.New(o.message)
	}
	if o.message == o.cause.Error() {
		return o.cause
	}
	return fmt.Errorf("%s: %w", o.message, o.cause)
}

func (o Outcome) String() string {
	if o.ok {
		if o.value == nil {
			return "success"
		}
		return fmt.Sprintf("success(%T: %v)", o.value, o.value)
	}
	if o.cause != nil && o.cause.Error() != o.message {
		return fmt.Sprintf("failure(%s: %v)", o.message, o.cause)
	}
	return fmt.Sprintf("failure(%s)", o.message)
}

// ValueAs returns the outcome's value converted to T.
func ValueAs[T any](o Outcome) (T, bool) {
	v, ok := o.value.(T)
	return v, ok && o.ok
}
