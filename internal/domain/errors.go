package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass decides how a message whose handling failed is settled.
type ErrorClass int

const (
	// ClassUnknown errors are treated as transient.
	ClassUnknown ErrorClass = iota
	// ClassValidation: malformed or incomplete input, never retried.
	ClassValidation
	// ClassNotFound: target entry absent, handled as a no-op success.
	ClassNotFound
	// ClassTransient: I/O failure, retried by redelivery.
	ClassTransient
	// ClassTimeout: a bounded wait expired, terminal.
	ClassTimeout
	// ClassTerminal: the request cannot succeed, terminal.
	ClassTerminal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassNotFound:
		return "not_found"
	case ClassTransient:
		return "transient"
	case ClassTimeout:
		return "timeout"
	case ClassTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// ClassifiedError attaches an ErrorClass and the failing operation to an error.
type ClassifiedError struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

func classify(class ErrorClass, op string, err error) error {
	if err == nil {
		err = errors.New(class.String())
	}
	return &ClassifiedError{Class: class, Op: op, Err: err}
}

func Validation(op string, err error) error { return classify(ClassValidation, op, err) }
func NotFound(op string, err error) error   { return classify(ClassNotFound, op, err) }
func Transient(op string, err error) error  { return classify(ClassTransient, op, err) }
func Timeout(op string, err error) error    { return classify(ClassTimeout, op, err) }
func Terminal(op string, err error) error   { return classify(ClassTerminal, op, err) }

// ClassOf returns the class of the outermost ClassifiedError in err's chain.
// Context cancellation is transient so the message is redelivered after shutdown.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.Canceled) {
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ClassUnknown
}

// Retryable reports whether a failed message should be requeued.
func Retryable(err error) bool {
	switch ClassOf(err) {
	case ClassTransient, ClassUnknown:
		return true
	default:
		return false
	}
}
