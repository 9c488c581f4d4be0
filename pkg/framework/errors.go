package framework

import (
	"errors"
	"strings"
)

var (
	// ErrNotConfigured indicates no divider is configured.
	ErrNotConfigured = errors.New("rate group driver not configured")
	// ErrNotStarted indicates Tick is called before Start.
	ErrNotStarted = errors.New("rate group driver not started")
	// ErrAlreadyStarted indicates configuration after Start.
	ErrAlreadyStarted = errors.New("rate group driver already started")
	// ErrInvalidDivider indicates a divisor of zero or offset >= divisor.
	ErrInvalidDivider = errors.New("invalid divider")
	// ErrNoSuchDivider indicates Connect to a divider index not configured.
	ErrNoSuchDivider = errors.New("no such divider")
)

// AggregatedError aggregates multiple errors.
type AggregatedError struct {
	Errors []error
}

// Error implements error
func (e *AggregatedError) Error() string {
	if len(e.Errors) == 0 {
		return ""
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := make([]string, len(e.Errors)+1)
	msg[0] = "Multiple errors:"
	for n, err := range e.Errors {
		msg[n+1] = err.Error()
	}
	return strings.Join(msg, "\n")
}

// Unwrap supports errors.Is and errors.As.
func (e *AggregatedError) Unwrap() []error {
	return e.Errors
}

// Add adds errors to be aggregated. nil will be skipped.
func (e *AggregatedError) Add(errs ...error) *AggregatedError {
	for _, err := range errs {
		if err != nil {
			e.Errors = append(e.Errors, err)
		}
	}
	return e
}

// Aggregate returns aggregated error if any error happened.
func (e *AggregatedError) Aggregate() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}
