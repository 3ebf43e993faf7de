package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType classifies failures raised while scraping a keyword
type ErrorType string

const (
	ErrorTypeConfig        ErrorType = "config"
	ErrorTypeNoIdentity    ErrorType = "no_identity"
	ErrorTypeAuth          ErrorType = "auth"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeExtraction    ErrorType = "extraction"
	ErrorTypeFragmentParse ErrorType = "fragment_parse"
	ErrorTypeUnknown       ErrorType = "unknown"
)

// ErrNoIdentityAvailable is returned when every identity is cooling down or disabled
var ErrNoIdentityAvailable = &Error{Type: ErrorTypeNoIdentity, Message: "no identity available"}

// Error is a classified failure with an optional cause
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same type, so errors.Is(err, ErrNoIdentityAvailable) works
// for wrapped copies too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// New creates a classified error
func New(errorType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errorType, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. An error that is already classified keeps its type.
func Wrap(errorType ErrorType, err error, message string) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Type: errorType, Message: message, Err: err}
}

// Config, Auth, Network, Extraction and FragmentParse are shorthands for New.
func Config(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, format, args...)
}

func Auth(format string, args ...interface{}) *Error {
	return New(ErrorTypeAuth, format, args...)
}

func Network(format string, args ...interface{}) *Error {
	return New(ErrorTypeNetwork, format, args...)
}

func Extraction(format string, args ...interface{}) *Error {
	return New(ErrorTypeExtraction, format, args...)
}

func FragmentParse(format string, args ...interface{}) *Error {
	return New(ErrorTypeFragmentParse, format, args...)
}

// TypeOf returns the classification of err, or ErrorTypeUnknown.
// Deadline expiry is reported as a network failure.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeNetwork
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given classification
func Is(err error, errorType ErrorType) bool {
	return err != nil && TypeOf(err) == errorType
}

// CountsAgainstBudget reports whether a failure of this type consumes a keyword's failure budget
func CountsAgainstBudget(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeAuth, ErrorTypeNetwork, ErrorTypeExtraction, ErrorTypeUnknown:
		return true
	default:
		return false
	}
}

// PenalizesIdentity reports whether the identity used should be put into cooldown
func PenalizesIdentity(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeAuth, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// PenalizesProxy reports whether the proxy used should be marked dead
func PenalizesProxy(errorType ErrorType) bool {
	return errorType == ErrorTypeNetwork
}
