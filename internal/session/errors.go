package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotRunning    = errors.New("session is not running")
	ErrUnknownOption = errors.New("option not offered by the current question")
	ErrSessionClosed = errors.New("session closed")
	ErrNotFound      = errors.New("session not found")
	ErrForbidden     = errors.New("session belongs to another user")
	ErrNoQuestions   = errors.New("test has no questions")
)

// LoadError means the test or its saved progress could not be fetched.
// The client is expected to notify the student and go back to the dashboard.
type LoadError struct {
	TestInstanceID string
	Err            error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load test %s: %v", e.TestInstanceID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
