// Package types provides shared types, interfaces, and errors for the application.
package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Coordinator errors
	ErrNoCredentials     = errors.New("no credentials configured")
	ErrCooldownActive    = errors.New("login cooldown active")
	ErrLoginInProgress   = errors.New("a login attempt is already in progress")
	ErrCoordinatorClosed = errors.New("coordinator is closed")

	// Tab errors
	ErrTabCreation = errors.New("failed to create login tab")
	ErrTabClose    = errors.New("failed to close login tab")
	ErrTabNotFound = errors.New("login tab not found")

	// Probe errors
	ErrProbeTimeout  = errors.New("connectivity probe timed out")
	ErrProbeRedirect = errors.New("connectivity probe was redirected")

	// Submission errors
	ErrSubmissionStrategy = errors.New("submission strategy failed")
	ErrNoSubmitControl    = errors.New("no submit control found")
	ErrNoForm             = errors.New("no login form found")
	ErrNoFields           = errors.New("no credential fields found")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrTabIDRequired  = errors.New("tabId is required")

	// Context errors
	ErrContextCanceled = errors.New("operation canceled")
)

// StrategyError describes a failed submission strategy.
// It is never fatal; the automator logs it and keeps polling for success.
type StrategyError struct {
	Strategy string // Strategy name: "click", "form", "raw_post", "enter"
	Message  string // Human-readable error message
	Err      error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *StrategyError) Error() string {
	if e.Err != nil {
		return e.Strategy + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Strategy + ": " + e.Message
}

// Unwrap returns the underlying errors so that both ErrSubmissionStrategy and
// the cause match with errors.Is.
func (e *StrategyError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSubmissionStrategy}
	}
	return []error{ErrSubmissionStrategy, e.Err}
}

// NewStrategyError creates an error for a failed submission strategy.
func NewStrategyError(strategy, message string, err error) *StrategyError {
	return &StrategyError{
		Strategy: strategy,
		Message:  message,
		Err:      err,
	}
}

// TabError provides detailed information about hidden tab failures.
type TabError struct {
	Operation string // "open" or "close"
	TabID     TabID
	Err       error
}

// Error implements the error interface.
func (e *TabError) Error() string {
	msg := "tab " + e.Operation + " failed"
	if e.TabID != "" {
		msg += " (" + string(e.TabID) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the sentinel for the operation plus the cause.
func (e *TabError) Unwrap() []error {
	sentinel := ErrTabClose
	if e.Operation == "open" {
		sentinel = ErrTabCreation
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// NewTabOpenError creates an error for a failed tab creation.
func NewTabOpenError(err error) *TabError {
	return &TabError{Operation: "open", Err: err}
}

// NewTabCloseError creates an error for a failed tab close.
func NewTabCloseError(id TabID, err error) *TabError {
	return &TabError{Operation: "close", TabID: id, Err: err}
}
