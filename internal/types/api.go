package types

import (
	"fmt"
	"net/url"
	"strings"
)

// Request validation limits.
const (
	MaxCmdLength      = 64
	MaxURLLength      = 8192
	MaxPriorityLength = 32
	MaxTabIDLength    = 128
)

// TabID identifies a hidden login tab. For the go-rod backend it is the CDP target ID.
type TabID string

// AttemptStatus is the lifecycle state of a login attempt.
type AttemptStatus string

// Attempt status values.
const (
	AttemptCreated   AttemptStatus = "created"
	AttemptFilling   AttemptStatus = "filling"
	AttemptSubmitted AttemptStatus = "submitted"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptTimedOut  AttemptStatus = "timed_out"
	AttemptFailed    AttemptStatus = "failed"
)

// Blocking reports whether an attempt in this state prevents a new one from starting.
func (s AttemptStatus) Blocking() bool {
	return s == AttemptCreated || s == AttemptFilling
}

// Terminal reports whether the state ends the attempt.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSucceeded || s == AttemptTimedOut
}

// Priority hints carried on login requests. They are accepted and logged but
// do not change scheduling.
const (
	PriorityNormal  = "normal"
	PriorityInstant = "instant"
)

// Commands supported by the control API.
const (
	CmdRequestLogin = "requestLogin"
	CmdLoginSuccess = "loginSuccess"
	CmdGetStatus    = "getStatus"
	CmdNetworkError = "networkError"
)

// Method reported when a login tab is opened.
const MethodBackgroundTab = "background-tab"

// Request represents an incoming control API message.
type Request struct {
	Cmd        string `json:"cmd"`
	CurrentURL string `json:"currentUrl,omitempty"`
	Priority   string `json:"priority,omitempty"`
	TabID      TabID  `json:"tabId,omitempty"`
}

// Validate validates the request and returns an error if invalid.
func (r *Request) Validate() error {
	if r.Cmd == "" {
		return fmt.Errorf("cmd is required")
	}
	if len(r.Cmd) > MaxCmdLength {
		return fmt.Errorf("cmd exceeds maximum length of %d", MaxCmdLength)
	}

	switch r.Cmd {
	case CmdRequestLogin, CmdLoginSuccess, CmdGetStatus, CmdNetworkError:
	default:
		return fmt.Errorf("Unknown command: %q", r.Cmd)
	}

	if r.CurrentURL != "" {
		if len(r.CurrentURL) > MaxURLLength {
			return fmt.Errorf("currentUrl exceeds maximum length of %d", MaxURLLength)
		}
		u, err := url.Parse(r.CurrentURL)
		if err != nil {
			return fmt.Errorf("invalid currentUrl: %w", err)
		}
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			return fmt.Errorf("currentUrl scheme must be http or https, got: %s", scheme)
		}
	}

	if len(r.Priority) > MaxPriorityLength {
		return fmt.Errorf("priority exceeds maximum length of %d", MaxPriorityLength)
	}

	if r.Cmd == CmdLoginSuccess && r.TabID == "" {
		return ErrTabIDRequired
	}
	if len(r.TabID) > MaxTabIDLength {
		return fmt.Errorf("tabId exceeds maximum length of %d", MaxTabIDLength)
	}

	return nil
}

// LoginRequest asks the coordinator to start a login attempt.
type LoginRequest struct {
	CurrentURL string
	Priority   string
}

// LoginResponse is the reply to requestLogin.
type LoginResponse struct {
	Success           bool   `json:"success"`
	Method            string `json:"method,omitempty"`
	LoginTabID        TabID  `json:"loginTabId,omitempty"`
	Message           string `json:"message"`
	CooldownRemaining int    `json:"cooldownRemaining,omitempty"`
	Error             string `json:"error,omitempty"`
}

// AckResponse is the reply to loginSuccess and networkError.
type AckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AttemptInfo is a read-only view of a tracked login attempt.
type AttemptInfo struct {
	ID        string        `json:"id"`
	TabID     TabID         `json:"tabId"`
	OriginURL string        `json:"originUrl,omitempty"`
	Status    AttemptStatus `json:"status"`
	Priority  string        `json:"priority"`
	CreatedAt int64         `json:"createdAt"`
}

// StatusResponse is the reply to getStatus.
type StatusResponse struct {
	Success          bool          `json:"success"`
	LastLoginAttempt int64         `json:"lastLoginAttempt"`
	ActiveAttempts   int           `json:"activeAttempts"`
	IsActive         bool          `json:"isActive"`
	Method           string        `json:"method,omitempty"`
	StartTime        int64         `json:"startTime"`
	Version          string        `json:"version,omitempty"`
	Attempts         []AttemptInfo `json:"attempts,omitempty"`
}

// ErrorResponse is written for malformed or unknown control API messages.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Health status values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthResponse is the reply to GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Browser bool   `json:"browser"`
}
