package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// TestLoginResponseJSONFieldNames verifies the requestLogin reply uses the wire names clients expect.
func TestLoginResponseJSONFieldNames(t *testing.T) {
	resp := LoginResponse{
		Success:           true,
		Method:            MethodBackgroundTab,
		LoginTabID:        "ABC123",
		Message:           "Login tab opened",
		CooldownRemaining: 3,
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to marshal response: %v", err)
	}
	jsonStr := string(data)

	for _, field := range []string{`"success"`, `"method"`, `"loginTabId"`, `"message"`, `"cooldownRemaining"`} {
		if !strings.Contains(jsonStr, field) {
			t.Errorf("Expected field %s not found in JSON: %s", field, jsonStr)
		}
	}
	for _, field := range []string{`"login_tab_id"`, `"cooldown_remaining"`} {
		if strings.Contains(jsonStr, field) {
			t.Errorf("Unexpected field %s found in JSON: %s", field, jsonStr)
		}
	}
}

func TestLoginResponseOmitsOptionalFields(t *testing.T) {
	data, err := json.Marshal(LoginResponse{Success: false, Message: "No credentials configured"})
	if err != nil {
		t.Fatalf("Failed to marshal response: %v", err)
	}
	jsonStr := string(data)

	for _, field := range []string{`"method"`, `"loginTabId"`, `"cooldownRemaining"`, `"error"`} {
		if strings.Contains(jsonStr, field) {
			t.Errorf("Optional field %s should be omitted: %s", field, jsonStr)
		}
	}
}

func TestStatusResponseJSONFieldNames(t *testing.T) {
	resp := StatusResponse{
		Success:          true,
		LastLoginAttempt: 1700000000000,
		ActiveAttempts:   1,
		IsActive:         true,
		StartTime:        1699999999000,
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to marshal response: %v", err)
	}
	jsonStr := string(data)

	for _, field := range []string{`"success"`, `"lastLoginAttempt"`, `"activeAttempts"`, `"isActive"`, `"startTime"`} {
		if !strings.Contains(jsonStr, field) {
			t.Errorf("Expected field %s not found in JSON: %s", field, jsonStr)
		}
	}
}

func TestRequestDeserialization(t *testing.T) {
	raw := `{"cmd":"requestLogin","currentUrl":"https://example.com/page","priority":"instant"}`

	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("Failed to unmarshal request: %v", err)
	}

	if req.Cmd != CmdRequestLogin {
		t.Errorf("Cmd = %q, want %q", req.Cmd, CmdRequestLogin)
	}
	if req.CurrentURL != "https://example.com/page" {
		t.Errorf("CurrentURL = %q", req.CurrentURL)
	}
	if req.Priority != PriorityInstant {
		t.Errorf("Priority = %q, want %q", req.Priority, PriorityInstant)
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"request login", Request{Cmd: CmdRequestLogin, CurrentURL: "http://example.com"}, false},
		{"request login without url", Request{Cmd: CmdRequestLogin}, false},
		{"status", Request{Cmd: CmdGetStatus}, false},
		{"network error", Request{Cmd: CmdNetworkError, CurrentURL: "https://example.com"}, false},
		{"login success", Request{Cmd: CmdLoginSuccess, TabID: "T1"}, false},
		{"missing cmd", Request{}, true},
		{"unknown cmd", Request{Cmd: "request.get"}, true},
		{"bad scheme", Request{Cmd: CmdRequestLogin, CurrentURL: "file:///etc/passwd"}, true},
		{"long url", Request{Cmd: CmdRequestLogin, CurrentURL: "https://example.com/" + strings.Repeat("a", MaxURLLength)}, true},
		{"long priority", Request{Cmd: CmdRequestLogin, Priority: strings.Repeat("p", MaxPriorityLength+1)}, true},
		{"long tab id", Request{Cmd: CmdLoginSuccess, TabID: TabID(strings.Repeat("t", MaxTabIDLength+1))}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequestValidateLoginSuccessNeedsTab(t *testing.T) {
	req := Request{Cmd: CmdLoginSuccess}
	if err := req.Validate(); !errors.Is(err, ErrTabIDRequired) {
		t.Errorf("Validate() error = %v, want ErrTabIDRequired", err)
	}
}

func TestAttemptStatusPredicates(t *testing.T) {
	tests := []struct {
		status   AttemptStatus
		blocking bool
		terminal bool
	}{
		{AttemptCreated, true, false},
		{AttemptFilling, true, false},
		{AttemptSubmitted, false, false},
		{AttemptFailed, false, false},
		{AttemptSucceeded, false, true},
		{AttemptTimedOut, false, true},
	}

	for _, tt := range tests {
		if got := tt.status.Blocking(); got != tt.blocking {
			t.Errorf("%s.Blocking() = %v, want %v", tt.status, got, tt.blocking)
		}
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestStrategyErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStrategyError("raw_post", "request failed", cause)

	if !errors.Is(err, ErrSubmissionStrategy) {
		t.Error("StrategyError should match ErrSubmissionStrategy")
	}
	if !errors.Is(err, cause) {
		t.Error("StrategyError should match its cause")
	}

	var se *StrategyError
	if !errors.As(error(err), &se) || se.Strategy != "raw_post" {
		t.Errorf("errors.As failed or wrong strategy: %+v", se)
	}
	if !strings.Contains(err.Error(), "raw_post") {
		t.Errorf("Error() = %q, want strategy name", err.Error())
	}
}

func TestTabErrorUnwrap(t *testing.T) {
	openErr := NewTabOpenError(errors.New("browser gone"))
	if !errors.Is(openErr, ErrTabCreation) {
		t.Error("open error should match ErrTabCreation")
	}
	if errors.Is(openErr, ErrTabClose) {
		t.Error("open error should not match ErrTabClose")
	}

	closeErr := NewTabCloseError("T9", nil)
	if !errors.Is(closeErr, ErrTabClose) {
		t.Error("close error should match ErrTabClose")
	}
	if !strings.Contains(closeErr.Error(), "T9") {
		t.Errorf("Error() = %q, want tab id", closeErr.Error())
	}
}
