package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/portal-autologin/internal/credentials"
)

func runCredentials(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newCredentialsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCredentialsSetReachesRunningDaemon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	daemon, err := credentials.Open(path, true)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer daemon.Close()
	if daemon.Get().Complete() {
		t.Fatal("Expected no credentials before set")
	}

	if _, err := runCredentials(t, "s3cret\n", "set", "--settings", path, "--username", "alice", "--password-stdin"); err != nil {
		t.Fatalf("set error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && daemon.Get().Username != "alice" {
		time.Sleep(50 * time.Millisecond)
	}
	got := daemon.Get()
	if got.Username != "alice" || got.Password != "s3cret" || !got.AutoSubmit {
		t.Fatalf("Daemon store = %+v after set", got)
	}

	out, err := runCredentials(t, "", "show", "--settings", path)
	if err != nil {
		t.Fatalf("show error = %v", err)
	}
	if !strings.Contains(out, "alice") {
		t.Errorf("show output missing username:\n%s", out)
	}
	if strings.Contains(out, "s3cret") {
		t.Errorf("show output leaks the password:\n%s", out)
	}
}

func TestCredentialsSetKeepsUnchangedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")

	if _, err := runCredentials(t, "", "set", "--settings", path, "--username", "alice", "--password", "x"); err != nil {
		t.Fatalf("first set error = %v", err)
	}
	if _, err := runCredentials(t, "", "set", "--settings", path, "--no-auto-submit"); err != nil {
		t.Fatalf("second set error = %v", err)
	}

	s, err := credentials.Open(path, false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	want := credentials.Credentials{Username: "alice", Password: "x", AutoSubmit: false}
	if got := s.Get(); got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestCredentialsSetRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"no password", "", []string{"set", "--settings", path, "--username", "alice"}},
		{"empty stdin", "", []string{"set", "--settings", path, "--username", "alice", "--password-stdin"}},
		{"both password sources", "y\n", []string{"set", "--settings", path, "--username", "alice", "--password", "x", "--password-stdin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCredentials(t, tt.stdin, tt.args...); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
