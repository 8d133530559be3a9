package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestOpenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, "username: alice\npassword: x\nautoSubmit: false\n")

	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	got := s.Get()
	if got.Username != "alice" || got.Password != "x" {
		t.Errorf("Get() = %+v, want alice/x", got)
	}
	if got.AutoSubmit {
		t.Error("Expected AutoSubmit false")
	}
	if !got.Complete() {
		t.Error("Expected credentials to be complete")
	}
}

func TestOpenTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	writeFile(t, path, "username = \"bob\"\npassword = \"secret\"\n")

	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	got := s.Get()
	if got.Username != "bob" || got.Password != "secret" {
		t.Errorf("Get() = %+v, want bob/secret", got)
	}
	if !got.AutoSubmit {
		t.Error("Expected AutoSubmit to default to true")
	}
}

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "absent.yaml"), false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	got := s.Get()
	if got.Complete() {
		t.Errorf("Expected empty credentials, got %+v", got)
	}
	if !got.AutoSubmit {
		t.Error("Expected AutoSubmit to default to true")
	}
}

func TestOpenInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, "username: [unterminated\n")

	if _, err := Open(path, false); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestCompleteRequiresBoth(t *testing.T) {
	tests := []struct {
		c    Credentials
		want bool
	}{
		{Credentials{Username: "alice", Password: "x"}, true},
		{Credentials{Username: "alice"}, false},
		{Credentials{Password: "x"}, false},
		{Credentials{}, false},
	}
	for _, tt := range tests {
		if got := tt.c.Complete(); got != tt.want {
			t.Errorf("%+v.Complete() = %v, want %v", tt.c, got, tt.want)
		}
	}
}

func TestSaveRoundTripAndMode(t *testing.T) {
	for _, name := range []string{"settings.yaml", "settings.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			s, err := Open(path, false)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer s.Close()

			want := Credentials{Username: "alice", Password: "x", AutoSubmit: false}
			if err := s.Save(want); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if got := s.Get(); got != want {
				t.Errorf("Get() after Save = %+v, want %+v", got, want)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("stat: %v", err)
			}
			if perm := info.Mode().Perm(); perm != 0o600 {
				t.Errorf("file mode = %o, want 600", perm)
			}

			reopened, err := Open(path, false)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer reopened.Close()
			if got := reopened.Get(); got != want {
				t.Errorf("reopened Get() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, "username: alice\npassword: x\n")

	s, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	writeFile(t, path, "username: carol\npassword: y\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Get().Username == "carol" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("Expected hot-reload to pick up new username, got %q", s.Get().Username)
}

func TestSaveIsHotReloadedByWatchingStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	watching, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer watching.Close()

	writer, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer writer.Close()

	want := Credentials{Username: "dave", Password: "z", AutoSubmit: false}
	if err := writer.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if watching.Get() == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("Watching store Get() = %+v, want %+v", watching.Get(), want)
}

func TestNewStatic(t *testing.T) {
	s := NewStatic(Credentials{Username: "alice", Password: "x", AutoSubmit: true})
	if got := s.Get(); got.Username != "alice" {
		t.Errorf("Get() = %+v", got)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
