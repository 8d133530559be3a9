package assets

import (
	"strings"
	"testing"
)

func TestSanitizeVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.2.3", "1.2.3"},
		{"v1.0.0-rc1+build", "v1.0.0-rc1+build"},
		{"1.0 (dirty)", "1.0dirty"},
		{"<script>alert(1)</script>", "ltscriptgtalert1ltscriptgt"},
		{"", "unknown"},
		{"<>", "ltgt"},
	}
	for _, tt := range tests {
		if got := SanitizeVersion(tt.in); got != tt.want {
			t.Errorf("SanitizeVersion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderStatusPage(t *testing.T) {
	page, err := RenderStatusPage(StatusPageData{
		Version:        "1.0.0",
		GoVersion:      "go1.24",
		Uptime:         "2 minutes",
		BrowserHealthy: true,
		LastLogin:      "never",
		Cooldown:       "ready",
		Monitors: []MonitorRow{
			{Scheme: "http", Online: false, ConsecutiveFailures: 3, LoginInProgress: true, LastCheck: "1 second"},
		},
		Attempts: []AttemptRow{
			{ID: "a1", TabID: "<b>tab</b>", Status: "filling", Age: "2 seconds"},
		},
	})
	if err != nil {
		t.Fatalf("RenderStatusPage() error = %v", err)
	}

	html := string(page)
	for _, want := range []string{"1.0.0", "offline", "in progress", "filling", "&lt;b&gt;tab&lt;/b&gt;"} {
		if !strings.Contains(html, want) {
			t.Errorf("status page missing %q", want)
		}
	}
	if strings.Contains(html, "<b>tab</b>") {
		t.Error("tab ID was not escaped")
	}
}

func TestRenderStatusPageNoAttempts(t *testing.T) {
	page, err := RenderStatusPage(StatusPageData{Version: "dev"})
	if err != nil {
		t.Fatalf("RenderStatusPage() error = %v", err)
	}
	if !strings.Contains(string(page), "No active attempts.") {
		t.Error("Expected empty attempts message")
	}
}
