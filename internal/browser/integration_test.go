//go:build integration

// Run with: go test -tags=integration ./internal/browser/...
package browser

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Rorqualx/portal-autologin/internal/automator"
	"github.com/Rorqualx/portal-autologin/internal/client"
	"github.com/Rorqualx/portal-autologin/internal/coordinator"
	"github.com/Rorqualx/portal-autologin/internal/credentials"
	"github.com/Rorqualx/portal-autologin/internal/handlers"
	"github.com/Rorqualx/portal-autologin/internal/selectors"
)

// TestBackgroundLoginEndToEnd drives a real hidden tab through the control API:
// requestLogin opens the portal, the automator fills and submits it, and the
// attempt is cleared once the portal lets the client through.
func TestBackgroundLoginEndToEnd(t *testing.T) {
	b := launchTestBrowser(t)

	var mu sync.Mutex
	var gotUser, gotPass string
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login.xml":
			_ = r.ParseForm()
			mu.Lock()
			if gotUser == "" {
				gotUser, gotPass = r.PostForm.Get("username"), r.PostForm.Get("password")
			}
			mu.Unlock()
			http.Redirect(w, r, "/granted", http.StatusSeeOther)
		case "/granted":
			_, _ = io.WriteString(w, "<html><body>You are logged in.</body></html>")
		default:
			_, _ = io.WriteString(w, testLoginPage)
		}
	}))
	defer portal.Close()

	creds := credentials.NewStatic(credentials.Credentials{Username: "alice", Password: "x", AutoSubmit: true})
	sels, err := selectors.NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer sels.Close()

	coord := coordinator.New(b, creds, coordinator.Options{
		PortalURL:      portal.URL + "/",
		Cooldown:       5 * time.Second,
		AttemptTimeout: 30 * time.Second,
	})
	b.OnTabRemoved(coord.TabRemoved)
	auto := automator.New(b, creds, sels, coord, automator.Options{
		PortalURL:     portal.URL + "/",
		PollInterval:  200 * time.Millisecond,
		PollMax:       10 * time.Second,
		CloseTabDelay: 100 * time.Millisecond,
	})
	coord.SetRunner(auto)

	api := httptest.NewServer(handlers.New(coord, nil, b, handlers.Options{Cooldown: 5 * time.Second}))
	defer api.Close()
	c := client.New(api.URL, "", 30*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	resp, err := c.RequestLogin(ctx, "https://example.com/", "instant")
	if err != nil || !resp.Success {
		t.Fatalf("RequestLogin() = %+v, %v", resp, err)
	}

	for {
		st, err := c.Status(ctx)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if st.ActiveAttempts == 0 {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("Attempt never finished: %+v", st)
		case <-time.After(200 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if gotUser != "alice" || gotPass != "x" {
		t.Errorf("Portal received %q/%q", gotUser, gotPass)
	}

	if err := coord.Close(ctx); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	auto.Wait()
}
