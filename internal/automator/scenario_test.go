package automator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Rorqualx/portal-autologin/internal/coordinator"
	"github.com/Rorqualx/portal-autologin/internal/credentials"
	"github.com/Rorqualx/portal-autologin/internal/monitor"
	"github.com/Rorqualx/portal-autologin/internal/probe"
	"github.com/Rorqualx/portal-autologin/internal/types"
)

// scenarioTabs opens fake login pages and serves them to the automator.
type scenarioTabs struct {
	mu     sync.Mutex
	html   string
	next   int
	pages  map[types.TabID]*fakePage
	closed map[types.TabID]int
}

func (s *scenarioTabs) Open(_ context.Context, url string) (types.TabID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := types.TabID(fmt.Sprintf("tab-%d", s.next))
	s.pages[id] = newFakePage(url, s.html)
	return id, nil
}

func (s *scenarioTabs) Close(_ context.Context, id types.TabID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed[id]++
	return nil
}

func (s *scenarioTabs) Page(id types.TabID) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		return nil, types.ErrTabNotFound
	}
	return p, nil
}

func (s *scenarioTabs) counts() (opened int, closed map[types.TabID]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	closed = make(map[types.TabID]int, len(s.closed))
	for k, v := range s.closed {
		closed[k] = v
	}
	return len(s.pages), closed
}

type downProber struct {
	mu    sync.Mutex
	calls int
}

func (p *downProber) Probe(context.Context) probe.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return probe.Result{Up: false}
}

// Connectivity is lost, the monitor asks for a login, the coordinator opens
// a tab, the automator posts alice's credentials, the portal redirects and
// the attempt is closed and cleared.
func TestAliceScenario(t *testing.T) {
	var mu sync.Mutex
	var posted map[string]string
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login.xml":
			_ = r.ParseForm()
			mu.Lock()
			posted = map[string]string{"username": r.PostForm.Get("username"), "password": r.PostForm.Get("password")}
			mu.Unlock()
			http.Redirect(w, r, "/granted", http.StatusSeeOther)
		case "/granted":
			_, _ = io.WriteString(w, landingPage)
		default:
			http.NotFound(w, r)
		}
	}))
	defer portal.Close()

	tabs := &scenarioTabs{
		html:   loginPage("/login.xml"),
		pages:  make(map[types.TabID]*fakePage),
		closed: make(map[types.TabID]int),
	}
	creds := credentials.NewStatic(alice)

	coord := coordinator.New(tabs, creds, coordinator.Options{
		PortalURL:      portal.URL + "/",
		Cooldown:       5 * time.Second,
		AttemptTimeout: 10 * time.Second,
	})
	opts := testOptions()
	opts.PortalURL = portal.URL + "/"
	auto := New(tabs, creds, staticSelectors{}, coord, opts)
	coord.SetRunner(auto)

	mon := monitor.New(monitor.Options{
		Scheme:     "http",
		Prober:     &downProber{},
		Requester:  coord,
		Interval:   10 * time.Millisecond,
		ResetDelay: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	monDone := make(chan error, 1)
	go func() { monDone <- mon.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, closed := tabs.counts(); closed["tab-1"] > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-monDone
	auto.Wait()

	opened, closed := tabs.counts()
	if opened != 1 {
		t.Fatalf("Expected exactly one login tab, got %d", opened)
	}
	if closed["tab-1"] != 1 {
		t.Fatalf("Expected login tab closed once, got %d", closed["tab-1"])
	}

	mu.Lock()
	got := posted
	mu.Unlock()
	if got["username"] != "alice" || got["password"] != "x" {
		t.Errorf("Portal received %v", got)
	}

	st := coord.Status()
	if st.ActiveAttempts != 0 {
		t.Errorf("ActiveAttempts = %d, want 0", st.ActiveAttempts)
	}
	if st.LastLoginAttempt == 0 {
		t.Error("Expected cooldown timestamp to be set")
	}

	page, _ := tabs.Page("tab-1")
	if nav := page.(*fakePage).snapshot().navigated; len(nav) != 1 || nav[0] != portal.URL+"/granted" {
		t.Errorf("Navigated = %v, want redirect target", nav)
	}

	// A second request right away is refused by the cooldown.
	resp, err := coord.RequestLogin(context.Background(), types.LoginRequest{})
	if err == nil || resp.CooldownRemaining == 0 {
		t.Errorf("Expected cooldown after success, got %+v, %v", resp, err)
	}

	if err := coord.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
