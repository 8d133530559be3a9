// Package monitor decides whether the network path has real internet access
// and asks the coordinator for a portal login when it does not.
package monitor

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/portal-autologin/internal/metrics"
	"github.com/Rorqualx/portal-autologin/internal/probe"
	"github.com/Rorqualx/portal-autologin/internal/security"
	"github.com/Rorqualx/portal-autologin/internal/types"
)

// Prober runs one connectivity probe round.
type Prober interface {
	Probe(ctx context.Context) probe.Result
}

// Requester receives recovery requests. The coordinator implements it.
type Requester interface {
	RequestLogin(ctx context.Context, req types.LoginRequest) (types.LoginResponse, error)
}

// State is a snapshot of a monitor's connectivity bookkeeping.
type State struct {
	Scheme              string    `json:"scheme"`
	LastCheck           time.Time `json:"lastCheck"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LoginInProgress     bool      `json:"loginInProgress"`
}

// Options configures a Monitor.
type Options struct {
	Scheme       string
	Prober       Prober
	Requester    Requester
	MinInterval  time.Duration // checks closer than this reuse an optimistic "up"
	Interval     time.Duration // periodic probe period
	ResetDelay   time.Duration // LoginInProgress self-clears after this
	Priority     string
	ExcludeHosts []string // traffic to these hosts is never a connectivity signal

	now func() time.Time
}

// Monitor tracks connectivity for one probe scheme.
type Monitor struct {
	scheme      string
	prober      Prober
	requester   Requester
	minInterval time.Duration
	interval    time.Duration
	resetDelay  time.Duration
	priority    string
	exclude     map[string]bool
	now         func() time.Time

	trigger chan string

	mu            sync.Mutex
	state         State
	lastFailedURL string
	resetTimer    *time.Timer
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	m := &Monitor{
		scheme:      opts.Scheme,
		prober:      opts.Prober,
		requester:   opts.Requester,
		minInterval: opts.MinInterval,
		interval:    opts.Interval,
		resetDelay:  opts.ResetDelay,
		priority:    opts.Priority,
		exclude:     make(map[string]bool, len(opts.ExcludeHosts)),
		now:         opts.now,
		trigger:     make(chan string, 1),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.interval <= 0 {
		m.interval = 3 * time.Second
	}
	if m.resetDelay <= 0 {
		m.resetDelay = 10 * time.Second
	}
	if m.priority == "" {
		m.priority = types.PriorityNormal
	}
	for _, h := range opts.ExcludeHosts {
		if h != "" {
			m.exclude[strings.ToLower(h)] = true
		}
	}
	m.state.Scheme = opts.Scheme
	return m
}

// Scheme returns the probe scheme this monitor covers.
func (m *Monitor) Scheme() string {
	return m.scheme
}

// State returns a snapshot of the monitor state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Excluded reports whether traffic to rawURL is ignored as a signal.
func (m *Monitor) Excluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return m.exclude[strings.ToLower(u.Hostname())]
}

// Check probes connectivity. Checks within MinInterval of the previous one
// return true without probing. The failure counter is reset only by a
// successful probe.
func (m *Monitor) Check(ctx context.Context) bool {
	now := m.now()

	m.mu.Lock()
	if !m.state.LastCheck.IsZero() && now.Sub(m.state.LastCheck) < m.minInterval {
		m.mu.Unlock()
		log.Trace().Str("scheme", m.scheme).Msg("Connectivity check rate limited, assuming connected")
		return true
	}
	m.state.LastCheck = now
	m.mu.Unlock()

	res := m.prober.Probe(ctx)

	m.mu.Lock()
	if res.Up {
		m.state.ConsecutiveFailures = 0
	} else {
		m.state.ConsecutiveFailures++
	}
	failures := m.state.ConsecutiveFailures
	m.mu.Unlock()

	metrics.SetConsecutiveFailures(m.scheme, failures)

	if !res.Up {
		ev := log.Warn().Str("scheme", m.scheme).Int("consecutive_failures", failures)
		for _, t := range res.Targets {
			if t.Err != nil {
				ev = ev.AnErr(security.RedactURL(t.URL), t.Err)
			}
		}
		ev.Msg("All probe targets failed")
	}

	return res.Up
}

// ObserveFailure records a failed request seen outside the probe and
// schedules an immediate check. Returns false for excluded hosts.
func (m *Monitor) ObserveFailure(rawURL string) bool {
	if m.Excluded(rawURL) {
		return false
	}

	m.mu.Lock()
	m.state.ConsecutiveFailures++
	m.lastFailedURL = rawURL
	failures := m.state.ConsecutiveFailures
	m.mu.Unlock()

	metrics.SetConsecutiveFailures(m.scheme, failures)

	log.Debug().
		Str("scheme", m.scheme).
		Str("url", security.RedactURL(rawURL)).
		Int("consecutive_failures", failures).
		Msg("Network error observed, checking connectivity")

	// One pending check is enough.
	select {
	case m.trigger <- rawURL:
	default:
	}
	return true
}

// Run drives periodic and triggered checks until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.stopResetTimer()

	log.Info().
		Str("scheme", m.scheme).
		Dur("interval", m.interval).
		Msg("Connectivity monitor started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("scheme", m.scheme).Msg("Connectivity monitor stopped")
			return nil
		case <-ticker.C:
			if m.State().LoginInProgress {
				continue
			}
			m.checkAndRecover(ctx, m.originURL())
		case u := <-m.trigger:
			m.checkAndRecover(ctx, u)
		}
	}
}

func (m *Monitor) originURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFailedURL
}

func (m *Monitor) checkAndRecover(ctx context.Context, currentURL string) {
	if m.Check(ctx) {
		return
	}
	m.attemptLogin(ctx, currentURL)
}

// attemptLogin sends one recovery request unless one is already in flight.
func (m *Monitor) attemptLogin(ctx context.Context, currentURL string) {
	m.mu.Lock()
	if m.state.LoginInProgress {
		m.mu.Unlock()
		log.Debug().Str("scheme", m.scheme).Msg("Login already in progress, skipping")
		return
	}
	m.state.LoginInProgress = true
	if m.resetTimer != nil {
		m.resetTimer.Stop()
	}
	m.resetTimer = time.AfterFunc(m.resetDelay, m.clearLoginInProgress)
	m.mu.Unlock()

	log.Warn().
		Str("scheme", m.scheme).
		Str("current_url", security.RedactURL(currentURL)).
		Msg("Connectivity lost, requesting portal login")

	resp, err := m.requester.RequestLogin(ctx, types.LoginRequest{
		CurrentURL: currentURL,
		Priority:   m.priority,
	})
	switch {
	case err != nil:
		log.Info().Err(err).Str("scheme", m.scheme).Str("message", resp.Message).Msg("Login request not started")
	case resp.Success:
		log.Info().
			Str("scheme", m.scheme).
			Str("method", resp.Method).
			Str("tab_id", string(resp.LoginTabID)).
			Msg("Background login initiated")
	default:
		log.Info().Str("scheme", m.scheme).Str("message", resp.Message).Msg("Background login failed")
	}
}

func (m *Monitor) clearLoginInProgress() {
	m.mu.Lock()
	m.state.LoginInProgress = false
	m.resetTimer = nil
	m.mu.Unlock()
	log.Debug().Str("scheme", m.scheme).Msg("Login flag reset")
}

func (m *Monitor) stopResetTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resetTimer != nil {
		m.resetTimer.Stop()
		m.resetTimer = nil
	}
}
