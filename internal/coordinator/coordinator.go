// Package coordinator owns the background login attempts: it enforces the
// login cooldown, opens and closes the hidden login tabs, and cleans up
// attempts that never report success.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/remeh/sizedwaitgroup"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/portal-autologin/internal/credentials"
	"github.com/Rorqualx/portal-autologin/internal/metrics"
	"github.com/Rorqualx/portal-autologin/internal/security"
	"github.com/Rorqualx/portal-autologin/internal/types"
	"github.com/Rorqualx/portal-autologin/pkg/version"
)

// tabCloseTimeout bounds a single tab close.
const tabCloseTimeout = 5 * time.Second

// Tabs opens and closes hidden login tabs.
type Tabs interface {
	Open(ctx context.Context, url string) (types.TabID, error)
	Close(ctx context.Context, id types.TabID) error
}

// Runner starts the form automator for a freshly opened tab. Start must not
// block; ctx ends when the attempt succeeds, times out or is cleaned up.
type Runner interface {
	Start(ctx context.Context, id types.TabID)
}

// CredentialSource returns the stored credentials.
type CredentialSource interface {
	Get() credentials.Credentials
}

// Options configures a Coordinator.
type Options struct {
	PortalURL      string
	Cooldown       time.Duration
	AttemptTimeout time.Duration
	StaleAfter     time.Duration
	SweepInterval  time.Duration

	now func() time.Time
}

type attempt struct {
	info   types.AttemptInfo
	cancel context.CancelFunc
}

// Coordinator serializes login attempts. All state is guarded by mu; tab
// I/O always happens outside the lock.
type Coordinator struct {
	tabs  Tabs
	creds CredentialSource
	opts  Options
	now   func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc
	stopCh     chan struct{}
	wg         sync.WaitGroup

	mu               sync.Mutex
	runner           Runner
	attempts         map[types.TabID]*attempt
	opening          int // tabs being opened, counted as blocking
	lastLoginAttempt time.Time
	startTime        time.Time
	closed           bool
}

// New creates a Coordinator and starts its staleness sweep.
func New(tabs Tabs, creds CredentialSource, opts Options) *Coordinator {
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 30 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 60 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	c := &Coordinator{
		tabs:       tabs,
		creds:      creds,
		opts:       opts,
		now:        now,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		stopCh:     make(chan struct{}),
		attempts:   make(map[types.TabID]*attempt),
		startTime:  now(),
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sweepRoutine()
	}()

	log.Info().
		Dur("cooldown", opts.Cooldown).
		Dur("attempt_timeout", opts.AttemptTimeout).
		Dur("stale_after", opts.StaleAfter).
		Msg("Login coordinator started")

	return c
}

// SetRunner sets the automator runner started for each new tab.
func (c *Coordinator) SetRunner(r Runner) {
	c.mu.Lock()
	c.runner = r
	c.mu.Unlock()
}

// RequestLogin starts a background login attempt unless the cooldown is
// active, an attempt is already filling, or no credentials are stored.
// The response is always populated; the error carries the reason for a
// refusal so in-process callers can match it with errors.Is.
func (c *Coordinator) RequestLogin(ctx context.Context, req types.LoginRequest) (types.LoginResponse, error) {
	now := c.now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		metrics.RecordLoginRequest("closed")
		return types.LoginResponse{Message: "Coordinator is shutting down"}, types.ErrCoordinatorClosed
	}
	if remaining := c.cooldownRemainingLocked(now); remaining > 0 {
		c.mu.Unlock()
		secs := int(math.Ceil(remaining.Seconds()))
		metrics.RecordLoginRequest("cooldown")
		log.Debug().Int("remaining_s", secs).Msg("Login request rejected, cooldown active")
		return types.LoginResponse{
			Message:           fmt.Sprintf("Login cooldown active, retry in %ds", secs),
			CooldownRemaining: secs,
		}, types.ErrCooldownActive
	}
	c.lastLoginAttempt = now
	if c.blockingLocked() {
		c.mu.Unlock()
		metrics.RecordLoginRequest("in_progress")
		return types.LoginResponse{Message: "A login attempt is already in progress"}, types.ErrLoginInProgress
	}
	c.opening++
	c.mu.Unlock()

	resp, err := c.startAttempt(ctx, req, now)

	c.mu.Lock()
	c.opening--
	c.mu.Unlock()

	return resp, err
}

func (c *Coordinator) startAttempt(ctx context.Context, req types.LoginRequest, now time.Time) (types.LoginResponse, error) {
	creds := c.creds.Get()
	if !creds.Complete() {
		metrics.RecordLoginRequest("no_credentials")
		log.Warn().Msg("Login requested but no credentials are configured")
		return types.LoginResponse{Message: "No credentials configured"}, types.ErrNoCredentials
	}

	tabID, err := c.tabs.Open(ctx, c.opts.PortalURL)
	if err != nil {
		metrics.RecordLoginRequest("tab_error")
		tabErr := types.NewTabOpenError(err)
		log.Error().Err(tabErr).Msg("Failed to open login tab")
		return types.LoginResponse{Message: "Failed to open login tab", Error: err.Error()}, tabErr
	}

	priority := req.Priority
	if priority == "" {
		priority = types.PriorityNormal
	}
	attemptCtx, cancel := context.WithTimeout(c.baseCtx, c.opts.AttemptTimeout)
	a := &attempt{
		info: types.AttemptInfo{
			ID:        uuid.NewString(),
			TabID:     tabID,
			OriginURL: req.CurrentURL,
			Status:    types.AttemptCreated,
			Priority:  priority,
			CreatedAt: now.UnixMilli(),
		},
		cancel: cancel,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		c.closeTab(tabID)
		metrics.RecordLoginRequest("closed")
		return types.LoginResponse{Message: "Coordinator is shutting down"}, types.ErrCoordinatorClosed
	}
	c.attempts[tabID] = a
	count := len(c.attempts)
	runner := c.runner
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.watchDeadline(attemptCtx, tabID)
	}()

	metrics.RecordLoginRequest("started")
	metrics.UpdateAttemptMetrics(count)

	log.Info().
		Str("attempt_id", a.info.ID).
		Str("tab_id", string(tabID)).
		Str("origin", security.RedactURL(req.CurrentURL)).
		Str("priority", priority).
		Msg("Background login tab opened")

	if runner != nil {
		runner.Start(attemptCtx, tabID)
	}

	return types.LoginResponse{
		Success:    true,
		Method:     types.MethodBackgroundTab,
		LoginTabID: tabID,
		Message:    "Background login started",
	}, nil
}

// ReportLoginSuccess finishes the attempt for tabID. It is idempotent:
// unknown or already finished tabs are acknowledged without error and the
// tab is closed at most once.
func (c *Coordinator) ReportLoginSuccess(_ context.Context, tabID types.TabID) (types.AckResponse, error) {
	c.mu.Lock()
	c.lastLoginAttempt = c.now()
	c.mu.Unlock()

	if c.finish(tabID, types.AttemptSucceeded) {
		log.Info().Str("tab_id", string(tabID)).Msg("Login succeeded, login tab closed")
		return types.AckResponse{Success: true, Message: "Login success recorded"}, nil
	}

	log.Debug().Str("tab_id", string(tabID)).Msg("Login success for unknown tab, ignoring")
	return types.AckResponse{Success: true, Message: "No active attempt for tab"}, nil
}

// UpdateStatus records automator progress. Terminal states and unknown tabs
// are ignored; those go through ReportLoginSuccess and the deadline.
func (c *Coordinator) UpdateStatus(tabID types.TabID, status types.AttemptStatus) {
	if status.Terminal() {
		return
	}

	c.mu.Lock()
	a, ok := c.attempts[tabID]
	if ok {
		a.info.Status = status
	}
	c.mu.Unlock()

	if ok {
		log.Debug().
			Str("tab_id", string(tabID)).
			Str("status", string(status)).
			Msg("Login attempt progress")
	}
}

// TabRemoved clears the attempt of a tab that was closed outside the coordinator.
func (c *Coordinator) TabRemoved(tabID types.TabID) {
	c.mu.Lock()
	a, ok := c.attempts[tabID]
	if ok {
		delete(c.attempts, tabID)
	}
	count := len(c.attempts)
	c.mu.Unlock()

	if !ok {
		return
	}
	a.cancel()
	metrics.RecordAttemptFinished("removed")
	metrics.UpdateAttemptMetrics(count)
	log.Info().Str("tab_id", string(tabID)).Msg("Login tab closed externally, attempt cleared")
}

// Status returns a snapshot of the coordinator.
func (c *Coordinator) Status() types.StatusResponse {
	c.mu.Lock()
	infos := make([]types.AttemptInfo, 0, len(c.attempts))
	for _, a := range c.attempts {
		infos = append(infos, a.info)
	}
	last := c.lastLoginAttempt
	closed := c.closed
	c.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt < infos[j].CreatedAt })

	var lastMs int64
	if !last.IsZero() {
		lastMs = last.UnixMilli()
	}
	return types.StatusResponse{
		Success:          true,
		LastLoginAttempt: lastMs,
		ActiveAttempts:   len(infos),
		IsActive:         !closed,
		Method:           types.MethodBackgroundTab,
		StartTime:        c.startTime.UnixMilli(),
		Version:          version.Full(),
		Attempts:         infos,
	}
}

// Close stops the sweep, cancels every attempt and closes the remaining tabs.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	remaining := make([]*attempt, 0, len(c.attempts))
	for id, a := range c.attempts {
		remaining = append(remaining, a)
		delete(c.attempts, id)
	}
	c.mu.Unlock()

	close(c.stopCh)
	c.baseCancel()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for _, a := range remaining {
		a := a
		a.cancel()
		eg.Go(func() error {
			if err := c.tabs.Close(egCtx, a.info.TabID); err != nil {
				return types.NewTabCloseError(a.info.TabID, err)
			}
			return nil
		})
	}
	err := eg.Wait()

	c.wg.Wait()
	metrics.UpdateAttemptMetrics(0)

	if err != nil {
		log.Error().Err(err).Msg("Coordinator shutdown encountered errors")
		return err
	}
	log.Info().Int("closed_tabs", len(remaining)).Msg("Login coordinator closed")
	return nil
}

// cooldownRemainingLocked must be called with c.mu held.
func (c *Coordinator) cooldownRemainingLocked(now time.Time) time.Duration {
	if c.lastLoginAttempt.IsZero() {
		return 0
	}
	return c.opts.Cooldown - now.Sub(c.lastLoginAttempt)
}

// blockingLocked must be called with c.mu held.
func (c *Coordinator) blockingLocked() bool {
	if c.opening > 0 {
		return true
	}
	for _, a := range c.attempts {
		if a.info.Status.Blocking() {
			return true
		}
	}
	return false
}

// finish removes the attempt and closes its tab. Only the caller that
// removes the record closes the tab.
func (c *Coordinator) finish(tabID types.TabID, status types.AttemptStatus) bool {
	c.mu.Lock()
	a, ok := c.attempts[tabID]
	if ok {
		delete(c.attempts, tabID)
		a.info.Status = status
	}
	count := len(c.attempts)
	c.mu.Unlock()

	if !ok {
		return false
	}

	a.cancel()
	metrics.RecordAttemptFinished(string(status))
	metrics.UpdateAttemptMetrics(count)
	c.closeTab(tabID)
	return true
}

func (c *Coordinator) closeTab(tabID types.TabID) {
	ctx, cancel := context.WithTimeout(context.Background(), tabCloseTimeout)
	defer cancel()

	if err := c.tabs.Close(ctx, tabID); err != nil {
		log.Warn().Err(types.NewTabCloseError(tabID, err)).Msg("Failed to close login tab, record cleared anyway")
	}
}

// watchDeadline force-closes the attempt when its deadline passes.
func (c *Coordinator) watchDeadline(ctx context.Context, tabID types.TabID) {
	<-ctx.Done()
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return
	}
	if c.finish(tabID, types.AttemptTimedOut) {
		log.Warn().
			Str("tab_id", string(tabID)).
			Dur("timeout", c.opts.AttemptTimeout).
			Msg("Login attempt timed out, tab force-closed")
	}
}

func (c *Coordinator) sweepRoutine() {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep force-closes attempts older than the staleness bound, independent
// of their deadlines. Records are collected under the lock and tabs are
// closed outside it.
func (c *Coordinator) sweep() int {
	now := c.now()

	c.mu.Lock()
	var stale []*attempt
	for id, a := range c.attempts {
		if now.Sub(time.UnixMilli(a.info.CreatedAt)) > c.opts.StaleAfter {
			stale = append(stale, a)
			delete(c.attempts, id)
		}
	}
	remaining := len(c.attempts)
	c.mu.Unlock()

	if len(stale) == 0 {
		return 0
	}

	swg := sizedwaitgroup.New(4)
	for _, a := range stale {
		a := a
		a.cancel()
		metrics.RecordAttemptFinished(string(types.AttemptTimedOut))
		swg.Add()
		go func() {
			defer swg.Done()
			c.closeTab(a.info.TabID)
			log.Info().
				Str("attempt_id", a.info.ID).
				Str("tab_id", string(a.info.TabID)).
				Dur("age", now.Sub(time.UnixMilli(a.info.CreatedAt))).
				Msg("Stale login attempt swept")
		}()
	}
	swg.Wait()

	metrics.UpdateAttemptMetrics(remaining)
	log.Debug().
		Int("swept", len(stale)).
		Int("remaining", remaining).
		Msg("Login attempt sweep completed")
	return len(stale)
}
