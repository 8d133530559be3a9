// Package browser runs the headless Chrome instance that hosts the hidden
// login tabs. Each tab is a background CDP target with stealth patches
// applied; tabs closed from outside are reported through OnTabRemoved.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/portal-autologin/internal/automator"
	"github.com/Rorqualx/portal-autologin/internal/types"
	"github.com/Rorqualx/portal-autologin/pkg/version"
)

// Options configures the browser.
type Options struct {
	Headless         bool
	BrowserPath      string
	IgnoreCertErrors bool // the gateway serves a self-signed certificate
	BlockResources   bool
	HealthInterval   time.Duration
}

type tab struct {
	page   *rod.Page
	cancel context.CancelFunc
}

// Browser owns one Chrome process and the login tabs opened in it.
//
// Lock ordering: mu is never held during CDP calls.
type Browser struct {
	opts    Options
	browser *rod.Browser
	closed  atomic.Bool
	healthy atomic.Bool

	mu        sync.Mutex
	tabs      map[types.TabID]*tab
	onRemoved func(types.TabID)

	eventsCancel context.CancelFunc
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// Launch starts Chrome and begins watching for destroyed targets.
func Launch(opts Options) (*Browser, error) {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 30 * time.Second
	}

	log.Info().
		Bool("headless", opts.Headless).
		Str("browser_path", opts.BrowserPath).
		Msg("Launching browser")

	url, err := createLauncher(opts).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	rb := rod.New().ControlURL(url)
	if err := rb.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	if opts.IgnoreCertErrors {
		if err := rb.IgnoreCertErrors(true); err != nil {
			log.Warn().Err(err).Msg("Failed to set IgnoreCertErrors")
		}
	}

	b := &Browser{
		opts:    opts,
		browser: rb,
		tabs:    make(map[types.TabID]*tab),
		stopCh:  make(chan struct{}),
	}
	b.healthy.Store(true)

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(rb); err != nil {
		log.Warn().Err(err).Msg("Target discovery unavailable, external tab closes will not be detected")
	}

	eventsCtx, cancel := context.WithCancel(context.Background())
	b.eventsCancel = cancel
	wait := rb.Context(eventsCtx).EachEvent(func(e *proto.TargetTargetDestroyed) {
		b.targetDestroyed(types.TabID(e.TargetID))
	})

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Recovered from panic in target event listener")
			}
		}()
		wait()
	}()
	go func() {
		defer b.wg.Done()
		b.healthCheckRoutine()
	}()

	log.Debug().Str("url", url).Msg("Browser launched")
	return b, nil
}

// createLauncher configures the Chrome command line. Each launcher can
// launch only once.
func createLauncher(opts Options) *launcher.Launcher {
	l := launcher.New()

	if opts.BrowserPath != "" {
		l = l.Bin(opts.BrowserPath)
	}

	if opts.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")
	l = l.Set("disable-features", "Translate,TranslateUI,HttpsUpgrades")

	if opts.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors")
	}

	l = l.Set("accept-lang", "en-US,en;q=0.9").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen").
		Set("window-size", "1280,800")

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("disable-renderer-backgrounding").
		Set("disable-background-timer-throttling")

	if isARM() {
		l = l.Set("disable-gpu-compositing")
	}

	return l
}

// OnTabRemoved registers fn for tabs that disappear without Close.
func (b *Browser) OnTabRemoved(fn func(types.TabID)) {
	b.mu.Lock()
	b.onRemoved = fn
	b.mu.Unlock()
}

// Open creates a background tab with stealth patches and navigates it to url.
func (b *Browser) Open(ctx context.Context, url string) (types.TabID, error) {
	if b.closed.Load() {
		return "", fmt.Errorf("browser is closed")
	}

	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank", Background: true})
	if err != nil {
		return "", fmt.Errorf("create target: %w", err)
	}
	id := types.TabID(page.TargetID)

	tabCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.tabs[id] = &tab{page: page, cancel: cancel}
	b.mu.Unlock()

	if b.opts.BlockResources {
		b.startBlocking(tabCtx, id, page)
	}
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		log.Warn().Err(err).Str("tab_id", string(id)).Msg("Failed to apply stealth patches")
	}
	if err := (proto.NetworkSetUserAgentOverride{UserAgent: version.UserAgent}).Call(page); err != nil {
		log.Debug().Err(err).Msg("Failed to set user agent")
	}

	if err := page.Context(ctx).Navigate(url); err != nil {
		b.forget(id)
		_ = page.Close()
		return "", fmt.Errorf("navigate to portal: %w", err)
	}

	log.Debug().Str("tab_id", string(id)).Msg("Login tab created")
	return id, nil
}

// Close closes the tab. The removal callback is not fired for it.
func (b *Browser) Close(ctx context.Context, id types.TabID) error {
	t := b.forget(id)
	if t == nil {
		return types.ErrTabNotFound
	}
	return t.page.Context(ctx).Close()
}

// Page returns the automator view of an open tab.
func (b *Browser) Page(id types.TabID) (automator.Page, error) {
	b.mu.Lock()
	t, ok := b.tabs[id]
	b.mu.Unlock()
	if !ok {
		return nil, types.ErrTabNotFound
	}
	return &rodPage{page: t.page}, nil
}

// Tabs returns the number of open login tabs.
func (b *Browser) Tabs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tabs)
}

// Healthy reports the result of the last health check.
func (b *Browser) Healthy() bool {
	return !b.closed.Load() && b.healthy.Load()
}

// Shutdown closes every tab and the browser process. It is safe to call
// more than once.
func (b *Browser) Shutdown() error {
	if b.closed.Swap(true) {
		return nil
	}
	log.Info().Msg("Closing browser")

	close(b.stopCh)
	b.eventsCancel()

	b.mu.Lock()
	for id, t := range b.tabs {
		t.cancel()
		delete(b.tabs, id)
	}
	b.mu.Unlock()

	err := b.browser.Close()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Timeout waiting for browser goroutines to stop")
	}
	return err
}

func (b *Browser) startBlocking(ctx context.Context, id types.TabID, page *rod.Page) {
	listen, err := blockResources(ctx, page)
	if err != nil {
		log.Warn().Err(err).Str("tab_id", string(id)).Msg("Failed to enable resource blocking")
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Recovered from panic in resource blocker")
			}
		}()
		listen()
	}()
}

func (b *Browser) forget(id types.TabID) *tab {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	if !ok {
		return nil
	}
	delete(b.tabs, id)
	t.cancel()
	return t
}

func (b *Browser) targetDestroyed(id types.TabID) {
	t := b.forget(id)

	b.mu.Lock()
	fn := b.onRemoved
	b.mu.Unlock()

	if t != nil && fn != nil {
		log.Debug().Str("tab_id", string(id)).Msg("Login tab closed outside the coordinator")
		fn(id)
	}
}

// healthCheckRoutine periodically verifies the browser still answers CDP calls.
func (b *Browser) healthCheckRoutine() {
	ticker := time.NewTicker(b.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ok := b.isHealthy()
			if b.healthy.Swap(ok) != ok {
				if ok {
					log.Info().Msg("Browser recovered")
				} else {
					log.Error().Msg("Browser health check failed")
				}
			}
		case <-b.stopCh:
			return
		}
	}
}

func (b *Browser) isHealthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := (proto.BrowserGetVersion{}).Call(b.browser.Context(ctx)); err != nil {
		log.Debug().Err(err).Msg("Browser health check failed: no CDP response")
		return false
	}
	return true
}

// isARM returns true if running on ARM architecture.
func isARM() bool {
	arch := runtime.GOARCH
	return arch == "arm" || arch == "arm64"
}
