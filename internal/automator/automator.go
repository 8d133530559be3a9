// Package automator fills and submits the portal login form inside a hidden
// tab and reports back to the coordinator once the login went through.
package automator

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/portal-autologin/internal/credentials"
	"github.com/Rorqualx/portal-autologin/internal/metrics"
	"github.com/Rorqualx/portal-autologin/internal/security"
	"github.com/Rorqualx/portal-autologin/internal/selectors"
	"github.com/Rorqualx/portal-autologin/internal/types"
)

// Reporter receives progress and the success notification. The coordinator
// implements it.
type Reporter interface {
	ReportLoginSuccess(ctx context.Context, tabID types.TabID) (types.AckResponse, error)
	UpdateStatus(tabID types.TabID, status types.AttemptStatus)
}

// CredentialSource returns the stored credentials.
type CredentialSource interface {
	Get() credentials.Credentials
}

// SelectorSource returns the current locator catalogue.
type SelectorSource interface {
	Get() *selectors.Selectors
}

// Outcome is how a run ended.
type Outcome string

// Run outcomes.
const (
	OutcomeSkipped       Outcome = "skipped"
	OutcomeNoCredentials Outcome = "no_credentials"
	OutcomeNoFields      Outcome = "no_fields"
	OutcomeFilled        Outcome = "filled"
	OutcomeSucceeded     Outcome = "succeeded"
	OutcomeTimedOut      Outcome = "timed_out"
	OutcomeCanceled      Outcome = "canceled"
)

// Options configures an Automator. Zero values select the defaults.
type Options struct {
	PortalURL       string
	PortalLoginURL  string
	InsecureTLS     bool
	PageLoadTimeout time.Duration
	SettleDelay     time.Duration
	PollFirst       time.Duration
	PollInterval    time.Duration
	PollMax         time.Duration
	CloseTabDelay   time.Duration

	// Transport is used by the HTTP submission strategies.
	Transport http.RoundTripper
}

// Automator drives login tabs. One Automator serves every attempt.
type Automator struct {
	pages      PageSource
	creds      CredentialSource
	sels       SelectorSource
	reporter   Reporter
	opts       Options
	portalHost string
	transport  http.RoundTripper

	running sync.Map // types.TabID -> struct{}
	wg      sync.WaitGroup
}

// New creates an Automator.
func New(pages PageSource, creds CredentialSource, sels SelectorSource, reporter Reporter, opts Options) *Automator {
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = 10 * time.Second
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 200 * time.Millisecond
	}
	if opts.PollFirst <= 0 {
		opts.PollFirst = 300 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PollMax <= 0 {
		opts.PollMax = 30 * time.Second
	}
	if opts.CloseTabDelay <= 0 {
		opts.CloseTabDelay = 3 * time.Second
	}

	a := &Automator{
		pages:     pages,
		creds:     creds,
		sels:      sels,
		reporter:  reporter,
		opts:      opts,
		transport: opts.Transport,
	}
	if u, err := url.Parse(opts.PortalURL); err == nil {
		a.portalHost = u.Hostname()
	}
	if a.transport == nil {
		a.transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: opts.InsecureTLS, //nolint:gosec // G402: the gateway serves a self-signed certificate
			},
			DisableKeepAlives: true,
		}
	}
	return a
}

// Start runs the automator for id in the background. It implements the
// coordinator's Runner.
func (a *Automator) Start(ctx context.Context, id types.TabID) {
	page, err := a.pages.Page(id)
	if err != nil {
		log.Warn().Err(err).Str("tab_id", string(id)).Msg("Login tab not available to automator")
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("tab_id", string(id)).Msg("Recovered from panic in login automator")
			}
		}()
		a.Run(ctx, id, page)
	}()
}

// Wait blocks until every run started with Start has returned.
func (a *Automator) Wait() {
	a.wg.Wait()
}

// run holds the state of one automation pass over a tab.
type run struct {
	id      types.TabID
	page    Page
	creds   credentials.Credentials
	sel     *selectors.Selectors
	doc     *goquery.Document
	pageURL *url.URL
	userSel string
	passSel string
	form    *Form

	// fieldsFound is false when the credential fields were never located.
	// Only the DOM-independent strategies can submit then.
	fieldsFound bool

	acceptOnce sync.Once
	accepted   chan struct{}
	reportOnce sync.Once
}

// accept records that a direct HTTP submission was accepted.
func (r *run) accept() {
	r.acceptOnce.Do(func() { close(r.accepted) })
}

func (r *run) isAccepted() bool {
	select {
	case <-r.accepted:
		return true
	default:
		return false
	}
}

// Run fills and submits the login form in page, then polls for success.
// When the credential fields cannot be located the fill phase is skipped
// and the submission strategies still run; without a form that includes
// the raw POST to the portal login endpoint. A tab that is already being
// automated is skipped.
func (a *Automator) Run(ctx context.Context, id types.TabID, page Page) Outcome {
	if _, busy := a.running.LoadOrStore(id, struct{}{}); busy {
		log.Debug().Str("tab_id", string(id)).Msg("Automator already running for tab, skipping")
		return OutcomeSkipped
	}
	defer a.running.Delete(id)

	creds := a.creds.Get()
	if !creds.Complete() {
		log.Debug().Str("tab_id", string(id)).Msg("No credentials, automator not started")
		return OutcomeNoCredentials
	}

	a.waitLoad(ctx, page)
	if !sleepWithContext(ctx, a.opts.SettleDelay) {
		return OutcomeCanceled
	}

	r := &run{
		id:       id,
		page:     page,
		creds:    creds,
		sel:      a.sels.Get(),
		accepted: make(chan struct{}),
	}
	r.fieldsFound = a.locate(ctx, r)

	if r.fieldsFound {
		a.reporter.UpdateStatus(id, types.AttemptFilling)
		if err := page.Fill(ctx, r.userSel, creds.Username); err != nil {
			log.Warn().Err(err).Str("tab_id", string(id)).Str("selector", r.userSel).Msg("Failed to fill username")
			a.reporter.UpdateStatus(id, types.AttemptFailed)
			return OutcomeNoFields
		}
		if err := page.Fill(ctx, r.passSel, creds.Password); err != nil {
			log.Warn().Err(err).Str("tab_id", string(id)).Str("selector", r.passSel).Msg("Failed to fill password")
			a.reporter.UpdateStatus(id, types.AttemptFailed)
			return OutcomeNoFields
		}
		log.Debug().Str("tab_id", string(id)).Msg("Credentials filled")

		if !creds.AutoSubmit {
			log.Info().Str("tab_id", string(id)).Msg("Auto-submit disabled, leaving filled form for the user")
			return OutcomeFilled
		}
	} else if !creds.AutoSubmit {
		a.reporter.UpdateStatus(id, types.AttemptFailed)
		return OutcomeNoFields
	}

	a.reporter.UpdateStatus(id, types.AttemptSubmitted)

	var eg errgroup.Group
	for _, st := range a.strategies(r) {
		st := st
		eg.Go(func() error {
			err := st.run(ctx, r)
			metrics.RecordStrategy(st.name, err == nil)
			if err != nil {
				log.Debug().Err(err).Str("tab_id", string(id)).Msg("Submission strategy failed")
			}
			return nil
		})
	}

	ok, reason := a.pollSuccess(ctx, r)
	if ok {
		a.notifySuccess(r, reason)
	}
	_ = eg.Wait()

	if !ok {
		if ctx.Err() != nil {
			return OutcomeCanceled
		}
		log.Warn().
			Str("tab_id", string(id)).
			Dur("waited", a.opts.PollMax).
			Bool("fields_found", r.fieldsFound).
			Msg("No login success detected, leaving cleanup to the coordinator")
		a.reporter.UpdateStatus(id, types.AttemptFailed)
		if !r.fieldsFound {
			return OutcomeNoFields
		}
		return OutcomeTimedOut
	}

	// The coordinator normally closes the tab on success, which ends ctx.
	select {
	case <-ctx.Done():
	case <-time.After(a.opts.CloseTabDelay):
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := page.Close(closeCtx); err != nil {
			log.Debug().Err(err).Str("tab_id", string(id)).Msg("Fallback tab close failed")
		}
		cancel()
	}
	return OutcomeSucceeded
}

func (a *Automator) waitLoad(ctx context.Context, page Page) {
	loadCtx, cancel := context.WithTimeout(ctx, a.opts.PageLoadTimeout)
	defer cancel()
	if err := page.WaitLoad(loadCtx); err != nil {
		log.Debug().Err(err).Msg("WaitLoad on login tab failed, continuing anyway")
	}
}

// locate parses the current document and resolves the credential fields
// and the form around them.
func (a *Automator) locate(ctx context.Context, r *run) bool {
	html, err := r.page.HTML(ctx)
	if err != nil {
		log.Warn().Err(err).Str("tab_id", string(r.id)).Msg("Failed to read login page")
		html = ""
	}
	doc, err := ParseDocument(html)
	if err != nil {
		log.Warn().Err(err).Str("tab_id", string(r.id)).Msg("Failed to parse login page")
		doc, _ = ParseDocument("")
	}
	r.doc = doc

	if raw, err := r.page.URL(ctx); err == nil {
		if u, err := url.Parse(raw); err == nil {
			r.pageURL = u
		}
	}
	if r.pageURL == nil {
		r.pageURL, _ = url.Parse(a.opts.PortalURL)
	}

	var userOK, passOK bool
	r.userSel, userOK = FirstMatch(doc, r.sel.UsernameFields)
	r.passSel, passOK = FirstMatch(doc, r.sel.PasswordFields)
	if !userOK || !passOK {
		log.Warn().
			Err(types.ErrNoFields).
			Str("tab_id", string(r.id)).
			Str("url", security.RedactURL(r.pageURL.String())).
			Bool("username_found", userOK).
			Bool("password_found", passOK).
			Msg("Login fields not found, submitting without filling")
		return false
	}

	form, err := ParseForm(doc, r.pageURL, r.userSel)
	if err != nil {
		log.Debug().Err(err).Str("tab_id", string(r.id)).Msg("No usable login form, raw POST will be used")
	} else {
		r.form = form
	}
	return true
}

// pollSuccess checks the tab first after PollFirst, then every
// PollInterval, until PollMax has passed. An accepted HTTP submission
// wakes it immediately.
func (a *Automator) pollSuccess(ctx context.Context, r *run) (bool, string) {
	deadline := time.Now().Add(a.opts.PollMax)
	wait := a.opts.PollFirst

	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ""
		case <-r.accepted:
			timer.Stop()
		case <-timer.C:
		}

		if ok, reason := a.check(ctx, r); ok {
			return true, reason
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, ""
		}
		wait = min(a.opts.PollInterval, remaining)
	}
}

func (a *Automator) check(ctx context.Context, r *run) (bool, string) {
	obs := Observation{HTTPAccepted: r.isAccepted(), FieldsMissing: !r.fieldsFound}
	if !obs.HTTPAccepted {
		obs.URL, _ = r.page.URL(ctx)
		obs.HTML, _ = r.page.HTML(ctx)
	}
	ok, reason := DetectSuccess(obs, a.portalHost, r.sel)
	log.Trace().
		Str("tab_id", string(r.id)).
		Str("url", security.RedactURL(obs.URL)).
		Bool("success", ok).
		Str("reason", reason).
		Msg("Login success check")
	return ok, reason
}

// notifySuccess reports the login once per run.
func (a *Automator) notifySuccess(r *run, reason string) {
	r.reportOnce.Do(func() {
		log.Info().Str("tab_id", string(r.id)).Str("reason", reason).Msg("Login success detected")
		reportCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := a.reporter.ReportLoginSuccess(reportCtx, r.id); err != nil {
			log.Warn().Err(err).Str("tab_id", string(r.id)).Msg("Failed to report login success")
		}
	})
}

// sleepWithContext sleeps for d or until ctx is canceled.
// Returns false if interrupted.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
