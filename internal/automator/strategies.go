package automator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"

	"github.com/Rorqualx/portal-autologin/internal/security"
	"github.com/Rorqualx/portal-autologin/internal/types"
	"github.com/Rorqualx/portal-autologin/pkg/version"
)

// Strategy names, used as metric labels.
const (
	StrategyClick   = "click"
	StrategyForm    = "form"
	StrategyRawPost = "raw_post"
	StrategyEnter   = "enter"
)

// Submission timings, relative to the start of the submit phase.
const (
	clickRetryDelay     = 50 * time.Millisecond
	formSubmitDelay     = 50 * time.Millisecond
	enterDelay          = 150 * time.Millisecond
	httpStrategyTimeout = 10 * time.Second
	maxResponseBody     = 64 * 1024
)

type strategy struct {
	name string
	run  func(ctx context.Context, r *run) error
}

// strategies returns the submission strategies for r. They run concurrently
// and each one's failure is independent of the others.
func (a *Automator) strategies(r *run) []strategy {
	list := []strategy{{name: StrategyClick, run: a.clickSubmit}}
	if r.form != nil {
		list = append(list, strategy{name: StrategyForm, run: a.postForm})
	} else {
		list = append(list, strategy{name: StrategyRawPost, run: a.rawPost})
	}
	return append(list, strategy{name: StrategyEnter, run: a.pressEnter})
}

// clickSubmit clicks the submit control, clicks it again after 50ms and
// dispatches a synthetic click after another 50ms.
func (a *Automator) clickSubmit(ctx context.Context, r *run) error {
	sel, ok := FirstMatch(r.doc, r.sel.SubmitControls)
	if !ok {
		return types.NewStrategyError(StrategyClick, "no submit control", types.ErrNoSubmitControl)
	}

	var errs []error
	if err := r.page.Click(ctx, sel); err != nil {
		errs = append(errs, err)
	}
	if !sleepWithContext(ctx, clickRetryDelay) {
		return types.NewStrategyError(StrategyClick, "canceled", ctx.Err())
	}
	if err := r.page.Click(ctx, sel); err != nil {
		errs = append(errs, err)
	}
	if !sleepWithContext(ctx, clickRetryDelay) {
		return types.NewStrategyError(StrategyClick, "canceled", ctx.Err())
	}
	if err := r.page.DispatchClick(ctx, sel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 3 {
		return types.NewStrategyError(StrategyClick, "every click failed on "+sel, errors.Join(errs...))
	}
	return nil
}

// postForm sends the rebuilt login form directly with the tab's cookies and,
// 50ms later, also calls the page's own form.submit().
func (a *Automator) postForm(ctx context.Context, r *run) error {
	fields := url.Values{}
	for k, v := range r.form.Fields {
		fields[k] = append([]string(nil), v...)
	}
	fields.Set(FieldName(r.doc, r.userSel, "username"), r.creds.Username)
	fields.Set(FieldName(r.doc, r.passSel, "password"), r.creds.Password)

	submitted := make(chan error, 1)
	go func() {
		if !sleepWithContext(ctx, formSubmitDelay) {
			submitted <- ctx.Err()
			return
		}
		submitted <- r.page.SubmitForm(ctx)
	}()

	log.Debug().
		Str("tab_id", string(r.id)).
		Str("action", security.RedactURL(r.form.Action)).
		Str("method", r.form.Method).
		Str("fields", strings.Join(security.FieldNames(fields), ",")).
		Msg("Submitting login form over HTTP")

	res, httpErr := a.send(ctx, r, r.form.Method, r.form.Action, fields)
	if httpErr == nil && (isSuccessStatus(res.Status) || res.Redirected) {
		r.accept()
		if res.Redirected {
			log.Debug().Str("tab_id", string(r.id)).Str("url", security.RedactURL(res.FinalURL)).Msg("Following login redirect")
			if err := r.page.Navigate(ctx, res.FinalURL); err != nil {
				log.Debug().Err(err).Str("tab_id", string(r.id)).Msg("Failed to follow login redirect")
			}
		}
	}

	submitErr := <-submitted
	if submitErr != nil {
		log.Debug().Err(submitErr).Str("tab_id", string(r.id)).Msg("form.submit() failed")
	}

	switch {
	case r.isAccepted():
		return nil
	case httpErr != nil:
		return types.NewStrategyError(StrategyForm, "request failed", httpErr)
	default:
		return types.NewStrategyError(StrategyForm, "rejected with status "+strconv.Itoa(res.Status), nil)
	}
}

// rawPost posts the credentials straight to the portal login endpoint.
// It is used when the page has no form.
func (a *Automator) rawPost(ctx context.Context, r *run) error {
	if a.opts.PortalLoginURL == "" {
		return types.NewStrategyError(StrategyRawPost, "no login endpoint configured", types.ErrNoForm)
	}

	values := url.Values{}
	values.Set("username", r.creds.Username)
	values.Set("password", r.creds.Password)
	values.Set("mode", "191")
	values.Set("producttype", "0")
	values.Set("a", strconv.FormatInt(time.Now().UnixMilli(), 10))

	res, err := a.send(ctx, r, http.MethodPost, a.opts.PortalLoginURL, values)
	if err != nil {
		return types.NewStrategyError(StrategyRawPost, "request failed", err)
	}
	if !isSuccessStatus(res.Status) {
		return types.NewStrategyError(StrategyRawPost, "rejected with status "+strconv.Itoa(res.Status), nil)
	}
	for _, marker := range r.sel.RawPostSuccessMarkers {
		if marker != "" && strings.Contains(res.Body, marker) {
			r.accept()
			return nil
		}
	}
	return types.NewStrategyError(StrategyRawPost, "response has no success marker", nil)
}

// pressEnter presses Enter on the submit control after 150ms.
func (a *Automator) pressEnter(ctx context.Context, r *run) error {
	if !sleepWithContext(ctx, enterDelay) {
		return types.NewStrategyError(StrategyEnter, "canceled", ctx.Err())
	}
	sel, ok := FirstMatch(r.doc, r.sel.EnterTargets)
	if !ok {
		return types.NewStrategyError(StrategyEnter, "no submit control", types.ErrNoSubmitControl)
	}
	if err := r.page.PressEnter(ctx, sel); err != nil {
		return types.NewStrategyError(StrategyEnter, "key press failed on "+sel, err)
	}
	return nil
}

// httpResult is the outcome of a direct submission.
type httpResult struct {
	Status     int
	FinalURL   string
	Redirected bool
	Body       string // truncated to maxResponseBody
}

// send issues a form-encoded request with a cookie jar seeded from the tab.
func (a *Automator) send(ctx context.Context, r *run, method, target string, values url.Values) (httpResult, error) {
	var res httpResult

	u, err := url.Parse(target)
	if err != nil {
		return res, fmt.Errorf("invalid target: %w", err)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return res, err
	}
	if cookies, err := r.page.Cookies(ctx); err == nil && len(cookies) > 0 {
		jar.SetCookies(u, cookies)
	}
	client := &http.Client{Transport: a.transport, Jar: jar, Timeout: httpStrategyTimeout}

	var body io.Reader
	if method == http.MethodGet {
		q := u.Query()
		for k, v := range values {
			q[k] = v
		}
		u.RawQuery = q.Encode()
	} else {
		body = strings.NewReader(values.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return res, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("User-Agent", version.UserAgent)
	if r.pageURL != nil {
		req.Header.Set("Referer", r.pageURL.String())
	}

	resp, err := client.Do(req)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	res.FinalURL = resp.Request.URL.String()
	res.Redirected = res.FinalURL != u.String()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return res, fmt.Errorf("read response: %w", err)
	}
	res.Body = string(data)
	return res, nil
}

func isSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}
