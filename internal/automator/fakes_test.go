package automator

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/Rorqualx/portal-autologin/internal/selectors"
	"github.com/Rorqualx/portal-autologin/internal/types"
)

const loginPageTemplate = `<html><head><title>Captive Portal</title></head><body>
<script>var banner = "login success page";</script>
<h1>Network access</h1>
<form id="frmLogin" action="%s" method="post">
  <input type="text" id="username" name="username">
  <input type="password" id="password" name="password">
  <input type="hidden" name="mode" value="191">
  <input type="hidden" name="producttype" value="0">
  <input type="checkbox" name="remember" value="1">
  <input type="submit" id="loginbutton" value="Sign in">
</form>
<p>Please sign in to access the network.</p>
</body></html>`

const formlessLoginPage = `<html><body>
<div id="panel">
  <input type="text" id="username" name="username">
  <input type="password" id="password" name="password">
  <button id="loginbutton" onclick="login()">Sign in</button>
</div>
<p>Please sign in to access the network.</p>
</body></html>`

const landingPage = `<html><body><p>You are logged in.</p></body></html>`

func loginPage(action string) string {
	return fmt.Sprintf(loginPageTemplate, action)
}

type fakePage struct {
	mu         sync.Mutex
	url        string
	html       string
	fills      map[string]string
	clicks     []string
	dispatched []string
	entered    []string
	submits    int
	navigated  []string
	cookies    []*http.Cookie
	closed     int

	loadStarted chan struct{}
	loadRelease chan struct{}
	onClick     func(p *fakePage)
}

func newFakePage(url, html string) *fakePage {
	return &fakePage{url: url, html: html, fills: make(map[string]string)}
}

func (p *fakePage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *fakePage) WaitLoad(ctx context.Context) error {
	if p.loadStarted != nil {
		close(p.loadStarted)
	}
	if p.loadRelease != nil {
		select {
		case <-p.loadRelease:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *fakePage) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills[selector] = value
	return nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	hook := p.onClick
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *fakePage) DispatchClick(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispatched = append(p.dispatched, selector)
	return nil
}

func (p *fakePage) PressEnter(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entered = append(p.entered, selector)
	return nil
}

func (p *fakePage) SubmitForm(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits++
	return nil
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	p.url = url
	p.html = landingPage
	return nil
}

func (p *fakePage) Cookies(context.Context) ([]*http.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookies, nil
}

func (p *fakePage) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePage) setDocument(url, html string) {
	p.mu.Lock()
	p.url = url
	p.html = html
	p.mu.Unlock()
}

func (p *fakePage) snapshot() fakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	fills := make(map[string]string, len(p.fills))
	for k, v := range p.fills {
		fills[k] = v
	}
	return fakePage{
		url:        p.url,
		fills:      fills,
		clicks:     append([]string(nil), p.clicks...),
		dispatched: append([]string(nil), p.dispatched...),
		entered:    append([]string(nil), p.entered...),
		submits:    p.submits,
		navigated:  append([]string(nil), p.navigated...),
		closed:     p.closed,
	}
}

type fakePages struct {
	mu    sync.Mutex
	pages map[types.TabID]Page
}

func (s *fakePages) Page(id types.TabID) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		return nil, types.ErrTabNotFound
	}
	return p, nil
}

type fakeReporter struct {
	mu        sync.Mutex
	statuses  []types.AttemptStatus
	successes []types.TabID
	onSuccess func()
}

func (r *fakeReporter) ReportLoginSuccess(_ context.Context, id types.TabID) (types.AckResponse, error) {
	r.mu.Lock()
	r.successes = append(r.successes, id)
	hook := r.onSuccess
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return types.AckResponse{Success: true}, nil
}

func (r *fakeReporter) UpdateStatus(_ types.TabID, status types.AttemptStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *fakeReporter) Successes() []types.TabID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.TabID(nil), r.successes...)
}

func (r *fakeReporter) Statuses() []types.AttemptStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.AttemptStatus(nil), r.statuses...)
}

type staticSelectors struct{}

func (staticSelectors) Get() *selectors.Selectors {
	return selectors.Get()
}
