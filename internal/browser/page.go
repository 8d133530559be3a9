package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/portal-autologin/internal/types"
)

// elementTimeout bounds how long a lookup waits for a selector to appear.
const elementTimeout = 2 * time.Second

const fillScript = `function(v) {
	this.focus();
	this.value = v;
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
}`

const dispatchClickScript = `function() {
	this.dispatchEvent(new MouseEvent('click', {bubbles: true, cancelable: true, view: window}));
}`

const submitFormScript = `() => {
	const form = document.querySelector('form');
	if (!form) return false;
	form.submit();
	return true;
}`

// rodPage adapts a rod page to automator.Page.
type rodPage struct {
	page *rod.Page
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	v, err := p.eval(ctx, `() => location.href`)
	if err == nil && v.Str() != "" {
		return v.Str(), nil
	}
	info, infoErr := p.page.Context(ctx).Info()
	if infoErr != nil {
		return "", fmt.Errorf("read page url: %w", infoErr)
	}
	return info.URL, nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) WaitLoad(ctx context.Context) error {
	return p.page.Context(ctx).WaitLoad()
}

func (p *rodPage) Fill(ctx context.Context, selector, value string) error {
	return p.withElement(ctx, selector, func(el *rod.Element) error {
		_, err := el.Eval(fillScript, value)
		return err
	})
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	return p.withElement(ctx, selector, func(el *rod.Element) error {
		return el.Click(proto.InputMouseButtonLeft, 1)
	})
}

func (p *rodPage) DispatchClick(ctx context.Context, selector string) error {
	return p.withElement(ctx, selector, func(el *rod.Element) error {
		_, err := el.Eval(dispatchClickScript)
		return err
	})
}

func (p *rodPage) PressEnter(ctx context.Context, selector string) error {
	return p.withElement(ctx, selector, func(el *rod.Element) error {
		if err := el.Focus(); err != nil {
			return err
		}
		return el.Type(input.Enter)
	})
}

func (p *rodPage) SubmitForm(ctx context.Context) error {
	v, err := p.eval(ctx, submitFormScript)
	if err != nil {
		return err
	}
	if !v.Bool() {
		return types.ErrNoForm
	}
	return nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	return p.page.Context(ctx).Navigate(url)
}

// Cookies converts the tab's CDP cookies for use by the HTTP strategies.
func (p *rodPage) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	cookies, err := p.page.Context(ctx).Cookies(nil)
	if err != nil {
		// Chrome 114+ returns partitionKey as a string; the cookies are still usable.
		if !strings.Contains(err.Error(), "partitionKey") {
			return nil, err
		}
		log.Debug().Msg("Cookie partitionKey field type mismatch (harmless)")
	}

	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out, nil
}

func (p *rodPage) Close(ctx context.Context) error {
	return p.page.Context(ctx).Close()
}

func (p *rodPage) eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

// withElement looks up selector and releases the remote object after fn.
func (p *rodPage) withElement(ctx context.Context, selector string, fn func(*rod.Element) error) error {
	el, err := p.page.Context(ctx).Timeout(elementTimeout).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q: %w", selector, err)
	}
	el = el.CancelTimeout().Context(ctx)
	defer func() {
		if err := el.Release(); err != nil {
			log.Debug().Err(err).Str("selector", selector).Msg("Failed to release element")
		}
	}()
	return fn(el)
}
