package automator

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Rorqualx/portal-autologin/internal/selectors"
	"github.com/Rorqualx/portal-autologin/internal/types"
)

// smallPageThreshold is the body size under which a formless page is taken
// as the post-login landing page.
const smallPageThreshold = 1000

// Success detection reasons, used in logs.
const (
	ReasonHTTPAccepted = "http_accepted"
	ReasonLeftPortal   = "left_portal"
	ReasonFormGone     = "login_form_gone"
	ReasonSuccessText  = "success_text"
	ReasonPageChanged  = "page_changed"
)

// ParseDocument parses html into a goquery document.
func ParseDocument(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// FirstMatch returns the first locator that matches at least one element.
func FirstMatch(doc *goquery.Document, locators []string) (string, bool) {
	for _, sel := range locators {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() > 0 {
			return sel, true
		}
	}
	return "", false
}

// Form is a login form rebuilt from the DOM, ready to be sent over HTTP.
type Form struct {
	Action string
	Method string
	Fields url.Values
}

// ParseForm rebuilds the form that contains the element matched by field,
// or the first form of the document. Fields follow browser form encoding:
// disabled controls, buttons and unchecked boxes are left out.
func ParseForm(doc *goquery.Document, pageURL *url.URL, field string) (*Form, error) {
	var form *goquery.Selection
	if field != "" {
		form = doc.Find(field).First().Closest("form")
	}
	if form == nil || form.Length() == 0 {
		form = doc.Find("form").First()
	}
	if form.Length() == 0 {
		return nil, types.ErrNoForm
	}

	action := strings.TrimSpace(form.AttrOr("action", ""))
	target := pageURL
	if action != "" {
		ref, err := url.Parse(action)
		if err != nil {
			return nil, fmt.Errorf("invalid form action %q: %w", action, err)
		}
		if pageURL != nil {
			target = pageURL.ResolveReference(ref)
		} else {
			target = ref
		}
	}
	if target == nil {
		return nil, fmt.Errorf("form has no action and page URL is unknown")
	}

	method := http.MethodPost
	if strings.EqualFold(form.AttrOr("method", ""), http.MethodGet) {
		method = http.MethodGet
	}

	fields := url.Values{}
	form.Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		if _, disabled := s.Attr("disabled"); disabled {
			return
		}

		switch goquery.NodeName(s) {
		case "select":
			opt := s.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = s.Find("option").First()
			}
			if opt.Length() > 0 {
				fields.Add(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
			}
		case "textarea":
			fields.Add(name, s.Text())
		default:
			switch strings.ToLower(s.AttrOr("type", "text")) {
			case "submit", "button", "image", "reset", "file":
			case "checkbox", "radio":
				if _, checked := s.Attr("checked"); checked {
					fields.Add(name, s.AttrOr("value", "on"))
				}
			default:
				fields.Add(name, s.AttrOr("value", ""))
			}
		}
	})

	return &Form{Action: target.String(), Method: method, Fields: fields}, nil
}

// FieldName returns the name attribute of the element matched by sel,
// or fallback when it has none.
func FieldName(doc *goquery.Document, sel, fallback string) string {
	if sel == "" {
		return fallback
	}
	if name := doc.Find(sel).First().AttrOr("name", ""); name != "" {
		return name
	}
	return fallback
}

// Observation is one look at the login tab during success polling.
type Observation struct {
	URL          string
	HTML         string
	HTTPAccepted bool // a direct HTTP strategy got an accepting response

	// FieldsMissing means the credential fields were never found in the
	// tab, so a page without login markers says nothing about success.
	FieldsMissing bool
}

// DetectSuccess reports whether the observation shows a completed login
// and which check matched. It is a pure function of its inputs.
func DetectSuccess(obs Observation, portalHost string, sel *selectors.Selectors) (bool, string) {
	if obs.HTTPAccepted {
		return true, ReasonHTTPAccepted
	}

	if obs.URL != "" {
		if u, err := url.Parse(obs.URL); err == nil && (u.Scheme == "http" || u.Scheme == "https") &&
			!strings.EqualFold(u.Hostname(), portalHost) &&
			!strings.Contains(strings.ToLower(obs.URL), "login") {
			return true, ReasonLeftPortal
		}
	}

	// An empty document means the tab is mid-navigation.
	if strings.TrimSpace(obs.HTML) == "" {
		return false, ""
	}
	doc, err := ParseDocument(obs.HTML)
	if err != nil {
		return false, ""
	}

	if _, found := FirstMatch(doc, sel.LoginFormMarkers); !found && !obs.FieldsMissing {
		return true, ReasonFormGone
	}

	body := doc.Find("body")
	visible := body.Clone()
	visible.Find("script, style, noscript, template").Remove()
	text := strings.ToLower(visible.Text())
	for _, kw := range sel.SuccessKeywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true, ReasonSuccessText
		}
	}

	if obs.FieldsMissing {
		return false, ""
	}
	if inner, err := body.Html(); err == nil && len(inner) < smallPageThreshold && doc.Find("form").Length() == 0 {
		return true, ReasonPageChanged
	}

	return false, ""
}
