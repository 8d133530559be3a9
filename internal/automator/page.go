package automator

import (
	"context"
	"net/http"

	"github.com/Rorqualx/portal-autologin/internal/types"
)

// Page is the hidden login tab as seen by the automator. Selectors are CSS
// selectors produced by the locators in this package.
type Page interface {
	// URL returns the current document URL.
	URL(ctx context.Context) (string, error)
	// HTML returns the serialized current document.
	HTML(ctx context.Context) (string, error)
	// WaitLoad blocks until the document has finished loading.
	WaitLoad(ctx context.Context) error
	// Fill sets the value of the element and raises input and change events.
	Fill(ctx context.Context, selector, value string) error
	// Click performs a native click on the element.
	Click(ctx context.Context, selector string) error
	// DispatchClick dispatches a synthetic bubbling MouseEvent on the element.
	DispatchClick(ctx context.Context, selector string) error
	// PressEnter focuses the element and presses Enter.
	PressEnter(ctx context.Context, selector string) error
	// SubmitForm calls submit() on the first form of the document.
	SubmitForm(ctx context.Context) error
	// Navigate loads url in the tab.
	Navigate(ctx context.Context, url string) error
	// Cookies returns the cookies visible to the current document.
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	// Close closes the tab.
	Close(ctx context.Context) error
}

// PageSource resolves the page behind a tab ID.
type PageSource interface {
	Page(id types.TabID) (Page, error)
}
