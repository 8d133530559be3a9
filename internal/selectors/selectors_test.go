package selectors

import (
	"reflect"
	"testing"
)

func TestGetSelectors(t *testing.T) {
	sel := Get()

	if sel == nil {
		t.Fatal("Get() returned nil")
	}
	if len(sel.UsernameFields) == 0 {
		t.Error("Expected username locators")
	}
	if len(sel.PasswordFields) == 0 {
		t.Error("Expected password locators")
	}
	if len(sel.SubmitControls) == 0 {
		t.Error("Expected submit locators")
	}
	if len(sel.LoginFormMarkers) == 0 {
		t.Error("Expected login form markers")
	}
	if len(sel.SuccessKeywords) == 0 {
		t.Error("Expected success keywords")
	}
}

func TestGetSelectorsSingleton(t *testing.T) {
	if Get() != Get() {
		t.Error("Expected Get() to return the same instance")
	}
}

// The embedded file and the hardcoded fallback must agree.
func TestEmbeddedMatchesDefaults(t *testing.T) {
	embedded, err := load()
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if !reflect.DeepEqual(embedded, defaultSelectors()) {
		t.Errorf("embedded selectors differ from defaults:\n%+v\n%+v", embedded, defaultSelectors())
	}
}

func TestLocatorOrder(t *testing.T) {
	sel := Get()

	if sel.UsernameFields[0] != "#username" {
		t.Errorf("Expected id locator first, got %q", sel.UsernameFields[0])
	}
	if sel.PasswordFields[0] != "#password" {
		t.Errorf("Expected id locator first, got %q", sel.PasswordFields[0])
	}
	if sel.SubmitControls[0] != "#loginbutton" {
		t.Errorf("Expected #loginbutton first, got %q", sel.SubmitControls[0])
	}
	if last := sel.SubmitControls[len(sel.SubmitControls)-1]; last != "button" {
		t.Errorf("Expected bare button as last resort, got %q", last)
	}
}
