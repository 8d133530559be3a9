// Package selectors provides the portal locator catalogue.
package selectors

import (
	"embed"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectorsFS embed.FS

// Selectors contains the ordered CSS locators and text markers used to
// drive the portal login page.
type Selectors struct {
	UsernameFields        []string `yaml:"username_fields"`
	PasswordFields        []string `yaml:"password_fields"`
	SubmitControls        []string `yaml:"submit_controls"`
	EnterTargets          []string `yaml:"enter_targets"`
	LoginFormMarkers      []string `yaml:"login_form_markers"`
	SuccessKeywords       []string `yaml:"success_keywords"`
	RawPostSuccessMarkers []string `yaml:"raw_post_success_markers"`
}

var (
	instance *Selectors
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Selectors instance.
// Patterns are loaded from the embedded selectors.yaml file.
func Get() *Selectors {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load selectors, using defaults")
			instance = defaultSelectors()
		}
	})
	return instance
}

func load() (*Selectors, error) {
	data, err := defaultSelectorsFS.ReadFile("selectors.yaml")
	if err != nil {
		return nil, err
	}

	var s Selectors
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	log.Debug().
		Int("username_fields", len(s.UsernameFields)).
		Int("password_fields", len(s.PasswordFields)).
		Int("submit_controls", len(s.SubmitControls)).
		Int("success_keywords", len(s.SuccessKeywords)).
		Msg("Selectors loaded")

	return &s, nil
}

// Validate checks that the credential field locators are present.
func (s *Selectors) Validate() error {
	if len(s.UsernameFields) == 0 || len(s.PasswordFields) == 0 {
		return fmt.Errorf("selectors must have at least one username_fields and password_fields entry")
	}
	return nil
}

// defaultSelectors returns hardcoded fallback locators.
func defaultSelectors() *Selectors {
	return &Selectors{
		UsernameFields: []string{"#username", "input[name='username']"},
		PasswordFields: []string{"#password", "input[name='password']"},
		SubmitControls: []string{
			"#loginbutton",
			"input[type='submit']",
			"button[type='submit']",
			"button[onclick*='login']",
			"button",
		},
		EnterTargets:     []string{"#loginbutton", "input[type='submit']", "button[type='submit']"},
		LoginFormMarkers: []string{"#username", "input[name='username']", "input[type='text']"},
		SuccessKeywords: []string{
			"success",
			"successful",
			"logged in",
			"welcome",
			"connected",
			"authenticated",
		},
		RawPostSuccessMarkers: []string{"SUCCESS", "success"},
	}
}
