// Package config provides application configuration management.
package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration bounds.
const (
	minAPIKeyLength   = 16
	maxProbeTimeout   = 30 * time.Second
	maxAttemptTimeout = 10 * time.Minute
	maxPollMax        = 10 * time.Minute
)

// Default portal endpoints for the gateway at 192.168.1.254.
const (
	DefaultPortalURL      = "http://192.168.1.254:8090/"
	DefaultPortalLoginURL = "https://192.168.1.254:8090/login.xml"
)

// Default probe target sets, one per scheme.
var (
	DefaultProbeHTTPURLs = []string{
		"http://connectivitycheck.gstatic.com/generate_204",
		"http://www.msftconnecttest.com/connecttest.txt",
	}
	DefaultProbeHTTPSURLs = []string{
		"https://www.google.com/generate_204",
		"https://cloudflare.com/cdn-cgi/trace",
	}
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Control API
	Host string
	Port int

	// Browser
	Headless       bool
	BrowserPath    string
	BlockResources bool // Drop images, fonts and media in login tabs

	// Portal
	PortalURL         string
	PortalLoginURL    string // Raw POST target used when the page has no form
	PortalInsecureTLS bool   // The gateway serves a self-signed certificate

	// Settings store
	SettingsPath      string
	SettingsHotReload bool

	// Selectors
	SelectorsPath      string // Path to external selectors.yaml override file
	SelectorsHotReload bool   // Enable file watching for hot-reload of selectors

	// Connectivity monitor
	MonitorSchemes       []string // One monitor per scheme: "http", "https"
	ProbeHTTPURLs        []string
	ProbeHTTPSURLs       []string
	ProbeTimeout         time.Duration
	ProbeRejectRedirects bool
	CheckMinInterval     time.Duration
	CheckInterval        time.Duration
	LoginResetDelay      time.Duration
	LoginPriority        string

	// Coordinator
	LoginCooldown  time.Duration
	AttemptTimeout time.Duration
	StaleAfter     time.Duration
	SweepInterval  time.Duration

	// Automator
	PageLoadTimeout     time.Duration
	SuccessPollInterval time.Duration
	SuccessPollMax      time.Duration
	CloseTabDelay       time.Duration

	// Logging
	LogLevel string

	// Metrics
	PrometheusEnabled bool
	PrometheusPort    int

	// API Key Authentication
	APIKeyEnabled bool
	APIKey        string
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Control API - localhost only unless HOST is set explicitly
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", 8192),

		Headless:    getEnvBool("HEADLESS", true),
		BrowserPath: getEnvString("BROWSER_PATH", ""),

		BlockResources: getEnvBool("BLOCK_RESOURCES", true),

		PortalURL:         getEnvString("PORTAL_URL", DefaultPortalURL),
		PortalLoginURL:    getEnvString("PORTAL_LOGIN_URL", DefaultPortalLoginURL),
		PortalInsecureTLS: getEnvBool("PORTAL_INSECURE_TLS", true),

		SettingsPath:      getEnvString("SETTINGS_PATH", "settings.yaml"),
		SettingsHotReload: getEnvBool("SETTINGS_HOT_RELOAD", true),

		SelectorsPath:      getEnvString("SELECTORS_PATH", ""),
		SelectorsHotReload: getEnvBool("SELECTORS_HOT_RELOAD", false),

		MonitorSchemes:       getEnvStringSlice("MONITOR_SCHEMES", []string{"http", "https"}),
		ProbeHTTPURLs:        getEnvStringSlice("PROBE_HTTP_URLS", DefaultProbeHTTPURLs),
		ProbeHTTPSURLs:       getEnvStringSlice("PROBE_HTTPS_URLS", DefaultProbeHTTPSURLs),
		ProbeTimeout:         getEnvDuration("PROBE_TIMEOUT", 1500*time.Millisecond),
		ProbeRejectRedirects: getEnvBool("PROBE_REJECT_REDIRECTS", true),
		CheckMinInterval:     getEnvDuration("CHECK_MIN_INTERVAL", time.Second),
		CheckInterval:        getEnvDuration("CHECK_INTERVAL", 3*time.Second),
		LoginResetDelay:      getEnvDuration("LOGIN_RESET_DELAY", 10*time.Second),
		LoginPriority:        getEnvString("LOGIN_PRIORITY", "instant"),

		LoginCooldown:  getEnvDuration("LOGIN_COOLDOWN", 5*time.Second),
		AttemptTimeout: getEnvDuration("ATTEMPT_TIMEOUT", 30*time.Second),
		StaleAfter:     getEnvDuration("STALE_AFTER", 60*time.Second),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", 30*time.Second),

		PageLoadTimeout:     getEnvDuration("PAGE_LOAD_TIMEOUT", 10*time.Second),
		SuccessPollInterval: getEnvDuration("SUCCESS_POLL_INTERVAL", 2*time.Second),
		SuccessPollMax:      getEnvDuration("SUCCESS_POLL_MAX", 30*time.Second),
		CloseTabDelay:       getEnvDuration("CLOSE_TAB_DELAY", 3*time.Second),

		LogLevel: getEnvString("LOG_LEVEL", "info"),

		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", false),
		PrometheusPort:    getEnvInt("PROMETHEUS_PORT", 9192),

		APIKeyEnabled: getEnvBool("API_KEY_ENABLED", false),
		APIKey:        getEnvString("API_KEY", ""),
	}
}

// ProbeURLs returns the probe target set for a monitor scheme.
func (c *Config) ProbeURLs(scheme string) []string {
	if scheme == "https" {
		return c.ProbeHTTPSURLs
	}
	return c.ProbeHTTPURLs
}

// PortalHost returns the host (without port) of the portal URL.
func (c *Config) PortalHost() string {
	u, err := url.Parse(c.PortalURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// Port validation - allow 0 for system-assigned ports
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8192")
		c.Port = 8192
	}

	// BrowserPath validation - prevent path traversal
	if c.BrowserPath != "" {
		if strings.Contains(c.BrowserPath, "..") {
			log.Error().
				Str("path", c.BrowserPath).
				Msg("BrowserPath contains path traversal sequence (..), ignoring")
			c.BrowserPath = ""
		} else if !isAbsPath(c.BrowserPath) {
			log.Warn().
				Str("path", c.BrowserPath).
				Msg("BrowserPath should be an absolute path")
		}
	}

	c.validatePortal()
	c.validateMonitor()

	c.LoginCooldown = clampDuration("LOGIN_COOLDOWN", c.LoginCooldown, 0, time.Hour)
	c.AttemptTimeout = clampDuration("ATTEMPT_TIMEOUT", c.AttemptTimeout, time.Second, maxAttemptTimeout)
	c.SweepInterval = clampDuration("SWEEP_INTERVAL", c.SweepInterval, time.Second, time.Hour)
	c.StaleAfter = clampDuration("STALE_AFTER", c.StaleAfter, time.Second, time.Hour)
	if c.StaleAfter < c.AttemptTimeout {
		log.Warn().
			Dur("stale_after", c.StaleAfter).
			Dur("attempt_timeout", c.AttemptTimeout).
			Msg("STALE_AFTER shorter than ATTEMPT_TIMEOUT - sweep will close tabs before their deadline")
	}

	c.PageLoadTimeout = clampDuration("PAGE_LOAD_TIMEOUT", c.PageLoadTimeout, 500*time.Millisecond, time.Minute)
	c.SuccessPollInterval = clampDuration("SUCCESS_POLL_INTERVAL", c.SuccessPollInterval, 100*time.Millisecond, time.Minute)
	c.SuccessPollMax = clampDuration("SUCCESS_POLL_MAX", c.SuccessPollMax, c.SuccessPollInterval, maxPollMax)
	c.CloseTabDelay = clampDuration("CLOSE_TAB_DELAY", c.CloseTabDelay, 0, time.Minute)

	// Log level validation
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	// Settings path validation
	if c.SettingsPath == "" {
		log.Warn().Msg("SETTINGS_PATH is empty, using settings.yaml")
		c.SettingsPath = "settings.yaml"
	} else if strings.Contains(c.SettingsPath, "..") {
		log.Error().
			Str("path", c.SettingsPath).
			Msg("SettingsPath contains path traversal sequence (..), using settings.yaml")
		c.SettingsPath = "settings.yaml"
	}

	// Selectors path validation
	if c.SelectorsPath != "" {
		if strings.Contains(c.SelectorsPath, "..") {
			log.Error().
				Str("path", c.SelectorsPath).
				Msg("SelectorsPath contains path traversal sequence (..), ignoring")
			c.SelectorsPath = ""
		} else if c.SelectorsHotReload {
			if _, err := os.Stat(c.SelectorsPath); os.IsNotExist(err) {
				log.Warn().
					Str("path", c.SelectorsPath).
					Msg("SelectorsPath does not exist - hot-reload will watch for file creation")
			}
		}
	}
	if c.SelectorsHotReload && c.SelectorsPath == "" {
		log.Warn().Msg("SELECTORS_HOT_RELOAD enabled but SELECTORS_PATH not set - hot-reload disabled")
		c.SelectorsHotReload = false
	}

	// Metrics port validation
	if c.PrometheusEnabled {
		if c.PrometheusPort <= 0 || c.PrometheusPort > 65535 {
			log.Warn().Int("port", c.PrometheusPort).Msg("Invalid PROMETHEUS_PORT, using 9192")
			c.PrometheusPort = 9192
		}
		if c.PrometheusPort == c.Port {
			log.Error().
				Int("port", c.PrometheusPort).
				Msg("PROMETHEUS_PORT conflicts with PORT, adjusting")
			c.PrometheusPort = c.Port + 1
		}
	}

	// API key validation
	if c.APIKeyEnabled {
		switch {
		case c.APIKey == "":
			log.Error().Msg("API_KEY_ENABLED is true but API_KEY is empty - authentication will always fail")
		case len(c.APIKey) < minAPIKeyLength:
			log.Error().
				Int("length", len(c.APIKey)).
				Int("min_required", minAPIKeyLength).
				Msg("API_KEY is too short for secure authentication - consider using a longer key")
		}
	}
}

func (c *Config) validatePortal() {
	u, err := url.Parse(c.PortalURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		log.Error().
			Str("portal_url", c.PortalURL).
			Msg("Invalid PORTAL_URL, using default")
		c.PortalURL = DefaultPortalURL
	}

	u, err = url.Parse(c.PortalLoginURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		log.Error().
			Str("portal_login_url", c.PortalLoginURL).
			Msg("Invalid PORTAL_LOGIN_URL, using default")
		c.PortalLoginURL = DefaultPortalLoginURL
	}

	if c.PortalInsecureTLS {
		log.Debug().Msg("TLS verification disabled for portal requests")
	}
}

func (c *Config) validateMonitor() {
	schemes := make([]string, 0, len(c.MonitorSchemes))
	seen := make(map[string]bool)
	for _, s := range c.MonitorSchemes {
		s = strings.ToLower(s)
		if s != "http" && s != "https" {
			log.Warn().Str("scheme", s).Msg("Ignoring unknown monitor scheme")
			continue
		}
		if !seen[s] {
			seen[s] = true
			schemes = append(schemes, s)
		}
	}
	if len(schemes) == 0 {
		log.Warn().Msg("No valid MONITOR_SCHEMES, using http,https")
		schemes = []string{"http", "https"}
	}
	c.MonitorSchemes = schemes

	if len(c.ProbeHTTPURLs) == 0 {
		c.ProbeHTTPURLs = DefaultProbeHTTPURLs
	}
	if len(c.ProbeHTTPSURLs) == 0 {
		c.ProbeHTTPSURLs = DefaultProbeHTTPSURLs
	}

	c.ProbeTimeout = clampDuration("PROBE_TIMEOUT", c.ProbeTimeout, 100*time.Millisecond, maxProbeTimeout)
	c.CheckMinInterval = clampDuration("CHECK_MIN_INTERVAL", c.CheckMinInterval, 0, time.Minute)
	c.CheckInterval = clampDuration("CHECK_INTERVAL", c.CheckInterval, 500*time.Millisecond, time.Hour)
	c.LoginResetDelay = clampDuration("LOGIN_RESET_DELAY", c.LoginResetDelay, time.Second, time.Hour)

	if c.CheckInterval < c.CheckMinInterval {
		log.Warn().
			Dur("interval", c.CheckInterval).
			Dur("min_interval", c.CheckMinInterval).
			Msg("CHECK_INTERVAL shorter than CHECK_MIN_INTERVAL - periodic checks will be rate limited")
	}
}

func clampDuration(key string, v, lo, hi time.Duration) time.Duration {
	if v < lo {
		log.Warn().
			Str("key", key).
			Dur("value", v).
			Dur("min", lo).
			Msg("Duration too short, using minimum")
		return lo
	}
	if v > hi {
		log.Warn().
			Str("key", key).
			Dur("value", v).
			Dur("max", hi).
			Msg("Duration too long, using maximum")
		return hi
	}
	return v
}

func isAbsPath(p string) bool {
	return strings.HasPrefix(p, "/") || strings.HasPrefix(p, "C:") || strings.HasPrefix(p, "c:")
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			// Zero is allowed for delays like LOGIN_COOLDOWN; Validate clamps the rest.
			if duration >= 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must not be negative, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
