// Package main provides the entry point for the portal-autologin daemon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/portal-autologin/internal/automator"
	"github.com/Rorqualx/portal-autologin/internal/browser"
	"github.com/Rorqualx/portal-autologin/internal/config"
	"github.com/Rorqualx/portal-autologin/internal/coordinator"
	"github.com/Rorqualx/portal-autologin/internal/credentials"
	"github.com/Rorqualx/portal-autologin/internal/handlers"
	"github.com/Rorqualx/portal-autologin/internal/metrics"
	"github.com/Rorqualx/portal-autologin/internal/middleware"
	"github.com/Rorqualx/portal-autologin/internal/monitor"
	"github.com/Rorqualx/portal-autologin/internal/probe"
	"github.com/Rorqualx/portal-autologin/internal/selectors"
	"github.com/Rorqualx/portal-autologin/pkg/version"
)

func main() {
	cfg := config.Load()

	// Setup logging first so validation warnings are visible
	setupLogging(cfg.LogLevel)
	cfg.Validate()

	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Str("portal", cfg.PortalURL).
		Msg("Starting portal-autologin")

	creds, err := credentials.Open(cfg.SettingsPath, cfg.SettingsHotReload)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SettingsPath).Msg("Failed to open settings")
	}
	if !creds.Get().Complete() {
		log.Warn().Str("path", creds.Path()).Msg("No credentials stored yet, login requests will be refused")
	}

	sels, err := selectors.NewManager(cfg.SelectorsPath, cfg.SelectorsHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load selectors")
	}

	log.Info().Msg("Launching browser...")
	b, err := browser.Launch(browser.Options{
		Headless:         cfg.Headless,
		BrowserPath:      cfg.BrowserPath,
		IgnoreCertErrors: cfg.PortalInsecureTLS,
		BlockResources:   cfg.BlockResources,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to launch browser")
	}

	coord := coordinator.New(b, creds, coordinator.Options{
		PortalURL:      cfg.PortalURL,
		Cooldown:       cfg.LoginCooldown,
		AttemptTimeout: cfg.AttemptTimeout,
		StaleAfter:     cfg.StaleAfter,
		SweepInterval:  cfg.SweepInterval,
	})
	b.OnTabRemoved(coord.TabRemoved)

	auto := automator.New(b, creds, sels, coord, automator.Options{
		PortalURL:       cfg.PortalURL,
		PortalLoginURL:  cfg.PortalLoginURL,
		InsecureTLS:     cfg.PortalInsecureTLS,
		PageLoadTimeout: cfg.PageLoadTimeout,
		PollInterval:    cfg.SuccessPollInterval,
		PollMax:         cfg.SuccessPollMax,
		CloseTabDelay:   cfg.CloseTabDelay,
	})
	coord.SetRunner(auto)

	// Failed requests seen by other programs reach the monitors through the
	// networkError command.
	group := buildMonitors(cfg, coord)

	handler := handlers.New(coord, group, b, handlers.Options{Cooldown: cfg.LoginCooldown})
	if cfg.APIKeyEnabled {
		log.Info().Msg("API key authentication enabled")
	}
	finalHandler := middleware.Chain(
		middleware.Recovery,
		middleware.Logging,
		middleware.APIKey(cfg.APIKeyEnabled, cfg.APIKey),
	)(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      finalHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel to signal shutdown to background tasks
	stopCh := make(chan struct{})

	var metricsServer *http.Server
	if cfg.PrometheusEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartRuntimeCollector(10*time.Second, stopCh)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.PrometheusPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().Int("port", cfg.PrometheusPort).Msg("Prometheus metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	monCtx, monCancel := context.WithCancel(context.Background())
	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		if err := group.Run(monCtx); err != nil && monCtx.Err() == nil {
			log.Error().Err(err).Msg("Connectivity monitors stopped")
		}
	}()

	go func() {
		log.Info().
			Str("address", addr).
			Strs("schemes", cfg.MonitorSchemes).
			Bool("metrics_enabled", cfg.PrometheusEnabled).
			Msg("portal-autologin is ready")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}

	monCancel()
	<-monDone

	if err := coord.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Coordinator close error")
	}
	auto.Wait()

	if err := b.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Browser close error")
	}
	if err := sels.Close(); err != nil {
		log.Error().Err(err).Msg("Selectors manager close error")
	}
	if err := creds.Close(); err != nil {
		log.Error().Err(err).Msg("Settings store close error")
	}

	log.Info().Msg("Shutdown complete")
}

// buildMonitors creates one connectivity monitor per configured scheme.
func buildMonitors(cfg *config.Config, requester monitor.Requester) *monitor.Group {
	exclude := []string{cfg.PortalHost(), "localhost", "127.0.0.1", "::1"}

	monitors := make([]*monitor.Monitor, 0, len(cfg.MonitorSchemes))
	for _, scheme := range cfg.MonitorSchemes {
		p := probe.New(probe.Options{
			Scheme:          scheme,
			URLs:            cfg.ProbeURLs(scheme),
			Timeout:         cfg.ProbeTimeout,
			RejectRedirects: cfg.ProbeRejectRedirects,
		})
		monitors = append(monitors, monitor.New(monitor.Options{
			Scheme:       scheme,
			Prober:       p,
			Requester:    requester,
			MinInterval:  cfg.CheckMinInterval,
			Interval:     cfg.CheckInterval,
			ResetDelay:   cfg.LoginResetDelay,
			Priority:     cfg.LoginPriority,
			ExcludeHosts: exclude,
		}))
		log.Info().Str("scheme", scheme).Strs("targets", p.URLs()).Msg("Connectivity monitor configured")
	}
	return monitor.NewGroup(monitors...)
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
