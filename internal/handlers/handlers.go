// Package handlers provides the HTTP control API: the JSON command endpoint,
// the health check and the HTML status page.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hako/durafmt"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/portal-autologin/internal/assets"
	"github.com/Rorqualx/portal-autologin/internal/monitor"
	"github.com/Rorqualx/portal-autologin/internal/security"
	"github.com/Rorqualx/portal-autologin/internal/types"
	"github.com/Rorqualx/portal-autologin/pkg/version"
)

// maxBodySize limits control API request bodies.
const maxBodySize = 64 << 10

// Coordinator is the part of the login coordinator exposed over HTTP.
type Coordinator interface {
	RequestLogin(ctx context.Context, req types.LoginRequest) (types.LoginResponse, error)
	ReportLoginSuccess(ctx context.Context, tabID types.TabID) (types.AckResponse, error)
	Status() types.StatusResponse
}

// Signals receives passive failure reports and exposes monitor state.
type Signals interface {
	ObserveFailure(rawURL string) bool
	States() []monitor.State
}

// HealthChecker reports whether the browser is usable.
type HealthChecker interface {
	Healthy() bool
}

// Options configures the Handler.
type Options struct {
	Cooldown time.Duration // shown on the status page
}

// Handler handles all control API requests.
type Handler struct {
	coord     Coordinator
	signals   Signals
	browser   HealthChecker
	opts      Options
	startTime time.Time
}

// New creates a new Handler. signals and browser may be nil.
func New(coord Coordinator, signals Signals, browser HealthChecker, opts Options) *Handler {
	return &Handler{
		coord:     coord,
		signals:   signals,
		browser:   browser,
		opts:      opts,
		startTime: time.Now(),
	}
}

// ServeHTTP routes requests by path (implements http.Handler).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v1":
		if r.Method != http.MethodPost {
			h.HandleMethodNotAllowed(w, r)
			return
		}
		h.HandleAPI(w, r)
	case "/health":
		h.HandleHealth(w, r)
	case "/":
		if r.Method != http.MethodGet {
			h.HandleMethodNotAllowed(w, r)
			return
		}
		h.HandleStatusPage(w, r)
	default:
		h.HandleNotFound(w, r)
	}
}

// HandleAPI handles POST /v1.
func (h *Handler) HandleAPI(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	buf := requestBuffers.get()
	defer requestBuffers.put(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		log.Warn().Err(err).Msg("Failed to read request body")
		h.writeError(w, http.StatusBadRequest, "Failed to read request")
		return
	}

	var req types.Request
	if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request")
		h.writeError(w, http.StatusBadRequest, "Invalid JSON request")
		return
	}

	log.Debug().
		Str("cmd", req.Cmd).
		Str("current_url", security.RedactURL(req.CurrentURL)).
		Str("tab_id", string(req.TabID)).
		Msg("Request received")

	h.routeCommand(w, r, &req, startTime)
}

// HandleHealth handles GET /health. It returns 503 while the browser is down.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := h.browser == nil || h.browser.Healthy()
	resp := types.HealthResponse{
		Status:  types.HealthOK,
		Version: version.Full(),
		Browser: healthy,
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = types.HealthDegraded
		status = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, status, resp)
}

// HandleStatusPage handles GET / with an HTML summary.
func (h *Handler) HandleStatusPage(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	st := h.coord.Status()

	data := assets.StatusPageData{
		Version:        version.Full(),
		GoVersion:      version.GoVersion(),
		Uptime:         humanDuration(now.Sub(h.startTime)),
		BrowserHealthy: h.browser == nil || h.browser.Healthy(),
		LastLogin:      "never",
		Cooldown:       "ready",
	}

	if st.LastLoginAttempt > 0 {
		last := time.UnixMilli(st.LastLoginAttempt)
		data.LastLogin = humanDuration(now.Sub(last)) + " ago"
		if remaining := h.opts.Cooldown - now.Sub(last); remaining > 0 {
			data.Cooldown = humanDuration(remaining) + " remaining"
		}
	}

	if h.signals != nil {
		for _, s := range h.signals.States() {
			row := assets.MonitorRow{
				Scheme:              s.Scheme,
				Online:              s.ConsecutiveFailures == 0,
				ConsecutiveFailures: s.ConsecutiveFailures,
				LoginInProgress:     s.LoginInProgress,
				LastCheck:           "never",
			}
			if !s.LastCheck.IsZero() {
				row.LastCheck = humanDuration(now.Sub(s.LastCheck)) + " ago"
			}
			data.Monitors = append(data.Monitors, row)
		}
	}

	for _, a := range st.Attempts {
		data.Attempts = append(data.Attempts, assets.AttemptRow{
			ID:     a.ID,
			TabID:  string(a.TabID),
			Status: string(a.Status),
			Age:    humanDuration(now.Sub(time.UnixMilli(a.CreatedAt))),
		})
	}

	page, err := assets.RenderStatusPage(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to render status page")
		h.writeError(w, http.StatusInternalServerError, "Failed to render status page")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// HandleMethodNotAllowed handles requests with unsupported HTTP methods.
func (h *Handler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// HandleNotFound handles requests to unknown paths.
func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "Not found")
}

func (h *Handler) handleRequestLogin(w http.ResponseWriter, ctx context.Context, req *types.Request) string {
	resp, err := h.coord.RequestLogin(ctx, types.LoginRequest{
		CurrentURL: req.CurrentURL,
		Priority:   req.Priority,
	})
	if err != nil {
		log.Debug().Err(err).Msg("Login request refused")
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
	if !resp.Success {
		return "refused"
	}
	return "ok"
}

func (h *Handler) handleLoginSuccess(w http.ResponseWriter, ctx context.Context, req *types.Request) string {
	resp, err := h.coord.ReportLoginSuccess(ctx, req.TabID)
	if err != nil {
		log.Warn().Err(err).Str("tab_id", string(req.TabID)).Msg("Failed to record login success")
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
	return "ok"
}

func (h *Handler) handleGetStatus(w http.ResponseWriter) string {
	h.writeJSONResponse(w, http.StatusOK, h.coord.Status())
	return "ok"
}

func (h *Handler) handleNetworkError(w http.ResponseWriter, req *types.Request) string {
	if h.signals == nil || !h.signals.ObserveFailure(req.CurrentURL) {
		h.writeJSONResponse(w, http.StatusOK, types.AckResponse{
			Success: true,
			Message: "Network error ignored",
		})
		return "ignored"
	}
	h.writeJSONResponse(w, http.StatusOK, types.AckResponse{
		Success: true,
		Message: "Network error recorded",
	})
	return "ok"
}

// writeError writes an ErrorResponse with the given status code.
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSONResponse(w, statusCode, types.ErrorResponse{
		Success: false,
		Message: message,
	})
}

// writeJSONResponse buffers JSON before writing so encoding errors are
// caught before headers are sent.
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, resp interface{}) {
	buf := responseBuffers.get()
	defer responseBuffers.put(buf)

	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	_, _ = w.Write(buf.Bytes())
}

func humanDuration(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}
	return durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(2).String()
}
