package handlers

import (
	"net/http"
	"time"

	"github.com/Rorqualx/portal-autologin/internal/metrics"
	"github.com/Rorqualx/portal-autologin/internal/types"
)

// routeCommand validates the request and dispatches it to its command handler.
func (h *Handler) routeCommand(w http.ResponseWriter, r *http.Request, req *types.Request, startTime time.Time) {
	if err := req.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		metrics.RecordRequest("invalid", "error", time.Since(startTime))
		return
	}

	var outcome string
	switch req.Cmd {
	case types.CmdRequestLogin:
		outcome = h.handleRequestLogin(w, r.Context(), req)
	case types.CmdLoginSuccess:
		outcome = h.handleLoginSuccess(w, r.Context(), req)
	case types.CmdGetStatus:
		outcome = h.handleGetStatus(w)
	case types.CmdNetworkError:
		outcome = h.handleNetworkError(w, req)
	}

	metrics.RecordRequest(req.Cmd, outcome, time.Since(startTime))
}
