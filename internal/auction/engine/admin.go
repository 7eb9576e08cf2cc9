package engine

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/char-123717/AuctiChain/internal/auction/repository"
)

// AdminHandler exposes the freeze/unfreeze/slash operations over REST.
// Authorization is an external collaborator: the reverse proxy in front of
// this port is expected to gate access.
type AdminHandler struct {
	freezer *FreezeController
}

// NewAdminHandler wraps a freeze controller.
func NewAdminHandler(freezer *FreezeController) *AdminHandler {
	return &AdminHandler{freezer: freezer}
}

// RegisterRoutes installs the admin routes on mux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/admin/auctions/{handle}/freeze", h.handleFreeze)
	mux.HandleFunc("POST /api/admin/auctions/{handle}/unfreeze", h.handleUnfreeze)
	mux.HandleFunc("POST /api/admin/auctions/{handle}/slash", h.handleSlash)
	log.Info().Msg("admin routes registered")
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) handleFreeze(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")

	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.freezer.Freeze(r.Context(), handle, req.Reason)
	if err != nil {
		writeOperationError(w, handle, "freeze", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":                true,
		"handle":            result.Handle,
		"remaining_seconds": result.RemainingSeconds,
		"tx_hash":           result.TxHash,
	})
}

func (h *AdminHandler) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")

	result, err := h.freezer.Unfreeze(r.Context(), handle)
	if err != nil {
		writeOperationError(w, handle, "unfreeze", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":                true,
		"handle":            result.Handle,
		"new_end_time":      result.NewEndTime,
		"remaining_seconds": result.RemainingSeconds,
		"tx_hash":           result.TxHash,
	})
}

func (h *AdminHandler) handleSlash(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")

	// The reason is optional for a slash.
	var req reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	result, err := h.freezer.Slash(r.Context(), handle, req.Reason)
	if err != nil {
		writeOperationError(w, handle, "slash", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"handle":  result.Handle,
		"reason":  result.Reason,
		"tx_hash": result.TxHash,
	})
}

func writeOperationError(w http.ResponseWriter, handle, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "auction not found")
	case errors.Is(err, ErrNotLive), errors.Is(err, ErrNotFrozen), errors.Is(err, ErrReasonRequired):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("handle", handle).Str("op", op).Msg("admin operation failed")
		writeError(w, http.StatusBadGateway, "ledger operation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": msg})
}
