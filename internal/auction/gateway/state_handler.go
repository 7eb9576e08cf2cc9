package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/char-123717/AuctiChain/internal/auction/repository"
)

// StateHandler serves REST snapshots of auction state. WebSocket clients get
// the same shape pushed on subscribe; this path exists for pollers and for
// late joiners checking a finalized outcome.
type StateHandler struct {
	stateProvider *StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider *StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetAuctionState handles GET /api/auctions/{handle}
func (h *StateHandler) HandleGetAuctionState(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if handle == "" {
		http.Error(w, "auction handle is required", http.StatusBadRequest)
		return
	}

	payload, err := h.stateProvider.GetAuctionState(r.Context(), handle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "auction not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("handle", handle).Msg("failed to get auction state")
		http.Error(w, "failed to get auction state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode auction state response")
	}
}

// HandleGetActiveAuctions handles GET /api/auctions
func (h *StateHandler) HandleGetActiveAuctions(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.stateProvider.GetActiveAuctions(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get active auctions")
		http.Error(w, "failed to get active auctions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summaries); err != nil {
		log.Error().Err(err).Msg("failed to encode active auctions response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/auctions", h.HandleGetActiveAuctions)
	mux.HandleFunc("GET /api/auctions/{handle}", h.HandleGetAuctionState)
}
