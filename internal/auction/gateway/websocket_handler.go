package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/AuctiChain/internal/auction/events"
	"github.com/char-123717/AuctiChain/internal/auction/stream"
)

const snapshotTimeout = 5 * time.Second

// WebSocketHandler handles WebSocket upgrade requests for auction connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	stateProvider     *StateProvider
	nc                *nats.Conn
}

// NewWebSocketHandler creates a new WebSocket handler. The NATS connection is
// used to relay client bid observations to the engine as hints; it may be nil
// in tests.
func NewWebSocketHandler(cm *ConnectionManager, sp *StateProvider, nc *nats.Conn) *WebSocketHandler {
	h := &WebSocketHandler{
		connectionManager: cm,
		stateProvider:     sp,
		nc:                nc,
	}
	cm.SetClientMessageHandler(h.handleClientMessage)
	return h
}

// HandleAuctionConnection handles WebSocket connections for a single auction
func (h *WebSocketHandler) HandleAuctionConnection(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")
	if handle == "" {
		http.Error(w, "handle is required", http.StatusBadRequest)
		return
	}

	conn, err := h.connectionManager.UpgradeConnection(w, r, handle)
	if err != nil {
		log.Error().
			Err(err).
			Str("handle", handle).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	h.sendAuctionSnapshot(r.Context(), conn, handle)
}

// HandleLobbyConnection handles WebSocket connections for the lobby overview
func (h *WebSocketHandler) HandleLobbyConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.connectionManager.UpgradeConnection(w, r, LobbyTopic)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade lobby WebSocket connection")
		return
	}

	h.sendLobbySnapshot(r.Context(), conn)
}

// sendAuctionSnapshot pushes the current state of one auction to a freshly
// subscribed connection, so the client renders before the first tick arrives.
func (h *WebSocketHandler) sendAuctionSnapshot(ctx context.Context, conn *Connection, handle string) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	payload, err := h.stateProvider.GetAuctionState(ctx, handle)
	if err != nil {
		log.Warn().Err(err).Str("handle", handle).Msg("failed to load initial auction snapshot")
		return
	}

	event, err := stream.NewEvent(events.TypeState, handle, payload)
	if err != nil {
		log.Error().Err(err).Str("handle", handle).Msg("failed to build snapshot event")
		return
	}
	h.connectionManager.SendToConnection(conn, &event)
}

// sendLobbySnapshot pushes one state event per active auction to a new lobby
// subscriber.
func (h *WebSocketHandler) sendLobbySnapshot(ctx context.Context, conn *Connection) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	summaries, err := h.stateProvider.GetActiveAuctions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load lobby snapshot")
		return
	}

	for i := range summaries {
		event, err := stream.NewEvent(events.TypeState, summaries[i].Handle, &summaries[i])
		if err != nil {
			log.Error().Err(err).Str("handle", summaries[i].Handle).Msg("failed to build lobby snapshot event")
			continue
		}
		h.connectionManager.SendToConnection(conn, &event)
	}
}

// handleClientMessage relays bid observations from clients to the engine.
// The hint is untrusted: the engine verifies against the ledger before any
// state changes, so a bogus hint costs one ledger read at most.
func (h *WebSocketHandler) handleClientMessage(conn *Connection, message []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().
			Str("connection_id", conn.ID).
			Msg("ignoring malformed client message")
		return
	}

	switch msg.Type {
	case "bid_observed":
		if conn.Topic == LobbyTopic {
			// Lobby connections have no auction to hint about
			return
		}
		if h.nc == nil {
			return
		}
		if err := stream.PublishHint(h.nc, conn.Topic); err != nil {
			log.Warn().
				Err(err).
				Str("handle", conn.Topic).
				Msg("failed to publish bid hint")
		}
	default:
		log.Debug().
			Str("connection_id", conn.ID).
			Str("type", msg.Type).
			Msg("ignoring unknown client message type")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	w.Write([]byte("{"))
	w.Write([]byte("\"total_connections\":" + strconv.Itoa(stats["total_connections"].(int)) + ","))
	w.Write([]byte("\"active_topics\":" + strconv.Itoa(stats["active_topics"].(int))))
	w.Write([]byte("}"))
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/auction", h.HandleAuctionConnection)
	mux.HandleFunc("/ws/lobby", h.HandleLobbyConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
