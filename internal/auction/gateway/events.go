package gateway

import (
	"encoding/json"

	"github.com/char-123717/AuctiChain/internal/auction/events"
	"github.com/char-123717/AuctiChain/internal/auction/stream"
)

// LobbyTopic is the shared topic carrying summaries of all active auctions,
// as opposed to per-handle detail topics.
const LobbyTopic = "lobby"

// ParseEventPayload decodes an event envelope's payload into its typed
// struct. Unknown types decode to nil without error so a newer engine does
// not break an older gateway.
func ParseEventPayload(event *stream.Event) (interface{}, error) {
	switch event.Type {
	case events.TypeTimerTick:
		var payload events.TimerTickPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeBidUpdated:
		var payload events.BidUpdatedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeState:
		var payload events.StatePayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeFrozen:
		var payload events.FrozenPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeUnfrozen:
		var payload events.UnfrozenPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeSlashed:
		var payload events.SlashedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeFinalized:
		var payload events.FinalizedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil
	}
}

// topicsFor decides which topics an event is delivered to. Ticks and bid
// updates belong to the auction's own topic, lobby summaries to the lobby;
// lifecycle transitions go to both so dashboards and detail views stay in
// step.
func topicsFor(event *stream.Event) []string {
	switch event.Type {
	case events.TypeState:
		return []string{LobbyTopic}
	case events.TypeTimerTick, events.TypeBidUpdated:
		return []string{event.Handle}
	case events.TypeFrozen, events.TypeUnfrozen, events.TypeSlashed, events.TypeFinalized:
		return []string{event.Handle, LobbyTopic}
	default:
		return []string{event.Handle}
	}
}
