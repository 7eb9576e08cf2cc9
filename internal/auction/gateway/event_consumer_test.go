package gateway

import (
	"encoding/json"
	"testing"

	"github.com/char-123717/AuctiChain/internal/auction/events"
	"github.com/char-123717/AuctiChain/internal/auction/stream"
)

func TestRouteEventFansOutToTopics(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	ec := &EventConsumer{connectionManager: cm}

	event, err := stream.NewEvent(events.TypeFrozen, "0xabc", events.FrozenPayload{
		Handle: "0xabc",
		Reason: "seller under review",
	})
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	if err := ec.routeEvent("auction.events.Frozen", data); err != nil {
		t.Fatalf("routeEvent() error = %v", err)
	}

	got := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case m := <-cm.broadcastCh:
			got[m.Topic] = true
		default:
			t.Fatalf("queued %d broadcasts, want 2", i)
		}
	}
	if !got["0xabc"] || !got[LobbyTopic] {
		t.Errorf("broadcast topics = %v, want auction topic and lobby", got)
	}
}

func TestRouteEventRejectsMalformedPayload(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	ec := &EventConsumer{connectionManager: cm}

	// Valid envelope, payload that does not decode as a bid update.
	data := []byte(`{
		"eventId": "11111111-1111-1111-1111-111111111111",
		"eventType": "BidUpdated",
		"handle": "0xabc",
		"payload": {"highest_bid": "plenty"}
	}`)

	if err := ec.routeEvent("auction.events.BidUpdated", data); err == nil {
		t.Fatal("routeEvent() accepted an undecodable payload")
	}

	select {
	case m := <-cm.broadcastCh:
		t.Errorf("rejected event still broadcast to %q", m.Topic)
	default:
	}
}

func TestRouteEventRejectsBadEnvelope(t *testing.T) {
	ec := &EventConsumer{connectionManager: NewConnectionManager(DefaultConnectionConfig())}
	if err := ec.routeEvent("auction.events.TimerTick", []byte(`{"eventId":`)); err == nil {
		t.Fatal("routeEvent() accepted a truncated envelope")
	}
}
