package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/char-123717/AuctiChain/internal/auction/events"
	"github.com/char-123717/AuctiChain/internal/auction/stream"
)

func newTestConnection(cm *ConnectionManager, topic string) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		Topic:       topic,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}
}

func TestUnregisterDuringSendDoesNotPanic(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	conn := newTestConnection(cm, "0xabc")
	cm.registerConnection(conn)

	event := &stream.Event{
		ID:     uuid.New(),
		Type:   events.TypeTimerTick,
		Handle: "0xabc",
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			cm.SendToConnection(conn, event)
		}
	}()

	cm.unregisterConnection(conn)
	wg.Wait()

	// A second unregister of the same connection is a no-op.
	cm.unregisterConnection(conn)
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	conn := newTestConnection(cm, "0xabc")
	cm.registerConnection(conn)
	cm.unregisterConnection(conn)

	if !conn.trySend([]byte(`{}`)) {
		t.Error("send on a closed connection reported as buffer-full")
	}
	select {
	case _, ok := <-conn.Send:
		if ok {
			t.Error("message queued after close")
		}
	default:
		t.Error("send channel not closed after unregister")
	}
}

func TestBroadcastReachesTopicConnections(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	subscribed := newTestConnection(cm, "0xabc")
	other := newTestConnection(cm, "0xother")
	cm.registerConnection(subscribed)
	cm.registerConnection(other)

	event := &stream.Event{
		ID:     uuid.New(),
		Type:   events.TypeTimerTick,
		Handle: "0xabc",
	}
	cm.handleBroadcast(BroadcastMessage{Topic: "0xabc", Event: event})

	select {
	case <-subscribed.Send:
	default:
		t.Error("subscribed connection received nothing")
	}
	select {
	case <-other.Send:
		t.Error("connection on another topic received the event")
	default:
	}
}
