// Package stream carries auction events and bid-observed hints over NATS.
// Events flow through a JetStream stream so the gateway can consume them
// durably; hints are fire-and-forget core NATS messages.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/AuctiChain/internal/auction/events"
)

// HintSubject is the subject bid-observed hints are published on. The
// auction handle travels in the message body.
const HintSubject = "auction.hints.bid_observed"

// Event is the envelope written to the stream.
type Event struct {
	ID        uuid.UUID       `json:"eventId"`
	Type      events.Type     `json:"eventType"`
	Handle    string          `json:"handle"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent wraps a payload in an envelope. Marshalling the payload here
// keeps publishers from shipping half-built events.
func NewEvent(typ events.Type, handle string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:        uuid.New(),
		Type:      typ,
		Handle:    handle,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}

// JetStreamConfig holds connection and stream settings.
type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration
	MaxMsgs         int64
	Replicas        int
	DuplicateWindow time.Duration
}

// DefaultJetStreamConfig returns settings suitable for a single-node deploy.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "AUCTION_EVENTS",
		SubjectPrefix:   "auction.events",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// JetStreamPublisher publishes auction events to the event stream.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

// NewJetStreamPublisher connects to NATS and ensures the stream exists.
func NewJetStreamPublisher(cfg JetStreamConfig) (*JetStreamPublisher, error) {
	nc, err := Connect(cfg.URL, cfg.MaxReconnects, cfg.ReconnectWait)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{nc: nc, js: js, config: cfg}

	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

// Connect dials NATS with the reconnect handlers used across the project.
func Connect(url string, maxReconnects int, reconnectWait time.Duration) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Auction state delta stream",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}

	stream, err := p.js.Stream(ctx, p.config.StreamName)
	if err != nil {
		if _, err = p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", p.config.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = p.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", p.config.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

// Publish writes one event to the stream. The event ID doubles as the
// JetStream dedupe ID.
func (p *JetStreamPublisher) Publish(ctx context.Context, event Event) error {
	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(event.Type)},
			"Handle":     []string{event.Handle},
			"Event-ID":   []string{event.ID.String()},
		},
	},
		jetstream.WithMsgID(event.ID.String()),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("handle", event.Handle).
		Uint64("sequence", ack.Sequence).
		Msg("published to JetStream")

	return nil
}

// Conn exposes the underlying connection for hint subscriptions so the
// engine does not need a second NATS client.
func (p *JetStreamPublisher) Conn() *nats.Conn {
	return p.nc
}

// Close releases the NATS connection.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}

// Hint is a client-observed bid notification. It is only ever a trigger for
// an early reconcile; the ledger remains the source of truth.
type Hint struct {
	Handle     string    `json:"handle"`
	ObservedAt time.Time `json:"observed_at"`
}

// PublishHint sends a bid-observed hint on the core NATS subject.
func PublishHint(nc *nats.Conn, handle string) error {
	data, err := json.Marshal(Hint{Handle: handle, ObservedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal hint: %w", err)
	}
	if err := nc.Publish(HintSubject, data); err != nil {
		return fmt.Errorf("publish hint: %w", err)
	}
	return nil
}

// SubscribeHints delivers decoded hints to fn until the subscription is
// drained or unsubscribed.
func SubscribeHints(nc *nats.Conn, fn func(Hint)) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(HintSubject, func(msg *nats.Msg) {
		var h Hint
		if err := json.Unmarshal(msg.Data, &h); err != nil {
			log.Warn().Err(err).Msg("dropping malformed bid hint")
			return
		}
		if h.Handle == "" {
			return
		}
		fn(h)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe hints: %w", err)
	}
	return sub, nil
}
