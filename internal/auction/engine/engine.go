// Package engine drives the in-memory auction cache: the per-second timer
// loop, the ledger reconciler, the freeze/unfreeze/slash controller, and
// the finalization monitor. All components share one state.Store and
// serialize per-handle mutation through a keyed lock.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/AuctiChain/internal/auction/ledger"
	"github.com/char-123717/AuctiChain/internal/auction/state"
	"github.com/char-123717/AuctiChain/internal/auction/stream"
	"github.com/char-123717/AuctiChain/internal/models"
)

// PersistenceGateway is what the engine needs from the durable auction
// record store.
type PersistenceGateway interface {
	GetByHandle(ctx context.Context, handle string) (*models.Auction, error)
	ListByStatus(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error)
	ListExpiredLive(ctx context.Context, now time.Time) ([]models.Auction, error)
	UpdateHighestBid(ctx context.Context, handle string, bid float64, bidder string) error
	MarkFrozen(ctx context.Context, handle, reason string, remainingSeconds int64, frozenAt time.Time, txHash string) error
	MarkUnfrozen(ctx context.Context, handle string, newEndTime, biddingTime int64, txHash string) error
	MarkSlashed(ctx context.Context, handle, reason string, slashedAt time.Time, txHash string) error
	Finalize(ctx context.Context, handle string, status models.AuctionStatus, winner string, winningBid float64, finalizedAt time.Time) (bool, error)
}

// Publisher writes auction events to the broadcast stream.
type Publisher interface {
	Publish(ctx context.Context, event stream.Event) error
}

// Options holds the loop periods and limits.
type Options struct {
	TickInterval       time.Duration
	ReconcileInterval  time.Duration
	FinalizeInterval   time.Duration
	LedgerTimeout      time.Duration
	MaxConcurrentSyncs int
}

func (o *Options) fillDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = 30 * time.Second
	}
	if o.FinalizeInterval <= 0 {
		o.FinalizeInterval = 30 * time.Second
	}
	if o.LedgerTimeout <= 0 {
		o.LedgerTimeout = 30 * time.Second
	}
	if o.MaxConcurrentSyncs <= 0 {
		o.MaxConcurrentSyncs = 8
	}
}

// Engine wires the components over a shared store and runs their loops.
type Engine struct {
	Store      *state.Store
	Timer      *TimerEngine
	Reconciler *Reconciler
	Freezer    *FreezeController
	Finalizer  *FinalizationMonitor

	sink *eventSink
}

// New builds an engine. The clock is injected so tests can drive time.
func New(repo PersistenceGateway, reader ledger.Reader, contract ledger.ContractClient, publisher Publisher, clock clockwork.Clock, opts Options) *Engine {
	opts.fillDefaults()

	store := state.NewStore()
	locks := newHandleLocks()
	sink := newEventSink(publisher)

	reconciler := &Reconciler{
		store:         store,
		repo:          repo,
		reader:        reader,
		sink:          sink,
		clock:         clock,
		locks:         locks,
		interval:      opts.ReconcileInterval,
		ledgerTimeout: opts.LedgerTimeout,
		maxConcurrent: opts.MaxConcurrentSyncs,
		inFlight:      make(map[string]bool),
	}

	return &Engine{
		Store: store,
		Timer: &TimerEngine{
			store:    store,
			sink:     sink,
			clock:    clock,
			interval: opts.TickInterval,
		},
		Reconciler: reconciler,
		Freezer: &FreezeController{
			store:    store,
			repo:     repo,
			contract: contract,
			sink:     sink,
			clock:    clock,
			locks:    locks,
		},
		Finalizer: &FinalizationMonitor{
			store:         store,
			repo:          repo,
			reader:        reader,
			sink:          sink,
			clock:         clock,
			locks:         locks,
			interval:      opts.FinalizeInterval,
			ledgerTimeout: opts.LedgerTimeout,
			processed:     make(map[string]bool),
		},
		sink: sink,
	}
}

// Run bootstraps the cache from the persisted records and runs all loops
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Reconciler.Bootstrap(ctx); err != nil {
		return err
	}

	go e.sink.run(ctx)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); e.Timer.Run(ctx) }()
	go func() { defer wg.Done(); e.Reconciler.Run(ctx) }()
	go func() { defer wg.Done(); e.Finalizer.Run(ctx) }()
	wg.Wait()
	return nil
}

// SubscribeHints routes bid-observed hints to an early reconcile of the
// named handle. The hint is only a trigger; the ledger read decides what is
// actually broadcast. Track collapses duplicate hints for a handle while a
// sync is in flight, so a flood of hints cannot pile up goroutines.
func (e *Engine) SubscribeHints(ctx context.Context, nc *nats.Conn) (*nats.Subscription, error) {
	return stream.SubscribeHints(nc, func(h stream.Hint) {
		go func() {
			if err := e.Reconciler.Track(ctx, h.Handle); err != nil {
				log.Warn().Err(err).Str("handle", h.Handle).Msg("hinted sync failed")
			}
		}()
	})
}

// eventSink decouples event producers from the broadcast stream. The timer
// loop must never block on a slow publisher, so sends drop when the buffer
// is full; the next tick supersedes anything dropped.
type eventSink struct {
	publisher Publisher
	ch        chan stream.Event
}

func newEventSink(publisher Publisher) *eventSink {
	return &eventSink{
		publisher: publisher,
		ch:        make(chan stream.Event, 1024),
	}
}

func (s *eventSink) emit(event stream.Event) {
	select {
	case s.ch <- event:
	default:
		log.Warn().
			Str("event_type", string(event.Type)).
			Str("handle", event.Handle).
			Msg("event buffer full, dropping")
	}
}

func (s *eventSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.ch:
			if err := s.publisher.Publish(ctx, event); err != nil {
				log.Error().
					Err(err).
					Str("event_type", string(event.Type)).
					Str("handle", event.Handle).
					Msg("failed to publish event")
			}
		}
	}
}

// handleLocks serializes all state-mutating operations for a single handle
// (freeze, unfreeze, slash, reconcile, finalize) while leaving unrelated
// handles fully parallel.
type handleLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newHandleLocks() *handleLocks {
	return &handleLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the handle's mutex and returns its unlock func.
func (h *handleLocks) lock(handle string) func() {
	h.mu.Lock()
	m, ok := h.locks[handle]
	if !ok {
		m = &sync.Mutex{}
		h.locks[handle] = m
	}
	h.mu.Unlock()

	m.Lock()
	return m.Unlock
}
