package engine

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/AuctiChain/internal/auction/events"
	"github.com/char-123717/AuctiChain/internal/auction/ledger"
	"github.com/char-123717/AuctiChain/internal/auction/state"
	"github.com/char-123717/AuctiChain/internal/auction/stream"
	"github.com/char-123717/AuctiChain/internal/models"
)

// FinalizationMonitor detects expired LIVE auctions and transitions them to
// SOLD or UNSOLD exactly once, based on final ledger truth. It is the only
// component allowed to write the terminal SOLD/UNSOLD status; the persisted
// finalized guard plus a conditional write keeps the transition
// exactly-once across restarts and concurrent ticks.
type FinalizationMonitor struct {
	store  *state.Store
	repo   PersistenceGateway
	reader ledger.Reader
	sink   *eventSink
	clock  clockwork.Clock
	locks  *handleLocks

	interval      time.Duration
	ledgerTimeout time.Duration

	// processed is the in-process "already being handled" guard. Entries
	// are dropped on failure so the next tick retries.
	mu        sync.Mutex
	processed map[string]bool
}

// Run scans on a fixed interval until ctx is cancelled.
func (m *FinalizationMonitor) Run(ctx context.Context) {
	log.Info().Dur("interval", m.interval).Msg("finalization monitor started")
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	// One pass right away so auctions that expired while the process was
	// down are settled promptly.
	m.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("finalization monitor stopped")
			return
		case <-ticker.Chan():
			m.Tick(ctx)
		}
	}
}

// Tick runs one expiry scan. Each expired handle is bounded by its own
// ledger timeout so a stuck read cannot stall detection of the others.
func (m *FinalizationMonitor) Tick(ctx context.Context) {
	records, err := m.repo.ListExpiredLive(ctx, m.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("expiry scan failed")
		return
	}

	var wg sync.WaitGroup
	for _, rec := range records {
		if rec.Handle == "" {
			continue
		}

		m.mu.Lock()
		if m.processed[rec.Handle] {
			m.mu.Unlock()
			continue
		}
		m.processed[rec.Handle] = true
		m.mu.Unlock()

		wg.Add(1)
		go func(handle string) {
			defer wg.Done()
			if err := m.finalizeOne(ctx, handle); err != nil {
				log.Error().Err(err).Str("handle", handle).Msg("finalization failed, will retry")
				m.release(handle)
			}
		}(rec.Handle)
	}
	wg.Wait()
}

// finalizeOne performs the guarded terminal transition for one handle.
func (m *FinalizationMonitor) finalizeOne(ctx context.Context, handle string) error {
	unlock := m.locks.lock(handle)
	defer unlock()

	// Re-fetch immediately before finalizing: a freeze may have landed
	// between the expiry scan and this point, and a frozen auction must
	// never be finalized.
	rec, err := m.repo.GetByHandle(ctx, handle)
	if err != nil {
		return err
	}
	if rec.Status != models.AuctionStatusLive || rec.Finalized {
		log.Info().
			Str("handle", handle).
			Str("status", string(rec.Status)).
			Msg("no longer live, skipping finalization")
		m.release(handle)
		return nil
	}

	readCtx, cancel := context.WithTimeout(ctx, m.ledgerTimeout)
	snap, err := m.reader.ReadAuction(readCtx, handle)
	cancel()
	if err != nil {
		return err
	}

	now := m.clock.Now()
	status := models.AuctionStatusUnsold
	winner := ""
	winningBid := 0.0
	if snap.HighestBidder != models.NoBidder && snap.HighestBid > 0 {
		status = models.AuctionStatusSold
		winner = snap.HighestBidder
		winningBid = snap.HighestBid
	}

	applied, err := m.repo.Finalize(ctx, handle, status, winner, winningBid, now.UTC())
	if err != nil {
		return err
	}
	if !applied {
		// Lost the race to a concurrent monitor or a freeze; the winner
		// owns the broadcast.
		log.Info().Str("handle", handle).Msg("finalization already applied elsewhere")
		m.release(handle)
		return nil
	}

	m.store.Remove(handle)

	log.Info().
		Str("handle", handle).
		Str("status", string(status)).
		Str("winner", winner).
		Float64("winning_bid", winningBid).
		Msg("auction finalized")

	event, err := stream.NewEvent(events.TypeFinalized, handle, events.FinalizedPayload{
		Handle:      handle,
		Status:      string(status),
		Winner:      winner,
		WinningBid:  winningBid,
		FinalizedAt: now.UTC(),
	})
	if err != nil {
		// The terminal write already happened; a lost broadcast is
		// recovered through the snapshot path.
		log.Error().Err(err).Str("handle", handle).Msg("failed to build finalized event")
		return nil
	}
	m.sink.emit(event)
	return nil
}

func (m *FinalizationMonitor) release(handle string) {
	m.mu.Lock()
	delete(m.processed, handle)
	m.mu.Unlock()
}
