package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/AuctiChain/internal/auction/events"
	"github.com/char-123717/AuctiChain/internal/auction/ledger"
	"github.com/char-123717/AuctiChain/internal/auction/repository"
	"github.com/char-123717/AuctiChain/internal/auction/state"
	"github.com/char-123717/AuctiChain/internal/auction/stream"
	"github.com/char-123717/AuctiChain/internal/models"
)

// endTimeSource tags which time source won the expiry precedence rule.
type endTimeSource string

const (
	sourceLedger    endTimeSource = "ledger"
	sourcePersisted endTimeSource = "persisted"
)

// effectiveEndTime resolves the dual time sources for a live auction. The
// ledger's expiry field is immutable once deployed; after an unfreeze the
// server recalculates the expiry and persists it, so the persisted value
// wins whenever it is later than the ledger's and still in the future.
func effectiveEndTime(status models.AuctionStatus, persistedEnd, ledgerEnd int64, now time.Time) (int64, endTimeSource) {
	if status == models.AuctionStatusLive && persistedEnd > ledgerEnd && persistedEnd > now.Unix() {
		return persistedEnd, sourcePersisted
	}
	return ledgerEnd, sourceLedger
}

// Reconciler keeps the in-memory cache eventually consistent with ledger
// truth without ever regressing time or bids. Frozen handles are left
// untouched: their snapshot is authoritative until an unfreeze.
type Reconciler struct {
	store  *state.Store
	repo   PersistenceGateway
	reader ledger.Reader
	sink   *eventSink
	clock  clockwork.Clock
	locks  *handleLocks

	interval      time.Duration
	ledgerTimeout time.Duration
	maxConcurrent int

	mu       sync.Mutex
	inFlight map[string]bool
}

// Bootstrap seeds the cache from every persisted LIVE and FROZEN record and
// runs one immediate sync pass, so a restarted engine resumes countdowns
// without waiting a full reconcile interval.
func (r *Reconciler) Bootstrap(ctx context.Context) error {
	if err := r.enroll(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	log.Info().Int("tracked", r.store.Len()).Msg("auction cache bootstrapped")
	r.SyncAll(ctx)
	return nil
}

// enroll lists every persisted LIVE and FROZEN record and seeds the ones
// not yet in the cache. Auctions that go live after engine start are
// picked up here on the next sync pass instead of waiting for a restart.
func (r *Reconciler) enroll(ctx context.Context) error {
	for _, status := range []models.AuctionStatus{models.AuctionStatusLive, models.AuctionStatusFrozen} {
		records, err := r.repo.ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("list %s auctions: %w", status, err)
		}
		for _, rec := range records {
			if rec.Handle == "" {
				continue
			}
			if _, tracked := r.store.Get(rec.Handle); tracked {
				continue
			}
			r.seed(rec)
			log.Info().Str("handle", rec.Handle).Str("status", string(status)).Msg("tracking auction")
		}
	}
	return nil
}

// seed installs a persisted record into the cache without a ledger read.
func (r *Reconciler) seed(rec models.Auction) {
	frozen := rec.Status == models.AuctionStatusFrozen
	r.store.Upsert(rec.Handle, func(st *state.RuntimeState) {
		st.EndTimeUnix = rec.AuctionEndTime
		st.Frozen = frozen
		if frozen {
			st.RemainingSeconds = rec.BiddingTime
		}
		if rec.HighestBid >= st.HighestBid {
			st.HighestBid = rec.HighestBid
			st.HighestBidder = rec.HighestBidder
		}
		if st.HighestBidder == "" {
			st.HighestBidder = models.NoBidder
		}
	})
}

// Run performs the slow sync loop until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	log.Info().Dur("interval", r.interval).Msg("reconciler started")
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconciler stopped")
			return
		case <-ticker.Chan():
			r.SyncAll(ctx)
		}
	}
}

// SyncAll enrolls newly active records and refreshes every tracked
// handle. Handles are processed concurrently up to maxConcurrent so one
// slow ledger read cannot serialize the rest; a handle already being
// synced is skipped.
func (r *Reconciler) SyncAll(ctx context.Context) {
	if err := r.enroll(ctx); err != nil {
		log.Warn().Err(err).Msg("auction discovery failed")
	}

	sem := make(chan struct{}, r.maxConcurrent)
	var wg sync.WaitGroup

	for _, handle := range r.store.Handles() {
		r.mu.Lock()
		if r.inFlight[handle] {
			r.mu.Unlock()
			continue
		}
		r.inFlight[handle] = true
		r.mu.Unlock()

		wg.Add(1)
		sem <- struct{}{}
		go func(handle string) {
			defer wg.Done()
			defer func() {
				<-sem
				r.mu.Lock()
				delete(r.inFlight, handle)
				r.mu.Unlock()
			}()

			if err := r.SyncHandle(ctx, handle); err != nil {
				log.Warn().Err(err).Str("handle", handle).Msg("reconcile failed")
			}
		}(handle)
	}

	wg.Wait()
}

// SyncHandle refreshes one handle from the persisted record and the ledger.
// A ledger read failure leaves the cached state untouched; the next tick
// retries.
func (r *Reconciler) SyncHandle(ctx context.Context, handle string) error {
	unlock := r.locks.lock(handle)
	defer unlock()

	rec, err := r.repo.GetByHandle(ctx, handle)
	if errors.Is(err, repository.ErrNotFound) {
		// Record deleted out from under us; stop tracking.
		r.store.Remove(handle)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}

	if rec.Status.Terminal() {
		r.store.Remove(handle)
		return nil
	}

	if rec.Status == models.AuctionStatusFrozen {
		// The frozen snapshot is authoritative; no ledger read, no time
		// update. Just make sure the cache reflects the freeze.
		r.seed(*rec)
		return nil
	}

	readCtx, cancel := context.WithTimeout(ctx, r.ledgerTimeout)
	snap, err := r.reader.ReadAuction(readCtx, handle)
	cancel()
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	now := r.clock.Now()
	endTime, src := effectiveEndTime(rec.Status, rec.AuctionEndTime, snap.EndTimeUnix, now)
	if src == sourcePersisted {
		log.Debug().
			Str("handle", handle).
			Int64("persisted_end", rec.AuctionEndTime).
			Int64("ledger_end", snap.EndTimeUnix).
			Msg("persisted end time wins over ledger")
	}

	var bidAdvanced bool
	st := r.store.Upsert(handle, func(st *state.RuntimeState) {
		st.Frozen = false
		st.RemainingSeconds = 0
		st.EndTimeUnix = endTime
		// Monotonic guard: never let a stale read regress a newer bid.
		if snap.HighestBid >= st.HighestBid {
			bidAdvanced = snap.HighestBid > st.HighestBid
			st.HighestBid = snap.HighestBid
			st.HighestBidder = snap.HighestBidder
		}
		if st.HighestBidder == "" {
			st.HighestBidder = models.NoBidder
		}
	})

	if st.HighestBid > 0 {
		if err := r.repo.UpdateHighestBid(ctx, handle, st.HighestBid, st.HighestBidder); err != nil {
			log.Warn().Err(err).Str("handle", handle).Msg("failed to persist highest bid")
		}
	}

	if bidAdvanced {
		event, err := stream.NewEvent(events.TypeBidUpdated, handle, events.BidUpdatedPayload{
			Handle:        handle,
			HighestBid:    st.HighestBid,
			HighestBidder: st.HighestBidder,
		})
		if err != nil {
			return err
		}
		r.sink.emit(event)
	}

	return nil
}

// Track syncs one handle on demand. Concurrent requests for the same
// handle collapse into a single sync, so a burst of bid hints costs at
// most one ledger read.
func (r *Reconciler) Track(ctx context.Context, handle string) error {
	r.mu.Lock()
	if r.inFlight[handle] {
		r.mu.Unlock()
		return nil
	}
	r.inFlight[handle] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inFlight, handle)
		r.mu.Unlock()
	}()

	return r.SyncHandle(ctx, handle)
}
