package engine

import (
	"context"
	"sync"
	"time"

	"github.com/char-123717/AuctiChain/internal/auction/ledger"
	"github.com/char-123717/AuctiChain/internal/auction/repository"
	"github.com/char-123717/AuctiChain/internal/auction/stream"
	"github.com/char-123717/AuctiChain/internal/models"
)

// fakeRepo is an in-memory PersistenceGateway with the same conditional
// write semantics as the real document store.
type fakeRepo struct {
	mu       sync.Mutex
	auctions map[string]*models.Auction

	getErr      error
	listErr     error
	finalizeErr error
}

func newFakeRepo(records ...*models.Auction) *fakeRepo {
	r := &fakeRepo{auctions: make(map[string]*models.Auction)}
	for _, rec := range records {
		cp := *rec
		r.auctions[rec.Handle] = &cp
	}
	return r
}

func (r *fakeRepo) add(rec *models.Auction) {
	r.mu.Lock()
	cp := *rec
	r.auctions[rec.Handle] = &cp
	r.mu.Unlock()
}

func (r *fakeRepo) get(handle string) models.Auction {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.auctions[handle]
	if !ok {
		return models.Auction{}
	}
	return *rec
}

func (r *fakeRepo) GetByHandle(ctx context.Context, handle string) (*models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	rec, ok := r.auctions[handle]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRepo) ListByStatus(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []models.Auction
	for _, rec := range r.auctions {
		if rec.Status == status {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListExpiredLive(ctx context.Context, now time.Time) ([]models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []models.Auction
	for _, rec := range r.auctions {
		if rec.Status == models.AuctionStatusLive && rec.AuctionEndTime > 0 && rec.AuctionEndTime <= now.Unix() {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateHighestBid(ctx context.Context, handle string, bid float64, bidder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.auctions[handle]
	if !ok {
		return nil
	}
	// Monotonic, like the document store filter.
	if rec.HighestBid <= bid {
		rec.HighestBid = bid
		rec.HighestBidder = bidder
	}
	return nil
}

func (r *fakeRepo) MarkFrozen(ctx context.Context, handle, reason string, remainingSeconds int64, frozenAt time.Time, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.auctions[handle]
	if !ok {
		return repository.ErrNotFound
	}
	rec.Status = models.AuctionStatusFrozen
	rec.FreezeReason = reason
	rec.BiddingTime = remainingSeconds
	rec.FrozenAt = &frozenAt
	rec.FreezeTxHash = txHash
	return nil
}

func (r *fakeRepo) MarkUnfrozen(ctx context.Context, handle string, newEndTime, biddingTime int64, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.auctions[handle]
	if !ok {
		return repository.ErrNotFound
	}
	rec.Status = models.AuctionStatusLive
	rec.AuctionEndTime = newEndTime
	rec.BiddingTime = biddingTime
	rec.UnfreezeTx = txHash
	rec.FreezeReason = ""
	rec.FrozenAt = nil
	return nil
}

func (r *fakeRepo) MarkSlashed(ctx context.Context, handle, reason string, slashedAt time.Time, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.auctions[handle]
	if !ok {
		return repository.ErrNotFound
	}
	rec.Status = models.AuctionStatusSlashed
	rec.SlashReason = reason
	rec.SlashedAt = &slashedAt
	rec.SlashTxHash = txHash
	return nil
}

func (r *fakeRepo) Finalize(ctx context.Context, handle string, status models.AuctionStatus, winner string, winningBid float64, finalizedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalizeErr != nil {
		return false, r.finalizeErr
	}
	rec, ok := r.auctions[handle]
	if !ok {
		return false, nil
	}
	// Same guard as the conditional document write.
	if rec.Status != models.AuctionStatusLive || rec.Finalized {
		return false, nil
	}
	rec.Status = status
	rec.Finalized = true
	rec.Winner = winner
	rec.WinningBid = winningBid
	rec.FinalizedAt = &finalizedAt
	if status == models.AuctionStatusUnsold {
		rec.NoBids = true
		rec.Winner = ""
	}
	return true, nil
}

// fakeReader serves canned ledger snapshots.
type fakeReader struct {
	mu    sync.Mutex
	snaps map[string]ledger.Snapshot
	err   error
	calls int
}

func newFakeReader() *fakeReader {
	return &fakeReader{snaps: make(map[string]ledger.Snapshot)}
}

func (f *fakeReader) set(handle string, snap ledger.Snapshot) {
	f.mu.Lock()
	f.snaps[handle] = snap
	f.mu.Unlock()
}

func (f *fakeReader) ReadAuction(ctx context.Context, handle string) (ledger.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return ledger.Snapshot{}, f.err
	}
	return f.snaps[handle], nil
}

// fakeContract records administrative calls and returns canned results.
type fakeContract struct {
	mu       sync.Mutex
	result   ledger.TxResult
	err      error
	freezes  []string
	unfreeze []string
	slashes  []string
}

func newFakeContract() *fakeContract {
	return &fakeContract{result: ledger.TxResult{Outcome: ledger.TxApplied, TxHash: "0xtx"}}
}

func (f *fakeContract) Freeze(ctx context.Context, handle, reason string) (ledger.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ledger.TxResult{Outcome: ledger.TxFailed}, f.err
	}
	f.freezes = append(f.freezes, handle)
	return f.result, nil
}

func (f *fakeContract) Unfreeze(ctx context.Context, handle string) (ledger.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ledger.TxResult{Outcome: ledger.TxFailed}, f.err
	}
	f.unfreeze = append(f.unfreeze, handle)
	return f.result, nil
}

func (f *fakeContract) Slash(ctx context.Context, handle string) (ledger.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ledger.TxResult{Outcome: ledger.TxFailed}, f.err
	}
	f.slashes = append(f.slashes, handle)
	return f.result, nil
}

// capturePublisher records published events.
type capturePublisher struct {
	mu     sync.Mutex
	events []stream.Event
}

func (p *capturePublisher) Publish(ctx context.Context, event stream.Event) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

// drainSink empties the engine's event buffer without running the pump, so
// tests see exactly the events emitted by the calls they made.
func drainSink(e *Engine) []stream.Event {
	var out []stream.Event
	for {
		select {
		case ev := <-e.sink.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventsOfType(evs []stream.Event, typ string) []stream.Event {
	var out []stream.Event
	for _, ev := range evs {
		if string(ev.Type) == typ {
			out = append(out, ev)
		}
	}
	return out
}
