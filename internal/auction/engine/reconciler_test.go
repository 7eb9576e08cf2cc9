package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/char-123717/AuctiChain/internal/auction/events"
	"github.com/char-123717/AuctiChain/internal/auction/ledger"
	"github.com/char-123717/AuctiChain/internal/auction/state"
	"github.com/char-123717/AuctiChain/internal/models"
)

func TestEffectiveEndTime(t *testing.T) {
	now := time.Unix(1_000_000, 0)

	tests := []struct {
		name       string
		status     models.AuctionStatus
		persisted  int64
		ledgerEnd  int64
		wantEnd    int64
		wantSource endTimeSource
	}{
		{
			name:       "ledger wins when persisted is older",
			status:     models.AuctionStatusLive,
			persisted:  now.Unix() + 10,
			ledgerEnd:  now.Unix() + 100,
			wantEnd:    now.Unix() + 100,
			wantSource: sourceLedger,
		},
		{
			name:       "persisted wins after an unfreeze extension",
			status:     models.AuctionStatusLive,
			persisted:  now.Unix() + 300,
			ledgerEnd:  now.Unix() + 100,
			wantEnd:    now.Unix() + 300,
			wantSource: sourcePersisted,
		},
		{
			name:       "stale persisted value in the past is ignored",
			status:     models.AuctionStatusLive,
			persisted:  now.Unix() - 50,
			ledgerEnd:  now.Unix() - 100,
			wantEnd:    now.Unix() - 100,
			wantSource: sourceLedger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, src := effectiveEndTime(tt.status, tt.persisted, tt.ledgerEnd, now)
			if got != tt.wantEnd || src != tt.wantSource {
				t.Errorf("effectiveEndTime() = %d (%s), want %d (%s)", got, src, tt.wantEnd, tt.wantSource)
			}
		})
	}
}

func TestSyncHandleMonotonicBids(t *testing.T) {
	start := time.Unix(1_000_000, 0)
	clock := clockwork.NewFakeClockAt(start)
	repo := newFakeRepo(liveRecord("0xabc", start.Unix()+600))
	reader := newFakeReader()
	eng := newTestEngine(repo, reader, newFakeContract(), clock)

	// A sequence of ledger reads including a stale regression. The cache
	// and the persisted record must only ever move forward.
	sequence := []float64{0, 1.0, 0.5, 2.0}
	var updates []float64
	for _, bid := range sequence {
		bidder := models.NoBidder
		if bid > 0 {
			bidder = "0xbidder"
		}
		reader.set("0xabc", ledger.Snapshot{
			EndTimeUnix:   start.Unix() + 600,
			HighestBid:    bid,
			HighestBidder: bidder,
		})
		if err := eng.Reconciler.SyncHandle(context.Background(), "0xabc"); err != nil {
			t.Fatalf("SyncHandle(bid=%v) error = %v", bid, err)
		}
		for _, ev := range eventsOfType(drainSink(eng), "BidUpdated") {
			var p events.BidUpdatedPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				t.Fatalf("unmarshal bid payload: %v", err)
			}
			updates = append(updates, p.HighestBid)
		}
	}

	st, _ := eng.Store.Get("0xabc")
	if st.HighestBid != 2.0 || st.HighestBidder != "0xbidder" {
		t.Errorf("cached bid = %v/%s, want 2.0/0xbidder", st.HighestBid, st.HighestBidder)
	}
	if rec := repo.get("0xabc"); rec.HighestBid != 2.0 {
		t.Errorf("persisted bid = %v, want 2.0", rec.HighestBid)
	}

	// Only genuine increases broadcast; the stale 0.5 read is silent.
	want := []float64{1.0, 2.0}
	if len(updates) != len(want) {
		t.Fatalf("bid updates = %v, want %v", updates, want)
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Errorf("bid updates = %v, want %v", updates, want)
			break
		}
	}
}

func TestSyncHandlePersistedEndTimeWins(t *testing.T) {
	start := time.Unix(1_000_000, 0)
	clock := clockwork.NewFakeClockAt(start)

	// Unfrozen auction: the server-recalculated end time is ahead of the
	// contract's immutable one.
	rec := liveRecord("0xabc", start.Unix()+400)
	repo := newFakeRepo(rec)
	reader := newFakeReader()
	reader.set("0xabc", ledger.Snapshot{
		EndTimeUnix:   start.Unix() + 100,
		HighestBidder: models.NoBidder,
	})
	eng := newTestEngine(repo, reader, newFakeContract(), clock)

	if err := eng.Reconciler.SyncHandle(context.Background(), "0xabc"); err != nil {
		t.Fatalf("SyncHandle() error = %v", err)
	}
	st, _ := eng.Store.Get("0xabc")
	if st.EndTimeUnix != start.Unix()+400 {
		t.Errorf("EndTimeUnix = %d, want persisted %d", st.EndTimeUnix, start.Unix()+400)
	}
}

func TestSyncHandleReadFailureKeepsState(t *testing.T) {
	start := time.Unix(1_000_000, 0)
	clock := clockwork.NewFakeClockAt(start)
	repo := newFakeRepo(liveRecord("0xabc", start.Unix()+600))
	reader := newFakeReader()
	eng := newTestEngine(repo, reader, newFakeContract(), clock)

	reader.set("0xabc", ledger.Snapshot{
		EndTimeUnix:   start.Unix() + 600,
		HighestBid:    1.5,
		HighestBidder: "0xbidder",
	})
	if err := eng.Reconciler.SyncHandle(context.Background(), "0xabc"); err != nil {
		t.Fatalf("SyncHandle() error = %v", err)
	}
	drainSink(eng)

	reader.err = errors.New("rpc unreachable")
	if err := eng.Reconciler.SyncHandle(context.Background(), "0xabc"); err == nil {
		t.Fatal("SyncHandle() succeeded despite read failure")
	}

	// Known-good state survives the outage.
	st, ok := eng.Store.Get("0xabc")
	if !ok || st.HighestBid != 1.5 || st.EndTimeUnix != start.Unix()+600 {
		t.Errorf("cached state = %+v after failed read, want previous values intact", st)
	}
	if evs := drainSink(eng); len(evs) != 0 {
		t.Errorf("%d events emitted from a failed read", len(evs))
	}
}

func TestSyncHandleDropsTerminalAndMissing(t *testing.T) {
	start := time.Unix(1_000_000, 0)
	clock := clockwork.NewFakeClockAt(start)

	sold := liveRecord("0xsold", start.Unix()+600)
	sold.Status = models.AuctionStatusSold
	repo := newFakeRepo(sold)
	eng := newTestEngine(repo, newFakeReader(), newFakeContract(), clock)

	eng.Store.Upsert("0xsold", func(st *state.RuntimeState) {})
	eng.Store.Upsert("0xgone", func(st *state.RuntimeState) {})

	if err := eng.Reconciler.SyncHandle(context.Background(), "0xsold"); err != nil {
		t.Fatalf("SyncHandle(terminal) error = %v", err)
	}
	if err := eng.Reconciler.SyncHandle(context.Background(), "0xgone"); err != nil {
		t.Fatalf("SyncHandle(missing) error = %v", err)
	}

	if _, ok := eng.Store.Get("0xsold"); ok {
		t.Error("terminal auction still tracked")
	}
	if _, ok := eng.Store.Get("0xgone"); ok {
		t.Error("deleted auction still tracked")
	}
}

func TestSyncHandleFrozenSkipsLedger(t *testing.T) {
	start := time.Unix(1_000_000, 0)
	clock := clockwork.NewFakeClockAt(start)

	frozen := liveRecord("0xabc", start.Unix()+600)
	frozen.Status = models.AuctionStatusFrozen
	frozen.BiddingTime = 45
	repo := newFakeRepo(frozen)
	reader := newFakeReader()
	eng := newTestEngine(repo, reader, newFakeContract(), clock)

	if err := eng.Reconciler.SyncHandle(context.Background(), "0xabc"); err != nil {
		t.Fatalf("SyncHandle() error = %v", err)
	}

	if reader.calls != 0 {
		t.Errorf("ledger read %d times for a frozen auction, want 0", reader.calls)
	}
	st, ok := eng.Store.Get("0xabc")
	if !ok || !st.Frozen || st.RemainingSeconds != 45 {
		t.Errorf("cached state = %+v, want frozen 45s snapshot", st)
	}
}

func TestBootstrapSeedsActiveAuctions(t *testing.T) {
	start := time.Unix(1_000_000, 0)
	clock := clockwork.NewFakeClockAt(start)

	live := liveRecord("0xlive", start.Unix()+600)
	live.HighestBid = 0.5
	live.HighestBidder = "0xbidder"
	frozen := liveRecord("0xfrozen", start.Unix()+600)
	frozen.Status = models.AuctionStatusFrozen
	frozen.BiddingTime = 99
	sold := liveRecord("0xsold", start.Unix()+600)
	sold.Status = models.AuctionStatusSold

	repo := newFakeRepo(live, frozen, sold)
	reader := newFakeReader()
	reader.set("0xlive", ledger.Snapshot{
		EndTimeUnix:   start.Unix() + 600,
		HighestBid:    0.5,
		HighestBidder: "0xbidder",
	})
	eng := newTestEngine(repo, reader, newFakeContract(), clock)

	if err := eng.Reconciler.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	if eng.Store.Len() != 2 {
		t.Errorf("Len() = %d after bootstrap, want 2 (live + frozen)", eng.Store.Len())
	}
	st, _ := eng.Store.Get("0xlive")
	if st.HighestBid != 0.5 || st.HighestBidder != "0xbidder" {
		t.Errorf("seeded live state = %+v", st)
	}
	st, _ = eng.Store.Get("0xfrozen")
	if !st.Frozen || st.RemainingSeconds != 99 {
		t.Errorf("seeded frozen state = %+v, want frozen 99s", st)
	}
	if _, ok := eng.Store.Get("0xsold"); ok {
		t.Error("terminal auction seeded into cache")
	}
}

func TestSyncAllEnrollsNewlyLiveAuctions(t *testing.T) {
	start := time.Unix(1_000_000, 0)
	clock := clockwork.NewFakeClockAt(start)

	repo := newFakeRepo()
	reader := newFakeReader()
	eng := newTestEngine(repo, reader, newFakeContract(), clock)

	if err := eng.Reconciler.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if eng.Store.Len() != 0 {
		t.Fatalf("Len() = %d after empty bootstrap, want 0", eng.Store.Len())
	}

	// A listing goes live while the engine is already running.
	repo.add(liveRecord("0xnew", start.Unix()+120))
	reader.set("0xnew", ledger.Snapshot{
		EndTimeUnix:   start.Unix() + 120,
		HighestBidder: models.NoBidder,
	})

	eng.Reconciler.SyncAll(context.Background())

	st, ok := eng.Store.Get("0xnew")
	if !ok {
		t.Fatal("auction that went live after bootstrap is not tracked")
	}
	if st.EndTimeUnix != start.Unix()+120 {
		t.Errorf("EndTimeUnix = %d, want %d", st.EndTimeUnix, start.Unix()+120)
	}

	drainSink(eng)
	eng.Timer.tick()
	ticks := eventsOfType(drainSink(eng), "TimerTick")
	if len(ticks) != 1 || ticks[0].Handle != "0xnew" {
		t.Fatalf("timer ticks after enrollment = %+v, want one for 0xnew", ticks)
	}
}

func TestSyncAllEnrollsNewlyFrozenAuctions(t *testing.T) {
	start := time.Unix(1_000_000, 0)
	clock := clockwork.NewFakeClockAt(start)

	repo := newFakeRepo()
	eng := newTestEngine(repo, newFakeReader(), newFakeContract(), clock)

	if err := eng.Reconciler.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	frozen := liveRecord("0xcold", start.Unix()+600)
	frozen.Status = models.AuctionStatusFrozen
	frozen.BiddingTime = 77
	repo.add(frozen)

	eng.Reconciler.SyncAll(context.Background())

	st, ok := eng.Store.Get("0xcold")
	if !ok || !st.Frozen || st.RemainingSeconds != 77 {
		t.Errorf("cached state = %+v, want frozen 77s snapshot", st)
	}
}

func TestTrackCollapsesConcurrentRequests(t *testing.T) {
	start := time.Unix(1_000_000, 0)
	clock := clockwork.NewFakeClockAt(start)

	repo := newFakeRepo(liveRecord("0xabc", start.Unix()+600))
	reader := newFakeReader()
	reader.set("0xabc", ledger.Snapshot{
		EndTimeUnix:   start.Unix() + 600,
		HighestBidder: models.NoBidder,
	})
	eng := newTestEngine(repo, reader, newFakeContract(), clock)
	r := eng.Reconciler

	// A sync already in flight for the handle absorbs further requests.
	r.mu.Lock()
	r.inFlight["0xabc"] = true
	r.mu.Unlock()

	if err := r.Track(context.Background(), "0xabc"); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if reader.calls != 0 {
		t.Errorf("ledger read %d times while a sync was in flight, want 0", reader.calls)
	}

	r.mu.Lock()
	delete(r.inFlight, "0xabc")
	r.mu.Unlock()

	if err := r.Track(context.Background(), "0xabc"); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if reader.calls != 1 {
		t.Errorf("ledger read %d times, want 1", reader.calls)
	}
	if _, ok := eng.Store.Get("0xabc"); !ok {
		t.Error("handle not tracked after Track")
	}
}
