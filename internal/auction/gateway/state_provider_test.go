package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/char-123717/AuctiChain/internal/auction/repository"
	"github.com/char-123717/AuctiChain/internal/models"
)

type fakeReader struct {
	auctions map[string]*models.Auction
}

func (f *fakeReader) GetByHandle(ctx context.Context, handle string) (*models.Auction, error) {
	rec, ok := f.auctions[handle]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeReader) ListByStatus(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error) {
	var out []models.Auction
	for _, rec := range f.auctions {
		if rec.Status == status {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func TestSummarizeRecord(t *testing.T) {
	now := time.Unix(1_000_000, 0)

	t.Run("live auction counts down from end time", func(t *testing.T) {
		p := summarizeRecord(&models.Auction{
			Handle:         "0xabc",
			Status:         models.AuctionStatusLive,
			AuctionEndTime: now.Unix() + 90,
			HighestBid:     1.5,
			HighestBidder:  "0xbidder",
		}, now)
		if p.Phase != "LIVE" || p.SecondsLeft != 90 || p.Ended || p.Frozen {
			t.Errorf("summary = %+v, want LIVE with 90s left", p)
		}
	})

	t.Run("live auction without bids is INIT", func(t *testing.T) {
		p := summarizeRecord(&models.Auction{
			Handle:         "0xabc",
			Status:         models.AuctionStatusLive,
			AuctionEndTime: now.Unix() + 90,
		}, now)
		if p.Phase != "INIT" {
			t.Errorf("Phase = %s, want INIT", p.Phase)
		}
		if p.HighestBidder != models.NoBidder {
			t.Errorf("HighestBidder = %q, want %q sentinel", p.HighestBidder, models.NoBidder)
		}
	})

	t.Run("frozen auction reports the held snapshot", func(t *testing.T) {
		p := summarizeRecord(&models.Auction{
			Handle:         "0xabc",
			Status:         models.AuctionStatusFrozen,
			AuctionEndTime: now.Unix() - 600,
			BiddingTime:    45,
		}, now)
		if !p.Frozen || p.SecondsLeft != 45 || p.BiddingTime != 45 || p.Ended {
			t.Errorf("summary = %+v, want frozen 45s snapshot", p)
		}
	})

	t.Run("sold auction reports the winner", func(t *testing.T) {
		p := summarizeRecord(&models.Auction{
			Handle:         "0xabc",
			Status:         models.AuctionStatusSold,
			AuctionEndTime: now.Unix() - 600,
			HighestBid:     2.0,
			HighestBidder:  "0xbidder",
			Winner:         "0xwinner",
			WinningBid:     2.5,
			Finalized:      true,
		}, now)
		if !p.Ended || p.Phase != "ENDED" {
			t.Errorf("summary = %+v, want ended", p)
		}
		if p.HighestBidder != "0xwinner" || p.HighestBid != 2.5 {
			t.Errorf("summary reports %s/%v, want finalized winner 0xwinner/2.5", p.HighestBidder, p.HighestBid)
		}
	})

	t.Run("expired but unfinalized auction is ENDED", func(t *testing.T) {
		p := summarizeRecord(&models.Auction{
			Handle:         "0xabc",
			Status:         models.AuctionStatusLive,
			AuctionEndTime: now.Unix() - 5,
			HighestBid:     1.0,
			HighestBidder:  "0xbidder",
		}, now)
		if p.Phase != "ENDED" || !p.Ended || p.SecondsLeft != 0 {
			t.Errorf("summary = %+v, want ENDED with 0s", p)
		}
	})
}

func TestGetActiveAuctions(t *testing.T) {
	now := time.Now()
	provider := NewStateProvider(&fakeReader{auctions: map[string]*models.Auction{
		"0xlive":   {Handle: "0xlive", Status: models.AuctionStatusLive, AuctionEndTime: now.Unix() + 60},
		"0xfrozen": {Handle: "0xfrozen", Status: models.AuctionStatusFrozen, BiddingTime: 30},
		"0xsold":   {Handle: "0xsold", Status: models.AuctionStatusSold},
	}})

	summaries, err := provider.GetActiveAuctions(context.Background())
	if err != nil {
		t.Fatalf("GetActiveAuctions() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2 (live + frozen)", len(summaries))
	}
	for _, s := range summaries {
		if s.Handle == "0xsold" {
			t.Error("terminal auction included in lobby summaries")
		}
	}
}

func TestGetAuctionStateNotFound(t *testing.T) {
	provider := NewStateProvider(&fakeReader{auctions: map[string]*models.Auction{}})
	if _, err := provider.GetAuctionState(context.Background(), "0xmissing"); err == nil {
		t.Error("GetAuctionState() succeeded for unknown handle")
	}
}
