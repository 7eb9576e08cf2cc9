package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/char-123717/AuctiChain/internal/auction/events"
	"github.com/char-123717/AuctiChain/internal/models"
)

// AuctionReader is the slice of the persistence gateway the gateway needs:
// snapshot lookups only, no writes.
type AuctionReader interface {
	GetByHandle(ctx context.Context, handle string) (*models.Auction, error)
	ListByStatus(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error)
}

// StateProvider supplies initial state snapshots for new subscribers and the
// REST state endpoint. The engine owns the live countdown; the provider only
// reads the durable record, so a snapshot can lag the stream by a tick.
type StateProvider struct {
	repo AuctionReader
}

// NewStateProvider creates a snapshot provider over the auction repository.
func NewStateProvider(repo AuctionReader) *StateProvider {
	return &StateProvider{repo: repo}
}

// GetAuctionState returns the snapshot for one auction. Terminal auctions
// short-circuit to their finalized record so late joiners see the outcome
// without waiting for any stream event.
func (p *StateProvider) GetAuctionState(ctx context.Context, handle string) (*events.StatePayload, error) {
	record, err := p.repo.GetByHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("get auction state: %w", err)
	}
	payload := summarizeRecord(record, time.Now())
	return &payload, nil
}

// GetActiveAuctions returns lobby summaries for every LIVE and FROZEN
// auction.
func (p *StateProvider) GetActiveAuctions(ctx context.Context) ([]events.StatePayload, error) {
	live, err := p.repo.ListByStatus(ctx, models.AuctionStatusLive)
	if err != nil {
		return nil, fmt.Errorf("list live auctions: %w", err)
	}
	frozen, err := p.repo.ListByStatus(ctx, models.AuctionStatusFrozen)
	if err != nil {
		return nil, fmt.Errorf("list frozen auctions: %w", err)
	}

	now := time.Now()
	out := make([]events.StatePayload, 0, len(live)+len(frozen))
	for i := range live {
		out = append(out, summarizeRecord(&live[i], now))
	}
	for i := range frozen {
		out = append(out, summarizeRecord(&frozen[i], now))
	}
	return out, nil
}

// summarizeRecord shapes a durable record into the wire summary. Remaining
// time comes from the frozen snapshot while frozen and from the end time
// otherwise; the two are never mixed.
func summarizeRecord(record *models.Auction, now time.Time) events.StatePayload {
	payload := events.StatePayload{
		Handle:        record.Handle,
		Status:        string(record.Status),
		HighestBid:    record.HighestBid,
		HighestBidder: record.HighestBidder,
	}
	if payload.HighestBidder == "" {
		payload.HighestBidder = models.NoBidder
	}

	switch {
	case record.Status.Terminal():
		payload.Phase = "ENDED"
		payload.Ended = true
		if record.Status == models.AuctionStatusSold {
			payload.HighestBidder = record.Winner
			payload.HighestBid = record.WinningBid
		}

	case record.Status == models.AuctionStatusFrozen:
		payload.Phase = "FROZEN"
		payload.Frozen = true
		payload.SecondsLeft = record.BiddingTime
		payload.BiddingTime = record.BiddingTime

	default:
		left := record.AuctionEndTime - now.Unix()
		if left < 0 {
			left = 0
		}
		payload.SecondsLeft = left
		payload.Ended = left == 0
		if payload.Ended {
			payload.Phase = "ENDED"
		} else if record.HighestBid > 0 {
			payload.Phase = "LIVE"
		} else {
			payload.Phase = "INIT"
		}
	}

	return payload
}
