package events

import (
	"time"
)

// Event payload types shared between the engine and gateway packages.

// Type identifies an auction event.
type Type string

const (
	TypeTimerTick  Type = "TimerTick"
	TypeBidUpdated Type = "BidUpdated"
	TypeState      Type = "AuctionState"
	TypeFrozen     Type = "Frozen"
	TypeUnfrozen   Type = "Unfrozen"
	TypeSlashed    Type = "Slashed"
	TypeFinalized  Type = "Finalized"
)

// TimerTickPayload is the per-second countdown update for one auction.
// Ticks are idempotently superseded by the next tick, so delivery is
// best-effort.
type TimerTickPayload struct {
	Handle      string    `json:"handle"`
	SecondsLeft int64     `json:"seconds_left"`
	Ended       bool      `json:"ended"`
	Frozen      bool      `json:"frozen"`
	TickedAt    time.Time `json:"ticked_at"`
}

// BidUpdatedPayload carries a ledger-verified bid refresh.
type BidUpdatedPayload struct {
	Handle        string  `json:"handle"`
	HighestBid    float64 `json:"highest_bid"`
	HighestBidder string  `json:"highest_bidder"`
}

// StatePayload is the lobby-shaped summary of one auction, also used as the
// initial snapshot for new subscribers.
type StatePayload struct {
	Handle        string  `json:"handle"`
	Status        string  `json:"status,omitempty"`
	Phase         string  `json:"phase"`
	HighestBid    float64 `json:"highest_bid"`
	HighestBidder string  `json:"highest_bidder"`
	SecondsLeft   int64   `json:"seconds_left"`
	Ended         bool    `json:"ended"`
	Frozen        bool    `json:"frozen"`
	BiddingTime   int64   `json:"bidding_time,omitempty"`
}

// FrozenPayload is emitted when an admin freezes an auction.
type FrozenPayload struct {
	Handle           string    `json:"handle"`
	Reason           string    `json:"reason"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	FrozenAt         time.Time `json:"frozen_at"`
}

// UnfrozenPayload is emitted when an admin resumes a frozen auction.
type UnfrozenPayload struct {
	Handle           string    `json:"handle"`
	NewEndTime       int64     `json:"new_end_time"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	UnfrozenAt       time.Time `json:"unfrozen_at"`
}

// SlashedPayload is emitted on the terminal slash transition.
type SlashedPayload struct {
	Handle    string    `json:"handle"`
	Reason    string    `json:"reason"`
	SlashedAt time.Time `json:"slashed_at"`
}

// FinalizedPayload is the one-shot terminal SOLD/UNSOLD event. Late joiners
// recover it from the snapshot path rather than the stream.
type FinalizedPayload struct {
	Handle      string    `json:"handle"`
	Status      string    `json:"status"`
	Winner      string    `json:"winner,omitempty"`
	WinningBid  float64   `json:"winning_bid"`
	FinalizedAt time.Time `json:"finalized_at"`
}
