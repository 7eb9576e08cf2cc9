package models

import (
	"time"
)

// AuctionStatus defines the persisted lifecycle status of an auction.
type AuctionStatus string

const (
	AuctionStatusPending AuctionStatus = "PENDING"
	AuctionStatusLive    AuctionStatus = "LIVE"
	AuctionStatusFrozen  AuctionStatus = "FROZEN"
	AuctionStatusSlashed AuctionStatus = "SLASHED"
	AuctionStatusSold    AuctionStatus = "SOLD"
	AuctionStatusUnsold  AuctionStatus = "UNSOLD"
)

// Terminal reports whether the status admits no further transitions.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionStatusSlashed || s == AuctionStatusSold || s == AuctionStatusUnsold
}

// NoBidder is the sentinel bidder value for an auction with no bids yet.
// It is distinct from an empty string so a present-but-zero-stake address
// can never be confused with "nobody has bid".
const NoBidder = "-"

// Auction is the durable auction record held in the document store.
// Handle is the on-ledger contract address and is immutable once assigned.
type Auction struct {
	ID            string        `bson:"_id" json:"id"`
	Handle        string        `bson:"handle" json:"handle"`
	Name          string        `bson:"name" json:"name"`
	Description   string        `bson:"description,omitempty" json:"description,omitempty"`
	SellerWallet  string        `bson:"sellerWallet,omitempty" json:"sellerWallet,omitempty"`
	StartingPrice float64       `bson:"startingPrice" json:"startingPrice"`
	Status        AuctionStatus `bson:"status" json:"status"`

	// AuctionEndTime is absolute Unix seconds. After an unfreeze it is
	// recalculated server-side and takes precedence over the ledger's own
	// immutable end time whenever it is later and still in the future.
	AuctionEndTime int64 `bson:"auctionEndTime" json:"auctionEndTime"`

	// BiddingTime is the frozen remaining-seconds snapshot. It is meaningful
	// only while status is FROZEN and just after an unfreeze.
	BiddingTime int64 `bson:"biddingTime" json:"biddingTime"`

	HighestBid    float64 `bson:"highestBid" json:"highestBid"`
	HighestBidder string  `bson:"highestBidder" json:"highestBidder"`

	FreezeReason string     `bson:"freezeReason,omitempty" json:"freezeReason,omitempty"`
	FrozenAt     *time.Time `bson:"frozenAt,omitempty" json:"frozenAt,omitempty"`
	FreezeTxHash string     `bson:"freezeTxHash,omitempty" json:"freezeTxHash,omitempty"`
	UnfreezeTx   string     `bson:"unfreezeTxHash,omitempty" json:"unfreezeTxHash,omitempty"`

	SlashReason string     `bson:"slashReason,omitempty" json:"slashReason,omitempty"`
	SlashedAt   *time.Time `bson:"slashedAt,omitempty" json:"slashedAt,omitempty"`
	SlashTxHash string     `bson:"slashTxHash,omitempty" json:"slashTxHash,omitempty"`

	// Finalized guards the terminal SOLD/UNSOLD write. It is flipped exactly
	// once by the finalization monitor.
	Finalized   bool       `bson:"finalized" json:"finalized"`
	Winner      string     `bson:"winner,omitempty" json:"winner,omitempty"`
	WinningBid  float64    `bson:"winningBid" json:"winningBid"`
	NoBids      bool       `bson:"noBidder,omitempty" json:"noBidder,omitempty"`
	FinalizedAt *time.Time `bson:"finalizedAt,omitempty" json:"finalizedAt,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
