// Package repository is the persistence gateway over the document store
// holding the durable auction records. The engine only needs lookups by
// handle, field updates, and status listings; everything else about the
// item schema belongs to the moderation and listing services.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/char-123717/AuctiChain/internal/models"
)

// ErrNotFound is returned when no auction record exists for a handle.
var ErrNotFound = errors.New("auction not found")

const collectionName = "auctions"

// Repository implements the persistence gateway on MongoDB.
type Repository struct {
	col *mongo.Collection
}

// New returns a repository over the given database.
func New(db *mongo.Database) *Repository {
	return &Repository{col: db.Collection(collectionName)}
}

// Connect dials MongoDB and verifies the connection.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client.Database(database), nil
}

// GetByHandle fetches the record for an on-ledger auction handle.
func (r *Repository) GetByHandle(ctx context.Context, handle string) (*models.Auction, error) {
	var a models.Auction
	err := r.col.FindOne(ctx, bson.M{"handle": handle}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get auction %s: %w", handle, err)
	}
	return &a, nil
}

// ListByStatus returns all records with the given status.
func (r *Repository) ListByStatus(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error) {
	cur, err := r.col.Find(ctx, bson.M{"status": status})
	if err != nil {
		return nil, fmt.Errorf("list auctions by status %s: %w", status, err)
	}
	defer cur.Close(ctx)

	var out []models.Auction
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode auctions: %w", err)
	}
	return out, nil
}

// ListExpiredLive returns LIVE records whose end time has passed. Frozen
// records are excluded by status, so a frozen auction can never show up in
// an expiry scan.
func (r *Repository) ListExpiredLive(ctx context.Context, now time.Time) ([]models.Auction, error) {
	filter := bson.M{
		"status":         models.AuctionStatusLive,
		"auctionEndTime": bson.M{"$gt": 0, "$lte": now.Unix()},
	}
	cur, err := r.col.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list expired auctions: %w", err)
	}
	defer cur.Close(ctx)

	var out []models.Auction
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode expired auctions: %w", err)
	}
	return out, nil
}

// UpdateHighestBid persists a ledger-verified bid refresh. The filter makes
// the write monotonic: a stale lower value can never overwrite a newer,
// higher one, even across processes. A filtered-out write is not an error.
func (r *Repository) UpdateHighestBid(ctx context.Context, handle string, bid float64, bidder string) error {
	filter := bson.M{
		"handle":     handle,
		"highestBid": bson.M{"$lte": bid},
	}
	update := bson.M{"$set": bson.M{
		"highestBid":    bid,
		"highestBidder": bidder,
		"updatedAt":     time.Now().UTC(),
	}}
	if _, err := r.col.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("update highest bid for %s: %w", handle, err)
	}
	return nil
}

// MarkFrozen persists the FROZEN transition together with the remaining
// seconds snapshot (biddingTime doubles as the pause buffer).
func (r *Repository) MarkFrozen(ctx context.Context, handle, reason string, remainingSeconds int64, frozenAt time.Time, txHash string) error {
	update := bson.M{"$set": bson.M{
		"status":       models.AuctionStatusFrozen,
		"freezeReason": reason,
		"frozenAt":     frozenAt,
		"biddingTime":  remainingSeconds,
		"freezeTxHash": txHash,
		"updatedAt":    time.Now().UTC(),
	}}
	res, err := r.col.UpdateOne(ctx, bson.M{"handle": handle}, update)
	if err != nil {
		return fmt.Errorf("mark %s frozen: %w", handle, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUnfrozen returns the record to LIVE with the recalculated end time.
func (r *Repository) MarkUnfrozen(ctx context.Context, handle string, newEndTime int64, biddingTime int64, txHash string) error {
	update := bson.M{
		"$set": bson.M{
			"status":         models.AuctionStatusLive,
			"auctionEndTime": newEndTime,
			"biddingTime":    biddingTime,
			"unfreezeTxHash": txHash,
			"updatedAt":      time.Now().UTC(),
		},
		"$unset": bson.M{
			"freezeReason": "",
			"frozenAt":     "",
		},
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"handle": handle}, update)
	if err != nil {
		return fmt.Errorf("mark %s unfrozen: %w", handle, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSlashed persists the terminal SLASHED transition.
func (r *Repository) MarkSlashed(ctx context.Context, handle, reason string, slashedAt time.Time, txHash string) error {
	update := bson.M{"$set": bson.M{
		"status":      models.AuctionStatusSlashed,
		"slashReason": reason,
		"slashedAt":   slashedAt,
		"slashTxHash": txHash,
		"updatedAt":   time.Now().UTC(),
	}}
	res, err := r.col.UpdateOne(ctx, bson.M{"handle": handle}, update)
	if err != nil {
		return fmt.Errorf("mark %s slashed: %w", handle, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Finalize performs the terminal SOLD/UNSOLD write. The filter requires the
// record to still be LIVE and not yet finalized, so concurrent monitors and
// restarted processes get exactly one applied write; losers report
// applied == false and no-op.
func (r *Repository) Finalize(ctx context.Context, handle string, status models.AuctionStatus, winner string, winningBid float64, finalizedAt time.Time) (bool, error) {
	if status != models.AuctionStatusSold && status != models.AuctionStatusUnsold {
		return false, fmt.Errorf("finalize %s: %s is not a terminal auction status", handle, status)
	}

	set := bson.M{
		"status":      status,
		"finalized":   true,
		"winner":      winner,
		"winningBid":  winningBid,
		"finalizedAt": finalizedAt,
		"updatedAt":   time.Now().UTC(),
	}
	if status == models.AuctionStatusUnsold {
		set["noBidder"] = true
		set["winner"] = ""
	}

	filter := bson.M{
		"handle":    handle,
		"status":    models.AuctionStatusLive,
		"finalized": bson.M{"$ne": true},
	}
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("finalize %s: %w", handle, err)
	}
	return res.ModifiedCount == 1, nil
}
