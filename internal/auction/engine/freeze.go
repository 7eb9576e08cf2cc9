package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/AuctiChain/internal/auction/events"
	"github.com/char-123717/AuctiChain/internal/auction/ledger"
	"github.com/char-123717/AuctiChain/internal/auction/state"
	"github.com/char-123717/AuctiChain/internal/auction/stream"
	"github.com/char-123717/AuctiChain/internal/models"
)

// minUnfreezeWindow is the floor applied to the remaining time on unfreeze,
// so resuming never produces a near-zero auction window.
const minUnfreezeWindow int64 = 60

// Precondition failures, rejected before any ledger call is attempted.
var (
	ErrNotLive        = errors.New("only live auctions can be frozen")
	ErrNotFrozen      = errors.New("auction is not frozen")
	ErrReasonRequired = errors.New("freeze reason is required")
)

// FreezeController implements the administrative pause/resume/slash state
// machine: LIVE -> FROZEN -> LIVE, or FROZEN -> SLASHED (terminal). Each
// operation runs to completion before returning and is all-or-nothing: a
// failed ledger call leaves no local state change behind.
type FreezeController struct {
	store    *state.Store
	repo     PersistenceGateway
	contract ledger.ContractClient
	sink     *eventSink
	clock    clockwork.Clock
	locks    *handleLocks
}

// FreezeResult carries the timing fields the caller needs to render an
// immediate confirmation.
type FreezeResult struct {
	Handle           string `json:"handle"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	TxHash           string `json:"tx_hash,omitempty"`
}

// UnfreezeResult reports the recalculated window after a resume.
type UnfreezeResult struct {
	Handle           string `json:"handle"`
	NewEndTime       int64  `json:"new_end_time"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	TxHash           string `json:"tx_hash,omitempty"`
}

// SlashResult reports the terminal slash.
type SlashResult struct {
	Handle string `json:"handle"`
	Reason string `json:"reason"`
	TxHash string `json:"tx_hash,omitempty"`
}

// Freeze pauses a LIVE auction, snapshotting its remaining seconds. The
// snapshot is taken before the ledger call so the time spent waiting for
// the transaction to mine is not charged to the auction.
func (f *FreezeController) Freeze(ctx context.Context, handle, reason string) (*FreezeResult, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}

	unlock := f.locks.lock(handle)
	defer unlock()

	rec, err := f.repo.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.AuctionStatusLive {
		return nil, fmt.Errorf("%w (status %s)", ErrNotLive, rec.Status)
	}

	now := f.clock.Now()
	remaining := rec.AuctionEndTime - now.Unix()
	if remaining < 0 {
		remaining = 0
	}

	res, err := f.contract.Freeze(ctx, handle, reason)
	if err != nil || !res.Succeeded() {
		if err == nil {
			err = fmt.Errorf("freeze %s: ledger call failed: %s", handle, res.Reason)
		}
		return nil, err
	}

	if err := f.repo.MarkFrozen(ctx, handle, reason, remaining, now.UTC(), res.TxHash); err != nil {
		return nil, fmt.Errorf("persist freeze for %s: %w", handle, err)
	}

	f.store.Upsert(handle, func(st *state.RuntimeState) {
		st.Frozen = true
		st.RemainingSeconds = remaining
	})

	log.Info().
		Str("handle", handle).
		Str("reason", reason).
		Int64("remaining_seconds", remaining).
		Str("outcome", string(res.Outcome)).
		Msg("auction frozen")

	f.broadcast(events.TypeFrozen, handle, events.FrozenPayload{
		Handle:           handle,
		Reason:           reason,
		RemainingSeconds: remaining,
		FrozenAt:         now.UTC(),
	})

	return &FreezeResult{Handle: handle, RemainingSeconds: remaining, TxHash: res.TxHash}, nil
}

// Unfreeze resumes a FROZEN auction. The new end time is now plus the
// frozen snapshot (floored to minUnfreezeWindow), so time spent frozen is
// fully excluded from the countdown.
func (f *FreezeController) Unfreeze(ctx context.Context, handle string) (*UnfreezeResult, error) {
	unlock := f.locks.lock(handle)
	defer unlock()

	rec, err := f.repo.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.AuctionStatusFrozen {
		return nil, fmt.Errorf("%w (status %s)", ErrNotFrozen, rec.Status)
	}

	remaining := rec.BiddingTime
	if remaining < minUnfreezeWindow {
		log.Info().
			Str("handle", handle).
			Int64("bidding_time", remaining).
			Int64("floor", minUnfreezeWindow).
			Msg("remaining window below floor, extending")
		remaining = minUnfreezeWindow
	}

	res, err := f.contract.Unfreeze(ctx, handle)
	if err != nil || !res.Succeeded() {
		if err == nil {
			err = fmt.Errorf("unfreeze %s: ledger call failed: %s", handle, res.Reason)
		}
		return nil, err
	}

	now := f.clock.Now()
	newEndTime := now.Unix() + remaining

	if err := f.repo.MarkUnfrozen(ctx, handle, newEndTime, remaining, res.TxHash); err != nil {
		return nil, fmt.Errorf("persist unfreeze for %s: %w", handle, err)
	}

	f.store.Upsert(handle, func(st *state.RuntimeState) {
		st.Frozen = false
		st.RemainingSeconds = 0
		st.EndTimeUnix = newEndTime
	})

	log.Info().
		Str("handle", handle).
		Int64("new_end_time", newEndTime).
		Int64("remaining_seconds", remaining).
		Str("outcome", string(res.Outcome)).
		Msg("auction unfrozen")

	f.broadcast(events.TypeUnfrozen, handle, events.UnfrozenPayload{
		Handle:           handle,
		NewEndTime:       newEndTime,
		RemainingSeconds: remaining,
		UnfrozenAt:       now.UTC(),
	})

	return &UnfreezeResult{Handle: handle, NewEndTime: newEndTime, RemainingSeconds: remaining, TxHash: res.TxHash}, nil
}

// Slash terminally punishes a FROZEN auction and removes it from active
// timing. No further freeze/unfreeze is valid afterwards.
func (f *FreezeController) Slash(ctx context.Context, handle, reason string) (*SlashResult, error) {
	if reason == "" {
		reason = "seller violated auction rules"
	}

	unlock := f.locks.lock(handle)
	defer unlock()

	rec, err := f.repo.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.AuctionStatusFrozen {
		return nil, fmt.Errorf("%w: must be frozen before slashing", ErrNotFrozen)
	}

	res, err := f.contract.Slash(ctx, handle)
	if err != nil || !res.Succeeded() {
		if err == nil {
			err = fmt.Errorf("slash %s: ledger call failed: %s", handle, res.Reason)
		}
		return nil, err
	}

	now := f.clock.Now()
	if err := f.repo.MarkSlashed(ctx, handle, reason, now.UTC(), res.TxHash); err != nil {
		return nil, fmt.Errorf("persist slash for %s: %w", handle, err)
	}

	f.store.Remove(handle)

	log.Info().
		Str("handle", handle).
		Str("reason", reason).
		Str("outcome", string(res.Outcome)).
		Msg("auction slashed")

	f.broadcast(events.TypeSlashed, handle, events.SlashedPayload{
		Handle:    handle,
		Reason:    reason,
		SlashedAt: now.UTC(),
	})

	return &SlashResult{Handle: handle, Reason: reason, TxHash: res.TxHash}, nil
}

func (f *FreezeController) broadcast(typ events.Type, handle string, payload interface{}) {
	event, err := stream.NewEvent(typ, handle, payload)
	if err != nil {
		log.Error().Err(err).Str("handle", handle).Msg("failed to build event")
		return
	}
	f.sink.emit(event)
}
