package engine

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/AuctiChain/internal/auction/events"
	"github.com/char-123717/AuctiChain/internal/auction/state"
	"github.com/char-123717/AuctiChain/internal/auction/stream"
)

// TimerEngine emits the per-second countdown for every tracked auction. It
// is a pure function of the cache: it never touches the ledger or the
// database, and delivery is best-effort so a slow subscriber cannot stall
// the loop.
type TimerEngine struct {
	store    *state.Store
	sink     *eventSink
	clock    clockwork.Clock
	interval time.Duration
}

// Run ticks until ctx is cancelled.
func (t *TimerEngine) Run(ctx context.Context) {
	log.Info().Dur("interval", t.interval).Msg("timer engine started")
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("timer engine stopped")
			return
		case <-ticker.Chan():
			t.tick()
		}
	}
}

// tick computes and emits one round of countdown updates.
func (t *TimerEngine) tick() {
	now := t.clock.Now()
	t.store.ForEach(func(st state.RuntimeState) {
		secondsLeft := st.SecondsLeft(now)
		ended := st.Ended(now)

		tickEvent, err := stream.NewEvent(events.TypeTimerTick, st.Handle, events.TimerTickPayload{
			Handle:      st.Handle,
			SecondsLeft: secondsLeft,
			Ended:       ended,
			Frozen:      st.Frozen,
			TickedAt:    now.UTC(),
		})
		if err != nil {
			log.Error().Err(err).Str("handle", st.Handle).Msg("failed to build timer tick")
			return
		}
		t.sink.emit(tickEvent)

		stateEvent, err := stream.NewEvent(events.TypeState, st.Handle, summarize(st, now))
		if err != nil {
			log.Error().Err(err).Str("handle", st.Handle).Msg("failed to build state summary")
			return
		}
		t.sink.emit(stateEvent)
	})
}

// summarize builds the lobby-shaped view of one runtime state.
func summarize(st state.RuntimeState, now time.Time) events.StatePayload {
	p := events.StatePayload{
		Handle:        st.Handle,
		Phase:         string(st.DerivePhase(now)),
		HighestBid:    st.HighestBid,
		HighestBidder: st.HighestBidder,
		SecondsLeft:   st.SecondsLeft(now),
		Ended:         st.Ended(now),
		Frozen:        st.Frozen,
	}
	if st.Frozen {
		p.BiddingTime = st.RemainingSeconds
	}
	return p
}
