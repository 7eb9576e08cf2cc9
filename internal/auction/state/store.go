package state

import (
	"sync"
	"time"
)

// Phase is the derived countdown phase of an auction. It is computed from
// the other runtime fields and never stored, so it cannot diverge from them.
type Phase string

const (
	PhaseInit   Phase = "INIT"
	PhaseLive   Phase = "LIVE"
	PhaseFrozen Phase = "FROZEN"
	PhaseEnded  Phase = "ENDED"
)

// RuntimeState is the in-memory view of one active auction, reconciled
// against the ledger. While Frozen is true, RemainingSeconds is the
// authoritative remaining time and EndTimeUnix is kept only for reference.
type RuntimeState struct {
	Handle        string
	EndTimeUnix   int64
	HighestBid    float64
	HighestBidder string
	Frozen        bool
	// RemainingSeconds is the snapshot taken at the instant of freezing.
	// It is never decremented while frozen.
	RemainingSeconds int64
}

// SecondsLeft returns the remaining time exposed to observers: the frozen
// snapshot while frozen, max(0, endTime-now) while live. It never mixes
// the two sources.
func (s *RuntimeState) SecondsLeft(now time.Time) int64 {
	if s.Frozen {
		return s.RemainingSeconds
	}
	left := s.EndTimeUnix - now.Unix()
	if left < 0 {
		return 0
	}
	return left
}

// Ended reports whether the countdown has expired. A frozen auction is
// never ended, regardless of how far in the past EndTimeUnix lies.
func (s *RuntimeState) Ended(now time.Time) bool {
	if s.Frozen {
		return false
	}
	return s.SecondsLeft(now) == 0
}

// DerivePhase computes the phase from the runtime fields.
func (s *RuntimeState) DerivePhase(now time.Time) Phase {
	switch {
	case s.Frozen:
		return PhaseFrozen
	case s.Ended(now):
		return PhaseEnded
	case s.HighestBid > 0:
		return PhaseLive
	default:
		return PhaseInit
	}
}

type entry struct {
	mu sync.Mutex
	st RuntimeState
}

// Store is the authoritative in-process cache of active auctions, keyed by
// handle. All mutation goes through Upsert with a mutator callback so that
// the reconciler, the freeze controller, and the timer engine never race on
// a read-modify-write of the same handle. Pure in-memory, no I/O; a missing
// handle is a valid state, not an error.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore creates an empty store. Construct one per engine (and per test);
// there is deliberately no package-level instance.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Get returns a copy of the state for handle, or false if untracked.
func (s *Store) Get(handle string) (RuntimeState, bool) {
	s.mu.RLock()
	e, ok := s.entries[handle]
	s.mu.RUnlock()
	if !ok {
		return RuntimeState{}, false
	}
	e.mu.Lock()
	st := e.st
	e.mu.Unlock()
	return st, true
}

// Upsert creates the entry if absent and applies mutate to it atomically
// with respect to all other Upsert calls for the same handle.
func (s *Store) Upsert(handle string, mutate func(st *RuntimeState)) RuntimeState {
	s.mu.Lock()
	e, ok := s.entries[handle]
	if !ok {
		e = &entry{st: RuntimeState{Handle: handle}}
		s.entries[handle] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	mutate(&e.st)
	e.st.Handle = handle
	st := e.st
	e.mu.Unlock()
	return st
}

// Remove evicts the handle from the store. Evicting an untracked handle is
// a no-op.
func (s *Store) Remove(handle string) {
	s.mu.Lock()
	delete(s.entries, handle)
	s.mu.Unlock()
}

// ForEach calls fn with a copy of every tracked state. The iteration works
// over a snapshot of the handle set, so fn may call back into the store.
func (s *Store) ForEach(fn func(st RuntimeState)) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		st := e.st
		e.mu.Unlock()
		fn(st)
	}
}

// Handles returns the tracked handle set.
func (s *Store) Handles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handles := make([]string, 0, len(s.entries))
	for h := range s.entries {
		handles = append(handles, h)
	}
	return handles
}

// Len returns the number of tracked auctions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
