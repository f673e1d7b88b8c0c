// Package trigger holds the cross-goroutine signal flags between the
// broadcast listener and the behavior tick loop.
//
// Each flag has one writer (the listener) and one reader (the tick loop).
// Any number of signals of one kind collapse into a single pending flag.
package trigger

import "sync/atomic"

// State is shared by reference; the zero value has both flags cleared.
type State struct {
	activate atomic.Bool
	retire   atomic.Bool
}

func New() *State { return &State{} }

// SignalActivate records that a peer invited us to an active episode.
func (s *State) SignalActivate() { s.activate.Store(true) }

// SignalRetire records that a peer announced its departure.
func (s *State) SignalRetire() { s.retire.Store(true) }

// TakeActivate reports whether an activate signal was pending and clears it.
func (s *State) TakeActivate() bool { return s.activate.Swap(false) }

// TakeRetire reports whether a retire signal was pending and clears it.
func (s *State) TakeRetire() bool { return s.retire.Swap(false) }

// Pending reads both flags without clearing them.
func (s *State) Pending() (activate, retire bool) {
	return s.activate.Load(), s.retire.Load()
}
