/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventKind enumerates the engine's emitted event types.
type EventKind string

const (
	EventStatusChange  EventKind = "statusChange"
	EventContentChange EventKind = "contentChange"
	EventCycleComplete EventKind = "cycleComplete"
	EventTimeUpdate    EventKind = "timeUpdate"
	EventError         EventKind = "error"
)

// Event is one engine notification. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind EventKind

	// statusChange
	Status Status

	// contentChange; Content is nil when the region goes dark
	RegionID string
	Content  *Item
	Index    int

	// cycleComplete
	CycleCount int

	// timeUpdate
	CurrentTime time.Duration

	// error
	Message string
}

// Listener receives engine events. Listeners run synchronously on the
// emitting goroutine; a panicking listener is recovered and logged
// without affecting delivery to the others.
type Listener func(Event)

type listenerSet struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Listener
}

func newListenerSet() *listenerSet {
	return &listenerSet{subs: make(map[int]Listener)}
}

// add registers a listener and returns its unsubscribe function. The
// returned function is idempotent.
func (s *listenerSet) add(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *listenerSet) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = make(map[int]Listener)
}

// emit delivers ev to every listener in registration order, isolating
// panics per listener.
func (s *listenerSet) emit(logger zerolog.Logger, ev Event) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.subs[id])
	}
	s.mu.Unlock()

	for _, l := range listeners {
		deliver(logger, l, ev)
	}
}

func deliver(logger zerolog.Logger, l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("event", string(ev.Kind)).
				Msg("event listener panicked")
		}
	}()
	l(ev)
}
