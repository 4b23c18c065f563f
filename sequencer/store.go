// Package sequencer owns the playback side of lightplay: the growable event
// store, the stable temporal sort, and the player that paces sorted events
// out to the device while gating channel-1 material on key releases.
package sequencer

import (
	"errors"
	"math"
	"sort"
	"unsafe"

	"lightplay/smf"
)

const defaultStoreSize = 1024

const eventSize = int(unsafe.Sizeof(smf.Event{}))

// ErrStoreOverflow reports that growing the event store would overflow the
// addressable capacity.
var ErrStoreOverflow = errors.New("midi event store: maximum allocated size reached")

// Store is an append-only collection of parsed events. Capacity doubles on
// overflow. A store belongs to exactly one sequencing session.
type Store struct {
	events []smf.Event
	count  int
}

// NewStore returns an empty store with the default initial capacity.
func NewStore() *Store {
	return newStoreWithCapacity(defaultStoreSize)
}

func newStoreWithCapacity(capacity int) *Store {
	return &Store{events: make([]smf.Event, capacity)}
}

// canGrow reports whether doubling capacity keeps capacity×eventSize within
// addressable size.
func canGrow(capacity int) bool {
	return capacity < math.MaxInt/eventSize/2
}

// Append adds ev to the store, growing it if full. Growth is rejected before
// the capacity arithmetic can wrap.
func (s *Store) Append(ev smf.Event) error {
	if s.count >= len(s.events) {
		if !canGrow(len(s.events)) {
			return ErrStoreOverflow
		}
		grown := make([]smf.Event, len(s.events)*2)
		copy(grown, s.events)
		s.events = grown
	}
	s.events[s.count] = ev
	s.count++
	return nil
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	return s.count
}

// Events returns the stored events in their current order. The slice aliases
// the store's backing array.
func (s *Store) Events() []smf.Event {
	return s.events[:s.count]
}

// SortByTicks reorders the store ascending by absolute tick. The sort is
// stable: events at the same tick keep their parse order, so a tempo change
// the file places before a note at the same tick still applies to it.
func (s *Store) SortByTicks() {
	evs := s.events[:s.count]
	sort.SliceStable(evs, func(i, j int) bool {
		return evs[i].Ticks < evs[j].Ticks
	})
}
