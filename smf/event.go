// Package smf parses Standard MIDI Files (format 1) into the flat event
// stream the sequencer plays back: note-on/note-off channel messages plus
// set-tempo meta events, each stamped with its absolute tick position.
// Everything else in the file is consumed and dropped.
package smf

// MIDI status bytes. NoteOff/NoteOn are the channel-1 values; other channels
// share the high nibble.
const (
	NoteOff            = 0x80
	NoteOn             = 0x90
	ProgramChange      = 0xC0
	ChannelKeyPressure = 0xD0

	SysExEventF0 = 0xF0
	SysExEventF7 = 0xF7
	MetaEvent    = 0xFF

	MetaSetTempo = 0x51
)

// DefaultTempo is the tempo assumed until a set-tempo event is seen,
// in microseconds per quarter note (120 BPM).
const DefaultTempo = 500000

// EventKind tags the payload carried by an Event.
type EventKind int

const (
	// ChannelVoice is a raw 3-byte note-on or note-off message.
	ChannelVoice EventKind = iota
	// TempoChange carries a new tempo in microseconds per quarter note.
	TempoChange
)

// Event is one interesting occurrence in the file, positioned at an absolute
// tick from the start of its track. Raw is valid for ChannelVoice events,
// Tempo for TempoChange events.
type Event struct {
	Kind  EventKind
	Ticks int
	Raw   [3]byte
	Tempo int
}
