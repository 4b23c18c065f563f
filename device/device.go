// Package device provides the transports that carry raw MIDI bytes between
// the sequencer and a physical instrument: a pair of rtmidi ports, or a
// serial line speaking raw MIDI.
package device

import "errors"

var (
	// ErrClosed reports that a device stopped delivering feedback mid-session.
	ErrClosed = errors.New("midi device closed")
	// ErrShortWrite reports a write that accepted fewer bytes than requested.
	ErrShortWrite = errors.New("short write to midi device")
)

// Device is one bidirectional connection to a physical MIDI instrument,
// owned by a single playback session for its whole lifetime.
//
// Send writes a complete raw message or fails. Incoming delivers feedback
// bytes from the instrument in arbitrary chunk sizes; the channel closing
// means the device failed, which is fatal to the session.
type Device interface {
	Send(data []byte) error
	Incoming() <-chan []byte
	Close() error
}
