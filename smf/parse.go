package smf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrFormat reports a structural violation of the SMF grammar: bad magic,
// an unsupported format or time division, a malformed meta event, or a
// variable length quantity running past its four-byte limit.
var ErrFormat = errors.New("malformed standard midi file")

// Sink receives the events emitted by the parser, in file order.
type Sink interface {
	Append(Event) error
}

// Parse reads a complete format-1 standard MIDI file from r, appending every
// interesting event to sink. It returns the file's ticks-per-quarter-note
// division. Any structural or read failure aborts the parse; there is no
// partial recovery.
func Parse(r io.Reader, sink Sink, log *slog.Logger) (uint16, error) {
	if log == nil {
		log = slog.Default()
	}

	br := bufio.NewReader(r)

	trackCount, ticksPQN, err := parseHeader(br)
	if err != nil {
		return 0, err
	}
	log.Debug("parsed midi file header", "tracks", trackCount, "ticks_pqn", ticksPQN)

	for i := 0; i < int(trackCount); i++ {
		if err := parseTrack(br, sink, log); err != nil {
			return 0, fmt.Errorf("track %d: %w", i, err)
		}
	}
	log.Debug("midi file parse finished")

	return ticksPQN, nil
}

// parseHeader validates the MThd chunk and extracts the track count and the
// ticks-per-quarter-note division. Header bytes beyond the fixed six-byte
// payload are skipped for forward compatibility.
func parseHeader(br *bufio.Reader) (trackCount, ticksPQN uint16, err error) {
	var tag [4]byte
	if _, err := io.ReadFull(br, tag[:]); err != nil {
		return 0, 0, fmt.Errorf("reading file header: %w", err)
	}
	if string(tag[:]) != "MThd" {
		return 0, 0, fmt.Errorf("%w: MThd header not found, not a standard midi file?", ErrFormat)
	}

	var hdrLength uint32
	if err := binary.Read(br, binary.BigEndian, &hdrLength); err != nil {
		return 0, 0, fmt.Errorf("reading header length: %w", err)
	}
	if hdrLength < 6 {
		return 0, 0, fmt.Errorf("%w: header length %d too short", ErrFormat, hdrLength)
	}

	var format uint16
	if err := binary.Read(br, binary.BigEndian, &format); err != nil {
		return 0, 0, fmt.Errorf("reading file format: %w", err)
	}
	if format != 1 {
		return 0, 0, fmt.Errorf("%w: only format 1 is supported, got format %d", ErrFormat, format)
	}

	if err := binary.Read(br, binary.BigEndian, &trackCount); err != nil {
		return 0, 0, fmt.Errorf("reading track count: %w", err)
	}

	if err := binary.Read(br, binary.BigEndian, &ticksPQN); err != nil {
		return 0, 0, fmt.Errorf("reading ticks per quarter note: %w", err)
	}
	if ticksPQN&0x8000 != 0 {
		return 0, 0, fmt.Errorf("%w: SMPTE-style delta-time units are not supported", ErrFormat)
	}
	if ticksPQN == 0 {
		return 0, 0, fmt.Errorf("%w: ticks per quarter note is zero", ErrFormat)
	}

	if _, err := br.Discard(int(hdrLength) - 6); err != nil {
		return 0, 0, fmt.Errorf("skipping extra header bytes: %w", err)
	}

	return trackCount, ticksPQN, nil
}
