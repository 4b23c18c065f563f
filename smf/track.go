package smf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
)

// trackReader counts every byte consumed from an MTrk chunk so the track
// loop knows when the declared chunk length has been exhausted. It also
// provides the one-byte pushback the running-status convention needs.
type trackReader struct {
	br       *bufio.Reader
	consumed uint32
}

func (t *trackReader) readByte() (byte, error) {
	b, err := t.br.ReadByte()
	if err != nil {
		return 0, err
	}
	t.consumed++
	return b, nil
}

// unreadByte pushes the last byte back so it can be reinterpreted as the
// first data byte of a running-status event.
func (t *trackReader) unreadByte() error {
	if err := t.br.UnreadByte(); err != nil {
		return err
	}
	t.consumed--
	return nil
}

func (t *trackReader) read(p []byte) error {
	if _, err := io.ReadFull(t.br, p); err != nil {
		return err
	}
	t.consumed += uint32(len(p))
	return nil
}

func (t *trackReader) skip(n int) error {
	if _, err := t.br.Discard(n); err != nil {
		return err
	}
	t.consumed += uint32(n)
	return nil
}

// readVariableLengthQuantity decodes MIDI's base-128 integer encoding: seven
// value bits per byte, high bit set on every byte but the last. A quantity
// never spans more than four bytes.
func (t *trackReader) readVariableLengthQuantity() (uint32, error) {
	var value uint32
	for i := 0; i < 4; i++ {
		b, err := t.readByte()
		if err != nil {
			return 0, fmt.Errorf("reading variable length quantity, short file?: %w", err)
		}
		value = (value << 7) | uint32(b&0x7f)
		if b&0x80 == 0 {
			return value, nil
		}
	}
	return 0, fmt.Errorf("%w: variable length quantity exceeds 4 bytes", ErrFormat)
}

// parseTrack scans forward to the next MTrk chunk, skipping any other chunk
// kinds, then parses exactly the chunk's declared byte count as delta-time
// prefixed events. Interesting events go to sink; everything else is
// consumed and dropped.
func parseTrack(br *bufio.Reader, sink Sink, log *slog.Logger) error {
	var trackBytes uint32
	for {
		var tag [4]byte
		if _, err := io.ReadFull(br, tag[:]); err != nil {
			return fmt.Errorf("reading next chunk tag, short file?: %w", err)
		}
		if err := binary.Read(br, binary.BigEndian, &trackBytes); err != nil {
			return fmt.Errorf("reading chunk length: %w", err)
		}
		if string(tag[:]) == "MTrk" {
			break
		}
		log.Debug("skipping non-track chunk", "tag", string(tag[:]), "bytes", trackBytes)
		if _, err := br.Discard(int(trackBytes)); err != nil {
			return fmt.Errorf("skipping non-track chunk: %w", err)
		}
	}
	log.Debug("parsing midi track", "bytes", trackBytes)

	tr := &trackReader{br: br}
	atTicks := 0
	var runningStatus byte

	for tr.consumed < trackBytes {
		ev, ok, err := nextEvent(tr, &atTicks, &runningStatus, log)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := sink.Append(ev); err != nil {
			return err
		}
	}
	log.Debug("track parse finished", "at_ticks", atTicks)

	return nil
}

// nextEvent parses one delta-time prefixed event. The second return value is
// false when the event was consumed but is not interesting for playback.
func nextEvent(tr *trackReader, atTicks *int, runningStatus *byte, log *slog.Logger) (Event, bool, error) {
	deltaTime, err := tr.readVariableLengthQuantity()
	if err != nil {
		return Event{}, false, err
	}

	status, err := tr.readByte()
	if err != nil {
		return Event{}, false, fmt.Errorf("reading next event status, short file?: %w", err)
	}
	if status&0x80 == 0 {
		// A clear high bit means this is not a status byte but the first
		// data byte of a running-status event. Push it back and reuse the
		// previous status.
		if err := tr.unreadByte(); err != nil {
			return Event{}, false, fmt.Errorf("pushing back running-status data byte: %w", err)
		}
		status = *runningStatus
	}
	*runningStatus = status

	if status == MetaEvent {
		return metaEvent(tr, atTicks, int(deltaTime), log)
	}

	skipBytes := 2
	if status == SysExEventF0 || status == SysExEventF7 {
		length, err := tr.readVariableLengthQuantity()
		if err != nil {
			return Event{}, false, err
		}
		skipBytes = int(length)
	} else if status&0xf0 == ProgramChange || status&0xf0 == ChannelKeyPressure {
		skipBytes = 1
	}

	if status&0xf0 != NoteOff && status&0xf0 != NoteOn {
		log.Debug("skipping midi event", "status", fmt.Sprintf("%#02x", status), "bytes", skipBytes)
		if err := tr.skip(skipBytes); err != nil {
			return Event{}, false, fmt.Errorf("skipping uninteresting midi event: %w", err)
		}
		return Event{}, false, nil
	}

	var data [2]byte
	if err := tr.read(data[:]); err != nil {
		return Event{}, false, fmt.Errorf("reading note event data, short file?: %w", err)
	}

	*atTicks += int(deltaTime)
	ev := Event{
		Kind:  ChannelVoice,
		Ticks: *atTicks,
		Raw:   [3]byte{status, data[0], data[1]},
	}
	log.Debug("parsed midi event",
		"status", fmt.Sprintf("%#02x", status),
		"note", data[0],
		"velocity", data[1],
		"at_ticks", *atTicks,
	)
	return ev, true, nil
}

// metaEvent handles a 0xFF meta event. Set-tempo events become TempoChange
// events; every other sub-type is skipped over.
func metaEvent(tr *trackReader, atTicks *int, deltaTime int, log *slog.Logger) (Event, bool, error) {
	subType, err := tr.readByte()
	if err != nil {
		return Event{}, false, fmt.Errorf("reading meta event type, short file?: %w", err)
	}

	length, err := tr.readVariableLengthQuantity()
	if err != nil {
		return Event{}, false, err
	}

	if subType != MetaSetTempo {
		log.Debug("skipping meta event", "type", fmt.Sprintf("%#02x", subType), "bytes", length)
		if err := tr.skip(int(length)); err != nil {
			return Event{}, false, fmt.Errorf("skipping meta event: %w", err)
		}
		return Event{}, false, nil
	}

	if length != 3 {
		return Event{}, false, fmt.Errorf("%w: set tempo meta event has length %d, want 3", ErrFormat, length)
	}
	var val [3]byte
	if err := tr.read(val[:]); err != nil {
		return Event{}, false, fmt.Errorf("reading set tempo value, short file?: %w", err)
	}

	*atTicks += deltaTime
	tempo := int(val[0])<<16 | int(val[1])<<8 | int(val[2])
	log.Debug("parsed set tempo event", "tempo_us_pqn", tempo, "at_ticks", *atTicks)

	return Event{Kind: TempoChange, Ticks: *atTicks, Tempo: tempo}, true, nil
}
