package smf

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTrackReader(data []byte) *trackReader {
	return &trackReader{br: bufio.NewReader(bytes.NewReader(data))}
}

func TestReadVariableLengthQuantity(t *testing.T) {
	cases := []struct {
		in   []byte
		want uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x40}, 64},
		{[]byte{0x7f}, 127},
		{[]byte{0x81, 0x00}, 128},
		{[]byte{0xc0, 0x00}, 8192},
		{[]byte{0xff, 0x7f}, 16383},
		{[]byte{0x81, 0x80, 0x00}, 16384},
		{[]byte{0xff, 0xff, 0x7f}, 0x1fffff},
		{[]byte{0x81, 0x80, 0x80, 0x00}, 0x200000},
		{[]byte{0xff, 0xff, 0xff, 0x7f}, 0x0fffffff},
	}
	for _, c := range cases {
		tr := newTrackReader(c.in)
		got, err := tr.readVariableLengthQuantity()
		if err != nil {
			t.Errorf("% x: unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("% x: got %d, want %d", c.in, got, c.want)
		}
		if tr.consumed != uint32(len(c.in)) {
			t.Errorf("% x: consumed %d bytes, want %d", c.in, tr.consumed, len(c.in))
		}
	}
}

func TestReadVariableLengthQuantityTooLong(t *testing.T) {
	tr := newTrackReader([]byte{0x81, 0x81, 0x81, 0x81, 0x01})
	_, err := tr.readVariableLengthQuantity()
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("got %v, want ErrFormat", err)
	}
}

func TestReadVariableLengthQuantityShortStream(t *testing.T) {
	tr := newTrackReader([]byte{0x81})
	if _, err := tr.readVariableLengthQuantity(); err == nil {
		t.Fatal("expected error on truncated quantity")
	}
}

// eventSlice is a Sink collecting events in order.
type eventSlice []Event

func (s *eventSlice) Append(ev Event) error {
	*s = append(*s, ev)
	return nil
}

func trackChunk(body []byte) []byte {
	chunk := []byte{'M', 'T', 'r', 'k',
		byte(len(body) >> 24), byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}
	return append(chunk, body...)
}

func parseOneTrack(t *testing.T, body []byte) []Event {
	t.Helper()
	var events eventSlice
	br := bufio.NewReader(bytes.NewReader(trackChunk(body)))
	if err := parseTrack(br, &events, discardLogger()); err != nil {
		t.Fatalf("parseTrack: %v", err)
	}
	return events
}

func TestRunningStatus(t *testing.T) {
	// The second event omits its status byte and must reuse 0x90.
	events := parseOneTrack(t, []byte{
		0x00, 0x90, 0x40, 0x40,
		0x01, 0x41, 0x40,
	})
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Raw != [3]byte{0x90, 0x40, 0x40} || events[0].Ticks != 0 {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Raw != [3]byte{0x90, 0x41, 0x40} || events[1].Ticks != 1 {
		t.Errorf("second event = %+v, want status 0x90 note 0x41 at tick 1", events[1])
	}
}

func TestSetTempoEvent(t *testing.T) {
	events := parseOneTrack(t, []byte{
		0x10, 0xff, 0x51, 0x03, 0x07, 0xa1, 0x20,
		0x00, 0x90, 0x3c, 0x50,
	})
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != TempoChange || events[0].Tempo != 500000 || events[0].Ticks != 16 {
		t.Errorf("tempo event = %+v, want tempo 500000 at tick 16", events[0])
	}
	if events[1].Kind != ChannelVoice || events[1].Ticks != 16 {
		t.Errorf("note event = %+v, want tick 16", events[1])
	}
}

func TestSetTempoBadLength(t *testing.T) {
	var events eventSlice
	body := []byte{0x00, 0xff, 0x51, 0x02, 0x07, 0xa1}
	br := bufio.NewReader(bytes.NewReader(trackChunk(body)))
	err := parseTrack(br, &events, discardLogger())
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("got %v, want ErrFormat", err)
	}
}

func TestUninterestingEventsSkipped(t *testing.T) {
	events := parseOneTrack(t, []byte{
		0x00, 0xc0, 0x05, // program change, one data byte
		0x00, 0xd0, 0x40, // channel key pressure, one data byte
		0x03, 0xb0, 0x07, 0x64, // control change, two data bytes
		0x00, 0xf0, 0x03, 0x01, 0x02, 0xf7, // sysex, VLQ length
		0x00, 0xff, 0x58, 0x04, 0x04, 0x02, 0x18, 0x08, // time signature meta
		0x05, 0x80, 0x3c, 0x00, // note off, the only interesting event
	})
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	// The control change's delta of 3 must not shift the clock: only emitted
	// events advance it.
	if events[0].Raw[0] != 0x80 || events[0].Ticks != 5 {
		t.Errorf("event = %+v, want note-off at tick 5", events[0])
	}
}

func TestNonTrackChunksSkipped(t *testing.T) {
	var events eventSlice
	stream := append([]byte{'X', 'F', 'I', 'G', 0, 0, 0, 2, 0xde, 0xad},
		trackChunk([]byte{0x00, 0x90, 0x40, 0x40})...)
	br := bufio.NewReader(bytes.NewReader(stream))
	if err := parseTrack(br, &events, discardLogger()); err != nil {
		t.Fatalf("parseTrack: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestTrackMissing(t *testing.T) {
	var events eventSlice
	br := bufio.NewReader(bytes.NewReader([]byte{'X', 'F', 'I', 'G', 0, 0, 0, 0}))
	if err := parseTrack(br, &events, discardLogger()); err == nil {
		t.Fatal("expected error when the stream ends before an MTrk chunk")
	}
}

func TestTruncatedTrack(t *testing.T) {
	var events eventSlice
	// Declared length 8, but only 4 bytes of event data follow.
	chunk := []byte{'M', 'T', 'r', 'k', 0, 0, 0, 8, 0x00, 0x90, 0x40, 0x40}
	br := bufio.NewReader(bytes.NewReader(chunk))
	if err := parseTrack(br, &events, discardLogger()); err == nil {
		t.Fatal("expected error on truncated track")
	}
}
