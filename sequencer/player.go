package sequencer

import (
	"fmt"
	"log/slog"
	"time"

	"lightplay/device"
	"lightplay/smf"
)

// Config carries the per-session playback settings. There is no process-wide
// state; a Player sees only what it is constructed with.
type Config struct {
	TicksPerQuarterNote uint16
	// DryRun performs the full playback computation without touching the
	// device and without waiting.
	DryRun bool
	Logger *slog.Logger
}

// Player walks a tick-sorted event sequence and emits it to the device in
// real time. Notes on channel 1 (status bytes exactly 0x90/0x80, not merely
// the note-on/off nibble) are practice notes: instead of sounding on
// schedule they are pre-lit on the device, and further channel-1 material
// waits until the player has pressed and released every lit key. Other
// channels play on schedule throughout.
type Player struct {
	dev      device.Device
	log      *slog.Logger
	ticksPQN int
	dryRun   bool

	tempo   int // current tempo, microseconds per quarter note
	waiting noteSet

	// A 3-byte feedback message may arrive split across reads; feedback
	// accumulates it and needed counts the bytes still outstanding.
	feedback [3]byte
	needed   int
}

// NewPlayer builds a player for one session. dev may be nil when cfg.DryRun
// is set.
func NewPlayer(dev device.Device, cfg Config) *Player {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Player{
		dev:      dev,
		log:      log,
		ticksPQN: int(cfg.TicksPerQuarterNote),
		dryRun:   cfg.DryRun,
		tempo:    smf.DefaultTempo,
		needed:   3,
	}
}

// Play runs the sequence to the end. events must already be sorted ascending
// by tick; tempo changes are applied in encounter order, so a misordered
// input would mistime everything after it. Any device failure aborts the
// session.
func (p *Player) Play(events []smf.Event) error {
	currentTicks := 0
	lookahead := 0

	p.log.Debug("starting playback", "events", len(events), "ticks_pqn", p.ticksPQN)

	for i, ev := range events {
		if p.waiting.empty() {
			n, err := p.lightNextRun(events, lookahead)
			if err != nil {
				return err
			}
			lookahead = n
		}

		// A practice note past the lit material is gated on the player's
		// keys, not on the clock. Everything else keeps its nominal
		// schedule regardless of pending lookahead state.
		wait := time.Duration(-1)
		if !isPracticeNote(ev) || lookahead > i {
			wait = p.tickDelay(ev.Ticks - currentTicks)
		}

		if err := p.waitForEvent(wait); err != nil {
			return err
		}

		switch ev.Kind {
		case smf.TempoChange:
			p.log.Debug("tempo change", "tempo_us_pqn", ev.Tempo, "at_ticks", ev.Ticks)
			p.tempo = ev.Tempo
		case smf.ChannelVoice:
			// Practice notes were already handled by the light-ahead walk.
			if !isPracticeNote(ev) {
				p.log.Debug("playing midi event",
					"status", fmt.Sprintf("%#02x", ev.Raw[0]),
					"note", ev.Raw[1],
					"velocity", ev.Raw[2],
					"at_ticks", ev.Ticks,
				)
				if err := p.send(ev.Raw[:]); err != nil {
					return err
				}
			}
		}

		currentTicks = ev.Ticks
	}

	p.log.Debug("playback done")
	return nil
}

// isPracticeNote reports whether ev is a channel-1 note event: the exact
// status bytes 0x90/0x80, which distinguishes channel 1 from other channels
// sharing the note-on/off nibble.
func isPracticeNote(ev smf.Event) bool {
	return ev.Kind == smf.ChannelVoice &&
		(ev.Raw[0] == smf.NoteOn || ev.Raw[0] == smf.NoteOff)
}

// tickDelay converts a tick distance to wall-clock time under the current
// tempo. The truncating tempo/ticksPQN division comes first; the precision
// loss for high divisions is part of the established timing behavior.
func (p *Player) tickDelay(deltaTicks int) time.Duration {
	return time.Duration(deltaTicks*(p.tempo/p.ticksPQN)) * time.Microsecond
}

// lightNextRun lights every channel-1 note-on due at the lookahead cursor's
// tick, marking each as awaited. Trailing events at the same tick are
// consumed without lighting; the run ends at the first strictly later tick.
// Returns the advanced cursor.
func (p *Player) lightNextRun(events []smf.Event, cursor int) (int, error) {
	if cursor >= len(events) {
		return cursor, nil
	}
	runTicks := events[cursor].Ticks

	for cursor < len(events) && events[cursor].Ticks <= runTicks {
		ev := events[cursor]
		if ev.Kind == smf.ChannelVoice && ev.Raw[0] == smf.NoteOn {
			note := ev.Raw[1] & 0x7f
			p.log.Debug("turning on light", "note", note, "at_ticks", ev.Ticks)
			// Velocity 0 does not light the keys on at least the Yamaha
			// EZ-220; 1 does, and is quiet enough not to sound.
			lit := [3]byte{ev.Raw[0], ev.Raw[1], 1}
			if err := p.send(lit[:]); err != nil {
				return cursor, err
			}
			p.waiting.add(note)
		}
		cursor++
	}
	return cursor, nil
}

// waitForEvent holds playback until the next event is due. A negative wait
// blocks until every awaited note has been released. The deadline of a
// bounded wait is fixed once here and not re-based when feedback wakes the
// loop early, so elapsed real time governs the total wait length.
func (p *Player) waitForEvent(wait time.Duration) error {
	if p.dryRun {
		return nil
	}
	if wait < 0 && p.waiting.empty() {
		// Nothing is owed, so there is nothing an unbounded wait could
		// wait for.
		return nil
	}

	var deadline <-chan time.Time
	if wait >= 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
		p.log.Debug("waiting for next event", "timeout", wait)
	} else {
		p.log.Debug("waiting for key releases")
	}

	for {
		select {
		case chunk, ok := <-p.dev.Incoming():
			if !ok {
				return fmt.Errorf("waiting for device feedback: %w", device.ErrClosed)
			}
			if err := p.consumeFeedback(chunk); err != nil {
				return err
			}
			if p.waiting.empty() {
				return nil
			}
		case <-deadline:
			p.log.Debug("timeout reached, playback continues")
			return nil
		}
	}
}

// consumeFeedback folds raw device bytes into 3-byte messages. A completed
// message whose status is not a note event is shifted out one byte at a time
// (best-effort resynchronization). A note-on on channel 1 is the player
// releasing a lit key: answer with a note-off so the device turns the light
// off, and stop waiting for that note.
func (p *Player) consumeFeedback(chunk []byte) error {
	for _, b := range chunk {
		p.feedback[3-p.needed] = b
		p.needed--
		if p.needed > 0 {
			continue
		}

		if p.feedback[0]&0xf0 != smf.NoteOn && p.feedback[0]&0xf0 != smf.NoteOff {
			p.log.Debug("skipping input event", "status", fmt.Sprintf("%#02x", p.feedback[0]))
			p.feedback[0] = p.feedback[1]
			p.feedback[1] = p.feedback[2]
			p.needed = 1
			continue
		}

		if p.feedback[0] == smf.NoteOn {
			note := p.feedback[1] & 0x7f
			p.log.Debug("turning off light", "note", note)
			off := [3]byte{smf.NoteOff, p.feedback[1], p.feedback[2]}
			if err := p.send(off[:]); err != nil {
				return err
			}
			p.waiting.remove(note)
		}
		p.needed = 3
	}
	return nil
}

func (p *Player) send(data []byte) error {
	if p.dryRun {
		return nil
	}
	if err := p.dev.Send(data); err != nil {
		return fmt.Errorf("midi device write: %w", err)
	}
	return nil
}
