package device

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Ports matching any of these patterns are never auto-picked (virtual/system
// ports).
var excludedNamePatterns = []string{"Midi Through", "Through Port", "Dummy"}

// MIDIPort is a Device backed by an rtmidi input/output port pair on the
// same instrument.
type MIDIPort struct {
	drv      *rtmididrv.Driver
	in       drivers.In
	out      drivers.Out
	stop     func()
	incoming chan []byte
	dead     sync.Once
	log      *slog.Logger
}

// OpenMIDIPort opens the first usable MIDI port pair. A non-empty name
// restricts the choice to ports whose name contains it (case-insensitive).
func OpenMIDIPort(name string, log *slog.Logger) (*MIDIPort, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}

	in, err := pickIn(drv, name)
	if err != nil {
		drv.Close()
		return nil, err
	}
	out, err := pickOut(drv, name)
	if err != nil {
		drv.Close()
		return nil, err
	}

	if err := out.Open(); err != nil {
		drv.Close()
		return nil, fmt.Errorf("open output %q: %w", out.String(), err)
	}
	if err := in.Open(); err != nil {
		_ = out.Close()
		drv.Close()
		return nil, fmt.Errorf("open input %q: %w", in.String(), err)
	}

	p := &MIDIPort{
		drv:      drv,
		in:       in,
		out:      out,
		incoming: make(chan []byte, 64),
		log:      log,
	}

	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		chunk := make([]byte, len(msg))
		copy(chunk, msg)
		p.incoming <- chunk
	}, midi.HandleError(func(listenErr error) {
		p.log.Error("midi: listener error", "device", in.String(), "err", listenErr)
		p.dead.Do(func() { close(p.incoming) })
	}))
	if err != nil {
		_ = in.Close()
		_ = out.Close()
		drv.Close()
		return nil, fmt.Errorf("listen %q: %w", in.String(), err)
	}
	p.stop = stop

	log.Info("midi: port opened", "in", in.String(), "out", out.String())
	return p, nil
}

// Send writes one raw message to the output port.
func (p *MIDIPort) Send(data []byte) error {
	return p.out.Send(data)
}

// Incoming returns the feedback byte stream from the input port.
func (p *MIDIPort) Incoming() <-chan []byte {
	return p.incoming
}

// Close shuts down the listener, both ports, and the driver.
func (p *MIDIPort) Close() error {
	p.log.Debug("midi: closing port", "in", p.in.String())
	if p.stop != nil {
		p.stop()
	}
	err := p.in.Close()
	if e := p.out.Close(); err == nil {
		err = e
	}
	p.drv.Close()
	return err
}

func pickIn(drv *rtmididrv.Driver, name string) (drivers.In, error) {
	ins, err := drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("list midi inputs: %w", err)
	}
	for _, in := range ins {
		if usablePort(in.String(), name) {
			return in, nil
		}
	}
	return nil, fmt.Errorf("no usable midi input port (want %q)", name)
}

func pickOut(drv *rtmididrv.Driver, name string) (drivers.Out, error) {
	outs, err := drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("list midi outputs: %w", err)
	}
	for _, out := range outs {
		if usablePort(out.String(), name) {
			return out, nil
		}
	}
	return nil, fmt.Errorf("no usable midi output port (want %q)", name)
}

func usablePort(portName, want string) bool {
	for _, pat := range excludedNamePatterns {
		if containsCI(portName, pat) {
			return false
		}
	}
	return want == "" || containsCI(portName, want)
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
