package device

import (
	"fmt"
	"log/slog"

	"go.bug.st/serial"
)

// SerialPort is a Device speaking raw MIDI bytes over a serial line, for
// instruments wired through a UART or USB-serial adapter instead of a MIDI
// port.
type SerialPort struct {
	port     serial.Port
	incoming chan []byte
	log      *slog.Logger
}

// OpenSerial opens the named serial device at the given baud rate and starts
// pumping its feedback bytes.
func OpenSerial(name string, baud int, log *slog.Logger) (*SerialPort, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %q: %w", name, err)
	}
	log.Info("serial: port opened", "device", name, "baud", baud)

	s := &SerialPort{
		port:     p,
		incoming: make(chan []byte, 64),
		log:      log,
	}
	go s.readLoop()
	return s, nil
}

func (s *SerialPort) readLoop() {
	defer close(s.incoming)
	buf := make([]byte, 64)
	for {
		n, err := s.port.Read(buf)
		if err != nil {
			s.log.Error("serial: read error", "err", err)
			return
		}
		if n == 0 {
			// Zero bytes with a nil error means the port is gone.
			s.log.Error("serial: port closed")
			return
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		s.incoming <- chunk
	}
}

// Send writes one raw message. A short write is an error.
func (s *SerialPort) Send(data []byte) error {
	n, err := s.port.Write(data)
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	if n < len(data) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(data))
	}
	return nil
}

// Incoming returns the feedback byte stream from the port.
func (s *SerialPort) Incoming() <-chan []byte {
	return s.incoming
}

// Close closes the underlying serial port, which also ends the read loop.
func (s *SerialPort) Close() error {
	s.log.Debug("serial: closing port")
	return s.port.Close()
}
