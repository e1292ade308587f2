package rs232

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.bug.st/serial"
)

// Transport abstracts the physical byte stream to the device.
//
// A Transport is exclusively owned by one Connection; all multiplexing
// happens above it, inside the protocol driver. Read is the only
// operation permitted to block, and only up to maxWait.
type Transport interface {
	// Write transmits all of p.
	Write(p []byte) error

	// Read reads up to len(p) bytes, waiting at most maxWait for the
	// first byte. It returns (0, nil) when nothing arrived within
	// maxWait: the line being idle is a first-class outcome, not a
	// failure.
	Read(p []byte, maxWait time.Duration) (int, error)

	// Close releases the underlying line.
	Close() error
}

// SerialSettings holds the physical parameters for opening a serial port.
type SerialSettings struct {
	// Port is the device name or path, e.g. "/dev/ttyUSB0" or "COM3".
	Port string
	// BaudRate defaults to 9600 when zero.
	BaudRate int
	// DataBits defaults to 8 when zero.
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

type serialTransport struct {
	port serial.Port

	// lastWait caches the read timeout applied to the port, so the
	// per-read syscall is skipped when the wait does not change.
	lastWait time.Duration
}

// OpenSerial opens a serial port with the given settings.
//
// The port is released on every failure path, so a failed open never
// leaks the line.
func OpenSerial(s SerialSettings) (Transport, error) {
	if s.Port == "" {
		return nil, fmt.Errorf("%w: serial port name is empty", ErrTransport)
	}
	if s.BaudRate == 0 {
		s.BaudRate = 9600
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}

	mode := &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
		Parity:   s.Parity,
		StopBits: s.StopBits,
	}

	port, err := serial.Open(s.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrTransport, s.Port, err)
	}

	// Drop bytes the device pushed while nobody was listening.
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()

		return nil, fmt.Errorf("%w: reset input buffer: %w", ErrTransport, err)
	}

	return &serialTransport{port: port, lastWait: -1}, nil
}

func (t *serialTransport) Write(p []byte) error {
	for written := 0; written < len(p); {
		n, err := t.port.Write(p[written:])
		written += n

		if err != nil {
			return fmt.Errorf("%w: serial write: %w", ErrTransport, err)
		}
	}

	return nil
}

func (t *serialTransport) Read(p []byte, maxWait time.Duration) (int, error) {
	if maxWait != t.lastWait {
		if err := t.port.SetReadTimeout(maxWait); err != nil {
			return 0, fmt.Errorf("%w: set read timeout: %w", ErrTransport, err)
		}

		t.lastWait = maxWait
	}

	// go.bug.st/serial returns (0, nil) when the timeout elapses, which
	// is exactly the Transport contract.
	n, err := t.port.Read(p)
	if err != nil {
		return n, fmt.Errorf("%w: serial read: %w", ErrTransport, err)
	}

	return n, nil
}

func (t *serialTransport) Close() error {
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("%w: serial close: %w", ErrTransport, err)
	}

	return nil
}

type udpTransport struct {
	conn *net.UDPConn
}

// OpenUDP connects a UDP peer transport for devices controlled over an
// RS232-to-UDP bridge. localAddr may be empty to let the stack choose.
func OpenUDP(localAddr, remoteAddr string) (Transport, error) {
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", ErrTransport, remoteAddr, err)
	}

	var laddr *net.UDPAddr
	if localAddr != "" {
		laddr, err = net.ResolveUDPAddr("udp", localAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve %s: %w", ErrTransport, localAddr, err)
		}
	}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, remoteAddr, err)
	}

	return &udpTransport{conn: conn}, nil
}

func (t *udpTransport) Write(p []byte) error {
	if _, err := t.conn.Write(p); err != nil {
		return fmt.Errorf("%w: udp write: %w", ErrTransport, err)
	}

	return nil
}

func (t *udpTransport) Read(p []byte, maxWait time.Duration) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(maxWait)); err != nil {
		return 0, fmt.Errorf("%w: set read deadline: %w", ErrTransport, err)
	}

	n, err := t.conn.Read(p)
	if err != nil {
		if isTimeoutError(err) {
			return 0, nil
		}

		return n, fmt.Errorf("%w: udp read: %w", ErrTransport, err)
	}

	return n, nil
}

func (t *udpTransport) Close() error {
	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("%w: udp close: %w", ErrTransport, err)
	}

	return nil
}

func isTimeoutError(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
