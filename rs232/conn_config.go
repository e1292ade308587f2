package rs232

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/openav/go-emotiva/logger"
)

// Default driver settings.
const (
	// DefaultReplyTimeout is the maximum wait for a confirmation after a
	// request frame has been transmitted.
	DefaultReplyTimeout = 3 * time.Second

	// DefaultIdleTimeout is the inter-byte idle threshold: a partial
	// frame with no new byte for this long is discarded as noise.
	DefaultIdleTimeout = 500 * time.Millisecond

	// DefaultRetryLimit is the number of re-transmissions after the
	// first attempt times out.
	DefaultRetryLimit = 3

	// DefaultQueueSize is the depth of the pending-request queue.
	DefaultQueueSize = 8

	DefaultCloseTimeout = 3 * time.Second

	DefaultBaudRate = 9600
	DefaultDataBits = 8
)

// Settings range limits.
const (
	MinReplyTimeout = 50 * time.Millisecond
	MaxReplyTimeout = 60 * time.Second

	MinIdleTimeout = 10 * time.Millisecond
	MaxIdleTimeout = 10 * time.Second

	MaxRetryLimit = 31

	MaxQueueSize = 64
)

// Config holds all configuration for an RS232 connection.
type Config struct {
	dialect  Dialect
	registry *Registry

	// Serial endpoint.
	portName string
	baudRate int
	dataBits int
	parity   serial.Parity
	stopBits serial.StopBits

	// UDP endpoint (RS232-to-UDP bridge).
	udpLocalAddr  string
	udpRemoteAddr string

	// transport, when non-nil, overrides the endpoint settings entirely.
	transport Transport

	replyTimeout time.Duration
	idleTimeout  time.Duration
	closeTimeout time.Duration

	retryLimit int

	// queueSize is the depth of the pending-request queue. Zero means no
	// queueing: a request submitted while another is outstanding fails
	// immediately with ErrBusy.
	queueSize int

	logger logger.Logger
}

// NewConfig creates a connection configuration for the given dialect and
// command registry.
//
// opts are functional options applied in order; see the With* functions.
// The endpoint (serial port, UDP peer, or custom transport) is validated
// when the connection opens, not here, so configs can be built before the
// endpoint is known.
func NewConfig(dialect Dialect, registry *Registry, opts ...ConnOption) (*Config, error) {
	if err := dialect.validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, errors.New("rs232: command registry is nil")
	}

	cfg := &Config{
		dialect:      dialect,
		registry:     registry,
		baudRate:     DefaultBaudRate,
		dataBits:     DefaultDataBits,
		parity:       serial.NoParity,
		stopBits:     serial.OneStopBit,
		replyTimeout: DefaultReplyTimeout,
		idleTimeout:  DefaultIdleTimeout,
		closeTimeout: DefaultCloseTimeout,
		retryLimit:   DefaultRetryLimit,
		queueSize:    DefaultQueueSize,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// Dialect returns the configured wire dialect.
func (cfg *Config) Dialect() Dialect { return cfg.dialect }

// Registry returns the configured command registry.
func (cfg *Config) Registry() *Registry { return cfg.registry }

// PortName returns the configured serial port name.
func (cfg *Config) PortName() string { return cfg.portName }

// BaudRate returns the configured baud rate.
func (cfg *Config) BaudRate() int { return cfg.baudRate }

// DataBits returns the configured number of data bits.
func (cfg *Config) DataBits() int { return cfg.dataBits }

// Parity returns the configured parity mode.
func (cfg *Config) Parity() serial.Parity { return cfg.parity }

// StopBits returns the configured stop bits.
func (cfg *Config) StopBits() serial.StopBits { return cfg.stopBits }

// ReplyTimeout returns the per-attempt confirmation timeout.
func (cfg *Config) ReplyTimeout() time.Duration { return cfg.replyTimeout }

// IdleTimeout returns the inter-byte idle threshold.
func (cfg *Config) IdleTimeout() time.Duration { return cfg.idleTimeout }

// CloseTimeout returns the maximum wait for the protocol loop to stop.
func (cfg *Config) CloseTimeout() time.Duration { return cfg.closeTimeout }

// RetryLimit returns the maximum number of re-transmissions per request.
func (cfg *Config) RetryLimit() int { return cfg.retryLimit }

// QueueSize returns the pending-request queue depth.
func (cfg *Config) QueueSize() int { return cfg.queueSize }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// openTransport opens the configured endpoint.
func (cfg *Config) openTransport() (Transport, error) {
	switch {
	case cfg.transport != nil:
		return cfg.transport, nil

	case cfg.portName != "":
		return OpenSerial(SerialSettings{
			Port:     cfg.portName,
			BaudRate: cfg.baudRate,
			DataBits: cfg.dataBits,
			Parity:   cfg.parity,
			StopBits: cfg.stopBits,
		})

	case cfg.udpRemoteAddr != "":
		return OpenUDP(cfg.udpLocalAddr, cfg.udpRemoteAddr)

	default:
		return nil, errors.New("rs232: no endpoint configured, use WithSerialPort, WithUDP or WithTransport")
	}
}

// --- ConnOption ---

// ConnOption is a functional option for configuring a Config.
type ConnOption interface {
	apply(*Config) error
}

type connOptFunc func(*Config) error

func (f connOptFunc) apply(cfg *Config) error { return f(cfg) }

// WithSerialPort sets the serial device name or path, e.g. "/dev/ttyUSB0".
func WithSerialPort(name string) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if name == "" {
			return errors.New("rs232: serial port name must not be empty")
		}
		cfg.portName = name

		return nil
	})
}

// WithBaudRate sets the serial baud rate.
func WithBaudRate(rate int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if rate <= 0 {
			return fmt.Errorf("rs232: baud rate %d must be positive", rate)
		}
		cfg.baudRate = rate

		return nil
	})
}

// WithDataBits sets the number of serial data bits (5-8).
func WithDataBits(bits int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if bits < 5 || bits > 8 {
			return fmt.Errorf("rs232: data bits %d out of range [5, 8]", bits)
		}
		cfg.dataBits = bits

		return nil
	})
}

// WithParity sets the serial parity mode.
func WithParity(p serial.Parity) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.parity = p

		return nil
	})
}

// WithStopBits sets the serial stop bits.
func WithStopBits(s serial.StopBits) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.stopBits = s

		return nil
	})
}

// WithUDP sets a UDP peer endpoint in place of a serial port, for devices
// reached through an RS232-to-UDP bridge. localAddr may be empty.
func WithUDP(localAddr, remoteAddr string) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if remoteAddr == "" {
			return errors.New("rs232: UDP remote address must not be empty")
		}
		cfg.udpLocalAddr = localAddr
		cfg.udpRemoteAddr = remoteAddr

		return nil
	})
}

// WithTransport sets a custom Transport, overriding the endpoint
// settings. The connection takes ownership and closes it on Close.
func WithTransport(t Transport) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if t == nil {
			return errors.New("rs232: transport must not be nil")
		}
		cfg.transport = t

		return nil
	})
}

// WithReplyTimeout sets the per-attempt confirmation timeout.
func WithReplyTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d < MinReplyTimeout || d > MaxReplyTimeout {
			return fmt.Errorf("rs232: reply timeout %v out of range [%v, %v]", d, MinReplyTimeout, MaxReplyTimeout)
		}
		cfg.replyTimeout = d

		return nil
	})
}

// WithIdleTimeout sets the inter-byte idle threshold for partial frames.
func WithIdleTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d < MinIdleTimeout || d > MaxIdleTimeout {
			return fmt.Errorf("rs232: idle timeout %v out of range [%v, %v]", d, MinIdleTimeout, MaxIdleTimeout)
		}
		cfg.idleTimeout = d

		return nil
	})
}

// WithCloseTimeout sets the maximum wait for the protocol loop to stop
// during Close.
func WithCloseTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("rs232: close timeout must be positive")
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithRetryLimit sets the maximum number of re-transmissions per request.
func WithRetryLimit(n int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if n < 0 || n > MaxRetryLimit {
			return fmt.Errorf("rs232: retry limit %d out of range [0, %d]", n, MaxRetryLimit)
		}
		cfg.retryLimit = n

		return nil
	})
}

// WithQueueSize sets the pending-request queue depth. A full queue fails
// fast with ErrQueueFull. Zero disables queueing entirely: a request
// submitted while another is outstanding fails immediately with ErrBusy.
func WithQueueSize(size int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if size < 0 || size > MaxQueueSize {
			return fmt.Errorf("rs232: queue size %d out of range [0, %d]", size, MaxQueueSize)
		}
		cfg.queueSize = size

		return nil
	})
}

// WithLogger sets the logger for the connection.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("rs232: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
