package rs232

import "errors"

// Sentinel errors for the RS232 protocol driver.
var (
	// Codec errors.
	ErrEncoding         = errors.New("rs232: invalid command arguments")
	ErrIncomplete       = errors.New("rs232: incomplete frame")
	ErrMalformedFrame   = errors.New("rs232: malformed frame")
	ErrChecksumMismatch = errors.New("rs232: checksum mismatch")
	ErrFrameTooLong     = errors.New("rs232: frame exceeds maximum length")
	ErrUnknownFrame     = errors.New("rs232: frame does not match any registered command")

	// Registry errors.
	ErrUnknownCommand = errors.New("rs232: unknown command")

	// Driver errors.
	ErrTimeout    = errors.New("rs232: reply timeout, retries exhausted")
	ErrBusy       = errors.New("rs232: request already in flight")
	ErrQueueFull  = errors.New("rs232: request queue full")
	ErrConnClosed = errors.New("rs232: connection closed")

	// Transport errors.
	ErrTransport = errors.New("rs232: transport failure")
)
