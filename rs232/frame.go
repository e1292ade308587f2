package rs232

import (
	"bytes"
	"fmt"
)

// ChecksumFunc computes a single checksum byte over a frame payload
// (command code + argument bytes). The checksum travels after the
// terminator byte on the wire.
type ChecksumFunc func(payload []byte) byte

// Sum8 is an arithmetic checksum: the sum of all unsigned byte values,
// truncated to 8 bits. Device dictionaries that define a checksum byte
// commonly use this form.
func Sum8(payload []byte) byte {
	var sum uint16
	for _, v := range payload {
		sum += uint16(v)
	}

	return byte(sum & 0xFF)
}

// Dialect describes the wire framing of a device dictionary.
//
// A frame on the wire is:
//
//	[Preamble][Code][Args][Terminator][Checksum?]
//
// All values are dictionary constants supplied by the device layer; the
// driver itself never hardcodes byte values.
type Dialect struct {
	// Preamble is the fixed leading byte sequence marking frame start.
	// It is also the resynchronization point after a malformed frame.
	Preamble []byte

	// Terminator is the single byte marking frame end. It must not appear
	// inside the command code or argument bytes.
	Terminator byte

	// MaxFrameLen is the device-defined maximum total frame length on the
	// wire, including preamble, terminator and checksum.
	MaxFrameLen int

	// Checksum, when non-nil, appends one checksum byte after the
	// terminator on encode and verifies it on decode.
	Checksum ChecksumFunc
}

// overhead returns the number of non-payload bytes per frame.
func (d Dialect) overhead() int {
	n := len(d.Preamble) + 1 // terminator
	if d.Checksum != nil {
		n++
	}

	return n
}

func (d Dialect) validate() error {
	if len(d.Preamble) == 0 {
		return fmt.Errorf("%w: dialect preamble is empty", ErrEncoding)
	}
	if bytes.IndexByte(d.Preamble[1:], d.Terminator) >= 0 {
		return fmt.Errorf("%w: terminator byte inside preamble", ErrEncoding)
	}
	if d.MaxFrameLen <= d.overhead() {
		return fmt.Errorf("%w: max frame length %d leaves no room for payload", ErrEncoding, d.MaxFrameLen)
	}

	return nil
}

// Frame is a decoded protocol frame: a registered command code plus its
// argument bytes.
type Frame struct {
	Code string
	Args []byte
}

// Encode renders the wire frame for the given command spec and argument
// bytes.
//
// It fails with an error wrapping ErrEncoding when the arguments violate
// the spec's arity or range constraints, when the terminator byte appears
// unescaped inside the arguments, or when the total frame would exceed the
// dialect's maximum length.
func Encode(d Dialect, spec *CommandSpec, args []byte) ([]byte, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: nil command spec", ErrEncoding)
	}

	if len(args) != spec.ArgLen {
		return nil, fmt.Errorf("%w: command %q takes %d argument bytes, got %d",
			ErrEncoding, spec.Name, spec.ArgLen, len(args))
	}

	if spec.Validate != nil && len(args) > 0 {
		if err := spec.Validate(args); err != nil {
			return nil, fmt.Errorf("%w: command %q: %w", ErrEncoding, spec.Name, err)
		}
	}

	if bytes.IndexByte([]byte(spec.Code), d.Terminator) >= 0 ||
		bytes.IndexByte(args, d.Terminator) >= 0 {
		return nil, fmt.Errorf("%w: terminator byte 0x%02X inside frame payload", ErrEncoding, d.Terminator)
	}

	wireLen := d.overhead() + len(spec.Code) + len(args)
	if wireLen > d.MaxFrameLen {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrFrameTooLong, wireLen, d.MaxFrameLen)
	}

	buf := make([]byte, 0, wireLen)
	buf = append(buf, d.Preamble...)
	buf = append(buf, spec.Code...)
	buf = append(buf, args...)
	buf = append(buf, d.Terminator)

	if d.Checksum != nil {
		payload := buf[len(d.Preamble) : len(buf)-1]
		buf = append(buf, d.Checksum(payload))
	}

	return buf, nil
}
