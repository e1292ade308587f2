package rs232

import (
	"bytes"
	"fmt"
)

// Decoder is a streaming frame decoder.
//
// Bytes read from the transport are appended with Feed; complete frame
// payloads are drained with Next. The decoder buffers partial frames
// across reads and resynchronizes on the dialect preamble after a
// malformed frame, so transport-level noise never desynchronizes the
// stream permanently.
//
// Decoder is not goroutine-safe; it is owned by the protocol loop.
type Decoder struct {
	dialect Dialect
	buf     []byte
}

// NewDecoder creates a Decoder for the given dialect.
func NewDecoder(d Dialect) *Decoder {
	return &Decoder{dialect: d}
}

// Feed appends raw bytes read from the transport.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes held for a partial frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards all buffered bytes. The driver calls it when the line
// goes idle with a partial frame buffered, treating the fragment as noise.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Next extracts the next complete frame payload (command code + argument
// bytes, without preamble, terminator or checksum).
//
// It returns ErrIncomplete when no complete frame is buffered yet; the
// caller should feed more bytes and retry. Any other error reports a
// malformed frame (corrupt terminator, checksum mismatch, or overlong
// frame); the offending bytes have been discarded up to the next preamble
// and the caller may simply call Next again.
func (d *Decoder) Next() ([]byte, error) {
	pre := d.dialect.Preamble

	start := bytes.Index(d.buf, pre)
	if start < 0 {
		// Drop garbage, keeping a possible partial preamble at the tail.
		d.buf = d.buf[len(d.buf)-d.partialPreambleTail():]

		return nil, ErrIncomplete
	}

	if start > 0 {
		// Inter-frame noise before the preamble.
		d.buf = d.buf[start:]
	}

	body := d.buf[len(pre):]
	termIdx := bytes.IndexByte(body, d.dialect.Terminator)
	innerIdx := bytes.Index(body, pre)

	if innerIdx >= 0 && (termIdx < 0 || innerIdx < termIdx) {
		// A new frame started before this one terminated: the terminator
		// byte was lost or corrupted. Resynchronize at the inner preamble.
		d.buf = d.buf[len(pre)+innerIdx:]

		return nil, fmt.Errorf("%w: frame restarted before terminator", ErrMalformedFrame)
	}

	if termIdx < 0 {
		if len(d.buf) >= d.dialect.MaxFrameLen {
			d.buf = d.buf[:0]

			return nil, fmt.Errorf("%w: no terminator within %d bytes", ErrFrameTooLong, d.dialect.MaxFrameLen)
		}

		return nil, ErrIncomplete
	}

	payload := body[:termIdx]
	consumed := len(pre) + termIdx + 1

	if d.dialect.Checksum != nil {
		if len(body) < termIdx+2 {
			return nil, ErrIncomplete // checksum byte not yet received
		}

		wire := body[termIdx+1]
		consumed++

		if calc := d.dialect.Checksum(payload); wire != calc {
			d.buf = d.buf[consumed:]

			return nil, fmt.Errorf("%w: wire=0x%02X, computed=0x%02X", ErrChecksumMismatch, wire, calc)
		}
	}

	if consumed > d.dialect.MaxFrameLen {
		d.buf = d.buf[consumed:]

		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrFrameTooLong, consumed, d.dialect.MaxFrameLen)
	}

	out := make([]byte, len(payload))
	copy(out, payload)
	d.buf = d.buf[consumed:]

	return out, nil
}

// partialPreambleTail returns the length of the longest proper preamble
// prefix at the tail of the buffer. Those bytes may be the start of the
// next frame and must survive garbage trimming.
func (d *Decoder) partialPreambleTail() int {
	pre := d.dialect.Preamble

	for k := min(len(pre)-1, len(d.buf)); k > 0; k-- {
		if bytes.HasSuffix(d.buf, pre[:k]) {
			return k
		}
	}

	return 0
}
