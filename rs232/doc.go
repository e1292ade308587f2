// Package rs232 implements a half-duplex request/response protocol driver
// for serially controlled A/V devices.
//
// The driver is dictionary-driven: a [Dialect] describes the wire framing
// (preamble, terminator, optional checksum) and a [Registry] of
// [CommandSpec] entries describes the device's command set. Neither the
// codec nor the driver hardcodes device byte values, so different device
// models are different data tables over the same machinery.
//
// # Protocol Overview
//
// The line is half-duplex: requests and confirmations strictly alternate,
// and at most one request is ever in flight. A [Connection] runs a single
// protocol loop goroutine that owns the [Transport]:
//
//   - Queued requests are transmitted one at a time and matched against
//     the confirmation frames the device echoes back.
//   - A missing confirmation is retried by re-transmitting the identical
//     frame, up to the configured retry limit, before ErrTimeout is
//     surfaced to the caller.
//   - Malformed bytes are discarded as line noise, resynchronizing on the
//     next preamble, and never consume a retry.
//   - Device-initiated frames (front-panel changes, status pushes) are
//     routed to the [StateCache], which keeps the last-known value per
//     command code with last-write-wins semantics.
//
// # Transports
//
// The physical byte stream is abstracted behind [Transport]. A serial
// port implementation (go.bug.st/serial) and a UDP peer implementation
// (for RS232-to-UDP bridges) are provided; a read returning no bytes
// within its wait is a first-class idle outcome, never an error.
package rs232
