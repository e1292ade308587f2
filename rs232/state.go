package rs232

import "sync/atomic"

// DriverState represents the protocol driver's half-duplex state machine.
//
// The driver transitions Idle → AwaitingResponse on transmit; a reply
// timeout with retries remaining passes through Retrying back to
// AwaitingResponse; an exhausted retry budget passes through Failed
// before the driver returns to Idle for the next request.
type DriverState int32

const (
	// IdleState means no request is outstanding; the line is polled for
	// unsolicited frames.
	IdleState DriverState = iota

	// AwaitingResponseState means a request frame has been transmitted
	// and the driver is waiting for its confirmation.
	AwaitingResponseState

	// RetryingState is the transient state between a reply timeout and
	// the re-transmission of the identical frame.
	RetryingState

	// FailedState is the transient state after the retry budget is
	// exhausted, before the driver returns to Idle.
	FailedState
)

// String returns a human-readable state name.
func (s DriverState) String() string {
	switch s {
	case IdleState:
		return "idle"
	case AwaitingResponseState:
		return "awaiting-response"
	case RetryingState:
		return "retrying"
	case FailedState:
		return "failed"
	default:
		return "unknown"
	}
}

// atomicDriverState is a lock-free holder for the current DriverState.
type atomicDriverState struct {
	val atomic.Int32
}

func (a *atomicDriverState) Get() DriverState {
	return DriverState(a.val.Load())
}

// Swap sets the state and returns the previous one.
func (a *atomicDriverState) Swap(s DriverState) DriverState {
	return DriverState(a.val.Swap(int32(s)))
}
