package rs232

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for an RS232 connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// FrameSendCount indicates the number of frames transmitted,
	// including re-transmissions.
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of well-formed frames received.
	FrameRecvCount atomic.Uint64
	// RetryCount indicates the total number of request re-transmissions.
	RetryCount atomic.Uint64
	// TimeoutCount indicates the number of requests that exhausted their
	// retry budget.
	TimeoutCount atomic.Uint64
	// MalformedCount indicates the number of malformed or unmatchable
	// frames discarded as line noise.
	MalformedCount atomic.Uint64
	// UnsolicitedCount indicates the number of device-initiated status
	// frames routed to the state cache.
	UnsolicitedCount atomic.Uint64
	// RequestInflightCount indicates the number of requests currently
	// awaiting a reply. The half-duplex discipline keeps it at 0 or 1.
	RequestInflightCount atomic.Int64
}

func (m *ConnectionMetrics) incFrameSendCount() {
	m.FrameSendCount.Add(1)
}

func (m *ConnectionMetrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *ConnectionMetrics) incRetryCount() {
	m.RetryCount.Add(1)
}

func (m *ConnectionMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *ConnectionMetrics) incMalformedCount() {
	m.MalformedCount.Add(1)
}

func (m *ConnectionMetrics) incUnsolicitedCount() {
	m.UnsolicitedCount.Add(1)
}

func (m *ConnectionMetrics) incRequestInflightCount() {
	m.RequestInflightCount.Add(1)
}

func (m *ConnectionMetrics) decRequestInflightCount() {
	m.RequestInflightCount.Add(-1)
}
