package emotiva

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openav/go-emotiva/rs232"
)

// deviceTransport is an in-memory rs232.Transport emulating a Fusion
// Flex on the other end of the line: each recognized command frame
// triggers a scripted confirmation.
type deviceTransport struct {
	mu      sync.Mutex
	writes  [][]byte
	respond func(wire []byte) [][]byte

	readCh  chan []byte
	pending []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newDeviceTransport(respond func(wire []byte) [][]byte) *deviceTransport {
	return &deviceTransport{
		respond: respond,
		readCh:  make(chan []byte, 32),
		closed:  make(chan struct{}),
	}
}

func (d *deviceTransport) Write(p []byte) error {
	wire := make([]byte, len(p))
	copy(wire, p)

	d.mu.Lock()
	d.writes = append(d.writes, wire)
	respond := d.respond
	d.mu.Unlock()

	if respond != nil {
		for _, reply := range respond(wire) {
			d.readCh <- reply
		}
	}

	return nil
}

func (d *deviceTransport) Read(p []byte, maxWait time.Duration) (int, error) {
	if len(d.pending) == 0 {
		select {
		case data := <-d.readCh:
			d.pending = data
		case <-time.After(maxWait):
			return 0, nil
		case <-d.closed:
			return 0, io.ErrClosedPipe
		}
	}

	n := copy(p, d.pending)
	d.pending = d.pending[n:]

	return n, nil
}

func (d *deviceTransport) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })

	return nil
}

// push injects an unsolicited frame, as if the front panel was used.
func (d *deviceTransport) push(frame []byte) {
	d.readCh <- frame
}

func (d *deviceTransport) writeLog() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([][]byte, len(d.writes))
	copy(out, d.writes)

	return out
}

// echoDevice confirms every command by echoing the received frame.
func echoDevice(wire []byte) [][]byte {
	out := make([]byte, len(wire))
	copy(out, wire)

	return [][]byte{out}
}

// newTestDevice creates and opens a FusionFlex wired to the given
// scripted device, with timeouts short enough for retry tests.
func newTestDevice(t *testing.T, respond func(wire []byte) [][]byte) (*FusionFlex, *deviceTransport) {
	t.Helper()

	dt := newDeviceTransport(respond)

	device, err := NewFusionFlex(t.Context(),
		rs232.WithTransport(dt),
		rs232.WithReplyTimeout(60*time.Millisecond),
		rs232.WithIdleTimeout(15*time.Millisecond),
		rs232.WithRetryLimit(1),
	)
	require.NoError(t, err)
	require.NoError(t, device.Open())

	t.Cleanup(func() { _ = device.Close() })

	return device, dt
}
