package emotiva

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openav/go-emotiva/rs232"
)

const (
	waitTimeout = 2 * time.Second
	waitTick    = 5 * time.Millisecond
)

func TestFusionFlex_PowerAndInput(t *testing.T) {
	device, dt := newTestDevice(t, echoDevice)

	require.NoError(t, device.TurnOn(t.Context()))
	require.NoError(t, device.SelectInput(t.Context(), SourceInput2))

	writes := dt.writeLog()
	require.Len(t, writes, 2)
	assert.Equal(t, []byte("'@112'"), writes[0])
	assert.Equal(t, []byte("'@15B'"), writes[1])

	status := device.Status()
	require.NotNil(t, status.PoweredOn)
	assert.True(t, *status.PoweredOn)
	require.NotNil(t, status.Source)
	assert.Equal(t, SourceInput2, *status.Source)
}

func TestFusionFlex_TurnOff(t *testing.T) {
	device, _ := newTestDevice(t, echoDevice)

	require.NoError(t, device.TurnOn(t.Context()))
	require.NoError(t, device.TurnOff(t.Context()))

	status := device.Status()
	require.NotNil(t, status.PoweredOn)
	assert.False(t, *status.PoweredOn)
}

func TestFusionFlex_SelectInputUnknownSource(t *testing.T) {
	device, dt := newTestDevice(t, echoDevice)

	require.Error(t, device.SelectInput(t.Context(), SourceMode(42)))
	assert.Empty(t, dt.writeLog())
}

func TestFusionFlex_Mute(t *testing.T) {
	device, _ := newTestDevice(t, echoDevice)

	require.NoError(t, device.MuteOn(t.Context()))

	status := device.Status()
	require.NotNil(t, status.Muted)
	assert.True(t, *status.Muted)

	require.NoError(t, device.MuteOff(t.Context()))

	status = device.Status()
	require.NotNil(t, status.Muted)
	assert.False(t, *status.Muted)
}

func TestFusionFlex_MuteToggle(t *testing.T) {
	// The device answers a toggle with the resulting state frame.
	muted := false
	device, _ := newTestDevice(t, func(wire []byte) [][]byte {
		if string(wire) == "'@11U'" {
			muted = !muted
			if muted {
				return [][]byte{[]byte("'@11Q'")}
			}

			return [][]byte{[]byte("'@11R'")}
		}

		return echoDevice(wire)
	})

	got, err := device.MuteToggle(t.Context())
	require.NoError(t, err)
	assert.True(t, got)

	got, err = device.MuteToggle(t.Context())
	require.NoError(t, err)
	assert.False(t, got)
}

func TestFusionFlex_VolumeSteps(t *testing.T) {
	// The device confirms volume steps with the new level.
	level := -40.0
	device, _ := newTestDevice(t, func(wire []byte) [][]byte {
		switch string(wire) {
		case "'@11S'":
			level += 0.5
		case "'@11T'":
			level -= 0.5
		default:
			return echoDevice(wire)
		}

		return [][]byte{append(append([]byte("'@"), wire[2:5]...), append(formatVolumeArg(level), '\'')...)}
	})

	db, err := device.VolumeUp(t.Context())
	require.NoError(t, err)
	assert.InDelta(t, -39.5, db, 1e-9)

	db, err = device.VolumeDown(t.Context())
	require.NoError(t, err)
	assert.InDelta(t, -40.0, db, 1e-9)

	status := device.Status()
	require.NotNil(t, status.VolumeDB)
	assert.InDelta(t, -40.0, *status.VolumeDB, 1e-9)
}

func TestFusionFlex_SetVolume(t *testing.T) {
	device, dt := newTestDevice(t, echoDevice)

	require.NoError(t, device.SetVolumeDB(t.Context(), -32.5))

	writes := dt.writeLog()
	require.Len(t, writes, 1)
	assert.Equal(t, []byte("'@11P-32.5'"), writes[0])

	status := device.Status()
	require.NotNil(t, status.VolumeDB)
	assert.InDelta(t, -32.5, *status.VolumeDB, 1e-9)

	f, ok := status.VolumeFraction()
	require.True(t, ok)
	assert.InDelta(t, (-32.5-MinVolumeDB)/(MaxVolumeDB-MinVolumeDB), f, 1e-9)
}

func TestFusionFlex_SetVolumeOutOfRange(t *testing.T) {
	device, dt := newTestDevice(t, echoDevice)

	require.Error(t, device.SetVolumeDB(t.Context(), 3))
	require.Error(t, device.SetVolumeDB(t.Context(), -120))
	assert.Empty(t, dt.writeLog())
}

func TestFusionFlex_SetVolumeFraction(t *testing.T) {
	device, dt := newTestDevice(t, echoDevice)

	require.NoError(t, device.SetVolumeFraction(t.Context(), 0))

	writes := dt.writeLog()
	require.Len(t, writes, 1)
	assert.Equal(t, []byte("'@11P-95.5'"), writes[0])

	require.Error(t, device.SetVolumeFraction(t.Context(), 1.2))
}

func TestFusionFlex_UnsolicitedStatus(t *testing.T) {
	device, dt := newTestDevice(t, echoDevice)

	// A front-panel volume change arrives without any request.
	dt.push([]byte("'@11S-23.5'"))

	require.Eventually(t, func() bool {
		status := device.Status()

		return status.VolumeDB != nil && *status.VolumeDB == -23.5
	}, waitTimeout, waitTick)

	// Any traffic newer than a power-off confirmation means the device
	// is on; it only talks while powered.
	status := device.Status()
	require.NotNil(t, status.PoweredOn)
	assert.True(t, *status.PoweredOn)
}

func TestFusionFlex_OnStatusChange(t *testing.T) {
	dt := newDeviceTransport(echoDevice)

	device, err := NewFusionFlex(t.Context(),
		rs232.WithTransport(dt),
		rs232.WithReplyTimeout(60*time.Millisecond),
		rs232.WithIdleTimeout(15*time.Millisecond),
		rs232.WithRetryLimit(1),
	)
	require.NoError(t, err)

	var mu sync.Mutex
	var updates []Status

	device.OnStatusChange(func(s Status) {
		mu.Lock()
		defer mu.Unlock()

		updates = append(updates, s)
	})

	require.NoError(t, device.Open())
	t.Cleanup(func() { _ = device.Close() })

	require.NoError(t, device.MuteOn(t.Context()))
	require.NoError(t, device.SetVolumeDB(t.Context(), -50))

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, updates, 2)
	require.NotNil(t, updates[0].Muted)
	assert.True(t, *updates[0].Muted)
	require.NotNil(t, updates[1].VolumeDB)
	assert.InDelta(t, -50, *updates[1].VolumeDB, 1e-9)
}

func TestFusionFlex_Timeout(t *testing.T) {
	// A silent device exhausts the retry budget.
	device, dt := newTestDevice(t, nil)

	err := device.TurnOn(t.Context())
	require.ErrorIs(t, err, rs232.ErrTimeout)

	// retryLimit 1: the frame went out exactly twice.
	assert.Len(t, dt.writeLog(), 2)
}

func TestNewFusionFlex_NoEndpoint(t *testing.T) {
	device, err := NewFusionFlex(t.Context())
	require.NoError(t, err)

	// The missing endpoint surfaces at Open, not at construction.
	require.Error(t, device.Open())
}
