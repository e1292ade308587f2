package emotiva

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openav/go-emotiva/logger"
	"github.com/openav/go-emotiva/rs232"
)

// SourceMode is an input source of the Fusion Flex.
type SourceMode int

const (
	// SourceAuto lets the amplifier pick the active input.
	SourceAuto SourceMode = iota
	// SourceInput1 selects analog input 1.
	SourceInput1
	// SourceInput2 selects analog input 2.
	SourceInput2
)

// String returns a human-readable source name.
func (s SourceMode) String() string {
	switch s {
	case SourceAuto:
		return "auto"
	case SourceInput1:
		return "input-1"
	case SourceInput2:
		return "input-2"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the last-known Fusion Flex state.
//
// Fields are nil until the corresponding state has been observed, either
// as a command confirmation or as an unsolicited front-panel change.
type Status struct {
	PoweredOn *bool
	Muted     *bool
	VolumeDB  *float64
	Source    *SourceMode
}

// VolumeFraction returns the volume as a [0, 1] fraction.
// ok is false when the volume has not been observed yet.
func (s Status) VolumeFraction() (float64, bool) {
	if s.VolumeDB == nil {
		return 0, false
	}

	f, err := VolumeDecibelsToFraction(*s.VolumeDB)
	if err != nil {
		return 0, false
	}

	return f, true
}

// StatusChangeHandler is invoked after each applied device state update.
// Handlers run on the protocol loop goroutine and must not block or issue
// commands.
type StatusChangeHandler func(Status)

// FusionFlex controls an Emotiva Fusion Flex stereo amplifier over its
// RS232 port (or an RS232-to-UDP bridge).
type FusionFlex struct {
	conn   *rs232.Connection
	logger logger.Logger

	mu       sync.RWMutex
	onStatus []StatusChangeHandler
}

// NewFusionFlex creates a Fusion Flex device handle.
//
// The endpoint is supplied through rs232 options, e.g.
// rs232.WithSerialPort("/dev/ttyUSB0") or rs232.WithUDP("", "amp:5000").
// The Fusion Flex line parameters (9600 8N1) are applied by default.
func NewFusionFlex(ctx context.Context, opts ...rs232.ConnOption) (*FusionFlex, error) {
	registry, err := NewRegistry()
	if err != nil {
		return nil, err
	}

	cfg, err := rs232.NewConfig(Dialect(), registry,
		append([]rs232.ConnOption{rs232.WithBaudRate(BaudRate)}, opts...)...)
	if err != nil {
		return nil, err
	}

	conn, err := rs232.NewConnection(ctx, cfg)
	if err != nil {
		return nil, err
	}

	d := &FusionFlex{
		conn:   conn,
		logger: cfg.GetLogger(),
	}

	for _, code := range []string{
		codePowerOn, codePowerOff,
		codeInput1, codeInput2, codeInputAuto,
		codeMuteOn, codeMuteOff,
		codeVolumeUp, codeVolumeDown, codeVolumeSet,
	} {
		conn.Cache().Subscribe(code, d.handleUpdate)
	}

	return d, nil
}

// Conn exposes the underlying protocol connection, e.g. for metrics.
func (d *FusionFlex) Conn() *rs232.Connection {
	return d.conn
}

// Open starts communication with the device.
func (d *FusionFlex) Open() error {
	return d.conn.Open()
}

// Close stops communication with the device and releases the line.
func (d *FusionFlex) Close() error {
	return d.conn.Close()
}

// OnStatusChange registers a handler called after each device state
// update. It must be called before Open.
func (d *FusionFlex) OnStatusChange(handlers ...StatusChangeHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.onStatus = append(d.onStatus, handlers...)
}

// TurnOn powers the amplifier on.
func (d *FusionFlex) TurnOn(ctx context.Context) error {
	_, err := d.conn.Send(ctx, CmdPowerOn, nil)

	return err
}

// TurnOff powers the amplifier off.
func (d *FusionFlex) TurnOff(ctx context.Context) error {
	_, err := d.conn.Send(ctx, CmdPowerOff, nil)

	return err
}

// MuteOn mutes the output.
func (d *FusionFlex) MuteOn(ctx context.Context) error {
	_, err := d.conn.Send(ctx, CmdMuteOn, nil)

	return err
}

// MuteOff unmutes the output.
func (d *FusionFlex) MuteOff(ctx context.Context) error {
	_, err := d.conn.Send(ctx, CmdMuteOff, nil)

	return err
}

// MuteToggle toggles mute and reports the resulting state.
func (d *FusionFlex) MuteToggle(ctx context.Context) (muted bool, err error) {
	reply, err := d.conn.Send(ctx, CmdMuteToggle, nil)
	if err != nil {
		return false, err
	}

	return reply.Code == codeMuteOn, nil
}

// VolumeUp raises the volume by 0.5 dB and returns the new level.
func (d *FusionFlex) VolumeUp(ctx context.Context) (float64, error) {
	return d.volumeStep(ctx, CmdVolumeUp)
}

// VolumeDown lowers the volume by 0.5 dB and returns the new level.
func (d *FusionFlex) VolumeDown(ctx context.Context) (float64, error) {
	return d.volumeStep(ctx, CmdVolumeDown)
}

func (d *FusionFlex) volumeStep(ctx context.Context, cmd string) (float64, error) {
	reply, err := d.conn.Send(ctx, cmd, nil)
	if err != nil {
		return 0, err
	}

	return parseVolumeArg(reply.Args)
}

// SetVolumeDB sets the volume to a specific level in decibels, rounded
// to the nearest 0.5 dB.
func (d *FusionFlex) SetVolumeDB(ctx context.Context, db float64) error {
	if db < MinVolumeDB || db > MaxVolumeDB {
		return fmt.Errorf("emotiva: volume %vdB must be between %vdB and %vdB", db, MinVolumeDB, MaxVolumeDB)
	}

	_, err := d.conn.Send(ctx, CmdVolumeSet, formatVolumeArg(db))

	return err
}

// SetVolumeFraction sets the volume as a fraction between 0 and 1.
func (d *FusionFlex) SetVolumeFraction(ctx context.Context, fraction float64) error {
	db, err := VolumeFractionToDecibels(fraction)
	if err != nil {
		return err
	}

	return d.SetVolumeDB(ctx, db)
}

// SelectInput selects the input source.
func (d *FusionFlex) SelectInput(ctx context.Context, source SourceMode) error {
	var cmd string

	switch source {
	case SourceAuto:
		cmd = CmdInputAuto
	case SourceInput1:
		cmd = CmdInput1
	case SourceInput2:
		cmd = CmdInput2
	default:
		return fmt.Errorf("emotiva: unsupported input source %d", source)
	}

	_, err := d.conn.Send(ctx, cmd, nil)

	return err
}

// Status returns the last-known device state, derived from confirmed
// frames and unsolicited status pushes.
func (d *FusionFlex) Status() Status {
	return statusFromReadings(d.conn.Cache().Snapshot())
}

func (d *FusionFlex) handleUpdate(code string, _ rs232.Reading) {
	d.mu.RLock()
	handlers := d.onStatus
	d.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	status := d.Status()
	d.logger.Debug("emotiva: status update", "code", code)

	for _, h := range handlers {
		h(status)
	}
}

// statusFromReadings folds per-code readings into a Status snapshot.
//
// Any observed message newer than the last power-off confirmation
// implies the device is on: it only talks while powered.
func statusFromReadings(readings map[string]rs232.Reading) Status {
	var st Status

	if code, _, ok := latest(readings, codeMuteOn, codeMuteOff); ok {
		muted := code == codeMuteOn
		st.Muted = &muted
	}

	if _, r, ok := latest(readings, codeVolumeUp, codeVolumeDown, codeVolumeSet); ok {
		if db, err := parseVolumeArg(r.Value); err == nil {
			st.VolumeDB = &db
		}
	}

	if code, _, ok := latest(readings, codeInput1, codeInput2, codeInputAuto); ok {
		source := SourceAuto

		switch code {
		case codeInput1:
			source = SourceInput1
		case codeInput2:
			source = SourceInput2
		}

		st.Source = &source
	}

	var newest string
	var newestAt time.Time
	for code, r := range readings {
		if newest == "" || r.At.After(newestAt) {
			newest = code
			newestAt = r.At
		}
	}

	if newest != "" {
		on := newest != codePowerOff
		st.PoweredOn = &on
	}

	return st
}

// latest returns the most recent reading among the given codes.
func latest(readings map[string]rs232.Reading, codes ...string) (string, rs232.Reading, bool) {
	var (
		bestCode string
		best     rs232.Reading
		found    bool
	)

	for _, code := range codes {
		r, ok := readings[code]
		if !ok {
			continue
		}

		if !found || r.At.After(best.At) {
			bestCode = code
			best = r
			found = true
		}
	}

	return bestCode, best, found
}
