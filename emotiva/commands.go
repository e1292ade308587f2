package emotiva

import (
	"fmt"
	"math"
	"strconv"

	"github.com/openav/go-emotiva/rs232"
)

// Fusion Flex serial parameters.
const (
	// BaudRate is the fixed line rate of the Fusion Flex RS232 port
	// (8 data bits, no parity, one stop bit).
	BaudRate = 9600

	// maxFrameLen bounds a Fusion Flex frame on the wire; the device
	// never produces longer messages and longer input is noise.
	maxFrameLen = 16
)

// Volume range of the Fusion Flex, in decibels.
const (
	MinVolumeDB = -95.5
	MaxVolumeDB = 0
)

// Logical command names understood by the Fusion Flex.
const (
	CmdPowerOn    = "power.on"
	CmdPowerOff   = "power.off"
	CmdInput1     = "input.1"
	CmdInput2     = "input.2"
	CmdInputAuto  = "input.auto"
	CmdMuteOn     = "mute.on"
	CmdMuteOff    = "mute.off"
	CmdMuteToggle = "mute.toggle"
	CmdVolumeUp   = "volume.up"
	CmdVolumeDown = "volume.down"
	CmdVolumeSet  = "volume.set"
)

// Wire command codes of the Fusion Flex dictionary.
const (
	codePowerOn    = "112"
	codePowerOff   = "113"
	codeInput1     = "15A"
	codeInput2     = "15B"
	codeInputAuto  = "15Z"
	codeMuteOn     = "11Q"
	codeMuteOff    = "11R"
	codeMuteToggle = "11U"
	codeVolumeUp   = "11S"
	codeVolumeDown = "11T"
	codeVolumeSet  = "11P"
)

// volumeArgLen is the length of a volume level argument, e.g. "-40.5".
const volumeArgLen = 5

// Dialect returns the Fusion Flex wire dialect: ASCII frames opened by
// the "'@" preamble and closed by a "'" terminator, no checksum.
func Dialect() rs232.Dialect {
	return rs232.Dialect{
		Preamble:    []byte("'@"),
		Terminator:  '\'',
		MaxFrameLen: maxFrameLen,
	}
}

// NewRegistry builds the Fusion Flex command registry.
//
// The volume step and set commands are confirmed with the new level as
// argument; mute toggle is confirmed by whichever mute state results.
func NewRegistry() (*rs232.Registry, error) {
	return rs232.NewRegistry(
		&rs232.CommandSpec{Name: CmdPowerOn, Code: codePowerOn},
		&rs232.CommandSpec{Name: CmdPowerOff, Code: codePowerOff},
		&rs232.CommandSpec{Name: CmdInput1, Code: codeInput1},
		&rs232.CommandSpec{Name: CmdInput2, Code: codeInput2},
		&rs232.CommandSpec{Name: CmdInputAuto, Code: codeInputAuto},
		&rs232.CommandSpec{Name: CmdMuteOn, Code: codeMuteOn},
		&rs232.CommandSpec{Name: CmdMuteOff, Code: codeMuteOff},
		&rs232.CommandSpec{
			Name:       CmdMuteToggle,
			Code:       codeMuteToggle,
			ReplyCodes: []string{codeMuteOn, codeMuteOff},
		},
		&rs232.CommandSpec{
			Name:        CmdVolumeUp,
			Code:        codeVolumeUp,
			ReplyArgLen: volumeArgLen,
			Validate:    validateVolumeArg,
		},
		&rs232.CommandSpec{
			Name:        CmdVolumeDown,
			Code:        codeVolumeDown,
			ReplyArgLen: volumeArgLen,
			Validate:    validateVolumeArg,
		},
		&rs232.CommandSpec{
			Name:        CmdVolumeSet,
			Code:        codeVolumeSet,
			ArgLen:      volumeArgLen,
			ReplyArgLen: volumeArgLen,
			Validate:    validateVolumeArg,
		},
	)
}

// validateVolumeArg checks the "-NN.N" level form: minus sign, two
// digits, a dot, and a final digit of 0 or 5 (the device steps in
// 0.5 dB).
func validateVolumeArg(args []byte) error {
	if len(args) != volumeArgLen {
		return fmt.Errorf("emotiva: volume argument %q must be %d bytes", args, volumeArgLen)
	}
	if args[0] != '-' || args[3] != '.' {
		return fmt.Errorf("emotiva: volume argument %q must have form -NN.N", args)
	}
	if args[1] < '0' || args[1] > '9' || args[2] < '0' || args[2] > '9' {
		return fmt.Errorf("emotiva: volume argument %q must have form -NN.N", args)
	}
	if args[4] != '0' && args[4] != '5' {
		return fmt.Errorf("emotiva: volume argument %q must end in a 0.5 dB step", args)
	}

	return nil
}

// formatVolumeArg renders a level as the "-NN.N" wire argument, rounding
// to the nearest 0.5 dB.
func formatVolumeArg(db float64) []byte {
	rounded := math.Round(db*2) / 2

	return []byte(fmt.Sprintf("-%04.1f", math.Abs(rounded)))
}

// parseVolumeArg parses a "-NN.N" wire argument into decibels.
func parseVolumeArg(args []byte) (float64, error) {
	if err := validateVolumeArg(args); err != nil {
		return 0, err
	}

	v, err := strconv.ParseFloat(string(args), 64)
	if err != nil {
		return 0, fmt.Errorf("emotiva: volume argument %q: %w", args, err)
	}

	return v, nil
}

// VolumeFractionToDecibels converts a volume in [0, 1] to decibels.
func VolumeFractionToDecibels(fraction float64) (float64, error) {
	if fraction < 0 || fraction > 1 {
		return 0, fmt.Errorf("emotiva: volume fraction %v must be between 0 and 1", fraction)
	}

	return MinVolumeDB + fraction*(MaxVolumeDB-MinVolumeDB), nil
}

// VolumeDecibelsToFraction converts a volume in decibels to a [0, 1]
// fraction.
func VolumeDecibelsToFraction(db float64) (float64, error) {
	if db < MinVolumeDB || db > MaxVolumeDB {
		return 0, fmt.Errorf("emotiva: volume %vdB must be between %vdB and %vdB", db, MinVolumeDB, MaxVolumeDB)
	}

	return (db - MinVolumeDB) / (MaxVolumeDB - MinVolumeDB), nil
}
