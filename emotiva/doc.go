// Package emotiva provides device handles for Emotiva amplifiers that
// speak the ASCII control dialect over RS232.
//
// The package defines the Fusion Flex command dictionary (power, input
// selection, mute and volume) and a FusionFlex type that wraps an
// rs232.Connection with typed operations:
//
//	device, err := emotiva.NewFusionFlex(ctx, rs232.WithSerialPort("/dev/ttyUSB0"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := device.Open(); err != nil {
//		log.Fatal(err)
//	}
//	defer device.Close()
//
//	_ = device.TurnOn(ctx)
//	_ = device.SetVolumeDB(ctx, -32.5)
//
// Device state observed on the wire, including unsolicited changes made
// at the front panel, is folded into Status snapshots. Register a
// handler with OnStatusChange before Open to follow updates.
package emotiva
