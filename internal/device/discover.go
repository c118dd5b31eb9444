package device

import (
	"fmt"

	"github.com/banshee-data/heartrate.report/internal/serialmux"
)

// dynastreamVID is the USB vendor ID of Garmin/Dynastream ANT sticks.
const dynastreamVID = "0fcf"

// listPorts is swapped out in tests.
var listPorts = serialmux.ListPorts

// DiscoverOptions selects which families Discover probes.
type DiscoverOptions struct {
	Bluetooth bool
	ANT       bool
}

// Discover lists reachable devices: belts bound to Bluetooth serial ports and
// ANT USB sticks. The demo band is never discovered.
func Discover(opts DiscoverOptions) ([]Descriptor, error) {
	if !opts.Bluetooth && !opts.ANT {
		return nil, nil
	}
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	var out []Descriptor
	for _, p := range ports {
		switch {
		case opts.Bluetooth && p.IsBluetooth():
			name := BeltName
			if p.Product != "" {
				name = p.Product
			}
			out = append(out, Descriptor{Address: p.Path, Name: name, Kind: KindBelt})
		case opts.ANT && p.IsUSB && p.VID == dynastreamVID:
			out = append(out, Descriptor{Address: p.Path, Name: DongleName, Kind: KindDongle})
		}
	}
	return out, nil
}

// SupportedDevices lists the device names the controller can drive.
func SupportedDevices() []string {
	return []string{BeltName, DongleName}
}
