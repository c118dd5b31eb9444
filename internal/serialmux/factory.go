package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// detailedPortsList is swapped out in tests.
var detailedPortsList = enumerator.GetDetailedPortsList

// OpenPort opens a real serial port at path and applies the configured read
// timeout. It satisfies SerialPortOpener.
func OpenPort(path string, opts PortOptions) (SerialPorter, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	if opts.ReadTimeout > 0 {
		if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
		}
	}

	return port, nil
}

// ListPorts enumerates the serial ports visible to the OS. Paired Bluetooth
// SPP devices appear here once bound to an rfcomm/tty node.
func ListPorts() ([]PortInfo, error) {
	details, err := detailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil || d.Name == "" {
			continue
		}
		ports = append(ports, PortInfo{
			Path:         d.Name,
			Product:      d.Product,
			IsUSB:        d.IsUSB,
			VID:          strings.ToLower(d.VID),
			PID:          strings.ToLower(d.PID),
			SerialNumber: d.SerialNumber,
		})
	}
	return ports, nil
}

// IsBluetooth reports whether the port looks like a Bluetooth serial link.
func (p PortInfo) IsBluetooth() bool {
	path := strings.ToLower(p.Path)
	return strings.Contains(path, "rfcomm") ||
		strings.Contains(path, "bluetooth") ||
		strings.Contains(strings.ToLower(p.Product), "bluetooth")
}
