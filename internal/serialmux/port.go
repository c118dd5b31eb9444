package serialmux

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real sensor hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// go.bug.st/serial ports implement it; a Read that times out returns (0, nil).
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortOpener opens the port at path with the given options. Devices take
// an opener so tests can substitute an in-memory port.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)

// PortInfo describes a serial port found during discovery.
type PortInfo struct {
	Path         string `json:"path"`
	Product      string `json:"product,omitempty"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}
