// Package device implements the heart-rate sensor families: the Polar
// WearLink+ belt over a Bluetooth serial link, ANT+ straps through a USB
// stick, and a synthetic demo band.
//
// Every variant follows the same lifecycle: Connect, optionally Stabilize,
// then RunTest or BeginAcquisition start one background worker which the
// controller stops with FinishTest or FinishAcquisition and joins with Wait
// before calling Disconnect.
package device

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/heartrate.report/internal/config"
	"github.com/banshee-data/heartrate.report/internal/protocol"
	"github.com/banshee-data/heartrate.report/internal/serialmux"
	"github.com/banshee-data/heartrate.report/internal/sink"
	"github.com/banshee-data/heartrate.report/internal/timeutil"
)

// Kind names a sensor family.
type Kind string

const (
	KindBelt   Kind = "belt"
	KindDongle Kind = "dongle"
	KindDemo   Kind = "demo"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindBelt, KindDongle, KindDemo:
		return k, nil
	}
	return "", fmt.Errorf("unknown device kind %q (want belt, dongle or demo)", s)
}

// Descriptor identifies a reachable device.
type Descriptor struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Kind    Kind   `json:"kind"`
}

// Status is a snapshot of a device's flags.
type Status struct {
	Connected        bool `json:"connected"`
	Running          bool `json:"running"`
	CorrectData      bool `json:"correct_data"`
	Error            bool `json:"error"`
	EndedTest        bool `json:"ended_test"`
	EndedAcquisition bool `json:"ended_acquisition"`
}

// Device is the capability set every sensor family implements.
type Device interface {
	Descriptor() Descriptor
	Status() Status

	// Connect opens the transport to address.
	Connect(address string) error
	// Disconnect releases the transport. It is idempotent.
	Disconnect() error

	// Stabilize discards frames until a plausible heart rate is seen.
	Stabilize(ctx context.Context) error

	// RunTest streams live samples to n until FinishTest.
	RunTest(n sink.Notifier) error
	FinishTest()

	// BeginAcquisition writes RR values to s until FinishAcquisition, then
	// closes s.
	BeginAcquisition(s sink.Sink) error
	FinishAcquisition()

	// Tag queues an activity tag for the running acquisition's sink.
	Tag(t sink.Tag) error

	// Wait blocks until the current worker has finished.
	Wait(ctx context.Context) error
}

var (
	// ErrNotConnected is returned when a session is started before Connect.
	ErrNotConnected = errors.New("device not connected")
	// ErrNoSession is returned by Tag and Wait when nothing has been started.
	ErrNoSession = errors.New("no session started")
)

// ConnectionError reports a failed Connect.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Options configures a device. Zero values fall back to the defaults.
type Options struct {
	Port serialmux.PortOptions
	Open serialmux.SerialPortOpener

	// MinRR is the RR interval in milliseconds above which an acquisition is
	// flagged as carrying correct data.
	MinRR      int
	Stabilizer protocol.Stabilizer

	DemoMinRR int
	DemoMaxRR int
	Clock     timeutil.Clock
	Seed      int64

	ANTNetworkKey []byte
}

// DefaultOptions returns options matching the compiled config defaults.
func DefaultOptions() Options {
	return Options{
		Open:       serialmux.OpenPort,
		MinRR:      config.DefaultMinRRMillis,
		Stabilizer: protocol.DefaultStabilizer(),
		DemoMinRR:  config.DefaultDemoMinRRMillis,
		DemoMaxRR:  config.DefaultDemoMaxRRMillis,
		Clock:      timeutil.RealClock{},
	}
}

// OptionsFromConfig builds device options from a capture config.
func OptionsFromConfig(cfg *config.CaptureConfig) (Options, error) {
	opts := DefaultOptions()
	opts.Port = serialmux.PortOptions{
		BaudRate:    cfg.GetBaudRate(),
		DataBits:    cfg.GetDataBits(),
		StopBits:    cfg.GetStopBits(),
		Parity:      cfg.GetParity(),
		ReadTimeout: cfg.GetReadTimeout(),
	}
	opts.MinRR = cfg.GetMinRRMillis()
	opts.Stabilizer = protocol.Stabilizer{
		MinHR:       cfg.GetStabilizeMinHR(),
		MaxHR:       cfg.GetStabilizeMaxHR(),
		MaxAttempts: cfg.GetStabilizeMaxAttempts(),
	}
	opts.DemoMinRR = cfg.GetDemoMinRRMillis()
	opts.DemoMaxRR = cfg.GetDemoMaxRRMillis()

	if k := cfg.GetANTNetworkKey(); k != "" {
		key, err := hex.DecodeString(k)
		if err != nil {
			return opts, fmt.Errorf("ant_network_key: %w", err)
		}
		opts.ANTNetworkKey = key
	}
	return opts, nil
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Open == nil {
		o.Open = d.Open
	}
	if o.MinRR == 0 {
		o.MinRR = d.MinRR
	}
	if o.Stabilizer.MinHR == 0 && o.Stabilizer.MaxHR == 0 {
		o.Stabilizer.MinHR, o.Stabilizer.MaxHR = d.Stabilizer.MinHR, d.Stabilizer.MaxHR
	}
	if o.DemoMinRR == 0 {
		o.DemoMinRR = d.DemoMinRR
	}
	if o.DemoMaxRR == 0 {
		o.DemoMaxRR = d.DemoMaxRR
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

// New builds a device for desc. The device is not connected.
func New(desc Descriptor, opts Options) (Device, error) {
	opts = opts.withDefaults()
	switch desc.Kind {
	case KindBelt:
		return NewBelt(desc, opts), nil
	case KindDongle:
		return NewDongle(desc, opts), nil
	case KindDemo:
		return NewDemo(desc, opts), nil
	default:
		return nil, fmt.Errorf("unknown device kind %q", desc.Kind)
	}
}
