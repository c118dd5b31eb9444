package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/heartrate.report/internal/monitoring"
	"github.com/banshee-data/heartrate.report/internal/protocol"
	"github.com/banshee-data/heartrate.report/internal/serialmux"
)

const (
	// DongleName is the display name of an ANT+ heart rate strap.
	DongleName = "ANT+ HR Band"

	antBaudRate        = 115200
	antReadTimeout     = time.Second
	antResponseRetries = 3
)

// ErrNoNetworkKey is returned by Dongle.Connect without an ANT+ network key.
var ErrNoNetworkKey = errors.New("ANT+ network key not configured (ant_network_key)")

// Dongle is an ANT+ heart rate strap received through a USB ANT stick.
type Dongle struct {
	core
	opts Options

	streamMu sync.Mutex
	stream   *serialmux.Stream
	hr       *antHeartRate
}

// NewDongle returns an unconnected dongle.
func NewDongle(desc Descriptor, opts Options) *Dongle {
	if desc.Name == "" {
		desc.Name = DongleName
	}
	d := &Dongle{opts: opts.withDefaults()}
	d.desc = desc
	d.minRR = d.opts.MinRR
	d.source = d.sampleSource
	return d
}

func (d *Dongle) sampleSource() (protocol.SampleSource, error) {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	if d.hr == nil || !d.stream.IsOpen() {
		return nil, ErrNotConnected
	}
	return d.hr, nil
}

// Connect opens the USB stick at address, resets it and opens a wildcard
// heart rate channel.
func (d *Dongle) Connect(address string) error {
	if address == "" {
		address = d.desc.Address
	}
	if len(d.opts.ANTNetworkKey) != 8 {
		return &ConnectionError{Address: address, Err: ErrNoNetworkKey}
	}

	portOpts := d.opts.Port
	portOpts.BaudRate = antBaudRate
	if portOpts.ReadTimeout == 0 {
		portOpts.ReadTimeout = antReadTimeout
	}
	port, err := d.opts.Open(address, portOpts)
	if err != nil {
		return &ConnectionError{Address: address, Err: err}
	}
	stream := serialmux.NewStream(port)

	if err := d.configure(stream); err != nil {
		stream.Close()
		return &ConnectionError{Address: address, Err: err}
	}

	d.streamMu.Lock()
	d.stream = stream
	d.hr = &antHeartRate{r: stream}
	d.desc.Address = address
	d.streamMu.Unlock()

	d.connected.Store(true)
	monitoring.Logf("%s: channel open on %s", d.desc.Name, address)
	return nil
}

func (d *Dongle) configure(s *serialmux.Stream) error {
	if _, err := s.Write(antMessage{id: antSystemReset, data: []byte{0}}.encode()); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := awaitANT(s, func(m antMessage) (bool, error) { return m.id == antStartup, nil }); err != nil {
		// older sticks do not announce startup
		monitoring.Logf("%s: no startup message after reset: %v", d.desc.Name, err)
	}

	for _, m := range antHRSetup(d.opts.ANTNetworkKey) {
		if _, err := s.Write(m.encode()); err != nil {
			return fmt.Errorf("message %#02x: %w", m.id, err)
		}
		id := m.id
		err := awaitANT(s, func(r antMessage) (bool, error) {
			if r.id != antResponseEvent || len(r.data) < 3 || r.data[1] != id {
				return false, nil
			}
			if code := r.data[2]; code != antResponseNoError {
				return true, fmt.Errorf("message %#02x rejected with code %#02x", id, code)
			}
			return true, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// awaitANT reads messages until match reports true. It gives up after
// antResponseRetries read timeouts.
func awaitANT(s *serialmux.Stream, match func(antMessage) (bool, error)) error {
	timeouts := 0
	for timeouts < antResponseRetries {
		m, err := readANTMessage(s)
		switch {
		case errors.Is(err, serialmux.ErrReadTimeout):
			timeouts++
			continue
		case protocol.IsFatal(err):
			return err
		case err != nil:
			continue
		}
		if ok, err := match(m); ok {
			return err
		}
	}
	return errors.New("no response from ANT stick")
}

// Disconnect stops any worker, closes the channel and releases the stick.
func (d *Dongle) Disconnect() error {
	d.stopCurrent()
	d.connected.Store(false)

	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	if d.stream == nil {
		return nil
	}
	if _, err := d.stream.Write(antMessage{id: antCloseChannel, data: []byte{antChannel}}.encode()); err != nil {
		monitoring.Debugf("%s: close channel: %v", d.desc.Name, err)
	}
	err := d.stream.Close()
	d.stream, d.hr = nil, nil
	return err
}

// Stabilize discards pages until a plausible heart rate arrives.
func (d *Dongle) Stabilize(ctx context.Context) error {
	src, err := d.sampleSource()
	if err != nil {
		return err
	}
	n, err := d.opts.Stabilizer.Stabilize(ctx, src)
	if err != nil {
		return err
	}
	monitoring.Logf("%s: stabilized after %d pages", d.desc.Name, n)
	return nil
}
