package device

import (
	"context"
	"sync"

	"github.com/banshee-data/heartrate.report/internal/monitoring"
	"github.com/banshee-data/heartrate.report/internal/protocol"
	"github.com/banshee-data/heartrate.report/internal/serialmux"
)

// BeltName is the display name of the Polar WearLink+ belt.
const BeltName = "Polar iWL"

// Belt is a Polar WearLink+ chest belt reached over a Bluetooth serial port.
type Belt struct {
	core
	opts Options

	streamMu sync.Mutex
	stream   *serialmux.Stream
	reader   *protocol.Reader
}

// NewBelt returns an unconnected belt.
func NewBelt(desc Descriptor, opts Options) *Belt {
	if desc.Name == "" {
		desc.Name = BeltName
	}
	b := &Belt{opts: opts.withDefaults()}
	b.desc = desc
	b.minRR = b.opts.MinRR
	b.source = b.sampleSource
	return b
}

func (b *Belt) sampleSource() (protocol.SampleSource, error) {
	b.streamMu.Lock()
	defer b.streamMu.Unlock()
	if b.reader == nil || !b.stream.IsOpen() {
		return nil, ErrNotConnected
	}
	return b.reader, nil
}

// Connect opens the serial link to address.
func (b *Belt) Connect(address string) error {
	if address == "" {
		address = b.desc.Address
	}
	port, err := b.opts.Open(address, b.opts.Port)
	if err != nil {
		return &ConnectionError{Address: address, Err: err}
	}

	b.streamMu.Lock()
	b.stream = serialmux.NewStream(port)
	b.reader = protocol.NewReader(b.stream)
	b.desc.Address = address
	b.streamMu.Unlock()

	b.connected.Store(true)
	monitoring.Logf("%s: connected to %s", b.desc.Name, address)
	return nil
}

// Disconnect stops any worker and closes the serial link.
func (b *Belt) Disconnect() error {
	b.stopCurrent()
	b.connected.Store(false)

	b.streamMu.Lock()
	defer b.streamMu.Unlock()
	if b.stream == nil {
		return nil
	}
	err := b.stream.Close()
	b.stream, b.reader = nil, nil
	return err
}

// Stabilize discards frames until a plausible heart rate arrives.
func (b *Belt) Stabilize(ctx context.Context) error {
	src, err := b.sampleSource()
	if err != nil {
		return err
	}
	n, err := b.opts.Stabilizer.Stabilize(ctx, src)
	if err != nil {
		return err
	}
	monitoring.Logf("%s: stabilized after %d frames", b.desc.Name, n)
	return nil
}
