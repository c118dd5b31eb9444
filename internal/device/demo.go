package device

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/heartrate.report/internal/protocol"
	"github.com/banshee-data/heartrate.report/internal/timeutil"
)

// DemoName is the display name of the synthetic band.
const DemoName = "Demo band"

// Demo is a synthetic band with no transport. Each sample is an RR interval
// drawn uniformly from [DemoMinRR, DemoMaxRR], delivered after sleeping for
// that interval on the configured clock.
type Demo struct {
	core
	src *demoSource
}

// NewDemo returns an unconnected demo band.
func NewDemo(desc Descriptor, opts Options) *Demo {
	opts = opts.withDefaults()
	if desc.Name == "" {
		desc.Name = DemoName
	}
	desc.Kind = KindDemo

	d := &Demo{src: &demoSource{
		clock: opts.Clock,
		rnd:   rand.New(rand.NewSource(opts.Seed)),
		min:   opts.DemoMinRR,
		max:   opts.DemoMaxRR,
	}}
	d.desc = desc
	d.minRR = opts.MinRR
	d.source = func() (protocol.SampleSource, error) { return d.src, nil }
	return d
}

// Connect marks the band connected; there is nothing to open.
func (d *Demo) Connect(string) error {
	d.connected.Store(true)
	return nil
}

// Disconnect stops any worker and marks the band disconnected.
func (d *Demo) Disconnect() error {
	d.stopCurrent()
	d.connected.Store(false)
	return nil
}

// Stabilize is a no-op; synthetic data needs no warm-up.
func (d *Demo) Stabilize(context.Context) error { return nil }

type demoSource struct {
	clock timeutil.Clock

	mu  sync.Mutex
	rnd *rand.Rand

	min, max int
}

func (d *demoSource) Next() (protocol.DecodedSample, error) {
	d.mu.Lock()
	rr := d.min + d.rnd.Intn(d.max-d.min+1)
	d.mu.Unlock()

	d.clock.Sleep(time.Duration(rr) * time.Millisecond)
	return protocol.DecodedSample{HeartRate: 60000 / rr, RR: []int{rr}, ChecksumOK: true}, nil
}
