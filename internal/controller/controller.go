// Package controller drives one device at a time through a live test or a
// persisted acquisition: connect, stabilize, run, finish, disconnect, and
// record the result.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/heartrate.report/internal/config"
	"github.com/banshee-data/heartrate.report/internal/db"
	"github.com/banshee-data/heartrate.report/internal/device"
	"github.com/banshee-data/heartrate.report/internal/fsutil"
	"github.com/banshee-data/heartrate.report/internal/monitoring"
	"github.com/banshee-data/heartrate.report/internal/security"
	"github.com/banshee-data/heartrate.report/internal/sink"
	"github.com/banshee-data/heartrate.report/internal/timeutil"
)

var (
	// ErrBusy is returned when a test or acquisition is already in progress.
	ErrBusy = errors.New("a test or acquisition is already in progress")
	// ErrNoTest is returned by EndTest when no test is running.
	ErrNoTest = errors.New("no test running")
	// ErrNoAcquisition is returned when no acquisition is in progress.
	ErrNoAcquisition = errors.New("no acquisition in progress")
	// ErrResultsExist is returned when the result files for a name are
	// already on disk.
	ErrResultsExist = errors.New("result files already exist")
)

// Config wires a Controller. Zero fields take the defaults noted.
type Config struct {
	DataDir string
	// FS defaults to the OS filesystem.
	FS fsutil.FileSystem
	// DB is optional; when set every acquisition is also stored there.
	DB *db.DB

	Device   device.Options
	Discover device.DiscoverOptions

	// StopGrace is how long a worker has to observe a finish request before
	// its transport is closed under it.
	StopGrace time.Duration
	// Recent bounds the recent acquisitions list.
	Recent int

	Clock timeutil.Clock
	// NewDevice defaults to device.New.
	NewDevice func(device.Descriptor, device.Options) (device.Device, error)
}

// ConfigFromCapture builds a Config from the capture config file.
func ConfigFromCapture(cfg *config.CaptureConfig) (Config, error) {
	opts, err := device.OptionsFromConfig(cfg)
	if err != nil {
		return Config{}, err
	}
	return Config{
		DataDir: cfg.GetDataDir(),
		Device:  opts,
		Discover: device.DiscoverOptions{
			Bluetooth: cfg.GetBluetoothSupport(),
			ANT:       cfg.GetANTSupport(),
		},
		StopGrace: cfg.GetStopGrace(),
		Recent:    cfg.GetRecentAcquisitions(),
	}, nil
}

func (c Config) withDefaults() Config {
	if c.FS == nil {
		c.FS = fsutil.OSFileSystem{}
	}
	if c.StopGrace <= 0 {
		c.StopGrace = config.DefaultStopGrace
	}
	if c.Recent <= 0 {
		c.Recent = config.DefaultRecentAcquisitions
	}
	if c.Device.MinRR == 0 {
		c.Device.MinRR = config.DefaultMinRRMillis
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	if c.NewDevice == nil {
		c.NewDevice = device.New
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
	return c
}

// Controller owns the single active test or acquisition.
type Controller struct {
	cfg Config

	mu     sync.Mutex
	test   *testRun
	acq    *acquisition
	recent []string
}

// New returns a controller. With a DB configured the recent list is seeded
// from the stored acquisitions.
func New(cfg Config) (*Controller, error) {
	cfg = cfg.withDefaults()
	c := &Controller{cfg: cfg}
	if cfg.DB != nil {
		stored, err := cfg.DB.RecentAcquisitions(cfg.Recent)
		if err != nil {
			return nil, fmt.Errorf("load recent acquisitions: %w", err)
		}
		for _, a := range stored {
			c.recent = append(c.recent, a.BasePath)
		}
	}
	return c, nil
}

// Devices lists discoverable devices followed by the demo band.
func (c *Controller) Devices() ([]device.Descriptor, error) {
	found, err := device.Discover(c.cfg.Discover)
	if err != nil {
		return nil, err
	}
	return append(found, device.Descriptor{Address: "demo", Name: device.DemoName, Kind: device.KindDemo}), nil
}

// Recent returns the base paths of recent acquisitions, newest first.
func (c *Controller) Recent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.recent...)
}

func (c *Controller) pushRecent(base string) {
	out := []string{base}
	for _, p := range c.recent {
		if p != base && len(out) < c.cfg.Recent {
			out = append(out, p)
		}
	}
	c.recent = out
}

// ResultBase resolves name to a result file base path inside the data dir,
// creating the data dir if needed.
func (c *Controller) ResultBase(name string) (string, error) {
	if err := c.cfg.FS.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return security.AcquisitionBase(c.cfg.DataDir, name)
}

// ResultFilesExist reports whether an acquisition called name already has
// result files.
func (c *Controller) ResultFilesExist(name string) (bool, error) {
	base, err := c.ResultBase(name)
	if err != nil {
		return false, err
	}
	return sink.ResultFilesExist(c.cfg.FS, base), nil
}

func (c *Controller) busy() bool {
	return c.test != nil || c.acq != nil
}

func (c *Controller) connect(desc device.Descriptor) (device.Device, error) {
	dev, err := c.cfg.NewDevice(desc, c.cfg.Device)
	if err != nil {
		return nil, err
	}
	if err := dev.Connect(desc.Address); err != nil {
		return nil, err
	}
	return dev, nil
}

// settle waits for the device's worker to end. A worker still running after
// the stop grace period is blocked in a read, so its transport is closed to
// release it.
func (c *Controller) settle(ctx context.Context, dev device.Device) error {
	gctx, cancel := context.WithTimeout(ctx, c.cfg.StopGrace)
	err := dev.Wait(gctx)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return err
	}

	monitoring.Logf("%s: still running after %s, closing transport", dev.Descriptor().Name, c.cfg.StopGrace)
	if derr := dev.Disconnect(); derr != nil {
		monitoring.Logf("%s: disconnect: %v", dev.Descriptor().Name, derr)
	}
	return dev.Wait(ctx)
}
