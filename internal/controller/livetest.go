package controller

import (
	"context"
	"time"

	"github.com/banshee-data/heartrate.report/internal/device"
	"github.com/banshee-data/heartrate.report/internal/monitoring"
	"github.com/banshee-data/heartrate.report/internal/sink"
)

type testRun struct {
	dev       device.Device
	startedAt time.Time
	ending    bool
}

// TestStatus describes the live test in progress.
type TestStatus struct {
	Device    device.Descriptor `json:"device"`
	StartedAt time.Time         `json:"started_at"`
	Status    device.Status     `json:"status"`
}

// StartTest connects to desc and streams live samples to n until EndTest.
// Nothing is persisted.
func (c *Controller) StartTest(desc device.Descriptor, n sink.Notifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return ErrBusy
	}

	dev, err := c.connect(desc)
	if err != nil {
		return err
	}
	if err := dev.RunTest(n); err != nil {
		dev.Disconnect()
		return err
	}
	c.test = &testRun{dev: dev, startedAt: c.cfg.Clock.Now()}
	monitoring.Logf("test started on %s", dev.Descriptor().Name)
	return nil
}

// EndTest finishes the running test, waits for its worker and disconnects.
// It returns the worker's error, if any.
func (c *Controller) EndTest(ctx context.Context) error {
	c.mu.Lock()
	t := c.test
	if t == nil || t.ending {
		c.mu.Unlock()
		return ErrNoTest
	}
	t.ending = true
	c.mu.Unlock()

	t.dev.FinishTest()
	err := c.settle(ctx, t.dev)
	if derr := t.dev.Disconnect(); derr != nil {
		monitoring.Logf("%s: disconnect: %v", t.dev.Descriptor().Name, derr)
	}

	c.mu.Lock()
	c.test = nil
	c.mu.Unlock()
	monitoring.Logf("test ended on %s", t.dev.Descriptor().Name)
	return err
}

// Test reports the running test, if any.
func (c *Controller) Test() (TestStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.test == nil {
		return TestStatus{}, false
	}
	return TestStatus{
		Device:    c.test.dev.Descriptor(),
		StartedAt: c.test.startedAt,
		Status:    c.test.dev.Status(),
	}, true
}
