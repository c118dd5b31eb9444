package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/heartrate.report/internal/db"
	"github.com/banshee-data/heartrate.report/internal/device"
	"github.com/banshee-data/heartrate.report/internal/monitoring"
	"github.com/banshee-data/heartrate.report/internal/sink"
)

// Phase is where an acquisition is in its lifecycle.
type Phase string

const (
	PhaseStabilizing Phase = "stabilizing"
	PhaseAcquiring   Phase = "acquiring"
	PhaseEnded       Phase = "ended"
	PhaseFailed      Phase = "failed"
)

// AcquisitionRequest starts an acquisition.
type AcquisitionRequest struct {
	Device device.Descriptor `json:"device"`
	// Name is the result file base name inside the data dir.
	Name     string `json:"name"`
	Activity string `json:"activity"`
}

// AcquisitionStatus describes the acquisition in progress.
type AcquisitionStatus struct {
	ID        string            `json:"id"`
	BasePath  string            `json:"base_path"`
	Activity  string            `json:"activity"`
	Device    device.Descriptor `json:"device"`
	Phase     Phase             `json:"phase"`
	StartedAt time.Time         `json:"started_at,omitzero"`
	Status    device.Status     `json:"status"`
	Error     string            `json:"error,omitempty"`
}

// AcquisitionResult is what EndAcquisition reports.
type AcquisitionResult struct {
	ID          string `json:"id"`
	BasePath    string `json:"base_path"`
	CorrectData bool   `json:"correct_data"`
	Error       string `json:"error,omitempty"`
}

type acquisition struct {
	id   string
	base string
	req  AcquisitionRequest
	dev  device.Device
	snk  sink.Sink

	cancel context.CancelFunc
	// begun is closed once stabilization has finished and the worker has
	// been started or has failed to start.
	begun chan struct{}
	// done is closed once no worker is running any more.
	done chan struct{}

	mu        sync.Mutex
	phase     Phase
	startedAt time.Time
	err       error
	ending    bool
}

func (a *acquisition) set(phase Phase, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.phase = phase
	if err != nil && a.err == nil {
		a.err = err
	}
}

func (a *acquisition) status() AcquisitionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := AcquisitionStatus{
		ID:        a.id,
		BasePath:  a.base,
		Activity:  a.req.Activity,
		Device:    a.dev.Descriptor(),
		Phase:     a.phase,
		StartedAt: a.startedAt,
		Status:    a.dev.Status(),
	}
	if a.phase == PhaseAcquiring && st.Status.EndedAcquisition {
		st.Phase = PhaseEnded
	}
	if a.err != nil {
		st.Error = a.err.Error()
	}
	return st
}

// BeginAcquisition connects to the requested device, opens the result sinks
// and starts stabilization in the background. Recording begins as soon as a
// plausible heart rate is seen.
func (c *Controller) BeginAcquisition(req AcquisitionRequest) (AcquisitionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return AcquisitionStatus{}, ErrBusy
	}

	base, err := c.ResultBase(req.Name)
	if err != nil {
		return AcquisitionStatus{}, err
	}
	if sink.ResultFilesExist(c.cfg.FS, base) {
		return AcquisitionStatus{}, fmt.Errorf("%w: %s", ErrResultsExist, base)
	}

	dev, err := c.connect(req.Device)
	if err != nil {
		return AcquisitionStatus{}, err
	}
	snk, id, err := c.openSinks(base, req, dev.Descriptor())
	if err != nil {
		dev.Disconnect()
		return AcquisitionStatus{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &acquisition{
		id:     id,
		base:   base,
		req:    req,
		dev:    dev,
		snk:    snk,
		cancel: cancel,
		begun:  make(chan struct{}),
		done:   make(chan struct{}),
		phase:  PhaseStabilizing,
	}
	c.acq = a
	go c.run(ctx, a)

	monitoring.Logf("acquisition %s started on %s, writing to %s", id, dev.Descriptor().Name, base)
	return a.status(), nil
}

func (c *Controller) openSinks(base string, req AcquisitionRequest, desc device.Descriptor) (sink.Sink, string, error) {
	text, err := sink.NewTextWriter(c.cfg.FS, base)
	if err != nil {
		return nil, "", err
	}
	if c.cfg.DB == nil {
		return text, uuid.NewString(), nil
	}

	row := &db.Acquisition{
		BasePath:      base,
		DeviceKind:    string(desc.Kind),
		DeviceName:    desc.Name,
		DeviceAddress: desc.Address,
		Activity:      req.Activity,
		StartedAt:     c.cfg.Clock.Now(),
	}
	if err := c.cfg.DB.CreateAcquisition(row); err != nil {
		text.Close()
		return nil, "", err
	}
	return sink.NewTee(text, db.NewAcquisitionWriter(c.cfg.DB, row.ID)), row.ID, nil
}

// run stabilizes the device, starts the acquisition worker and waits for it.
// If the worker never starts the sink is closed here instead.
func (c *Controller) run(ctx context.Context, a *acquisition) {
	defer close(a.done)

	started := false
	defer func() {
		if !started {
			if err := a.snk.Close(); err != nil {
				monitoring.Logf("acquisition %s: closing sink: %v", a.id, err)
			}
		}
	}()

	err := a.dev.Stabilize(ctx)
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil {
		err = a.dev.BeginAcquisition(a.snk)
	}
	if err != nil {
		close(a.begun)
		if errors.Is(err, context.Canceled) {
			a.set(PhaseEnded, nil)
			return
		}
		monitoring.Logf("acquisition %s: %v", a.id, err)
		a.set(PhaseFailed, err)
		return
	}

	started = true
	a.mu.Lock()
	a.phase = PhaseAcquiring
	a.startedAt = c.cfg.Clock.Now()
	a.mu.Unlock()
	close(a.begun)

	if err := a.dev.Wait(context.Background()); err != nil {
		a.set(PhaseFailed, err)
		return
	}
	a.set(PhaseEnded, nil)
}

// Acquisition reports the acquisition in progress, if any.
func (c *Controller) Acquisition() (AcquisitionStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acq == nil {
		return AcquisitionStatus{}, false
	}
	return c.acq.status(), true
}

// AcquisitionDone is closed when the current acquisition's worker stops,
// whether finished, failed, or never started. It is nil when idle.
func (c *Controller) AcquisitionDone() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acq == nil {
		return nil
	}
	return c.acq.done
}

// Tag queues an activity tag for the acquisition's sinks. Begin and End are
// seconds since recording started.
func (c *Controller) Tag(t sink.Tag) error {
	c.mu.Lock()
	a := c.acq
	c.mu.Unlock()
	if a == nil {
		return ErrNoAcquisition
	}
	if err := a.dev.Tag(t); err != nil {
		return fmt.Errorf("tag %q: %w", t.Name, err)
	}
	return nil
}

// EndAcquisition finishes the acquisition, waits for the worker to close the
// sinks, disconnects and records the result.
func (c *Controller) EndAcquisition(ctx context.Context) (AcquisitionResult, error) {
	c.mu.Lock()
	a := c.acq
	if a == nil || a.ending {
		c.mu.Unlock()
		return AcquisitionResult{}, ErrNoAcquisition
	}
	a.ending = true
	c.mu.Unlock()

	finished := false
	defer func() {
		if !finished {
			c.mu.Lock()
			a.ending = false
			c.mu.Unlock()
		}
	}()

	a.cancel()
	if err := c.awaitBegun(ctx, a); err != nil {
		return AcquisitionResult{}, err
	}

	a.dev.FinishAcquisition()
	if err := c.settle(ctx, a.dev); err != nil && !errors.Is(err, device.ErrNoSession) {
		if ctx.Err() != nil {
			return AcquisitionResult{}, err
		}
		a.set(PhaseFailed, err)
	}
	if err := a.dev.Disconnect(); err != nil {
		monitoring.Logf("%s: disconnect: %v", a.dev.Descriptor().Name, err)
	}

	select {
	case <-a.done:
	case <-ctx.Done():
		return AcquisitionResult{}, ctx.Err()
	}

	st := a.status()
	res := AcquisitionResult{
		ID:          a.id,
		BasePath:    a.base,
		CorrectData: st.Status.CorrectData,
		Error:       st.Error,
	}
	if c.cfg.DB != nil {
		if err := c.cfg.DB.FinishAcquisition(a.id, c.cfg.Clock.Now(), res.CorrectData, res.Error); err != nil {
			monitoring.Logf("acquisition %s: recording result: %v", a.id, err)
		}
	}

	c.mu.Lock()
	c.acq = nil
	c.pushRecent(a.base)
	c.mu.Unlock()
	finished = true

	if !res.CorrectData {
		monitoring.Logf("acquisition %s: no RR interval above %d ms, data may be unusable", a.id, c.cfg.Device.MinRR)
	}
	monitoring.Logf("acquisition %s ended", a.id)
	return res, nil
}

// awaitBegun waits for stabilization to give up after cancel. A belt blocked
// in a read only notices once its transport is closed.
func (c *Controller) awaitBegun(ctx context.Context, a *acquisition) error {
	select {
	case <-a.begun:
		return nil
	case <-time.After(c.cfg.StopGrace):
	case <-ctx.Done():
		return ctx.Err()
	}
	monitoring.Logf("acquisition %s: still stabilizing after %s, closing transport", a.id, c.cfg.StopGrace)
	if err := a.dev.Disconnect(); err != nil {
		monitoring.Logf("%s: disconnect: %v", a.dev.Descriptor().Name, err)
	}
	select {
	case <-a.begun:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
