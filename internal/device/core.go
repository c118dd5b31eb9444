package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/heartrate.report/internal/monitoring"
	"github.com/banshee-data/heartrate.report/internal/protocol"
	"github.com/banshee-data/heartrate.report/internal/serialmux"
	"github.com/banshee-data/heartrate.report/internal/session"
	"github.com/banshee-data/heartrate.report/internal/sink"
)

// emitFunc delivers one RR interval, with the heart rate of its frame.
type emitFunc func(s *session.Session, hr, rr int) error

// core holds the state and worker loop shared by all variants. Variants
// supply the sample source and the transport.
type core struct {
	desc   Descriptor
	minRR  int
	source func() (protocol.SampleSource, error)

	connected   atomic.Bool
	correctData atomic.Bool
	failed      atomic.Bool

	mu      sync.Mutex
	current *session.Session
	test    *session.Session
	acq     *session.Session
}

func (c *core) Descriptor() Descriptor { return c.desc }

func (c *core) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected:        c.connected.Load(),
		Running:          c.current != nil && !c.current.Ended(),
		CorrectData:      c.correctData.Load(),
		Error:            c.failed.Load(),
		EndedTest:        c.test != nil && c.test.Ended(),
		EndedAcquisition: c.acq != nil && c.acq.Ended(),
	}
}

// CorrectData reports whether any acquired RR interval exceeded MinRR. The
// flag latches for the life of the device.
func (c *core) CorrectData() bool { return c.correctData.Load() }

func (c *core) RunTest(n sink.Notifier) error {
	return c.start("test", nil, &c.test, func(_ *session.Session, hr, rr int) error {
		n.Notify(sink.LiveSample{HeartRate: hr, RR: rr})
		return nil
	})
}

func (c *core) FinishTest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.test != nil {
		c.test.RequestStop()
	}
}

func (c *core) BeginAcquisition(snk sink.Sink) error {
	return c.start("acquisition", snk, &c.acq, func(s *session.Session, _, rr int) error {
		if rr > c.minRR {
			c.correctData.Store(true)
		}
		monitoring.Debugf("%s: RR %d ms", c.desc.Name, rr)
		if w := s.Sink(); w != nil {
			return w.WriteRRValue(rr)
		}
		return nil
	})
}

func (c *core) FinishAcquisition() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acq != nil {
		c.acq.RequestStop()
	}
}

func (c *core) Tag(t sink.Tag) error {
	c.mu.Lock()
	s := c.acq
	c.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}
	return s.PostTag(t)
}

func (c *core) Wait(ctx context.Context) error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}
	return s.Wait(ctx)
}

// stopCurrent asks any running worker to stop. Used by Disconnect.
func (c *core) stopCurrent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.RequestStop()
	}
}

// start launches a worker and records its session in slot. The lock is held
// until the worker is running so a finish request from the worker itself sees
// the new session.
func (c *core) start(name string, snk sink.Sink, slot **session.Session, emit emitFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		return ErrNotConnected
	}
	if c.current != nil && !c.current.Ended() {
		return fmt.Errorf("%s: %w", c.desc.Name, session.ErrAlreadyRunning)
	}
	src, err := c.source()
	if err != nil {
		return err
	}

	s := session.New(fmt.Sprintf("%s %s", c.desc.Name, name), snk)
	c.failed.Store(false)
	c.current = s
	*slot = s
	return s.Start(c.loop(src, emit))
}

// loop reads samples until a stop is requested or the transport fails.
// Decode errors are logged and skipped. A stop request is also checked
// between the RR intervals of one frame, so the rest of a frame is dropped.
func (c *core) loop(src protocol.SampleSource, emit emitFunc) session.Worker {
	return func(s *session.Session) error {
		for !s.Stopping() {
			if err := s.FlushTags(); err != nil {
				c.failed.Store(true)
				monitoring.Logf("%s: writing tags: %v", s.Name(), err)
			}

			sample, err := nextSample(src)
			if err != nil {
				switch {
				case errors.Is(err, serialmux.ErrReadTimeout):
					continue
				case protocol.IsFatal(err):
					if s.Stopping() {
						monitoring.Logf("%s: transport closed at end of session: %v", s.Name(), err)
						return nil
					}
					c.failed.Store(true)
					c.connected.Store(false)
					return err
				default:
					c.failed.Store(true)
					monitoring.Logf("%s: data not ok: %v", s.Name(), err)
					continue
				}
			}

			for _, rr := range sample.RR {
				if s.Stopping() {
					break
				}
				if err := emit(s, sample.HeartRate, rr); err != nil {
					c.failed.Store(true)
					monitoring.Logf("%s: emitting RR %d: %v", s.Name(), rr, err)
				}
			}
		}
		monitoring.Logf("%s: ended", s.Name())
		return nil
	}
}

// nextSample reads one sample, turning a panic in the source into a
// DecodeError so one bad frame cannot take the process down.
func nextSample(src protocol.SampleSource) (sample protocol.DecodedSample, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &protocol.DecodeError{Reason: fmt.Sprintf("panic while decoding: %v", r)}
		}
	}()
	return src.Next()
}
