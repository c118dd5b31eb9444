// Package session runs the single background worker of a test or
// acquisition and tracks its lifecycle. The controller starts a session,
// requests a stop, and waits on Done; the worker polls Stopping between
// frames and samples. An attached sink is closed exactly once however the
// worker ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/heartrate.report/internal/monitoring"
	"github.com/banshee-data/heartrate.report/internal/sink"
)

// State is the lifecycle state of a Session.
type State int32

const (
	Idle State = iota
	Running
	StopRequested
	Ended
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StopRequested:
		return "stop_requested"
	case Ended:
		return "ended"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether the worker has finished.
func (s State) Terminal() bool {
	return s == Ended || s == Errored
}

var (
	// ErrAlreadyRunning is returned when starting a session that is not Idle.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrNotRunning is returned when tagging a session that is not Running.
	ErrNotRunning = errors.New("session not running")
)

// tagQueueSize bounds pending tags between two worker checkpoints.
const tagQueueSize = 64

// Worker is the body of a session. It should return once s.Stopping reports
// true. A non-nil error moves the session to Errored.
type Worker func(s *Session) error

// Session owns one background worker.
type Session struct {
	name  string
	state atomic.Int32
	done  chan struct{}

	snk       sink.Sink
	closeOnce sync.Once
	tags      chan sink.Tag

	mu  sync.Mutex
	err error
}

// New returns an Idle session. snk may be nil for sessions that do not
// persist, such as live tests.
func New(name string, snk sink.Sink) *Session {
	return &Session{
		name: name,
		done: make(chan struct{}),
		snk:  snk,
		tags: make(chan sink.Tag, tagQueueSize),
	}
}

// Name returns the label given to New.
func (s *Session) Name() string { return s.name }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Sink returns the attached sink, or nil. Only the worker may write to it.
func (s *Session) Sink() sink.Sink { return s.snk }

// Start runs w on a new goroutine. It fails with ErrAlreadyRunning unless the
// session is Idle, so a session runs at most once.
func (s *Session) Start(w Worker) error {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return fmt.Errorf("%s: %w", s.name, ErrAlreadyRunning)
	}
	go s.run(w)
	return nil
}

func (s *Session) run(w Worker) {
	err := s.call(w)

	if ferr := s.FlushTags(); ferr != nil {
		monitoring.Logf("%s: flushing tags: %v", s.name, ferr)
	}
	if cerr := s.CloseSink(); cerr != nil {
		monitoring.Logf("%s: closing sink: %v", s.name, cerr)
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	if err != nil {
		monitoring.Logf("%s: ended with error: %v", s.name, err)
		s.state.Store(int32(Errored))
	} else {
		s.state.Store(int32(Ended))
	}
	close(s.done)
}

func (s *Session) call(w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: worker panic: %v", s.name, r)
		}
	}()
	return w(s)
}

// RequestStop asks the worker to stop. It is a no-op unless Running.
func (s *Session) RequestStop() {
	s.state.CompareAndSwap(int32(Running), int32(StopRequested))
}

// Stopping reports whether the worker should exit.
func (s *Session) Stopping() bool {
	return s.State() != Running
}

// Started reports whether Start has been called successfully.
func (s *Session) Started() bool {
	return s.State() != Idle
}

// Ended reports whether the worker has finished, with or without error.
func (s *Session) Ended() bool {
	return s.State().Terminal()
}

// Done is closed when the worker has finished and the sink is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the worker finishes or ctx is done. It returns the
// worker's error, or ctx.Err() if ctx ended first.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the worker's error once ended.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// CloseSink closes the attached sink the first time it is called. The
// session calls it when the worker returns.
func (s *Session) CloseSink() error {
	var err error
	s.closeOnce.Do(func() {
		if s.snk != nil {
			err = s.snk.Close()
		}
	})
	return err
}

// PostTag queues a tag for the worker to write, so tags interleave with RR
// values in the order the worker observes them.
func (s *Session) PostTag(t sink.Tag) error {
	if s.State() != Running {
		return ErrNotRunning
	}
	select {
	case s.tags <- t:
		return nil
	default:
		return fmt.Errorf("%s: tag queue full", s.name)
	}
}

// FlushTags writes queued tags to the sink. Workers call it between samples.
func (s *Session) FlushTags() error {
	var errs []error
	for {
		select {
		case t := <-s.tags:
			if s.snk == nil {
				continue
			}
			if err := s.snk.WriteTagValue(t.Name, t.Begin, t.End); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}
