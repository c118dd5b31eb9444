// Package sink defines where decoded RR intervals and activity tags go during
// an acquisition, and provides the plain-text result file writer.
package sink

import (
	"errors"
	"sync"
)

// ErrClosed is returned by writes to a sink that has been closed.
var ErrClosed = errors.New("sink closed")

// Sink receives RR intervals in milliseconds and activity tags in seconds
// relative to the start of the acquisition. Close is called once when the
// acquisition ends.
type Sink interface {
	WriteRRValue(ms int) error
	WriteTagValue(name string, begin, end float64) error
	Close() error
}

// Tag is one named activity span.
type Tag struct {
	Name  string  `json:"name"`
	Begin float64 `json:"begin"`
	End   float64 `json:"end"`
}

// Tee fans writes out to every sink in order. All sinks are written even when
// one fails; the errors are joined.
type Tee struct {
	sinks []Sink
	once  sync.Once
	err   error
}

// NewTee returns a Tee over the non-nil sinks.
func NewTee(sinks ...Sink) *Tee {
	t := &Tee{}
	for _, s := range sinks {
		if s != nil {
			t.sinks = append(t.sinks, s)
		}
	}
	return t
}

func (t *Tee) WriteRRValue(ms int) error {
	var errs []error
	for _, s := range t.sinks {
		if err := s.WriteRRValue(ms); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tee) WriteTagValue(name string, begin, end float64) error {
	var errs []error
	for _, s := range t.sinks {
		if err := s.WriteTagValue(name, begin, end); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink once.
func (t *Tee) Close() error {
	t.once.Do(func() {
		var errs []error
		for _, s := range t.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		t.err = errors.Join(errs...)
	})
	return t.err
}

// LiveSample is one RR interval observed during a live test, with the heart
// rate from the same frame.
type LiveSample struct {
	HeartRate int `json:"hr"`
	RR        int `json:"rr"`
}

// Notifier receives live samples during a test. Notify must not block the
// worker; implementations drop samples they cannot deliver.
type Notifier interface {
	Notify(LiveSample)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(LiveSample)

func (f NotifierFunc) Notify(s LiveSample) { f(s) }
