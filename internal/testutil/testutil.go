// Package testutil provides shared test utilities and fixtures.
//
// RecordingSink and RecordingNotifier stand in for the result files and the
// live display in device, session and controller tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/banshee-data/heartrate.report/internal/sink"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request with an optional JSON body.
func NewTestRequest(method, path, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Event is one call recorded by RecordingSink, in call order.
type Event struct {
	RR  int
	Tag *sink.Tag
}

// RecordingSink is a thread-safe sink.Sink that records every call.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
	closes int
	closed chan struct{}

	// WriteErr, when set, is returned by every write.
	WriteErr error
}

// NewRecordingSink returns an empty RecordingSink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{closed: make(chan struct{})}
}

func (r *RecordingSink) WriteRRValue(ms int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{RR: ms})
	return r.WriteErr
}

func (r *RecordingSink) WriteTagValue(name string, begin, end float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Tag: &sink.Tag{Name: name, Begin: begin, End: end}})
	return r.WriteErr
}

func (r *RecordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	if r.closes == 1 {
		close(r.closed)
	}
	return nil
}

// RR returns the RR values written so far.
func (r *RecordingSink) RR() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, e := range r.events {
		if e.Tag == nil {
			out = append(out, e.RR)
		}
	}
	return out
}

// Tags returns the tags written so far.
func (r *RecordingSink) Tags() []sink.Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sink.Tag
	for _, e := range r.events {
		if e.Tag != nil {
			out = append(out, *e.Tag)
		}
	}
	return out
}

// Events returns every write in order.
func (r *RecordingSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Closes returns how many times Close was called.
func (r *RecordingSink) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

// Closed is closed on the first Close call.
func (r *RecordingSink) Closed() <-chan struct{} { return r.closed }

// RecordingNotifier is a thread-safe sink.Notifier.
type RecordingNotifier struct {
	mu      sync.Mutex
	samples []sink.LiveSample
}

// NewRecordingNotifier returns an empty RecordingNotifier.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) Notify(s sink.LiveSample) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.samples = append(n.samples, s)
}

// Samples returns the samples received so far.
func (n *RecordingNotifier) Samples() []sink.LiveSample {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sink.LiveSample(nil), n.samples...)
}

// Len returns the number of samples received.
func (n *RecordingNotifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.samples)
}
