package testutil

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/heartrate.report/internal/sink"
)

func TestAssertStatusCode(t *testing.T) {
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

func TestNewTestRequest(t *testing.T) {
	req := NewTestRequest(http.MethodPost, "/api/test", `{"kind":"demo"}`)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	req = NewTestRequest(http.MethodGet, "/api/devices", "")
	assert.Empty(t, req.Header.Get("Content-Type"))
	assert.NotNil(t, NewTestRecorder())
}

func TestRecordingSink(t *testing.T) {
	var _ sink.Sink = (*RecordingSink)(nil)

	r := NewRecordingSink()
	r.WriteRRValue(800)
	r.WriteTagValue("Rest", 0, 1)
	r.WriteRRValue(810)

	assert.Equal(t, []int{800, 810}, r.RR())
	assert.Equal(t, []sink.Tag{{Name: "Rest", Begin: 0, End: 1}}, r.Tags())
	assert.Len(t, r.Events(), 3)

	select {
	case <-r.Closed():
		t.Fatal("closed before Close")
	default:
	}
	r.Close()
	r.Close()
	assert.Equal(t, 2, r.Closes())
	<-r.Closed()
}

func TestRecordingNotifier_Concurrent(t *testing.T) {
	var _ sink.Notifier = (*RecordingNotifier)(nil)

	n := NewRecordingNotifier()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n.Notify(sink.LiveSample{HeartRate: 60, RR: 800 + i})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, n.Len())
	assert.Len(t, n.Samples(), 10)
}
