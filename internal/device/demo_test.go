package device

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/heartrate.report/internal/testutil"
	"github.com/banshee-data/heartrate.report/internal/timeutil"
)

// stopAfterClock advances a MockClock on Sleep and calls stop once the mocked
// time passes limit.
type stopAfterClock struct {
	*timeutil.MockClock
	start   time.Time
	limit   time.Duration
	stop    func()
	stopped atomic.Bool
}

func (c *stopAfterClock) Sleep(d time.Duration) {
	c.MockClock.Sleep(d)
	if c.Since(c.start) >= c.limit && c.stopped.CompareAndSwap(false, true) {
		c.stop()
	}
}

func TestDemo_FiveSecondRunStaysInRange(t *testing.T) {
	muteLogs(t)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &stopAfterClock{MockClock: timeutil.NewMockClock(start), start: start, limit: 5 * time.Second}

	d := NewDemo(Descriptor{}, Options{Clock: clock, Seed: 42})
	clock.stop = d.FinishAcquisition
	require.NoError(t, d.Connect(""))
	require.NoError(t, d.Stabilize(context.Background()))

	rec := testutil.NewRecordingSink()
	require.NoError(t, d.BeginAcquisition(rec))
	require.NoError(t, waitEnded(t, d))

	rr := rec.RR()
	require.NotEmpty(t, rr)
	total := 0
	for _, v := range rr {
		assert.GreaterOrEqual(t, v, 800)
		assert.LessOrEqual(t, v, 900)
		total += v
	}
	assert.LessOrEqual(t, total, 5000, "values are written only after their interval elapsed")
	assert.GreaterOrEqual(t, len(rr), 5)
	assert.Equal(t, 1, rec.Closes())
	assert.True(t, d.Status().CorrectData)
	assert.True(t, d.Status().EndedAcquisition)

	for _, s := range clock.Sleeps() {
		assert.GreaterOrEqual(t, s, 800*time.Millisecond)
		assert.LessOrEqual(t, s, 900*time.Millisecond)
	}
}

func TestDemo_CustomRange(t *testing.T) {
	muteLogs(t)
	start := time.Unix(0, 0)
	clock := &stopAfterClock{MockClock: timeutil.NewMockClock(start), start: start, limit: 10 * time.Second}

	d := NewDemo(Descriptor{}, Options{Clock: clock, DemoMinRR: 600, DemoMaxRR: 600, Seed: 7})
	clock.stop = d.FinishTest
	require.NoError(t, d.Connect(""))

	n := testutil.NewRecordingNotifier()
	require.NoError(t, d.RunTest(n))
	require.NoError(t, waitEnded(t, d))

	samples := n.Samples()
	require.NotEmpty(t, samples)
	for _, s := range samples {
		assert.Equal(t, 600, s.RR)
		assert.Equal(t, 100, s.HeartRate)
	}
	assert.True(t, d.Status().EndedTest)
}

func TestDemo_RequiresConnect(t *testing.T) {
	d := NewDemo(Descriptor{}, Options{Clock: timeutil.NewMockClock(time.Unix(0, 0))})
	assert.ErrorIs(t, d.BeginAcquisition(nil), ErrNotConnected)

	require.NoError(t, d.Connect(""))
	assert.True(t, d.Status().Connected)
	require.NoError(t, d.Disconnect())
	assert.False(t, d.Status().Connected)
	assert.Equal(t, DemoName, d.Descriptor().Name)
}
