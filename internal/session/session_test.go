package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/heartrate.report/internal/sink"
	"github.com/banshee-data/heartrate.report/internal/testutil"
)

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-s.Done():
	case <-ctx.Done():
		t.Fatalf("session %s did not finish, state %s", s.Name(), s.State())
	}
}

func TestSession_CooperativeStopClosesSinkOnce(t *testing.T) {
	rec := testutil.NewRecordingSink()
	s := New("acquisition", rec)
	assert.Equal(t, Idle, s.State())
	assert.False(t, s.Started())

	running := make(chan struct{})
	require.NoError(t, s.Start(func(s *Session) error {
		close(running)
		for !s.Stopping() {
			s.Sink().WriteRRValue(800)
			time.Sleep(time.Millisecond)
		}
		return nil
	}))
	<-running
	assert.True(t, s.Started())
	assert.False(t, s.Ended())

	s.RequestStop()
	require.NoError(t, s.Wait(context.Background()))

	assert.Equal(t, Ended, s.State())
	assert.True(t, s.Ended())
	assert.Equal(t, 1, rec.Closes())
	assert.NotEmpty(t, rec.RR())

	// a late close from the controller is absorbed
	require.NoError(t, s.CloseSink())
	assert.Equal(t, 1, rec.Closes())
}

func TestSession_WorkerErrorClosesSink(t *testing.T) {
	rec := testutil.NewRecordingSink()
	s := New("acquisition", rec)
	boom := errors.New("port vanished")

	require.NoError(t, s.Start(func(*Session) error { return boom }))
	err := s.Wait(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Err(), boom)
	assert.Equal(t, Errored, s.State())
	assert.True(t, s.Ended())
	assert.Equal(t, 1, rec.Closes())
}

func TestSession_PanicBecomesError(t *testing.T) {
	rec := testutil.NewRecordingSink()
	s := New("test", rec)

	require.NoError(t, s.Start(func(*Session) error {
		var b []byte
		_ = b[3]
		return nil
	}))
	waitDone(t, s)

	assert.Equal(t, Errored, s.State())
	assert.ErrorContains(t, s.Err(), "worker panic")
	assert.Equal(t, 1, rec.Closes())
}

func TestSession_SecondStartRejected(t *testing.T) {
	s := New("test", nil)
	release := make(chan struct{})
	require.NoError(t, s.Start(func(*Session) error {
		<-release
		return nil
	}))

	err := s.Start(func(*Session) error { return nil })
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	waitDone(t, s)

	err = s.Start(func(*Session) error { return nil })
	assert.ErrorIs(t, err, ErrAlreadyRunning, "a session runs once")
}

func TestSession_RequestStopWhenIdleIsNoop(t *testing.T) {
	s := New("test", nil)
	s.RequestStop()
	assert.Equal(t, Idle, s.State())
	assert.True(t, s.Stopping())
}

func TestSession_WaitContext(t *testing.T) {
	s := New("test", nil)
	require.NoError(t, s.Start(func(s *Session) error {
		for !s.Stopping() {
			time.Sleep(time.Millisecond)
		}
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	s.RequestStop()
	assert.NoError(t, s.Wait(context.Background()))
}

func TestSession_TagsInterleaveInWorkerOrder(t *testing.T) {
	rec := testutil.NewRecordingSink()
	s := New("acquisition", rec)

	step := make(chan struct{})
	next := make(chan struct{})
	require.NoError(t, s.Start(func(s *Session) error {
		s.Sink().WriteRRValue(800)
		close(step)
		<-next
		if err := s.FlushTags(); err != nil {
			return err
		}
		s.Sink().WriteRRValue(810)
		for !s.Stopping() {
			time.Sleep(time.Millisecond)
		}
		return nil
	}))

	<-step
	require.NoError(t, s.PostTag(sink.Tag{Name: "Rest", Begin: 0, End: 0.8}))
	close(next)

	require.Eventually(t, func() bool { return len(rec.RR()) == 2 }, time.Second, time.Millisecond)
	s.RequestStop()
	waitDone(t, s)

	events := rec.Events()
	require.Len(t, events, 3)
	assert.Equal(t, 800, events[0].RR)
	require.NotNil(t, events[1].Tag)
	assert.Equal(t, "Rest", events[1].Tag.Name)
	assert.Equal(t, 810, events[2].RR)

	assert.ErrorIs(t, s.PostTag(sink.Tag{Name: "late"}), ErrNotRunning)
}

func TestSession_PendingTagsFlushedBeforeClose(t *testing.T) {
	rec := testutil.NewRecordingSink()
	s := New("acquisition", rec)

	posted := make(chan struct{})
	require.NoError(t, s.Start(func(s *Session) error {
		<-posted
		return nil
	}))
	require.NoError(t, s.PostTag(sink.Tag{Name: "Video", Begin: 1, End: 2}))
	close(posted)
	waitDone(t, s)

	assert.Equal(t, []sink.Tag{{Name: "Video", Begin: 1, End: 2}}, rec.Tags())
	assert.Equal(t, 1, rec.Closes())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stop_requested", StopRequested.String())
	assert.Equal(t, "state(9)", State(9).String())
	assert.True(t, Errored.Terminal())
	assert.False(t, StopRequested.Terminal())
}
