package protocol

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/heartrate.report/internal/serialmux"
)

type scriptedSource struct {
	steps []scriptedStep
	calls int
}

type scriptedStep struct {
	sample DecodedSample
	err    error
}

func (s *scriptedSource) Next() (DecodedSample, error) {
	if s.calls >= len(s.steps) {
		return DecodedSample{}, &FramingError{Err: io.EOF}
	}
	step := s.steps[s.calls]
	s.calls++
	return step.sample, step.err
}

func hr(v int) scriptedStep {
	return scriptedStep{sample: DecodedSample{HeartRate: v, ChecksumOK: true}}
}

func TestStabilize_DiscardsUntilPlausible(t *testing.T) {
	src := &scriptedSource{steps: []scriptedStep{hr(5), hr(300), hr(45), hr(80)}}

	n, err := DefaultStabilizer().Stabilize(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, src.calls, "returns on the first plausible sample")
}

func TestStabilize_BandIsInclusive(t *testing.T) {
	s := DefaultStabilizer()
	assert.True(t, s.Plausible(20))
	assert.True(t, s.Plausible(250))
	assert.False(t, s.Plausible(19))
	assert.False(t, s.Plausible(251))
}

func TestStabilize_RetriesDecodeErrorsAndChecksumFailures(t *testing.T) {
	src := &scriptedSource{steps: []scriptedStep{
		{err: &DecodeError{Length: 3, Reason: "short"}},
		{sample: DecodedSample{HeartRate: 70, ChecksumOK: false}},
		{err: serialmux.ErrReadTimeout},
		hr(70),
	}}

	n, err := DefaultStabilizer().Stabilize(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "idle timeouts are not attempts")
	assert.Equal(t, 4, src.calls)
}

func TestStabilize_FramingErrorStops(t *testing.T) {
	src := &scriptedSource{steps: []scriptedStep{hr(0)}}

	_, err := DefaultStabilizer().Stabilize(context.Background(), src)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, io.EOF)
}

func TestStabilize_BoundedGivesUp(t *testing.T) {
	src := &scriptedSource{steps: []scriptedStep{hr(5), hr(5), hr(5), hr(60)}}
	s := DefaultStabilizer()
	s.MaxAttempts = 2

	n, err := s.Stabilize(context.Background(), src)
	assert.ErrorIs(t, err, ErrNotStabilized)
	assert.Equal(t, 2, n)
}

func TestStabilize_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &scriptedSource{steps: []scriptedStep{hr(60)}}
	_, err := DefaultStabilizer().Stabilize(ctx, src)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, src.calls)
}

func TestStabilize_OverStream(t *testing.T) {
	var data []byte
	// 251 is the smallest implausible rate that fits the one-byte field.
	for _, v := range []int{5, 251, 45} {
		b, err := Encode(DecodedSample{HeartRate: v, RR: []int{900}})
		require.NoError(t, err)
		data = append(data, b...)
	}

	n, err := DefaultStabilizer().Stabilize(context.Background(), NewReader(streamOf(data)))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
