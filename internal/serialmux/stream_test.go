package serialmux

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_ReadExact(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte{0xFE, 0x0C, 0xF3, 0x01})
	s := NewStream(port)

	b, err := s.ReadExact(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFE}, b)

	b, err = s.ReadExact(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0C, 0xF3, 0x01}, b)
	assert.True(t, s.IsOpen())
}

func TestStream_ReadExact_AcrossChunks(t *testing.T) {
	port := NewBlockingSerialPort()
	s := NewStream(port)

	go func() {
		port.AddReadData([]byte{1, 2})
		time.Sleep(5 * time.Millisecond)
		port.AddReadData([]byte{3, 4, 5})
	}()

	b, err := s.ReadExact(5)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, b)
}

func TestStream_ReadExact_ZeroAndNegative(t *testing.T) {
	s := NewStream(NewTestableSerialPort())

	b, err := s.ReadExact(0)
	require.NoError(t, err)
	assert.Empty(t, b)

	_, err = s.ReadExact(-1)
	assert.Error(t, err)
}

func TestStream_ReadExact_Hangup(t *testing.T) {
	port := NewBlockingSerialPort()
	port.AddReadData([]byte{1, 2})
	port.Hangup()
	s := NewStream(port)

	b, err := s.ReadExact(4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.EOF))
	assert.Equal(t, []byte{1, 2}, b)
	assert.False(t, s.IsOpen())

	_, err = s.ReadExact(1)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStream_ReadExact_Timeout(t *testing.T) {
	port := NewBlockingSerialPort()
	require.NoError(t, port.SetReadTimeout(10*time.Millisecond))
	s := NewStream(port)

	start := time.Now()
	_, err := s.ReadExact(1)
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.True(t, s.IsOpen(), "a timeout does not close the stream")
}

func TestStream_CloseUnblocksReader(t *testing.T) {
	port := NewBlockingSerialPort()
	s := NewStream(port)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.ReadExact(1)
		errCh <- err
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("reader was not unblocked by Close")
	}
	assert.False(t, s.IsOpen())
}

func TestStream_CloseIdempotent(t *testing.T) {
	port := NewTestableSerialPort()
	port.CloseError = errors.New("boom")
	s := NewStream(port)

	err1 := s.Close()
	err2 := s.Close()
	assert.EqualError(t, err1, "boom")
	assert.Equal(t, err1, err2)
	assert.Equal(t, 1, port.CloseCalls)
}

func TestStream_Write(t *testing.T) {
	port := NewTestableSerialPort()
	s := NewStream(port)

	n, err := s.Write([]byte{0xA4, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0xA4, 0x01}, port.GetWrittenData())

	require.NoError(t, s.Close())
	_, err = s.Write([]byte{0x00})
	assert.ErrorIs(t, err, ErrStreamClosed)
}
