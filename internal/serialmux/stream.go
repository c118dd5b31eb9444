package serialmux

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrReadTimeout is returned by ReadExact when the port's read timeout
	// elapsed before any byte of the request arrived.
	ErrReadTimeout = errors.New("serial read timed out")
	// ErrStreamClosed is returned by reads after Close.
	ErrStreamClosed = errors.New("serial stream closed")
)

// Stream wraps a SerialPorter with blocking exact-count reads and an open
// flag that is safe to read from the controller while a worker reads.
type Stream struct {
	port      SerialPorter
	open      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps an already opened port.
func NewStream(port SerialPorter) *Stream {
	s := &Stream{port: port}
	s.open.Store(true)
	return s
}

// IsOpen reports whether the underlying port is still usable.
func (s *Stream) IsOpen() bool {
	return s.open.Load()
}

// ReadExact blocks until exactly n bytes have been read. It returns the bytes
// read so far together with an error when the port fails, is closed, or a
// zero-byte read signals the port's read timeout.
func (s *Stream) ReadExact(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid read length %d", n)
	}
	buf := make([]byte, n)
	got := 0
	for got < n {
		if !s.open.Load() {
			return buf[:got], ErrStreamClosed
		}
		k, err := s.port.Read(buf[got:])
		got += k
		if err != nil {
			s.open.Store(false)
			return buf[:got], fmt.Errorf("read %d of %d bytes: %w", got, n, err)
		}
		if k == 0 {
			return buf[:got], ErrReadTimeout
		}
	}
	return buf, nil
}

// Write sends raw bytes to the port.
func (s *Stream) Write(p []byte) (int, error) {
	if !s.open.Load() {
		return 0, ErrStreamClosed
	}
	n, err := s.port.Write(p)
	if err != nil {
		return n, err
	}
	if n != len(p) {
		return n, fmt.Errorf("short write: %d of %d bytes", n, len(p))
	}
	return n, nil
}

// Close releases the port. It is idempotent and unblocks a pending Read on
// ports that support concurrent close.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.open.Store(false)
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}
