package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrPortClosed is returned by TestableSerialPort reads and writes after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort implements TimeoutSerialPorter with configurable
// behaviour for testing. It provides fine-grained control over reads, writes,
// errors and blocking.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// CloseCalls records the number of Close calls
	CloseCalls int

	// ReadTimeout is the current read timeout. When set, a blocked Read
	// returns (0, nil) after it elapses, as go.bug.st/serial does.
	ReadTimeout time.Duration

	// BlockReads causes Read to block until data is added, the port is hung
	// up, or Close is called
	BlockReads bool

	// hungUp makes Read return io.EOF once the buffer is drained
	hungUp bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// NewBlockingSerialPort creates a TestableSerialPort whose reads wait for data.
func NewBlockingSerialPort() *TestableSerialPort {
	tsp := NewTestableSerialPort()
	tsp.BlockReads = true
	return tsp
}

// Read reads from the read buffer, optionally blocking and simulating errors.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.BlockReads && t.ReadBuffer.Len() == 0 && !t.hungUp {
		var deadline time.Time
		if t.ReadTimeout > 0 {
			deadline = time.Now().Add(t.ReadTimeout)
			timer := time.AfterFunc(t.ReadTimeout, func() {
				t.mu.Lock()
				t.readCond.Broadcast()
				t.mu.Unlock()
			})
			defer timer.Stop()
		}
		for !t.Closed && !t.hungUp && t.ReadBuffer.Len() == 0 {
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return 0, nil
			}
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, ErrPortClosed
		}
	}

	if t.ReadBuffer.Len() == 0 {
		if t.hungUp {
			return 0, io.EOF
		}
		return 0, nil
	}

	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally simulating errors.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed and wakes any blocked reader.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.CloseCalls++
	t.readCond.Broadcast()

	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// Hangup simulates the device dropping the link: buffered data is still
// delivered, after which Read returns io.EOF.
func (t *TestableSerialPort) Hangup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.hungUp = true
	t.readCond.Broadcast()
}

// GetWrittenData returns a copy of all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

// IsClosed reports whether Close has been called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.Closed
}

// MockSerialPortFactory records Open calls and returns a configured port.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

// NewMockSerialPortFactory creates a new MockSerialPortFactory.
func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

// Open returns the configured port or error. It satisfies SerialPortOpener.
func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{
		Path:    path,
		Options: opts,
	})

	if f.Error != nil {
		return nil, f.Error
	}

	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}
