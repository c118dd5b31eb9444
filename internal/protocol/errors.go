package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrChecksumMismatch marks a frame whose checksum byte plus length does
	// not equal 255. It is advisory: Decode logs it and still returns the
	// sample, with ChecksumOK set to false.
	ErrChecksumMismatch = errors.New("package not ok: checksum mismatch")

	// ErrNotStabilized is returned by a bounded Stabilizer that ran out of
	// attempts before seeing a plausible heart rate.
	ErrNotStabilized = errors.New("heart rate did not stabilize")
)

// FramingError reports a transport failure while reading a frame: the port
// returned fewer bytes than requested, hit EOF, or was closed. It is fatal to
// the session reading the stream.
type FramingError struct {
	Err error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: %v", e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

// DecodeError reports a malformed or truncated frame. The transport is still
// usable, so callers log it and move on to the next frame.
type DecodeError struct {
	Length int
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode error (length %d): %s", e.Length, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsFatal reports whether err ends the stream. Only framing errors do; decode
// errors and idle timeouts are per-frame.
func IsFatal(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}
