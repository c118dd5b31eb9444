// Package protocol implements the Polar WearLink+ frame format: a marker
// byte, a length byte, then length-2 payload bytes carrying a checksum,
// sequence, status, heart rate and zero or more big-endian RR intervals.
package protocol

import (
	"errors"

	"github.com/banshee-data/heartrate.report/internal/serialmux"
)

// Byte offsets within a frame payload (the bytes after marker and length).
const (
	offChecksum  = 0
	offSequence  = 1
	offStatus    = 2
	offHeartRate = 3
	offRR        = 4

	// headerLen is the number of bytes the length field counts that are not
	// RR data: marker, length, checksum, sequence, status and heart rate.
	headerLen = 6

	// Marker is the frame start byte written by Encode. ReadFrame does not
	// validate it.
	Marker byte = 0xFE
)

// ByteReader is the transport a frame is read from. serialmux.Stream
// implements it.
type ByteReader interface {
	ReadExact(n int) ([]byte, error)
}

// Frame is one protocol unit as read off the wire. Payload holds Length-2
// bytes once fully read.
type Frame struct {
	Marker  byte
	Length  int
	Payload []byte
}

// ReadFrame reads one frame from r.
//
// A read timeout before the first byte is returned as
// serialmux.ErrReadTimeout so the caller can treat the link as idle. A timeout
// after the frame has started is a DecodeError. Any other transport failure is
// a FramingError.
func ReadFrame(r ByteReader) (Frame, error) {
	marker, err := r.ReadExact(1)
	if err != nil {
		if errors.Is(err, serialmux.ErrReadTimeout) {
			return Frame{}, err
		}
		return Frame{}, &FramingError{Err: err}
	}

	lb, err := r.ReadExact(1)
	if err != nil {
		return Frame{Marker: marker[0]}, midFrameError(0, "reading length", err)
	}
	length := int(lb[0])
	f := Frame{Marker: marker[0], Length: length}

	if length < 2 {
		return f, &DecodeError{Length: length, Reason: "length shorter than header"}
	}

	payload, err := r.ReadExact(length - 2)
	if err != nil {
		f.Payload = payload
		return f, midFrameError(length, "reading payload", err)
	}
	f.Payload = payload
	return f, nil
}

func midFrameError(length int, reason string, err error) error {
	if errors.Is(err, serialmux.ErrReadTimeout) {
		return &DecodeError{Length: length, Reason: reason, Err: err}
	}
	return &FramingError{Err: err}
}
