package protocol

import (
	"github.com/banshee-data/heartrate.report/internal/monitoring"
)

// DecodedSample is the content of one frame. Sequence and Status are carried
// for diagnostics only.
type DecodedSample struct {
	HeartRate  int
	RR         []int
	Sequence   byte
	Status     byte
	ChecksumOK bool
}

// RRCount returns the number of RR intervals a frame of the given length
// carries. An odd remainder is floored.
func RRCount(length int) int {
	if length < headerLen {
		return 0
	}
	return (length - headerLen) / 2
}

// ChecksumValid reports whether checksum+length == 255.
func ChecksumValid(checksum byte, length int) bool {
	return int(checksum)+length == 255
}

// Decode extracts heart rate and RR intervals from f. A checksum mismatch is
// logged and decoding continues. Short or truncated frames return a
// DecodeError; Decode never panics on malformed input.
func Decode(f Frame) (DecodedSample, error) {
	if f.Length < headerLen {
		return DecodedSample{}, &DecodeError{Length: f.Length, Reason: "frame too short for heart rate"}
	}
	if len(f.Payload) != f.Length-2 {
		return DecodedSample{}, &DecodeError{Length: f.Length, Reason: "truncated payload"}
	}

	p := f.Payload
	s := DecodedSample{
		Sequence:   p[offSequence],
		Status:     p[offStatus],
		HeartRate:  int(p[offHeartRate]),
		ChecksumOK: ChecksumValid(p[offChecksum], f.Length),
	}
	if !s.ChecksumOK {
		monitoring.Logf("protocol: %v (checksum %d + length %d != 255)", ErrChecksumMismatch, p[offChecksum], f.Length)
	}

	if (f.Length-headerLen)%2 != 0 {
		monitoring.Logf("protocol: odd RR byte count in frame of length %d, ignoring trailing byte", f.Length)
	}

	n := RRCount(f.Length)
	s.RR = make([]int, 0, n)
	for i := 0; i < n; i++ {
		off := offRR + 2*i
		s.RR = append(s.RR, int(p[off])<<8|int(p[off+1]))
	}

	monitoring.Debugf("protocol: seq=%d status=%d hr=%d beats=%d", s.Sequence, s.Status, s.HeartRate, n)
	return s, nil
}
