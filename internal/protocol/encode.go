package protocol

import "fmt"

// MaxRRPerFrame is the most RR intervals a single length byte can describe.
const MaxRRPerFrame = (255 - headerLen) / 2

// Encode builds a wire frame for s with a valid checksum. It is the inverse of
// ReadFrame followed by Decode and is used by the replay tool and tests.
func Encode(s DecodedSample) ([]byte, error) {
	if s.HeartRate < 0 || s.HeartRate > 255 {
		return nil, fmt.Errorf("heart rate %d out of range 0-255", s.HeartRate)
	}
	if len(s.RR) > MaxRRPerFrame {
		return nil, fmt.Errorf("%d RR intervals exceed frame capacity %d", len(s.RR), MaxRRPerFrame)
	}

	length := headerLen + 2*len(s.RR)
	buf := make([]byte, 0, length)
	buf = append(buf,
		Marker,
		byte(length),
		byte(255-length),
		s.Sequence,
		s.Status,
		byte(s.HeartRate),
	)
	for _, rr := range s.RR {
		if rr < 0 || rr > 0xFFFF {
			return nil, fmt.Errorf("RR interval %d out of range 0-65535", rr)
		}
		buf = append(buf, byte(rr>>8), byte(rr))
	}
	return buf, nil
}
