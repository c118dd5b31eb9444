package protocol

import (
	"context"
	"errors"

	"github.com/banshee-data/heartrate.report/internal/monitoring"
	"github.com/banshee-data/heartrate.report/internal/serialmux"
)

// Default plausible heart rate band, in beats per minute.
const (
	DefaultMinHR = 20
	DefaultMaxHR = 250
)

// Stabilizer discards frames until the sensor reports a plausible heart rate.
// MaxAttempts of zero retries forever.
type Stabilizer struct {
	MinHR       int
	MaxHR       int
	MaxAttempts int
}

// DefaultStabilizer returns an unbounded Stabilizer over [20, 250] bpm.
func DefaultStabilizer() Stabilizer {
	return Stabilizer{MinHR: DefaultMinHR, MaxHR: DefaultMaxHR}
}

// Plausible reports whether hr lies within the band, inclusive.
func (s Stabilizer) Plausible(hr int) bool {
	return hr >= s.MinHR && hr <= s.MaxHR
}

// Stabilize pulls samples from src until one has a valid checksum and a
// plausible heart rate, and returns how many frames it consumed. The plausible
// sample is consumed as well and is not returned.
//
// Decode errors are retried. Idle timeouts are not counted as attempts. A
// framing error or a cancelled ctx stops stabilization.
func (s Stabilizer) Stabilize(ctx context.Context, src SampleSource) (int, error) {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}
		if s.MaxAttempts > 0 && attempts >= s.MaxAttempts {
			return attempts, ErrNotStabilized
		}

		sample, err := src.Next()
		if err != nil {
			if errors.Is(err, serialmux.ErrReadTimeout) {
				continue
			}
			if IsFatal(err) {
				return attempts, err
			}
			attempts++
			monitoring.Debugf("protocol: stabilize discarding frame: %v", err)
			continue
		}
		attempts++

		if !sample.ChecksumOK {
			continue
		}
		if s.Plausible(sample.HeartRate) {
			monitoring.Debugf("protocol: stabilized at %d bpm after %d frames", sample.HeartRate, attempts)
			return attempts, nil
		}
		monitoring.Debugf("protocol: stabilize discarding implausible heart rate %d", sample.HeartRate)
	}
}
