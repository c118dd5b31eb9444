package device

import (
	"errors"
	"fmt"

	"github.com/banshee-data/heartrate.report/internal/protocol"
	"github.com/banshee-data/heartrate.report/internal/serialmux"
)

// ANT serial message framing: sync, length, id, data, XOR checksum.
const (
	antSync = 0xA4

	antResponseEvent = 0x40
	antAssignChannel = 0x42
	antChannelPeriod = 0x43
	antRadioFreq     = 0x45
	antNetworkKey    = 0x46
	antSystemReset   = 0x4A
	antOpenChannel   = 0x4B
	antCloseChannel  = 0x4C
	antBroadcastData = 0x4E
	antChannelID     = 0x51
	antStartup       = 0x6F

	antResponseNoError = 0x00
)

// ANT+ heart rate monitor channel parameters.
const (
	antChannel        = 0
	antNetwork        = 0
	antChannelSlave   = 0x00
	antHRDeviceType   = 120
	antHRPeriod       = 8070
	antHRFrequency    = 57
	antBeatTimeTicks  = 1024
	antHRPageWithPrev = 4
)

type antMessage struct {
	id   byte
	data []byte
}

// encode returns the wire bytes for m.
func (m antMessage) encode() []byte {
	out := make([]byte, 0, len(m.data)+4)
	out = append(out, antSync, byte(len(m.data)), m.id)
	out = append(out, m.data...)
	var sum byte
	for _, b := range out {
		sum ^= b
	}
	return append(out, sum)
}

// readANTMessage reads one message, skipping bytes until a sync byte. Errors
// are classified like protocol.ReadFrame: idle timeouts pass through,
// mid-message timeouts and bad checksums are DecodeErrors, and transport
// failures are FramingErrors.
func readANTMessage(r protocol.ByteReader) (antMessage, error) {
	for {
		b, err := r.ReadExact(1)
		if err != nil {
			if errors.Is(err, serialmux.ErrReadTimeout) {
				return antMessage{}, err
			}
			return antMessage{}, &protocol.FramingError{Err: err}
		}
		if b[0] == antSync {
			break
		}
	}

	hdr, err := r.ReadExact(2)
	if err != nil {
		return antMessage{}, antReadError(0, err)
	}
	n := int(hdr[0])
	rest, err := r.ReadExact(n + 1)
	if err != nil {
		return antMessage{}, antReadError(n, err)
	}

	m := antMessage{id: hdr[1], data: rest[:n]}
	sum := byte(antSync) ^ hdr[0] ^ hdr[1]
	for _, b := range m.data {
		sum ^= b
	}
	if sum != rest[n] {
		return m, &protocol.DecodeError{Length: n, Reason: fmt.Sprintf("ANT checksum %#02x, want %#02x", rest[n], sum)}
	}
	return m, nil
}

func antReadError(n int, err error) error {
	if errors.Is(err, serialmux.ErrReadTimeout) {
		return &protocol.DecodeError{Length: n, Reason: "ANT message truncated", Err: err}
	}
	return &protocol.FramingError{Err: err}
}

// antHRSetup returns the messages that open a wildcard ANT+ heart rate
// channel once the stick has been reset.
func antHRSetup(key []byte) []antMessage {
	return []antMessage{
		{id: antNetworkKey, data: append([]byte{antNetwork}, key...)},
		{id: antAssignChannel, data: []byte{antChannel, antChannelSlave, antNetwork}},
		{id: antChannelID, data: []byte{antChannel, 0, 0, antHRDeviceType, 0}},
		{id: antChannelPeriod, data: []byte{antChannel, byte(antHRPeriod & 0xFF), byte(antHRPeriod >> 8)}},
		{id: antRadioFreq, data: []byte{antChannel, antHRFrequency}},
		{id: antOpenChannel, data: []byte{antChannel}},
	}
}

// antHeartRate turns ANT+ heart rate broadcast pages into samples. Each page
// carries the time of the latest beat in 1/1024 s and a beat counter; an RR
// interval is emitted when the counter advances by one, or from the previous
// beat time carried in page 4.
type antHeartRate struct {
	r protocol.ByteReader

	haveLast  bool
	lastTime  uint16
	lastCount byte
}

func (h *antHeartRate) Next() (protocol.DecodedSample, error) {
	for {
		m, err := readANTMessage(h.r)
		if err != nil {
			return protocol.DecodedSample{}, err
		}
		if m.id != antBroadcastData || len(m.data) < 9 {
			continue
		}
		return h.decodePage(m.data[1:9]), nil
	}
}

func (h *antHeartRate) decodePage(p []byte) protocol.DecodedSample {
	pageNum := p[0] & 0x7F
	beatTime := uint16(p[4]) | uint16(p[5])<<8
	count := p[6]

	s := protocol.DecodedSample{
		HeartRate:  int(p[7]),
		Sequence:   count,
		Status:     pageNum,
		ChecksumOK: true,
		RR:         []int{},
	}

	if h.haveLast && count != h.lastCount {
		switch {
		case pageNum == antHRPageWithPrev:
			prev := uint16(p[2]) | uint16(p[3])<<8
			s.RR = append(s.RR, ticksToMillis(beatTime-prev))
		case count-h.lastCount == 1:
			s.RR = append(s.RR, ticksToMillis(beatTime-h.lastTime))
		}
	}

	h.haveLast = true
	h.lastTime = beatTime
	h.lastCount = count
	return s
}

// ticksToMillis converts a 1/1024 s beat time difference to milliseconds,
// rounding to nearest. uint16 arithmetic handles the counter rollover.
func ticksToMillis(d uint16) int {
	return int((uint32(d)*1000 + antBeatTimeTicks/2) / antBeatTimeTicks)
}
