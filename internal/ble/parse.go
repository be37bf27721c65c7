package ble

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"mi-sensor-bridge/pkg/types"

	"tinygo.org/x/bluetooth"
)

// Service data format (pvvx custom firmware, little-endian):
// mac [6]byte, temperature int16 (0.01 C), humidity uint16 (0.01 %),
// battery_mv uint16, battery_level uint8, counter uint8, flags uint8.
const (
	ReadingSize = 15

	offMAC          = 0
	offTemperature  = 6
	offHumidity     = 8
	offBatteryMV    = 10
	offBatteryLevel = 12
	offCounter      = 13
	offFlags        = 14
)

// EnvironmentalSensingUUID is the 16-bit service the sensors tag their data with.
var EnvironmentalSensingUUID = bluetooth.New16BitUUID(0x181a)

// ErrShortPayload is returned when the service data is smaller than ReadingSize.
var ErrShortPayload = errors.New("payload too short")

// MAC is a device address in wire (least significant byte first) order.
type MAC [6]byte

// String renders the address most significant byte first, e.g. "a4:c1:38:00:11:22".
func (m MAC) String() string {
	const hexd = "0123456789abcdef"
	out := make([]byte, 0, 17)
	for i := len(m) - 1; i >= 0; i-- {
		out = append(out, hexd[m[i]>>4], hexd[m[i]&0x0F])
		if i > 0 {
			out = append(out, ':')
		}
	}
	return string(out)
}

// ParseMAC parses the colon separated display form back into wire order.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != len(m) {
		return MAC{}, fmt.Errorf("invalid mac %q", s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return MAC{}, fmt.Errorf("invalid mac %q", s)
		}
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return MAC{}, fmt.Errorf("invalid mac %q: %w", s, err)
		}
		m[len(m)-1-i] = byte(b)
	}
	return m, nil
}

// Reading is one decoded advertisement. Counter and Flags are kept so that
// two readings compare unequal whenever the sensor bumps its counter.
type Reading struct {
	MAC          MAC
	Temperature  int16
	Humidity     uint16
	BatteryMV    uint16
	BatteryLevel uint8
	Counter      uint8
	Flags        uint8
}

// DecodeReading parses service data published under EnvironmentalSensingUUID.
// Bytes past ReadingSize are ignored.
func DecodeReading(data []byte) (Reading, error) {
	if len(data) < ReadingSize {
		return Reading{}, fmt.Errorf("%w: %d", ErrShortPayload, len(data))
	}
	var r Reading
	copy(r.MAC[:], data[offMAC:offTemperature])
	r.Temperature = int16(binary.LittleEndian.Uint16(data[offTemperature:offHumidity]))
	r.Humidity = binary.LittleEndian.Uint16(data[offHumidity:offBatteryMV])
	r.BatteryMV = binary.LittleEndian.Uint16(data[offBatteryMV:offBatteryLevel])
	r.BatteryLevel = data[offBatteryLevel]
	r.Counter = data[offCounter]
	r.Flags = data[offFlags]
	return r, nil
}

// Encode builds the service data bytes for r.
func (r Reading) Encode() []byte {
	b := make([]byte, ReadingSize)
	copy(b[offMAC:offTemperature], r.MAC[:])
	binary.LittleEndian.PutUint16(b[offTemperature:offHumidity], uint16(r.Temperature))
	binary.LittleEndian.PutUint16(b[offHumidity:offBatteryMV], r.Humidity)
	binary.LittleEndian.PutUint16(b[offBatteryMV:offBatteryLevel], r.BatteryMV)
	b[offBatteryLevel] = r.BatteryLevel
	b[offCounter] = r.Counter
	b[offFlags] = r.Flags
	return b
}

// Message returns the public part of the reading.
func (r Reading) Message() types.ReadingMessage {
	return types.ReadingMessage{
		Temperature:  r.Temperature,
		Humidity:     r.Humidity,
		BatteryMV:    r.BatteryMV,
		BatteryLevel: r.BatteryLevel,
	}
}

// JSON serializes the public part of the reading.
func (r Reading) JSON() ([]byte, error) {
	data, err := json.Marshal(r.Message())
	if err != nil {
		return nil, fmt.Errorf("marshal reading: %w", err)
	}
	return data, nil
}

// Topic is the per-device publish topic under prefix.
func Topic(prefix string, mac MAC) string {
	return prefix + "/" + mac.String()
}
