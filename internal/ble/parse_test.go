package ble

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestMACString(t *testing.T) {
	tests := []struct {
		in   MAC
		want string
	}{
		{in: MAC{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, want: "06:05:04:03:02:01"},
		{in: MAC{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}, want: "aa:bb:cc:dd:ee:ff"},
		{in: MAC{}, want: "00:00:00:00:00:00"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("MAC(% x).String() = %q, want %q", tt.in[:], got, tt.want)
		}
	}
}

func TestParseMAC(t *testing.T) {
	got, err := ParseMAC("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("ParseMAC error = %v", err)
	}
	want := MAC{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}
	if got != want {
		t.Errorf("ParseMAC = % x, want % x", got[:], want[:])
	}
	if got.String() != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("round trip = %q", got.String())
	}

	for _, bad := range []string{"", "aa:bb", "aa:bb:cc:dd:ee:gg", "aaa:bb:cc:dd:ee:ff", "aa-bb-cc-dd-ee-ff"} {
		if _, err := ParseMAC(bad); err == nil {
			t.Errorf("ParseMAC(%q) error = nil, want non-nil", bad)
		}
	}
}

func TestDecodeReading_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Reading
	}{
		{
			name: "typical",
			in: Reading{
				MAC:          MAC{0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
				Temperature:  2350,
				Humidity:     4500,
				BatteryMV:    3000,
				BatteryLevel: 80,
				Counter:      1,
				Flags:        0,
			},
		},
		{
			name: "negative temperature",
			in:   Reading{MAC: MAC{0xAA}, Temperature: -1234, Humidity: 9999, BatteryMV: 2100, BatteryLevel: 5, Counter: 200, Flags: 0x05},
		},
		{
			name: "extremes",
			in:   Reading{MAC: MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, Temperature: -32768, Humidity: 65535, BatteryMV: 65535, BatteryLevel: 255, Counter: 255, Flags: 255},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.in.Encode()
			if len(data) != ReadingSize {
				t.Fatalf("Encode len = %d, want %d", len(data), ReadingSize)
			}
			got, err := DecodeReading(data)
			if err != nil {
				t.Fatalf("DecodeReading error = %v", err)
			}
			if got != tt.in {
				t.Errorf("DecodeReading = %+v, want %+v", got, tt.in)
			}
		})
	}
}

func TestDecodeReading_Layout(t *testing.T) {
	data := []byte{
		0x11, 0x22, 0x33, 0x44, 0x55, 0x66,
		0x2e, 0x09, // 2350
		0x94, 0x11, // 4500
		0xb8, 0x0b, // 3000
		0x50,       // 80
		0x07,       // counter
		0x04,       // flags
		0xde, 0xad, // trailing, ignored
	}
	got, err := DecodeReading(data)
	if err != nil {
		t.Fatalf("DecodeReading error = %v", err)
	}
	want := Reading{
		MAC:          MAC{0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		Temperature:  2350,
		Humidity:     4500,
		BatteryMV:    3000,
		BatteryLevel: 80,
		Counter:      7,
		Flags:        4,
	}
	if got != want {
		t.Errorf("DecodeReading = %+v, want %+v", got, want)
	}

	data[6], data[7] = 0x18, 0xfc // -1000
	got, err = DecodeReading(data)
	if err != nil {
		t.Fatalf("DecodeReading error = %v", err)
	}
	if got.Temperature != -1000 {
		t.Errorf("Temperature = %d, want -1000", got.Temperature)
	}
}

func TestDecodeReading_Truncated(t *testing.T) {
	full := Reading{MAC: MAC{1, 2, 3, 4, 5, 6}, Temperature: 1}.Encode()
	for n := 0; n < ReadingSize; n++ {
		got, err := DecodeReading(full[:n])
		if !errors.Is(err, ErrShortPayload) {
			t.Fatalf("DecodeReading(%d bytes) error = %v, want ErrShortPayload", n, err)
		}
		if got != (Reading{}) {
			t.Fatalf("DecodeReading(%d bytes) returned partial reading %+v", n, got)
		}
	}
	if _, err := DecodeReading(nil); !errors.Is(err, ErrShortPayload) {
		t.Fatalf("DecodeReading(nil) error = %v, want ErrShortPayload", err)
	}
}

func TestReadingJSON_PublicFieldsOnly(t *testing.T) {
	r := Reading{
		MAC:          MAC{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA},
		Temperature:  2350,
		Humidity:     4500,
		BatteryMV:    3000,
		BatteryLevel: 80,
		Counter:      42,
		Flags:        9,
	}
	body, err := r.JSON()
	if err != nil {
		t.Fatalf("JSON error = %v", err)
	}
	want := `{"temperature":2350,"humidity":4500,"battery_mv":3000,"battery_level":80}`
	if string(body) != want {
		t.Errorf("JSON = %s, want %s", body, want)
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if len(fields) != 4 {
		t.Errorf("body has %d fields, want 4: %v", len(fields), fields)
	}
	for _, k := range []string{"mac", "MAC", "counter", "Counter", "flags", "Flags"} {
		if _, ok := fields[k]; ok {
			t.Errorf("body contains %q", k)
		}
	}
}

func TestTopic(t *testing.T) {
	got := Topic("mi_sensor", MAC{0x01, 0x02, 0x03, 0x04, 0x05, 0x06})
	if got != "mi_sensor/06:05:04:03:02:01" {
		t.Errorf("Topic = %q, want %q", got, "mi_sensor/06:05:04:03:02:01")
	}
}
