package types

// ReadingMessage is the JSON body published for every forwarded sensor reading.
// Temperature and humidity are in hundredths of a degree / percent.
type ReadingMessage struct {
	Temperature  int16  `json:"temperature"`
	Humidity     uint16 `json:"humidity"`
	BatteryMV    uint16 `json:"battery_mv"`
	BatteryLevel uint8  `json:"battery_level"`
}
