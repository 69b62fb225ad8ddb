package types

// ------------------------
// Temperature & humidity
// ------------------------

type TemperatureInfo struct {
	Sensor  string `json:"sensor"`  // "dht11", "dht22"
	Pin     int    `json:"pin"`     // GPIO number
	Variant string `json:"variant"` // decoding rules in use
}

type HumidityInfo struct {
	Sensor  string `json:"sensor"`
	Pin     int    `json:"pin"`
	Variant string `json:"variant"`
}

type TemperatureValue struct {
	// Tenths of °C (e.g. 231 => 23.1°C).
	DeciC int16 `json:"deci_c"`
}

type HumidityValue struct {
	// Hundredths of %RH (0..10000 for 0..100.00%).
	RHx100 uint16 `json:"rh_x100"`
}

// DHTFrame is the raw 40-bit transmission, published when a device is
// configured with raw frames enabled.
type DHTFrame struct {
	Variant string `json:"variant"`
	Hex     string `json:"hex"` // 10 upper-case hex digits
	Valid   bool   `json:"valid"`
}

// DHTStatus is the reply to the "status" control.
type DHTStatus struct {
	Variant    string `json:"variant"`
	State      string `json:"state"`
	NextReadMs int64  `json:"next_read_ms"`
	LastError  string `json:"last_error,omitempty"`
}
