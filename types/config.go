package types

// HAL configuration supplied on topic "config/hal".

type HALConfig struct {
	Devices []HALDevice `json:"devices"`
}

type HALDevice struct {
	ID     string `json:"id"`     // logical device id
	Type   string `json:"type"`   // "dht11", "dht22", ...
	Params any    `json:"params"` // device-specific params (JSON-like)
}

// HeartbeatConfig is supplied on topic "config/heartbeat".
type HeartbeatConfig struct {
	IntervalS int `json:"interval_s"`
}

// Heartbeat is retained on topic "heartbeat".
type Heartbeat struct {
	Seq     uint64 `json:"seq"`
	UptimeS int64  `json:"uptime_s"`
	TS      int64  `json:"ts_ms"`
}
