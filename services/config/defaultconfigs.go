package config

// Embedded configuration, keyed by device ID (the value placed in ctx under
// CtxDeviceKey).

const cfgPico = `{
  "hal": {
    "devices": [
      {"id": "dht0", "type": "dht22", "params": {"pin": 15, "raw": true}}
    ]
  },
  "heartbeat": {
    "interval_s": 5
  }
}`

const cfgPicoDHT11 = `{
  "hal": {
    "devices": [
      {"id": "dht0", "type": "dht11", "params": {"pin": 15, "sample_ms": 2000, "strict": true}}
    ]
  },
  "heartbeat": {
    "interval_s": 10
  }
}`

var embeddedConfigs = map[string][]byte{
	"pico":       []byte(cfgPico),
	"pico-dht11": []byte(cfgPicoDHT11),
}
