package consts

import "dhtcode-go/types"

// Top-level topics
const (
	TokConfig     = "config"
	TokHAL        = "hal"
	TokCapability = "capability"
	TokInfo       = "info"
	TokState      = "state"
	TokValue      = "value"
	TokControl    = "control"
)

// Control verbs
const (
	CtrlReadNow = "read_now"
	CtrlSetRate = "set_rate"
	CtrlStatus  = "status"
)

// Capability kinds used in service wiring
const (
	KindTemperature = string(types.KindTemperature)
	KindHumidity    = string(types.KindHumidity)
	KindDHTFrame    = string(types.KindDHTFrame)
)

// Shared worker for single-wire sensors; reads never overlap.
const BusOneWire = "onewire"
