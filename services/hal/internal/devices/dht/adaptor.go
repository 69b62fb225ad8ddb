// Package dht adapts single-wire DHT sensors to the HAL worker model.
package dht

import (
	"context"
	"errors"
	"math"
	"time"

	dhtdrv "dhtcode-go/drivers/dht"
	"dhtcode-go/errcode"
	"dhtcode-go/services/hal/internal/consts"
	"dhtcode-go/services/hal/internal/halcore"
	"dhtcode-go/services/hal/internal/registry"
	"dhtcode-go/services/hal/internal/util"
	"dhtcode-go/types"
	"dhtcode-go/x/mathx"
	"dhtcode-go/x/timex"
)

const (
	defaultSample  = 2 * time.Second
	defaultRetries = 2
)

func init() {
	for _, typ := range []string{"dht11", "dht22", "am2302", "dht21", "am2301"} {
		registry.RegisterBuilder(typ, builder{})
	}
}

// Params: { "pin": 4, "sample_ms": 5000, "strict": true, "raw": false, "retries": 2 }
type Params struct {
	Pin      int  `json:"pin"`
	SampleMS int  `json:"sample_ms"`
	Strict   bool `json:"strict"`
	Raw      bool `json:"raw"`
	Retries  *int `json:"retries,omitempty"`
}

type builder struct{}

func (builder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	v, err := dhtdrv.ParseVariant(in.Type)
	if err != nil {
		return registry.BuildOutput{}, errcode.UnknownDevice
	}
	var p Params
	if err := util.DecodeJSON(in.ParamsJSON, &p); err != nil {
		return registry.BuildOutput{}, errcode.InvalidParams
	}
	if in.Platform.Pins == nil || in.Platform.Delay == nil {
		return registry.BuildOutput{}, errcode.HALNotReady
	}
	gp, ok := in.Platform.Pins.ByNumber(p.Pin)
	if !ok {
		return registry.BuildOutput{}, errcode.UnknownPin
	}
	retries := defaultRetries
	if p.Retries != nil {
		retries = mathx.Max(*p.Retries, 0)
	}

	ad := newAdaptor(in.DeviceID, in.Type, v, gp, in.Platform)
	ad.strict, ad.raw, ad.retries = p.Strict, p.Raw, retries

	every := defaultSample
	if p.SampleMS > 0 {
		every = timex.Ms(p.SampleMS)
	}
	return registry.BuildOutput{
		Adaptor:     ad,
		BusID:       consts.BusOneWire,
		SampleEvery: mathx.Max(every, v.MinInterval()),
	}, nil
}

// line drives a HAL GPIO pin as the DHT data line. Input enables the pull-up
// the protocol relies on.
type line struct{ p halcore.GPIOPin }

func (l line) Low() error         { return l.p.ConfigureOutput(false) }
func (l line) High() error        { return l.p.Set(true) }
func (l line) Input() error       { return l.p.ConfigureInput(halcore.PullUp) }
func (l line) Get() (bool, error) { return l.p.Get() }

type adaptor struct {
	id      string
	sensor  string
	pin     int
	variant dhtdrv.Variant
	dev     dhtdrv.Device
	now     func() time.Time

	strict  bool
	raw     bool
	retries int

	attempts int
	lastErr  error
}

func newAdaptor(id, sensor string, v dhtdrv.Variant, gp halcore.GPIOPin, pf halcore.Platform) *adaptor {
	now := pf.Now
	if now == nil {
		now = time.Now
	}
	dev := dhtdrv.New(line{gp}, pf.Delay, v)
	dev.Configure(dhtdrv.Config{Interrupts: pf.IRQ, Clock: now})
	return &adaptor{id: id, sensor: sensor, pin: gp.Number(), variant: v, dev: dev, now: now}
}

func (a *adaptor) ID() string { return a.id }

func (a *adaptor) Capabilities() []halcore.CapInfo {
	info := func(detail any) types.Info {
		return types.Info{SchemaVersion: 1, Driver: a.sensor, Device: a.id, Detail: detail}
	}
	caps := []halcore.CapInfo{
		{Kind: consts.KindTemperature, Info: info(types.TemperatureInfo{Sensor: a.sensor, Pin: a.pin, Variant: a.variant.String()})},
		{Kind: consts.KindHumidity, Info: info(types.HumidityInfo{Sensor: a.sensor, Pin: a.pin, Variant: a.variant.String()})},
	}
	if a.raw {
		caps = append(caps, halcore.CapInfo{Kind: consts.KindDHTFrame, Info: info(nil)})
	}
	return caps
}

// Trigger starts a cycle; the collect is scheduled once the sensor's minimum
// spacing since the previous read has elapsed.
func (a *adaptor) Trigger(ctx context.Context) (time.Duration, error) {
	a.attempts = 0
	return a.dev.ReadyIn(), nil
}

func (a *adaptor) Collect(ctx context.Context) (halcore.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if wait := a.dev.ReadyIn(); wait > 0 {
		return nil, &halcore.RetryError{Err: errcode.NotReady, After: wait}
	}

	r, err := a.dev.Read()
	if err != nil {
		a.lastErr = err
		if a.retryable(err) && a.attempts < a.retries {
			a.attempts++
			return nil, &halcore.RetryError{Err: err, After: a.dev.ReadyIn()}
		}
		return nil, err
	}
	if a.strict && !a.variant.Range().Contains(r) {
		a.lastErr = errcode.Implausible
		return nil, errcode.Implausible
	}
	a.lastErr = nil

	ts := a.now().UnixMilli()
	s := halcore.Sample{
		{Kind: consts.KindTemperature, Payload: types.TemperatureValue{
			DeciC: int16(mathx.Clamp(r.DeciCelsius(), math.MinInt16, math.MaxInt16))}, TsMs: ts},
		{Kind: consts.KindHumidity, Payload: types.HumidityValue{
			RHx100: uint16(mathx.Clamp(r.DeciRelHumidity()*10, 0, math.MaxUint16))}, TsMs: ts},
	}
	if a.raw {
		s = append(s, halcore.Reading{Kind: consts.KindDHTFrame, Payload: types.DHTFrame{
			Variant: a.variant.String(), Hex: a.dev.LastFrame().String(), Valid: true}, TsMs: ts})
	}
	return s, nil
}

func (a *adaptor) retryable(err error) bool {
	return errors.Is(err, dhtdrv.ErrTimeout) || errors.Is(err, dhtdrv.ErrChecksumMismatch)
}

func (a *adaptor) Control(kind, method string, payload any) (any, error) {
	if method != consts.CtrlStatus {
		return nil, halcore.ErrUnsupported
	}
	st := types.DHTStatus{
		Variant:    a.variant.String(),
		State:      a.dev.State().String(),
		NextReadMs: timex.ToMs(a.dev.ReadyIn()),
	}
	if a.lastErr != nil {
		st.LastError = string(errcode.Of(a.lastErr))
	}
	return st, nil
}
