//go:build !rp2040 && !rp2350

package platform

import (
	"strconv"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"dhtcode-go/services/hal/internal/halcore"
)

func init() {
	register(BackendPeriph, func(Config) (halcore.Platform, func() error, error) {
		if _, err := host.Init(); err != nil {
			return halcore.Platform{}, nil, err
		}
		return halcore.Platform{
			Pins:  periphPinFactory{},
			Delay: SpinDelay{},
			IRQ:   &GCInterrupts{},
		}, noClose, nil
	})
}

// periphPinFactory resolves numbers through the periph pin registry, which
// accepts both "4" and "GPIO4".
type periphPinFactory struct{}

func (periphPinFactory) ByNumber(n int) (halcore.GPIOPin, bool) {
	p := gpioreg.ByName(strconv.Itoa(n))
	if p == nil {
		return nil, false
	}
	return periphPin{p: p, n: n}, true
}

type periphPin struct {
	p gpio.PinIO
	n int
}

func (r periphPin) ConfigureInput(pull halcore.Pull) error {
	gp := gpio.Float
	switch pull {
	case halcore.PullUp:
		gp = gpio.PullUp
	case halcore.PullDown:
		gp = gpio.PullDown
	}
	return r.p.In(gp, gpio.NoEdge)
}

func (r periphPin) ConfigureOutput(initial bool) error { return r.p.Out(gpio.Level(initial)) }
func (r periphPin) Set(level bool) error               { return r.p.Out(gpio.Level(level)) }
func (r periphPin) Get() (bool, error)                 { return r.p.Read() == gpio.High, nil }
func (r periphPin) Number() int                        { return r.n }
