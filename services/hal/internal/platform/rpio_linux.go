//go:build linux && !rp2040 && !rp2350

package platform

import (
	"github.com/stianeikeland/go-rpio/v4"

	"dhtcode-go/services/hal/internal/halcore"
)

func init() {
	register(BackendRPIO, func(Config) (halcore.Platform, func() error, error) {
		if err := rpio.Open(); err != nil {
			return halcore.Platform{}, nil, err
		}
		return halcore.Platform{
			Pins:  rpioPinFactory{},
			Delay: SpinDelay{},
			IRQ:   &GCInterrupts{},
		}, rpio.Close, nil
	})
}

// rpioPinFactory maps numbers to BCM GPIOs via /dev/gpiomem.
type rpioPinFactory struct{}

func (rpioPinFactory) ByNumber(n int) (halcore.GPIOPin, bool) {
	if n < 0 || n > 27 {
		return nil, false
	}
	return rpioPin{p: rpio.Pin(n)}, true
}

type rpioPin struct{ p rpio.Pin }

func (r rpioPin) ConfigureInput(pull halcore.Pull) error {
	r.p.Input()
	switch pull {
	case halcore.PullUp:
		r.p.PullUp()
	case halcore.PullDown:
		r.p.PullDown()
	default:
		r.p.PullOff()
	}
	return nil
}

func (r rpioPin) ConfigureOutput(initial bool) error {
	r.p.Output()
	return r.Set(initial)
}

// Set writes the level register directly; /dev/gpiomem writes cannot fail.
func (r rpioPin) Set(level bool) error {
	if level {
		r.p.High()
	} else {
		r.p.Low()
	}
	return nil
}

func (r rpioPin) Get() (bool, error) { return r.p.Read() == rpio.High, nil }
func (r rpioPin) Number() int        { return int(r.p) }
