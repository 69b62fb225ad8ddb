//go:build rp2040 || rp2350

package platform

import (
	"machine"
	"runtime/interrupt"
	"time"

	"dhtcode-go/services/hal/internal/halcore"
)

func init() {
	register(BackendRP2, func(Config) (halcore.Platform, func() error, error) {
		return halcore.Platform{
			Pins:  rp2PinFactory{},
			Delay: rp2Delay{},
			IRQ:   &rp2Interrupts{},
			Now:   time.Now,
		}, noClose, nil
	})
}

// rp2PinFactory maps logical numbers directly to machine.Pin(n). This
// matches Pico/Pico 2 GP numbering.
type rp2PinFactory struct{}

func (rp2PinFactory) ByNumber(n int) (halcore.GPIOPin, bool) {
	// Constrain to RP2's user GPIOs (GP0..GP28).
	if n < 0 || n > 28 {
		return nil, false
	}
	return &rp2Pin{p: machine.Pin(n), n: n}, true
}

type rp2Pin struct {
	p machine.Pin
	n int
}

func (r *rp2Pin) ConfigureInput(pull halcore.Pull) error {
	var mode machine.PinMode
	switch pull {
	case halcore.PullUp:
		mode = machine.PinInputPullup
	case halcore.PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	r.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (r *rp2Pin) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *rp2Pin) Set(level bool) error {
	r.p.Set(level)
	return nil
}

func (r *rp2Pin) Get() (bool, error) { return r.p.Get(), nil }
func (r *rp2Pin) Number() int        { return r.n }

// rp2Delay spins; time.Sleep would yield to the scheduler.
type rp2Delay struct{}

func (rp2Delay) Delay(d time.Duration) {
	start := time.Now()
	for time.Since(start) < d {
	}
}

type rp2Interrupts struct {
	state interrupt.State
	depth int
}

func (r *rp2Interrupts) DisableInterrupts() {
	if r.depth == 0 {
		r.state = interrupt.Disable()
	}
	r.depth++
}

func (r *rp2Interrupts) EnableInterrupts() {
	if r.depth == 0 {
		return
	}
	r.depth--
	if r.depth == 0 {
		interrupt.Restore(r.state)
	}
}
