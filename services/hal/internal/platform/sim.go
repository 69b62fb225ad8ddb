//go:build !rp2040 && !rp2350

package platform

import (
	"sync"
	"time"

	"dhtcode-go/drivers/dht"
	"dhtcode-go/drivers/dht/dhttest"
	"dhtcode-go/services/hal/internal/halcore"
)

// DefaultSimLine is what a simulated sensor sends when no frame is configured
// for its pin: 65.2 %RH, 16.6 °C.
const DefaultSimLine = "DHT22:028C00A634"

func init() {
	register(BackendSim, func(cfg Config) (halcore.Platform, func() error, error) {
		s, err := NewSim(cfg.SimFrames)
		if err != nil {
			return halcore.Platform{}, nil, err
		}
		return s.Platform(), noClose, nil
	})
}

// Sim is a set of simulated DHT sensors on a shared virtual clock. Pulse
// timing runs on the virtual clock; read spacing uses wall time.
type Sim struct {
	Clock *dhttest.Clock
	IRQ   *dhttest.Interrupts

	mu      sync.Mutex
	frames  map[int]string
	sensors map[int]*dhttest.Sensor
}

// NewSim validates the configured frame lines up front.
func NewSim(frames map[int]string) (*Sim, error) {
	for _, l := range frames {
		if _, _, err := dht.ParseLine(l); err != nil {
			return nil, err
		}
	}
	return &Sim{
		Clock:   &dhttest.Clock{},
		IRQ:     &dhttest.Interrupts{},
		frames:  frames,
		sensors: map[int]*dhttest.Sensor{},
	}, nil
}

// Sensor returns the sensor on pin n, creating it on first use.
func (s *Sim) Sensor(n int) *dhttest.Sensor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss, ok := s.sensors[n]; ok {
		return ss
	}
	l, ok := s.frames[n]
	if !ok {
		l = DefaultSimLine
	}
	_, f, _ := dht.ParseLine(l)
	// The simulated part answers any start pulse of 1 ms or more so either
	// decoder can be pointed at it.
	ss := dhttest.NewSensor(s.Clock, dht.DHT22, f)
	ss.IRQ = s.IRQ
	s.sensors[n] = ss
	return ss
}

func (s *Sim) ByNumber(n int) (halcore.GPIOPin, bool) {
	if n < 0 {
		return nil, false
	}
	return &SimPin{s: s.Sensor(n), n: n}, true
}

func (s *Sim) Platform() halcore.Platform {
	return halcore.Platform{Pins: s, Delay: s.Clock, IRQ: s.IRQ, Now: time.Now}
}

// SimPin drives a simulated sensor through the GPIOPin interface.
type SimPin struct {
	s *dhttest.Sensor
	n int
}

func (p *SimPin) ConfigureInput(_ halcore.Pull) error { return p.s.Input() }

func (p *SimPin) ConfigureOutput(initial bool) error { return p.Set(initial) }

// Set and Get pass the sensor's fault knobs (GetErr, FailAfter) through.
func (p *SimPin) Set(level bool) error {
	if level {
		return p.s.High()
	}
	return p.s.Low()
}

func (p *SimPin) Get() (bool, error) { return p.s.Get() }

func (p *SimPin) Number() int { return p.n }
