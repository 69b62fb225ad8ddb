package dhttest

import (
	"sync"
	"time"

	"dhtcode-go/drivers/dht"
)

const forever = time.Hour

type segment struct {
	level bool
	dur   time.Duration
}

// Sensor plays back a DHT response on the line. It implements dht.Pin.
//
// The sensor answers only when the host held the line low for at least the
// variant's datasheet minimum before releasing it.
type Sensor struct {
	Variant dht.Variant
	Frame   dht.Frame

	// Highs overrides the per-bit high widths (40 entries).
	Highs []time.Duration
	// Silent sensors never answer; the line stays high.
	Silent bool
	// StuckLow holds the line low once released.
	StuckLow bool
	// StopAfterBits > 0 holds the line low after that many bits.
	StopAfterBits int
	// GetErr is returned by Get once FailAfter calls have succeeded.
	GetErr    error
	FailAfter int
	// LowErr is returned by Low, HighErr by High.
	LowErr  error
	HighErr error
	// IRQ, when set, lets the sensor count reads made with interrupts enabled.
	IRQ *Interrupts

	// Sessions counts start signals the sensor answered.
	Sessions int
	// UnmaskedGets counts Get calls during a response with interrupts enabled.
	UnmaskedGets int

	clock *Clock

	mu        sync.Mutex
	driven    bool
	level     bool
	lowAt     time.Duration
	armed     bool
	releaseAt time.Duration
	segs      []segment
	gets      int
}

// NewSensor returns a sensor sharing clock c.
func NewSensor(c *Clock, v dht.Variant, f dht.Frame) *Sensor {
	return &Sensor{Variant: v, Frame: f, clock: c}
}

func (s *Sensor) Low() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LowErr != nil {
		return s.LowErr
	}
	s.driven, s.level = true, false
	s.lowAt = s.clock.Now()
	s.armed = false
	return nil
}

func (s *Sensor) High() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HighErr != nil {
		return s.HighErr
	}
	s.endStart()
	s.driven, s.level = true, true
	return nil
}

func (s *Sensor) Input() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endStart()
	s.driven = false
	return nil
}

func (s *Sensor) Get() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.GetErr != nil && s.gets > s.FailAfter {
		return false, s.GetErr
	}
	if s.driven {
		return s.level, nil
	}
	if !s.armed {
		return true, nil
	}
	if s.IRQ != nil && !s.IRQ.Masked() {
		s.UnmaskedGets++
	}
	t := s.clock.Now() - s.releaseAt
	for _, sg := range s.segs {
		if t < sg.dur {
			return sg.level, nil
		}
		t -= sg.dur
	}
	return true, nil
}

// endStart is called when the host stops driving low.
func (s *Sensor) endStart() {
	if !s.driven || s.level {
		return
	}
	now := s.clock.Now()
	if s.Silent || now-s.lowAt < minStart(s.Variant) {
		return
	}
	s.armed = true
	s.releaseAt = now
	s.segs = s.response()
	s.Sessions++
}

func (s *Sensor) response() []segment {
	if s.StuckLow {
		return []segment{{true, RespondAfter}, {false, forever}}
	}
	highs := s.Highs
	if len(highs) != 40 {
		highs = Highs(s.Frame)
	}
	segs := []segment{{true, RespondAfter}, {false, AckLow}, {true, AckHigh}}
	for i, h := range highs {
		if s.StopAfterBits > 0 && i == s.StopAfterBits {
			return append(segs, segment{false, forever})
		}
		segs = append(segs, segment{false, BitLow}, segment{true, h})
	}
	return append(segs, segment{false, BitLow})
}

func minStart(v dht.Variant) time.Duration {
	if v == dht.DHT11 {
		return 18 * time.Millisecond
	}
	return time.Millisecond
}
