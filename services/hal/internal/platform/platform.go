// Package platform supplies GPIO pins, busy-wait delays and interrupt
// control for the selected backend.
package platform

import (
	"errors"
	"sort"
	"sync"

	"dhtcode-go/services/hal/internal/halcore"
)

// Backend names.
const (
	BackendSim    = "sim"
	BackendRPIO   = "rpio"
	BackendPeriph = "periph"
	BackendRP2    = "rp2"
)

var ErrUnknownBackend = errors.New("unknown_backend")

// Config carries backend-specific settings.
type Config struct {
	// SimFrames maps a pin number to the frame line its simulated sensor
	// answers with, e.g. "DHT11:2D00140041". Unlisted pins get DefaultSimLine.
	SimFrames map[int]string
}

// Opener prepares a backend. The returned func releases it.
type Opener func(cfg Config) (halcore.Platform, func() error, error)

var (
	mu       sync.RWMutex
	backends = map[string]Opener{}
)

func register(name string, o Opener) {
	mu.Lock()
	defer mu.Unlock()
	backends[name] = o
}

// Open prepares the named backend.
func Open(name string, cfg Config) (halcore.Platform, func() error, error) {
	mu.RLock()
	o, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return halcore.Platform{}, nil, ErrUnknownBackend
	}
	return o(cfg)
}

// Backends lists the backends compiled into this build.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(backends))
	for name := range backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func noClose() error { return nil }
