// Package hal exposes the hardware abstraction service. It owns the GPIO
// backend, builds DHT devices from config/hal and publishes readings under
// hal/capability/<kind>/<id>/...
package hal

import (
	"context"

	"dhtcode-go/bus"
	"dhtcode-go/services/hal/internal/halcore"
	"dhtcode-go/services/hal/internal/platform"
	"dhtcode-go/services/hal/internal/service"

	// Register device adaptors.
	_ "dhtcode-go/services/hal/internal/devices/dht"
)

// WorkerConfig tunes the per-bus measurement workers.
type WorkerConfig = halcore.WorkerConfig

// Options selects the backend the service runs on.
type Options struct {
	// Backend is one of Backends(). Empty means "sim".
	Backend string
	// SimFrames maps sim pin numbers to frame lines, e.g. "DHT22:028C00A634".
	SimFrames map[int]string
	Worker    WorkerConfig
}

var ErrUnknownBackend = platform.ErrUnknownBackend

// Backends lists the GPIO backends compiled into this build.
func Backends() []string { return platform.Backends() }

// Run opens the backend and serves until ctx is cancelled.
func Run(ctx context.Context, conn *bus.Connection, opts Options) error {
	if opts.Backend == "" {
		opts.Backend = platform.BackendSim
	}
	pf, closeFn, err := platform.Open(opts.Backend, platform.Config{SimFrames: opts.SimFrames})
	if err != nil {
		return err
	}
	defer closeFn()

	service.New(conn, pf).WithWorkerConfig(opts.Worker).Run(ctx)
	return nil
}
