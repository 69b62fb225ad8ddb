package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"dhtcode-go/services/hal"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Read the configured sensors and forward readings",
	Long: `Runs the HAL on the selected GPIO backend with the devices from the
config file, plus the bridge, heartbeat and metrics services.`,
	RunE: run,
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func run(cmd *cobra.Command, args []string) error {
	frames, err := settings.simFrames()
	if err != nil {
		return err
	}
	if len(settings.Devices) == 0 {
		log.Warn("no devices configured")
	}

	ctx, cancel := signalContext()
	defer cancel()

	st := startStack(ctx, settings)
	log.WithField("backend", settings.Backend).WithField("devices", settings.deviceIDs()).Info("starting hal")

	err = hal.Run(ctx, st.bus.NewConnection("hal"), hal.Options{Backend: settings.Backend, SimFrames: frames})
	return errors.Wrapf(err, "hal backend %q", settings.Backend)
}
