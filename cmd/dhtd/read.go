package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"dhtcode-go/bus"
	"dhtcode-go/drivers/dht"
	"dhtcode-go/errcode"
	"dhtcode-go/services/hal"
	"dhtcode-go/types"
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Take one reading and print it",
	Long: `Reads one sensor once. Failed attempts are retried after the sensor's
minimum read spacing (1 s for DHT11, 2 s for the 22-class parts).`,
	Example: "  dhtd read --type dht22 --pin 4\n  dhtd read --backend rpio --type dht11 --pin 17 --retries 4",
	RunE:    readOnce,
}

func init() {
	f := readCmd.Flags()
	f.String("type", "dht22", "sensor type (dht11, dht22, am2302, dht21, am2301)")
	f.Int("pin", 4, "GPIO number of the data line")
	f.Int("retries", 2, "retries after a timeout or checksum failure")
	f.Duration("timeout", 15*time.Second, "give up after this long")
}

// reading is what read collects from the bus.
type reading struct {
	temp  *types.TemperatureValue
	hum   *types.HumidityValue
	frame *types.DHTFrame
}

func (r reading) complete() bool { return r.temp != nil && r.hum != nil && r.frame != nil }

func readOnce(cmd *cobra.Command, args []string) error {
	typ, _ := cmd.Flags().GetString("type")
	pin, _ := cmd.Flags().GetInt("pin")
	retries, _ := cmd.Flags().GetInt("retries")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if _, err := dht.ParseVariant(typ); err != nil {
		return errors.Wrapf(err, "--type %q", typ)
	}
	frames, err := settings.simFrames()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelT := context.WithTimeout(ctx, timeout)
	defer cancelT()

	b := bus.NewBus(16)
	conn := b.NewConnection("read")
	halErr := make(chan error, 1)
	go func() {
		halErr <- hal.Run(ctx, b.NewConnection("hal"), hal.Options{Backend: settings.Backend, SimFrames: frames})
	}()

	cfg := types.HALConfig{Devices: []types.HALDevice{{
		ID:     "read",
		Type:   typ,
		Params: map[string]any{"pin": pin, "raw": true, "retries": retries, "sample_ms": int(time.Hour / time.Millisecond)},
	}}}
	r, err := awaitReading(ctx, conn, halErr, func() {
		conn.Publish(conn.NewMessage(bus.T("config", "hal"), cfg, true))
	})
	if err != nil {
		return err
	}
	printReading(os.Stdout, r)
	return nil
}

// awaitReading subscribes, calls start and collects one complete reading.
func awaitReading(ctx context.Context, conn *bus.Connection, halErr <-chan error, start func()) (reading, error) {
	vals := conn.Subscribe(bus.T("hal", "capability", bus.Single, 0, "value"))
	defer conn.Unsubscribe(vals)
	states := conn.Subscribe(bus.T("hal", "capability", bus.Single, 0, "state"))
	defer conn.Unsubscribe(states)
	start()

	var r reading
	for !r.complete() {
		select {
		case <-ctx.Done():
			return r, errors.Wrap(ctx.Err(), "waiting for reading")
		case err := <-halErr:
			return r, errors.Wrap(err, "hal")
		case m := <-vals.Channel():
			switch p := m.Payload.(type) {
			case types.TemperatureValue:
				r.temp = &p
			case types.HumidityValue:
				r.hum = &p
			case types.DHTFrame:
				r.frame = &p
			}
		case m := <-states.Channel():
			if st, ok := m.Payload.(types.CapabilityState); ok && st.Link == types.LinkDegraded {
				return r, errors.Wrap(errcode.Code(st.Error), "read failed")
			}
		}
	}
	return r, nil
}

func printReading(w io.Writer, r reading) {
	fmt.Fprintf(w, "temperature: %.1f °C\n", float64(r.temp.DeciC)/10)
	fmt.Fprintf(w, "humidity:    %.2f %%RH\n", float64(r.hum.RHx100)/100)
	fmt.Fprintf(w, "frame:       %s %s\n", r.frame.Variant, r.frame.Hex)
}
