package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tarm/serial"

	"dhtcode-go/errcode"
	"dhtcode-go/services/serialframe"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Forward frame lines read from a serial port",
	Long: `Reads "DHT22:028C00A634" lines, as printed by the pico-dht firmware,
from a serial port (or a plain file), validates them and forwards the
readings through the bridge and metrics services.`,
	RunE: ingest,
}

func init() {
	f := ingestCmd.Flags()
	f.String("port", "", "serial port or file to read")
	f.Int("baud", 115200, "serial baud rate")
	f.String("device", "serial", "device name for readings")
	f.Bool("strict", false, "reject readings outside the sensor's rated range")

	_ = v.BindPFlag("serial.port", f.Lookup("port"))
	_ = v.BindPFlag("serial.baud", f.Lookup("baud"))
	_ = v.BindPFlag("serial.device", f.Lookup("device"))
	_ = v.BindPFlag("serial.strict", f.Lookup("strict"))
}

// openSource opens a serial port, or a regular file for replaying captures.
func openSource(s Serial) (io.ReadCloser, error) {
	if s.Port == "" {
		return nil, errors.New("serial port is required (--port or serial.port)")
	}
	fi, err := os.Stat(s.Port)
	if err != nil {
		return nil, errors.Wrap(err, "serial port")
	}
	if fi.Mode()&os.ModeType == 0 {
		return os.Open(s.Port)
	}
	p, err := serial.OpenPort(&serial.Config{Name: s.Port, Baud: s.Baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", s.Port)
	}
	return p, nil
}

func ingest(cmd *cobra.Command, args []string) error {
	src, err := openSource(settings.Serial)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = src.Close()
	}()

	st := startStack(ctx, settings)
	in := serialframe.New(st.conn, settings.ingestConfig()).OnReject(func(err error) {
		log.WithField("code", errcode.Of(err)).Warn(err)
	})

	log.WithField("port", settings.Serial.Port).Info("ingesting frames")
	err = in.Run(ctx, src)
	stats := in.Stats()
	log.WithField("lines", stats.Lines).WithField("valid", stats.Valid).WithField("invalid", stats.Invalid).Info("ingest finished")
	if ctx.Err() != nil {
		return nil
	}
	return errors.Wrap(err, "ingest")
}
