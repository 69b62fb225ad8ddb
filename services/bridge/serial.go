package bridge

import (
	"context"
	"errors"
	"io"

	"github.com/tarm/serial"

	"dhtcode-go/drivers/dht"
	"dhtcode-go/types"
)

// SerialConfig writes raw frames as "DHT22:028C00A634" lines. Only dht_frame
// records are sent; devices need raw frames enabled.
type SerialConfig struct {
	Port string `json:"port"`
	Baud int    `json:"baud,omitempty"`
}

func init() {
	RegisterTransport("serial", func(c TransportConfig) (Transport, error) {
		if c.Serial == nil || c.Serial.Port == "" {
			return nil, errors.New("serial transport requires a port")
		}
		cfg := *c.Serial
		if cfg.Baud <= 0 {
			cfg.Baud = 115200
		}
		return &serialTransport{cfg: cfg}, nil
	})
}

type serialTransport struct{ cfg SerialConfig }

func (t *serialTransport) String() string { return "serial " + t.cfg.Port }

func (t *serialTransport) Open(context.Context) (Link, error) {
	p, err := serial.OpenPort(&serial.Config{Name: t.cfg.Port, Baud: t.cfg.Baud})
	if err != nil {
		return nil, err
	}
	return newLineLink(p), nil
}

// lineLink writes frame lines to any writer.
type lineLink struct {
	w   io.WriteCloser
	buf []byte
}

func newLineLink(w io.WriteCloser) *lineLink { return &lineLink{w: w} }

func (l *lineLink) Send(_ context.Context, r Record) error {
	var ok bool
	l.buf, ok = appendFrameLine(l.buf[:0], r)
	if !ok {
		return nil
	}
	_, err := l.w.Write(l.buf)
	return err
}

func (l *lineLink) Close() error { return l.w.Close() }

// appendFrameLine renders a dht_frame record. It reports false for anything
// else, including frames that fail to parse.
func appendFrameLine(dst []byte, r Record) ([]byte, bool) {
	fr, ok := r.Payload.(types.DHTFrame)
	if !ok {
		return dst, false
	}
	v, err := dht.ParseVariant(fr.Variant)
	if err != nil {
		return dst, false
	}
	f, err := dht.ParseFrame(fr.Hex)
	if err != nil {
		return dst, false
	}
	return append(dht.AppendLine(dst, v, f), '\n'), true
}
