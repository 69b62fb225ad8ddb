// Package serialframe turns "DHT22:028C00A634" frame lines, as printed by
// the firmware, into HAL-shaped bus traffic on a host.
package serialframe

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"sync/atomic"

	"dhtcode-go/bus"
	"dhtcode-go/drivers/dht"
	"dhtcode-go/errcode"
	"dhtcode-go/types"
	"dhtcode-go/x/mathx"
	"dhtcode-go/x/timex"
)

const (
	kindTemperature = "temperature"
	kindHumidity    = "humidity"
	kindFrame       = "dht_frame"

	maxLine = 256
)

// Config names the device on the far end of the line.
type Config struct {
	Device string `json:"device"`
	// CapID is the capability id used for every kind; defaults to 0.
	CapID int `json:"cap_id"`
	// Strict rejects readings outside the variant's rated range.
	Strict bool `json:"strict"`
}

// Stats counts lines seen by an Ingest.
type Stats struct {
	Lines   uint64
	Valid   uint64
	Invalid uint64
}

type Ingest struct {
	conn *bus.Connection
	cfg  Config

	announced map[string]bool
	onReject  func(error)
	lines     atomic.Uint64
	valid     atomic.Uint64
	invalid   atomic.Uint64
}

func New(conn *bus.Connection, cfg Config) *Ingest {
	if cfg.Device == "" {
		cfg.Device = "serial"
	}
	return &Ingest{conn: conn, cfg: cfg, announced: map[string]bool{}}
}

// OnReject sets a callback for lines Run rejects.
func (in *Ingest) OnReject(fn func(error)) *Ingest {
	in.onReject = fn
	return in
}

func (in *Ingest) Stats() Stats {
	return Stats{Lines: in.lines.Load(), Valid: in.valid.Load(), Invalid: in.invalid.Load()}
}

// ErrLineTooLong is the cause of rejections for lines over maxLine bytes.
var ErrLineTooLong = errors.New("line too long")

// Run reads lines until r is exhausted or ctx is cancelled. Cancellation is
// noticed between lines; close r to unblock a pending read. Overlong lines
// are rejected and skipped up to the next newline.
func (in *Ingest) Run(ctx context.Context, r io.Reader) error {
	br := bufio.NewReaderSize(r, maxLine)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, isPrefix, err := br.ReadLine()
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		var herr error
		if isPrefix {
			herr = in.rejectOverlong(b)
			if err := skipLine(br); err != nil {
				if err == io.EOF {
					err = nil
				}
				in.notify(herr)
				if cerr := ctx.Err(); cerr != nil {
					return cerr
				}
				return err
			}
		} else {
			herr = in.HandleLine(string(b))
		}
		in.notify(herr)
	}
}

func (in *Ingest) notify(err error) {
	if err != nil && in.onReject != nil {
		in.onReject(err)
	}
}

// skipLine discards the rest of a line ReadLine returned only in part.
func skipLine(br *bufio.Reader) error {
	for {
		_, isPrefix, err := br.ReadLine()
		if err != nil || !isPrefix {
			return err
		}
	}
}

func (in *Ingest) rejectOverlong(head []byte) error {
	in.lines.Add(1)
	const keep = 32
	if len(head) > keep {
		head = head[:keep]
	}
	return in.reject(errcode.InvalidPayload, string(head)+"...", ErrLineTooLong)
}

// HandleLine validates one line and publishes it. Blank lines and '#'
// comments are ignored.
// Rejected lines mark the capabilities degraded and return an *errcode.E.
func (in *Ingest) HandleLine(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return nil
	}
	in.lines.Add(1)

	v, f, err := dht.ParseLine(line)
	if err != nil {
		return in.reject(errcode.InvalidPayload, line, err)
	}
	r, err := dht.Decode(f, v)
	if err != nil {
		return in.reject(errcode.ChecksumMismatch, line, err)
	}
	if in.cfg.Strict && !v.Range().Contains(r) {
		return in.reject(errcode.Implausible, line, nil)
	}
	in.valid.Add(1)

	now := timex.NowMs()
	in.announce(v)
	in.publish(kindTemperature, types.TemperatureValue{
		DeciC: int16(mathx.Clamp(r.DeciCelsius(), math.MinInt16, math.MaxInt16))}, now)
	in.publish(kindHumidity, types.HumidityValue{
		RHx100: uint16(mathx.Clamp(r.DeciRelHumidity()*10, 0, math.MaxUint16))}, now)
	in.publish(kindFrame, types.DHTFrame{Variant: v.String(), Hex: f.String(), Valid: true}, now)
	return nil
}

func (in *Ingest) reject(code errcode.Code, line string, cause error) error {
	in.invalid.Add(1)
	st := types.CapabilityState{Link: types.LinkDegraded, TS: timex.NowMs(), Error: string(code)}
	for kind := range in.announced {
		in.retain(kind, "state", st)
	}
	return &errcode.E{C: code, Op: "ingest", Msg: line, Err: cause}
}

// announce retains info for each kind the first time a valid line arrives.
func (in *Ingest) announce(v dht.Variant) {
	for _, kind := range []string{kindTemperature, kindHumidity, kindFrame} {
		if in.announced[kind] {
			continue
		}
		in.announced[kind] = true
		var detail any
		switch kind {
		case kindTemperature:
			detail = types.TemperatureInfo{Sensor: v.String(), Pin: -1, Variant: v.String()}
		case kindHumidity:
			detail = types.HumidityInfo{Sensor: v.String(), Pin: -1, Variant: v.String()}
		}
		in.retain(kind, "info", types.Info{SchemaVersion: 1, Driver: "serialframe", Device: in.cfg.Device, Detail: detail})
	}
}

func (in *Ingest) publish(kind string, payload any, ts int64) {
	in.conn.Publish(in.conn.NewMessage(in.topic(kind, "value"), payload, false))
	in.retain(kind, "state", types.CapabilityState{Link: types.LinkUp, TS: ts})
}

func (in *Ingest) retain(kind, suffix string, payload any) {
	in.conn.Publish(in.conn.NewMessage(in.topic(kind, suffix), payload, true))
}

func (in *Ingest) topic(kind, suffix string) bus.Topic {
	return bus.T("hal", "capability", kind, in.cfg.CapID, suffix)
}
