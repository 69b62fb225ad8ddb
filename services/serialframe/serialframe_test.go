package serialframe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dhtcode-go/bus"
	"dhtcode-go/errcode"
	"dhtcode-go/types"
)

func recv(t *testing.T, sub *bus.Subscription) *bus.Message {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m
	case <-time.After(time.Second):
		t.Fatalf("timeout on %v", sub.Topic())
		return nil
	}
}

func TestRunPublishesValidLines(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("ingest")
	temps := conn.Subscribe(bus.T("hal", "capability", "temperature", 2, "value"))
	hums := conn.Subscribe(bus.T("hal", "capability", "humidity", 2, "value"))

	var rejected []string
	in := New(conn, Config{Device: "greenhouse", CapID: 2}).OnReject(func(err error) {
		rejected = append(rejected, string(errcode.Of(err)))
	})
	input := strings.Join([]string{
		"DHT22:028C00A634",
		"",
		"# mem alloc: 1024",
		"garbage",
		"DHT22:028C00A635", // bad checksum
		"  DHT11:2D00140041\r",
	}, "\n")
	if err := in.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatal(err)
	}

	if v := recv(t, temps).Payload.(types.TemperatureValue); v.DeciC != 166 {
		t.Fatalf("first temperature %d", v.DeciC)
	}
	if v := recv(t, temps).Payload.(types.TemperatureValue); v.DeciC != 200 {
		t.Fatalf("second temperature %d", v.DeciC)
	}
	if v := recv(t, hums).Payload.(types.HumidityValue); v.RHx100 != 6520 {
		t.Fatalf("first humidity %d", v.RHx100)
	}

	if got, want := in.Stats(), (Stats{Lines: 4, Valid: 2, Invalid: 2}); got != want {
		t.Fatalf("stats=%+v, want %+v", got, want)
	}
	if strings.Join(rejected, ",") != "invalid_payload,checksum_mismatch" {
		t.Fatalf("rejected=%v", rejected)
	}

	info := recv(t, conn.Subscribe(bus.T("hal", "capability", "temperature", 2, "info"))).Payload.(types.Info)
	if info.Device != "greenhouse" || info.Driver != "serialframe" {
		t.Fatalf("info=%+v", info)
	}
}

func TestHandleLineErrors(t *testing.T) {
	conn := bus.NewBus(8).NewConnection("ingest")
	in := New(conn, Config{Strict: true})

	cases := []struct {
		line string
		want errcode.Code
	}{
		{"DHT33:028C00A634", errcode.InvalidPayload},
		{"DHT22:028C", errcode.InvalidPayload},
		{"DHT22:028C00A600", errcode.ChecksumMismatch},
		// 120.0 %RH: checksums but outside the rated range.
		{"DHT22:04B000E69A", errcode.Implausible},
	}
	for _, c := range cases {
		err := in.HandleLine(c.line)
		var e *errcode.E
		if !errors.As(err, &e) || errcode.Of(err) != c.want {
			t.Errorf("%q: err=%v, want %s", c.line, err, c.want)
		}
	}
	if in.Stats().Invalid != uint64(len(cases)) {
		t.Fatalf("stats=%+v", in.Stats())
	}
}

func TestRejectDegradesAnnouncedCapabilities(t *testing.T) {
	conn := bus.NewBus(8).NewConnection("ingest")
	in := New(conn, Config{})
	if err := in.HandleLine("DHT22:028C00A634"); err != nil {
		t.Fatal(err)
	}
	_ = in.HandleLine("DHT22:028C00A600")

	st := recv(t, conn.Subscribe(bus.T("hal", "capability", "humidity", 0, "state"))).Payload.(types.CapabilityState)
	if st.Link != types.LinkDegraded || st.Error != string(errcode.ChecksumMismatch) {
		t.Fatalf("state=%+v", st)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	conn := bus.NewBus(8).NewConnection("ingest")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(conn, Config{}).Run(ctx, strings.NewReader("DHT22:028C00A634\n"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}

func TestRunSkipsOverlongLines(t *testing.T) {
	conn := bus.NewBus(16).NewConnection("ingest")
	temps := conn.Subscribe(bus.T("hal", "capability", "temperature", 0, "value"))

	var rejected []error
	in := New(conn, Config{}).OnReject(func(err error) { rejected = append(rejected, err) })
	input := strings.Repeat("Z", 300) + "\nDHT22:028C00A634\n" + strings.Repeat("~", 1000)
	if err := in.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatal(err)
	}

	if v := recv(t, temps).Payload.(types.TemperatureValue); v.DeciC != 166 {
		t.Fatalf("temperature %d", v.DeciC)
	}
	if got, want := in.Stats(), (Stats{Lines: 3, Valid: 1, Invalid: 2}); got != want {
		t.Fatalf("stats=%+v, want %+v", got, want)
	}
	if len(rejected) != 2 {
		t.Fatalf("rejected=%v", rejected)
	}
	for _, err := range rejected {
		if errcode.Of(err) != errcode.InvalidPayload || !errors.Is(err, ErrLineTooLong) {
			t.Fatalf("reject=%v", err)
		}
	}
}
