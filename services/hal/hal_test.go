package hal

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"dhtcode-go/bus"
	"dhtcode-go/types"
)

func TestBackendsIncludesSim(t *testing.T) {
	if !slices.Contains(Backends(), "sim") {
		t.Fatalf("backends=%v", Backends())
	}
}

func TestRunUnknownBackend(t *testing.T) {
	conn := bus.NewBus(4).NewConnection("t")
	err := Run(context.Background(), conn, Options{Backend: "nope"})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("err=%v", err)
	}
}

func TestRunSimEndToEnd(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("t")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, conn, Options{SimFrames: map[int]string{7: "DHT22:0190803243"}})
	}()

	vals := conn.Subscribe(bus.T("hal", "capability", "temperature", bus.Single, "value"))
	conn.Publish(conn.NewMessage(bus.T("config", "hal"), types.HALConfig{Devices: []types.HALDevice{
		{ID: "attic", Type: "dht22", Params: map[string]any{"pin": 7}},
	}}, true))

	// 0x0190 = 40.0 %RH, 0x8032 = -5.0 °C
	select {
	case msg := <-vals.Channel():
		if v := msg.Payload.(types.TemperatureValue); v.DeciC != -50 {
			t.Fatalf("temperature=%d", v.DeciC)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for temperature")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
