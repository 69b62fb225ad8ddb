//go:build rp2040 || rp2350

// Command pico-dht reads DHT sensors on an RP2040/RP2350 board and prints
// each raw frame as a "DHT22:028C00A634" line on the USB console, for
// `dhtd ingest` on the host.
//
// Build/flash (TinyGo):
//
//	tinygo flash -target pico ./cmd/pico-dht
//
// Devices come from the embedded "pico" config (DHT22 on GP15).
package main

import (
	"context"
	"runtime"
	"time"

	"dhtcode-go/bus"
	"dhtcode-go/drivers/dht"
	"dhtcode-go/services/config"
	"dhtcode-go/services/hal"
	"dhtcode-go/services/heartbeat"
	"dhtcode-go/types"
)

const deviceID = "pico"

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(3 * time.Second)
	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, deviceID)

	b := bus.NewBus(8)
	mon := b.NewConnection("mon")

	frames := mon.Subscribe(bus.T("hal", "capability", "dht_frame", bus.Single, "value"))
	states := mon.Subscribe(bus.T("hal", "capability", "temperature", bus.Single, "state"))
	halState := mon.Subscribe(bus.T("hal", "state"))

	go func() {
		if err := hal.Run(ctx, b.NewConnection("hal"), hal.Options{Backend: "rp2"}); err != nil {
			println("[main] hal:", err.Error())
		}
	}()
	config.NewConfigService().Start(ctx, b.NewConnection("config"))
	hb := &heartbeat.Service{}
	_ = hb.Start(ctx, b.NewConnection("heartbeat"))

	line := make([]byte, 0, 32)
	mem := time.NewTicker(30 * time.Second)
	for {
		select {
		case m := <-frames.Channel():
			fr, ok := m.Payload.(types.DHTFrame)
			if !ok {
				continue
			}
			if l, ok := frameLine(line[:0], fr); ok {
				println(string(l))
			}
		case m := <-states.Channel():
			if st, ok := m.Payload.(types.CapabilityState); ok && st.Link == types.LinkDegraded {
				println("# read failed:", st.Error)
			}
		case m := <-halState.Channel():
			if st, ok := m.Payload.(types.HALState); ok {
				println("# hal", st.Level, st.Status, st.Error)
			}
		case <-mem.C:
			printMem()
		}
	}
}

func frameLine(dst []byte, fr types.DHTFrame) ([]byte, bool) {
	v, err := dht.ParseVariant(fr.Variant)
	if err != nil {
		return dst, false
	}
	f, err := dht.ParseFrame(fr.Hex)
	if err != nil {
		return dst, false
	}
	return dht.AppendLine(dst, v, f), true
}

// printMem prints a compact snapshot of TinyGo runtime memory stats.
// Lines start with '#' so the host ingest ignores them.
func printMem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	println("# mem",
		"alloc:", uint32(ms.Alloc),
		"heapInuse:", uint32(ms.HeapInuse),
		"mallocs:", uint32(ms.Mallocs),
		"frees:", uint32(ms.Frees),
	)
}
