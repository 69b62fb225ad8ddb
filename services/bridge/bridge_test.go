package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dhtcode-go/bus"
	"dhtcode-go/types"
)

// fakeTransport hands out links that record what they are sent. A link
// fails its first send when failNext is set.
type fakeTransport struct {
	mu       sync.Mutex
	sent     chan Record
	opens    int
	openErrs int // Open fails this many times first
	failNext bool
}

func (f *fakeTransport) String() string { return "fake" }

func (f *fakeTransport) Open(context.Context) (Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErrs > 0 {
		f.openErrs--
		return nil, errors.New("connection refused")
	}
	fail := f.failNext
	f.failNext = false
	return &fakeLink{t: f, fail: fail}, nil
}

type fakeLink struct {
	t    *fakeTransport
	fail bool
}

func (l *fakeLink) Send(_ context.Context, r Record) error {
	if l.fail {
		return errors.New("peer went away")
	}
	l.t.sent <- r
	return nil
}

func (l *fakeLink) Close() error { return nil }

func startBridge(t *testing.T) (*bus.Connection, *bus.Subscription, context.CancelFunc) {
	t.Helper()
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")
	ctx, cancel := context.WithCancel(context.Background())
	go Start(ctx, conn)

	stateSub := conn.Subscribe(bus.T("bridge", "state"))
	assertLevelStatus(t, nextState(t, stateSub, 500*time.Millisecond), "idle", "awaiting_config")
	return conn, stateSub, cancel
}

func TestBridge_ForwardsValuesWithDeviceNames(t *testing.T) {
	ft := &fakeTransport{sent: make(chan Record, 8)}
	RegisterTransport("fake_fwd", func(TransportConfig) (Transport, error) { return ft, nil })

	conn, stateSub, cancel := startBridge(t)
	defer cancel()

	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "temperature", 0, "info"),
		types.Info{SchemaVersion: 1, Driver: "dht22", Device: "porch"}, true))

	conn.Publish(conn.NewMessage(topicConfigBridge, `{"transport":{"type":"fake_fwd"}}`, false))
	assertLevelStatus(t, nextState(t, stateSub, time.Second), "up", "link_established")

	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "temperature", 0, "value"),
		types.TemperatureValue{DeciC: 166}, false))
	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "humidity", 3, "value"),
		types.HumidityValue{RHx100: 6520}, false))

	r := nextRecord(t, ft.sent)
	if r.Device != "porch" || r.Kind != "temperature" || r.CapID != 0 {
		t.Fatalf("record=%+v", r)
	}
	if v, ok := r.Payload.(types.TemperatureValue); !ok || v.DeciC != 166 {
		t.Fatalf("payload=%+v", r.Payload)
	}
	if r.TS == 0 {
		t.Fatal("record has no timestamp")
	}

	// No info for humidity/3: fall back to a synthetic name.
	if r := nextRecord(t, ft.sent); r.Device != "humidity3" {
		t.Fatalf("fallback device=%q", r.Device)
	}
}

func TestBridge_SendFailureReconnects(t *testing.T) {
	ft := &fakeTransport{sent: make(chan Record, 8), failNext: true}
	RegisterTransport("fake_flaky", func(TransportConfig) (Transport, error) { return ft, nil })

	conn, stateSub, cancel := startBridge(t)
	defer cancel()

	conn.Publish(conn.NewMessage(topicConfigBridge, Config{Transport: TransportConfig{Type: "fake_flaky"}}, false))
	assertLevelStatus(t, nextState(t, stateSub, time.Second), "up", "link_established")

	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "temperature", 0, "value"),
		types.TemperatureValue{DeciC: 1}, false))

	st := nextState(t, stateSub, time.Second)
	assertLevelStatus(t, st, "degraded", "link_lost_retrying")
	if !strings.Contains(st.Error, "peer went away") {
		t.Fatalf("error=%q", st.Error)
	}
	assertLevelStatus(t, nextState(t, stateSub, 2*time.Second), "up", "link_established")

	ft.mu.Lock()
	opens := ft.opens
	ft.mu.Unlock()
	if opens != 2 {
		t.Fatalf("opens=%d, want 2", opens)
	}
}

func TestBridge_UnknownTransportYieldsErrorState(t *testing.T) {
	conn, stateSub, cancel := startBridge(t)
	defer cancel()

	conn.Publish(conn.NewMessage(topicConfigBridge, `{"transport":{"type":"bogus"}}`, false))
	assertLevelStatus(t, nextState(t, stateSub, time.Second), "error", "transport_init_failed")
}

func TestBridge_BadConfigPayload(t *testing.T) {
	conn, stateSub, cancel := startBridge(t)
	defer cancel()

	conn.Publish(conn.NewMessage(topicConfigBridge, 42, false))
	assertLevelStatus(t, nextState(t, stateSub, time.Second), "error", "config_decode_failed")
}

func TestTransportFactoriesValidate(t *testing.T) {
	for _, cfg := range []TransportConfig{
		{Type: "mqtt"},
		{Type: "mqtt", MQTT: &MQTTConfig{Broker: "tcp://x:1883", QoS: 3}},
		{Type: "redis", Redis: &RedisConfig{}},
		{Type: "serial"},
	} {
		if _, err := newTransport(cfg); err == nil {
			t.Errorf("%s: expected error", cfg.Type)
		}
	}
	tr, err := newTransport(TransportConfig{Type: "mqtt", MQTT: &MQTTConfig{Broker: "tcp://x:1883"}})
	if err != nil || tr.String() != "mqtt tcp://x:1883" {
		t.Fatalf("mqtt: %v %v", tr, err)
	}
}

func TestDecodeConfig(t *testing.T) {
	m := map[string]any{"transport": map[string]any{"type": "redis", "redis": map[string]any{"addr": "localhost:6379", "db": 2}}}
	cfg, err := decodeConfig(m)
	if err != nil || cfg.Transport.Redis == nil || cfg.Transport.Redis.DB != 2 {
		t.Fatalf("map: %+v %v", cfg, err)
	}
	cfg, err = decodeConfig([]byte(`{"transport":{"type":"serial","serial":{"port":"/dev/ttyUSB0"}}}`))
	if err != nil || cfg.Transport.Serial.Port != "/dev/ttyUSB0" {
		t.Fatalf("bytes: %+v %v", cfg, err)
	}
}

func TestNaming(t *testing.T) {
	r := Record{Device: "shed", Kind: "humidity"}
	if got := mqttTopic("site/a", r); got != "site/a/shed/humidity" {
		t.Fatalf("mqtt topic %q", got)
	}
	if got := redisKey("dht", "shed"); got != "dht:shed" {
		t.Fatalf("redis key %q", got)
	}
}

type bufCloser struct {
	strings.Builder
	closed bool
}

func (b *bufCloser) Close() error { b.closed = true; return nil }

func TestLineLinkWritesFrames(t *testing.T) {
	w := &bufCloser{}
	l := newLineLink(w)
	ctx := context.Background()

	_ = l.Send(ctx, Record{Kind: "temperature", Payload: types.TemperatureValue{DeciC: 1}})
	_ = l.Send(ctx, Record{Kind: "dht_frame", Payload: types.DHTFrame{Variant: "dht22", Hex: "028C00A634", Valid: true}})
	_ = l.Send(ctx, Record{Kind: "dht_frame", Payload: types.DHTFrame{Variant: "dht11", Hex: "2d00140041"}})
	_ = l.Send(ctx, Record{Kind: "dht_frame", Payload: types.DHTFrame{Variant: "dht11", Hex: "zz"}})

	if got, want := w.String(), "DHT22:028C00A634\nDHT11:2D00140041\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	_ = l.Close()
	if !w.closed {
		t.Fatal("writer not closed")
	}
}

func TestBackoffSeq(t *testing.T) {
	next, reset := backoffSeq(100*time.Millisecond, 350*time.Millisecond)
	want := []time.Duration{100, 200, 350, 350}
	for i, w := range want {
		if got := next(); got != w*time.Millisecond {
			t.Fatalf("step %d: got %v", i, got)
		}
	}
	reset()
	if got := next(); got != 100*time.Millisecond {
		t.Fatalf("after reset: got %v", got)
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func nextRecord(t *testing.T, ch <-chan Record) Record {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for record")
		return Record{}
	}
}

func nextState(t *testing.T, sub *bus.Subscription, d time.Duration) types.HALState {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(types.HALState)
		if !ok {
			t.Fatalf("state payload type: got %T", m.Payload)
		}
		return p
	case <-timer.C:
		t.Fatalf("timeout waiting for bridge/state")
		return types.HALState{}
	}
}

func assertLevelStatus(t *testing.T, st types.HALState, wantLevel, wantStatus string) {
	t.Helper()
	if st.Level != wantLevel || st.Status != wantStatus {
		t.Fatalf("unexpected state: level=%q status=%q, want level=%q status=%q (error=%q)",
			st.Level, st.Status, wantLevel, wantStatus, st.Error)
	}
}

func TestBridge_ClearedConfigStopsLink(t *testing.T) {
	ft := &fakeTransport{sent: make(chan Record, 8)}
	RegisterTransport("fake_clear", func(TransportConfig) (Transport, error) { return ft, nil })

	conn, stateSub, cancel := startBridge(t)
	defer cancel()

	conn.Publish(conn.NewMessage(topicConfigBridge, `{"transport":{"type":"fake_clear"}}`, true))
	assertLevelStatus(t, nextState(t, stateSub, time.Second), "up", "link_established")

	conn.Publish(conn.NewMessage(topicConfigBridge, nil, true))
	assertLevelStatus(t, nextState(t, stateSub, time.Second), "idle", "awaiting_config")
}

func TestBridge_BackoffRestartsAfterLinkEstablished(t *testing.T) {
	ft := &fakeTransport{sent: make(chan Record, 8), openErrs: 2, failNext: true}
	RegisterTransport("fake_backoff", func(TransportConfig) (Transport, error) { return ft, nil })

	conn, stateSub, cancel := startBridge(t)
	defer cancel()

	conn.Publish(conn.NewMessage(topicConfigBridge, `{"transport":{"type":"fake_backoff"}}`, false))
	for _, retry := range []string{"retry in 250ms", "retry in 500ms"} {
		st := nextState(t, stateSub, time.Second)
		assertLevelStatus(t, st, "degraded", "dial_failed_retrying")
		if !strings.Contains(st.Error, retry) {
			t.Fatalf("error=%q, want %q", st.Error, retry)
		}
	}
	assertLevelStatus(t, nextState(t, stateSub, 2*time.Second), "up", "link_established")

	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "temperature", 0, "value"),
		types.TemperatureValue{DeciC: 1}, false))
	st := nextState(t, stateSub, time.Second)
	assertLevelStatus(t, st, "degraded", "link_lost_retrying")
	if !strings.Contains(st.Error, "retry in 250ms") {
		t.Fatalf("backoff not restarted after a good link: %q", st.Error)
	}
	assertLevelStatus(t, nextState(t, stateSub, 2*time.Second), "up", "link_established")
}
