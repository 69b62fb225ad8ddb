// Package metrics exports HAL readings and link health to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dhtcode-go/bus"
	"dhtcode-go/types"
)

var (
	topicInfo      = bus.T("hal", "capability", bus.Single, bus.Single, "info")
	topicValue     = bus.T("hal", "capability", bus.Single, bus.Single, "value")
	topicState     = bus.T("hal", "capability", bus.Single, bus.Single, "state")
	topicHeartbeat = bus.T("heartbeat")
)

type capKey struct {
	kind string
	id   int
}

// Exporter mirrors bus traffic into its own registry.
type Exporter struct {
	reg *prometheus.Registry

	temperature *prometheus.GaugeVec
	humidity    *prometheus.GaugeVec
	linkUp      *prometheus.GaugeVec
	readErrors  *prometheus.CounterVec

	maxBeatAge time.Duration
	lastBeat   atomic.Int64 // unix ms

	names   map[capKey]string
	lastErr map[string]int64 // device -> ts of the last counted failure
}

// New builds an exporter. /healthz fails once no heartbeat has been seen
// for maxBeatAge; zero disables the check.
func New(maxBeatAge time.Duration) *Exporter {
	e := &Exporter{
		reg: prometheus.NewRegistry(),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dht_temperature_celsius",
			Help: "Last temperature reading (units: degrees Celsius)",
		}, []string{"device"}),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dht_relative_humidity_percent",
			Help: "Last relative humidity reading (units: %RH)",
		}, []string{"device"}),
		linkUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dht_link_up",
			Help: "1 when the last read of the device succeeded",
		}, []string{"device"}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dht_read_errors_total",
			Help: "Failed reads by error code",
		}, []string{"device", "code"}),
		maxBeatAge: maxBeatAge,
		names:      map[capKey]string{},
		lastErr:    map[string]int64{},
	}
	e.reg.MustRegister(e.temperature, e.humidity, e.linkUp, e.readErrors)
	e.reg.MustRegister(collectors.NewGoCollector(), collectors.NewBuildInfoCollector())
	return e
}

// Registry exposes the exporter's registry, e.g. for extra collectors.
func (e *Exporter) Registry() *prometheus.Registry { return e.reg }

// Run follows the bus until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context, conn *bus.Connection) {
	info := conn.Subscribe(topicInfo)
	defer conn.Unsubscribe(info)
	vals := conn.Subscribe(topicValue)
	defer conn.Unsubscribe(vals)
	states := conn.Subscribe(topicState)
	defer conn.Unsubscribe(states)
	beats := conn.Subscribe(topicHeartbeat)
	defer conn.Unsubscribe(beats)

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-info.Channel():
			e.observe(m)
		case m := <-vals.Channel():
			e.observe(m)
		case m := <-states.Channel():
			e.observe(m)
		case m := <-beats.Channel():
			e.observe(m)
		}
	}
}

func (e *Exporter) observe(m *bus.Message) {
	if m == nil {
		return
	}
	if hb, ok := m.Payload.(types.Heartbeat); ok {
		e.lastBeat.Store(hb.TS)
		return
	}
	if len(m.Topic) != 5 {
		return
	}
	kind, ok1 := m.Topic[2].(string)
	id, ok2 := m.Topic[3].(int)
	if !ok1 || !ok2 {
		return
	}
	k := capKey{kind: kind, id: id}

	switch p := m.Payload.(type) {
	case types.Info:
		if p.Device != "" {
			e.names[k] = p.Device
		}
	case nil:
		if m.Topic[4] == "info" {
			delete(e.names, k)
		}
	case types.TemperatureValue:
		e.temperature.WithLabelValues(e.device(k)).Set(float64(p.DeciC) / 10)
	case types.HumidityValue:
		e.humidity.WithLabelValues(e.device(k)).Set(float64(p.RHx100) / 100)
	case types.CapabilityState:
		dev := e.device(k)
		if p.Link == types.LinkUp {
			e.linkUp.WithLabelValues(dev).Set(1)
			return
		}
		e.linkUp.WithLabelValues(dev).Set(0)
		// Every capability of a device reports the same failure; count it once.
		if p.Link == types.LinkDegraded && p.Error != "" && e.lastErr[dev] != p.TS {
			e.lastErr[dev] = p.TS
			e.readErrors.WithLabelValues(dev, p.Error).Inc()
		}
	}
}

func (e *Exporter) device(k capKey) string {
	if n, ok := e.names[k]; ok {
		return n
	}
	return fmt.Sprintf("%s%d", k.kind, k.id)
}

// Handler serves /metrics and /healthz.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/healthz", e.healthz)
	return mux
}

func (e *Exporter) healthz(w http.ResponseWriter, _ *http.Request) {
	if e.maxBeatAge > 0 {
		last := e.lastBeat.Load()
		if last == 0 || time.Since(time.UnixMilli(last)) > e.maxBeatAge {
			http.Error(w, "stale heartbeat", http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok\n"))
}
