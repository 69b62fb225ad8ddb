package main

import (
	"context"
	"net/http"
	"time"

	"dhtcode-go/bus"
	"dhtcode-go/services/bridge"
	"dhtcode-go/services/config"
	"dhtcode-go/services/heartbeat"
	"dhtcode-go/services/metrics"
	"dhtcode-go/types"
)

// stack is the set of services every long-running command shares.
type stack struct {
	bus  *bus.Bus
	conn *bus.Connection
	exp  *metrics.Exporter
}

func startStack(ctx context.Context, s Settings) *stack {
	b := bus.NewBus(64)
	st := &stack{bus: b, conn: b.NewConnection("dhtd")}

	go bridge.Start(ctx, b.NewConnection("bridge"))

	hb := &heartbeat.Service{}
	_ = hb.Start(ctx, b.NewConnection("heartbeat"))

	beat := time.Duration(s.HeartbeatS) * time.Second
	st.exp = metrics.New(3 * beat)
	go st.exp.Run(ctx, b.NewConnection("metrics"))
	if s.Listen != "" {
		serveMetrics(ctx, s.Listen, st.exp.Handler())
	}

	go logStates(ctx, b.NewConnection("log"))

	config.Publish(st.conn, s.document())
	return st
}

func serveMetrics(ctx context.Context, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
}

// logStates reports service and capability state changes.
func logStates(ctx context.Context, conn *bus.Connection) {
	svc := conn.Subscribe(bus.T(bus.Single, "state"))
	defer conn.Unsubscribe(svc)
	caps := conn.Subscribe(bus.T("hal", "capability", bus.Single, bus.Single, "state"))
	defer conn.Unsubscribe(caps)

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-svc.Channel():
			st, ok := m.Payload.(types.HALState)
			if !ok {
				continue
			}
			entry := log.WithField("service", m.Topic[0]).WithField("status", st.Status)
			switch {
			case st.Error != "":
				entry.WithField("error", st.Error).Warn(st.Level)
			default:
				entry.Info(st.Level)
			}
		case m := <-caps.Channel():
			st, ok := m.Payload.(types.CapabilityState)
			if !ok {
				continue
			}
			entry := log.WithField("capability", m.Topic[2]).WithField("id", m.Topic[3])
			if st.Link == types.LinkDegraded {
				entry.WithField("error", st.Error).Warn("read failed")
			} else {
				entry.Debug(string(st.Link))
			}
		}
	}
}
