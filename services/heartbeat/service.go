// Package heartbeat publishes a retained liveness beat on "heartbeat".
package heartbeat

import (
	"context"
	"time"

	"dhtcode-go/bus"
	"dhtcode-go/types"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	TopicHeartbeat       = bus.T("heartbeat")
)

const defaultInterval = time.Second

type Service struct {
	seq   uint64
	start time.Time
}

func (s *Service) beat(conn *bus.Connection, now time.Time) {
	s.seq++
	hb := types.Heartbeat{Seq: s.seq, UptimeS: int64(now.Sub(s.start) / time.Second), TS: now.UnixMilli()}
	conn.Publish(conn.NewMessage(TopicHeartbeat, hb, true))
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	s.start = time.Now()
	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-tick.C:
			s.beat(conn, t)
		case msg := <-cfgSub.Channel():
			if iv, ok := interval(msg.Payload); ok {
				tick.Reset(iv)
			}
		}
	}
}

// interval accepts types.HeartbeatConfig or a decoded JSON object.
func interval(p any) (time.Duration, bool) {
	var secs float64
	switch v := p.(type) {
	case types.HeartbeatConfig:
		secs = float64(v.IntervalS)
	case map[string]any:
		secs, _ = v["interval_s"].(float64)
	}
	if secs <= 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
