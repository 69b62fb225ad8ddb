// Package bridge forwards HAL readings off the device over a pluggable
// transport (MQTT, Redis or a serial line).
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"dhtcode-go/bus"
	"dhtcode-go/types"
	"dhtcode-go/x/timex"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start runs the bridge service. It blocks until ctx is cancelled.
// It listens for config on {"config","bridge"} and (re)configures the link.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.T("bridge", "state"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the configuration expected on "config/bridge".
type Config struct {
	Transport TransportConfig `json:"transport"`
}

type TransportConfig struct {
	// "mqtt", "redis", "serial" or a name registered via RegisterTransport.
	Type   string        `json:"type"`
	MQTT   *MQTTConfig   `json:"mqtt,omitempty"`
	Redis  *RedisConfig  `json:"redis,omitempty"`
	Serial *SerialConfig `json:"serial,omitempty"`
}

// Record is one reading as it leaves the device.
type Record struct {
	Device  string `json:"device"`
	Kind    string `json:"kind"`
	CapID   int    `json:"cap_id"`
	Payload any    `json:"payload"`
	TS      int64  `json:"ts_ms"`
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
}

var (
	topicConfigBridge = bus.T("config", "bridge")
	topicCapInfo      = bus.T("hal", "capability", bus.Single, bus.Single, "info")
	topicCapValue     = bus.T("hal", "capability", bus.Single, bus.Single, "value")
)

// run waits for config and supervises a single link.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigBridge)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			if msg.Payload == nil {
				// Retained config cleared.
				s.stopCurrent()
				s.publishState("idle", "awaiting_config", nil)
				continue
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.stopCurrent()

	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.curRun = cancel
	s.mu.Unlock()

	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	// Subscribed for the life of the config so values queue across reconnects.
	infoSub := s.conn.Subscribe(topicCapInfo)
	defer s.conn.Unsubscribe(infoSub)
	valSub := s.conn.Subscribe(topicCapValue)
	defer s.conn.Unsubscribe(valSub)
	names := map[capKey]string{}

	backoff, resetBackoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		link, err := tr.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%s: %w (retry in %s)", tr, err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		resetBackoff()
		s.publishState("up", "link_established", nil)
		err = s.forward(ctx, link, infoSub, valSub, names)
		_ = link.Close()
		if err == nil {
			// Cancelled: a new config or shutdown owns what happens next.
			return
		}
		delay := backoff()
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%s: %w (retry in %s)", tr, err, delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

// forward sends every capability value over link until ctx ends or a send
// fails. Device names come from the retained capability info.
func (s *Service) forward(ctx context.Context, link Link, infoSub, valSub *bus.Subscription, names map[capKey]string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-infoSub.Channel():
			if !ok {
				return errSubClosed
			}
			noteInfo(names, msg)
		case msg, ok := <-valSub.Channel():
			if !ok {
				return errSubClosed
			}
			k, ok := keyOf(msg.Topic)
			if !ok {
				continue
			}
			drainInfo(names, infoSub)
			dev := names[k]
			if dev == "" {
				dev = fmt.Sprintf("%s%d", k.kind, k.id)
			}
			rec := Record{Device: dev, Kind: k.kind, CapID: k.id, Payload: msg.Payload, TS: timex.NowMs()}
			if err := link.Send(ctx, rec); err != nil {
				return err
			}
		}
	}
}

func noteInfo(names map[capKey]string, msg *bus.Message) {
	k, ok := keyOf(msg.Topic)
	if !ok {
		return
	}
	if info, ok := msg.Payload.(types.Info); ok && info.Device != "" {
		names[k] = info.Device
	} else {
		delete(names, k)
	}
}

// drainInfo applies queued info so a value never overtakes the info that
// names it.
func drainInfo(names map[capKey]string, sub *bus.Subscription) {
	for {
		select {
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			noteInfo(names, msg)
		default:
			return
		}
	}
}

var errSubClosed = errors.New("subscription closed")

type capKey struct {
	kind string
	id   int
}

// keyOf extracts (kind, id) from hal/capability/<kind>/<id>/<suffix>.
func keyOf(t bus.Topic) (capKey, bool) {
	if len(t) != 5 {
		return capKey{}, false
	}
	kind, ok1 := t[2].(string)
	id, ok2 := t[3].(int)
	return capKey{kind: kind, id: id}, ok1 && ok2
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport opens links to one destination.
type Transport interface {
	Open(ctx context.Context) (Link, error)
	String() string
}

// Link is an open connection. Send is only called from one goroutine.
type Link interface {
	Send(ctx context.Context, r Record) error
	Close() error
}

// TransportFactory builds a Transport from its config.
type TransportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]TransportFactory{}
)

// RegisterTransport adds or replaces a transport type.
func RegisterTransport(name string, f TransportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
	return f(cfg)
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case Config:
		return v, nil
	case []byte:
		return cfg, json.Unmarshal(v, &cfg)
	case string:
		return cfg, json.Unmarshal([]byte(v), &cfg)
	case map[string]any:
		// Already a decoded object (e.g. from viper); re-marshal.
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		return cfg, json.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
}

func (s *Service) publishState(level, status string, err error) {
	payload := types.HALState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		payload.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, payload, true))
}

// backoffSeq returns a doubling delay sequence capped at max, and a func
// that restarts it from min.
func backoffSeq(min, max time.Duration) (next func() time.Duration, reset func()) {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	next = func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
	reset = func() { cur = min }
	return next, reset
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
