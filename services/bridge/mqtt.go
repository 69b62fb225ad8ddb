package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig publishes each record as JSON on <prefix>/<device>/<kind>.
type MQTTConfig struct {
	Broker    string `json:"broker"` // e.g. "tcp://localhost:1883"
	ClientID  string `json:"client_id,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	QoS       byte   `json:"qos,omitempty"`
	Retain    bool   `json:"retain,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

const defaultMQTTPrefix = "dht"

var errMQTTTimeout = errors.New("mqtt: timed out")

func init() {
	RegisterTransport("mqtt", func(c TransportConfig) (Transport, error) {
		if c.MQTT == nil || c.MQTT.Broker == "" {
			return nil, errors.New("mqtt transport requires a broker")
		}
		cfg := *c.MQTT
		if cfg.ClientID == "" {
			cfg.ClientID = "dhtcode-bridge"
		}
		if cfg.Prefix == "" {
			cfg.Prefix = defaultMQTTPrefix
		}
		if cfg.QoS > 2 {
			return nil, errors.New("mqtt qos must be 0, 1 or 2")
		}
		return &mqttTransport{cfg: cfg}, nil
	})
}

type mqttTransport struct{ cfg MQTTConfig }

func (t *mqttTransport) String() string { return "mqtt " + t.cfg.Broker }

func (t *mqttTransport) timeout() time.Duration {
	if t.cfg.TimeoutMS > 0 {
		return time.Duration(t.cfg.TimeoutMS) * time.Millisecond
	}
	return 5 * time.Second
}

func (t *mqttTransport) Open(ctx context.Context) (Link, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(t.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(t.timeout())

	c := mqtt.NewClient(opts)
	if err := wait(ctx, c.Connect(), t.timeout()); err != nil {
		return nil, err
	}
	return &mqttLink{c: c, cfg: t.cfg, timeout: t.timeout()}, nil
}

type mqttLink struct {
	c       mqtt.Client
	cfg     MQTTConfig
	timeout time.Duration
}

func (l *mqttLink) Send(ctx context.Context, r Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return wait(ctx, l.c.Publish(mqttTopic(l.cfg.Prefix, r), l.cfg.QoS, l.cfg.Retain, b), l.timeout)
}

func (l *mqttLink) Close() error {
	l.c.Disconnect(250)
	return nil
}

func mqttTopic(prefix string, r Record) string {
	return strings.Join([]string{prefix, r.Device, r.Kind}, "/")
}

// wait blocks on a paho token until it completes, ctx ends or d elapses.
func wait(ctx context.Context, tok mqtt.Token, d time.Duration) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return errMQTTTimeout
	}
}
