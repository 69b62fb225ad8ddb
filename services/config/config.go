// Package config resolves the device configuration document and publishes
// each section retained on config/<section>.
package config

import (
	"context"
	"encoding/json"
	"errors"

	"dhtcode-go/bus"
	"dhtcode-go/types"
)

const (
	serviceName  = "config"
	configPrefix = "config"
)

type ctxKey struct{}

// CtxDeviceKey is the context key carrying the device ID.
var CtxDeviceKey = ctxKey{}

// Document is the whole configuration for one device.
type Document struct {
	HAL       types.HALConfig       `json:"hal" yaml:"hal"`
	Heartbeat types.HeartbeatConfig `json:"heartbeat" yaml:"heartbeat"`
	// Bridge is passed through untouched; the bridge service decodes it.
	Bridge map[string]any `json:"bridge,omitempty" yaml:"bridge,omitempty"`
}

var (
	ErrNoDevice = errors.New("missing device ID in context")
	ErrNoConfig = errors.New("no embedded config for device")
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// Parse decodes a JSON document.
func Parse(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// LoadEmbedded returns the compiled-in document for device.
func LoadEmbedded(device string) (Document, error) {
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return Document{}, errors.Join(ErrNoConfig, errors.New(device))
	}
	return Parse(raw)
}

// Publish retains every section of doc. An absent bridge section clears any
// previous one.
func Publish(conn *bus.Connection, doc Document) {
	pub := func(key string, v any) {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, key), v, true))
	}
	pub("hal", doc.HAL)
	pub("heartbeat", doc.Heartbeat)
	if doc.Bridge != nil {
		pub("bridge", doc.Bridge)
	} else {
		pub("bridge", nil)
	}
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return ErrNoDevice
	}
	doc, err := LoadEmbedded(device)
	if err != nil {
		return err
	}
	Publish(conn, doc)
	return nil
}

// Start publishes the embedded config for the device in ctx. Failures are
// retained on config/error.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			conn.Publish(conn.NewMessage(bus.T(configPrefix, "error"), err.Error(), true))
		}
	}()
}
