package main

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"dhtcode-go/services/config"
	"dhtcode-go/services/serialframe"
	"dhtcode-go/types"
)

// Settings is the effective daemon configuration after file, env and flags
// have been merged by viper.
type Settings struct {
	Backend    string            `mapstructure:"backend" yaml:"backend"`
	LogLevel   string            `mapstructure:"log_level" yaml:"log_level"`
	Listen     string            `mapstructure:"listen" yaml:"listen"`
	HeartbeatS int               `mapstructure:"heartbeat_s" yaml:"heartbeat_s"`
	SimFrames  map[string]string `mapstructure:"sim_frames" yaml:"sim_frames,omitempty"`
	Devices    []Device          `mapstructure:"devices" yaml:"devices"`
	Bridge     map[string]any    `mapstructure:"bridge" yaml:"bridge,omitempty"`
	Serial     Serial            `mapstructure:"serial" yaml:"serial"`
}

type Device struct {
	ID     string         `mapstructure:"id" yaml:"id"`
	Type   string         `mapstructure:"type" yaml:"type"`
	Params map[string]any `mapstructure:"params" yaml:"params,omitempty"`
}

// Serial configures the ingest command.
type Serial struct {
	Port   string `mapstructure:"port" yaml:"port"`
	Baud   int    `mapstructure:"baud" yaml:"baud"`
	Device string `mapstructure:"device" yaml:"device"`
	Strict bool   `mapstructure:"strict" yaml:"strict"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", "sim")
	v.SetDefault("log_level", "info")
	v.SetDefault("listen", ":9109")
	v.SetDefault("heartbeat_s", 5)
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.device", "serial")
}

func loadSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return s, errors.Wrap(err, "decode settings")
	}
	for i, d := range s.Devices {
		if d.ID == "" || d.Type == "" {
			return s, errors.Errorf("devices[%d]: id and type are required", i)
		}
	}
	return s, nil
}

// simFrames converts the string-keyed map viper produces.
func (s Settings) simFrames() (map[int]string, error) {
	if len(s.SimFrames) == 0 {
		return nil, nil
	}
	out := make(map[int]string, len(s.SimFrames))
	for k, line := range s.SimFrames {
		pin, err := strconv.Atoi(k)
		if err != nil {
			return nil, errors.Wrapf(err, "sim_frames: bad pin %q", k)
		}
		out[pin] = line
	}
	return out, nil
}

// document is what gets published on config/*.
func (s Settings) document() config.Document {
	doc := config.Document{
		Heartbeat: types.HeartbeatConfig{IntervalS: s.HeartbeatS},
		Bridge:    s.Bridge,
	}
	for _, d := range s.Devices {
		doc.HAL.Devices = append(doc.HAL.Devices, types.HALDevice{ID: d.ID, Type: d.Type, Params: d.Params})
	}
	return doc
}

func (s Settings) ingestConfig() serialframe.Config {
	return serialframe.Config{Device: s.Serial.Device, Strict: s.Serial.Strict}
}

func (s Settings) deviceIDs() []string {
	ids := make([]string, 0, len(s.Devices))
	for _, d := range s.Devices {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	return ids
}
