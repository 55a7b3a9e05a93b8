package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
bus:
  backend: devnode
  device: "1"
topology:
  base_address: 0x70
  multiplexers: 2
  sensors_per_multiplexer: 4
sensor:
  access_mode: lowpower
  representation: spherical
output:
  format: compressed
  send_amount: false
  sinks:
    - type: serial
      serial:
        address: /dev/ttyUSB0
        baud_rate: 230400
    - type: modbus
      modbus:
        endpoint: 127.0.0.1:502
        unit_id: 3
        address: 100
        timeout: 500ms
    - type: mqtt
      mqtt:
        topic: lab/field
poll:
  interval: 20ms
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "magmux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, BackendDevNode, cfg.Bus.Backend)
	assert.Equal(t, "1", cfg.Bus.Device)
	assert.Equal(t, 100, cfg.Bus.BufferSize, "default kept")
	assert.Equal(t, uint8(0x70), cfg.Topology.BaseAddress)
	assert.Equal(t, uint8(0x5E), cfg.Topology.SensorAddress)
	assert.Equal(t, 8, cfg.Sensors())
	assert.Equal(t, "lowpower", cfg.Sensor.AccessMode)
	assert.True(t, cfg.Sensor.Temperature)
	assert.False(t, cfg.Output.SendAmount)
	assert.Equal(t, 100.0, cfg.Output.Multiplier)
	require.Len(t, cfg.Output.Sinks, 3)
	assert.Equal(t, 230400, cfg.Output.Sinks[0].Serial.BaudRate)
	assert.Equal(t, uint8(3), cfg.Output.Sinks[1].Modbus.UnitID)
	assert.Equal(t, 500*time.Millisecond, cfg.Output.Sinks[1].Modbus.Timeout)
	assert.Equal(t, "lab/field", cfg.Output.Sinks[2].MQTT.Topic)
	assert.Equal(t, 20*time.Millisecond, cfg.Poll.Interval)
	assert.Equal(t, "q", cfg.Poll.CancelKey)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("topology: [1, 2"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.Bus.Backend = "spi" }},
		{"devnode without device", func(c *Config) { c.Bus.Backend = BackendDevNode }},
		{"small buffer", func(c *Config) { c.Bus.BufferSize = 4 }},
		{"no multiplexers", func(c *Config) { c.Topology.Multiplexers = 0 }},
		{"too many sensors", func(c *Config) { c.Topology.SensorsPerMux = 9 }},
		{"no sensors", func(c *Config) { c.Topology.SensorsPerMux = 0 }},
		{"address overflow", func(c *Config) { c.Topology.BaseAddress = 0x7E; c.Topology.Multiplexers = 3 }},
		{"sensor on mux address", func(c *Config) { c.Topology.SensorAddress = 0x70 }},
		{"general call base", func(c *Config) { c.Topology.BaseAddress = 0 }},
		{"unknown access mode", func(c *Config) { c.Sensor.AccessMode = "turbo" }},
		{"unknown representation", func(c *Config) { c.Sensor.Representation = "polar" }},
		{"zero attempts", func(c *Config) { c.Validation.Attempts = 0 }},
		{"unknown format", func(c *Config) { c.Output.Format = "json" }},
		{"zero multiplier", func(c *Config) { c.Output.Multiplier = 0 }},
		{"no sinks", func(c *Config) { c.Output.Sinks = nil }},
		{"unknown sink", func(c *Config) { c.Output.Sinks = []SinkConfig{{Type: "kafka"}} }},
		{"serial without address", func(c *Config) { c.Output.Sinks = []SinkConfig{{Type: SinkSerial}} }},
		{"modbus with plain format", func(c *Config) {
			c.Output.Sinks = []SinkConfig{{Type: SinkModbus}}
		}},
		{"same keys", func(c *Config) { c.Poll.RevalidateKey = "q" }},
		{"long key", func(c *Config) { c.Poll.CancelKey = "quit" }},
		{"negative interval", func(c *Config) { c.Poll.Interval = -time.Second }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	cfg := Default()
	cfg.Output.Sinks = append(cfg.Output.Sinks, SinkConfig{Type: SinkMQTT})
	before := *cfg
	require.NoError(t, Validate(cfg))
	assert.Equal(t, before, *cfg)
}
