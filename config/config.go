// Package config loads the poller configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/magmux/output/modbus"
	"github.com/mklimuk/magmux/output/mqtt"
	"github.com/mklimuk/magmux/output/serial"
)

const (
	BackendPeriph  = "periph"
	BackendDevNode = "devnode"
	BackendGobot   = "gobot"
	BackendMCP2221 = "mcp2221"
	BackendSim     = "sim"
)

const (
	SinkConsole = "console"
	SinkSerial  = "serial"
	SinkMQTT    = "mqtt"
	SinkModbus  = "modbus"
)

type Config struct {
	Bus        BusConfig        `yaml:"bus"`
	Topology   TopologyConfig   `yaml:"topology"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Validation ValidationConfig `yaml:"validation"`
	Output     OutputConfig     `yaml:"output"`
	Poll       PollConfig       `yaml:"poll"`
}

type BusConfig struct {
	Backend string `yaml:"backend"`
	// Device is a bus index or device path; its meaning depends on the backend.
	Device     string `yaml:"device"`
	BufferSize int    `yaml:"buffer_size"`
	SpeedKHz   int    `yaml:"speed_khz"`
	// GobotBus selects the gobot bus number, -1 for the adaptor default.
	GobotBus int `yaml:"gobot_bus"`
	// Adapter is the index of the MCP2221 among connected ones.
	Adapter int `yaml:"adapter"`
}

type TopologyConfig struct {
	BaseAddress   uint8 `yaml:"base_address"`
	Multiplexers  int   `yaml:"multiplexers"`
	SensorsPerMux int   `yaml:"sensors_per_multiplexer"`
	SensorAddress uint8 `yaml:"sensor_address"`
}

type SensorConfig struct {
	AccessMode     string `yaml:"access_mode"`
	Temperature    bool   `yaml:"temperature"`
	Representation string `yaml:"representation"`
}

type ValidationConfig struct {
	Attempts     int `yaml:"attempts"`
	Measurements int `yaml:"measurements"`
}

type OutputConfig struct {
	Format     string       `yaml:"format"`
	Multiplier float64      `yaml:"multiplier"`
	SendAmount bool         `yaml:"send_amount"`
	Sinks      []SinkConfig `yaml:"sinks"`
}

type SinkConfig struct {
	Type   string         `yaml:"type"`
	Serial *serial.Config `yaml:"serial,omitempty"`
	MQTT   *mqtt.Config   `yaml:"mqtt,omitempty"`
	Modbus *modbus.Config `yaml:"modbus,omitempty"`
}

type PollConfig struct {
	Interval      time.Duration `yaml:"interval"`
	CancelKey     string        `yaml:"cancel_key"`
	RevalidateKey string        `yaml:"revalidate_key"`
}

// Default returns a single multiplexer, single sensor setup printing to the console.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Backend:    BackendPeriph,
			BufferSize: 100,
			GobotBus:   -1,
		},
		Topology: TopologyConfig{
			BaseAddress:   0x70,
			Multiplexers:  1,
			SensorsPerMux: 1,
			SensorAddress: 0x5E,
		},
		Sensor: SensorConfig{
			AccessMode:     "fast",
			Temperature:    true,
			Representation: "cartesian",
		},
		Validation: ValidationConfig{
			Attempts:     10,
			Measurements: 5,
		},
		Output: OutputConfig{
			Format:     "plain",
			Multiplier: 100,
			SendAmount: true,
			Sinks:      []SinkConfig{{Type: SinkConsole}},
		},
		Poll: PollConfig{
			CancelKey:     "q",
			RevalidateKey: "r",
		},
	}
}

// Load reads path on top of the defaults. It does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping values the document does not set.
func Parse(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}

// Sensors returns the total number of sensors.
func (c *Config) Sensors() int {
	return c.Topology.Multiplexers * c.Topology.SensorsPerMux
}
