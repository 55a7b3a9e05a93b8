package config

import (
	"errors"
	"fmt"

	"github.com/mklimuk/magmux"
	"github.com/mklimuk/magmux/format"
	"github.com/mklimuk/magmux/magnetic"
)

// 7-bit address space
const maxAddress = 0x7F

// the TLV493D read register block
const minBufferSize = 10

// Validate checks configuration correctness. It does not mutate cfg.
func Validate(cfg *Config) error {
	if err := validateBus(cfg.Bus); err != nil {
		return err
	}
	if err := validateTopology(cfg.Topology); err != nil {
		return err
	}
	if _, err := magnetic.ParseAccessMode(cfg.Sensor.AccessMode); err != nil {
		return fmt.Errorf("sensor: %w", err)
	}
	if _, err := magmux.ParseRepresentation(cfg.Sensor.Representation); err != nil {
		return fmt.Errorf("sensor: %w", err)
	}
	if cfg.Validation.Attempts < 1 || cfg.Validation.Measurements < 1 {
		return errors.New("validation: attempts and measurements must be positive")
	}
	if err := validateOutput(cfg.Output); err != nil {
		return err
	}
	return validatePoll(cfg.Poll)
}

func validateBus(b BusConfig) error {
	switch b.Backend {
	case BackendPeriph, BackendGobot, BackendMCP2221, BackendSim:
	case BackendDevNode:
		if b.Device == "" {
			return errors.New("bus: devnode backend requires a device")
		}
	default:
		return fmt.Errorf("bus: unknown backend %q", b.Backend)
	}
	if b.BufferSize < minBufferSize {
		return fmt.Errorf("bus: buffer_size must be at least %d", minBufferSize)
	}
	if b.SpeedKHz < 0 {
		return errors.New("bus: speed_khz must not be negative")
	}
	if b.Adapter < 0 {
		return errors.New("bus: adapter index must not be negative")
	}
	return nil
}

func validateTopology(t TopologyConfig) error {
	if t.Multiplexers < 1 {
		return errors.New("topology: at least one multiplexer is required")
	}
	if t.SensorsPerMux < 1 || t.SensorsPerMux > magmux.MaxChannels {
		return fmt.Errorf("topology: sensors_per_multiplexer must be within 1..%d", magmux.MaxChannels)
	}
	if t.BaseAddress == 0 {
		return errors.New("topology: base_address must not be the general call address")
	}
	last := int(t.BaseAddress) + t.Multiplexers - 1
	if last > maxAddress {
		return fmt.Errorf("topology: multiplexer addresses %#x..%#x exceed the 7-bit range", t.BaseAddress, last)
	}
	if t.SensorAddress == 0 || t.SensorAddress > maxAddress {
		return fmt.Errorf("topology: invalid sensor_address %#x", t.SensorAddress)
	}
	if int(t.SensorAddress) >= int(t.BaseAddress) && int(t.SensorAddress) <= last {
		return fmt.Errorf("topology: sensor_address %#x collides with a multiplexer", t.SensorAddress)
	}
	return nil
}

func validateOutput(o OutputConfig) error {
	mode, err := format.ParseMode(o.Format)
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if o.Multiplier <= 0 {
		return errors.New("output: multiplier must be positive")
	}
	if len(o.Sinks) == 0 {
		return errors.New("output: at least one sink is required")
	}
	for i, s := range o.Sinks {
		switch s.Type {
		case SinkConsole:
		case SinkSerial:
			if s.Serial == nil || s.Serial.Address == "" {
				return fmt.Errorf("output: sink %d: serial address required", i)
			}
		case SinkMQTT:
			if s.MQTT != nil && s.MQTT.QoS > 2 {
				return fmt.Errorf("output: sink %d: invalid qos %d", i, s.MQTT.QoS)
			}
		case SinkModbus:
			if mode != format.Compressed {
				return fmt.Errorf("output: sink %d: modbus requires the compressed format", i)
			}
			if s.Modbus == nil || s.Modbus.Endpoint == "" {
				return fmt.Errorf("output: sink %d: modbus endpoint required", i)
			}
		default:
			return fmt.Errorf("output: sink %d: unknown type %q", i, s.Type)
		}
	}
	return nil
}

func validatePoll(p PollConfig) error {
	if p.Interval < 0 {
		return errors.New("poll: interval must not be negative")
	}
	if len(p.CancelKey) != 1 || len(p.RevalidateKey) != 1 {
		return errors.New("poll: keys must be single characters")
	}
	if p.CancelKey == p.RevalidateKey {
		return errors.New("poll: cancel and revalidate keys must differ")
	}
	return nil
}
