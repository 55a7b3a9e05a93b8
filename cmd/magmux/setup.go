package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/magmux"
	"github.com/mklimuk/magmux/adapter"
	"github.com/mklimuk/magmux/cmd/magmux/console"
	"github.com/mklimuk/magmux/config"
	"github.com/mklimuk/magmux/format"
	"github.com/mklimuk/magmux/i2c"
	"github.com/mklimuk/magmux/magnetic"
	"github.com/mklimuk/magmux/mux"
	"github.com/mklimuk/magmux/output"
	outconsole "github.com/mklimuk/magmux/output/console"
	"github.com/mklimuk/magmux/output/modbus"
	"github.com/mklimuk/magmux/output/mqtt"
	"github.com/mklimuk/magmux/output/serial"
	"github.com/mklimuk/magmux/poll"
	"github.com/mklimuk/magmux/session"
	"github.com/mklimuk/magmux/sim"
)

// field rotation of simulated sensors per read, in degrees
const simRotation = 2

var setupFlags = []cli.Flag{
	&cli.StringFlag{Name: "backend", Aliases: []string{"b"}, Usage: "bus backend (periph, devnode, gobot, mcp2221, sim)"},
	&cli.StringFlag{Name: "device", Aliases: []string{"d"}, Usage: "bus index or device path"},
	&cli.IntFlag{Name: "muxes", Aliases: []string{"m"}, Usage: "number of multiplexers"},
	&cli.IntFlag{Name: "sensors", Aliases: []string{"s"}, Usage: "sensors per multiplexer"},
	&cli.StringFlag{Name: "representation", Aliases: []string{"r"}, Usage: "cartesian or spherical"},
}

// loadConfig layers the config file and command line flags over the defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, console.Exit(1, "%s", console.Red(err))
		}
	}
	if c.IsSet("backend") {
		cfg.Bus.Backend = c.String("backend")
	}
	if c.IsSet("device") {
		cfg.Bus.Device = c.String("device")
	}
	if c.IsSet("muxes") {
		cfg.Topology.Multiplexers = c.Int("muxes")
	}
	if c.IsSet("sensors") {
		cfg.Topology.SensorsPerMux = c.Int("sensors")
	}
	if c.IsSet("representation") {
		cfg.Sensor.Representation = c.String("representation")
	}
	if c.IsSet("format") {
		cfg.Output.Format = c.String("format")
	}
	if c.IsSet("interval") {
		cfg.Poll.Interval = c.Duration("interval")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, console.Exit(1, "invalid configuration: %s", console.Red(err))
	}
	return cfg, nil
}

// opener returns how the configured backend reaches the bus.
func opener(cfg *config.Config) (i2c.Opener, error) {
	switch cfg.Bus.Backend {
	case config.BackendPeriph:
		return func(ctx context.Context) (magmux.Conn, error) {
			bus, err := i2c.NewGenericBus(cfg.Bus.Device)
			if err != nil {
				return nil, err
			}
			if cfg.Bus.SpeedKHz > 0 {
				if err := bus.SetSpeed(cfg.Bus.SpeedKHz); err != nil {
					slog.Warn("could not set bus speed", "kHz", cfg.Bus.SpeedKHz, "error", err)
				}
			}
			return i2c.NewBusConn(bus), nil
		}, nil
	case config.BackendDevNode:
		return func(ctx context.Context) (magmux.Conn, error) {
			return i2c.OpenDevNode(cfg.Bus.Device)
		}, nil
	case config.BackendGobot:
		return func(ctx context.Context) (magmux.Conn, error) {
			npi := nanopi.NewNeoAdaptor()
			if err := npi.Connect(); err != nil {
				return nil, fmt.Errorf("adaptor connect error: %w", err)
			}
			return i2c.NewGobotConn(npi, cfg.Bus.GobotBus), nil
		}, nil
	case config.BackendMCP2221:
		return func(ctx context.Context) (magmux.Conn, error) {
			a := adapter.NewMCP2221(cfg.Bus.Adapter)
			if err := a.Init(); err != nil {
				return nil, fmt.Errorf("adapter initialization error: %w", err)
			}
			return i2c.NewBusConn(a), nil
		}, nil
	case config.BackendSim:
		return func(ctx context.Context) (magmux.Conn, error) {
			return newSimBus(cfg), nil
		}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Bus.Backend)
}

func newSimBus(cfg *config.Config) *sim.Bus {
	bus := sim.New(sim.Topology{
		BaseAddress:   cfg.Topology.BaseAddress,
		Muxes:         cfg.Topology.Multiplexers,
		PerMux:        cfg.Topology.SensorsPerMux,
		SensorAddress: cfg.Topology.SensorAddress,
	})
	for _, c := range magmux.NewTable(cfg.Topology.Multiplexers, cfg.Topology.SensorsPerMux).Coordinates() {
		bus.Sensor(c).SetRotation(simRotation)
	}
	return bus
}

func openTransport(ctx context.Context, cfg *config.Config) (*i2c.Transport, error) {
	open, err := opener(cfg)
	if err != nil {
		return nil, err
	}
	tr := i2c.NewTransport(open, i2c.WithBufferSize(cfg.Bus.BufferSize))
	if err := tr.Open(ctx); err != nil {
		return nil, err
	}
	return tr, nil
}

func openSinks(cfg *config.Config) (*output.Multi, error) {
	sinks := output.NewMulti()
	for _, s := range cfg.Output.Sinks {
		switch s.Type {
		case config.SinkConsole:
			sinks.Add(outconsole.New())
		case config.SinkSerial:
			port, err := serial.Open(*s.Serial)
			if err != nil {
				_ = sinks.Close()
				return nil, err
			}
			sinks.Add(port)
		case config.SinkMQTT:
			var mc mqtt.Config
			if s.MQTT != nil {
				mc = *s.MQTT
			}
			pub, err := mqtt.Connect(mc)
			if err != nil {
				_ = sinks.Close()
				return nil, err
			}
			sinks.Add(pub)
		case config.SinkModbus:
			w, err := modbus.Dial(*s.Modbus, format.Signature)
			if err != nil {
				_ = sinks.Close()
				return nil, err
			}
			sinks.Add(w)
		}
	}
	return sinks, nil
}

// newLoop builds one session per sensor, all sharing the transport.
func newLoop(cfg *config.Config, tr *i2c.Transport, sink output.Sink, opts ...poll.LoopOpt) (*poll.Loop, error) {
	repr, err := magmux.ParseRepresentation(cfg.Sensor.Representation)
	if err != nil {
		return nil, err
	}
	mode, err := magnetic.ParseAccessMode(cfg.Sensor.AccessMode)
	if err != nil {
		return nil, err
	}
	outMode, err := format.ParseMode(cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	topo := cfg.Topology
	table := magmux.NewTable(topo.Multiplexers, topo.SensorsPerMux)
	var sensors []session.Target
	for _, c := range table.Coordinates() {
		driver := magnetic.NewTLV493D(tr,
			magnetic.WithAddress(topo.SensorAddress),
			magnetic.WithAccessMode(mode),
			magnetic.WithTemperature(cfg.Sensor.Temperature),
		)
		sensors = append(sensors, session.New(c, driver, repr))
	}
	sel := mux.NewSelector(tr, topo.BaseAddress, topo.Multiplexers, topo.SensorsPerMux)
	if sel.Static() {
		slog.Debug("single sensor topology, channel selection happens once")
	}
	formatter := format.New(outMode, repr,
		format.WithMultiplier(cfg.Output.Multiplier),
		format.WithAmount(cfg.Output.SendAmount),
	)
	keys := []byte(cfg.Poll.CancelKey + cfg.Poll.RevalidateKey)
	opts = append([]poll.LoopOpt{
		poll.WithKeys(keys[0], keys[1]),
		poll.WithInterval(cfg.Poll.Interval),
		poll.WithValidation(
			session.WithAttempts(cfg.Validation.Attempts),
			session.WithMeasurements(cfg.Validation.Measurements),
		),
	}, opts...)
	return poll.New(sel, table, sensors, formatter, sink, opts...)
}

func deviceLabel(cfg *config.Config) string {
	if cfg.Bus.Backend == config.BackendDevNode {
		return i2c.DevicePath(cfg.Bus.Device)
	}
	if cfg.Bus.Backend == config.BackendMCP2221 {
		return "mcp2221#" + strconv.Itoa(cfg.Bus.Adapter)
	}
	if cfg.Bus.Device == "" {
		return cfg.Bus.Backend
	}
	return cfg.Bus.Backend + ":" + cfg.Bus.Device
}
