package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/magmux/cmd/magmux/console"
	"github.com/mklimuk/magmux/keyboard"
	"github.com/mklimuk/magmux/poll"
	"github.com/mklimuk/magmux/snsctx"
)

var runCmd = cli.Command{
	Name:  "run",
	Usage: "validate all sensors and stream readings until cancelled",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "plain or compressed"},
		&cli.DurationFlag{Name: "interval", Aliases: []string{"i"}, Usage: "pause between sweeps"},
	}, setupFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = snsctx.SetVerbose(ctx, c.Bool("trace"))

		tr, err := openTransport(ctx, cfg)
		if err != nil {
			return console.Exit(1, "could not open bus %s: %s", deviceLabel(cfg), console.Red(err))
		}
		defer func() { _ = tr.Close() }()

		sinks, err := openSinks(cfg)
		if err != nil {
			return console.Exit(1, "could not open output: %s", console.Red(err))
		}
		defer func() {
			if err := sinks.Close(); err != nil {
				slog.Warn("could not close output", "error", err)
			}
		}()

		keys := keyboard.Stdin()
		defer func() { _ = keys.Close() }()

		loop, err := newLoop(cfg, tr, sinks,
			poll.WithInput(keys),
			poll.WithSweepHook(func(r poll.SweepReport) {
				if r.Unavailable > 0 {
					slog.Debug("sweep finished with unavailable sensors", "sweep", r.Sweep, "unavailable", r.Unavailable, "duration", r.Duration)
				}
			}),
		)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer func() {
			if err := loop.Shutdown(context.Background()); err != nil {
				slog.Warn("could not disable multiplexers", "error", err)
			}
		}()

		results, err := loop.Setup(ctx)
		if err != nil {
			slog.Info("interrupted during setup", "error", err)
			return nil
		}
		failed := 0
		for _, res := range results {
			if !res.Accepted {
				failed++
			}
		}
		slog.Info("sensors validated", "bus", deviceLabel(cfg), "sensors", len(results), "failed", failed,
			"cancel", cfg.Poll.CancelKey, "revalidate", cfg.Poll.RevalidateKey)

		if err := loop.Run(ctx); err != nil {
			return console.Exit(1, "poll loop failed: %s", console.Red(err))
		}
		return nil
	},
}
