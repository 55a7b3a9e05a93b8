package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/charmbracelet/x/term"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/magmux"
	"github.com/mklimuk/magmux/cmd/magmux/console"
	"github.com/mklimuk/magmux/session"
	"github.com/mklimuk/magmux/snsctx"
)

var validateCmd = cli.Command{
	Name:  "validate",
	Usage: "initialize and validate every sensor once, then print a report",
	Flags: setupFlags,
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
		defer stop()
		ctx = snsctx.SetVerbose(ctx, c.Bool("trace"))

		tr, err := openTransport(ctx, cfg)
		if err != nil {
			return console.Exit(1, "could not open bus %s: %s", deviceLabel(cfg), console.Red(err))
		}
		defer func() { _ = tr.Close() }()

		loop, err := newLoop(cfg, tr, nopSink{})
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer func() { _ = loop.Shutdown(context.Background()) }()

		console.PInfof(console.PictoPlug, "validating %d sensors on %s", cfg.Sensors(), console.White(deviceLabel(cfg)))
		results, err := loop.Setup(ctx)
		for {
			if err != nil {
				return console.Exit(1, "validation interrupted: %s", console.Red(err))
			}
			failed := printResults(results)
			if failed == 0 {
				console.PInfof(console.PictoFinish, "all sensors accepted")
				return nil
			}
			if !term.IsTerminal(os.Stdin.Fd()) {
				return console.Exit(2, "%d sensors failed to initialize", failed)
			}
			answer, perr := console.YesOrNo(fmt.Sprintf("%d sensors failed, retry?", failed))
			if perr != nil || answer == console.No {
				return console.Exit(2, "%d sensors failed to initialize", failed)
			}
			var retried []session.Result
			retried, err = loop.Revalidate(ctx, failedCoordinates(results)...)
			results = mergeResults(results, retried)
		}
	},
}

func printResults(results []session.Result) int {
	failed := 0
	for _, res := range results {
		if !res.Accepted {
			failed++
			console.PInfof(console.PictoStop, "%s %s attempts=%d reinitialized=%d",
				console.Bold(res.Coordinate), console.Red("failed"), res.Attempts, res.Reinitialized)
			continue
		}
		r := res.Reading.Components
		console.PInfof(console.PictoCheck, "%s %s attempts=%d reinitialized=%d reading=[%s;%s;%s]",
			console.Bold(res.Coordinate), console.Green("ok"), res.Attempts, res.Reinitialized,
			console.Cyan(fmt.Sprintf("%.2f", r[0])), console.Cyan(fmt.Sprintf("%.2f", r[1])), console.Cyan(fmt.Sprintf("%.2f", r[2])))
	}
	return failed
}

func failedCoordinates(results []session.Result) []magmux.Coordinate {
	var failed []magmux.Coordinate
	for _, res := range results {
		if !res.Accepted {
			failed = append(failed, res.Coordinate)
		}
	}
	return failed
}

// mergeResults replaces the entries of results that were validated again.
func mergeResults(results, retried []session.Result) []session.Result {
	byCoord := make(map[magmux.Coordinate]session.Result, len(retried))
	for _, res := range retried {
		byCoord[res.Coordinate] = res
	}
	merged := make([]session.Result, len(results))
	for i, res := range results {
		if r, ok := byCoord[res.Coordinate]; ok {
			res = r
		}
		merged[i] = res
	}
	return merged
}

type nopSink struct{}

func (nopSink) Write(p []byte) (int, error) { return io.Discard.Write(p) }
func (nopSink) Close() error                { return nil }
