package main

import (
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/magmux/adapter"
	"github.com/mklimuk/magmux/cmd/magmux/console"
	"github.com/mklimuk/magmux/snsctx"
)

var adapterFlag = &cli.IntFlag{Name: "adapter", Aliases: []string{"a"}, Usage: "adapter index as listed by usb detect"}

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 bridge maintenance",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Flags: []cli.Flag{adapterFlag},
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(c.Int("adapter"))
		if err := a.Init(); err != nil {
			return console.Exit(1, "adapter initialization error: %s", console.Red(err))
		}
		defer func() { _ = a.Close() }()
		ctx := snsctx.SetVerbose(c.Context, c.Bool("trace"))
		status, err := a.Status(ctx)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		if err := yaml.NewEncoder(os.Stdout).Encode(status); err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		return nil
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel a stuck transfer and free the bus",
	Flags: []cli.Flag{adapterFlag},
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(c.Int("adapter"))
		if err := a.Init(); err != nil {
			return console.Exit(1, "adapter initialization error: %s", console.Red(err))
		}
		defer func() { _ = a.Close() }()
		ctx := snsctx.SetVerbose(c.Context, c.Bool("trace"))
		if err := a.Release(ctx); err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		console.Infof("bus released")
		return nil
	},
}
