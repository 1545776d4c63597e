// Package cli provides the command-line interface for droid-agent.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to config.yaml (default: ./config.yaml if present)",
		EnvVars: []string{"DROID_AGENT_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"s"},
		Usage:   "ADB serial of the device to drive (default: first online device)",
	},
	&cli.IntFlag{
		Name:  "driver-port",
		Usage: "uiautomator2 server port on the device",
	},
	&cli.StringFlag{
		Name:  "output",
		Usage: "Directory for task reports and annotated frames",
	},
	&cli.StringFlag{
		Name:  "log-file",
		Usage: "Log file path",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Log to stderr at debug level",
		EnvVars: []string{"DROID_AGENT_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// Commands lists every subcommand.
var Commands = []*cli.Command{
	runCommand,
	elementsCommand,
	annotateCommand,
	promptCommand,
	devicesCommand,
	tasksCommand,
	reportCommand,
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "droid-agent",
		Usage:   "Drive an Android phone with a vision model",
		Version: Version,
		Description: `droid-agent captures the screen, labels every interactive element,
asks a vision model for the next action and performs it, round after round,
until the model declares the task finished.

Examples:
  droid-agent run "turn on wifi"
  droid-agent --device emulator-5554 run --max-rounds 10 "open settings"
  droid-agent elements
  droid-agent annotate --screenshot s.png --hierarchy h.xml --out labelled.png`,
		Flags:    GlobalFlags,
		Commands: Commands,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
