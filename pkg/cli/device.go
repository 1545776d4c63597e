package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/droid-agent/pkg/device"
	"github.com/devicelab-dev/droid-agent/pkg/report"
)

var devicesCommand = &cli.Command{
	Name:   "devices",
	Usage:  "List connected Android devices",
	Action: runDevices,
}

var tasksCommand = &cli.Command{
	Name:  "tasks",
	Usage: "List recorded tasks, newest first",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print tasks as JSON",
		},
	},
	Action: runTasks,
}

var reportCommand = &cli.Command{
	Name:      "report",
	Usage:     "Render the HTML report of a recorded task",
	ArgsUsage: "<task-id or task dir>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "out",
			Usage: "Output HTML path (default: <task dir>/report.html)",
		},
		&cli.BoolFlag{
			Name:  "embed",
			Usage: "Embed frames in the HTML file",
		},
	},
	Action: runReport,
}

func runDevices(c *cli.Context) error {
	devices, err := device.ListDevices(c.Context)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(c.App.Writer, "No devices found")
		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tSTATE\tMODEL")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Serial, d.State, d.Model)
	}
	return tw.Flush()
}

func runTasks(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	tasks, err := report.ListTasks(cfg.Output.Dir)
	if err != nil {
		return err
	}

	w := c.App.Writer
	if c.Bool("json") {
		return printJSON(w, tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintf(w, "No tasks in %s\n", cfg.Output.Dir)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tROUNDS\tSTARTED\tTASK")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			t.TaskID, t.State, t.Rounds, t.StartTime.Format("2006-01-02 15:04:05"), truncate(t.Task, 50))
	}
	return tw.Flush()
}

func runReport(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one task id or directory is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	dir := c.Args().First()
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		dir = filepath.Join(cfg.Output.Dir, dir)
	}

	path, err := report.GenerateHTML(dir, report.HTMLConfig{
		OutputPath:  c.String("out"),
		EmbedAssets: c.Bool("embed"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Report: %s\n", path)
	return nil
}
