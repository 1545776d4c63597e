package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/devicelab-dev/droid-agent/pkg/action"
	"github.com/devicelab-dev/droid-agent/pkg/agent"
	"github.com/devicelab-dev/droid-agent/pkg/capture"
	"github.com/devicelab-dev/droid-agent/pkg/config"
	"github.com/devicelab-dev/droid-agent/pkg/core"
	"github.com/devicelab-dev/droid-agent/pkg/decision"
	"github.com/devicelab-dev/droid-agent/pkg/device"
	uia2driver "github.com/devicelab-dev/droid-agent/pkg/driver/uiautomator2"
	"github.com/devicelab-dev/droid-agent/pkg/llm"
	"github.com/devicelab-dev/droid-agent/pkg/logger"
	"github.com/devicelab-dev/droid-agent/pkg/report"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Perform a task on the device",
	ArgsUsage: "<task>",
	Description: `Run the capture, label, decide, act loop until the model answers FINISH,
the round limit is reached or the task is interrupted (Ctrl-C).

Each task writes <output>/<task-id>/task.json, the annotated frame of every
round and a report.html.

Examples:
  droid-agent run "open the clock app and start a 5 minute timer"
  droid-agent run --max-rounds 10 --provider gemini --model gemini-2.0-flash "turn on dark mode"`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "max-rounds",
			Usage: "Maximum number of rounds before giving up",
		},
		&cli.IntFlag{
			Name:  "interval",
			Usage: "Seconds to wait between rounds",
		},
		&cli.StringFlag{
			Name:  "provider",
			Usage: "Vision model provider (openai, gemini)",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "Vision model name",
		},
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "Model API base URL",
		},
		&cli.StringFlag{
			Name:  "parser",
			Usage: "Action grammar (legacy, strict)",
		},
		&cli.BoolFlag{
			Name:  "dark",
			Usage: "Draw labels for a dark screen",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the task result as JSON",
		},
		&cli.BoolFlag{
			Name:  "no-html",
			Usage: "Skip the HTML report",
		},
	},
	Action: runTask,
}

func runTask(c *cli.Context) error {
	task := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if task == "" {
		return fmt.Errorf("a task description is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg, c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer closeLog()

	w := c.App.Writer
	log := logger.Named("cli")
	ctx := c.Context

	printBanner(w, task)

	// Credentials are checked before any device work.
	model, err := llm.New(ctx, cfg.Model, cfg.APIKey(), logger.L())
	if err != nil {
		result := &core.TaskResult{Task: task, StartTime: time.Now(), Rounds: []core.RoundResult{}}
		result.Finish(core.StateFailed, "vision model is not configured", err)
		return finishTask(c, w, result, "")
	}

	sess, err := connectDevice(ctx, cfg, logger.L())
	if err != nil {
		return err
	}
	defer sess.Close()

	stream := uia2driver.NewScreenStream(sess.client, cfg.Capture.FrameInterval, logger.L())
	if err := stream.StartSession(ctx); err != nil {
		return fmt.Errorf("start screen stream: %w", err)
	}
	frames := capture.New(stream, captureConfig(cfg.Capture), logger.Named("capture"))

	var reportDir string
	a, err := agent.New(agentConfig(cfg), agent.Deps{
		Frames:   frames,
		Tree:     uia2driver.NewTree(sess.client),
		Gestures: uia2driver.NewGestures(sess.client, logger.L()),
		Decider: decision.New(model, decision.Config{
			Retries:     cfg.Model.Retries,
			MinInterval: cfg.Model.MinInterval,
		}, logger.L()),
		Parser:    action.NewParser(cfg.Agent.Parser),
		Recorders: recorderFactory(cfg, sess.info, &reportDir),
		Logger:    logger.L(),
	})
	if err != nil {
		_ = frames.Close()
		return err
	}
	defer a.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fmt.Fprintf(w, "\n%sRounds%s\n", color(colorBold), color(colorReset))
	done := a.Start(ctx, task, func(ar core.ActionResult) { printAction(w, ar) })

	var result *core.TaskResult
	for result == nil {
		select {
		case sig := <-sigCh:
			log.Info("received signal, cancelling task", zap.Stringer("signal", sig))
			fmt.Fprintf(os.Stderr, "\nReceived %v, cancelling...\n", sig)
			a.Cancel()
		case result = <-done:
		}
	}
	return finishTask(c, w, result, reportDir)
}

// finishTask prints the result, renders the HTML report and maps the final
// state to the command's error.
func finishTask(c *cli.Context, w io.Writer, result *core.TaskResult, reportDir string) error {
	printResult(w, result)
	if c.Bool("json") {
		if err := printJSON(w, result); err != nil {
			return err
		}
	}

	if reportDir != "" && !c.Bool("no-html") {
		path, err := report.GenerateHTML(reportDir, report.HTMLConfig{})
		if err != nil {
			fmt.Fprintf(w, "  %s⚠%s Warning: failed to generate HTML report: %v\n", color(colorYellow), color(colorReset), err)
		} else {
			fmt.Fprintf(w, "  Report: %s\n", path)
		}
	}
	return taskError(result)
}

// taskError is nil for successful states.
func taskError(r *core.TaskResult) error {
	if r.Success {
		return nil
	}
	if r.Message != "" {
		return fmt.Errorf("task %s: %s", r.State, r.Message)
	}
	return fmt.Errorf("task %s", r.State)
}

// recorderFactory writes each task under cfg.Output.Dir and remembers the
// task directory in dir. Nil when artifacts are disabled.
func recorderFactory(cfg *config.Config, info device.Info, dir *string) agent.RecorderFactory {
	if !cfg.Output.KeepArtifacts {
		return nil
	}
	return func(taskID, task string) (agent.Recorder, error) {
		tw, err := report.NewTaskWriter(cfg.Output.Dir, taskID, task)
		if err != nil {
			return nil, err
		}
		if err := tw.SetDevice(report.Device{Serial: info.Serial, Model: info.Model, OSVersion: info.SDK}); err != nil {
			return nil, err
		}
		if err := tw.SetModel(report.Model{Provider: cfg.Model.Provider, Name: cfg.Model.Model}); err != nil {
			return nil, err
		}
		*dir = tw.Dir()
		return tw, nil
	}
}
