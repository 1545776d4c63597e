package cli

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // screenshots may be JPEG
	"image/png"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/droid-agent/pkg/agent"
	"github.com/devicelab-dev/droid-agent/pkg/annotate"
	"github.com/devicelab-dev/droid-agent/pkg/decision"
	uia2driver "github.com/devicelab-dev/droid-agent/pkg/driver/uiautomator2"
	"github.com/devicelab-dev/droid-agent/pkg/element"
	"github.com/devicelab-dev/droid-agent/pkg/logger"
)

func minDistanceFlag() cli.Flag {
	return &cli.Float64Flag{
		Name:  "min-distance",
		Usage: "Drop focusable elements within this many pixels of a clickable one",
		Value: agent.DefaultConfig().MinElementDistance,
	}
}

var elementsCommand = &cli.Command{
	Name:  "elements",
	Usage: "List the interactive elements on the device screen",
	Description: `Read the live accessibility tree and print the elements the model would
see, numbered as they are labelled.

Examples:
  droid-agent elements
  droid-agent elements --json
  droid-agent elements --screenshot labelled.png`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print elements as JSON",
		},
		&cli.StringFlag{
			Name:  "screenshot",
			Usage: "Also save an annotated screenshot to this path",
		},
		&cli.BoolFlag{
			Name:  "dark",
			Usage: "Draw labels for a dark screen",
		},
	},
	Action: runElements,
}

var annotateCommand = &cli.Command{
	Name:  "annotate",
	Usage: "Label a saved screenshot using a saved hierarchy dump",
	Description: `Run extraction and annotation offline, without a device.

Examples:
  droid-agent annotate --screenshot screen.png --hierarchy window.xml --out labelled.png`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "screenshot",
			Usage:    "Screenshot (PNG or JPEG)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "hierarchy",
			Usage:    "uiautomator hierarchy XML",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "out",
			Usage:    "Output PNG path",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "dark",
			Usage: "Draw labels for a dark screen",
		},
		minDistanceFlag(),
	},
	Action: runAnnotate,
}

var promptCommand = &cli.Command{
	Name:      "prompt",
	Usage:     "Print the prompt that would be sent to the model",
	ArgsUsage: "<task>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "hierarchy",
			Usage:    "uiautomator hierarchy XML",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "summary",
			Usage: "Summary of the previous round",
		},
		minDistanceFlag(),
	},
	Action: runPrompt,
}

func runElements(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg, c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := c.Context
	sess, err := connectDevice(ctx, cfg, logger.L())
	if err != nil {
		return err
	}
	defer sess.Close()

	root, err := uia2driver.NewTree(sess.client).Root(ctx)
	if err != nil {
		return err
	}
	var elements element.List
	if root != nil {
		x := element.Extractor{Logger: logger.Named("element")}
		elements = x.ExtractInteractive(root, cfg.Agent.MinElementDistance)
	}

	if path := c.String("screenshot"); path != "" {
		data, err := sess.client.Screenshot(ctx)
		if err != nil {
			return fmt.Errorf("screenshot: %w", err)
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("decode screenshot: %w", err)
		}
		opts := annotate.Options{DarkMode: cfg.Agent.DarkModeAnnotation}
		if err := writeAnnotated(path, img, elements, opts); err != nil {
			return err
		}
	}

	w := c.App.Writer
	if c.Bool("json") {
		return printJSON(w, elements)
	}
	return printElementTable(w, elements)
}

func runAnnotate(c *cli.Context) error {
	elements, err := loadElements(c.String("hierarchy"), c.Float64("min-distance"))
	if err != nil {
		return err
	}
	img, err := readImage(c.String("screenshot"))
	if err != nil {
		return err
	}

	out := c.String("out")
	if err := writeAnnotated(out, img, elements, annotate.Options{DarkMode: c.Bool("dark")}); err != nil {
		return err
	}

	w := c.App.Writer
	if err := printElementTable(w, elements); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d element(s) labelled, written to %s\n", len(elements), out)
	return nil
}

func runPrompt(c *cli.Context) error {
	task := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if task == "" {
		return fmt.Errorf("a task description is required")
	}
	elements, err := loadElements(c.String("hierarchy"), c.Float64("min-distance"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, decision.BuildPrompt(task, c.String("summary"), elements))
	return err
}

// loadElements extracts the interactive elements from a hierarchy dump.
func loadElements(path string, minDistance float64) (element.List, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided path
	if err != nil {
		return nil, fmt.Errorf("read hierarchy: %w", err)
	}
	root, err := uia2driver.ParsePageSource(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse hierarchy: %w", err)
	}
	return element.ExtractInteractive(root, minDistance), nil
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path) //#nosec G304 -- user-provided path
	if err != nil {
		return nil, fmt.Errorf("open screenshot: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

func writeAnnotated(path string, img image.Image, elements element.List, opts annotate.Options) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, annotate.Annotate(img, elements, opts)); err != nil {
		return fmt.Errorf("encode annotated frame: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write annotated frame: %w", err)
	}
	return nil
}
