package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/devicelab-dev/droid-agent/pkg/core"
	"github.com/devicelab-dev/droid-agent/pkg/element"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Actions slower than this are flagged.
const slowThreshold = 5 * time.Second

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

func printSetupStep(msg string) {
	fmt.Printf("  %s⏳ %s%s\n", color(colorCyan), msg, color(colorReset))
}

func printSetupSuccess(msg string) {
	fmt.Printf("  %s✓ %s%s\n", color(colorGreen), msg, color(colorReset))
}

func printBanner(w io.Writer, task string) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%sdroid-agent %s%s\n", color(colorBold), Version, color(colorReset))
	fmt.Fprintf(w, "  Task: %s\n", task)
	fmt.Fprintln(w)
}

// printAction prints one dispatched action as it happens.
func printAction(w io.Writer, ar core.ActionResult) {
	dur := formatDuration(ar.Duration)
	prefix := fmt.Sprintf("  %s[%d]%s", color(colorGray), ar.Round, color(colorReset))

	switch {
	case ar.Success && ar.Duration >= slowThreshold:
		fmt.Fprintf(w, "%s %s⚠%s %s %s(%s)%s\n", prefix,
			color(colorYellow), color(colorReset), ar.Description, color(colorYellow), dur, color(colorReset))
	case ar.Success:
		fmt.Fprintf(w, "%s %s✓%s %s (%s)\n", prefix, color(colorGreen), color(colorReset), ar.Description, dur)
	default:
		fmt.Fprintf(w, "%s %s✗%s %s (%s)\n", prefix, color(colorRed), color(colorReset), ar.Description, dur)
		if ar.Message != "" {
			fmt.Fprintf(w, "      %s╰─%s %s\n", color(colorGray), color(colorReset), ar.Message)
		}
	}
}

// printResult prints the task outcome.
func printResult(w io.Writer, r *core.TaskResult) {
	symbol, c := "✓", colorGreen
	switch r.State {
	case core.StateRoundLimitReached:
		symbol, c = "⚠", colorYellow
	case core.StateCancelled:
		symbol, c = "■", colorYellow
	case core.StateFailed:
		symbol, c = "✗", colorRed
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%s %s%s after %d round(s) in %s\n",
		color(c), symbol, r.State, color(colorReset), r.RoundsExecuted(), formatDuration(r.Duration))
	if r.Message != "" {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
	if r.Error != "" && r.Error != r.Message {
		fmt.Fprintf(w, "  %s╰─%s %s\n", color(colorGray), color(colorReset), r.Error)
	}
}

// printElementTable prints one row per element, labelled as the model sees them.
func printElementTable(w io.Writer, elements element.List) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tKIND\tCENTER\tBOUNDS\tLABEL\tID")
	for i, e := range elements {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1, e.Kind, e.Center(), e.Bounds, truncate(e.Label(), 40), e.ID)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
