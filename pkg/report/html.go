package report

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devicelab-dev/droid-agent/pkg/core"
)

// HTMLConfig contains configuration for HTML report generation.
type HTMLConfig struct {
	OutputPath  string // Path to write the HTML file (default: <taskDir>/report.html)
	EmbedAssets bool   // Embed frames as base64 (makes file larger but portable)
	Title       string // Report title (default: the task text)
}

// GenerateHTML renders task.json in taskDir to a single HTML page and returns its path.
func GenerateHTML(taskDir string, cfg HTMLConfig) (string, error) {
	task, err := ReadTask(taskDir)
	if err != nil {
		return "", err
	}

	if cfg.Title == "" {
		cfg.Title = task.Task
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = filepath.Join(taskDir, HTMLFile)
	}

	html, err := renderHTML(buildHTMLData(task, taskDir, cfg))
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}

	if err := os.WriteFile(cfg.OutputPath, []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("write html: %w", err)
	}
	return cfg.OutputPath, nil
}

// HTMLData contains all data needed for the HTML template.
type HTMLData struct {
	Title       string
	GeneratedAt string
	Task        *Task
	StatusClass string
	Duration    string
	Rounds      []RoundHTMLData
}

// RoundHTMLData contains round data formatted for HTML.
type RoundHTMLData struct {
	core.RoundResult
	OutcomeClass string
	DurationStr  string
	Frame        string // data URL or relative path
}

func buildHTMLData(task *Task, taskDir string, cfg HTMLConfig) HTMLData {
	rounds := make([]RoundHTMLData, len(task.Rounds))
	for i, r := range task.Rounds {
		ms := r.Duration.Milliseconds()
		rd := RoundHTMLData{
			RoundResult:  r,
			OutcomeClass: outcomeClass(r.Outcome),
			DurationStr:  formatDuration(&ms),
		}
		if r.Artifact != "" {
			if cfg.EmbedAssets {
				rd.Frame = loadAsBase64(filepath.Join(taskDir, r.Artifact))
			} else {
				rd.Frame = filepath.ToSlash(r.Artifact)
			}
		}
		rounds[i] = rd
	}

	return HTMLData{
		Title:       cfg.Title,
		GeneratedAt: time.Now().Format("2006-01-02 15:04:05"),
		Task:        task,
		StatusClass: stateClass(task.State),
		Duration:    formatDuration(task.Duration),
		Rounds:      rounds,
	}
}

func stateClass(s core.TaskState) string {
	switch {
	case s == core.StateCompleted:
		return "passed"
	case s == core.StateRoundLimitReached:
		return "warning"
	case s.IsTerminal():
		return "failed"
	default:
		return "running"
	}
}

func outcomeClass(o core.RoundOutcome) string {
	switch o {
	case core.OutcomeFinish:
		return "passed"
	case core.OutcomeCancelled, core.OutcomeError:
		return "failed"
	default:
		return "pending"
	}
}

func formatDuration(ms *int64) string {
	if ms == nil {
		return "-"
	}
	d := time.Duration(*ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", *ms)
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func loadAsBase64(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(path))
	mimeType := "image/png"
	if ext == ".jpg" || ext == ".jpeg" {
		mimeType = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

func renderHTML(data HTMLData) (string, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"safeURL": func(s string) template.URL { return template.URL(s) },
	}).Parse(htmlTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; margin: 0; background: #f9fafb; color: #111827; }
        header { padding: 24px 32px; background: #fff; border-bottom: 1px solid #e5e7eb; }
        h1 { font-size: 20px; margin: 0 0 8px; }
        .meta { color: #6b7280; font-size: 13px; }
        .badge { display: inline-block; padding: 2px 8px; border-radius: 9999px; font-size: 12px; font-weight: 600; }
        .passed { background: #dcfce7; color: #166534; }
        .failed { background: #fee2e2; color: #991b1b; }
        .warning { background: #fef3c7; color: #92400e; }
        .running, .pending { background: #e0e7ff; color: #3730a3; }
        main { padding: 24px 32px; }
        .round { background: #fff; border: 1px solid #e5e7eb; border-radius: 8px; margin-bottom: 16px; display: flex; gap: 24px; padding: 16px; }
        .round img { max-width: 240px; border: 1px solid #e5e7eb; }
        .round pre { white-space: pre-wrap; font-size: 12px; background: #f3f4f6; padding: 8px; border-radius: 4px; }
    </style>
</head>
<body>
<header>
    <h1>{{.Title}}</h1>
    <div class="meta">
        <span class="badge {{.StatusClass}}">{{.Task.State}}</span>
        {{len .Rounds}} rounds &middot; {{.Duration}} &middot; task {{.Task.TaskID}}
        {{with .Task.Device}}&middot; {{.Serial}} {{.Model}}{{end}}
        {{with .Task.Model}}&middot; {{.Provider}}/{{.Name}}{{end}}
    </div>
    {{if .Task.Message}}<p>{{.Task.Message}}</p>{{end}}
    {{if .Task.Error}}<p class="badge failed">{{.Task.Error}}</p>{{end}}
    <div class="meta">Generated {{.GeneratedAt}}</div>
</header>
<main>
{{range .Rounds}}
    <section class="round">
        {{if .Frame}}<img src="{{safeURL .Frame}}" alt="round {{.Index}}">{{end}}
        <div>
            <h2>Round {{.Index}} <span class="badge {{.OutcomeClass}}">{{.Outcome}}</span></h2>
            <div class="meta">{{.ElementCount}} elements &middot; {{.DurationStr}}</div>
            {{if .Action}}<p><code>{{.Action}}</code></p>{{end}}
            {{if .Summary}}<p>{{.Summary}}</p>{{end}}
            {{if .Error}}<p class="badge failed">{{.Error}}</p>{{end}}
            {{if .DecisionText}}<pre>{{.DecisionText}}</pre>{{end}}
        </div>
    </section>
{{end}}
</main>
</body>
</html>
`
