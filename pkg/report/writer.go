package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devicelab-dev/droid-agent/pkg/core"
)

// TaskWriter writes updates for a single task.
// It implements core.ArtifactStore so the annotator can persist frames through it.
type TaskWriter struct {
	mu        sync.Mutex
	task      *Task
	dir       string
	path      string
	framesDir string
}

var _ core.ArtifactStore = (*TaskWriter)(nil)

// NewTaskWriter creates <outputDir>/<taskID>/ and writes the initial task.json.
func NewTaskWriter(outputDir, taskID, task string) (*TaskWriter, error) {
	dir := filepath.Join(outputDir, taskID)
	framesDir := filepath.Join(dir, FramesDir)
	if err := ensureDir(framesDir); err != nil {
		return nil, fmt.Errorf("create task dir: %w", err)
	}

	w := &TaskWriter{
		task: &Task{
			Version:   Version,
			TaskID:    taskID,
			Task:      task,
			State:     core.StateRunning,
			StartTime: time.Now(),
			Rounds:    []core.RoundResult{},
			Actions:   []core.ActionResult{},
		},
		dir:       dir,
		path:      filepath.Join(dir, TaskFile),
		framesDir: framesDir,
	}
	if err := w.flush(); err != nil {
		return nil, err
	}
	return w, nil
}

// Dir returns the task directory.
func (w *TaskWriter) Dir() string {
	return w.dir
}

// SetDevice records the device the task runs on.
func (w *TaskWriter) SetDevice(d Device) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.task.Device = &d
	return w.flush()
}

// SetModel records the model in use.
func (w *TaskWriter) SetModel(m Model) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.task.Model = &m
	return w.flush()
}

// SaveFrame saves an annotated frame and returns its path relative to the task dir.
func (w *TaskWriter) SaveFrame(round int, data []byte) (string, error) {
	filename := fmt.Sprintf("round-%03d.png", round)
	if err := os.WriteFile(filepath.Join(w.framesDir, filename), data, 0o644); err != nil {
		return "", err
	}
	return filepath.Join(FramesDir, filename), nil
}

// RecordRound appends a finished round.
func (w *TaskWriter) RecordRound(r core.RoundResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.task.Rounds = append(w.task.Rounds, r)
	return w.flush()
}

// RecordAction appends a dispatched action.
func (w *TaskWriter) RecordAction(a core.ActionResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.task.Actions = append(w.task.Actions, a)
	return w.flush()
}

// End writes the terminal state. Rounds already recorded are kept; rounds in
// result that were never recorded are appended.
func (w *TaskWriter) End(result *core.TaskResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.task.EndTime = &now
	duration := now.Sub(w.task.StartTime).Milliseconds()
	w.task.Duration = &duration

	w.task.State = result.State
	w.task.Success = result.Success
	w.task.Completed = result.Completed
	w.task.Message = result.Message
	w.task.Error = result.Error
	if len(result.Rounds) > len(w.task.Rounds) {
		w.task.Rounds = append(w.task.Rounds, result.Rounds[len(w.task.Rounds):]...)
	}

	return w.flush()
}

// Snapshot returns a copy of the current task detail.
func (w *TaskWriter) Snapshot() Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := *w.task
	t.Rounds = append([]core.RoundResult(nil), w.task.Rounds...)
	t.Actions = append([]core.ActionResult(nil), w.task.Actions...)
	return t
}

// flush writes the task detail to disk. Caller holds mu, except during construction.
func (w *TaskWriter) flush() error {
	return atomicWriteJSON(w.path, w.task)
}
