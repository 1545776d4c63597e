// Package report persists agent task reports.
//
// Layout, one directory per task:
//   - <out>/<taskID>/task.json: task detail, rewritten atomically after every round
//   - <out>/<taskID>/frames/round-NNN.png: annotated frames sent to the model
//   - <out>/<taskID>/report.html: optional human-readable report
package report

import (
	"time"

	"github.com/devicelab-dev/droid-agent/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// File and directory names inside a task directory.
const (
	TaskFile  = "task.json"
	FramesDir = "frames"
	HTMLFile  = "report.html"
)

// Task is the content of task.json.
type Task struct {
	Version   string              `json:"version"`
	TaskID    string              `json:"taskId"`
	Task      string              `json:"task"`
	State     core.TaskState      `json:"state"`
	Success   bool                `json:"success"`
	Completed bool                `json:"completed"`
	Message   string              `json:"message,omitempty"`
	Error     string              `json:"error,omitempty"`
	Device    *Device             `json:"device,omitempty"`
	Model     *Model              `json:"model,omitempty"`
	StartTime time.Time           `json:"startTime"`
	EndTime   *time.Time          `json:"endTime,omitempty"`
	Duration  *int64              `json:"duration,omitempty"` // milliseconds
	Rounds    []core.RoundResult  `json:"rounds"`
	Actions   []core.ActionResult `json:"actions"`
}

// Device identifies the phone the task ran on.
type Device struct {
	Serial    string `json:"serial"`
	Model     string `json:"model,omitempty"`
	OSVersion string `json:"osVersion,omitempty"`
}

// Model identifies the vision model used.
type Model struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
}

// Summary is one entry of ListTasks.
type Summary struct {
	TaskID    string         `json:"taskId"`
	Task      string         `json:"task"`
	State     core.TaskState `json:"state"`
	Rounds    int            `json:"rounds"`
	StartTime time.Time      `json:"startTime"`
	Dir       string         `json:"dir"`
}
