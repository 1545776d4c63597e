package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ReadTask loads task.json from a task directory.
func ReadTask(dir string) (*Task, error) {
	var t Task
	if err := readJSON(filepath.Join(dir, TaskFile), &t); err != nil {
		return nil, fmt.Errorf("read task: %w", err)
	}
	return &t, nil
}

// ListTasks returns every task under outputDir, newest first.
// Directories without a readable task.json are skipped.
func ListTasks(outputDir string) ([]Summary, error) {
	entries, err := os.ReadDir(outputDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Summary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(outputDir, e.Name())
		t, err := ReadTask(dir)
		if err != nil {
			continue
		}
		out = append(out, Summary{
			TaskID:    t.TaskID,
			Task:      t.Task,
			State:     t.State,
			Rounds:    len(t.Rounds),
			StartTime: t.StartTime,
			Dir:       dir,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out, nil
}
