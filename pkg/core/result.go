package core

import (
	"errors"
	"time"
)

// ActionResult is the outcome of dispatching one parsed action.
// It is echoed to the caller's progress callback every round.
type ActionResult struct {
	Round       int           `json:"round"`
	Kind        string        `json:"kind"`        // tap, text, long_press, swipe, finish, cancelled, error
	Description string        `json:"description"` // e.g. tap(3)
	Success     bool          `json:"success"`
	Gesture     string        `json:"gesture,omitempty"` // completed, cancelled
	Message     string        `json:"message,omitempty"`
	Target      *Point        `json:"target,omitempty"`
	SwipeTo     *Point        `json:"swipeTo,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// RoundResult captures one perceive-decide-act cycle.
type RoundResult struct {
	Index        int           `json:"index"` // 1-based
	StartTime    time.Time     `json:"startTime"`
	Duration     time.Duration `json:"duration"`
	ElementCount int           `json:"elementCount"`
	ElementIDs   []string      `json:"elementIds,omitempty"`
	DecisionText string        `json:"decisionText,omitempty"`
	Action       string        `json:"action,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	Outcome      RoundOutcome  `json:"outcome"`
	Artifact     string        `json:"artifact,omitempty"` // path of the annotated frame
	Skipped      bool          `json:"skipped,omitempty"`  // no elements found
	Error        string        `json:"error,omitempty"`
}

// TaskResult is the terminal report of a task.
// A task that runs out of rounds is Success=true, Completed=false.
type TaskResult struct {
	TaskID    string        `json:"taskId"`
	Task      string        `json:"task"`
	State     TaskState     `json:"state"`
	Success   bool          `json:"success"`
	Completed bool          `json:"completed"`
	Message   string        `json:"message"`
	Category  ErrorCategory `json:"-"`
	Error     string        `json:"error,omitempty"`
	Rounds    []RoundResult `json:"rounds"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`
}

// RoundsExecuted returns the number of rounds that were started.
func (r *TaskResult) RoundsExecuted() int {
	return len(r.Rounds)
}

// Finish sets the terminal state and derives the success flags and message.
func (r *TaskResult) Finish(state TaskState, message string, err error) {
	r.State = state
	r.Success = state.IsSuccess()
	r.Completed = state == StateCompleted
	r.Message = message
	r.Duration = time.Since(r.StartTime)
	if err != nil {
		r.Error = err.Error()
		var ee *ExecutionError
		if errors.As(err, &ee) {
			r.Category = ee.Category
		}
	}
}

// LastRound returns the most recent round, or nil before the first round.
func (r *TaskResult) LastRound() *RoundResult {
	if len(r.Rounds) == 0 {
		return nil
	}
	return &r.Rounds[len(r.Rounds)-1]
}
