// Package agent runs the perceive-decide-act loop: capture the screen, label
// the interactive elements, ask the model for one action, perform it, repeat.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devicelab-dev/droid-agent/pkg/action"
	"github.com/devicelab-dev/droid-agent/pkg/annotate"
	"github.com/devicelab-dev/droid-agent/pkg/core"
	"github.com/devicelab-dev/droid-agent/pkg/decision"
	"github.com/devicelab-dev/droid-agent/pkg/element"
)

// FrameSource hands out fresh screen frames. Implemented by capture.Coordinator.
type FrameSource interface {
	AcquireFrame(ctx context.Context, timeout time.Duration) (*core.Frame, error)
	Close() error
}

// Decider returns the model's reply for one round. Implemented by decision.Client.
type Decider interface {
	Decide(ctx context.Context, req decision.Request) (string, error)
}

// Recorder persists one task's progress. Implemented by report.TaskWriter.
type Recorder interface {
	core.ArtifactStore
	RecordRound(r core.RoundResult) error
	RecordAction(a core.ActionResult) error
	End(result *core.TaskResult) error
}

// RecorderFactory opens a Recorder for a new task.
type RecorderFactory func(taskID, task string) (Recorder, error)

// ProgressFunc receives every dispatched action as it happens.
type ProgressFunc func(core.ActionResult)

// Config holds the loop's limits and delays.
type Config struct {
	MaxRounds          int
	RequestInterval    time.Duration // pause between rounds
	SettleDelay        time.Duration // pause after capture, before reading the tree
	CaptureTimeout     time.Duration // overall bound on one AcquireFrame
	MinElementDistance float64
	SleepIncrement     time.Duration // granularity of cancellable sleeps
	Annotate           annotate.Options
}

// DefaultConfig returns 20 rounds, a 2s interval and a 500ms settle delay.
func DefaultConfig() Config {
	return Config{
		MaxRounds:          20,
		RequestInterval:    2 * time.Second,
		SettleDelay:        500 * time.Millisecond,
		CaptureTimeout:     5 * time.Second,
		MinElementDistance: 40,
		SleepIncrement:     100 * time.Millisecond,
	}
}

// Deps are the collaborators the loop drives.
type Deps struct {
	Frames    FrameSource
	Tree      core.UITree
	Gestures  core.GestureSink
	Decider   Decider
	Parser    action.Parser   // default: action.LegacyParser
	Recorders RecorderFactory // optional
	Logger    *zap.Logger
}

// Agent runs one task at a time.
type Agent struct {
	cfg       Config
	frames    FrameSource
	tree      core.UITree
	gestures  core.GestureSink
	decider   Decider
	parser    action.Parser
	recorders RecorderFactory
	extractor element.Extractor
	logger    *zap.Logger

	state     atomic.Int32
	cancelled atomic.Bool

	mu      sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New validates deps and returns an idle Agent.
func New(cfg Config, deps Deps) (*Agent, error) {
	switch {
	case deps.Frames == nil:
		return nil, core.ErrInvalidConfig.WithMessage("agent: frame source is required")
	case deps.Tree == nil:
		return nil, core.ErrInvalidConfig.WithMessage("agent: UI tree is required")
	case deps.Gestures == nil:
		return nil, core.ErrInvalidConfig.WithMessage("agent: gesture sink is required")
	case deps.Decider == nil:
		return nil, core.ErrInvalidConfig.WithMessage("agent: decider is required")
	}
	if cfg.MaxRounds <= 0 {
		return nil, core.ErrInvalidConfig.WithMessage("agent: max rounds must be positive").
			WithDetails(map[string]interface{}{"field": "maxRounds", "value": cfg.MaxRounds})
	}
	if cfg.SleepIncrement <= 0 || cfg.SleepIncrement > 500*time.Millisecond {
		cfg.SleepIncrement = 100 * time.Millisecond
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = DefaultConfig().CaptureTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := deps.Parser
	if parser == nil {
		parser = action.LegacyParser{}
	}

	return &Agent{
		cfg:       cfg,
		frames:    deps.Frames,
		tree:      deps.Tree,
		gestures:  deps.Gestures,
		decider:   deps.Decider,
		parser:    parser,
		recorders: deps.Recorders,
		extractor: element.Extractor{Logger: logger.Named("element")},
		logger:    logger.Named("agent"),
	}, nil
}

// State returns the state of the current or most recent task.
func (a *Agent) State() core.TaskState {
	return core.TaskState(a.state.Load())
}

// Cancel asks the running task to stop. The loop observes it within one
// sleep increment or one in-flight operation. No-op when idle.
func (a *Agent) Cancel() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	a.cancelled.Store(true)
	if cancel != nil {
		cancel()
	}
}

// Start runs the task on its own goroutine and delivers the result on the
// returned channel, which is closed afterwards.
func (a *Agent) Start(ctx context.Context, task string, onProgress ProgressFunc) <-chan *core.TaskResult {
	out := make(chan *core.TaskResult, 1)
	go func() {
		defer close(out)
		out <- a.Run(ctx, task, onProgress)
	}()
	return out
}

// Run executes task to a terminal state. It never panics and always returns a result.
func (a *Agent) Run(ctx context.Context, task string, onProgress ProgressFunc) *core.TaskResult {
	result := &core.TaskResult{
		TaskID:    uuid.NewString(),
		Task:      task,
		StartTime: time.Now(),
		Rounds:    []core.RoundResult{},
	}

	runCtx, err := a.begin(ctx)
	if err != nil {
		result.Finish(core.StateFailed, err.Error(), err)
		return result
	}
	defer a.end()

	if !a.gestures.Connected() {
		a.finish(result, nil, core.StateFailed, "device interaction service is not connected", core.ErrNotConnected)
		return result
	}

	logger := a.logger.With(zap.String("task_id", result.TaskID))
	rec := a.openRecorder(logger, result.TaskID, task)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
			err := fmt.Errorf("internal error: %v", r)
			a.finish(result, rec, core.StateFailed, err.Error(), err)
		}
	}()

	logger.Info("task started", zap.String("task", task), zap.Int("max_rounds", a.cfg.MaxRounds))
	l := &loop{
		agent:      a,
		task:       task,
		result:     result,
		recorder:   rec,
		onProgress: onProgress,
		logger:     logger,
		annotator:  annotate.New(a.cfg.Annotate, storeOf(rec)),
	}
	state, msg, err := l.run(runCtx)
	a.finish(result, rec, state, msg, err)
	logger.Info("task finished",
		zap.Stringer("state", state),
		zap.Int("rounds", len(result.Rounds)),
		zap.Duration("duration", result.Duration))
	return result
}

// begin claims the agent for one task.
func (a *Agent) begin(ctx context.Context) (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, core.ErrCaptureClosed.WithMessage("agent is closed")
	}
	if a.running {
		return nil, core.ErrTaskRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.running = true
	a.cancel = cancel
	a.cancelled.Store(false)
	a.state.Store(int32(core.StateRunning))
	a.wg.Add(1)
	return runCtx, nil
}

func (a *Agent) end() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.cancel = nil
	a.running = false
	a.mu.Unlock()
	a.wg.Done()
}

func (a *Agent) finish(result *core.TaskResult, rec Recorder, state core.TaskState, msg string, err error) {
	result.Finish(state, msg, err)
	a.state.Store(int32(state))
	if rec != nil {
		if err := rec.End(result); err != nil {
			a.logger.Warn("write task report", zap.Error(err))
		}
	}
}

func (a *Agent) openRecorder(logger *zap.Logger, taskID, task string) Recorder {
	if a.recorders == nil {
		return nil
	}
	rec, err := a.recorders(taskID, task)
	if err != nil {
		logger.Warn("task report disabled", zap.Error(err))
		return nil
	}
	return rec
}

func storeOf(rec Recorder) core.ArtifactStore {
	if rec == nil {
		return nil
	}
	return rec
}

// Close cancels any running task, waits for it to stop and releases the
// frame source. Safe to call more than once.
func (a *Agent) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()

		a.Cancel()
		a.wg.Wait()
		a.closeErr = a.frames.Close()
	})
	return a.closeErr
}

// sleep waits d in SleepIncrement steps. It returns false as soon as the task
// is cancelled.
func (a *Agent) sleep(ctx context.Context, d time.Duration) bool {
	for remaining := d; remaining > 0; {
		step := min(remaining, a.cfg.SleepIncrement)
		t := time.NewTimer(step)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		if a.cancelled.Load() {
			return false
		}
		remaining -= step
	}
	return !a.isCancelled(ctx)
}

func (a *Agent) isCancelled(ctx context.Context) bool {
	return a.cancelled.Load() || ctx.Err() != nil
}

// cancelledOrFailed maps an error from a blocking step to the terminal state.
func (a *Agent) cancelledOrFailed(ctx context.Context, err error) core.TaskState {
	if a.isCancelled(ctx) || errors.Is(err, context.Canceled) {
		return core.StateCancelled
	}
	return core.StateFailed
}
