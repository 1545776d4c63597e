package agent

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/devicelab-dev/droid-agent/pkg/action"
	"github.com/devicelab-dev/droid-agent/pkg/core"
	"github.com/devicelab-dev/droid-agent/pkg/decision"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- fakes ---

type fakeNode struct {
	bounds    core.Rect
	clickable bool
	focusable bool
	text      string
	kids      []core.UINode
}

func (n *fakeNode) Children() []core.UINode    { return n.kids }
func (n *fakeNode) Bounds() core.Rect          { return n.bounds }
func (n *fakeNode) IsClickable() bool          { return n.clickable }
func (n *fakeNode) IsFocusable() bool          { return n.focusable }
func (n *fakeNode) IsVisibleToUser() bool      { return true }
func (n *fakeNode) IsEnabled() bool            { return true }
func (n *fakeNode) ClassName() string          { return "android.widget.Button" }
func (n *fakeNode) Text() string               { return n.text }
func (n *fakeNode) ContentDescription() string { return "" }
func (n *fakeNode) ResourceID() string         { return "" }

type fakeTree struct {
	root core.UINode
	err  error
}

func (t *fakeTree) Root(ctx context.Context) (core.UINode, error) {
	return t.root, t.err
}

func screenTree() *fakeTree {
	return &fakeTree{root: &fakeNode{
		bounds: core.Rect{Right: 400, Bottom: 800},
		kids: []core.UINode{
			&fakeNode{bounds: core.Rect{Left: 10, Top: 10, Right: 50, Bottom: 30}, clickable: true, text: "btn1"},
			&fakeNode{bounds: core.Rect{Left: 150, Top: 550, Right: 250, Bottom: 650}, clickable: true, text: "list"},
		},
	}}
}

type fakeFrames struct {
	err    error
	block  bool
	calls  atomic.Int32
	closes atomic.Int32
}

func (f *fakeFrames) AcquireFrame(ctx context.Context, timeout time.Duration) (*core.Frame, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &core.Frame{Seq: uint64(f.calls.Load()), Image: image.NewRGBA(image.Rect(0, 0, 400, 800))}, nil
}

func (f *fakeFrames) Close() error {
	f.closes.Add(1)
	return nil
}

type gestureCall struct {
	kind     string
	from, to core.Point
	text     string
}

type fakeGestures struct {
	mu           sync.Mutex
	disconnected bool
	err          error
	result       core.GestureResult
	calls        []gestureCall
}

func (g *fakeGestures) Connected() bool { return !g.disconnected }

func (g *fakeGestures) add(c gestureCall) (core.GestureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
	return g.result, g.err
}

func (g *fakeGestures) Tap(ctx context.Context, p core.Point) (core.GestureResult, error) {
	return g.add(gestureCall{kind: "tap", from: p})
}

func (g *fakeGestures) LongPress(ctx context.Context, p core.Point) (core.GestureResult, error) {
	return g.add(gestureCall{kind: "long_press", from: p})
}

func (g *fakeGestures) Swipe(ctx context.Context, from, to core.Point, d time.Duration) (core.GestureResult, error) {
	return g.add(gestureCall{kind: "swipe", from: from, to: to})
}

func (g *fakeGestures) SetText(ctx context.Context, value string) (core.GestureResult, error) {
	return g.add(gestureCall{kind: "text", text: value})
}

func (g *fakeGestures) snapshot() []gestureCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gestureCall(nil), g.calls...)
}

// fakeDecider replays replies in order, repeating the last one.
type fakeDecider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	block    bool
	panicMsg string
	requests []decision.Request
}

func (d *fakeDecider) Decide(ctx context.Context, req decision.Request) (string, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	n := len(d.requests)
	d.mu.Unlock()

	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	if d.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if d.err != nil {
		return "", d.err
	}
	i := n - 1
	if i >= len(d.replies) {
		i = len(d.replies) - 1
	}
	return d.replies[i], nil
}

func (d *fakeDecider) calls() []decision.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]decision.Request(nil), d.requests...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	frames  []int
	rounds  []core.RoundResult
	actions []core.ActionResult
	ended   *core.TaskResult
}

func (r *fakeRecorder) SaveFrame(round int, png []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, round)
	return "frames/round.png", nil
}

func (r *fakeRecorder) RecordRound(rr core.RoundResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, rr)
	return nil
}

func (r *fakeRecorder) RecordAction(a core.ActionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	return nil
}

func (r *fakeRecorder) End(result *core.TaskResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = result
	return nil
}

type harness struct {
	frames   *fakeFrames
	tree     *fakeTree
	gestures *fakeGestures
	decider  *fakeDecider
	recorder *fakeRecorder
}

func testConfig() Config {
	return Config{
		MaxRounds:          5,
		RequestInterval:    0,
		SettleDelay:        0,
		CaptureTimeout:     time.Second,
		MinElementDistance: 40,
		SleepIncrement:     10 * time.Millisecond,
	}
}

func newHarness(t *testing.T, cfg Config, replies ...string) (*Agent, *harness) {
	t.Helper()
	h := &harness{
		frames:   &fakeFrames{},
		tree:     screenTree(),
		gestures: &fakeGestures{},
		decider:  &fakeDecider{replies: replies},
		recorder: &fakeRecorder{},
	}
	a, err := New(cfg, Deps{
		Frames:    h.frames,
		Tree:      h.tree,
		Gestures:  h.gestures,
		Decider:   h.decider,
		Recorders: func(taskID, task string) (Recorder, error) { return h.recorder, nil },
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, h
}

// --- tests ---

func TestRun_TapThenFinish(t *testing.T) {
	a, h := newHarness(t, testConfig(),
		"Observation: a button\nThought: press it\nAction: tap(1)\nSummary: tapped btn1",
		"Observation: done\nAction: FINISH\nSummary: all done")

	var progress []core.ActionResult
	result := a.Run(context.Background(), "press the button", func(ar core.ActionResult) {
		progress = append(progress, ar)
	})

	assert.Equal(t, core.StateCompleted, result.State)
	assert.True(t, result.Success)
	assert.True(t, result.Completed)
	assert.Equal(t, "all done", result.Message)
	assert.Equal(t, core.StateCompleted, a.State())
	assert.NotEmpty(t, result.TaskID)
	require.Len(t, result.Rounds, 2)
	assert.Equal(t, core.OutcomeContinue, result.Rounds[0].Outcome)
	assert.Equal(t, core.OutcomeFinish, result.Rounds[1].Outcome)
	assert.Equal(t, 2, result.Rounds[0].ElementCount)

	calls := h.gestures.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "tap", calls[0].kind)
	assert.Equal(t, core.Point{X: 30, Y: 20}, calls[0].from)

	require.Len(t, progress, 2)
	assert.Equal(t, "tap", progress[0].Kind)
	assert.True(t, progress[0].Success)
	assert.Equal(t, "finish", progress[1].Kind)

	reqs := h.decider.calls()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].LastSummary)
	assert.Equal(t, "tapped btn1", reqs[1].LastSummary)
	assert.NotEmpty(t, reqs[0].ImagePNG)
	assert.Equal(t, "press the button", reqs[0].Task)

	assert.Len(t, h.recorder.rounds, 2)
	assert.Len(t, h.recorder.actions, 2)
	assert.Equal(t, []int{1, 2}, h.recorder.frames)
	assert.Equal(t, "frames/round.png", result.Rounds[0].Artifact)
	require.NotNil(t, h.recorder.ended)
	assert.Equal(t, core.StateCompleted, h.recorder.ended.State)
}

func TestRun_SwipeResolvesDistance(t *testing.T) {
	a, h := newHarness(t, testConfig(), `Action: swipe(2, "up", "long")`, "Action: finish")

	result := a.Run(context.Background(), "scroll", nil)
	require.Equal(t, core.StateCompleted, result.State)

	calls := h.gestures.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "swipe", calls[0].kind)
	assert.Equal(t, core.Point{X: 200, Y: 600}, calls[0].from)
	assert.Equal(t, core.Point{X: 200, Y: 100}, calls[0].to)
}

func TestRun_TextAction(t *testing.T) {
	a, h := newHarness(t, testConfig(), `Action: text("hello world")`, "Action: FINISH")

	result := a.Run(context.Background(), "type", nil)
	require.Equal(t, core.StateCompleted, result.State)
	calls := h.gestures.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "text", calls[0].kind)
	assert.Equal(t, "hello world", calls[0].text)
}

func TestRun_RoundLimitReached(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRounds = 3
	a, h := newHarness(t, cfg, "Action: tap(1)")

	result := a.Run(context.Background(), "never ends", nil)

	assert.Equal(t, core.StateRoundLimitReached, result.State)
	assert.True(t, result.Success)
	assert.False(t, result.Completed)
	assert.Len(t, result.Rounds, 3)
	assert.Len(t, h.decider.calls(), 3)
	assert.Contains(t, result.Message, "round limit of 3")
}

func TestRun_NeverExceedsMaxRounds(t *testing.T) {
	for _, maxRounds := range []int{1, 2, 7} {
		cfg := testConfig()
		cfg.MaxRounds = maxRounds
		a, h := newHarness(t, cfg, "Action: tap(1)")
		result := a.Run(context.Background(), "loop", nil)
		assert.LessOrEqual(t, len(h.decider.calls()), maxRounds)
		assert.Equal(t, maxRounds, result.RoundsExecuted())
	}
}

func TestRun_CaptureTimeoutFails(t *testing.T) {
	a, h := newHarness(t, testConfig(), "Action: tap(1)")
	h.frames.err = core.ErrCaptureTimeout

	result := a.Run(context.Background(), "task", nil)

	assert.Equal(t, core.StateFailed, result.State)
	assert.False(t, result.Success)
	assert.Equal(t, core.ErrCategoryCapture, result.Category)
	assert.Contains(t, result.Message, "screen capture failed")
	require.Len(t, result.Rounds, 1)
	assert.Equal(t, core.OutcomeError, result.Rounds[0].Outcome)
	assert.Empty(t, h.decider.calls())
}

func TestRun_ModelFailureFails(t *testing.T) {
	a, h := newHarness(t, testConfig())
	h.decider.err = core.ErrModelUnavailable.WithCause(errors.New("503"))

	result := a.Run(context.Background(), "task", nil)

	assert.Equal(t, core.StateFailed, result.State)
	assert.Equal(t, core.ErrCategoryModel, result.Category)
	assert.Contains(t, result.Error, "503")
}

func TestRun_UnparsableReplyFails(t *testing.T) {
	a, h := newHarness(t, testConfig(), "Action: dance(1)")

	result := a.Run(context.Background(), "task", nil)

	assert.Equal(t, core.StateFailed, result.State)
	assert.Equal(t, core.ErrCategoryParse, result.Category)
	require.Len(t, result.Rounds, 1)
	assert.Equal(t, core.OutcomeError, result.Rounds[0].Outcome)
	assert.Empty(t, h.gestures.snapshot())
}

func TestRun_EmptyScreenSkipsRounds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRounds = 3
	a, h := newHarness(t, cfg, "Action: tap(1)")
	h.tree.root = &fakeNode{bounds: core.Rect{Right: 100, Bottom: 100}}

	result := a.Run(context.Background(), "task", nil)

	assert.Equal(t, core.StateRoundLimitReached, result.State)
	assert.Len(t, result.Rounds, 3)
	for _, r := range result.Rounds {
		assert.True(t, r.Skipped)
	}
	assert.Empty(t, h.decider.calls())
}

func TestRun_TreeErrorSkipsRound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRounds = 1
	a, h := newHarness(t, cfg, "Action: tap(1)")
	h.tree.err = errors.New("no window")

	result := a.Run(context.Background(), "task", nil)
	assert.Equal(t, core.StateRoundLimitReached, result.State)
	assert.True(t, result.Rounds[0].Skipped)
}

func TestRun_GestureErrorDoesNotFailTask(t *testing.T) {
	a, h := newHarness(t, testConfig(), "Action: tap(1)", "Action: FINISH")
	h.gestures.err = errors.New("injection failed")

	var progress []core.ActionResult
	result := a.Run(context.Background(), "task", func(ar core.ActionResult) { progress = append(progress, ar) })

	assert.Equal(t, core.StateCompleted, result.State)
	require.NotEmpty(t, progress)
	assert.False(t, progress[0].Success)
	assert.Contains(t, progress[0].Message, "injection failed")
}

func TestRun_GestureCancelledIsLogged(t *testing.T) {
	a, h := newHarness(t, testConfig(), "Action: long_press(1)", "Action: FINISH")
	h.gestures.result = core.GestureCancelled

	var progress []core.ActionResult
	result := a.Run(context.Background(), "task", func(ar core.ActionResult) { progress = append(progress, ar) })

	assert.Equal(t, core.StateCompleted, result.State)
	assert.Equal(t, "cancelled", progress[0].Gesture)
	assert.False(t, progress[0].Success)
}

func TestRun_NotConnected(t *testing.T) {
	a, h := newHarness(t, testConfig(), "Action: tap(1)")
	h.gestures.disconnected = true

	result := a.Run(context.Background(), "task", nil)

	assert.Equal(t, core.StateFailed, result.State)
	assert.Contains(t, result.Error, "not connected")
	assert.Zero(t, h.frames.calls.Load())
}

func TestRun_CancelWhileModelBlocks(t *testing.T) {
	a, h := newHarness(t, testConfig())
	h.decider.block = true

	done := a.Start(context.Background(), "task", nil)
	require.Eventually(t, func() bool { return len(h.decider.calls()) == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	a.Cancel()

	select {
	case result := <-done:
		assert.Equal(t, core.StateCancelled, result.State)
		assert.False(t, result.Success)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not stop after cancel")
	}
	assert.Equal(t, core.StateCancelled, a.State())
}

func TestRun_CancelDuringInterRoundDelay(t *testing.T) {
	cfg := testConfig()
	cfg.RequestInterval = 10 * time.Second
	a, h := newHarness(t, cfg, "Action: tap(1)")

	done := a.Start(context.Background(), "task", nil)
	require.Eventually(t, func() bool { return len(h.gestures.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	a.Cancel()
	result := <-done

	assert.Equal(t, core.StateCancelled, result.State)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, result.Rounds, 1)
}

func TestRun_ParentContextCancelled(t *testing.T) {
	a, h := newHarness(t, testConfig())
	h.frames.block = true

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	result := a.Run(ctx, "task", nil)
	assert.Equal(t, core.StateCancelled, result.State)
}

func TestRun_OneTaskAtATime(t *testing.T) {
	a, h := newHarness(t, testConfig())
	h.decider.block = true

	done := a.Start(context.Background(), "first", nil)
	require.Eventually(t, func() bool { return len(h.decider.calls()) == 1 }, time.Second, 5*time.Millisecond)

	second := a.Run(context.Background(), "second", nil)
	assert.Equal(t, core.StateFailed, second.State)
	assert.Contains(t, second.Error, "already running")
	assert.Equal(t, core.StateRunning, a.State())

	a.Cancel()
	<-done
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	a, h := newHarness(t, testConfig())
	h.decider.panicMsg = "boom"

	result := a.Run(context.Background(), "task", nil)
	assert.Equal(t, core.StateFailed, result.State)
	assert.Contains(t, result.Message, "internal error: boom")

	// The agent is usable again afterwards.
	h.decider.panicMsg = ""
	h.decider.replies = []string{"Action: FINISH"}
	result = a.Run(context.Background(), "task", nil)
	assert.Equal(t, core.StateCompleted, result.State)
}

func TestRun_AlreadyCancelledContext(t *testing.T) {
	a, _ := newHarness(t, testConfig(), "Action: tap(1)")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := a.Run(ctx, "task", nil)
	assert.Equal(t, core.StateCancelled, result.State)
	assert.Empty(t, result.Rounds)
}

func TestClose_Idempotent(t *testing.T) {
	a, h := newHarness(t, testConfig())
	h.decider.block = true

	done := a.Start(context.Background(), "task", nil)
	require.Eventually(t, func() bool { return len(h.decider.calls()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, int32(1), h.frames.closes.Load())

	result := <-done
	assert.Equal(t, core.StateCancelled, result.State)

	after := a.Run(context.Background(), "task", nil)
	assert.Equal(t, core.StateFailed, after.State)
	assert.Contains(t, after.Message, "closed")
}

func TestNew_Validation(t *testing.T) {
	deps := Deps{Frames: &fakeFrames{}, Tree: &fakeTree{}, Gestures: &fakeGestures{}, Decider: &fakeDecider{}}

	_, err := New(testConfig(), Deps{})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	cfg := testConfig()
	cfg.MaxRounds = 0
	_, err = New(cfg, deps)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	cfg = testConfig()
	cfg.SleepIncrement = time.Minute
	a, err := New(cfg, deps)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, a.cfg.SleepIncrement)
	assert.IsType(t, action.LegacyParser{}, a.parser)
	assert.Equal(t, core.StateIdle, a.State())
}

func TestSleep_StopsOnCancel(t *testing.T) {
	a, _ := newHarness(t, testConfig())
	ctx := context.Background()

	assert.True(t, a.sleep(ctx, 30*time.Millisecond))

	a.cancelled.Store(true)
	start := time.Now()
	assert.False(t, a.sleep(ctx, time.Second))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
