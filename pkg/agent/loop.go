package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/droid-agent/pkg/action"
	"github.com/devicelab-dev/droid-agent/pkg/annotate"
	"github.com/devicelab-dev/droid-agent/pkg/core"
	"github.com/devicelab-dev/droid-agent/pkg/decision"
	"github.com/devicelab-dev/droid-agent/pkg/element"
)

// loop is the state of one task. It lives on the task goroutine only.
type loop struct {
	agent      *Agent
	task       string
	result     *core.TaskResult
	recorder   Recorder
	onProgress ProgressFunc
	logger     *zap.Logger
	annotator  *annotate.Annotator

	lastSummary string
}

// verdict ends the task when done is set.
type verdict struct {
	done  bool
	state core.TaskState
	msg   string
	err   error
}

func stop(state core.TaskState, msg string, err error) verdict {
	return verdict{done: true, state: state, msg: msg, err: err}
}

var proceed = verdict{}

func (l *loop) run(ctx context.Context) (core.TaskState, string, error) {
	maxRounds := l.agent.cfg.MaxRounds
	for round := 1; round <= maxRounds; round++ {
		if l.agent.isCancelled(ctx) {
			return core.StateCancelled, "task cancelled", core.ErrTaskCancelled
		}

		rr := core.RoundResult{Index: round, StartTime: time.Now()}
		v := l.round(ctx, &rr)
		rr.Duration = time.Since(rr.StartTime)
		l.record(rr)

		if v.done {
			return v.state, v.msg, v.err
		}
	}

	l.logger.Info("round limit reached", zap.Int("max_rounds", maxRounds))
	return core.StateRoundLimitReached,
		fmt.Sprintf("round limit of %d reached before the task was finished", maxRounds), nil
}

func (l *loop) round(ctx context.Context, rr *core.RoundResult) verdict {
	a := l.agent
	logger := l.logger.With(zap.Int("round", rr.Index))

	frame, err := a.frames.AcquireFrame(ctx, a.cfg.CaptureTimeout)
	if err != nil {
		return l.fail(ctx, rr, "screen capture failed", err)
	}

	if !a.sleep(ctx, a.cfg.SettleDelay) {
		rr.Outcome = core.OutcomeCancelled
		return stop(core.StateCancelled, "task cancelled", core.ErrTaskCancelled)
	}

	elements := l.extract(ctx, logger)
	rr.ElementCount = len(elements)
	rr.ElementIDs = elements.IDs()
	if len(elements) == 0 {
		logger.Info("no interactive elements on screen, skipping round")
		rr.Skipped = true
		if !a.sleep(ctx, a.cfg.RequestInterval) {
			rr.Outcome = core.OutcomeCancelled
			return stop(core.StateCancelled, "task cancelled", core.ErrTaskCancelled)
		}
		return proceed
	}

	path, png, err := l.annotator.Render(rr.Index, frame.Image, elements)
	if png == nil {
		return l.fail(ctx, rr, "annotate frame", err)
	}
	if err != nil {
		logger.Warn("annotated frame not saved", zap.Error(err))
	}
	rr.Artifact = path

	reply, err := a.decider.Decide(ctx, decision.Request{
		Task:        l.task,
		LastSummary: l.lastSummary,
		Elements:    elements,
		ImagePNG:    png,
	})
	if err != nil {
		return l.fail(ctx, rr, "vision model request failed", err)
	}
	rr.DecisionText = reply

	act := a.parser.Parse(ctx, reply, elements)
	rr.Action = act.String()
	rr.Summary = action.Summary(reply)
	logger.Info("model chose action", zap.Stringer("action", act), zap.Int("elements", len(elements)))

	ar := l.dispatch(ctx, rr.Index, act, elements)
	l.progress(ar)

	switch act.Kind {
	case action.KindFinish:
		rr.Outcome = core.OutcomeFinish
		msg := rr.Summary
		if msg == "" {
			msg = "task completed"
		}
		return stop(core.StateCompleted, msg, nil)
	case action.KindCancelled:
		rr.Outcome = core.OutcomeCancelled
		return stop(core.StateCancelled, "task cancelled", core.ErrTaskCancelled)
	case action.KindError:
		rr.Outcome = core.OutcomeError
		rr.Error = act.Reason
		err := core.ErrUnparsableAction.WithMessage(act.Reason)
		return stop(core.StateFailed, "could not understand the model's reply: "+act.Reason, err)
	}

	rr.Outcome = core.OutcomeContinue
	if rr.Summary != "" {
		l.lastSummary = rr.Summary
	} else {
		l.lastSummary = act.String()
	}

	if !a.sleep(ctx, a.cfg.RequestInterval) {
		return stop(core.StateCancelled, "task cancelled", core.ErrTaskCancelled)
	}
	return proceed
}

// extract reads the tree. Tree errors yield an empty list so the round is skipped.
func (l *loop) extract(ctx context.Context, logger *zap.Logger) element.List {
	root, err := l.agent.tree.Root(ctx)
	if err != nil {
		logger.Warn("read UI tree", zap.Error(err))
		return nil
	}
	if root == nil {
		return nil
	}
	return l.agent.extractor.ExtractInteractive(root, l.agent.cfg.MinElementDistance)
}

func (l *loop) fail(ctx context.Context, rr *core.RoundResult, msg string, err error) verdict {
	state := l.agent.cancelledOrFailed(ctx, err)
	if state == core.StateCancelled {
		rr.Outcome = core.OutcomeCancelled
		return stop(core.StateCancelled, "task cancelled", core.ErrTaskCancelled)
	}
	rr.Outcome = core.OutcomeError
	if err != nil {
		rr.Error = err.Error()
	}
	l.logger.Warn(msg, zap.Int("round", rr.Index), zap.Error(err))
	return stop(core.StateFailed, fmt.Sprintf("%s: %v", msg, err), err)
}

// dispatch performs act. Gesture errors and cancellations are logged and
// reported in the result; they never end the task by themselves.
func (l *loop) dispatch(ctx context.Context, round int, act action.Action, elements element.List) core.ActionResult {
	ar := core.ActionResult{Round: round, Kind: act.Kind.String(), Description: act.String()}
	start := time.Now()

	gestures := l.agent.gestures
	var res core.GestureResult
	var err error

	switch act.Kind {
	case action.KindTap, action.KindLongPress:
		var p core.Point
		p, err = action.ResolveTap(act, elements)
		if err == nil {
			ar.Target = &p
			if act.Kind == action.KindTap {
				res, err = gestures.Tap(ctx, p)
			} else {
				res, err = gestures.LongPress(ctx, p)
			}
		}
	case action.KindSwipe:
		var from, to core.Point
		from, to, err = action.ResolveSwipe(act, elements)
		if err == nil {
			ar.Target, ar.SwipeTo = &from, &to
			res, err = gestures.Swipe(ctx, from, to, action.SwipeDuration)
		}
	case action.KindText:
		res, err = gestures.SetText(ctx, act.Text)
	case action.KindError:
		ar.Message = act.Reason
		ar.Duration = time.Since(start)
		return ar
	default:
		ar.Success = true
		ar.Duration = time.Since(start)
		return ar
	}

	switch {
	case err != nil:
		l.logger.Warn("gesture failed", zap.Int("round", round), zap.Stringer("action", act), zap.Error(err))
		ar.Message = err.Error()
	case res == core.GestureCancelled:
		l.logger.Warn("gesture cancelled", zap.Int("round", round), zap.Stringer("action", act))
		ar.Gesture = res.String()
		ar.Message = "gesture cancelled"
	default:
		ar.Gesture = res.String()
		ar.Success = true
	}
	ar.Duration = time.Since(start)
	return ar
}

func (l *loop) progress(ar core.ActionResult) {
	if l.recorder != nil {
		if err := l.recorder.RecordAction(ar); err != nil {
			l.logger.Warn("record action", zap.Error(err))
		}
	}
	if l.onProgress != nil {
		l.onProgress(ar)
	}
}

func (l *loop) record(rr core.RoundResult) {
	l.result.Rounds = append(l.result.Rounds, rr)
	if l.recorder != nil {
		if err := l.recorder.RecordRound(rr); err != nil {
			l.logger.Warn("record round", zap.Error(err))
		}
	}
}
