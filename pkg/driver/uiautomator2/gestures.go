package uiautomator2

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/droid-agent/pkg/core"
	"github.com/devicelab-dev/droid-agent/pkg/uiautomator2"
)

// LongPressDuration is how long a long-press holds.
const LongPressDuration = 1000 * time.Millisecond

// UIA2Client defines the uiautomator2 operations the gesture sink needs.
// Implemented by uiautomator2.Client.
type UIA2Client interface {
	HasSession() bool
	Click(ctx context.Context, x, y int) error
	LongClick(ctx context.Context, x, y, durationMs int) error
	Drag(ctx context.Context, x1, y1, x2, y2, speed int) error
	ActiveElement(ctx context.Context) (*uiautomator2.Element, error)
}

// Gestures implements core.GestureSink on top of uiautomator2.
type Gestures struct {
	client UIA2Client
	logger *zap.Logger
}

var _ core.GestureSink = (*Gestures)(nil)

// NewGestures creates a gesture sink.
func NewGestures(client UIA2Client, logger *zap.Logger) *Gestures {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gestures{client: client, logger: logger.Named("gestures")}
}

// Connected reports whether a uiautomator2 session is active.
func (g *Gestures) Connected() bool {
	return g.client != nil && g.client.HasSession()
}

func (g *Gestures) Tap(ctx context.Context, p core.Point) (core.GestureResult, error) {
	return g.dispatch(ctx, "tap", func() error {
		return g.client.Click(ctx, p.X, p.Y)
	}, zap.Stringer("point", p))
}

func (g *Gestures) LongPress(ctx context.Context, p core.Point) (core.GestureResult, error) {
	return g.dispatch(ctx, "long_press", func() error {
		return g.client.LongClick(ctx, p.X, p.Y, int(LongPressDuration.Milliseconds()))
	}, zap.Stringer("point", p))
}

func (g *Gestures) Swipe(ctx context.Context, from, to core.Point, duration time.Duration) (core.GestureResult, error) {
	speed := uiautomator2.SpeedFor(from.X, from.Y, to.X, to.Y, duration)
	return g.dispatch(ctx, "swipe", func() error {
		return g.client.Drag(ctx, from.X, from.Y, to.X, to.Y, speed)
	}, zap.Stringer("from", from), zap.Stringer("to", to), zap.Int("speed", speed))
}

// SetText replaces the focused field's content with value.
func (g *Gestures) SetText(ctx context.Context, value string) (core.GestureResult, error) {
	return g.dispatch(ctx, "set_text", func() error {
		elem, err := g.client.ActiveElement(ctx)
		if err != nil {
			return err
		}
		if err := elem.Clear(ctx); err != nil {
			return err
		}
		return elem.SendKeys(ctx, value)
	}, zap.Int("length", len(value)))
}

// dispatch runs fn, mapping context cancellation to GestureCancelled.
func (g *Gestures) dispatch(ctx context.Context, name string, fn func() error, fields ...zap.Field) (core.GestureResult, error) {
	if !g.Connected() {
		return core.GestureCancelled, core.ErrNotConnected
	}
	if ctx.Err() != nil {
		return core.GestureCancelled, nil
	}

	start := time.Now()
	err := fn()
	fields = append(fields, zap.String("gesture", name), zap.Duration("elapsed", time.Since(start)))

	if ctx.Err() != nil {
		g.logger.Warn("gesture cancelled", fields...)
		return core.GestureCancelled, nil
	}
	if err != nil {
		g.logger.Warn("gesture failed", append(fields, zap.Error(err))...)
		return core.GestureCancelled, err
	}
	g.logger.Debug("gesture completed", fields...)
	return core.GestureCompleted, nil
}
