// Package capture coordinates single-flight frame acquisition from a screen
// mirroring session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/devicelab-dev/droid-agent/pkg/core"
)

// RenderSettleDelay lets the off-screen surface repaint after the buffer is
// drained. Without it the next frame is often a copy of the previous one.
const RenderSettleDelay = 150 * time.Millisecond

// maxDrain bounds the stale-frame drain loop.
const maxDrain = 64

var (
	ErrBusy    = core.ErrCaptureBusy
	ErrTimeout = core.ErrCaptureTimeout
	ErrClosed  = core.ErrCaptureClosed
)

// Config bounds every wait in a capture.
type Config struct {
	CallbackTimeout time.Duration
	PollAttempts    int
	PollInterval    time.Duration
	TeardownWait    time.Duration
}

// DefaultConfig returns a 3s callback wait and a 10x100ms polling fallback.
func DefaultConfig() Config {
	return Config{
		CallbackTimeout: 3 * time.Second,
		PollAttempts:    10,
		PollInterval:    100 * time.Millisecond,
		TeardownWait:    5 * time.Second,
	}
}

// Coordinator hands out at most one capture at a time.
type Coordinator struct {
	session    core.CaptureSession
	cfg        Config
	strategies []Strategy
	settle     time.Duration
	logger     *zap.Logger

	sem       *semaphore.Weighted
	capturing atomic.Bool
	closed    atomic.Bool
	seq       atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// New creates a Coordinator that tries the callback strategy, then polling.
func New(session core.CaptureSession, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		session: session,
		cfg:     cfg,
		strategies: []Strategy{
			CallbackStrategy{Timeout: cfg.CallbackTimeout},
			PollingStrategy{Attempts: cfg.PollAttempts, Interval: cfg.PollInterval},
		},
		settle: RenderSettleDelay,
		logger: logger,
		sem:    semaphore.NewWeighted(1),
	}
}

// Capturing reports whether a capture is in flight.
func (c *Coordinator) Capturing() bool {
	return c.capturing.Load()
}

// AcquireFrame returns a fresh frame owned by the caller.
//
// A concurrent call returns ErrBusy immediately. When timeout elapses first
// the result is ErrTimeout; when ctx is cancelled it is ctx.Err().
func (c *Coordinator) AcquireFrame(ctx context.Context, timeout time.Duration) (*core.Frame, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if !c.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	defer c.sem.Release(1)

	if c.closed.Load() {
		return nil, ErrClosed
	}

	c.capturing.Store(true)
	defer c.capturing.Store(false)

	parent := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	drained := c.drain()
	if err := sleep(ctx, c.settle); err != nil {
		return nil, c.waitError(parent, err)
	}

	var lastErr error
	for _, s := range c.strategies {
		f, err := s.Acquire(ctx, c.session)
		if err == nil {
			frame, ownErr := c.own(f)
			if ownErr != nil {
				return nil, ownErr
			}
			c.logger.Debug("frame acquired",
				zap.String("strategy", s.Name()),
				zap.Uint64("seq", frame.Seq),
				zap.Int("drained", drained))
			return frame, nil
		}
		if ctx.Err() != nil {
			return nil, c.waitError(parent, err)
		}
		c.logger.Debug("capture strategy failed", zap.String("strategy", s.Name()), zap.Error(err))
		lastErr = err
	}

	if errors.Is(lastErr, ErrTimeout) {
		return nil, lastErr
	}
	return nil, ErrTimeout.WithCause(lastErr)
}

func (c *Coordinator) waitError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout.WithCause(err)
	}
	return err
}

// drain releases buffered frames so the next acquisition is post-action.
func (c *Coordinator) drain() int {
	n := 0
	for ; n < maxDrain; n++ {
		f := c.session.AcquireLatestFrame()
		if f == nil {
			break
		}
		c.session.ReleaseFrame(f)
	}
	return n
}

// own copies the session frame and returns its buffer slot immediately.
func (c *Coordinator) own(f *core.Frame) (*core.Frame, error) {
	defer c.session.ReleaseFrame(f)
	if f.Image == nil {
		return nil, fmt.Errorf("capture session returned a frame without an image")
	}
	b := f.Image.Bounds()
	img := image.NewRGBA(b)
	draw.Draw(img, b, f.Image, b.Min, draw.Src)

	capturedAt := f.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	return &core.Frame{Seq: c.seq.Add(1), Image: img, CapturedAt: capturedAt}, nil
}

// Close waits up to TeardownWait for an in-flight capture, then releases the
// surface, closes the reader and stops the session, in that order.
// Later calls return the first result.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		wait := c.cfg.TeardownWait
		if wait <= 0 {
			wait = DefaultConfig().TeardownWait
		}
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.logger.Warn("capture still in flight at teardown", zap.Duration("waited", wait))
		} else {
			defer c.sem.Release(1)
		}
		cancel()

		c.closeErr = errors.Join(
			wrap("release surface", c.session.ReleaseSurface()),
			wrap("close reader", c.session.CloseReader()),
			wrap("stop session", c.session.StopSession()),
		)
	})
	return c.closeErr
}

func wrap(step string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", step, err)
}
