package uiautomator2

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/droid-agent/pkg/core"
)

// frameBufferSize is how many frames the reader holds; older frames are dropped.
const frameBufferSize = 2

// DefaultFrameInterval is the screenshot period when none is configured.
const DefaultFrameInterval = 250 * time.Millisecond

// Screenshotter returns the current screen as PNG.
// Implemented by uiautomator2.Client.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// ScreenStream implements core.CaptureSession by polling screenshots.
// A render goroutine feeds a bounded frame buffer and fires one-shot listeners.
type ScreenStream struct {
	client   Screenshotter
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	frames   []*core.Frame
	listener func()
	seq      uint64
	started  bool
	released bool
	closed   bool
	stopped  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
}

var _ core.CaptureSession = (*ScreenStream)(nil)

// NewScreenStream creates an unstarted stream.
func NewScreenStream(client Screenshotter, interval time.Duration, logger *zap.Logger) *ScreenStream {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScreenStream{
		client:   client,
		interval: interval,
		logger:   logger.Named("screen"),
	}
}

// StartSession starts the render goroutine. The goroutine outlives ctx and
// stops on ReleaseSurface or StopSession.
func (s *ScreenStream) StartSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.closed {
		return core.ErrCaptureClosed
	}
	if s.started {
		return fmt.Errorf("screen stream already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		s.render(gctx)
		return nil
	})

	s.started = true
	s.cancel = cancel
	s.group = g
	return nil
}

func (s *ScreenStream) render(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.captureOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *ScreenStream) captureOnce(ctx context.Context) {
	data, err := s.client.Screenshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("screenshot failed", zap.Error(err))
		}
		return
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		s.logger.Debug("decode screenshot", zap.Error(err))
		return
	}
	s.push(&core.Frame{Image: img, CapturedAt: time.Now()})
}

func (s *ScreenStream) push(f *core.Frame) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	f.Seq = s.seq
	s.frames = append(s.frames, f)
	if len(s.frames) > frameBufferSize {
		s.frames = s.frames[len(s.frames)-frameBufferSize:]
	}
	cb := s.listener
	s.listener = nil
	s.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// AcquireLatestFrame hands out the newest frame and discards older ones.
func (s *ScreenStream) AcquireLatestFrame() *core.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.frames) == 0 {
		return nil
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:0]
	return f
}

// ReleaseFrame drops the frame's pixels.
func (s *ScreenStream) ReleaseFrame(f *core.Frame) {
	if f != nil {
		f.Image = nil
	}
}

func (s *ScreenStream) RegisterOneShotAvailableListener(cb func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.released {
		return core.ErrCaptureClosed
	}
	if !s.started {
		return fmt.Errorf("screen stream not started")
	}
	s.listener = cb
	return nil
}

func (s *ScreenStream) UnregisterListener() {
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
}

// ReleaseSurface stops the render goroutine and waits for it to exit.
func (s *ScreenStream) ReleaseSurface() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	cancel, g := s.cancel, s.group
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return g.Wait()
}

// CloseReader drops buffered frames and any pending listener.
func (s *ScreenStream) CloseReader() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.frames = nil
	s.listener = nil
	return nil
}

// StopSession marks the stream stopped. It also stops rendering if
// ReleaseSurface was skipped.
func (s *ScreenStream) StopSession() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	return s.ReleaseSurface()
}
