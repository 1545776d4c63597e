package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/devicelab-dev/droid-agent/pkg/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	mu          sync.Mutex
	frames      []*core.Frame
	listener    func()
	listenerErr error
	deliver     *core.Frame // pushed shortly after a listener is registered
	released    []uint64
	calls       []string
	teardownErr error
	wg          sync.WaitGroup
}

func newFrame(seq uint64) *core.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.SetRGBA(0, 0, color.RGBA{R: uint8(seq), A: 255})
	return &core.Frame{Seq: seq, Image: img, CapturedAt: time.Now()}
}

func (s *fakeSession) push(f *core.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	cb := s.listener
	s.listener = nil
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (s *fakeSession) StartSession(context.Context) error { return nil }

func (s *fakeSession) AcquireLatestFrame() *core.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f
}

func (s *fakeSession) ReleaseFrame(f *core.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, f.Seq)
}

func (s *fakeSession) RegisterOneShotAvailableListener(cb func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listenerErr != nil {
		return s.listenerErr
	}
	s.listener = cb
	if s.deliver != nil {
		f := s.deliver
		s.deliver = nil
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			time.Sleep(20 * time.Millisecond)
			s.push(f)
		}()
	}
	return nil
}

func (s *fakeSession) UnregisterListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = nil
	s.calls = append(s.calls, "unregister")
}

func (s *fakeSession) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.teardownErr
}

func (s *fakeSession) ReleaseSurface() error { return s.record("release_surface") }
func (s *fakeSession) CloseReader() error    { return s.record("close_reader") }
func (s *fakeSession) StopSession() error    { return s.record("stop_session") }

func (s *fakeSession) snapshot() (released []uint64, calls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.released...), append([]string(nil), s.calls...)
}

func testConfig() Config {
	return Config{
		CallbackTimeout: 500 * time.Millisecond,
		PollAttempts:    3,
		PollInterval:    5 * time.Millisecond,
		TeardownWait:    time.Second,
	}
}

func newTestCoordinator(t *testing.T, s *fakeSession, cfg Config) *Coordinator {
	c := New(s, cfg, zaptest.NewLogger(t))
	c.settle = 0
	return c
}

func TestAcquireFrame_DrainsStaleThenWaitsForCallback(t *testing.T) {
	s := &fakeSession{deliver: newFrame(100)}
	for i := uint64(1); i <= 3; i++ {
		s.frames = append(s.frames, newFrame(i))
	}
	c := newTestCoordinator(t, s, testConfig())

	f, err := c.AcquireFrame(context.Background(), 0)
	require.NoError(t, err)
	s.wg.Wait()

	assert.Equal(t, uint64(1), f.Seq, "coordinator numbers its own frames")
	assert.Equal(t, uint8(100), f.Image.(*image.RGBA).RGBAAt(0, 0).R, "frame after drain is returned")

	released, calls := s.snapshot()
	assert.Equal(t, []uint64{1, 2, 3, 100}, released, "stale frames and the source frame are released")
	assert.Contains(t, calls, "unregister")
	assert.False(t, c.Capturing())
}

func TestAcquireFrame_FallsBackToPolling(t *testing.T) {
	s := &fakeSession{listenerErr: core.ErrListenerUnsupported}
	c := newTestCoordinator(t, s, testConfig())
	// polling sees the frame the drain missed
	c.strategies = []Strategy{
		CallbackStrategy{Timeout: time.Second},
		pushThenPoll{frame: newFrame(7), inner: PollingStrategy{Attempts: 2, Interval: time.Millisecond}},
	}

	f, err := c.AcquireFrame(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), f.Image.(*image.RGBA).RGBAAt(0, 0).R)
}

type pushThenPoll struct {
	frame *core.Frame
	inner PollingStrategy
}

func (p pushThenPoll) Name() string { return "push-then-poll" }

func (p pushThenPoll) Acquire(ctx context.Context, s core.CaptureSession) (*core.Frame, error) {
	s.(*fakeSession).push(p.frame)
	return p.inner.Acquire(ctx, s)
}

func TestAcquireFrame_TimeoutAfterAllStrategies(t *testing.T) {
	s := &fakeSession{listenerErr: errors.New("no looper")}
	cfg := testConfig()
	c := newTestCoordinator(t, s, cfg)

	start := time.Now()
	_, err := c.AcquireFrame(context.Background(), 0)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestAcquireFrame_OverallTimeout(t *testing.T) {
	s := &fakeSession{}
	cfg := testConfig()
	cfg.CallbackTimeout = 5 * time.Second
	c := newTestCoordinator(t, s, cfg)

	start := time.Now()
	_, err := c.AcquireFrame(context.Background(), 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquireFrame_Cancelled(t *testing.T) {
	s := &fakeSession{}
	cfg := testConfig()
	cfg.CallbackTimeout = 5 * time.Second
	c := newTestCoordinator(t, s, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := c.AcquireFrame(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquireFrame_SingleFlight(t *testing.T) {
	s := &fakeSession{}
	cfg := testConfig()
	cfg.CallbackTimeout = 5 * time.Second
	c := newTestCoordinator(t, s, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.AcquireFrame(ctx, 0)
		done <- err
	}()

	require.Eventually(t, c.Capturing, time.Second, time.Millisecond)

	start := time.Now()
	_, err := c.AcquireFrame(context.Background(), 0)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "busy must not queue")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestAcquireFrame_SettleDelayHonoursCancel(t *testing.T) {
	s := &fakeSession{}
	c := newTestCoordinator(t, s, testConfig())
	c.settle = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := c.AcquireFrame(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose_TeardownOrderAndIdempotent(t *testing.T) {
	s := &fakeSession{}
	c := newTestCoordinator(t, s, testConfig())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, calls := s.snapshot()
	assert.Equal(t, []string{"release_surface", "close_reader", "stop_session"}, calls)

	_, err := c.AcquireFrame(context.Background(), 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_JoinsErrorsButRunsEveryStep(t *testing.T) {
	s := &fakeSession{teardownErr: errors.New("already gone")}
	c := newTestCoordinator(t, s, testConfig())

	err := c.Close()
	assert.ErrorContains(t, err, "release surface")
	assert.ErrorContains(t, err, "stop session")

	_, calls := s.snapshot()
	assert.Len(t, calls, 3)
	assert.Equal(t, err, c.Close())
}

func TestClose_WaitsForInFlightCapture(t *testing.T) {
	s := &fakeSession{deliver: newFrame(9)}
	c := newTestCoordinator(t, s, testConfig())

	done := make(chan error, 1)
	go func() {
		_, err := c.AcquireFrame(context.Background(), 0)
		done <- err
	}()
	require.Eventually(t, c.Capturing, time.Second, time.Millisecond)

	require.NoError(t, c.Close())
	require.NoError(t, <-done)
	s.wg.Wait()

	released, calls := s.snapshot()
	assert.Contains(t, released, uint64(9))
	assert.Equal(t, "release_surface", calls[len(calls)-3], "teardown runs after the capture finished")
}
