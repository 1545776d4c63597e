package capture

import (
	"context"
	"errors"
	"time"

	"github.com/devicelab-dev/droid-agent/pkg/core"
)

// Strategy waits for one fresh frame from the session.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context, s core.CaptureSession) (*core.Frame, error)
}

// CallbackStrategy waits on a one-shot "frame available" listener.
// Sessions that cannot deliver callbacks return core.ErrListenerUnsupported.
type CallbackStrategy struct {
	Timeout time.Duration
}

func (CallbackStrategy) Name() string { return "callback" }

func (c CallbackStrategy) Acquire(ctx context.Context, s core.CaptureSession) (*core.Frame, error) {
	ready := make(chan struct{}, 1)
	err := s.RegisterOneShotAvailableListener(func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	if err != nil {
		if errors.Is(err, core.ErrListenerUnsupported) {
			return nil, err
		}
		return nil, core.ErrListenerUnsupported.WithCause(err)
	}
	defer s.UnregisterListener()

	// a frame may have landed between drain and registration
	if f := s.AcquireLatestFrame(); f != nil {
		return f, nil
	}

	timer := time.NewTimer(c.Timeout)
	defer timer.Stop()

	select {
	case <-ready:
		if f := s.AcquireLatestFrame(); f != nil {
			return f, nil
		}
		return nil, core.ErrCaptureTimeout.WithMessage("frame listener fired but no frame was buffered")
	case <-timer.C:
		return nil, core.ErrCaptureTimeout.WithMessage("no frame callback within " + c.Timeout.String())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PollingStrategy retries AcquireLatestFrame a fixed number of times.
type PollingStrategy struct {
	Attempts int
	Interval time.Duration
}

func (PollingStrategy) Name() string { return "polling" }

func (p PollingStrategy) Acquire(ctx context.Context, s core.CaptureSession) (*core.Frame, error) {
	for i := 0; i < p.Attempts; i++ {
		if f := s.AcquireLatestFrame(); f != nil {
			return f, nil
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return nil, err
		}
	}
	return nil, core.ErrCaptureTimeout.WithMessage("no frame after polling")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
