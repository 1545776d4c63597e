package core

import (
	"context"
	"image"
	"time"
)

// Frame is a single screen bitmap plus its sequence number.
// Frames handed out by a CaptureSession belong to the session until released.
type Frame struct {
	Seq        uint64
	Image      image.Image
	CapturedAt time.Time
}

// CaptureSession is the screen mirroring transport.
//
// Teardown must run ReleaseSurface, then CloseReader, then StopSession.
type CaptureSession interface {
	// StartSession begins mirroring the screen into the frame buffer.
	StartSession(ctx context.Context) error

	// AcquireLatestFrame returns the newest buffered frame, or nil if none is buffered.
	// It never blocks.
	AcquireLatestFrame() *Frame

	// ReleaseFrame returns a frame's buffer slot to the session.
	ReleaseFrame(f *Frame)

	// RegisterOneShotAvailableListener installs cb to be called once when the next
	// frame is buffered. Returns an error if the session cannot deliver callbacks.
	RegisterOneShotAvailableListener(cb func()) error

	// UnregisterListener removes any installed listener.
	UnregisterListener()

	// ReleaseSurface detaches the render surface bound to the stream.
	ReleaseSurface() error

	// CloseReader closes the frame buffer reader.
	CloseReader() error

	// StopSession stops the underlying capture session.
	StopSession() error
}

// UINode is a read-only view of one accessibility node.
type UINode interface {
	Children() []UINode
	Bounds() Rect
	IsClickable() bool
	IsFocusable() bool
	IsVisibleToUser() bool
	IsEnabled() bool
	ClassName() string
	Text() string
	ContentDescription() string
	ResourceID() string
}

// UITree exposes the current accessibility tree.
type UITree interface {
	// Root returns the root node of the active window; nil when no window is available.
	Root(ctx context.Context) (UINode, error)
}

// GestureResult reports how a dispatched gesture ended.
type GestureResult int

const (
	GestureCompleted GestureResult = iota
	GestureCancelled
)

func (g GestureResult) String() string {
	if g == GestureCancelled {
		return "cancelled"
	}
	return "completed"
}

// GestureSink injects gestures and text into the device.
type GestureSink interface {
	// Connected reports whether the device interaction service is available.
	Connected() bool

	Tap(ctx context.Context, p Point) (GestureResult, error)
	LongPress(ctx context.Context, p Point) (GestureResult, error)
	Swipe(ctx context.Context, from, to Point, duration time.Duration) (GestureResult, error)
	SetText(ctx context.Context, value string) (GestureResult, error)
}

// VisionLanguageModel sends a prompt plus a PNG image and returns free text.
type VisionLanguageModel interface {
	Complete(ctx context.Context, prompt string, imagePNG []byte) (string, error)
}
