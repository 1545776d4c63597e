package uiautomator2

import (
	"context"
	"math"
	"net/http"
	"time"
)

// Click taps at screen coordinates.
func (c *Client) Click(ctx context.Context, x, y int) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	req := ClickRequest{Offset: &PointModel{X: x, Y: y}}
	_, err := c.request(ctx, http.MethodPost, c.sessionPath("/appium/gestures/click"), req)
	return err
}

// LongClick presses at screen coordinates for durationMs milliseconds.
func (c *Client) LongClick(ctx context.Context, x, y, durationMs int) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	req := LongClickRequest{Offset: &PointModel{X: x, Y: y}, Duration: durationMs}
	_, err := c.request(ctx, http.MethodPost, c.sessionPath("/appium/gestures/long_click"), req)
	return err
}

// Drag moves a finger from (x1,y1) to (x2,y2) at speed pixels per second.
func (c *Client) Drag(ctx context.Context, x1, y1, x2, y2, speed int) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	req := DragRequest{StartX: x1, StartY: y1, EndX: x2, EndY: y2, Speed: speed}
	_, err := c.request(ctx, http.MethodPost, c.sessionPath("/appium/gestures/drag"), req)
	return err
}

// SpeedFor converts a gesture duration into the server's pixels-per-second speed.
// Zero-length or instant gestures use the server minimum.
func SpeedFor(x1, y1, x2, y2 int, d time.Duration) int {
	const minSpeed = 100
	dist := math.Hypot(float64(x2-x1), float64(y2-y1))
	if d <= 0 || dist == 0 {
		return minSpeed
	}
	speed := int(dist / d.Seconds())
	if speed < minSpeed {
		return minSpeed
	}
	return speed
}
