// Package core provides the shared model types for droid-agent: screen geometry,
// collaborator contracts, task states, results and errors.
package core

import (
	"fmt"
	"math"
)

// Point is a screen coordinate in pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Distance returns the Euclidean distance between two points.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(float64(p.X-q.X), float64(p.Y-q.Y))
}

// Add returns p offset by (dx, dy).
func (p Point) Add(dx, dy int) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Rect is an on-screen bounding box in pixel coordinates.
// A valid Rect has Right >= Left and Bottom >= Top; zero-area boxes are valid.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Width returns the horizontal extent of the box.
func (r Rect) Width() int {
	return r.Right - r.Left
}

// Height returns the vertical extent of the box.
func (r Rect) Height() int {
	return r.Bottom - r.Top
}

// Center returns the midpoint of the box
func (r Rect) Center() Point {
	return Point{X: (r.Left + r.Right) / 2, Y: (r.Top + r.Bottom) / 2}
}

// Valid reports whether the box is well-formed.
func (r Rect) Valid() bool {
	return r.Right >= r.Left && r.Bottom >= r.Top
}

// Normalize swaps inverted edges so the result is Valid.
func (r Rect) Normalize() Rect {
	if r.Right < r.Left {
		r.Left, r.Right = r.Right, r.Left
	}
	if r.Bottom < r.Top {
		r.Top, r.Bottom = r.Bottom, r.Top
	}
	return r
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", r.Left, r.Top, r.Right, r.Bottom)
}
