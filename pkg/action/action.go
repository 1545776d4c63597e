// Package action parses the model's reply into a single UI action and
// resolves it to screen coordinates.
package action

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/droid-agent/pkg/core"
	"github.com/devicelab-dev/droid-agent/pkg/element"
)

// SwipeDuration is how long a swipe gesture takes end to end.
const SwipeDuration = 400 * time.Millisecond

// Kind identifies the action variant.
type Kind int

const (
	KindError Kind = iota
	KindTap
	KindText
	KindLongPress
	KindSwipe
	KindFinish
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTap:
		return "tap"
	case KindText:
		return "text"
	case KindLongPress:
		return "long_press"
	case KindSwipe:
		return "swipe"
	case KindFinish:
		return "finish"
	case KindCancelled:
		return "cancelled"
	default:
		return "error"
	}
}

// Direction of a swipe.
type Direction int

const (
	DirectionUnknown Direction = iota
	Up
	Down
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "unknown"
	}
}

// ParseDirection maps a token to a Direction; unrecognized tokens are DirectionUnknown.
func ParseDirection(token string) Direction {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "up":
		return Up
	case "down":
		return Down
	case "left":
		return Left
	case "right":
		return Right
	default:
		return DirectionUnknown
	}
}

// Distance of a swipe.
type Distance int

const (
	DistanceUnknown Distance = iota
	Short
	Medium
	Long
)

func (d Distance) String() string {
	switch d {
	case Short:
		return "short"
	case Medium:
		return "medium"
	case Long:
		return "long"
	default:
		return "unknown"
	}
}

// Pixels is the swipe magnitude. Unknown distances use the medium magnitude.
func (d Distance) Pixels() int {
	switch d {
	case Short:
		return 100
	case Long:
		return 500
	default:
		return 300
	}
}

// ParseDistance maps a token to a Distance; unrecognized tokens are DistanceUnknown.
func ParseDistance(token string) Distance {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "short":
		return Short
	case "medium":
		return Medium
	case "long":
		return Long
	default:
		return DistanceUnknown
	}
}

// Action is one parsed decision. Only the fields for Kind are meaningful.
type Action struct {
	Kind      Kind
	Element   int // 1-based label
	Text      string
	Direction Direction
	Distance  Distance
	Reason    string
}

func Tap(label int) Action       { return Action{Kind: KindTap, Element: label} }
func LongPress(label int) Action { return Action{Kind: KindLongPress, Element: label} }
func Text(value string) Action   { return Action{Kind: KindText, Text: value} }
func Finish() Action             { return Action{Kind: KindFinish} }
func Cancelled() Action          { return Action{Kind: KindCancelled} }
func Error(reason string) Action { return Action{Kind: KindError, Reason: reason} }

func Swipe(label int, dir Direction, dist Distance) Action {
	return Action{Kind: KindSwipe, Element: label, Direction: dir, Distance: dist}
}

// String renders the action in the model's call syntax.
func (a Action) String() string {
	switch a.Kind {
	case KindTap:
		return fmt.Sprintf("tap(%d)", a.Element)
	case KindLongPress:
		return fmt.Sprintf("long_press(%d)", a.Element)
	case KindText:
		return "text(" + strconv.Quote(a.Text) + ")"
	case KindSwipe:
		return fmt.Sprintf("swipe(%d, %q, %q)", a.Element, a.Direction.String(), a.Distance.String())
	case KindFinish:
		return "FINISH"
	case KindCancelled:
		return "cancelled"
	default:
		return "error: " + a.Reason
	}
}

// Terminal reports whether the action ends the task.
func (a Action) Terminal() bool {
	return a.Kind == KindFinish || a.Kind == KindCancelled || a.Kind == KindError
}

// NeedsElement reports whether the action targets a labelled element.
func (a Action) NeedsElement() bool {
	return a.Kind == KindTap || a.Kind == KindLongPress || a.Kind == KindSwipe
}

// ResolveTap returns the center of the targeted element.
func ResolveTap(a Action, elements element.List) (core.Point, error) {
	e, ok := elements.At(a.Element)
	if !ok {
		return core.Point{}, outOfRange(a.Element, len(elements))
	}
	return e.Center(), nil
}

// ResolveSwipe returns the swipe endpoints anchored at the element center.
// An unknown direction yields a zero-length swipe.
func ResolveSwipe(a Action, elements element.List) (from, to core.Point, err error) {
	from, err = ResolveTap(a, elements)
	if err != nil {
		return core.Point{}, core.Point{}, err
	}
	d := a.Distance.Pixels()
	switch a.Direction {
	case Up:
		to = from.Add(0, -d)
	case Down:
		to = from.Add(0, d)
	case Left:
		to = from.Add(-d, 0)
	case Right:
		to = from.Add(d, 0)
	default:
		to = from
	}
	return from, to, nil
}

func outOfRange(label, n int) error {
	return core.ErrUnparsableAction.WithMessage(fmt.Sprintf("element %d out of range (1-%d)", label, n))
}
