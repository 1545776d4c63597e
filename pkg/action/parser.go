package action

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/devicelab-dev/droid-agent/pkg/element"
)

// Parser turns a model reply into an Action. It never returns an error;
// failures are KindError actions.
type Parser interface {
	Parse(ctx context.Context, raw string, elements element.List) Action
}

// CannotParse is the reason carried by unmatched replies.
const CannotParse = "cannot parse action"

var (
	tapPattern       = regexp.MustCompile(`tap\(\s*(-?\d+)\s*\)`)
	longPressPattern = regexp.MustCompile(`long_press\(\s*(-?\d+)\s*\)`)
	textPattern      = regexp.MustCompile(`(?s)text\(\s*"(.*)"\s*\)`)
	swipePattern     = regexp.MustCompile(`swipe\(\s*(\d+)\s*,\s*"([^"]*)"\s*,\s*"([^"]*)"\s*\)`)
)

// LegacyParser is the lenient grammar. A swipe with an unknown distance
// becomes medium and one with an unknown direction becomes zero-length.
type LegacyParser struct{}

// Parse matches FINISH, tap, text, long_press, then swipe; the first match wins.
func (LegacyParser) Parse(ctx context.Context, raw string, elements element.List) Action {
	return parse(ctx, raw, elements, false)
}

// StrictParser is the legacy grammar minus its fallbacks: swipe direction and
// distance must be one of the documented tokens.
type StrictParser struct{}

func (StrictParser) Parse(ctx context.Context, raw string, elements element.List) Action {
	return parse(ctx, raw, elements, true)
}

// Parse uses the LegacyParser.
func Parse(ctx context.Context, raw string, elements element.List) Action {
	return LegacyParser{}.Parse(ctx, raw, elements)
}

// NewParser returns the parser for a config name; anything but "strict" is legacy.
func NewParser(name string) Parser {
	if strings.EqualFold(name, "strict") {
		return StrictParser{}
	}
	return LegacyParser{}
}

func parse(ctx context.Context, raw string, elements element.List, strict bool) Action {
	if ctx.Err() != nil {
		return Cancelled()
	}

	// an index that does not resolve falls through to the next verb
	text := ActionText(raw)
	if strings.Contains(strings.ToUpper(text), "FINISH") {
		return Finish()
	}
	if strings.Contains(text, "tap(") {
		if a, ok := indexed(tapPattern, text, elements, Tap); ok {
			return a
		}
	}
	if strings.Contains(text, "text(") {
		if m := textPattern.FindStringSubmatch(text); m != nil {
			return Text(m[1])
		}
	}
	if strings.Contains(text, "long_press(") {
		if a, ok := indexed(longPressPattern, text, elements, LongPress); ok {
			return a
		}
	}
	if strings.Contains(text, "swipe(") {
		if a, ok := swipe(text, elements, strict); ok {
			return a
		}
	}
	return Error(CannotParse)
}

func indexed(re *regexp.Regexp, text string, elements element.List, build func(int) Action) (Action, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return Action{}, false
	}
	label, err := strconv.Atoi(m[1])
	if err != nil {
		return Action{}, false
	}
	if _, ok := elements.At(label); !ok {
		return Action{}, false
	}
	return build(label), true
}

func swipe(text string, elements element.List, strict bool) (Action, bool) {
	m := swipePattern.FindStringSubmatch(text)
	if m == nil {
		return Action{}, false
	}
	label, err := strconv.Atoi(m[1])
	if err != nil {
		return Action{}, false
	}
	if _, ok := elements.At(label); !ok {
		return Action{}, false
	}

	dir, dist := ParseDirection(m[2]), ParseDistance(m[3])
	if strict {
		if dir == DirectionUnknown {
			return Error("unknown swipe direction " + strconv.Quote(m[2])), true
		}
		if dist == DistanceUnknown {
			return Error("unknown swipe distance " + strconv.Quote(m[3])), true
		}
	} else if dist == DistanceUnknown {
		dist = Medium
	}
	return Swipe(label, dir, dist), true
}
