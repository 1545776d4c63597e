package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/droid-agent/pkg/core"
	"github.com/devicelab-dev/droid-agent/pkg/element"
)

func fiveElements() element.List {
	l := make(element.List, 5)
	for i := range l {
		top := i * 200
		l[i] = element.Element{ID: string(rune('a' + i)), Bounds: core.Rect{Left: 100, Top: top, Right: 300, Bottom: top + 100}}
	}
	// element 3 centered at (200,500)
	l[2].Bounds = core.Rect{Left: 100, Top: 400, Right: 300, Bottom: 600}
	return l
}

func TestParse_Grammar(t *testing.T) {
	els := fiveElements()
	tests := []struct {
		name string
		raw  string
		want Action
	}{
		{"finish keyword", "Observation: done\nThought: all good\nAction: FINISH\nSummary: finished", Finish()},
		{"finish lower case", "Action: finish", Finish()},
		{"tap", "Action: tap(3)", Tap(3)},
		{"tap with spaces", "Action:  tap( 2 )", Tap(2)},
		{"text", `Action: text("hello world")`, Text("hello world")},
		{"text with quotes", `Action: text("say "hi"")`, Text(`say "hi"`)},
		{"long press", "Action: long_press(1)", LongPress(1)},
		{"swipe", `Action: swipe(2, "up", "short")`, Swipe(2, Up, Short)},
		{"swipe mixed case tokens", `Action: swipe(4, "Right", "LONG")`, Swipe(4, Right, Long)},
		{"no sections uses raw", "I think tap(5) is best", Tap(5)},
		{"unknown verb", "Action: dance(1)", Error(CannotParse)},
		{"tap without integer", "Action: tap(first)", Error(CannotParse)},
		{"text without quotes", "Action: text(hello)", Error(CannotParse)},
		{"swipe wrong arity", `Action: swipe(2, "up")`, Error(CannotParse)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(context.Background(), tt.raw, els))
		})
	}
}

func TestParse_FinishWinsOverOtherVerbs(t *testing.T) {
	got := Parse(context.Background(), "Action: tap(1) then FINISH", fiveElements())
	assert.Equal(t, KindFinish, got.Kind)
}

func TestParse_OutOfRangeIndex(t *testing.T) {
	assert.Equal(t, Error(CannotParse), Parse(context.Background(), "Action: tap(7)", fiveElements()))
	assert.Equal(t, Error(CannotParse), Parse(context.Background(), "Action: long_press(0)", fiveElements()))
	assert.Equal(t, Error(CannotParse), Parse(context.Background(), `Action: swipe(6, "up", "short")`, fiveElements()))
}

func TestParse_InvalidIndexFallsThrough(t *testing.T) {
	got := Parse(context.Background(), "Action: tap(9) or maybe long_press(2)", fiveElements())
	assert.Equal(t, LongPress(2), got)
}

func TestParse_CancelledShortCircuits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, p := range []Parser{LegacyParser{}, StrictParser{}} {
		assert.Equal(t, Cancelled(), p.Parse(ctx, "Action: tap(1)", fiveElements()))
	}
}

func TestLegacyParser_SwipeFallbacks(t *testing.T) {
	els := fiveElements()

	got := LegacyParser{}.Parse(context.Background(), `Action: swipe(3, "up", "huge")`, els)
	assert.Equal(t, Swipe(3, Up, Medium), got)

	got = LegacyParser{}.Parse(context.Background(), `Action: swipe(3, "sideways", "short")`, els)
	require.Equal(t, KindSwipe, got.Kind)
	from, to, err := ResolveSwipe(got, els)
	require.NoError(t, err)
	assert.Equal(t, from, to, "unknown direction degenerates to zero-length swipe")
}

func TestStrictParser_RejectsUnknownTokens(t *testing.T) {
	els := fiveElements()

	got := StrictParser{}.Parse(context.Background(), `Action: swipe(3, "up", "huge")`, els)
	assert.Equal(t, KindError, got.Kind)
	assert.Contains(t, got.Reason, "distance")

	got = StrictParser{}.Parse(context.Background(), `Action: swipe(3, "sideways", "short")`, els)
	assert.Equal(t, KindError, got.Kind)
	assert.Contains(t, got.Reason, "direction")

	got = StrictParser{}.Parse(context.Background(), `Action: swipe(3, "down", "long")`, els)
	assert.Equal(t, Swipe(3, Down, Long), got)
}

func TestNewParser(t *testing.T) {
	assert.IsType(t, StrictParser{}, NewParser("STRICT"))
	assert.IsType(t, LegacyParser{}, NewParser("legacy"))
	assert.IsType(t, LegacyParser{}, NewParser(""))
}
