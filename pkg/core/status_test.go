package core

import "testing"

func TestTaskState_String(t *testing.T) {
	tests := []struct {
		state    TaskState
		expected string
	}{
		{StateIdle, "idle"},
		{StateRunning, "running"},
		{StateCompleted, "completed"},
		{StateCancelled, "cancelled"},
		{StateFailed, "failed"},
		{StateRoundLimitReached, "round_limit_reached"},
		{TaskState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("TaskState(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestTaskState_IsTerminal(t *testing.T) {
	terminal := []TaskState{StateCompleted, StateCancelled, StateFailed, StateRoundLimitReached}
	nonTerminal := []TaskState{StateIdle, StateRunning}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("TaskState(%s).IsTerminal() = false, want true", s)
		}
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("TaskState(%s).IsTerminal() = true, want false", s)
		}
	}
}

func TestTaskState_IsSuccess(t *testing.T) {
	if !StateRoundLimitReached.IsSuccess() {
		t.Error("round limit should be a soft success")
	}
	if !StateCompleted.IsSuccess() {
		t.Error("completed should be success")
	}
	if StateFailed.IsSuccess() || StateCancelled.IsSuccess() {
		t.Error("failed and cancelled are not success")
	}
}

func TestRoundOutcome_String(t *testing.T) {
	tests := map[RoundOutcome]string{
		OutcomeContinue:  "continue",
		OutcomeFinish:    "finish",
		OutcomeCancelled: "cancelled",
		OutcomeError:     "error",
		RoundOutcome(42): "unknown",
	}
	for outcome, want := range tests {
		if got := outcome.String(); got != want {
			t.Errorf("RoundOutcome(%d).String() = %q, want %q", outcome, got, want)
		}
	}
}

func TestErrorCategory_String(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected string
	}{
		{ErrCategoryNone, "none"},
		{ErrCategoryCapture, "capture"},
		{ErrCategoryModel, "model"},
		{ErrCategoryParse, "parse"},
		{ErrCategoryGesture, "gesture"},
		{ErrCategoryConfig, "config"},
		{ErrCategoryCancelled, "cancelled"},
		{ErrCategoryTimeout, "timeout"},
		{ErrorCategory(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.expected {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", tt.category, got, tt.expected)
		}
	}
}

func TestTaskState_TextRoundTrip(t *testing.T) {
	for st := StateIdle; st <= StateRoundLimitReached; st++ {
		b, err := st.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got TaskState
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", b, err)
		}
		if got != st {
			t.Errorf("round trip %v -> %v", st, got)
		}
	}

	var s TaskState
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown state")
	}
	var o RoundOutcome
	if err := o.UnmarshalText([]byte("finish")); err != nil || o != OutcomeFinish {
		t.Errorf("UnmarshalText(finish) = %v, %v", o, err)
	}
}
