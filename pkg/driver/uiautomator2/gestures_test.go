package uiautomator2

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/droid-agent/pkg/core"
	"github.com/devicelab-dev/droid-agent/pkg/uiautomator2"
)

type recorded struct {
	path string
	body map[string]interface{}
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) add(rec recorded) {
	r.mu.Lock()
	r.calls = append(r.calls, rec)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.calls...)
}

func newGestureServer(t *testing.T, status int) (*Gestures, *recorder, func()) {
	t.Helper()
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := recorded{path: r.URL.Path}
		json.NewDecoder(r.Body).Decode(&call.body)
		rec.add(call)
		if r.URL.Path == "/session/s1/element/active" {
			w.Write([]byte(`{"value":{"ELEMENT":"e1"}}`))
			return
		}
		w.WriteHeader(status)
		w.Write([]byte(`{"value":null}`))
	}))
	client := uiautomator2.NewTestClient(server.URL, server.Client(), "s1")
	return NewGestures(client, nil), rec, server.Close
}

func TestGesturesTap(t *testing.T) {
	g, rec, done := newGestureServer(t, http.StatusOK)
	defer done()

	res, err := g.Tap(context.Background(), core.Point{X: 10, Y: 20})
	if err != nil || res != core.GestureCompleted {
		t.Fatalf("Tap() = %v, %v", res, err)
	}
	calls := rec.snapshot()
	if len(calls) != 1 || calls[0].path != "/session/s1/appium/gestures/click" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	offset := calls[0].body["offset"].(map[string]interface{})
	if offset["x"].(float64) != 10 || offset["y"].(float64) != 20 {
		t.Errorf("unexpected offset %v", offset)
	}
}

func TestGesturesLongPressHoldsOneSecond(t *testing.T) {
	g, rec, done := newGestureServer(t, http.StatusOK)
	defer done()

	if res, err := g.LongPress(context.Background(), core.Point{X: 1, Y: 2}); err != nil || res != core.GestureCompleted {
		t.Fatalf("LongPress() = %v, %v", res, err)
	}
	calls := rec.snapshot()
	if got := calls[0].body["duration"].(float64); got != 1000 {
		t.Errorf("expected duration 1000, got %v", got)
	}
}

func TestGesturesSwipe(t *testing.T) {
	g, rec, done := newGestureServer(t, http.StatusOK)
	defer done()

	res, err := g.Swipe(context.Background(), core.Point{X: 0, Y: 500}, core.Point{X: 0, Y: 200}, 400*time.Millisecond)
	if err != nil || res != core.GestureCompleted {
		t.Fatalf("Swipe() = %v, %v", res, err)
	}
	calls := rec.snapshot()
	body := calls[0].body
	if calls[0].path != "/session/s1/appium/gestures/drag" {
		t.Errorf("unexpected path %s", calls[0].path)
	}
	if body["startY"].(float64) != 500 || body["endY"].(float64) != 200 || body["speed"].(float64) != 750 {
		t.Errorf("unexpected body %v", body)
	}
}

func TestGesturesSetText(t *testing.T) {
	g, rec, done := newGestureServer(t, http.StatusOK)
	defer done()

	if res, err := g.SetText(context.Background(), "hello"); err != nil || res != core.GestureCompleted {
		t.Fatalf("SetText() = %v, %v", res, err)
	}
	want := []string{
		"/session/s1/element/active",
		"/session/s1/element/e1/clear",
		"/session/s1/element/e1/value",
	}
	calls := rec.snapshot()
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(calls))
	}
	for i, p := range want {
		if calls[i].path != p {
			t.Errorf("call %d: got %s, want %s", i, calls[i].path, p)
		}
	}
	if calls[2].body["text"] != "hello" {
		t.Errorf("unexpected text %v", calls[2].body["text"])
	}
}

func TestGesturesCancelledContext(t *testing.T) {
	g, rec, done := newGestureServer(t, http.StatusOK)
	defer done()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := g.Tap(ctx, core.Point{X: 1, Y: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != core.GestureCancelled {
		t.Errorf("expected cancelled, got %v", res)
	}
	calls := rec.snapshot()
	if len(calls) != 0 {
		t.Errorf("expected no request, got %d", len(calls))
	}
}

func TestGesturesServerError(t *testing.T) {
	g, _, done := newGestureServer(t, http.StatusInternalServerError)
	defer done()

	if _, err := g.Tap(context.Background(), core.Point{X: 1, Y: 1}); err == nil {
		t.Error("expected error from failed gesture")
	}
}

func TestGesturesNotConnected(t *testing.T) {
	client := uiautomator2.NewTestClient("http://127.0.0.1:1", http.DefaultClient, "")
	g := NewGestures(client, nil)
	if g.Connected() {
		t.Error("expected disconnected without a session")
	}
	if _, err := g.Tap(context.Background(), core.Point{}); !errors.Is(err, core.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
