package agent

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chadiek/algoviz/internal/codepanel"
	"github.com/chadiek/algoviz/internal/playback"
	"github.com/chadiek/algoviz/internal/step"
)

type idleScheduler struct{}

type idleTask struct{}

func (idleTask) Stop() {}

func (idleScheduler) Every(time.Duration, func()) playback.Task { return idleTask{} }

type sentResult struct {
	callID string
	result any
}

type fakeConn struct {
	mu        sync.Mutex
	connected bool
	texts     []string
	results   []sentResult
	sendErr   error
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeConn) SendFunctionResult(callID string, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, sentResult{callID, result})
	return nil
}

func steps(n int) []step.Step {
	out := make([]step.Step, n)
	for i := range out {
		line := i + 1
		out[i] = step.Step{Description: "step " + string(rune('a'+i)), LineNumber: &line}
	}
	return out
}

func newFixture(n int) (*playback.Engine, *codepanel.Panel, *fakeConn, *Bridge) {
	eng := playback.New(idleScheduler{}, nil)
	eng.Load(steps(n), playback.OriginSystem)
	panel := codepanel.New()
	panel.Load("a\nb\nc\nd\ne")
	conn := &fakeConn{connected: true}
	b := NewBridge("test", eng, panel, conn, nil)
	eng.SetAgentObserver(b)
	return eng, panel, conn, b
}

func call(name, args, id string) FunctionCall {
	return FunctionCall{Name: name, Arguments: json.RawMessage(args), CallID: id}
}

func TestSeekToStep_PausesAndMoves(t *testing.T) {
	eng, _, conn, b := newFixture(10)
	eng.Play(playback.OriginUser)
	conn.texts = nil

	res := b.HandleCall(call(ToolSeekToStep, `{"step_index":4}`, "c1"))
	if res["success"] != true || res["current_index"] != 4 || res["description"] != "step e" {
		t.Fatalf("unexpected result %v", res)
	}
	st := eng.State()
	if st.Index != 4 || st.Playing {
		t.Fatalf("expected paused at 4, got %+v", st)
	}
	if len(conn.texts) != 0 {
		t.Fatalf("agent-driven change must not be echoed, got %v", conn.texts)
	}
	if len(conn.results) != 1 || conn.results[0].callID != "c1" {
		t.Fatalf("expected result sent under c1, got %+v", conn.results)
	}
}

func TestSeekToStep_OutOfRange(t *testing.T) {
	eng, _, _, b := newFixture(10)
	eng.GoToIndex(3, playback.OriginUser)
	for _, args := range []string{`{"step_index":10}`, `{"step_index":-1}`} {
		res := b.HandleCall(call(ToolSeekToStep, args, "c"))
		if !res.Failed() {
			t.Fatalf("expected error for %s, got %v", args, res)
		}
	}
	if eng.State().Index != 3 {
		t.Fatalf("position must not move, got %d", eng.State().Index)
	}
}

func TestEmptySequence(t *testing.T) {
	_, _, _, b := newFixture(0)
	if res := b.HandleCall(call(ToolSeekToStep, `{"step_index":0}`, "s")); res["error"] != "no steps loaded" {
		t.Fatalf("unexpected seek result %v", res)
	}
	if res := b.HandleCall(call(ToolPlaySteps, `{"from_step":0,"to_step":3}`, "p")); res["error"] != "no steps loaded" {
		t.Fatalf("unexpected play result %v", res)
	}
}

func TestPlaySteps_ClampsAndStarts(t *testing.T) {
	eng, _, conn, b := newFixture(10)
	res := b.HandleCall(call(ToolPlaySteps, `{"from_step":-3,"to_step":99}`, "c2"))
	if res["playing_from"] != 0 || res["playing_to"] != 9 {
		t.Fatalf("expected clamped range 0..9, got %v", res)
	}
	st := eng.State()
	if !st.Playing || st.Index != 0 {
		t.Fatalf("expected playing from 0, got %+v", st)
	}
	if len(conn.texts) != 0 {
		t.Fatalf("unexpected echo %v", conn.texts)
	}
}

func TestHighlightAndClear(t *testing.T) {
	_, panel, _, b := newFixture(3)
	if res := b.HandleCall(call(ToolHighlightCodeLines, `{"start_line":2,"end_line":40}`, "h")); res["success"] != true {
		t.Fatalf("unexpected result %v", res)
	}
	v := panel.Snapshot().Voice
	if v == nil || v.Start != 2 || v.End != 5 {
		t.Fatalf("expected highlight 2..5, got %+v", v)
	}
	b.HandleCall(call(ToolClearHighlight, `{}`, "x"))
	if panel.Snapshot().Voice != nil {
		t.Fatalf("expected highlight cleared")
	}
}

func TestGetCurrentState(t *testing.T) {
	eng, _, _, b := newFixture(5)
	eng.GoToIndex(2, playback.OriginUser)
	res := b.HandleCall(call(ToolGetCurrentState, ``, "s"))
	if res["current_index"] != 2 || res["total_steps"] != 5 || res["is_playing"] != false || res["code_line"] != 3 {
		t.Fatalf("unexpected state %v", res)
	}
}

func TestPausePlayer(t *testing.T) {
	eng, _, _, b := newFixture(5)
	eng.Play(playback.OriginUser)
	if res := b.HandleCall(call(ToolPausePlayer, `{}`, "p")); res["success"] != true {
		t.Fatalf("unexpected result %v", res)
	}
	if eng.State().Playing {
		t.Fatalf("expected paused")
	}
}

func TestErrors(t *testing.T) {
	_, _, conn, b := newFixture(3)
	res := b.HandleCall(call("dance", `{}`, "u"))
	if res["error"] != "Unknown function: dance" {
		t.Fatalf("unexpected result %v", res)
	}
	res = b.HandleCall(call(ToolSeekToStep, `{"step_index":`, "m"))
	if !res.Failed() {
		t.Fatalf("expected malformed arguments to fail")
	}
	if len(conn.results) != 2 || conn.results[1].callID != "m" {
		t.Fatalf("error results must still be sent, got %+v", conn.results)
	}

	bare := NewBridge("bare", nil, nil, nil, nil)
	if res := bare.HandleCall(call(ToolPausePlayer, `{}`, "1")); res["error"] != "Player not available" {
		t.Fatalf("unexpected result %v", res)
	}
	if res := bare.HandleCall(call(ToolClearHighlight, `{}`, "2")); res["error"] != "Code panel not available" {
		t.Fatalf("unexpected result %v", res)
	}
}

func TestUserNavigationIsReported(t *testing.T) {
	eng, _, conn, _ := newFixture(10)
	conn.texts = nil
	eng.StepForward(playback.OriginUser)
	if len(conn.texts) != 1 {
		t.Fatalf("expected one status message, got %v", conn.texts)
	}
	want := `[User navigated to step 1 of 9. Description: "step b". Playing: false]`
	if conn.texts[0] != want {
		t.Fatalf("got %q want %q", conn.texts[0], want)
	}
}

func TestStatusSkippedWhenDisconnected(t *testing.T) {
	eng, _, conn, _ := newFixture(4)
	conn.connected = false
	conn.texts = nil
	eng.StepForward(playback.OriginUser)
	if len(conn.texts) != 0 {
		t.Fatalf("expected no status while disconnected, got %v", conn.texts)
	}
}

func TestStatusSendErrorIsSwallowed(t *testing.T) {
	eng, _, conn, _ := newFixture(4)
	conn.sendErr = errors.New("channel closed")
	eng.StepForward(playback.OriginUser)
	if eng.State().Index != 1 {
		t.Fatalf("navigation must succeed despite send failure")
	}
}

func TestTools_Catalog(t *testing.T) {
	names := map[string]bool{}
	for _, tool := range Tools() {
		names[tool.Name] = true
		if tool.Type != "function" || tool.Parameters.Type != "object" {
			t.Fatalf("malformed tool %+v", tool)
		}
	}
	for _, want := range []string{ToolSeekToStep, ToolHighlightCodeLines, ToolPlaySteps, ToolPausePlayer, ToolGetCurrentState, ToolClearHighlight} {
		if !names[want] {
			t.Fatalf("missing tool %s", want)
		}
	}
	if len(names) != 6 {
		t.Fatalf("expected 6 tools, got %d", len(names))
	}
	raw, err := json.Marshal(Tools()[3])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"required":[]`) || !strings.Contains(string(raw), `"properties":{}`) {
		t.Fatalf("empty schemas must serialize as empty collections: %s", raw)
	}
}

func TestInstructions_ListsSteps(t *testing.T) {
	p := Instructions(Problem{Name: "Dijkstra", Description: "shortest paths"}, "def f():\n    pass", steps(2))
	for _, want := range []string{`"Dijkstra"`, "shortest paths", "def f():", "2 total", "Step 0: line 1: step a", "Step 1: line 2: step b"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}
