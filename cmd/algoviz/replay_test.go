package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chadiek/algoviz/internal/backend"
	"github.com/chadiek/algoviz/internal/playback"
	"github.com/chadiek/algoviz/internal/step"
)

type fakeService struct {
	run       *step.Run
	err       error
	gotParams map[string]any
	problems  []backend.Problem
}

func (f *fakeService) Run(_ context.Context, _ string, params map[string]any, _ bool) (*step.Run, error) {
	f.gotParams = params
	return f.run, f.err
}

func (f *fakeService) Problems(context.Context) ([]backend.Problem, error) { return f.problems, f.err }

func arrayRun(n int) *step.Run {
	steps := make([]step.Step, n)
	for i := range steps {
		line := i + 1
		steps[i] = step.Step{
			Description: "compare " + string(rune('a'+i)),
			LineNumber:  &line,
			Array:       []step.ArrayCell{{Value: float64(i)}},
			LogMessages: []string{"log " + string(rune('a'+i))},
		}
	}
	return &step.Run{Kind: step.KindArray, SourceCode: "x\ny\nz\nw", Steps: steps}
}

func TestReplay_PlaysRangeToCompletion(t *testing.T) {
	svc := &fakeService{run: arrayRun(4)}
	var out bytes.Buffer
	opts := replayOptions{problem: "bubble", params: map[string]string{"n": "4", "name": "abc"}, from: 1, to: 2, speed: 20, logs: true, sched: playback.TickerScheduler{}}

	done := make(chan error, 1)
	go func() { done <- replay(context.Background(), &out, svc, opts) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("replay did not finish")
	}

	if svc.gotParams["n"] != float64(4) || svc.gotParams["name"] != "abc" {
		t.Fatalf("unexpected params %v", svc.gotParams)
	}
	s := out.String()
	if !strings.Contains(s, "▶ Step 2 / 4  compare b") {
		t.Fatalf("expected playing frame for step 2 in:\n%s", s)
	}
	if !strings.Contains(s, "⏸ Step 3 / 4  compare c") {
		t.Fatalf("expected final paused frame on step 3 in:\n%s", s)
	}
	if strings.Contains(s, "compare d") {
		t.Fatalf("played past the range end:\n%s", s)
	}
	if !strings.Contains(s, "log: log c") {
		t.Fatalf("expected log line in:\n%s", s)
	}
}

func TestReplay_CancelStops(t *testing.T) {
	svc := &fakeService{run: arrayRun(4)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	if err := replay(ctx, &out, svc, replayOptions{problem: "p", from: 0, to: -1, speed: 1, sched: playback.TickerScheduler{}}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.Contains(out.String(), "stopped at step 1 / 4") {
		t.Fatalf("expected stop summary after cancel:\n%s", out.String())
	}
}

func TestReplay_CodeView(t *testing.T) {
	svc := &fakeService{run: arrayRun(2)}
	var out bytes.Buffer
	if err := replay(context.Background(), &out, svc, replayOptions{problem: "p", to: -1, speed: 20, code: true, sched: playback.TickerScheduler{}}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.Contains(out.String(), "1 x") || !strings.Contains(out.String(), "4 w") {
		t.Fatalf("expected numbered source in:\n%s", out.String())
	}
}

func TestReplay_Errors(t *testing.T) {
	svc := &fakeService{err: &step.ServiceError{Message: "Unknown problem: nope"}}
	err := replay(context.Background(), &bytes.Buffer{}, svc, replayOptions{problem: "nope"})
	var se *step.ServiceError
	if !errors.As(err, &se) || !strings.Contains(err.Error(), "Unknown problem: nope") {
		t.Fatalf("expected service error, got %v", err)
	}

	var out bytes.Buffer
	empty := &fakeService{run: &step.Run{Kind: step.KindArray, Steps: []step.Step{}}}
	if err := replay(context.Background(), &out, empty, replayOptions{problem: "p"}); err != nil || !strings.Contains(out.String(), "no steps") {
		t.Fatalf("expected no steps message, got %q err=%v", out.String(), err)
	}
}

func TestListProblems(t *testing.T) {
	svc := &fakeService{problems: []backend.Problem{{Name: "n-queens", Topic: "backtracking", RendererType: "board", Description: "Place queens"}}}
	var out bytes.Buffer
	if err := listProblems(context.Background(), &out, svc); err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"PROBLEM", "n-queens", "backtracking", "board", "Place queens"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing %q in:\n%s", want, out.String())
		}
	}
}

func TestParseParams(t *testing.T) {
	got := parseParams(map[string]string{"n": "8", "arr": "[3,1,2]", "word": "hello"})
	if got["n"] != float64(8) || got["word"] != "hello" {
		t.Fatalf("unexpected params %v", got)
	}
	if arr, ok := got["arr"].([]any); !ok || len(arr) != 3 {
		t.Fatalf("expected decoded array, got %v", got["arr"])
	}
}
