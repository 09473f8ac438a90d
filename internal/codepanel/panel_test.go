package codepanel

import (
	"strings"
	"testing"
)

func TestHighlightLines_ClampsToSource(t *testing.T) {
	p := New()
	p.Load("a\nb\nc\nd")
	p.HighlightLines(0, 9)
	snap := p.Snapshot()
	if snap.Voice == nil || snap.Voice.Start != 1 || snap.Voice.End != 4 {
		t.Fatalf("expected clamp to 1..4, got %+v", snap.Voice)
	}
	p.HighlightLines(6, 8)
	if p.Snapshot().Voice != nil {
		t.Fatalf("expected empty range to clear highlight")
	}
}

func TestClearHighlight_KeepsCurrentLine(t *testing.T) {
	p := New()
	p.Load("x = 1\ny = 2")
	p.SetCurrentLine(2)
	p.HighlightLines(1, 1)
	p.ClearHighlight()
	snap := p.Snapshot()
	if snap.Voice != nil || snap.CurrentLine != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestOnChange_FiresOutsideLock(t *testing.T) {
	p := New()
	var calls int
	p.OnChange(func(s Snapshot) {
		calls++
		// Reading back from the callback must not deadlock.
		_ = p.Snapshot()
	})
	p.Load("one")
	p.SetCurrentLine(1)
	p.SetCurrentLine(1)
	p.HighlightLines(1, 1)
	if calls != 3 {
		t.Fatalf("expected 3 change callbacks, got %d", calls)
	}
}

func TestView_NumbersEveryLine(t *testing.T) {
	p := New()
	p.Load("def f():\n    return 1")
	view := p.View()
	if !strings.Contains(view, "def f():") || !strings.Contains(view, "return 1") {
		t.Fatalf("view missing source: %q", view)
	}
	if strings.Count(view, "\n") != 2 {
		t.Fatalf("expected two rendered lines, got %q", view)
	}
}
