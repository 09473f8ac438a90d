package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chadiek/algoviz/internal/step"
)

// MaxLogLines bounds the log view, matching what the execution service keeps per step.
const MaxLogLines = 50

// Frame is everything a front end needs to paint one position.
type Frame struct {
	Empty       bool       `json:"empty"`
	Index       int        `json:"index"`
	Total       int        `json:"total"`
	Playing     bool       `json:"playing"`
	Description string     `json:"description"`
	Line        int        `json:"line"`
	Progress    float64    `json:"progress"`
	Logs        []string   `json:"logs"`
	View        string     `json:"view,omitempty"`
	Step        *step.Step `json:"step,omitempty"`
}

// Counter formats the "Step i / n" label.
func (f Frame) Counter() string {
	if f.Empty {
		return "Step 0 / 0"
	}
	return fmt.Sprintf("Step %d / %d", f.Index+1, f.Total)
}

// Sink receives frames. Push runs under the playback lock and must not block.
type Sink interface {
	Push(f Frame)
}

type SinkFunc func(Frame)

func (fn SinkFunc) Push(f Frame) { fn(f) }

// LineMarker is the code display's per-step line marker.
type LineMarker interface {
	SetCurrentLine(line int)
}

// Dispatcher fans every playback change out to the renderer, the code
// display and the registered sinks.
type Dispatcher struct {
	code LineMarker

	mu       sync.Mutex
	renderer Renderer
	sinks    []Sink
	last     *step.Step
	lastIdx  int
}

func NewDispatcher(code LineMarker, sinks ...Sink) *Dispatcher {
	return &Dispatcher{code: code, sinks: sinks, lastIdx: -1}
}

// SetRenderer selects the renderer for the current run.
func (d *Dispatcher) SetRenderer(r Renderer) {
	d.mu.Lock()
	d.renderer = r
	d.mu.Unlock()
}

func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// LastShown returns the step most recently pushed, or nil and -1.
func (d *Dispatcher) LastShown() (*step.Step, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.lastIdx
}

// OnStepChanged implements playback.Observer.
func (d *Dispatcher) OnStepChanged(s *step.Step, index, total int, playing bool) {
	d.mu.Lock()
	r := d.renderer
	sinks := append([]Sink(nil), d.sinks...)
	d.last, d.lastIdx = s, index
	d.mu.Unlock()

	f := Frame{Index: index, Total: total, Playing: playing, Logs: []string{}}
	if s == nil {
		f.Empty = true
		f.Index = -1
	} else {
		f.Description = s.Description
		f.Line = s.Line()
		f.Step = s
		if total > 1 {
			f.Progress = float64(index) / float64(total-1) * 100
		}
		logs := s.LogMessages
		if len(logs) > MaxLogLines {
			logs = logs[len(logs)-MaxLogLines:]
		}
		f.Logs = logs
		if r != nil {
			f.View = r.Render(s)
		}
		f.View += AuxView(s.AuxPanels)
	}
	if d.code != nil {
		d.code.SetCurrentLine(f.Line)
	}
	for _, sink := range sinks {
		sink.Push(f)
	}
}

// WriterSink prints frames as plain text, for terminal replay.
type WriterSink struct {
	W        io.Writer
	ShowLogs bool
}

func (w WriterSink) Push(f Frame) {
	var b strings.Builder
	state := "⏸"
	if f.Playing {
		state = "▶"
	}
	fmt.Fprintf(&b, "%s %s", state, f.Counter())
	if f.Description != "" {
		fmt.Fprintf(&b, "  %s", f.Description)
	}
	b.WriteString("\n")
	b.WriteString(f.View)
	if w.ShowLogs && len(f.Logs) > 0 {
		b.WriteString("log: " + f.Logs[len(f.Logs)-1] + "\n")
	}
	_, _ = io.WriteString(w.W, b.String())
}
