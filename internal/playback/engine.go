package playback

import (
	"math"
	"sync"
	"time"

	"github.com/chadiek/algoviz/internal/step"
)

// Origin tags who asked for a change. Changes made on behalf of the agent
// are not reported back to it.
type Origin int

const (
	OriginSystem Origin = iota
	OriginUser
	OriginAgent
)

func (o Origin) String() string {
	switch o {
	case OriginUser:
		return "user"
	case OriginAgent:
		return "agent"
	default:
		return "system"
	}
}

const (
	DefaultSpeed = 400 * time.Millisecond
	MinSlider    = 1
	MaxSlider    = 20
)

// Observer receives every position or play-state change. step is nil and
// index is -1 when the sequence is empty. Implementations run under the
// engine lock and must not call back into the engine.
type Observer interface {
	OnStepChanged(s *step.Step, index, total int, playing bool)
}

// State is a read-only snapshot of the engine.
type State struct {
	Index   int
	Total   int
	Playing bool
	Step    *step.Step
	Speed   time.Duration
}

// Engine owns the current position and play state of one step sequence.
// Every operation runs to completion, notification included, before
// another may start.
type Engine struct {
	sched Scheduler

	mu          sync.Mutex
	steps       []step.Step
	pos         int
	playing     bool
	task        Task
	gen         uint64
	tickOrigin  Origin
	speed       time.Duration
	rangeTarget int
	hasRange    bool

	observer Observer
	agent    Observer
}

// New returns an empty engine. A nil scheduler uses TickerScheduler.
func New(sched Scheduler, observer Observer) *Engine {
	if sched == nil {
		sched = TickerScheduler{}
	}
	return &Engine{sched: sched, observer: observer, pos: -1, speed: DefaultSpeed}
}

// SetAgentObserver installs or (with nil) removes the agent-facing observer.
func (e *Engine) SetAgentObserver(o Observer) {
	e.mu.Lock()
	e.agent = o
	e.mu.Unlock()
}

// Load stops playback and replaces the sequence.
func (e *Engine) Load(steps []step.Step, origin Origin) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	e.steps = steps
	if len(steps) == 0 {
		e.pos = -1
	} else {
		e.pos = 0
	}
	e.notifyLocked(origin)
}

func (e *Engine) Play(origin Origin) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playLocked(origin)
}

func (e *Engine) playLocked(origin Origin) {
	if len(e.steps) == 0 {
		return
	}
	if e.pos >= len(e.steps)-1 {
		e.pos = 0
	}
	e.hasRange = false
	e.startLocked(origin)
	e.notifyLocked(origin)
}

func (e *Engine) Pause(origin Origin) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseLocked(origin)
}

func (e *Engine) pauseLocked(origin Origin) {
	e.stopLocked()
	e.notifyLocked(origin)
}

func (e *Engine) TogglePlay(origin Origin) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing {
		e.pauseLocked(origin)
	} else {
		e.playLocked(origin)
	}
}

func (e *Engine) StepForward(origin Origin) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pos < len(e.steps)-1 {
		e.pos++
		e.notifyLocked(origin)
	}
}

func (e *Engine) StepBack(origin Origin) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pos > 0 {
		e.pos--
		e.notifyLocked(origin)
	}
}

func (e *Engine) GoToStart(origin Origin) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseLocked(origin)
	if len(e.steps) > 0 {
		e.pos = 0
	}
	e.notifyLocked(origin)
}

func (e *Engine) GoToEnd(origin Origin) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseLocked(origin)
	if len(e.steps) > 0 {
		e.pos = len(e.steps) - 1
	}
	e.notifyLocked(origin)
}

// GoToIndex jumps to i; out-of-range indices are ignored.
func (e *Engine) GoToIndex(i int, origin Origin) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= 0 && i < len(e.steps) {
		e.pos = i
		e.notifyLocked(origin)
	}
}

// Scrub maps a progress-bar ratio in [0,1] onto the sequence.
func (e *Engine) Scrub(ratio float64, origin Origin) {
	if math.IsNaN(ratio) {
		return
	}
	ratio = math.Max(0, math.Min(1, ratio))
	e.mu.Lock()
	n := len(e.steps)
	e.mu.Unlock()
	if n == 0 {
		return
	}
	e.GoToIndex(int(math.Round(ratio*float64(n-1))), origin)
}

// SpeedForSlider maps a 1..20 control value to a tick period.
func SpeedForSlider(slider int) time.Duration {
	if slider < MinSlider {
		slider = MinSlider
	}
	if slider > MaxSlider {
		slider = MaxSlider
	}
	ms := math.Round(1200 / float64(slider))
	return time.Duration(ms) * time.Millisecond
}

// SetSpeed changes the tick period; a live task is replaced without
// moving the position.
func (e *Engine) SetSpeed(slider int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = SpeedForSlider(slider)
	if e.playing {
		e.startLocked(e.tickOrigin)
	}
}

// PlayRange plays from..to inclusive and pauses at to. Both bounds are
// clamped into the sequence. Observers first see a paused frame at the old
// position, then the playing frame at from.
func (e *Engine) PlayRange(from, to int, origin Origin) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.steps)
	if n == 0 {
		return
	}
	from = clamp(from, 0, n-1)
	to = clamp(to, 0, n-1)
	e.pauseLocked(origin)
	e.pos = from
	e.rangeTarget = to
	e.hasRange = true
	e.startLocked(origin)
	e.notifyLocked(origin)
}

// State returns a snapshot of the engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{Index: e.pos, Total: len(e.steps), Playing: e.playing, Step: e.currentLocked(), Speed: e.speed}
}

// Refresh re-notifies the render observer with the current step, for
// consumers that need a repaint.
func (e *Engine) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.observer != nil {
		e.observer.OnStepChanged(e.currentLocked(), e.pos, len(e.steps), e.playing)
	}
}

// tick is the auto-advance step. Ticks from a cancelled task are dropped.
func (e *Engine) tick(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing || gen != e.gen {
		return
	}
	origin := e.tickOrigin
	if e.hasRange && e.pos >= e.rangeTarget {
		e.pauseLocked(origin)
		return
	}
	if e.pos >= len(e.steps)-1 {
		e.pauseLocked(origin)
		return
	}
	e.pos++
	e.notifyLocked(origin)
	if (e.hasRange && e.pos >= e.rangeTarget) || e.pos >= len(e.steps)-1 {
		e.pauseLocked(origin)
	}
}

func (e *Engine) startLocked(origin Origin) {
	if e.task != nil {
		e.task.Stop()
		e.task = nil
	}
	e.gen++
	gen := e.gen
	e.playing = true
	e.tickOrigin = OriginSystem
	if origin == OriginAgent {
		e.tickOrigin = OriginAgent
	}
	e.task = e.sched.Every(e.speed, func() { e.tick(gen) })
}

func (e *Engine) stopLocked() {
	if e.task != nil {
		e.task.Stop()
		e.task = nil
	}
	e.gen++
	e.playing = false
	e.hasRange = false
}

func (e *Engine) currentLocked() *step.Step {
	if e.pos < 0 || e.pos >= len(e.steps) {
		return nil
	}
	return &e.steps[e.pos]
}

func (e *Engine) notifyLocked(origin Origin) {
	cur := e.currentLocked()
	if e.observer != nil {
		e.observer.OnStepChanged(cur, e.pos, len(e.steps), e.playing)
	}
	if e.agent != nil && origin != OriginAgent && cur != nil {
		e.agent.OnStepChanged(cur, e.pos, len(e.steps), e.playing)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
