package codepanel

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11"))
	voiceStyle  = lipgloss.NewStyle().Background(lipgloss.Color("24"))
	numberStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Highlight is an inclusive 1-based line range.
type Highlight struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Snapshot is the panel state sent to viewers.
type Snapshot struct {
	Lines       []string   `json:"lines"`
	CurrentLine int        `json:"current_line"`
	Voice       *Highlight `json:"voice_highlight,omitempty"`
}

// Panel holds the traced source plus the per-step line marker and the
// agent-driven highlight range. It is safe for concurrent use.
type Panel struct {
	mu       sync.Mutex
	lines    []string
	current  int
	voice    *Highlight
	onChange func(Snapshot)
}

func New() *Panel { return &Panel{} }

// OnChange registers a callback fired after every mutation.
func (p *Panel) OnChange(fn func(Snapshot)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Load replaces the source and clears every highlight.
func (p *Panel) Load(source string) {
	p.mu.Lock()
	p.lines = strings.Split(source, "\n")
	p.current = 0
	p.voice = nil
	p.unlockAndNotify()
}

// SetCurrentLine marks the line of the current step; 0 clears it.
func (p *Panel) SetCurrentLine(line int) {
	p.mu.Lock()
	if line == p.current {
		p.mu.Unlock()
		return
	}
	p.current = line
	p.unlockAndNotify()
}

// HighlightLines marks start..end, keeping only lines that exist. A range
// that selects nothing clears the highlight.
func (p *Panel) HighlightLines(start, end int) {
	p.mu.Lock()
	lo, hi := start, end
	if lo < 1 {
		lo = 1
	}
	if hi > len(p.lines) {
		hi = len(p.lines)
	}
	if lo > hi {
		p.voice = nil
	} else {
		p.voice = &Highlight{Start: lo, End: hi}
	}
	p.unlockAndNotify()
}

func (p *Panel) ClearHighlight() {
	p.mu.Lock()
	p.voice = nil
	p.unlockAndNotify()
}

func (p *Panel) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// View renders the source with line numbers and both highlights.
func (p *Panel) View() string {
	snap := p.Snapshot()
	width := len(fmt.Sprint(len(snap.Lines)))
	var b strings.Builder
	for i, text := range snap.Lines {
		n := i + 1
		line := numberStyle.Render(fmt.Sprintf("%*d ", width, n)) + text
		switch {
		case n == snap.CurrentLine:
			line = activeStyle.Render(line)
		case snap.Voice != nil && n >= snap.Voice.Start && n <= snap.Voice.End:
			line = voiceStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (p *Panel) snapshotLocked() Snapshot {
	s := Snapshot{Lines: p.lines, CurrentLine: p.current}
	if p.voice != nil {
		v := *p.voice
		s.Voice = &v
	}
	return s
}

// unlockAndNotify must be called with p.mu held.
func (p *Panel) unlockAndNotify() {
	snap := p.snapshotLocked()
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}
