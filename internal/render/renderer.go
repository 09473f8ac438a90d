package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/chadiek/algoviz/internal/step"
)

// Renderer turns one step snapshot into a view. Implementations are pure.
type Renderer interface {
	Kind() step.Kind
	Render(s *step.Step) string
}

// ForKind picks the renderer for a server-declared renderer type.
func ForKind(k step.Kind) (Renderer, error) {
	switch k {
	case step.KindBoard:
		return boardRenderer{}, nil
	case step.KindArray:
		return arrayRenderer{}, nil
	case step.KindGraph:
		return graphRenderer{}, nil
	case step.KindDSU:
		return dsuRenderer{}, nil
	case step.KindTrie:
		return trieRenderer{}, nil
	}
	return nil, fmt.Errorf("no renderer for %q", k)
}

var (
	plainStyle    = lipgloss.NewStyle()
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11"))
	patchedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("10"))
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("9"))
	titleStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
)

// styleFor applies the flag precedence error > selected > patched.
func styleFor(f step.Flags) lipgloss.Style {
	switch {
	case f.Error:
		return errorStyle
	case f.Selected:
		return selectedStyle
	case f.Patched:
		return patchedStyle
	}
	return plainStyle
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "."
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%.2f", x)
	case string:
		if x == "" {
			return "."
		}
		return x
	}
	return fmt.Sprint(v)
}

func pad(s string, w int) string {
	if n := lipgloss.Width(s); n < w {
		return strings.Repeat(" ", w-n) + s
	}
	return s
}

type boardRenderer struct{}

func (boardRenderer) Kind() step.Kind { return step.KindBoard }

func (boardRenderer) Render(s *step.Step) string {
	if s == nil {
		return ""
	}
	width := 1
	for _, row := range s.Board {
		for _, c := range row {
			if w := len(cellText(c)); w > width {
				width = w
			}
		}
	}
	var b strings.Builder
	for _, row := range s.Board {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = styleFor(c.Flags).Render(pad(cellText(c), width))
		}
		b.WriteString(strings.Join(cells, " "))
		b.WriteString("\n")
	}
	return b.String()
}

func cellText(c step.Cell) string {
	txt := formatValue(c.Value)
	if c.OverlayText != "" {
		txt = c.OverlayText
	}
	if c.ArrowDir != "" {
		txt += arrowGlyph(c.ArrowDir)
	}
	if c.OnPath {
		txt = "*" + txt
	}
	return txt
}

func arrowGlyph(dir string) string {
	switch strings.ToLower(dir) {
	case "up", "u":
		return "↑"
	case "down", "d":
		return "↓"
	case "left", "l":
		return "←"
	case "right", "r":
		return "→"
	}
	return ""
}

type arrayRenderer struct{}

func (arrayRenderer) Kind() step.Kind { return step.KindArray }

func (arrayRenderer) Render(s *step.Step) string {
	if s == nil {
		return ""
	}
	vals := make([]string, len(s.Array))
	width := 1
	for i, c := range s.Array {
		vals[i] = formatValue(c.Value)
		if len(vals[i]) > width {
			width = len(vals[i])
		}
	}
	if w := len(fmt.Sprint(len(s.Array))); w > width {
		width = w
	}
	idx := make([]string, len(s.Array))
	cells := make([]string, len(s.Array))
	for i, c := range s.Array {
		idx[i] = pad(fmt.Sprint(i), width)
		cells[i] = styleFor(c.Flags).Render(pad(vals[i], width))
	}
	return "[ " + strings.Join(cells, " | ") + " ]\n  " + strings.Join(idx, "   ") + "\n"
}

type graphRenderer struct{}

func (graphRenderer) Kind() step.Kind { return step.KindGraph }

func (graphRenderer) Render(s *step.Step) string {
	if s == nil {
		return ""
	}
	labels := make(map[step.ID]string, len(s.GraphNodes))
	var b strings.Builder
	b.WriteString(titleStyle.Render("nodes"))
	b.WriteString("\n")
	for _, n := range s.GraphNodes {
		label := n.Label
		if label == "" {
			label = string(n.ID)
		}
		labels[n.ID] = label
		line := label
		if n.Badge != "" {
			line += " [" + n.Badge + "]"
		}
		if n.Group != nil {
			line += fmt.Sprintf(" g%d", *n.Group)
		}
		b.WriteString("  " + styleFor(n.Flags).Render(line) + "\n")
	}
	if len(s.GraphEdges) > 0 {
		b.WriteString(titleStyle.Render("edges"))
		b.WriteString("\n")
	}
	for _, e := range s.GraphEdges {
		arrow := " -- "
		if e.IsDirected() {
			arrow = " -> "
		}
		line := nodeLabel(labels, e.Source) + arrow + nodeLabel(labels, e.Target)
		if e.Weight != nil {
			line += " (" + formatValue(*e.Weight) + ")"
		}
		if e.Label != "" {
			line += " " + e.Label
		}
		b.WriteString("  " + styleFor(e.Flags).Render(line) + "\n")
	}
	return b.String()
}

func nodeLabel(labels map[step.ID]string, id step.ID) string {
	if l, ok := labels[id]; ok {
		return l
	}
	return string(id)
}

type dsuRenderer struct{}

func (dsuRenderer) Kind() step.Kind { return step.KindDSU }

// Render groups nodes under their set representative.
func (dsuRenderer) Render(s *step.Step) string {
	if s == nil {
		return ""
	}
	parent := make(map[step.ID]step.ID, len(s.DSUNodes))
	byID := make(map[step.ID]step.DSUNode, len(s.DSUNodes))
	for _, n := range s.DSUNodes {
		byID[n.ID] = n
		if n.ParentID != nil && *n.ParentID != n.ID {
			parent[n.ID] = *n.ParentID
		}
	}
	root := func(id step.ID) step.ID {
		for i := 0; i < len(s.DSUNodes); i++ {
			p, ok := parent[id]
			if !ok {
				break
			}
			id = p
		}
		return id
	}
	sets := make(map[step.ID][]step.DSUNode)
	var roots []step.ID
	for _, n := range s.DSUNodes {
		r := root(n.ID)
		if _, seen := sets[r]; !seen {
			roots = append(roots, r)
		}
		sets[r] = append(sets[r], n)
	}
	var b strings.Builder
	for _, r := range roots {
		head := string(r)
		if n, ok := byID[r]; ok {
			head = styleFor(n.Flags).Render(dsuLabel(n)) + fmt.Sprintf(" (rank %d)", n.Rank)
		}
		members := make([]string, 0, len(sets[r]))
		for _, n := range sets[r] {
			if n.ID == r {
				continue
			}
			members = append(members, styleFor(n.Flags).Render(dsuLabel(n)))
		}
		b.WriteString(head)
		if len(members) > 0 {
			b.WriteString(": " + strings.Join(members, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func dsuLabel(n step.DSUNode) string {
	if n.Label != "" {
		return n.Label
	}
	return string(n.ID)
}

type trieRenderer struct{}

func (trieRenderer) Kind() step.Kind { return step.KindTrie }

// Render draws the trie depth-first from every node without a parent.
func (trieRenderer) Render(s *step.Step) string {
	if s == nil {
		return ""
	}
	byID := make(map[step.ID]step.TrieNode, len(s.TrieNodes))
	for _, n := range s.TrieNodes {
		byID[n.ID] = n
	}
	children := make(map[step.ID][]step.TrieEdge)
	hasParent := make(map[step.ID]bool)
	for _, e := range s.TrieEdges {
		children[e.Source] = append(children[e.Source], e)
		hasParent[e.Target] = true
	}
	for id := range children {
		sort.SliceStable(children[id], func(i, j int) bool { return children[id][i].Label < children[id][j].Label })
	}
	var b strings.Builder
	visited := make(map[step.ID]bool)
	var walk func(id step.ID, via string, depth int)
	walk = func(id step.ID, via string, depth int) {
		if visited[id] {
			return
		}
		visited[id] = true
		n := byID[id]
		label := via
		if label == "" {
			label = n.Label
		}
		if label == "" {
			label = "·"
		}
		if n.IsEnd {
			label += "$"
		}
		b.WriteString(strings.Repeat("  ", depth) + styleFor(n.Flags).Render(label) + "\n")
		for _, e := range children[id] {
			walk(e.Target, e.Label, depth+1)
		}
	}
	for _, n := range s.TrieNodes {
		if !hasParent[n.ID] {
			walk(n.ID, "", 0)
		}
	}
	return b.String()
}

// AuxView renders the side panels (stack, queue, counters) that accompany a step.
func AuxView(panels []step.AuxPanel) string {
	var b strings.Builder
	for _, p := range panels {
		b.WriteString(titleStyle.Render(p.Title))
		b.WriteString("\n")
		for _, it := range p.Items {
			line := it.Label
			if it.Value != nil {
				line += ": " + formatValue(it.Value)
			}
			b.WriteString("  " + styleFor(it.Flags).Render(line) + "\n")
		}
	}
	return b.String()
}
