package step

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind names the renderer a run was produced for.
type Kind string

const (
	KindBoard Kind = "board"
	KindArray Kind = "array"
	KindGraph Kind = "graph"
	KindDSU   Kind = "dsu"
	KindTrie  Kind = "trie"
)

// Kinds lists every renderer kind the server may declare.
var Kinds = []Kind{KindBoard, KindArray, KindGraph, KindDSU, KindTrie}

// ParseKind validates a server-declared renderer_type.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown renderer type %q", s)
}

// Flags are the highlight bits every cell, node and edge carries.
type Flags struct {
	Selected bool `json:"selected,omitempty"`
	Patched  bool `json:"patched,omitempty"`
	Error    bool `json:"error,omitempty"`
}

// ID is a node identifier; the server emits either numbers or strings.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("node id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseFloat(string(id), 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Cell is one board square.
type Cell struct {
	Flags
	Value        any    `json:"value"`
	OverlayText  string `json:"overlay_text,omitempty"`
	OverlayColor string `json:"overlay_color,omitempty"`
	ArrowDir     string `json:"arrow_dir,omitempty"`
	OnPath       bool   `json:"on_path,omitempty"`
}

// ArrayCell is one slot of an array renderer.
type ArrayCell struct {
	Flags
	Value any `json:"value"`
}

type GraphNode struct {
	Flags
	ID         ID      `json:"id"`
	Label      string  `json:"label"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Color      string  `json:"color,omitempty"`
	Badge      string  `json:"badge,omitempty"`
	BadgeColor string  `json:"badge_color,omitempty"`
	Group      *int    `json:"group,omitempty"`
}

type GraphEdge struct {
	Flags
	Source      ID       `json:"source"`
	Target      ID       `json:"target"`
	Directed    *bool    `json:"directed,omitempty"`
	Weight      *float64 `json:"weight,omitempty"`
	Label       string   `json:"label,omitempty"`
	EdgeClass   string   `json:"edge_class,omitempty"`
	CurveOffset float64  `json:"curve_offset,omitempty"`
}

// IsDirected defaults to true when the server omitted the field (compact mode).
func (e GraphEdge) IsDirected() bool { return e.Directed == nil || *e.Directed }

type DSUNode struct {
	Flags
	ID       ID     `json:"id"`
	Label    string `json:"label"`
	ParentID *ID    `json:"parent_id,omitempty"`
	Rank     int    `json:"rank,omitempty"`
}

type TrieNode struct {
	Flags
	ID    ID      `json:"id"`
	Label string  `json:"label,omitempty"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	IsEnd bool    `json:"is_end,omitempty"`
}

type TrieEdge struct {
	Flags
	Source ID     `json:"source"`
	Target ID     `json:"target"`
	Label  string `json:"label,omitempty"`
}

type AuxPanelItem struct {
	Flags
	Label string `json:"label"`
	Value any    `json:"value"`
}

type AuxPanel struct {
	Title string         `json:"title"`
	Items []AuxPanelItem `json:"items"`
}

// Step is one immutable snapshot of algorithm state plus narration.
// Exactly one renderer payload is populated.
type Step struct {
	Description string     `json:"description,omitempty"`
	LineNumber  *int       `json:"line_number"`
	LogMessages []string   `json:"log_messages,omitempty"`
	AuxPanels   []AuxPanel `json:"aux_panels,omitempty"`

	Board      [][]Cell    `json:"board,omitempty"`
	Array      []ArrayCell `json:"array,omitempty"`
	GraphNodes []GraphNode `json:"graph_nodes,omitempty"`
	GraphEdges []GraphEdge `json:"graph_edges,omitempty"`
	DSUNodes   []DSUNode   `json:"dsu_nodes,omitempty"`
	TrieNodes  []TrieNode  `json:"trie_nodes,omitempty"`
	TrieEdges  []TrieEdge  `json:"trie_edges,omitempty"`
}

// Line returns the highlighted source line, or 0 when the step has none.
func (s *Step) Line() int {
	if s == nil || s.LineNumber == nil {
		return 0
	}
	return *s.LineNumber
}

// Payload reports which renderer payload the step carries.
func (s *Step) Payload() (Kind, bool) {
	switch {
	case s == nil:
		return "", false
	case s.Board != nil:
		return KindBoard, true
	case s.Array != nil:
		return KindArray, true
	case s.GraphNodes != nil:
		return KindGraph, true
	case s.DSUNodes != nil:
		return KindDSU, true
	case s.TrieNodes != nil:
		return KindTrie, true
	}
	return "", false
}
