package agent

import (
	"fmt"
	"strings"

	"github.com/chadiek/algoviz/internal/step"
)

const (
	ToolSeekToStep         = "seek_to_step"
	ToolHighlightCodeLines = "highlight_code_lines"
	ToolPlaySteps          = "play_steps"
	ToolPausePlayer        = "pause_player"
	ToolGetCurrentState    = "get_current_state"
	ToolClearHighlight     = "clear_highlight"
)

// KickoffMessage is sent as the first user message of every voice session.
const KickoffMessage = "Please begin walking through this algorithm visualization."

// Tool is one entry of the function catalog given to the voice model.
type Tool struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

type Schema struct {
	Type                 string              `json:"type"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required"`
	AdditionalProperties bool                `json:"additionalProperties"`
}

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

func object(props map[string]Property, required ...string) Schema {
	if props == nil {
		props = map[string]Property{}
	}
	if required == nil {
		required = []string{}
	}
	return Schema{Type: "object", Properties: props, Required: required}
}

func integer(desc string) Property { return Property{Type: "integer", Description: desc} }

// Tools returns the six functions the agent may call.
func Tools() []Tool {
	return []Tool{
		{
			Type:        "function",
			Name:        ToolSeekToStep,
			Description: "Jump the visualizer to a specific step by index. Call this BEFORE explaining what happens at that step so the student can see it.",
			Parameters: object(map[string]Property{
				"step_index": integer("Zero-based index of the step to jump to (0 to total_steps-1)"),
			}, "step_index"),
		},
		{
			Type:        "function",
			Name:        ToolHighlightCodeLines,
			Description: "Highlight a contiguous range of lines in the source code panel. Use to draw the student's attention to specific code.",
			Parameters: object(map[string]Property{
				"start_line": integer("1-based line number to start highlighting"),
				"end_line":   integer("1-based line number to end highlighting (inclusive)"),
			}, "start_line", "end_line"),
		},
		{
			Type:        "function",
			Name:        ToolPlaySteps,
			Description: "Animate the visualizer playing from one step to another, then auto-pause. Good for showing a sequence of operations.",
			Parameters: object(map[string]Property{
				"from_step": integer("Zero-based index to start playing from"),
				"to_step":   integer("Zero-based index to stop at (inclusive, will pause here)"),
			}, "from_step", "to_step"),
		},
		{
			Type:        "function",
			Name:        ToolPausePlayer,
			Description: "Pause the visualizer animation if it is currently playing.",
			Parameters:  object(nil),
		},
		{
			Type:        "function",
			Name:        ToolGetCurrentState,
			Description: "Get the current state of the visualizer: which step is displayed, how many total steps, whether it is playing, and the current step description.",
			Parameters:  object(nil),
		},
		{
			Type:        "function",
			Name:        ToolClearHighlight,
			Description: "Remove the extra code highlight range, restoring only the default single-line highlight for the current step.",
			Parameters:  object(nil),
		},
	}
}

// Problem is what the tutor prompt needs to know about the algorithm.
type Problem struct {
	Name            string
	Description     string
	LongDescription string
}

// Instructions builds the tutor system prompt for one run.
func Instructions(p Problem, source string, steps []step.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert algorithm tutor guiding a student through a live visualization of %q.\n\n", p.Name)
	fmt.Fprintf(&b, "PROBLEM: %s\n", p.Description)
	if p.LongDescription != "" {
		fmt.Fprintf(&b, "\nFULL PROBLEM STATEMENT:\n%s\n", p.LongDescription)
	}
	fmt.Fprintf(&b, "\nSOURCE CODE (line numbers are 1-based):\n```\n%s\n```\n\n", source)
	fmt.Fprintf(&b, "VISUALIZATION STEPS (%d total, zero-indexed):\n", len(steps))
	for i := range steps {
		desc := steps[i].Description
		if desc == "" {
			desc = "(no description)"
		}
		line := "None"
		if steps[i].LineNumber != nil {
			line = fmt.Sprint(*steps[i].LineNumber)
		}
		fmt.Fprintf(&b, "  Step %d: line %s: %s\n", i, line, desc)
	}
	b.WriteString(`
INSTRUCTIONS:
- You are speaking aloud via audio. Use short, clear, conversational sentences. Do NOT use markdown, bullet points, or formatting, this is speech.
- ALWAYS call seek_to_step BEFORE explaining what happens at a step, so the student sees the visualization update while you talk.
- When referencing specific lines of code, call highlight_code_lines first to draw attention, then explain.
- Call clear_highlight when you move on to a different topic.
- When the student starts a session, give a brief 2-3 sentence overview of the problem, then begin walking through the visualization step by step.
- You do NOT need to explain every single step. Group related steps and use play_steps to animate ranges.
- If the student asks a question, call get_current_state to know where they are, then answer in context.
- If you receive a message saying the user navigated to a different step, acknowledge it briefly and explain that step.
- Mention time/space complexity when you reach the end of the walkthrough.
- Share practical interview tips if relevant.
- Keep your pace moderate. Pause briefly between major phases of the algorithm.
`)
	return b.String()
}
