package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/chadiek/algoviz/internal/metrics"
	"github.com/chadiek/algoviz/internal/playback"
	"github.com/chadiek/algoviz/internal/step"
)

// Bridge translates agent tool calls into playback and code panel operations
// and reports user-driven navigation back to the agent.
type Bridge struct {
	player Player
	code   CodeDisplay
	conn   Conn
	rec    metrics.Recorder
	id     string

	mu sync.Mutex
}

// NewBridge wires a bridge. Any collaborator may be nil; calls that need a
// missing one return an error result.
func NewBridge(id string, player Player, code CodeDisplay, conn Conn, rec metrics.Recorder) *Bridge {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Bridge{id: id, player: player, code: code, conn: conn, rec: rec}
}

// StatusMessage is the text sent to the agent after a user navigation.
func StatusMessage(index, total int, description string, playing bool) string {
	return fmt.Sprintf("[User navigated to step %d of %d. Description: \"%s\". Playing: %t]", index, total-1, description, playing)
}

// OnStepChanged implements playback.Observer. The engine only calls it for
// changes the agent did not cause.
func (b *Bridge) OnStepChanged(s *step.Step, index, total int, playing bool) {
	if s == nil || b.conn == nil || !b.conn.Connected() {
		return
	}
	if err := b.conn.SendText(StatusMessage(index, total, s.Description, playing)); err != nil {
		log.Printf("[%s] agent status send error: %v", b.id, err)
	}
}

// Kickoff asks the agent to start the walkthrough.
func (b *Bridge) Kickoff() error {
	if b.conn == nil {
		return fmt.Errorf("kickoff: no connection")
	}
	return b.conn.SendText(KickoffMessage)
}

// HandleCall runs one tool call and sends its result back under the same
// call id. The result is returned for logging and tests.
func (b *Bridge) HandleCall(call FunctionCall) Result {
	b.mu.Lock()
	res := b.dispatch(call)
	b.mu.Unlock()

	b.rec.ObserveToolCall(call.Name, !res.Failed())
	log.Printf("[%s] tool %s(%s) -> %v", b.id, call.Name, string(call.Arguments), map[string]any(res))
	if b.conn != nil {
		if err := b.conn.SendFunctionResult(call.CallID, res); err != nil {
			log.Printf("[%s] tool result send error: %v", b.id, err)
		}
	}
	return res
}

type seekArgs struct {
	StepIndex *float64 `json:"step_index"`
}

type highlightArgs struct {
	StartLine *float64 `json:"start_line"`
	EndLine   *float64 `json:"end_line"`
}

type playArgs struct {
	FromStep *float64 `json:"from_step"`
	ToStep   *float64 `json:"to_step"`
}

func (b *Bridge) dispatch(call FunctionCall) Result {
	switch call.Name {
	case ToolSeekToStep:
		var a seekArgs
		if err := decodeArgs(call.Arguments, &a); err != nil {
			return errorResult(err.Error())
		}
		if a.StepIndex == nil {
			return errorResult("missing step_index")
		}
		if b.player == nil {
			return errorResult("Player not available")
		}
		idx := toInt(*a.StepIndex)
		b.player.Pause(playback.OriginAgent)
		total := b.player.State().Total
		if total == 0 {
			return errorResult("no steps loaded")
		}
		if idx < 0 || idx >= total {
			return errorResult(fmt.Sprintf("step_index %d out of range (0 to %d)", idx, total-1))
		}
		b.player.GoToIndex(idx, playback.OriginAgent)
		st := b.player.State()
		return Result{"success": true, "current_index": st.Index, "description": description(st.Step)}

	case ToolHighlightCodeLines:
		var a highlightArgs
		if err := decodeArgs(call.Arguments, &a); err != nil {
			return errorResult(err.Error())
		}
		if a.StartLine == nil || a.EndLine == nil {
			return errorResult("missing start_line or end_line")
		}
		if b.code == nil {
			return errorResult("Code panel not available")
		}
		b.code.HighlightLines(toInt(*a.StartLine), toInt(*a.EndLine))
		return Result{"success": true}

	case ToolPlaySteps:
		var a playArgs
		if err := decodeArgs(call.Arguments, &a); err != nil {
			return errorResult(err.Error())
		}
		if a.FromStep == nil || a.ToStep == nil {
			return errorResult("missing from_step or to_step")
		}
		if b.player == nil {
			return errorResult("Player not available")
		}
		total := b.player.State().Total
		if total == 0 {
			return errorResult("no steps loaded")
		}
		from := clamp(toInt(*a.FromStep), 0, total-1)
		to := clamp(toInt(*a.ToStep), 0, total-1)
		b.player.PlayRange(from, to, playback.OriginAgent)
		return Result{"success": true, "playing_from": from, "playing_to": to}

	case ToolPausePlayer:
		if err := decodeArgs(call.Arguments, &struct{}{}); err != nil {
			return errorResult(err.Error())
		}
		if b.player == nil {
			return errorResult("Player not available")
		}
		b.player.Pause(playback.OriginAgent)
		return Result{"success": true}

	case ToolGetCurrentState:
		if b.player == nil {
			return errorResult("Player not available")
		}
		st := b.player.State()
		return Result{
			"current_index": st.Index,
			"total_steps":   st.Total,
			"is_playing":    st.Playing,
			"description":   description(st.Step),
			"code_line":     st.Step.Line(),
		}

	case ToolClearHighlight:
		if b.code == nil {
			return errorResult("Code panel not available")
		}
		b.code.ClearHighlight()
		return Result{"success": true}
	}
	return errorResult("Unknown function: " + call.Name)
}

// decodeArgs accepts an absent or empty argument payload as {}.
func decodeArgs(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %v", err)
	}
	return nil
}

func description(s *step.Step) string {
	if s == nil {
		return ""
	}
	return s.Description
}

func toInt(f float64) int { return int(math.Round(f)) }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
