package realtime

import (
	"encoding/json"
	"strings"

	"github.com/chadiek/algoviz/internal/agent"
)

type EventKind int

const (
	Connected EventKind = iota + 1
	Disconnected
	FunctionCall
	AgentTranscript
	UserTranscript
	UsageUpdate
	Error
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case FunctionCall:
		return "function_call"
	case AgentTranscript:
		return "agent_transcript"
	case UserTranscript:
		return "user_transcript"
	case UsageUpdate:
		return "usage_update"
	case Error:
		return "error"
	}
	return "unknown"
}

// Event is delivered to the session handler in arrival order.
type Event struct {
	Kind  EventKind
	Call  agent.FunctionCall
	Text  string
	Code  string
	Usage Usage
}

// serverMessage covers the fields of every data-channel message we read.
type serverMessage struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	CallID     string `json:"call_id"`
	Transcript string `json:"transcript"`
	Response   *struct {
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// handleMessage maps one inbound message to an event. Unparseable and
// uninteresting messages yield ok=false.
func (c *Client) handleMessage(data []byte) (Event, bool) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, false
	}
	switch msg.Type {
	case "response.function_call_arguments.done":
		args := strings.TrimSpace(msg.Arguments)
		if args == "" {
			args = "{}"
		}
		return Event{Kind: FunctionCall, Call: agent.FunctionCall{
			Name:      msg.Name,
			Arguments: json.RawMessage(args),
			CallID:    msg.CallID,
		}}, true

	case "response.done":
		if msg.Response == nil || msg.Response.Usage == nil {
			return Event{}, false
		}
		c.mu.Lock()
		c.usage.InputTokens += msg.Response.Usage.InputTokens
		c.usage.OutputTokens += msg.Response.Usage.OutputTokens
		c.mu.Unlock()
		return Event{Kind: UsageUpdate, Usage: c.Usage()}, true

	case "response.audio_transcript.done":
		return Event{Kind: AgentTranscript, Text: msg.Transcript}, true

	case "conversation.item.input_audio_transcription.completed":
		return Event{Kind: UserTranscript, Text: msg.Transcript}, true

	case "error":
		ev := Event{Kind: Error, Text: "Unknown realtime error"}
		if msg.Error != nil {
			if msg.Error.Message != "" {
				ev.Text = msg.Error.Message
			}
			ev.Code = msg.Error.Code
		}
		return ev, true
	}
	return Event{}, false
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type transcriptionConfig struct {
	Model string `json:"model"`
}

type sessionConfig struct {
	Instructions            string               `json:"instructions,omitempty"`
	Tools                   any                  `json:"tools,omitempty"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
	InputAudioTranscription *transcriptionConfig `json:"input_audio_transcription,omitempty"`
}

type clientMessage struct {
	Type    string            `json:"type"`
	Item    *conversationItem `json:"item,omitempty"`
	Session *sessionConfig    `json:"session,omitempty"`
}

var responseCreate = clientMessage{Type: "response.create"}

func userTextMessage(text string) clientMessage {
	return clientMessage{Type: "conversation.item.create", Item: &conversationItem{
		Type:    "message",
		Role:    "user",
		Content: []contentPart{{Type: "input_text", Text: text}},
	}}
}

func sessionUpdateMessage(instructions string, tools any) clientMessage {
	return clientMessage{Type: "session.update", Session: &sessionConfig{
		Instructions:            instructions,
		Tools:                   tools,
		ToolChoice:              "auto",
		InputAudioTranscription: &transcriptionConfig{Model: "whisper-1"},
	}}
}

func functionOutputMessage(callID string, result any) (clientMessage, error) {
	out, err := json.Marshal(result)
	if err != nil {
		return clientMessage{}, err
	}
	return clientMessage{Type: "conversation.item.create", Item: &conversationItem{
		Type:   "function_call_output",
		CallID: callID,
		Output: string(out),
	}}, nil
}
