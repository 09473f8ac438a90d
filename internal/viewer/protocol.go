package viewer

import (
	"encoding/json"

	"github.com/chadiek/algoviz/internal/codepanel"
	"github.com/chadiek/algoviz/internal/realtime"
	"github.com/chadiek/algoviz/internal/render"
)

// clientMessage is any text frame a browser sends.
type clientMessage struct {
	Type    string         `json:"type"`
	Problem string         `json:"problem,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Index   *int           `json:"index,omitempty"`
	Ratio   *float64       `json:"ratio,omitempty"`
	Value   *int           `json:"value,omitempty"`
	Mic     string         `json:"mic,omitempty"`
}

const (
	msgRun        = "run"
	msgPlay       = "play"
	msgPause      = "pause"
	msgToggle     = "toggle"
	msgForward    = "forward"
	msgBack       = "back"
	msgStart      = "start"
	msgEnd        = "end"
	msgSeek       = "seek"
	msgScrub      = "scrub"
	msgSpeed      = "speed"
	msgRefresh    = "refresh"
	msgVoiceStart = "voice_start"
	msgVoiceStop  = "voice_stop"
)

// Mic permission states reported by the browser with voice_start.
const (
	MicGranted = "granted"
	MicDenied  = "denied"
	MicMissing = "missing"
)

type frameMessage struct {
	Type  string       `json:"type"`
	Frame render.Frame `json:"frame"`
}

type codeMessage struct {
	Type string             `json:"type"`
	Code codepanel.Snapshot `json:"code"`
}

type transcriptMessage struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

type costMessage struct {
	Type  string         `json:"type"`
	Usage realtime.Usage `json:"usage"`
	Cost  float64        `json:"cost"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func decodeClientMessage(data []byte) (clientMessage, error) {
	var m clientMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
