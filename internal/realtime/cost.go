package realtime

import "time"

// Published per-unit rates of the realtime model, in USD.
const (
	TextInputPerToken  = 5.00 / 1_000_000
	TextOutputPerToken = 20.00 / 1_000_000
	AudioInPerSecond   = 0.06 / 60
	AudioOutPerSecond  = 0.24 / 60
)

// Usage is cumulative within one session.
type Usage struct {
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	AudioSeconds int           `json:"audio_seconds"`
	Duration     time.Duration `json:"-"`
}

// EstimateCost prices text tokens exactly and splits connected audio time
// evenly between input and output.
func EstimateCost(u Usage) float64 {
	text := float64(u.InputTokens)*TextInputPerToken + float64(u.OutputTokens)*TextOutputPerToken
	half := float64(u.AudioSeconds) / 2
	return text + half*AudioInPerSecond + half*AudioOutPerSecond
}
