// Package metrics records viewer, run and voice-agent activity as Prometheus metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is what the rest of the process reports through.
type Recorder interface {
	ObserveToolCall(tool string, ok bool)
	ObserveVoiceSession(outcome string)
	ObserveSessionUsage(inputTokens, outputTokens int, audioSeconds, cost float64)
	ObserveRun(kind string, ok bool, duration time.Duration)
	ViewerConnected(delta int)
}

// PrometheusRecorder implements Recorder on top of client_golang collectors.
type PrometheusRecorder struct {
	toolCalls     *prometheus.CounterVec
	voiceSessions *prometheus.CounterVec
	tokensTotal   *prometheus.CounterVec
	audioSeconds  prometheus.Counter
	costsTotal    prometheus.Counter
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	viewers       prometheus.Gauge
}

// NewPrometheusRecorder registers the collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	f := promauto.With(reg)
	return &PrometheusRecorder{
		toolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "algoviz_agent_tool_calls_total",
				Help: "Tool calls issued by the voice agent, by tool and status",
			},
			[]string{"tool", "status"},
		),
		voiceSessions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "algoviz_voice_sessions_total",
				Help: "Voice session lifecycle events",
			},
			[]string{"outcome"},
		),
		tokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "algoviz_voice_tokens_total",
				Help: "Text tokens consumed by voice sessions",
			},
			[]string{"type"},
		),
		audioSeconds: f.NewCounter(prometheus.CounterOpts{
			Name: "algoviz_voice_audio_seconds_total",
			Help: "Connected audio time across voice sessions",
		}),
		costsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "algoviz_voice_costs_total",
			Help: "Estimated cost in USD of voice sessions",
		}),
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "algoviz_runs_total",
				Help: "Step sequences fetched from the execution service",
			},
			[]string{"kind", "status"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "algoviz_run_duration_seconds",
				Help:    "Latency of execution service runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		viewers: f.NewGauge(prometheus.GaugeOpts{
			Name: "algoviz_viewers_connected",
			Help: "Open viewer websockets",
		}),
	}
}

var (
	defaultOnce sync.Once
	defaultRec  *PrometheusRecorder
)

// Default returns the recorder bound to the global registry served on /metrics.
func Default() *PrometheusRecorder {
	defaultOnce.Do(func() { defaultRec = NewPrometheusRecorder(prometheus.DefaultRegisterer) })
	return defaultRec
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

func (p *PrometheusRecorder) ObserveToolCall(tool string, ok bool) {
	p.toolCalls.WithLabelValues(tool, status(ok)).Inc()
}

func (p *PrometheusRecorder) ObserveVoiceSession(outcome string) {
	p.voiceSessions.WithLabelValues(outcome).Inc()
}

// ObserveSessionUsage adds the totals of one finished voice session.
func (p *PrometheusRecorder) ObserveSessionUsage(inputTokens, outputTokens int, audioSeconds, cost float64) {
	p.tokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	p.tokensTotal.WithLabelValues("output").Add(float64(outputTokens))
	p.audioSeconds.Add(audioSeconds)
	p.costsTotal.Add(cost)
}

func (p *PrometheusRecorder) ObserveRun(kind string, ok bool, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	p.runsTotal.WithLabelValues(kind, status(ok)).Inc()
	p.runDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ViewerConnected(delta int) {
	p.viewers.Add(float64(delta))
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveToolCall(string, bool)                   {}
func (Nop) ObserveVoiceSession(string)                     {}
func (Nop) ObserveSessionUsage(int, int, float64, float64) {}
func (Nop) ObserveRun(string, bool, time.Duration)         {}
func (Nop) ViewerConnected(int)                            {}
