// Package viewer runs one browser front end: it owns a playback engine and
// code panel, streams frames to the browser and hosts the voice tutor.
package viewer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chadiek/algoviz/internal/agent"
	"github.com/chadiek/algoviz/internal/backend"
	"github.com/chadiek/algoviz/internal/codepanel"
	"github.com/chadiek/algoviz/internal/metrics"
	"github.com/chadiek/algoviz/internal/playback"
	"github.com/chadiek/algoviz/internal/realtime"
	"github.com/chadiek/algoviz/internal/render"
	"github.com/chadiek/algoviz/internal/sessionlog"
	"github.com/chadiek/algoviz/internal/step"
)

// Outbox delivers messages to the browser. Both methods must not block.
type Outbox interface {
	SendJSON(v any)
	SendBinary(b []byte)
}

// Backend is the execution service as the viewer uses it.
type Backend interface {
	Run(ctx context.Context, problem string, params map[string]any, compact bool) (*step.Run, error)
	VoiceSession(ctx context.Context, problemID string) (*backend.VoiceSession, error)
	Problems(ctx context.Context) ([]backend.Problem, error)
}

// VoiceClient is one realtime voice session.
type VoiceClient interface {
	agent.Conn
	Connect(ctx context.Context, token string) error
	UpdateSession(instructions string, tools any) error
	Disconnect()
	Usage() realtime.Usage
}

// VoiceFactory builds a voice client; tests substitute a fake.
type VoiceFactory func(cfg realtime.Config, mic realtime.Microphone, spk realtime.Speaker, handler func(realtime.Event)) VoiceClient

// DefaultVoiceFactory builds real WebRTC clients.
func DefaultVoiceFactory(cfg realtime.Config, mic realtime.Microphone, spk realtime.Speaker, handler func(realtime.Event)) VoiceClient {
	return realtime.NewClient(cfg, mic, spk, handler)
}

type Deps struct {
	Backend   Backend
	Sessions  sessionlog.Sink
	Metrics   metrics.Recorder
	Realtime  realtime.Config
	Scheduler playback.Scheduler
	NewVoice  VoiceFactory
	// LogTimeout bounds each background session log write.
	LogTimeout time.Duration
}

type voiceSession struct {
	id        string
	problem   string
	client    VoiceClient
	bridge    *agent.Bridge
	info      agent.Problem
	mic       *wsMic
	connected bool
}

// Viewer is the server side of one browser connection.
type Viewer struct {
	ID   string
	deps Deps
	out  Outbox

	engine     *playback.Engine
	panel      *codepanel.Panel
	dispatcher *render.Dispatcher

	mu      sync.Mutex
	problem string
	run     *step.Run
	voice   *voiceSession
	closed  bool
}

func New(deps Deps, out Outbox) *Viewer {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.NewVoice == nil {
		deps.NewVoice = DefaultVoiceFactory
	}
	if deps.LogTimeout == 0 {
		deps.LogTimeout = 10 * time.Second
	}
	v := &Viewer{ID: uuid.NewString()[:8], deps: deps, out: out}
	v.panel = codepanel.New()
	v.panel.OnChange(func(s codepanel.Snapshot) {
		v.out.SendJSON(codeMessage{Type: "code", Code: s})
	})
	v.dispatcher = render.NewDispatcher(v.panel, render.SinkFunc(func(f render.Frame) {
		v.out.SendJSON(frameMessage{Type: "frame", Frame: f})
	}))
	v.engine = playback.New(deps.Scheduler, v.dispatcher)
	deps.Metrics.ViewerConnected(1)
	log.Printf("[%s] viewer connected", v.ID)
	return v
}

// Engine exposes the playback engine, mainly for tests.
func (v *Viewer) Engine() *playback.Engine { return v.engine }

func (v *Viewer) Panel() *codepanel.Panel { return v.panel }

// HandleText processes one JSON control message.
func (v *Viewer) HandleText(ctx context.Context, data []byte) {
	m, err := decodeClientMessage(data)
	if err != nil {
		v.sendError(fmt.Sprintf("invalid message: %v", err))
		return
	}
	origin := playback.OriginUser
	switch m.Type {
	case msgRun:
		v.loadRun(ctx, m.Problem, m.Params)
	case msgPlay:
		v.engine.Play(origin)
	case msgPause:
		v.engine.Pause(origin)
	case msgToggle:
		v.engine.TogglePlay(origin)
	case msgForward:
		v.engine.StepForward(origin)
	case msgBack:
		v.engine.StepBack(origin)
	case msgStart:
		v.engine.GoToStart(origin)
	case msgEnd:
		v.engine.GoToEnd(origin)
	case msgSeek:
		if m.Index != nil {
			v.engine.GoToIndex(*m.Index, origin)
		}
	case msgScrub:
		if m.Ratio != nil {
			v.engine.Scrub(*m.Ratio, origin)
		}
	case msgSpeed:
		if m.Value != nil {
			v.engine.SetSpeed(*m.Value)
		}
	case msgRefresh:
		v.engine.Refresh()
	case msgVoiceStart:
		v.startVoice(ctx, m.Mic)
	case msgVoiceStop:
		v.stopVoice()
	default:
		v.sendError("unknown message type: " + m.Type)
	}
}

// HandleBinary forwards microphone PCM to the live voice session.
func (v *Viewer) HandleBinary(pcm []byte) {
	v.mu.Lock()
	vs := v.voice
	v.mu.Unlock()
	if vs != nil {
		vs.mic.Feed(pcm)
	}
}

func (v *Viewer) loadRun(ctx context.Context, problem string, params map[string]any) {
	if strings.TrimSpace(problem) == "" {
		v.sendError("missing problem")
		return
	}
	start := time.Now()
	run, err := v.deps.Backend.Run(ctx, problem, params, true)
	if err != nil {
		v.deps.Metrics.ObserveRun("", false, time.Since(start))
		log.Printf("[%s] run %s failed: %v", v.ID, problem, err)
		v.sendError("Run failed: " + err.Error())
		return
	}
	v.deps.Metrics.ObserveRun(string(run.Kind), true, time.Since(start))
	r, err := render.ForKind(run.Kind)
	if err != nil {
		v.sendError(err.Error())
		return
	}
	v.mu.Lock()
	v.problem, v.run = problem, run
	v.mu.Unlock()

	log.Printf("[%s] loaded %s: %d %s steps", v.ID, problem, len(run.Steps), run.Kind)
	v.dispatcher.SetRenderer(r)
	v.panel.Load(run.SourceCode)
	v.engine.Load(run.Steps, playback.OriginUser)
}

func (v *Viewer) startVoice(ctx context.Context, micState string) {
	v.mu.Lock()
	if v.closed || v.voice != nil {
		v.mu.Unlock()
		return
	}
	problem := v.problem
	if problem == "" {
		v.mu.Unlock()
		v.sendStatus("Load a problem first")
		return
	}
	vs := &voiceSession{id: v.ID + "-" + uuid.NewString()[:4], problem: problem, mic: newWSMic(micState)}
	v.voice = vs
	v.mu.Unlock()

	v.sendStatus("Requesting session...")
	go v.connectVoice(context.WithoutCancel(ctx), vs)
}

func (v *Viewer) connectVoice(ctx context.Context, vs *voiceSession) {
	sess, err := v.deps.Backend.VoiceSession(ctx, vs.problem)
	if err != nil {
		log.Printf("[%s] voice session request failed: %v", vs.id, err)
		v.deps.Metrics.ObserveVoiceSession("failed")
		v.clearVoice(vs)
		v.sendStatus("Error: " + err.Error())
		return
	}

	vs.info = v.lookupProblem(ctx, vs.problem)

	cfg := v.deps.Realtime
	cfg.ID = vs.id
	client := v.deps.NewVoice(cfg, vs.mic, speaker{v.out}, func(ev realtime.Event) { v.onVoiceEvent(vs, ev) })
	bridge := agent.NewBridge(vs.id, v.engine, v.panel, client, v.deps.Metrics)

	v.mu.Lock()
	if v.voice != vs {
		v.mu.Unlock()
		client.Disconnect()
		return
	}
	vs.client, vs.bridge = client, bridge
	v.mu.Unlock()

	v.sendStatus("Connecting...")
	if err := client.Connect(ctx, sess.Token); err != nil {
		log.Printf("[%s] voice connect failed: %v", vs.id, err)
		v.deps.Metrics.ObserveVoiceSession("failed")
	}
}

func (v *Viewer) onVoiceEvent(vs *voiceSession, ev realtime.Event) {
	switch ev.Kind {
	case realtime.Connected:
		v.mu.Lock()
		vs.connected = true
		v.mu.Unlock()
		v.deps.Metrics.ObserveVoiceSession("connected")
		v.engine.SetAgentObserver(vs.bridge)
		v.sendStatus("Connected, listening...")
		if err := vs.client.UpdateSession(v.instructions(vs), agent.Tools()); err != nil {
			log.Printf("[%s] session update failed: %v", vs.id, err)
		}
		if err := vs.bridge.Kickoff(); err != nil {
			log.Printf("[%s] kickoff failed: %v", vs.id, err)
		}

	case realtime.Disconnected:
		v.mu.Lock()
		wasConnected := vs.connected
		live := v.voice == vs
		v.mu.Unlock()
		// A session abandoned before it connected must not touch the
		// observer or highlight of its successor.
		if live {
			v.engine.SetAgentObserver(nil)
			v.panel.ClearHighlight()
		}
		v.clearVoice(vs)
		if wasConnected {
			v.logSession(vs, ev.Usage)
		}
		if live {
			v.sendStatus("Disconnected")
		}

	case realtime.FunctionCall:
		vs.bridge.HandleCall(ev.Call)

	case realtime.AgentTranscript:
		v.sendTranscript("agent", ev.Text)

	case realtime.UserTranscript:
		v.sendTranscript("user", ev.Text)

	case realtime.UsageUpdate:
		v.out.SendJSON(costMessage{Type: "cost", Usage: ev.Usage, Cost: realtime.EstimateCost(ev.Usage)})

	case realtime.Error:
		log.Printf("[%s] voice error: %s", vs.id, ev.Text)
		v.sendError(ev.Text)
		v.sendStatus("Error: " + ev.Text)
	}
}

// lookupProblem fills the tutor prompt's problem text from the catalog.
// A catalog failure only costs the prompt its description.
func (v *Viewer) lookupProblem(ctx context.Context, name string) agent.Problem {
	info := agent.Problem{Name: name}
	list, err := v.deps.Backend.Problems(ctx)
	if err != nil {
		log.Printf("[%s] problem catalog unavailable: %v", v.ID, err)
		return info
	}
	for _, p := range list {
		if p.Name == name {
			info.Description, info.LongDescription = p.Description, p.LongDescription
			break
		}
	}
	return info
}

func (v *Viewer) instructions(vs *voiceSession) string {
	v.mu.Lock()
	run := v.run
	v.mu.Unlock()
	if run == nil {
		return agent.Instructions(vs.info, "", nil)
	}
	return agent.Instructions(vs.info, run.SourceCode, run.Steps)
}

func (v *Viewer) logSession(vs *voiceSession, u realtime.Usage) {
	cost := realtime.EstimateCost(u)
	v.deps.Metrics.ObserveSessionUsage(u.InputTokens, u.OutputTokens, float64(u.AudioSeconds), cost)
	v.out.SendJSON(costMessage{Type: "cost", Usage: u, Cost: cost})
	rec := sessionlog.Record{
		SessionID:       vs.id,
		ProblemID:       vs.problem,
		DurationSeconds: int(u.Duration.Round(time.Second) / time.Second),
		InputTokens:     u.InputTokens,
		OutputTokens:    u.OutputTokens,
		AudioSeconds:    u.AudioSeconds,
		EstimatedCost:   cost,
	}.Stamp(time.Now())
	sessionlog.Async(v.deps.Sessions, rec, v.deps.LogTimeout)
}

// clearVoice forgets vs if it is still the live session.
func (v *Viewer) clearVoice(vs *voiceSession) {
	v.mu.Lock()
	if v.voice == vs {
		v.voice = nil
	}
	v.mu.Unlock()
	vs.mic.Close()
}

func (v *Viewer) stopVoice() {
	v.mu.Lock()
	vs := v.voice
	var client VoiceClient
	if vs != nil {
		client = vs.client
	}
	v.mu.Unlock()
	if vs == nil {
		return
	}
	if client != nil {
		client.Disconnect()
		return
	}
	// Still waiting for a token; the pending connect sees the change and stops.
	v.clearVoice(vs)
	v.sendStatus("Disconnected")
}

// Close is called when the browser leaves: playback stops and any voice
// session is torn down.
func (v *Viewer) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.engine.Pause(playback.OriginSystem)
	v.stopVoice()
	v.deps.Metrics.ViewerConnected(-1)
	log.Printf("[%s] viewer closed", v.ID)
}

func (v *Viewer) sendTranscript(role, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	v.out.SendJSON(transcriptMessage{Type: "transcript", Role: role, Text: text})
}

func (v *Viewer) sendStatus(text string) {
	v.out.SendJSON(textMessage{Type: "status", Text: text})
}

func (v *Viewer) sendError(msg string) {
	v.out.SendJSON(errorMessage{Type: "error", Message: msg})
}

type speaker struct{ out Outbox }

func (s speaker) WritePCM(pcm []byte) { s.out.SendBinary(pcm) }
