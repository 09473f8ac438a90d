package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/algoviz/internal/agent"
	"github.com/chadiek/algoviz/internal/backend"
	"github.com/chadiek/algoviz/internal/playback"
	"github.com/chadiek/algoviz/internal/realtime"
	"github.com/chadiek/algoviz/internal/sessionlog"
	"github.com/chadiek/algoviz/internal/step"
)

type idleScheduler struct{}

type idleTask struct{}

func (idleTask) Stop() {}

func (idleScheduler) Every(time.Duration, func()) playback.Task { return idleTask{} }

type memOutbox struct {
	mu     sync.Mutex
	msgs   []map[string]any
	binary [][]byte
}

func (o *memOutbox) SendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	o.mu.Lock()
	o.msgs = append(o.msgs, m)
	o.mu.Unlock()
}

func (o *memOutbox) SendBinary(b []byte) {
	o.mu.Lock()
	o.binary = append(o.binary, b)
	o.mu.Unlock()
}

func (o *memOutbox) ofType(typ string) []map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []map[string]any
	for _, m := range o.msgs {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (o *memOutbox) lastFrame(t *testing.T) map[string]any {
	t.Helper()
	frames := o.ofType("frame")
	if len(frames) == 0 {
		t.Fatalf("no frame sent")
	}
	return frames[len(frames)-1]["frame"].(map[string]any)
}

type fakeBackend struct {
	runErr   error
	voiceErr error

	// hold, when set, blocks the next VoiceSession call until closed.
	mu      sync.Mutex
	hold    chan struct{}
	entered chan struct{}
}

func (b *fakeBackend) Run(_ context.Context, problem string, _ map[string]any, _ bool) (*step.Run, error) {
	if b.runErr != nil {
		return nil, b.runErr
	}
	steps := make([]step.Step, 5)
	for i := range steps {
		line := i + 1
		steps[i] = step.Step{Description: "s" + string(rune('0'+i)), LineNumber: &line, Array: []step.ArrayCell{{Value: float64(i)}}}
	}
	return &step.Run{Kind: step.KindArray, SourceCode: "a\nb\nc\nd\ne", Steps: steps}, nil
}

func (b *fakeBackend) Problems(context.Context) ([]backend.Problem, error) {
	return []backend.Problem{{Name: "bubble", Description: "Sort by swapping neighbours"}}, nil
}

func (b *fakeBackend) VoiceSession(_ context.Context, problemID string) (*backend.VoiceSession, error) {
	b.mu.Lock()
	hold := b.hold
	b.hold = nil
	b.mu.Unlock()
	if hold != nil {
		close(b.entered)
		<-hold
	}
	if b.voiceErr != nil {
		return nil, b.voiceErr
	}
	return &backend.VoiceSession{Token: "ek_" + problemID, StepCount: 5}, nil
}

type fakeVoice struct {
	mu        sync.Mutex
	handler   func(realtime.Event)
	token     string
	connected bool
	texts     []string
	results   []any
	session   string
	tools     any
	stopped   int
	once      sync.Once
	ready     chan struct{}
	gone      chan struct{}
}

func (f *fakeVoice) Connect(_ context.Context, token string) error {
	f.mu.Lock()
	f.token = token
	f.connected = true
	f.mu.Unlock()
	f.handler(realtime.Event{Kind: realtime.Connected})
	close(f.ready)
	return nil
}

func (f *fakeVoice) UpdateSession(instructions string, tools any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session, f.tools = instructions, tools
	return nil
}

func (f *fakeVoice) Disconnect() {
	f.once.Do(func() {
		f.mu.Lock()
		f.connected = false
		f.stopped++
		f.mu.Unlock()
		f.handler(realtime.Event{Kind: realtime.Disconnected, Usage: realtime.Usage{InputTokens: 10, OutputTokens: 5, AudioSeconds: 4, Duration: 4 * time.Second}})
		close(f.gone)
	})
}

func (f *fakeVoice) Usage() realtime.Usage { return realtime.Usage{} }

func (f *fakeVoice) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeVoice) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeVoice) SendFunctionResult(_ string, result any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return nil
}

func (f *fakeVoice) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type chanSink struct{ ch chan sessionlog.Record }

func (s chanSink) Log(_ context.Context, r sessionlog.Record) error {
	s.ch <- r
	return nil
}

type fixture struct {
	v      *Viewer
	out    *memOutbox
	be     *fakeBackend
	voices chan *fakeVoice
	logs   chanSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{out: &memOutbox{}, be: &fakeBackend{}, voices: make(chan *fakeVoice, 4), logs: chanSink{ch: make(chan sessionlog.Record, 4)}}
	f.v = New(Deps{
		Backend:   f.be,
		Sessions:  f.logs,
		Scheduler: idleScheduler{},
		NewVoice: func(_ realtime.Config, _ realtime.Microphone, _ realtime.Speaker, h func(realtime.Event)) VoiceClient {
			fv := &fakeVoice{handler: h, ready: make(chan struct{}), gone: make(chan struct{})}
			f.voices <- fv
			return fv
		},
	}, f.out)
	return f
}

func (f *fixture) send(t *testing.T, msg string) {
	t.Helper()
	f.v.HandleText(context.Background(), []byte(msg))
}

func (f *fixture) waitVoice(t *testing.T) *fakeVoice {
	t.Helper()
	select {
	case fv := <-f.voices:
		select {
		case <-fv.ready:
		case <-time.After(time.Second):
			t.Fatalf("voice client never connected")
		}
		return fv
	case <-time.After(time.Second):
		t.Fatalf("voice client was not created")
	}
	return nil
}

func TestRun_LoadsFirstStep(t *testing.T) {
	f := newFixture(t)
	f.send(t, `{"type":"run","problem":"bubble","params":{"n":5}}`)
	fr := f.out.lastFrame(t)
	if fr["index"] != float64(0) || fr["total"] != float64(5) || fr["description"] != "s0" {
		t.Fatalf("unexpected frame %v", fr)
	}
	if !strings.Contains(fr["view"].(string), "0") {
		t.Fatalf("expected rendered view, got %q", fr["view"])
	}
	codes := f.out.ofType("code")
	if len(codes) == 0 {
		t.Fatalf("expected code panel update")
	}
	code := codes[len(codes)-1]["code"].(map[string]any)
	if code["current_line"] != float64(1) || len(code["lines"].([]any)) != 5 {
		t.Fatalf("unexpected code snapshot %v", code)
	}
}

func TestRun_ErrorKeepsState(t *testing.T) {
	f := newFixture(t)
	f.send(t, `{"type":"run","problem":"bubble"}`)
	f.send(t, `{"type":"forward"}`)
	f.be.runErr = &step.ServiceError{Message: "Unknown problem: x"}
	f.send(t, `{"type":"run","problem":"x"}`)
	errs := f.out.ofType("error")
	if len(errs) != 1 || !strings.Contains(errs[0]["message"].(string), "Unknown problem: x") {
		t.Fatalf("expected surfaced error, got %v", errs)
	}
	if st := f.v.Engine().State(); st.Index != 1 || st.Total != 5 {
		t.Fatalf("engine must keep prior state, got %+v", st)
	}
}

func TestControls(t *testing.T) {
	f := newFixture(t)
	f.send(t, `{"type":"run","problem":"bubble"}`)
	f.send(t, `{"type":"end"}`)
	if f.v.Engine().State().Index != 4 {
		t.Fatalf("expected end")
	}
	f.send(t, `{"type":"back"}`)
	f.send(t, `{"type":"seek","index":1}`)
	if f.v.Engine().State().Index != 1 {
		t.Fatalf("expected seek to 1")
	}
	f.send(t, `{"type":"scrub","ratio":0.5}`)
	if f.v.Engine().State().Index != 2 {
		t.Fatalf("expected scrub to 2, got %d", f.v.Engine().State().Index)
	}
	f.send(t, `{"type":"speed","value":20}`)
	if f.v.Engine().State().Speed != 60*time.Millisecond {
		t.Fatalf("expected 60ms speed, got %v", f.v.Engine().State().Speed)
	}
	f.send(t, `{"type":"toggle"}`)
	if !f.v.Engine().State().Playing {
		t.Fatalf("expected playing")
	}
	f.send(t, `{"type":"start"}`)
	if st := f.v.Engine().State(); st.Playing || st.Index != 0 {
		t.Fatalf("expected paused at start, got %+v", st)
	}
	before := len(f.out.ofType("frame"))
	f.send(t, `{"type":"refresh"}`)
	if after := len(f.out.ofType("frame")); after != before+1 {
		t.Fatalf("expected one repainted frame, got %d", after-before)
	}
	f.send(t, `{"type":"dance"}`)
	f.send(t, `not json`)
	if n := len(f.out.ofType("error")); n != 2 {
		t.Fatalf("expected 2 errors, got %d", n)
	}
}

func TestVoiceStart_RequiresRun(t *testing.T) {
	f := newFixture(t)
	f.send(t, `{"type":"voice_start","mic":"granted"}`)
	st := f.out.ofType("status")
	if len(st) != 1 || st[0]["text"] != "Load a problem first" {
		t.Fatalf("unexpected status %v", st)
	}
}

func TestVoiceLifecycle(t *testing.T) {
	f := newFixture(t)
	f.send(t, `{"type":"run","problem":"bubble"}`)
	f.send(t, `{"type":"voice_start","mic":"granted"}`)
	fv := f.waitVoice(t)

	texts := fv.sentTexts()
	if len(texts) != 1 || texts[0] != agent.KickoffMessage {
		t.Fatalf("expected kickoff, got %v", texts)
	}
	if fv.token != "ek_bubble" {
		t.Fatalf("unexpected token %q", fv.token)
	}
	if !strings.Contains(fv.session, "PROBLEM: Sort by swapping neighbours") || !strings.Contains(fv.session, "Step 4: line 5: s4") {
		t.Fatalf("unexpected instructions:\n%s", fv.session)
	}
	if tools, ok := fv.tools.([]agent.Tool); !ok || len(tools) != 6 {
		t.Fatalf("expected the six tools, got %#v", fv.tools)
	}

	// user navigation reaches the agent
	f.send(t, `{"type":"forward"}`)
	texts = fv.sentTexts()
	if len(texts) != 2 || !strings.HasPrefix(texts[1], "[User navigated to step 1 of 4.") {
		t.Fatalf("expected navigation status, got %v", texts)
	}

	// agent tool calls are applied and not echoed
	fv.handler(realtime.Event{Kind: realtime.FunctionCall, Call: agent.FunctionCall{Name: agent.ToolSeekToStep, Arguments: json.RawMessage(`{"step_index":3}`), CallID: "c1"}})
	fv.handler(realtime.Event{Kind: realtime.FunctionCall, Call: agent.FunctionCall{Name: agent.ToolHighlightCodeLines, Arguments: json.RawMessage(`{"start_line":2,"end_line":3}`), CallID: "c2"}})
	if f.v.Engine().State().Index != 3 {
		t.Fatalf("expected agent seek to 3")
	}
	if len(fv.sentTexts()) != 2 {
		t.Fatalf("agent change echoed: %v", fv.sentTexts())
	}
	if len(fv.results) != 2 {
		t.Fatalf("expected 2 function results, got %d", len(fv.results))
	}
	if f.v.Panel().Snapshot().Voice == nil {
		t.Fatalf("expected voice highlight")
	}

	fv.handler(realtime.Event{Kind: realtime.AgentTranscript, Text: "Let's start."})
	fv.handler(realtime.Event{Kind: realtime.UserTranscript, Text: "  "})
	if tr := f.out.ofType("transcript"); len(tr) != 1 || tr[0]["role"] != "agent" {
		t.Fatalf("unexpected transcripts %v", tr)
	}

	f.send(t, `{"type":"voice_stop"}`)
	if f.v.Panel().Snapshot().Voice != nil {
		t.Fatalf("expected highlight cleared on disconnect")
	}
	f.send(t, `{"type":"forward"}`)
	if len(fv.sentTexts()) != 2 {
		t.Fatalf("detached bridge must not report navigation")
	}
	select {
	case rec := <-f.logs.ch:
		if rec.ProblemID != "bubble" || rec.InputTokens != 10 || rec.AudioSeconds != 4 || rec.DurationSeconds != 4 || rec.ServerTimestamp == "" {
			t.Fatalf("unexpected record %+v", rec)
		}
	case <-time.After(time.Second):
		t.Fatalf("session was not logged")
	}

	// a new session can start afterwards
	f.send(t, `{"type":"voice_start","mic":"granted"}`)
	f.waitVoice(t)
}

// holdToken makes the next voice_start wait in the token request until the
// returned func is called.
func (f *fixture) holdToken(t *testing.T) (release func()) {
	t.Helper()
	hold, entered := make(chan struct{}), make(chan struct{})
	f.be.mu.Lock()
	f.be.hold, f.be.entered = hold, entered
	f.be.mu.Unlock()
	f.send(t, `{"type":"voice_start","mic":"granted"}`)
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatalf("token request never started")
	}
	return func() { close(hold) }
}

// waitStale returns the client built for an abandoned session once its
// disconnect has been handled.
func (f *fixture) waitStale(t *testing.T) *fakeVoice {
	t.Helper()
	select {
	case fv := <-f.voices:
		select {
		case <-fv.gone:
		case <-time.After(time.Second):
			t.Fatalf("abandoned client was not disconnected")
		}
		return fv
	case <-time.After(time.Second):
		t.Fatalf("abandoned client was not created")
	}
	return nil
}

func (f *fixture) statusCount(text string) int {
	n := 0
	for _, st := range f.out.ofType("status") {
		if st["text"] == text {
			n++
		}
	}
	return n
}

func TestVoiceStop_WhileRequestingToken(t *testing.T) {
	f := newFixture(t)
	f.send(t, `{"type":"run","problem":"bubble"}`)
	release := f.holdToken(t)
	f.send(t, `{"type":"voice_stop"}`)
	if n := f.statusCount("Disconnected"); n != 1 {
		t.Fatalf("expected one Disconnected status after stop, got %d", n)
	}
	release()

	stale := f.waitStale(t)
	if stale.stopped != 1 || stale.Connected() {
		t.Fatalf("abandoned client must be disconnected without connecting, stopped=%d", stale.stopped)
	}
	if n := f.statusCount("Disconnected"); n != 1 {
		t.Fatalf("abandoned client reported its own disconnect, got %d", n)
	}
	select {
	case rec := <-f.logs.ch:
		t.Fatalf("unconnected session must not be logged, got %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStaleSession_LeavesLiveSessionAttached(t *testing.T) {
	f := newFixture(t)
	f.send(t, `{"type":"run","problem":"bubble"}`)
	release := f.holdToken(t)
	f.send(t, `{"type":"voice_stop"}`)
	f.send(t, `{"type":"voice_start","mic":"granted"}`)
	live := f.waitVoice(t)
	live.handler(realtime.Event{Kind: realtime.FunctionCall, Call: agent.FunctionCall{Name: agent.ToolHighlightCodeLines, Arguments: json.RawMessage(`{"start_line":2,"end_line":2}`), CallID: "h"}})
	stopsBefore := f.statusCount("Disconnected")

	release()
	f.waitStale(t)

	if f.v.Panel().Snapshot().Voice == nil {
		t.Fatalf("live session highlight was cleared by the abandoned one")
	}
	if n := f.statusCount("Disconnected"); n != stopsBefore {
		t.Fatalf("abandoned session sent a Disconnected status")
	}
	f.send(t, `{"type":"forward"}`)
	texts := live.sentTexts()
	if len(texts) != 2 || !strings.HasPrefix(texts[1], "[User navigated to step 1 of 4.") {
		t.Fatalf("live session lost its observer, texts=%v", texts)
	}
	if !live.Connected() {
		t.Fatalf("live session was disconnected")
	}
}

func TestVoiceStart_TokenError(t *testing.T) {
	f := newFixture(t)
	f.be.voiceErr = errors.New("OPENAI_API_KEY not configured on server")
	f.send(t, `{"type":"run","problem":"bubble"}`)
	f.send(t, `{"type":"voice_start","mic":"granted"}`)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, st := range f.out.ofType("status") {
			if strings.HasPrefix(st["text"].(string), "Error: OPENAI_API_KEY") {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected error status, got %v", f.out.ofType("status"))
}

func TestClose_PausesAndDisconnects(t *testing.T) {
	f := newFixture(t)
	f.send(t, `{"type":"run","problem":"bubble"}`)
	f.send(t, `{"type":"voice_start","mic":"granted"}`)
	fv := f.waitVoice(t)
	f.send(t, `{"type":"play"}`)
	f.v.Close()
	if f.v.Engine().State().Playing {
		t.Fatalf("expected paused after close")
	}
	if fv.stopped != 1 {
		t.Fatalf("expected voice disconnected once, got %d", fv.stopped)
	}
}

func TestWSMic(t *testing.T) {
	if _, err := newWSMic(MicDenied).Open(); !errors.Is(err, realtime.ErrMicrophoneDenied) {
		t.Fatalf("expected denied, got %v", err)
	}
	if _, err := newWSMic(MicMissing).Open(); !errors.Is(err, realtime.ErrNoMicrophone) {
		t.Fatalf("expected missing, got %v", err)
	}
	m := newWSMic(MicGranted)
	m.Feed([]byte{1}) // before Open: dropped
	ch, err := m.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	m.Feed([]byte{1, 2})
	if got := <-ch; len(got) != 2 {
		t.Fatalf("unexpected chunk %v", got)
	}
	m.Close()
	m.Close()
	m.Feed([]byte{3})
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
}

func TestAuthOK(t *testing.T) {
	if !AuthOK(nil, "") {
		t.Fatalf("expected true when no password configured")
	}
	r := httptest.NewRequest(http.MethodGet, "/ws?password=secret", nil)
	if !AuthOK(r, "secret") {
		t.Fatalf("expected true with query password")
	}
	r2 := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r2.Header.Set("X-Auth-Token", "tok")
	if !AuthOK(r2, "tok") {
		t.Fatalf("expected true with X-Auth-Token")
	}
	r3 := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r3.Header.Set("Authorization", "bearer abc")
	if !AuthOK(r3, "abc") {
		t.Fatalf("expected true with lowercase bearer prefix")
	}
	r4 := httptest.NewRequest(http.MethodGet, "/ws?password=wrong", nil)
	r4.Header.Set("Authorization", "Bearer nope")
	if AuthOK(r4, "secret") {
		t.Fatalf("expected false with wrong credentials")
	}
}

func TestHandler_WebSocketRoundTrip(t *testing.T) {
	h := &Handler{Deps: Deps{Backend: &fakeBackend{}, Scheduler: idleScheduler{}}, AuthPassword: "pw"}
	srv := httptest.NewServer(h)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without password, err=%v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url+"?password=pw", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]any{"type": "run", "problem": "bubble"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var m map[string]any
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		if m["type"] == "frame" {
			fr := m["frame"].(map[string]any)
			if fr["total"] != float64(5) {
				t.Fatalf("unexpected frame %v", fr)
			}
			return
		}
	}
}
