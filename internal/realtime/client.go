package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3"
)

const (
	DefaultURL   = "https://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview-2024-12-17"

	eventsChannel = "oai-events"
)

var (
	ErrMicrophoneDenied = errors.New("microphone permission denied")
	ErrNoMicrophone     = errors.New("no microphone found")
	ErrNotConnected     = errors.New("realtime data channel not open")
	errClientUsed       = errors.New("realtime client already used")
)

// Microphone supplies 48kHz PCM16LE mono. Open fails with ErrMicrophoneDenied
// or ErrNoMicrophone when no audio can be captured.
type Microphone interface {
	Open() (<-chan []byte, error)
	Close()
}

// Speaker plays the agent's voice as 48kHz PCM16LE mono. WritePCM must not block.
type Speaker interface {
	WritePCM(pcm []byte)
}

type Config struct {
	ID         string
	URL        string
	Model      string
	ICEServers []webrtc.ICEServer
	HTTPClient *http.Client
}

type dataChannel interface {
	SendText(s string) error
	Close() error
}

// Client is one voice session with the remote realtime model: a peer
// connection carrying microphone and agent audio plus the event channel.
// A Client is used for a single session.
type Client struct {
	cfg     Config
	mic     Microphone
	spk     Speaker
	queue   *eventQueue
	out     chan string
	done    chan struct{}
	endOnce sync.Once

	mu          sync.Mutex
	started     bool
	open        bool
	closed      bool
	connectedAt time.Time
	endedAt     time.Time
	usage       Usage
	pc          *webrtc.PeerConnection
	dc          dataChannel
	paced       *OpusPacedWriter
}

// NewClient prepares a session. handler receives every event on a single
// goroutine, in order; it may call back into the client.
func NewClient(cfg Config, mic Microphone, spk Speaker, handler func(Event)) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = ParseICEServers("")
	}
	if handler == nil {
		handler = func(Event) {}
	}
	c := &Client{
		cfg:   cfg,
		mic:   mic,
		spk:   spk,
		queue: newEventQueue(),
		out:   make(chan string, 256),
		done:  make(chan struct{}),
	}
	go c.queue.run(handler)
	return c
}

// Connect negotiates the session using an ephemeral token. On failure an
// Error event carrying a readable cause is emitted and everything built so
// far is torn down. Disconnected follows exactly once either way.
func (c *Client) Connect(ctx context.Context, token string) (err error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errClientUsed
	}
	c.started = true
	c.mu.Unlock()

	go c.writeLoop()
	defer func() {
		if err != nil {
			c.emit(Event{Kind: Error, Text: UserMessage(err)})
			c.teardown()
		}
	}()

	if c.mic == nil {
		return fmt.Errorf("open microphone: %w", ErrNoMicrophone)
	}
	pcm, err := c.mic.Open()
	if err != nil {
		return &micError{err: err}
	}

	pc, micTrack, err := newPeer(c.cfg.ICEServers)
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	c.mu.Lock()
	c.pc = pc
	c.mu.Unlock()

	paced, err := NewOpusPacedWriter(micTrack)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}
	c.mu.Lock()
	c.paced = paced
	c.mu.Unlock()
	go c.pumpMic(pcm, paced)

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio || c.spk == nil {
			return
		}
		logf(c.cfg.ID, "Agent audio track received: codec=%s", remote.Codec().MimeType)
		dec, derr := opus.NewDecoder(sampleRate, 1)
		if derr != nil {
			logf(c.cfg.ID, "Opus decoder error: %v", derr)
			return
		}
		go decodeLoop(c.cfg.ID, remoteTrack{remote}, dec, c.spk)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logf(c.cfg.ID, "PeerConnection state: %s", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			go c.teardown()
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logf(c.cfg.ID, "ICE state: %s", state.String())
	})

	dc, err := pc.CreateDataChannel(eventsChannel, nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()
	dc.OnOpen(c.onOpen)
	dc.OnClose(func() { go c.teardown() })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			return
		}
		if ev, ok := c.handleMessage(msg.Data); ok {
			c.emit(ev)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		return errors.New("no local description")
	}

	answer, err := exchangeSDP(ctx, c.cfg.HTTPClient, c.cfg.URL, c.cfg.Model, token, local.SDP)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *Client) onOpen() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.open = true
	c.connectedAt = time.Now()
	c.mu.Unlock()
	logf(c.cfg.ID, "Events channel open")
	c.emit(Event{Kind: Connected})
	go c.usageLoop()
}

// Connected reports whether the events channel is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

// SendText adds a user text message to the conversation and asks for a response.
func (c *Client) SendText(text string) error {
	return c.send(userTextMessage(text), responseCreate)
}

// UpdateSession sets the tutor instructions and tool catalog for the
// rest of the conversation.
func (c *Client) UpdateSession(instructions string, tools any) error {
	return c.send(sessionUpdateMessage(instructions, tools))
}

// SendFunctionResult answers a tool call and asks for a response.
func (c *Client) SendFunctionResult(callID string, result any) error {
	msg, err := functionOutputMessage(callID, result)
	if err != nil {
		return fmt.Errorf("encode function result: %w", err)
	}
	return c.send(msg, responseCreate)
}

// send queues messages for the writer; it never waits on the network.
func (c *Client) send(msgs ...clientMessage) error {
	encoded := make([]string, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		encoded = append(encoded, string(b))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.closed {
		return ErrNotConnected
	}
	if len(c.out)+len(encoded) > cap(c.out) {
		return errors.New("realtime outbound queue full")
	}
	for _, s := range encoded {
		c.out <- s
	}
	return nil
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case s := <-c.out:
			c.mu.Lock()
			dc := c.dc
			c.mu.Unlock()
			if dc == nil {
				continue
			}
			if err := dc.SendText(s); err != nil {
				logf(c.cfg.ID, "data channel send error: %v", err)
			}
		}
	}
}

func (c *Client) pumpMic(pcm <-chan []byte, paced *OpusPacedWriter) {
	for {
		select {
		case <-c.done:
			return
		case chunk, ok := <-pcm:
			if !ok {
				// Mic gone: nothing queued should still go out.
				paced.Reset()
				return
			}
			paced.WritePCM(chunk)
		}
	}
}

func (c *Client) usageLoop() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.emit(Event{Kind: UsageUpdate, Usage: c.Usage()})
		}
	}
}

// Usage returns tokens so far and whole seconds of connected audio.
func (c *Client) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.usage
	if !c.connectedAt.IsZero() {
		end := c.endedAt
		if end.IsZero() {
			end = time.Now()
		}
		u.Duration = end.Sub(c.connectedAt)
		u.AudioSeconds = int(u.Duration / time.Second)
	}
	return u
}

// Disconnect tears the session down. Safe to call more than once.
func (c *Client) Disconnect() {
	c.teardown()
}

func (c *Client) teardown() {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.open = false
		if !c.connectedAt.IsZero() {
			c.endedAt = time.Now()
		}
		pc, dc, paced := c.pc, c.dc, c.paced
		c.mu.Unlock()

		close(c.done)
		if c.mic != nil {
			c.mic.Close()
		}
		if paced != nil {
			paced.Close()
		}
		if dc != nil {
			_ = dc.Close()
		}
		if pc != nil {
			_ = pc.Close()
		}
		logf(c.cfg.ID, "voice session closed")
		c.emit(Event{Kind: Disconnected, Usage: c.Usage()})
		c.queue.close()
	})
}

func (c *Client) emit(ev Event) { c.queue.push(ev) }

type micError struct{ err error }

func (e *micError) Error() string { return "open microphone: " + e.err.Error() }
func (e *micError) Unwrap() error { return e.err }

// SDPError is a non-2xx answer from the realtime endpoint.
type SDPError struct {
	Status int
	Body   string
}

func (e *SDPError) Error() string { return fmt.Sprintf("sdp exchange failed: %d %s", e.Status, e.Body) }

// UserMessage renders err for display to the person at the microphone.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMicrophoneDenied):
		return "Microphone permission denied. Please allow mic access and try again."
	case errors.Is(err, ErrNoMicrophone):
		return "No microphone found. Please connect a microphone."
	}
	var sdp *SDPError
	if errors.As(err, &sdp) {
		return fmt.Sprintf("SDP exchange failed: %d %s", sdp.Status, sdp.Body)
	}
	var mic *micError
	if errors.As(err, &mic) {
		return "Microphone error: " + mic.err.Error()
	}
	return err.Error()
}

func logf(id, format string, args ...any) {
	log.Printf("[%s] "+format, append([]any{id}, args...)...)
}

// eventQueue is an unbounded FIFO drained by one goroutine, so emitters
// never block and the handler may re-enter the client.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run(handler func(Event)) {
	for {
		q.mu.Lock()
		items, closed := q.items, q.closed
		q.items = nil
		q.mu.Unlock()
		for _, ev := range items {
			handler(ev)
		}
		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.signal
	}
}
