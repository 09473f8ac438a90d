package viewer

import (
	"sync"

	"github.com/chadiek/algoviz/internal/realtime"
)

// wsMic is a microphone fed by binary websocket frames from the browser.
type wsMic struct {
	state string

	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func newWSMic(state string) *wsMic { return &wsMic{state: state} }

func (m *wsMic) Open() (<-chan []byte, error) {
	switch m.state {
	case MicDenied:
		return nil, realtime.ErrMicrophoneDenied
	case MicMissing:
		return nil, realtime.ErrNoMicrophone
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch == nil {
		m.ch = make(chan []byte, 64)
		if m.closed {
			close(m.ch)
		}
	}
	return m.ch, nil
}

// Feed drops audio when nobody is reading fast enough.
func (m *wsMic) Feed(pcm []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch == nil || m.closed {
		return
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	select {
	case m.ch <- buf:
	default:
	}
}

func (m *wsMic) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.ch != nil {
		close(m.ch)
	}
}
