package viewer

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Same-origin page or local tools; access is gated by AuthOK.
		return true
	},
}

const (
	writeWait   = 10 * time.Second
	outboxDepth = 1024
)

type wsFrame struct {
	binary bool
	json   any
	data   []byte
}

// wsOutbox serializes every write to one connection on a single goroutine.
type wsOutbox struct {
	conn *websocket.Conn
	id   string

	mu     sync.Mutex
	queue  chan wsFrame
	closed bool
	done   chan struct{}
}

func newWSOutbox(conn *websocket.Conn) *wsOutbox {
	return &wsOutbox{conn: conn, queue: make(chan wsFrame, outboxDepth), done: make(chan struct{})}
}

func (o *wsOutbox) SendJSON(v any)      { o.enqueue(wsFrame{json: v}) }
func (o *wsOutbox) SendBinary(b []byte) { o.enqueue(wsFrame{binary: true, data: b}) }

func (o *wsOutbox) enqueue(f wsFrame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	select {
	case o.queue <- f:
	default:
		log.Printf("[%s] ws outbox full, dropping message", o.id)
	}
}

func (o *wsOutbox) Close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()
	<-o.done
}

func (o *wsOutbox) writeLoop() {
	defer close(o.done)
	for f := range o.queue {
		_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
		var err error
		if f.binary {
			err = o.conn.WriteMessage(websocket.BinaryMessage, f.data)
		} else {
			err = o.conn.WriteJSON(f.json)
		}
		if err != nil {
			log.Printf("[%s] ws write error: %v", o.id, err)
			for range o.queue {
			}
			return
		}
	}
}

// Handler upgrades /ws requests and runs one Viewer per connection.
type Handler struct {
	Deps         Deps
	AuthPassword string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !AuthOK(r, h.AuthPassword) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	out := newWSOutbox(conn)
	v := New(h.Deps, out)
	out.id = v.ID
	go out.writeLoop()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[%s] ws read error: %v", v.ID, err)
			}
			break
		}
		switch mt {
		case websocket.TextMessage:
			v.HandleText(ctx, data)
		case websocket.BinaryMessage:
			v.HandleBinary(data)
		}
	}
	v.Close()
	out.Close()
}

// AuthOK accepts ?password=, a bearer token or X-Auth-Token. An empty
// password disables the check.
func AuthOK(r *http.Request, password string) bool {
	if password == "" {
		return true
	}
	if r == nil {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == password {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == password {
		return true
	}
	return false
}
