package http

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mind-engage/examprep/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

type subscriber struct {
	send chan session.Event
}

// Hub fans session events out to websocket subscribers. It implements
// session.Sink; Publish never blocks and drops events for slow readers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub() *Hub { return &Hub{subs: map[string]map[*subscriber]struct{}{}} }

var _ session.Sink = (*Hub)(nil)

func (h *Hub) Publish(sessionID string, ev session.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[sessionID] {
		select {
		case s.send <- ev:
		default:
		}
	}
}

func (h *Hub) subscribe(sessionID string) *subscriber {
	s := &subscriber{send: make(chan session.Event, sendBuffer)}
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = map[*subscriber]struct{}{}
	}
	h.subs[sessionID][s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(sessionID string, s *subscriber) {
	h.mu.Lock()
	delete(h.subs[sessionID], s)
	if len(h.subs[sessionID]) == 0 {
		delete(h.subs, sessionID)
	}
	h.mu.Unlock()
}

// Subscribers returns how many streams are attached to a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// StreamHandler upgrades to a websocket and pushes the session's events until
// the client goes away or the session is closed. The first message is the
// current state.
func StreamHandler(m *session.Manager, hub *Hub, origins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := lookup(m, r)
		if err != nil {
			writeSessionErr(w, err)
			return
		}
		snap, err := sess.Snapshot(r.Context())
		if err != nil {
			writeSessionErr(w, err)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("stream %s: upgrade: %v", chi.URLParam(r, "sessionID"), err)
			return
		}
		id := sess.Info().SessionID
		sub := hub.subscribe(id)
		defer hub.unsubscribe(id, sub)

		gone := make(chan struct{})
		go readPump(conn, gone)
		writePump(conn, sub, sess.Done(), gone, session.Event{Type: session.EventState, State: &snap})
	}
}

// readPump discards client messages; it exists to process pongs and notice
// the close.
func readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *subscriber, done <-chan struct{}, gone <-chan struct{}, first session.Event) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		conn.Close()
	}()
	write := func(ev session.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(ev) == nil
	}
	if !write(first) {
		return
	}
	for {
		select {
		case ev := <-sub.send:
			if !write(ev) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			// flush what the session said last
		drain:
			for {
				select {
				case ev := <-sub.send:
					if !write(ev) {
						return
					}
				default:
					break drain
				}
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
				time.Now().Add(writeWait))
			return
		case <-gone:
			return
		}
	}
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := map[string]bool{}
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		return o == "" || allowed["*"] || allowed[o]
	}
}
