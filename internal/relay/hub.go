package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/marionette/internal/dispatch"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultSendBuffer = 64
	writeWait         = 5 * time.Second
)

// Message is what subscribers receive for each command result.
type Message struct {
	MessageID uint64          `json:"message_id"`
	Command   string          `json:"command"`
	Result    json.RawMessage `json:"result"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub fans results out to websocket subscribers. A subscriber whose buffer
// is full is dropped rather than stalling the dispatching goroutine.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*subscriber]struct{}
	buffer   int
	upgrader websocket.Upgrader
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Hub{
		clients: make(map[*subscriber]struct{}),
		buffer:  buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Publish matches the client.Manager OnResult signature.
func (h *Hub) Publish(r dispatch.Result) {
	data, err := json.Marshal(Message{MessageID: r.MessageID, Command: r.Command, Result: r.Value})
	if err != nil {
		log.Warn().Err(err).Str("command", r.Command).Msg("relay.Publish marshal failed")
		return
	}

	h.mu.RLock()
	var slow []*subscriber
	for s := range h.clients {
		select {
		case s.send <- data:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		log.Warn().Str("remote", s.conn.RemoteAddr().String()).Msg("relay.Publish dropping slow subscriber")
		h.remove(s)
	}
}

// ServeWS upgrades the request and streams results until the peer leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("relay.ServeWS upgrade failed")
		return
	}
	s := &subscriber{conn: conn, send: make(chan []byte, h.buffer)}

	h.mu.Lock()
	h.clients[s] = struct{}{}
	h.mu.Unlock()
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("relay.ServeWS subscribed")

	go h.writeLoop(s)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(s)
}

func (h *Hub) writeLoop(s *subscriber) {
	defer s.conn.Close()
	for data := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(s)
			return
		}
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.clients, s)
	h.mu.Unlock()
	s.close()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*subscriber]struct{})
	h.mu.Unlock()
	for s := range clients {
		s.close()
	}
}
