// Package server implements ynotd, the reference feed server: the backfill
// endpoint, the live websocket channel and post ingestion.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tOgg1/yfeed/internal/feed"
	"github.com/tOgg1/yfeed/internal/models"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

type client struct {
	id       string
	conn     *websocket.Conn
	protocol feed.Protocol
	send     chan []byte
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks websocket clients on this instance and pushes posts to them.
type Hub struct {
	upgrader        websocket.Upgrader
	defaultProtocol feed.Protocol
	logger          zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates a hub. defaultProtocol applies to clients that don't ask
// for a format.
func NewHub(defaultProtocol feed.Protocol, logger zerolog.Logger) *Hub {
	if defaultProtocol == feed.ProtocolAuto {
		defaultProtocol = feed.ProtocolTagged
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		defaultProtocol: defaultProtocol,
		logger:          logger,
		clients:         make(map[string]*client),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends post to every client in its requested frame shape. Clients
// whose buffers are full are disconnected.
func (h *Hub) Broadcast(post models.Post) {
	frames := make(map[feed.Protocol][]byte, 2)
	var slow []*client

	h.mu.RLock()
	for _, c := range h.clients {
		frame, ok := frames[c.protocol]
		if !ok {
			var err error
			frame, err = feed.EncodeFrame(post, c.protocol)
			if err != nil {
				h.logger.Error().Err(err).Str("post_id", post.ID).Msg("failed to encode frame")
				h.mu.RUnlock()
				return
			}
			frames[c.protocol] = frame
		}
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("client", c.id).Msg("dropping slow client")
		h.remove(c)
	}
}

// ServeWS upgrades the request and streams posts until the client leaves.
// ?format=raw (or untagged) selects untagged frames, ?format=tagged forces
// tagged ones.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	protocol := h.defaultProtocol
	switch r.URL.Query().Get("format") {
	case "raw", "untagged":
		protocol = feed.ProtocolUntagged
	case "tagged":
		protocol = feed.ProtocolTagged
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	c := &client{
		id:       uuid.NewString(),
		conn:     conn,
		protocol: protocol,
		send:     make(chan []byte, clientSendBuffer),
	}
	h.add(c)
	h.logger.Info().Str("client", c.id).Str("format", protocol.String()).Msg("client connected")

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// readPump only exists to notice the client going away and to answer pings.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
		h.logger.Info().Str("client", c.id).Msg("client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
