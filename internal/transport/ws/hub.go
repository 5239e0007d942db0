// Package ws pushes club change notifications to connected browsers so their
// member and team lists can refetch.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/you/club-membership/internal/infra"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Event is the only message the server sends.
type Event struct {
	Topic  string    `json:"topic"`
	ClubID uuid.UUID `json:"club_id"`
	At     time.Time `json:"at"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	clubID uuid.UUID
	userID uuid.UUID
}

type broadcast struct {
	clubID uuid.UUID
	msg    []byte
}

// Hub tracks connections per club. Run must be running for Notify and Serve
// to make progress.
type Hub struct {
	log      infra.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan broadcast
	done       chan struct{}

	mu    sync.RWMutex
	clubs map[uuid.UUID]map[*client]struct{}
}

func NewHub(log infra.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan broadcast, 64),
		done:       make(chan struct{}),
		clubs:      map[uuid.UUID]map[*client]struct{}{},
	}
}

// Run serves registrations and broadcasts until ctx is done, then drops
// every connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.clubs[c.clubID] == nil {
				h.clubs[c.clubID] = map[*client]struct{}{}
			}
			h.clubs[c.clubID][c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			h.drop(c)
			h.mu.Unlock()

		case b := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clubs[b.clubID] {
				select {
				case c.send <- b.msg:
				default:
					// slow reader; it will refetch on reconnect
					h.drop(c)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for _, set := range h.clubs {
				for c := range set {
					h.drop(c)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// drop removes c and closes its send channel. Caller holds mu.
func (h *Hub) drop(c *client) {
	set, ok := h.clubs[c.clubID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clubs, c.clubID)
	}
}

// Notify queues a change event for clubID. It never blocks the caller.
func (h *Hub) Notify(clubID uuid.UUID, topic string) {
	msg, err := json.Marshal(Event{Topic: topic, ClubID: clubID, At: time.Now().UTC()})
	if err != nil {
		h.log.Errorf("ws: marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- broadcast{clubID: clubID, msg: msg}:
	default:
		h.log.Warnf("ws: broadcast queue full, dropped %s for club %s", topic, clubID)
	}
}

// Connections reports how many sockets are open for clubID.
func (h *Hub) Connections(clubID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clubs[clubID])
}

// Serve upgrades the request and subscribes the socket to clubID. The caller
// has already authorized userID for the club.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, clubID, userID uuid.UUID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("ws: upgrade: %v", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), clubID: clubID, userID: userID}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump only handles control frames; clients have nothing to say.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debugf("ws: user %s club %s: %v", c.userID, c.clubID, err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
