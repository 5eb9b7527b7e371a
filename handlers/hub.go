package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"portal-voting-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// StatsMessage is pushed to subscribers whenever a poll's votes change.
type StatsMessage struct {
	Type   string           `json:"type"`
	PollID uint             `json:"poll_id"`
	Stats  models.PollStats `json:"stats"`
}

// Client is one websocket subscriber watching a single poll.
type Client struct {
	pollID uint
	conn   *websocket.Conn
	send   chan []byte
}

type broadcastRequest struct {
	pollID  uint
	payload []byte
}

// Hub maintains the set of active clients grouped by poll and broadcasts
// stats updates to them. The clients map and every channel close are owned by
// the Run goroutine; other goroutines only talk to it through the channels.
type Hub struct {
	clients    map[uint]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastRequest
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uint]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastRequest, 64),
	}
}

// Run processes register/unregister/broadcast requests until the process
// exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			if _, ok := h.clients[client.pollID]; !ok {
				h.clients[client.pollID] = make(map[*Client]bool)
			}
			h.clients[client.pollID][client] = true
			log.Printf("Client subscribed to poll %d", client.pollID)

		case client := <-h.unregister:
			h.drop(client)

		case req := <-h.broadcast:
			for client := range h.clients[req.pollID] {
				select {
				case client.send <- req.payload:
				default:
					// Slow consumer, disconnect it.
					h.drop(client)
				}
			}
		}
	}
}

// drop removes a client and closes its send channel. Only called from Run, so
// the close happens exactly once even when an unregister races a full-buffer
// disconnect.
func (h *Hub) drop(client *Client) {
	pollClients, ok := h.clients[client.pollID]
	if !ok {
		return
	}
	if _, ok := pollClients[client]; !ok {
		return
	}
	delete(pollClients, client)
	close(client.send)
	if len(pollClients) == 0 {
		delete(h.clients, client.pollID)
	}
}

// Broadcast queues a message for every client watching pollID. When the queue
// is full the update is dropped; the next vote produces a fresh one.
func (h *Hub) Broadcast(pollID uint, msg StatsMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal stats message: %v", err)
		return
	}

	select {
	case h.broadcast <- broadcastRequest{pollID: pollID, payload: payload}:
	default:
		log.Printf("Broadcast queue full, dropping stats update for poll %d", pollID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The portal frontend is served from a different origin; CORS policy is
	// handled at the router.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket upgrades the connection and subscribes it to one poll's
// stats updates.
func HandleWebSocket(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}

	client := &Client{pollID: pollID, conn: conn, send: make(chan []byte, 16)}
	pollHub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		pollHub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcastPollStats recomputes a poll's stats and pushes them to websocket
// subscribers. Wired as the voting service's OnVotesChanged hook.
func broadcastPollStats(pollID uint) {
	stats, err := repo.Stats(context.Background(), pollID)
	if err != nil {
		log.Printf("Failed to compute stats for broadcast on poll %d: %v", pollID, err)
		return
	}
	pollHub.Broadcast(pollID, StatsMessage{Type: "STATS_UPDATE", PollID: pollID, Stats: *stats})
}
