package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/observability"
	"github.com/your-org/facewatch/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client is one connected WebSocket subscriber.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	personID int64 // 0 means no filter
}

// message pairs the encoded payload with the person it concerns so
// filtering doesn't re-parse it per client.
type message struct {
	payload  []byte
	personID int64 // 0 for unmatched faces
}

// Hub maintains active WebSocket clients and fans detection reports
// out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub event loop. Call this in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "person_filter", client.personID)

		case client := <-h.unregister:
			h.drop(client)

		case msg := <-h.broadcast:
			var stale []*Client
			h.mu.RLock()
			for client := range h.clients {
				if client.personID != 0 && client.personID != msg.personID {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// Client can't keep up; drop it after the sweep.
					stale = append(stale, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range stale {
				h.drop(client)
			}
		}
	}
}

// drop removes a client and closes its send channel exactly once.
func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	if ok {
		observability.WSConnections.Dec()
		slog.Debug("ws client disconnected")
	}
}

// Report broadcasts one detection report to subscribers. Satisfies
// recognize.Reporter so the sync recognition path pushes results in
// real time. Non-blocking: a full broadcast buffer drops the message
// rather than stalling recognition.
func (h *Hub) Report(ctx context.Context, rep models.DetectionReport) error {
	data, err := json.Marshal(dto.NewWSDetection(rep))
	if err != nil {
		return fmt.Errorf("marshal ws detection: %w", err)
	}

	var personID int64
	if rep.MatchedPersonID != nil {
		personID = *rep.MatchedPersonID
	}

	select {
	case h.broadcast <- message{payload: data, personID: personID}:
	default:
		slog.Warn("ws broadcast buffer full, dropping report", "job_id", rep.JobID)
	}
	return nil
}

// HandleWS upgrades the connection. An optional person_id query
// parameter limits the feed to matches of that person.
func (h *Hub) HandleWS(c *gin.Context) {
	var personID int64
	if pidStr := c.Query("person_id"); pidStr != "" {
		id, err := strconv.ParseInt(pidStr, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person_id"})
			return
		}
		personID = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 64),
		personID: personID,
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// We don't process incoming messages from clients.
		// This loop exists to detect disconnection.
	}
}
