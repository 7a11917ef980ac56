package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this interval (must be < pongWait)
	pingInterval = 30 * time.Second
)

// Event types for WebSocket communication
const (
	EventNewMessage     = "new_message"
	EventMessageStatus  = "message_status"
	EventInstanceStatus = "instance_status"
	EventQRCode         = "qr_code"
	EventChatUpdate     = "chat_update"
	EventLeadUpdate     = "lead_update"
	EventNotification   = "notification"
	EventTyping         = "typing"
)

// Message represents a WebSocket message
type Message struct {
	Event string      `json:"event"`
	OrgID string      `json:"organization_id,omitempty"`
	Data  interface{} `json:"data"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID     string
	OrgID  uuid.UUID
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	clients map[*Client]bool

	// Clients indexed by organization for targeted broadcasts
	orgClients map[uuid.UUID]map[*Client]bool

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		orgClients: make(map[uuid.UUID]map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if _, ok := h.orgClients[client.OrgID]; !ok {
				h.orgClients[client.OrgID] = make(map[*Client]bool)
			}
			h.orgClients[client.OrgID][client] = true
			h.mu.Unlock()
			log.Debug().Str("client", client.ID).Str("org", client.OrgID.String()).Msg("ws client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if orgClients, ok := h.orgClients[client.OrgID]; ok {
					delete(orgClients, client)
					if len(orgClients) == 0 {
						delete(h.orgClients, client.OrgID)
					}
				}
				close(client.Send)
			}
			h.mu.Unlock()
			log.Debug().Str("client", client.ID).Msg("ws client unregistered")

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// broadcastMessage sends a message to the relevant clients
func (h *Hub) broadcastMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("ws marshal failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	// If OrgID is specified, only send to that organization's clients
	if msg.OrgID != "" {
		orgID, err := uuid.Parse(msg.OrgID)
		if err == nil {
			if clients, ok := h.orgClients[orgID]; ok {
				for client := range clients {
					select {
					case client.Send <- data:
					default:
						// Client buffer full, remove it
						go func(c *Client) {
							h.unregister <- c
						}(client)
					}
				}
			}
		}
		return
	}

	for client := range h.clients {
		select {
		case client.Send <- data:
		default:
			go func(c *Client) {
				h.unregister <- c
			}(client)
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a message to all clients or specific organization clients
func (h *Hub) Broadcast(msg *Message) {
	h.broadcast <- msg
}

// BroadcastToOrg sends a message to all clients of one organization
func (h *Hub) BroadcastToOrg(orgID uuid.UUID, event string, data interface{}) {
	h.broadcast <- &Message{
		Event: event,
		OrgID: orgID.String(),
		Data:  data,
	}
}

// BroadcastInstanceStatus pushes an instance status change to org clients
func (h *Hub) BroadcastInstanceStatus(orgID uuid.UUID, status, phone string) {
	h.BroadcastToOrg(orgID, EventInstanceStatus, map[string]interface{}{
		"status":       status,
		"phone_number": phone,
	})
}

// BroadcastQRCode sends a fresh pairing QR to org clients
func (h *Hub) BroadcastQRCode(orgID uuid.UUID, qrCode string) {
	h.BroadcastToOrg(orgID, EventQRCode, map[string]interface{}{
		"qrcode": qrCode,
	})
}

// BroadcastNewMessage sends an inbound message notification to org clients
func (h *Hub) BroadcastNewMessage(orgID uuid.UUID, message interface{}) {
	h.BroadcastToOrg(orgID, EventNewMessage, message)
}

// GetClientCount returns the total number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	// Read deadline resets on every pong
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Msg("ws read error")
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug().Err(err).Msg("ws invalid message")
			continue
		}

		c.handleMessage(&msg)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Client) handleMessage(msg *Message) {
	switch msg.Event {
	case EventTyping:
		c.Hub.BroadcastToOrg(c.OrgID, EventTyping, msg.Data)
	case "ping":
		c.Send <- []byte(`{"event":"pong"}`)
	default:
		log.Debug().Str("event", msg.Event).Msg("ws unknown event")
	}
}
