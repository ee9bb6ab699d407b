package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"chatwire/internal/auth"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum message size allowed from peer.
)

// client is a middleman between one websocket connection and the hub. The
// identity is fixed at handshake time and is the only sender identity the
// pipeline ever trusts.
type client struct {
	hub      *Hub
	svc      *Service
	conn     *websocket.Conn
	send     chan []byte
	identity auth.Identity

	// rooms is the set of joined chat ids. Owned by the hub goroutine;
	// the pumps never touch it.
	rooms map[string]bool
}

func newClient(hub *Hub, svc *Service, conn *websocket.Conn, identity auth.Identity) *client {
	return &client{
		hub:      hub,
		svc:      svc,
		conn:     conn,
		send:     make(chan []byte, 256),
		identity: identity,
		rooms:    make(map[string]bool),
	}
}

// readPump pumps messages from the websocket connection into the event
// handlers. Each connection runs exactly one readPump, so a single
// sender's submissions are processed strictly in order.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("read error from %s: %v", c.identity.ID, err)
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendError("Malformed event")
			continue
		}
		c.dispatch(&env)
	}
}

func (c *client) dispatch(env *Envelope) {
	ctx := context.Background()

	switch env.Event {
	case EventJoinChat:
		var chatID string
		if err := json.Unmarshal(env.Data, &chatID); err != nil || chatID == "" {
			c.sendError("Malformed event")
			return
		}
		c.handleJoin(ctx, chatID)

	case EventSendMessage:
		var payload SendMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.ChatID == "" {
			c.sendError("Malformed event")
			return
		}
		c.handleSendMessage(ctx, &payload)

	case EventTyping, EventStopTyping:
		var payload TypingPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.ChatID == "" {
			return
		}
		c.hub.Typing(c, payload.ChatID, payload.Username, env.Event == EventTyping)

	case EventLeaveChat:
		var chatID string
		if err := json.Unmarshal(env.Data, &chatID); err != nil || chatID == "" {
			return
		}
		c.hub.Leave(c, chatID)

	default:
		c.sendError("Unknown event")
	}
}

func (c *client) handleJoin(ctx context.Context, chatID string) {
	if _, err := c.svc.Authorize(ctx, c.identity, chatID); err != nil {
		switch {
		case errors.Is(err, ErrChatNotFound):
			c.sendError("Chat not found")
		case errors.Is(err, ErrNotParticipant):
			c.sendError("Access denied")
		default:
			log.Printf("join chat %s failed for %s: %v", chatID, c.identity.ID, err)
			c.sendError("Failed to join chat")
		}
		return
	}

	// Join the room before reading history. A message that commits while
	// the history query runs then reaches this connection as a broadcast;
	// it may show up twice (history and broadcast), but it cannot be lost.
	c.hub.Join(c, chatID)

	history, err := c.svc.RecentHistory(ctx, chatID)
	if err != nil {
		log.Printf("history for chat %s failed for %s: %v", chatID, c.identity.ID, err)
		c.sendError("Failed to join chat")
		return
	}
	if history == nil {
		history = []Message{}
	}
	c.sendEvent(EventChatHistory, history)
}

func (c *client) handleSendMessage(ctx context.Context, payload *SendMessagePayload) {
	// The payload carries a senderId for the client's own bookkeeping; it
	// is never trusted for authorization. A mismatch means a confused or
	// hostile client.
	if payload.SenderID != "" && payload.SenderID != c.identity.ID {
		c.sendError("Sender mismatch")
		return
	}

	msg, err := c.svc.SubmitMessage(ctx, c.identity, payload.ChatID, payload.Text, payload.Attachments)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyMessage):
			// Deliberate no-op: empty submissions are dropped silently.
		case errors.Is(err, ErrChatNotFound):
			c.sendError("Chat not found")
		case errors.Is(err, ErrNotParticipant):
			c.sendError("Access denied")
		default:
			log.Printf("send message to %s failed for %s: %v", payload.ChatID, c.identity.ID, err)
			c.sendError("Failed to send message")
		}
		return
	}

	// Broadcast only after the commit, and always the canonical record.
	c.hub.Broadcast(msg.ChatID, EventReceiveMessage, msg)
}

// sendEvent queues an event on this connection only, via the hub, which
// owns the send channel's lifecycle.
func (c *client) sendEvent(event string, data interface{}) {
	c.hub.SendTo(c, event, data)
}

func (c *client) sendError(reason string) {
	c.sendEvent(EventError, reason)
}

// writePump pumps messages from the hub to the websocket connection and
// keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
