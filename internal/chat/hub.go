package chat

import (
	"encoding/json"
	"log"
)

// Hub is the room registry. It tracks which connections belong to which
// chat room and fans events out to them. All maps below are owned by the
// single Run goroutine; every mutation arrives through a channel, so room
// operations are atomic with respect to each other and no locking is
// needed.
type Hub struct {
	clients map[*client]bool
	// rooms maps chat id -> member connections. The inverse set lives on
	// each client (client.rooms) so disconnect cleanup is O(joined rooms).
	rooms map[string]map[*client]bool
	// typing maps chat id -> user id -> display name. Entries come and go
	// only on explicit typing / stopTyping signals.
	typing map[string]map[string]string

	register   chan *client
	unregister chan *client
	joins      chan subscription
	leaves     chan subscription
	broadcasts chan roomEvent
	directs    chan directEvent
	signals    chan typingSignal

	presence Presence
}

type subscription struct {
	client *client
	chatID string
}

type roomEvent struct {
	chatID  string
	payload []byte
}

type directEvent struct {
	client  *client
	payload []byte
}

type typingSignal struct {
	client   *client
	chatID   string
	username string
	active   bool
}

func NewHub(presence Presence) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		rooms:      make(map[string]map[*client]bool),
		typing:     make(map[string]map[string]string),
		register:   make(chan *client),
		unregister: make(chan *client),
		joins:      make(chan subscription),
		leaves:     make(chan subscription),
		broadcasts: make(chan roomEvent),
		directs:    make(chan directEvent),
		signals:    make(chan typingSignal),
		presence:   presence,
	}
}

// Run owns all hub state. It runs in its own goroutine for the lifetime of
// the server process.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.presence.Online(c.identity.ID)
			log.Printf("🔗 connected: %s (%s)", c.identity.Name, c.identity.ID)

		case c := <-h.unregister:
			h.dropClient(c)

		case sub := <-h.joins:
			h.joinRoom(sub.client, sub.chatID)

		case sub := <-h.leaves:
			h.leaveRoom(sub.client, sub.chatID)

		case ev := <-h.broadcasts:
			h.fanOut(ev.chatID, ev.payload)

		case ev := <-h.directs:
			h.deliver(ev.client, ev.payload)

		case sig := <-h.signals:
			h.relayTyping(sig)
		}
	}
}

// Join adds the connection to a room. Idempotent.
func (h *Hub) Join(c *client, chatID string) {
	h.joins <- subscription{client: c, chatID: chatID}
}

// Leave removes the connection from a room. Leaving a room that was never
// joined is a no-op.
func (h *Hub) Leave(c *client, chatID string) {
	h.leaves <- subscription{client: c, chatID: chatID}
}

// Broadcast delivers an event to every connection currently in the room,
// the originating one included. Delivery is fire-and-forget per
// connection: a full send buffer drops that client rather than blocking
// the rest of the room.
func (h *Hub) Broadcast(chatID, event string, data interface{}) {
	payload, err := marshalEnvelope(event, data)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}
	h.broadcasts <- roomEvent{chatID: chatID, payload: payload}
}

// SendTo delivers an event to a single connection (join history, scoped
// errors). Routed through the hub goroutine because only it may decide a
// connection is dead.
func (h *Hub) SendTo(c *client, event string, data interface{}) {
	payload, err := marshalEnvelope(event, data)
	if err != nil {
		log.Printf("send marshal error: %v", err)
		return
	}
	h.directs <- directEvent{client: c, payload: payload}
}

// Typing relays a best-effort typing signal to the room. No persistence,
// no delivery guarantee.
func (h *Hub) Typing(c *client, chatID, username string, active bool) {
	h.signals <- typingSignal{client: c, chatID: chatID, username: username, active: active}
}

func (h *Hub) joinRoom(c *client, chatID string) {
	if !h.clients[c] {
		return
	}
	room, ok := h.rooms[chatID]
	if !ok {
		room = make(map[*client]bool)
		h.rooms[chatID] = room
	}
	room[c] = true
	c.rooms[chatID] = true
}

func (h *Hub) leaveRoom(c *client, chatID string) {
	room, ok := h.rooms[chatID]
	if !ok {
		return
	}
	delete(room, c)
	delete(c.rooms, chatID)
	if len(room) == 0 {
		delete(h.rooms, chatID)
		delete(h.typing, chatID)
	}
}

func (h *Hub) fanOut(chatID string, payload []byte) {
	for c := range h.rooms[chatID] {
		h.deliver(c, payload)
	}
}

func (h *Hub) deliver(c *client, payload []byte) {
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- payload:
	default:
		// Slow consumer: drop the connection, never the room.
		h.dropClient(c)
	}
}

func (h *Hub) relayTyping(sig typingSignal) {
	// Cheap joined-room check, not a hard security boundary: the signal
	// carries no content and is never persisted.
	if !h.rooms[sig.chatID][sig.client] {
		return
	}

	userID := sig.client.identity.ID
	event := EventStopTyping
	if sig.active {
		event = EventUserTyping
		room, ok := h.typing[sig.chatID]
		if !ok {
			room = make(map[string]string)
			h.typing[sig.chatID] = room
		}
		room[userID] = sig.username
	} else {
		delete(h.typing[sig.chatID], userID)
	}

	payload, err := marshalEnvelope(event, TypingEvent{UserID: userID, Username: sig.username})
	if err != nil {
		return
	}
	h.fanOut(sig.chatID, payload)
}

// dropClient is the disconnect path: evict the connection from every room
// it joined, close its send channel and mark the user offline.
func (h *Hub) dropClient(c *client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for chatID := range c.rooms {
		h.leaveRoom(c, chatID)
	}
	close(c.send)
	h.presence.Offline(c.identity.ID)
	log.Printf("👋 disconnected: %s (%s)", c.identity.Name, c.identity.ID)
}

func marshalEnvelope(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
