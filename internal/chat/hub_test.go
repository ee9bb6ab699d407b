package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwire/internal/auth"
)

type fakePresence struct {
	online map[string]int
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[string]int)}
}

func (p *fakePresence) Online(userID string)  { p.online[userID]++ }
func (p *fakePresence) Offline(userID string) { p.online[userID]-- }

// newTestHub returns a hub whose state is manipulated directly through its
// internal handlers, on the test goroutine, exactly as the Run loop would.
func newTestHub() (*Hub, *fakePresence) {
	presence := newFakePresence()
	return NewHub(presence), presence
}

func newTestClient(h *Hub, id, name string) *client {
	c := newClient(h, nil, nil, auth.Identity{ID: id, Name: name})
	h.clients[c] = true
	h.presence.Online(c.identity.ID)
	return c
}

func drain(t *testing.T, c *client) []Envelope {
	t.Helper()
	var events []Envelope
	for {
		select {
		case raw := <-c.send:
			var env Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			events = append(events, env)
		default:
			return events
		}
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	h, _ := newTestHub()
	c := newTestClient(h, "u1", "Alice")

	h.joinRoom(c, "chat-1")
	h.joinRoom(c, "chat-1")

	assert.Len(t, h.rooms["chat-1"], 1)
	assert.True(t, c.rooms["chat-1"])
}

func TestLeaveUnjoinedRoomIsNoop(t *testing.T) {
	h, _ := newTestHub()
	c := newTestClient(h, "u1", "Alice")

	h.leaveRoom(c, "chat-1")

	assert.Empty(t, h.rooms)
	assert.Empty(t, c.rooms)
}

func TestLeaveLastMemberDropsRoomState(t *testing.T) {
	h, _ := newTestHub()
	c := newTestClient(h, "u1", "Alice")

	h.joinRoom(c, "chat-1")
	h.relayTyping(typingSignal{client: c, chatID: "chat-1", username: "Alice", active: true})
	require.Len(t, h.typing["chat-1"], 1)

	h.leaveRoom(c, "chat-1")

	assert.Empty(t, h.rooms)
	assert.Empty(t, h.typing)
}

func TestBroadcastReachesAllMembersIncludingSender(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient(h, "u1", "Alice")
	b := newTestClient(h, "u2", "Bob")
	outsider := newTestClient(h, "u3", "Carol")

	h.joinRoom(a, "chat-1")
	h.joinRoom(b, "chat-1")
	h.joinRoom(outsider, "chat-2")

	payload, err := marshalEnvelope(EventReceiveMessage, Message{ID: "m1", ChatID: "chat-1", Text: "hi"})
	require.NoError(t, err)
	h.fanOut("chat-1", payload)

	for _, member := range []*client{a, b} {
		events := drain(t, member)
		require.Len(t, events, 1)
		assert.Equal(t, EventReceiveMessage, events[0].Event)
	}
	assert.Empty(t, drain(t, outsider))
}

func TestEvictRemovesConnectionFromAllRooms(t *testing.T) {
	h, presence := newTestHub()
	a := newTestClient(h, "u1", "Alice")
	b := newTestClient(h, "u2", "Bob")

	h.joinRoom(a, "chat-1")
	h.joinRoom(a, "chat-2")
	h.joinRoom(b, "chat-1")

	h.dropClient(a)

	assert.False(t, h.clients[a])
	assert.NotContains(t, h.rooms["chat-1"], a)
	assert.Contains(t, h.rooms["chat-1"], b)
	_, chat2Exists := h.rooms["chat-2"]
	assert.False(t, chat2Exists)
	assert.Equal(t, 0, presence.online["u1"])
	assert.Equal(t, 1, presence.online["u2"])

	// Double eviction must not panic or close the channel twice.
	h.dropClient(a)
}

func TestTypingRelayRequiresJoinedRoom(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient(h, "u1", "Alice")
	b := newTestClient(h, "u2", "Bob")

	h.joinRoom(b, "chat-1")

	// A never joined chat-1: the signal is dropped.
	h.relayTyping(typingSignal{client: a, chatID: "chat-1", username: "Alice", active: true})
	assert.Empty(t, drain(t, b))
	assert.Empty(t, h.typing["chat-1"])
}

func TestTypingRelayFansOutAndTracksState(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient(h, "u1", "Alice")
	b := newTestClient(h, "u2", "Bob")
	h.joinRoom(a, "chat-1")
	h.joinRoom(b, "chat-1")

	h.relayTyping(typingSignal{client: a, chatID: "chat-1", username: "Alice", active: true})

	assert.Equal(t, map[string]string{"u1": "Alice"}, h.typing["chat-1"])
	for _, member := range []*client{a, b} {
		events := drain(t, member)
		require.Len(t, events, 1)
		assert.Equal(t, EventUserTyping, events[0].Event)

		var ev TypingEvent
		require.NoError(t, json.Unmarshal(events[0].Data, &ev))
		assert.Equal(t, "u1", ev.UserID)
		assert.Equal(t, "Alice", ev.Username)
	}

	h.relayTyping(typingSignal{client: a, chatID: "chat-1", username: "Alice", active: false})

	assert.Empty(t, h.typing["chat-1"])
	events := drain(t, b)
	require.Len(t, events, 1)
	assert.Equal(t, EventStopTyping, events[0].Event)
}

func TestSlowConsumerIsDroppedNotBlocking(t *testing.T) {
	h, _ := newTestHub()
	slow := newTestClient(h, "u1", "Slow")
	fast := newTestClient(h, "u2", "Fast")
	h.joinRoom(slow, "chat-1")
	h.joinRoom(fast, "chat-1")

	// Fill the slow client's buffer to capacity.
	filler := []byte(`{"event":"x"}`)
	for i := 0; i < cap(slow.send); i++ {
		slow.send <- filler
	}

	payload, err := marshalEnvelope(EventReceiveMessage, Message{ID: "m1"})
	require.NoError(t, err)
	h.fanOut("chat-1", payload)

	assert.False(t, h.clients[slow], "slow client should be evicted")
	assert.Contains(t, h.rooms["chat-1"], fast)
	events := drain(t, fast)
	require.Len(t, events, 1)
}
