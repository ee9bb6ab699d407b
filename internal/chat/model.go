package chat

import (
	"encoding/json"
	"errors"
	"time"
)

type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

var (
	ErrChatNotFound   = errors.New("chat not found")
	ErrNotParticipant = errors.New("not a participant")
	ErrNotAdmin       = errors.New("only a group admin can perform this action")
	ErrNotGroup       = errors.New("this action is only allowed for group chats")
	ErrEmptyMessage   = errors.New("empty message")
)

type Participant struct {
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
	IsAdmin  bool      `json:"is_admin"`
}

// LastMessage is the denormalized summary kept on the chat row. It is a
// convenience field for chat lists; the messages table stays authoritative.
type LastMessage struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Chat struct {
	ID           string        `json:"id"`
	Kind         Kind          `json:"kind"`
	Name         string        `json:"name,omitempty"`
	Participants []Participant `json:"participants"`
	LastMessage  *LastMessage  `json:"last_message,omitempty"`
	Archived     bool          `json:"archived"`
	Deleted      bool          `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Admins lists the user ids of group admins.
func (c *Chat) Admins() []string {
	var admins []string
	for _, p := range c.Participants {
		if p.IsAdmin {
			admins = append(admins, p.UserID)
		}
	}
	return admins
}

// HasParticipant reports whether userID is currently a member. Callers
// re-run this on every join and every message, never caching the result.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (c *Chat) hasAdmin(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID && p.IsAdmin {
			return true
		}
	}
	return false
}

type Message struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	SenderID    string    `json:"sender_id"`
	Text        string    `json:"text"`
	Attachments []string  `json:"attachments,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ---------------------------------------------
// Wire protocol
// ---------------------------------------------

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client -> server events.
const (
	EventJoinChat    = "joinChat"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventStopTyping  = "stopTyping"
	EventLeaveChat   = "leaveChat"
)

// Server -> client events.
const (
	EventChatHistory    = "chatHistory"
	EventReceiveMessage = "receiveMessage"
	EventUserTyping     = "userTyping"
	EventError          = "error"
)

// SendMessagePayload is what the frontend sends. The sender_id field is
// carried for the client's own bookkeeping; the server re-derives the
// sender from the authenticated connection and rejects mismatches.
type SendMessagePayload struct {
	ChatID      string   `json:"chatId"`
	Text        string   `json:"text"`
	SenderID    string   `json:"senderId"`
	Attachments []string `json:"attachments,omitempty"`
}

type TypingPayload struct {
	ChatID   string `json:"chatId"`
	Username string `json:"username"`
}

// TypingEvent is the fan-out payload for userTyping / stopTyping.
type TypingEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// ---------------------------------------------
// REST API payloads
// ---------------------------------------------

type CreateChatRequest struct {
	Kind           Kind     `json:"kind"`
	Name           string   `json:"name"`
	ParticipantIDs []string `json:"participant_ids"`
}

type ModifyParticipantsRequest struct {
	UserIDs []string `json:"user_ids"`
}
