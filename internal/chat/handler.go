package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"chatwire/internal/auth"
	myMiddleware "chatwire/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

// TokenValidator is what we need from the auth layer to admit connections.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Identity, error)
}

// OnlineLister is what we need from the presence layer for the REST view.
type OnlineLister interface {
	ListOnline(ctx context.Context) ([]string, error)
}

type Handler struct {
	hub       *Hub
	svc       *Service
	validator TokenValidator
	online    OnlineLister
}

func NewHandler(hub *Hub, svc *Service, validator TokenValidator, online OnlineLister) *Handler {
	return &Handler{
		hub:       hub,
		svc:       svc,
		validator: validator,
		online:    online,
	}
}

// ServeWs authenticates the handshake and upgrades the connection. The
// token rides the query string (browsers cannot set headers on a
// websocket handshake) with a header fallback. Every rejection looks the
// same to the client; nothing about the validation leaks.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if tokenString == "" {
		http.Error(w, "Authentication error", http.StatusUnauthorized)
		return
	}

	identity, err := h.validator.ValidateToken(tokenString)
	if err != nil {
		http.Error(w, "Authentication error", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := newClient(h.hub, h.svc, conn, *identity)
	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// StartChat finds or creates a conversation.
// Direct chats return 200 + the existing chat when the pair already has one.
func (h *Handler) StartChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	chat, created, err := h.svc.StartChat(r.Context(), identity, &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if created {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(chat)
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	identity, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	chats, err := h.svc.ListChats(r.Context(), identity)
	if err != nil {
		http.Error(w, "failed to list chats", http.StatusInternalServerError)
		return
	}
	if chats == nil {
		chats = []Chat{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chats)
}

func (h *Handler) ListArchived(w http.ResponseWriter, r *http.Request) {
	identity, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	chats, err := h.svc.ArchivedChats(r.Context(), identity)
	if err != nil {
		http.Error(w, "failed to list archived chats", http.StatusInternalServerError)
		return
	}
	if chats == nil {
		chats = []Chat{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chats)
}

// GetChat returns a single conversation, membership-gated.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	chat, err := h.svc.Authorize(r.Context(), identity, chi.URLParam(r, "chatID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chat)
}

func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.svc.DeleteChat(r.Context(), identity, chi.URLParam(r, "chatID")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	identity, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	chatID := chi.URLParam(r, "chatID")
	beforeID := r.URL.Query().Get("before")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := h.svc.ChatMessages(r.Context(), identity, chatID, beforeID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

func (h *Handler) AddParticipants(w http.ResponseWriter, r *http.Request) {
	h.modifyParticipants(w, r, h.svc.AddParticipants)
}

func (h *Handler) RemoveParticipants(w http.ResponseWriter, r *http.Request) {
	h.modifyParticipants(w, r, h.svc.RemoveParticipants)
}

func (h *Handler) modifyParticipants(w http.ResponseWriter, r *http.Request,
	apply func(context.Context, auth.Identity, string, []string) (*Chat, error)) {

	identity, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req ModifyParticipantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	chat, err := apply(r.Context(), identity, chi.URLParam(r, "chatID"), req.UserIDs)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chat)
}

func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, true)
}

func (h *Handler) Unarchive(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, false)
}

func (h *Handler) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	identity, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.svc.SetArchived(r.Context(), identity, chi.URLParam(r, "chatID"), archived); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) ListOnline(w http.ResponseWriter, r *http.Request) {
	users, err := h.online.ListOnline(r.Context())
	if err != nil {
		http.Error(w, "failed to list online users", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrChatNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrNotAdmin):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrNotGroup):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
