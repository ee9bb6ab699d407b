package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatwire/internal/auth"
)

// historyLimit is the number of messages replayed on join.
const historyLimit = 20

var errDirectParticipants = errors.New("direct chats need exactly one other participant")

// Service is the membership gate and message pipeline. Authorization is
// computed fresh on every call: membership can change between a room join
// and the next message, so nothing here is cached.
type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Authorize loads the chat and verifies the identity is a current
// participant. Not-found and not-a-participant are distinct failures.
func (s *Service) Authorize(ctx context.Context, identity auth.Identity, chatID string) (*Chat, error) {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(identity.ID) {
		return nil, ErrNotParticipant
	}
	return c, nil
}

// RecentHistory returns the messages replayed to a freshly joined
// connection. The caller must have authorized the join already, and must
// have recorded the room membership first: anything that commits while
// this query runs is then covered by the broadcast path.
func (s *Service) RecentHistory(ctx context.Context, chatID string) ([]Message, error) {
	return s.repo.RecentMessages(ctx, chatID, historyLimit)
}

// SubmitMessage validates, persists and returns the canonical message
// record. The caller must broadcast the returned record, never its own
// draft: the id and timestamps are server-assigned.
func (s *Service) SubmitMessage(ctx context.Context, identity auth.Identity, chatID, text string, attachments []string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	// Membership is re-checked per message, not carried over from the join.
	if _, err := s.Authorize(ctx, identity, chatID); err != nil {
		return nil, err
	}

	m := &Message{
		ChatID:      chatID,
		SenderID:    identity.ID,
		Text:        text,
		Attachments: attachments,
		Status:      "sent",
	}
	if err := s.repo.SaveMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return m, nil
}

// ChatMessages pages backwards through a chat's history for the REST API.
func (s *Service) ChatMessages(ctx context.Context, identity auth.Identity, chatID, beforeID string, limit int) ([]Message, error) {
	if _, err := s.Authorize(ctx, identity, chatID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = historyLimit
	}
	return s.repo.MessagesBefore(ctx, chatID, beforeID, limit)
}

// StartChat creates a conversation. Direct chats are canonical per
// unordered pair: a second request for the same pair returns the existing
// chat with created=false.
func (s *Service) StartChat(ctx context.Context, identity auth.Identity, req *CreateChatRequest) (*Chat, bool, error) {
	switch req.Kind {
	case KindDirect:
		others := dedupe(req.ParticipantIDs, identity.ID)
		if len(others) != 1 {
			return nil, false, errDirectParticipants
		}
		other := others[0]

		existing, err := s.repo.FindDirectChatBetween(ctx, identity.ID, other)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrChatNotFound) {
			return nil, false, err
		}

		now := time.Now()
		c := &Chat{
			Kind: KindDirect,
			Participants: []Participant{
				{UserID: identity.ID, JoinedAt: now},
				{UserID: other, JoinedAt: now},
			},
		}
		if err := s.repo.CreateChat(ctx, c); err != nil {
			return nil, false, err
		}
		return c, true, nil

	case KindGroup:
		if strings.TrimSpace(req.Name) == "" {
			return nil, false, errors.New("group chats require a name")
		}

		now := time.Now()
		participants := []Participant{{UserID: identity.ID, JoinedAt: now, IsAdmin: true}}
		for _, id := range dedupe(req.ParticipantIDs, identity.ID) {
			participants = append(participants, Participant{UserID: id, JoinedAt: now})
		}

		c := &Chat{
			Kind:         KindGroup,
			Name:         strings.TrimSpace(req.Name),
			Participants: participants,
		}
		if err := s.repo.CreateChat(ctx, c); err != nil {
			return nil, false, err
		}
		return c, true, nil

	default:
		return nil, false, fmt.Errorf("invalid chat kind %q", req.Kind)
	}
}

func (s *Service) ListChats(ctx context.Context, identity auth.Identity) ([]Chat, error) {
	return s.repo.ListUserChats(ctx, identity.ID)
}

func (s *Service) ArchivedChats(ctx context.Context, identity auth.Identity) ([]Chat, error) {
	return s.repo.ListUserArchivedChats(ctx, identity.ID)
}

// DeleteChat soft-deletes a conversation. Group chats require an admin;
// direct chats any participant can delete.
func (s *Service) DeleteChat(ctx context.Context, identity auth.Identity, chatID string) error {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !c.HasParticipant(identity.ID) {
		return ErrNotParticipant
	}
	if c.Kind == KindGroup && !c.hasAdmin(identity.ID) {
		return ErrNotAdmin
	}
	return s.repo.SetDeleted(ctx, chatID)
}

// AddParticipants adds users to a group chat. Admin-gated.
func (s *Service) AddParticipants(ctx context.Context, identity auth.Identity, chatID string, userIDs []string) (*Chat, error) {
	c, err := s.adminGate(ctx, identity, chatID)
	if err != nil {
		return nil, err
	}

	var newIDs []string
	for _, id := range dedupe(userIDs) {
		if !c.HasParticipant(id) {
			newIDs = append(newIDs, id)
		}
	}
	if len(newIDs) == 0 {
		return nil, errors.New("all provided users are already in the chat")
	}

	if err := s.repo.AddParticipants(ctx, chatID, newIDs); err != nil {
		return nil, err
	}
	return s.repo.GetChat(ctx, chatID)
}

// RemoveParticipants removes users from a group chat. Admin-gated. Removed
// users fail the membership gate on their next message even if their
// connection is still sitting in the room.
func (s *Service) RemoveParticipants(ctx context.Context, identity auth.Identity, chatID string, userIDs []string) (*Chat, error) {
	c, err := s.adminGate(ctx, identity, chatID)
	if err != nil {
		return nil, err
	}

	var present []string
	for _, id := range dedupe(userIDs) {
		if c.HasParticipant(id) {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return nil, errors.New("none of the provided users were in the chat")
	}

	if err := s.repo.RemoveParticipants(ctx, chatID, present); err != nil {
		return nil, err
	}
	return s.repo.GetChat(ctx, chatID)
}

func (s *Service) SetArchived(ctx context.Context, identity auth.Identity, chatID string, archived bool) error {
	if _, err := s.Authorize(ctx, identity, chatID); err != nil {
		return err
	}
	return s.repo.SetArchived(ctx, chatID, archived)
}

func (s *Service) adminGate(ctx context.Context, identity auth.Identity, chatID string) (*Chat, error) {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if c.Kind != KindGroup {
		return nil, ErrNotGroup
	}
	if !c.hasAdmin(identity.ID) {
		return nil, ErrNotAdmin
	}
	return c, nil
}

// dedupe returns ids with duplicates and any excluded ids removed.
func dedupe(ids []string, exclude ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	for _, ex := range exclude {
		seen[ex] = struct{}{}
	}
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
