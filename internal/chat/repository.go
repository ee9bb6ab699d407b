package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateChat inserts the chat and all participants in one transaction.
func (r *Repository) CreateChat(ctx context.Context, c *Chat) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	chatInsert := `INSERT INTO chats (id, kind, name, archived, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, FALSE, $4, $5)`
	if _, err = tx.ExecContext(ctx, chatInsert, c.ID, c.Kind, nullIfEmpty(c.Name), c.CreatedAt, c.UpdatedAt); err != nil {
		return err
	}

	memberInsert := `INSERT INTO chat_participants (chat_id, user_id, is_admin, joined_at)
		VALUES ($1, $2, $3, $4)`
	for i := range c.Participants {
		p := &c.Participants[i]
		if p.JoinedAt.IsZero() {
			p.JoinedAt = now
		}
		if _, err = tx.ExecContext(ctx, memberInsert, c.ID, p.UserID, p.IsAdmin, p.JoinedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetChat loads the chat row and its participant list. Deleted chats are
// indistinguishable from missing ones.
func (r *Repository) GetChat(ctx context.Context, id string) (*Chat, error) {
	c := &Chat{}
	var name, lastText, lastSender sql.NullString
	var lastAt sql.NullTime

	query := `SELECT id, kind, name, last_message_text, last_message_sender_id, last_message_at,
			archived, deleted, created_at, updated_at
		FROM chats WHERE id = $1 AND deleted = FALSE`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Kind, &name, &lastText, &lastSender, &lastAt,
		&c.Archived, &c.Deleted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	c.Name = name.String
	if lastText.Valid {
		c.LastMessage = &LastMessage{
			Text:      lastText.String,
			SenderID:  lastSender.String,
			CreatedAt: lastAt.Time,
		}
	}

	participants, err := r.chatParticipants(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Participants = participants
	return c, nil
}

func (r *Repository) chatParticipants(ctx context.Context, chatID string) ([]Participant, error) {
	query := `SELECT user_id, is_admin, joined_at FROM chat_participants
		WHERE chat_id = $1 ORDER BY joined_at`
	rows, err := r.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserID, &p.IsAdmin, &p.JoinedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// FindDirectChatBetween returns the canonical direct chat for an unordered
// user pair, if one exists. The exact-size predicate keeps a group chat
// that happens to contain both users from matching.
func (r *Repository) FindDirectChatBetween(ctx context.Context, userA, userB string) (*Chat, error) {
	query := `SELECT c.id FROM chats c
		JOIN chat_participants p1 ON p1.chat_id = c.id AND p1.user_id = $1
		JOIN chat_participants p2 ON p2.chat_id = c.id AND p2.user_id = $2
		WHERE c.kind = 'direct' AND c.deleted = FALSE
		LIMIT 1`

	var id string
	err := r.db.QueryRowContext(ctx, query, userA, userB).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return r.GetChat(ctx, id)
}

// ListUserChats returns the caller's non-archived chats, most recently
// active first.
func (r *Repository) ListUserChats(ctx context.Context, userID string) ([]Chat, error) {
	return r.listChats(ctx, userID, false)
}

// ListUserArchivedChats returns the caller's archived chats.
func (r *Repository) ListUserArchivedChats(ctx context.Context, userID string) ([]Chat, error) {
	return r.listChats(ctx, userID, true)
}

func (r *Repository) listChats(ctx context.Context, userID string, archived bool) ([]Chat, error) {
	query := `SELECT c.id, c.kind, c.name, c.last_message_text, c.last_message_sender_id,
			c.last_message_at, c.archived, c.created_at, c.updated_at
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = $1 AND c.archived = $2 AND c.deleted = FALSE
		ORDER BY c.updated_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID, archived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		var name, lastText, lastSender sql.NullString
		var lastAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.Kind, &name, &lastText, &lastSender, &lastAt,
			&c.Archived, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Name = name.String
		if lastText.Valid {
			c.LastMessage = &LastMessage{Text: lastText.String, SenderID: lastSender.String, CreatedAt: lastAt.Time}
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range chats {
		participants, err := r.chatParticipants(ctx, chats[i].ID)
		if err != nil {
			return nil, err
		}
		chats[i].Participants = participants
	}
	return chats, nil
}

func (r *Repository) AddParticipants(ctx context.Context, chatID string, userIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	insert := `INSERT INTO chat_participants (chat_id, user_id, is_admin, joined_at)
		VALUES ($1, $2, FALSE, $3)
		ON CONFLICT (chat_id, user_id) DO NOTHING`
	now := time.Now()
	for _, id := range userIDs {
		if _, err = tx.ExecContext(ctx, insert, chatID, id, now); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, `UPDATE chats SET updated_at = $2 WHERE id = $1`, chatID, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) RemoveParticipants(ctx context.Context, chatID string, userIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	del := `DELETE FROM chat_participants WHERE chat_id = $1 AND user_id = $2`
	for _, id := range userIDs {
		if _, err = tx.ExecContext(ctx, del, chatID, id); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, `UPDATE chats SET updated_at = $2 WHERE id = $1`, chatID, time.Now()); err != nil {
		return err
	}
	return tx.Commit()
}

// SetDeleted soft-deletes the chat. The row stays for audit; every read
// path filters on the flag, so the chat disappears from the API.
func (r *Repository) SetDeleted(ctx context.Context, chatID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE chats SET deleted = TRUE, updated_at = $2 WHERE id = $1 AND deleted = FALSE`,
		chatID, time.Now())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrChatNotFound
	}
	return nil
}

func (r *Repository) SetArchived(ctx context.Context, chatID string, archived bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE chats SET archived = $2, updated_at = $3 WHERE id = $1 AND deleted = FALSE`,
		chatID, archived, time.Now())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrChatNotFound
	}
	return nil
}

// SaveMessage persists the message and refreshes the chat's last-message
// summary in a single transaction, so a broadcast can never observe a
// message that did not commit.
func (r *Repository) SaveMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = "sent"
	}
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now

	attachments, err := json.Marshal(attachmentsOrEmpty(m.Attachments))
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	msgInsert := `INSERT INTO messages (id, chat_id, sender_id, text, attachments, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err = tx.ExecContext(ctx, msgInsert,
		m.ID, m.ChatID, m.SenderID, m.Text, attachments, m.Status, m.CreatedAt, m.UpdatedAt); err != nil {
		return err
	}

	summaryUpdate := `UPDATE chats
		SET last_message_text = $2, last_message_sender_id = $3, last_message_at = $4, updated_at = $4
		WHERE id = $1`
	if _, err = tx.ExecContext(ctx, summaryUpdate, m.ChatID, m.Text, m.SenderID, m.CreatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// RecentMessages returns the newest messages for a chat in ascending
// chronological order, ready to replay as join history.
func (r *Repository) RecentMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	query := `SELECT id, chat_id, sender_id, text, attachments, status, created_at, updated_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	msgs, err := r.queryMessages(ctx, query, chatID, limit)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// MessagesBefore pages backwards through history for the REST API.
// An empty beforeID starts from the newest message.
func (r *Repository) MessagesBefore(ctx context.Context, chatID, beforeID string, limit int) ([]Message, error) {
	var msgs []Message
	var err error
	if beforeID == "" {
		msgs, err = r.queryMessages(ctx, `SELECT id, chat_id, sender_id, text, attachments, status, created_at, updated_at
			FROM messages WHERE chat_id = $1
			ORDER BY created_at DESC LIMIT $2`, chatID, limit)
	} else {
		msgs, err = r.queryMessages(ctx, `SELECT id, chat_id, sender_id, text, attachments, status, created_at, updated_at
			FROM messages
			WHERE chat_id = $1
				AND created_at < (SELECT created_at FROM messages WHERE id = $2)
			ORDER BY created_at DESC LIMIT $3`, chatID, beforeID, limit)
	}
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...interface{}) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var attachments []byte
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &attachments,
			&m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func reverseMessages(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func attachmentsOrEmpty(a []string) []string {
	if a == nil {
		return []string{}
	}
	return a
}
