package sqlstore

import (
	"context"

	"github.com/pliu/murmur/internal/models"
)

const messageColumns = "id, sender_id, recipient_id, group_id, content, message_type, media_url, read, seen, created_at"

// SaveMessage inserts msg and fills in the store-assigned fields.
func (s *SQLStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	ts := now()
	query := s.db.Rebind(`
		INSERT INTO messages (sender_id, recipient_id, group_id, content, message_type, media_url, read, seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	err := s.db.QueryRowxContext(ctx, query,
		msg.SenderID, msg.RecipientID, msg.GroupID, msg.Content, string(msg.MessageType), msg.MediaURL, false, false, ts,
	).Scan(&msg.ID)
	if err != nil {
		return err
	}
	msg.Read = false
	msg.Seen = false
	msg.CreatedAt = ts
	return nil
}

func (s *SQLStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	var m models.Message
	query := s.db.Rebind("SELECT " + messageColumns + " FROM messages WHERE id = ?")
	if err := s.db.GetContext(ctx, &m, query, id); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// GetConversation returns the direct messages between two users in either
// direction, oldest first. Ties on created_at fall back to id.
func (s *SQLStore) GetConversation(ctx context.Context, userID, otherID int64) ([]models.Message, error) {
	query := s.db.Rebind(`
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = ? AND recipient_id = ?)
		OR (sender_id = ? AND recipient_id = ?)
		ORDER BY created_at ASC, id ASC
	`)
	messages := []models.Message{}
	if err := s.db.SelectContext(ctx, &messages, query, userID, otherID, otherID, userID); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *SQLStore) GetGroupMessages(ctx context.Context, groupID int64) ([]models.Message, error) {
	query := s.db.Rebind(`
		SELECT ` + messageColumns + `
		FROM messages
		WHERE group_id = ?
		ORDER BY created_at ASC, id ASC
	`)
	messages := []models.Message{}
	if err := s.db.SelectContext(ctx, &messages, query, groupID); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *SQLStore) MarkSeen(ctx context.Context, id int64) (*models.Message, bool, error) {
	return s.setFlag(ctx, id, "seen")
}

func (s *SQLStore) MarkRead(ctx context.Context, id int64) (*models.Message, bool, error) {
	return s.setFlag(ctx, id, "read")
}

// setFlag flips a boolean column from false to true. The conditional update
// makes the transition happen at most once.
func (s *SQLStore) setFlag(ctx context.Context, id int64, column string) (*models.Message, bool, error) {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, false, err
	}

	query := s.db.Rebind("UPDATE messages SET " + column + " = ? WHERE id = ? AND " + column + " = ?")
	result, err := s.db.ExecContext(ctx, query, true, id, false)
	if err != nil {
		return nil, false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	switch column {
	case "seen":
		msg.Seen = true
	case "read":
		msg.Read = true
	}
	return msg, rows > 0, nil
}
