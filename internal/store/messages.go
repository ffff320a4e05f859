package store

import (
	"context"

	"github.com/Tyrowin/friendchat/internal/chat"
)

// ListMessages returns one window of a conversation, newest first.
func (s *Store) ListMessages(ctx context.Context, connectionID int64, offset, limit int) ([]chat.Message, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, connection_id, user_id, text, created_at FROM messages
		WHERE connection_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		connectionID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var m chat.Message
		var created int64
		if err := rows.Scan(&m.ID, &m.ConnectionID, &m.AuthorID, &m.Text, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMicros(created)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountMessages returns how many messages the connection holds.
func (s *Store) CountMessages(ctx context.Context, connectionID int64) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE connection_id = ?", connectionID,
	).Scan(&count)
	return count, err
}

// CreateMessage stores text from authorID and returns the saved message.
func (s *Store) CreateMessage(ctx context.Context, connectionID, authorID int64, text string) (chat.Message, error) {
	created := s.now()
	res, err := s.conn.ExecContext(ctx,
		"INSERT INTO messages (connection_id, user_id, text, created_at) VALUES (?, ?, ?, ?)",
		connectionID, authorID, text, toMicros(created),
	)
	if err != nil {
		return chat.Message{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Message{}, err
	}
	return chat.Message{
		ID:           id,
		ConnectionID: connectionID,
		AuthorID:     authorID,
		Text:         text,
		CreatedAt:    fromMicros(toMicros(created)),
	}, nil
}
