package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Tyrowin/friendchat/internal/chat"
)

const edgeSelect = `SELECT c.id, c.accepted, c.created_at, c.updated_at,
	s.id, s.username, s.first_name, s.last_name, s.thumbnail,
	r.id, r.username, r.first_name, r.last_name, r.thumbnail
	FROM connections c
	JOIN users s ON s.id = c.sender_id
	JOIN users r ON r.id = c.receiver_id`

func edgeDest(c *chat.Connection, created, updated *int64) []any {
	return []any{
		&c.ID, &c.Accepted, created, updated,
		&c.Sender.ID, &c.Sender.Username, &c.Sender.FirstName, &c.Sender.LastName, &c.Sender.Thumbnail,
		&c.Receiver.ID, &c.Receiver.Username, &c.Receiver.FirstName, &c.Receiver.LastName, &c.Receiver.Thumbnail,
	}
}

func scanEdge(row interface{ Scan(...any) error }) (chat.Connection, error) {
	var c chat.Connection
	var created, updated int64
	if err := row.Scan(edgeDest(&c, &created, &updated)...); err != nil {
		return chat.Connection{}, err
	}
	c.CreatedAt = fromMicros(created)
	c.UpdatedAt = fromMicros(updated)
	return c, nil
}

// FindEdgeByID returns the connection with id and both its users.
func (s *Store) FindEdgeByID(ctx context.Context, id int64) (chat.Connection, error) {
	row := s.conn.QueryRowContext(ctx, edgeSelect+" WHERE c.id = ?", id)
	return notFound(scanEdge(row))
}

// FindEdge returns the first connection matching filter.
func (s *Store) FindEdge(ctx context.Context, filter chat.EdgeFilter) (chat.Connection, error) {
	where := " WHERE c.sender_id = ? AND c.receiver_id = ?"
	args := []any{filter.SenderID, filter.ReceiverID}
	if filter.EitherDirection {
		where = " WHERE ((c.sender_id = ? AND c.receiver_id = ?) OR (c.sender_id = ? AND c.receiver_id = ?))"
		args = append(args, filter.ReceiverID, filter.SenderID)
	}
	where += " AND c.accepted = ? LIMIT 1"
	args = append(args, filter.Accepted)

	row := s.conn.QueryRowContext(ctx, edgeSelect+where, args...)
	return notFound(scanEdge(row))
}

// GetOrCreateEdge returns the sender→receiver connection, inserting a pending
// one if none exists. An existing edge is returned unchanged.
func (s *Store) GetOrCreateEdge(ctx context.Context, senderID, receiverID int64) (chat.Connection, error) {
	now := toMicros(s.now())
	if _, err := s.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO connections (sender_id, receiver_id, accepted, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)`,
		senderID, receiverID, now, now,
	); err != nil {
		return chat.Connection{}, fmt.Errorf("insert connection: %w", err)
	}

	row := s.conn.QueryRowContext(ctx,
		edgeSelect+" WHERE c.sender_id = ? AND c.receiver_id = ?", senderID, receiverID)
	return notFound(scanEdge(row))
}

// AcceptEdge flips a pending connection to accepted in one statement. An
// already accepted or missing edge yields chat.ErrNotFound.
func (s *Store) AcceptEdge(ctx context.Context, id int64) (chat.Connection, error) {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE connections SET accepted = 1, updated_at = ? WHERE id = ? AND accepted = 0",
		toMicros(s.now()), id,
	)
	if err != nil {
		return chat.Connection{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return chat.Connection{}, err
	}
	if n == 0 {
		return chat.Connection{}, chat.ErrNotFound
	}
	return s.FindEdgeByID(ctx, id)
}

// ListAcceptedEdges returns the user's friendships, each annotated with its
// latest message, newest activity first.
func (s *Store) ListAcceptedEdges(ctx context.Context, userID int64) ([]chat.Friendship, error) {
	query := `SELECT c.id, c.accepted, c.created_at, c.updated_at,
		s.id, s.username, s.first_name, s.last_name, s.thumbnail,
		r.id, r.username, r.first_name, r.last_name, r.thumbnail,
		(SELECT m.text FROM messages m WHERE m.connection_id = c.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1) AS latest_text,
		(SELECT m.created_at FROM messages m WHERE m.connection_id = c.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1) AS latest_created
		FROM connections c
		JOIN users s ON s.id = c.sender_id
		JOIN users r ON r.id = c.receiver_id
		WHERE (c.sender_id = ? OR c.receiver_id = ?) AND c.accepted = 1
		ORDER BY COALESCE(latest_created, c.updated_at) DESC, c.id DESC`

	rows, err := s.conn.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []chat.Friendship
	for rows.Next() {
		var f chat.Friendship
		var created, updated int64
		var latestText sql.NullString
		var latestCreated sql.NullInt64
		dest := append(edgeDest(&f.Connection, &created, &updated), &latestText, &latestCreated)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		f.CreatedAt = fromMicros(created)
		f.UpdatedAt = fromMicros(updated)
		if latestText.Valid {
			text := latestText.String
			f.LatestText = &text
		}
		if latestCreated.Valid {
			at := fromMicros(latestCreated.Int64)
			f.LatestCreated = &at
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

// ListPendingEdges returns requests awaiting the receiver's answer.
func (s *Store) ListPendingEdges(ctx context.Context, receiverID int64) ([]chat.Connection, error) {
	rows, err := s.conn.QueryContext(ctx,
		edgeSelect+" WHERE c.receiver_id = ? AND c.accepted = 0 ORDER BY c.created_at DESC, c.id DESC",
		receiverID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []chat.Connection
	for rows.Next() {
		c, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, c)
	}
	return edges, rows.Err()
}
