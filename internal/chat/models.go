// Package chat implements the friend-messaging protocol: the envelope codec,
// the command handlers bound to each inbound tag, and the store and publisher
// contracts they depend on.
package chat

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports a missing user, connection or pending request.
	ErrNotFound = errors.New("chat: not found")
	// ErrMalformed reports a frame with a missing or invalid field.
	ErrMalformed = errors.New("chat: malformed frame")
	// ErrForbidden reports an operation on a connection the caller is not part of.
	ErrForbidden = errors.New("chat: caller is not a participant")
	// ErrAvatarRejected reports an avatar upload that violates the configured limits.
	ErrAvatarRejected = errors.New("chat: avatar rejected")
)

// User is an account as seen by the realtime core. Username is the handle:
// it is unique, lowercase and doubles as the routing key for live sessions.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Thumbnail string
}

// Connection is a directed friend edge. Accepted is false while the request
// is pending.
type Connection struct {
	ID        int64
	Sender    User
	Receiver  User
	Accepted  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Involves reports whether the user is the sender or receiver of the edge.
func (c Connection) Involves(userID int64) bool {
	return c.Sender.ID == userID || c.Receiver.ID == userID
}

// Other returns the participant that is not userID.
func (c Connection) Other(userID int64) User {
	if c.Sender.ID == userID {
		return c.Receiver
	}
	return c.Sender
}

// Friendship is an accepted connection annotated with its latest message.
type Friendship struct {
	Connection
	LatestText    *string
	LatestCreated *time.Time
}

// Message is an immutable chat line on a connection.
type Message struct {
	ID           int64
	ConnectionID int64
	AuthorID     int64
	Text         string
	CreatedAt    time.Time
}

// EdgeFilter selects connections for existence checks. When EitherDirection
// is set, the edge may run from A to B or from B to A.
type EdgeFilter struct {
	SenderID        int64
	ReceiverID      int64
	Accepted        bool
	EitherDirection bool
}

// Store is the durable data the handlers read and write.
type Store interface {
	SearchUsers(ctx context.Context, query string, excludeID int64) ([]User, error)
	FindUserByHandle(ctx context.Context, handle string) (User, error)
	FindUserByID(ctx context.Context, id int64) (User, error)

	FindEdgeByID(ctx context.Context, id int64) (Connection, error)
	FindEdge(ctx context.Context, filter EdgeFilter) (Connection, error)
	GetOrCreateEdge(ctx context.Context, senderID, receiverID int64) (Connection, error)
	AcceptEdge(ctx context.Context, id int64) (Connection, error)
	ListAcceptedEdges(ctx context.Context, userID int64) ([]Friendship, error)
	ListPendingEdges(ctx context.Context, receiverID int64) ([]Connection, error)

	ListMessages(ctx context.Context, connectionID int64, offset, limit int) ([]Message, error)
	CountMessages(ctx context.Context, connectionID int64) (int, error)
	CreateMessage(ctx context.Context, connectionID, authorID int64, text string) (Message, error)

	UpdateUserAvatar(ctx context.Context, userID int64, data []byte, filename string) (User, error)
}

// Publisher fans an outbound payload out to every live session of a handle.
// Publishing to a handle with no live sessions is a silent no-op.
type Publisher interface {
	Publish(handle string, tag Tag, data any)
}
