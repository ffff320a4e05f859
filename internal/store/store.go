// Package store persists users, connections and messages in SQLite and
// implements chat.Store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/friendchat/internal/chat"
)

var (
	// ErrUserExists is returned when a handle is already taken.
	ErrUserExists = errors.New("store: user already exists")
	// ErrInvalidCredentials is returned when a password does not match.
	ErrInvalidCredentials = errors.New("store: invalid credentials")
)

// Store is a SQLite-backed chat.Store.
type Store struct {
	conn  *sql.DB
	media *Media
	log   *zap.Logger
	now   func() time.Time
}

var _ chat.Store = (*Store)(nil)

// New opens (creating if needed) the database at path and the media root.
func New(path string, media *Media, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	conn.SetMaxOpenConns(1)

	s := &Store{
		conn:  conn,
		media: media,
		log:   log.Named("store"),
		now:   func() time.Time { return time.Now().UTC() },
	}
	if err := s.init(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	s.log.Info("Database ready", zap.String("path", path))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			thumbnail TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS connections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			receiver_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			accepted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(sender_id, receiver_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			connection_id INTEGER NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_receiver ON connections(receiver_id, accepted)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_connection ON messages(connection_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// NewUser is the sign-up input.
type NewUser struct {
	Username  string
	FirstName string
	LastName  string
	Password  string
}

// CreateUser stores a user with lowercase names and a bcrypt password hash.
func (s *Store) CreateUser(ctx context.Context, in NewUser) (chat.User, error) {
	username := chat.NormalizeHandle(in.Username)
	if username == "" || in.Password == "" {
		return chat.User{}, errors.New("store: username and password are required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return chat.User{}, fmt.Errorf("hash password: %w", err)
	}

	res, err := s.conn.ExecContext(ctx,
		"INSERT INTO users (username, first_name, last_name, password) VALUES (?, ?, ?, ?)",
		username, strings.ToLower(in.FirstName), strings.ToLower(in.LastName), string(hashed),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return chat.User{}, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return chat.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.User{}, err
	}
	return s.FindUserByID(ctx, id)
}

// Authenticate checks a password against the stored hash.
func (s *Store) Authenticate(ctx context.Context, username, password string) (chat.User, error) {
	var hashed string
	err := s.conn.QueryRowContext(ctx,
		"SELECT password FROM users WHERE username = ?", chat.NormalizeHandle(username),
	).Scan(&hashed)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return chat.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) != nil {
		return chat.User{}, ErrInvalidCredentials
	}
	return s.FindUserByHandle(ctx, username)
}

const userColumns = "id, username, first_name, last_name, thumbnail"

func scanUser(row interface{ Scan(...any) error }) (chat.User, error) {
	var u chat.User
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Thumbnail)
	return u, err
}

// SearchUsers matches a case-insensitive prefix of username, first or last
// name, excluding one user.
func (s *Store) SearchUsers(ctx context.Context, query string, excludeID int64) ([]chat.User, error) {
	pattern := escapeLike(strings.ToLower(query)) + "%"
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+userColumns+` FROM users
		WHERE id != ? AND (username LIKE ? ESCAPE '\' OR first_name LIKE ? ESCAPE '\' OR last_name LIKE ? ESCAPE '\')
		ORDER BY username`,
		excludeID, pattern, pattern, pattern,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []chat.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// FindUserByHandle returns the user with the normalized handle, or chat.ErrNotFound.
func (s *Store) FindUserByHandle(ctx context.Context, handle string) (chat.User, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ?", chat.NormalizeHandle(handle))
	return notFound(scanUser(row))
}

// FindUserByID returns the user with id, or chat.ErrNotFound.
func (s *Store) FindUserByID(ctx context.Context, id int64) (chat.User, error) {
	row := s.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return notFound(scanUser(row))
}

// UpdateUserAvatar stores data as the user's thumbnail and returns the
// updated user. The previous file is removed.
func (s *Store) UpdateUserAvatar(ctx context.Context, userID int64, data []byte, filename string) (chat.User, error) {
	if s.media == nil {
		return chat.User{}, errors.New("store: media storage not configured")
	}
	previous, err := s.FindUserByID(ctx, userID)
	if err != nil {
		return chat.User{}, err
	}

	ref, err := s.media.SaveThumbnail(data, filename)
	if err != nil {
		return chat.User{}, err
	}
	if _, err := s.conn.ExecContext(ctx, "UPDATE users SET thumbnail = ? WHERE id = ?", ref, userID); err != nil {
		s.media.Remove(ref)
		return chat.User{}, err
	}
	s.media.Remove(previous.Thumbnail)
	return s.FindUserByID(ctx, userID)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// notFound maps sql.ErrNoRows onto chat.ErrNotFound.
func notFound[T any](v T, err error) (T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return v, chat.ErrNotFound
	}
	return v, err
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
