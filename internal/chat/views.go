package chat

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Relationship statuses reported by search, from the caller's point of view.
const (
	StatusPendingThem  = "pending-them"
	StatusPendingMe    = "pending-me"
	StatusConnected    = "connected"
	StatusNoConnection = "no-connection"
)

const previewFallback = "New connection"

// UserView is the public profile of a user.
type UserView struct {
	Username  string  `json:"username"`
	Name      string  `json:"name"`
	Thumbnail *string `json:"thumbnail"`
}

// SearchView is a search hit with the caller's relationship to it.
type SearchView struct {
	UserView
	Status string `json:"status"`
}

// RequestView renders a connection as a friend request.
type RequestView struct {
	ID          int64     `json:"id"`
	Sender      UserView  `json:"sender"`
	Receiver    UserView  `json:"receiver"`
	Accepted    bool      `json:"accepted"`
	CreatedDate time.Time `json:"created_date"`
}

// FriendView renders an accepted connection relative to one participant.
type FriendView struct {
	ID          int64     `json:"id"`
	Friend      UserView  `json:"friend"`
	Preview     string    `json:"preview"`
	UpdatedDate time.Time `json:"updated_date"`
}

// MessageView renders a message relative to its recipient.
type MessageView struct {
	ID      int64     `json:"id"`
	IsMe    bool      `json:"is_me"`
	Text    string    `json:"text"`
	Created time.Time `json:"created"`
}

// MessageListView is one page of a conversation.
type MessageListView struct {
	Messages []MessageView `json:"messages"`
	Next     *int          `json:"next"`
	Friend   UserView      `json:"friend"`
}

// MessageSendView is a freshly sent message framed for one participant.
type MessageSendView struct {
	Message MessageView `json:"message"`
	Friend  UserView    `json:"friend"`
}

// TypingView announces that Username is typing.
type TypingView struct {
	Username string `json:"username"`
}

// Views renders store records into wire payloads. MediaURL prefixes stored
// avatar references.
type Views struct {
	MediaURL string
}

// User renders u with a display name and an absolute thumbnail URL.
func (v Views) User(u User) UserView {
	view := UserView{
		Username: u.Username,
		Name:     capitalize(u.FirstName) + " " + capitalize(u.LastName),
	}
	if u.Thumbnail != "" {
		url := strings.TrimSuffix(v.MediaURL, "/") + "/" + strings.TrimPrefix(u.Thumbnail, "/")
		view.Thumbnail = &url
	}
	return view
}

// Search renders u as a search hit with its relationship status.
func (v Views) Search(u User, status string) SearchView {
	return SearchView{UserView: v.User(u), Status: status}
}

// Request renders a pending or accepted connection request.
func (v Views) Request(c Connection) RequestView {
	return RequestView{
		ID:          c.ID,
		Sender:      v.User(c.Sender),
		Receiver:    v.User(c.Receiver),
		Accepted:    c.Accepted,
		CreatedDate: c.CreatedAt,
	}
}

// Requests renders cs in order.
func (v Views) Requests(cs []Connection) []RequestView {
	out := make([]RequestView, 0, len(cs))
	for _, c := range cs {
		out = append(out, v.Request(c))
	}
	return out
}

// Friend renders f for viewer. Without messages the preview falls back to a
// placeholder and the date to the edge's own update time.
func (v Views) Friend(f Friendship, viewerID int64) FriendView {
	view := FriendView{
		ID:          f.ID,
		Friend:      v.User(f.Other(viewerID)),
		Preview:     previewFallback,
		UpdatedDate: f.UpdatedAt,
	}
	if f.LatestText != nil {
		view.Preview = *f.LatestText
	}
	if f.LatestCreated != nil {
		view.UpdatedDate = *f.LatestCreated
	}
	return view
}

// Message renders m, marking it as the viewer's own when they wrote it.
func (v Views) Message(m Message, viewerID int64) MessageView {
	return MessageView{
		ID:      m.ID,
		IsMe:    m.AuthorID == viewerID,
		Text:    m.Text,
		Created: m.CreatedAt,
	}
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
