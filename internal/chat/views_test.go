package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = User{ID: 1, Username: "alice", FirstName: "alice", LastName: "smith"}
	bob   = User{ID: 2, Username: "bob", FirstName: "bob", LastName: "jones", Thumbnail: "thumbnails/b.png"}
)

func TestViewsUser(t *testing.T) {
	v := Views{MediaURL: "/media/"}

	view := v.User(alice)
	assert.Equal(t, "alice", view.Username)
	assert.Equal(t, "Alice Smith", view.Name)
	assert.Nil(t, view.Thumbnail)

	view = v.User(bob)
	require.NotNil(t, view.Thumbnail)
	assert.Equal(t, "/media/thumbnails/b.png", *view.Thumbnail)
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "", capitalize(""))
	assert.Equal(t, "Alice", capitalize("aLICE"))
	assert.Equal(t, "Élodie", capitalize("élodie"))
}

// TestViewsFriendIsRelativeToViewer verifies each side sees the other
// participant as its friend.
func TestViewsFriendIsRelativeToViewer(t *testing.T) {
	updated := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	f := Friendship{Connection: Connection{ID: 9, Sender: alice, Receiver: bob, Accepted: true, UpdatedAt: updated}}
	v := Views{}

	forAlice := v.Friend(f, alice.ID)
	forBob := v.Friend(f, bob.ID)
	assert.Equal(t, "bob", forAlice.Friend.Username)
	assert.Equal(t, "alice", forBob.Friend.Username)
	assert.Equal(t, "New connection", forAlice.Preview)
	assert.Equal(t, updated, forAlice.UpdatedDate)

	text := "hello"
	at := updated.Add(time.Hour)
	f.LatestText, f.LatestCreated = &text, &at
	forAlice = v.Friend(f, alice.ID)
	assert.Equal(t, "hello", forAlice.Preview)
	assert.Equal(t, at, forAlice.UpdatedDate)
}

func TestViewsMessageIsMe(t *testing.T) {
	m := Message{ID: 3, ConnectionID: 9, AuthorID: alice.ID, Text: "hi"}
	v := Views{}
	assert.True(t, v.Message(m, alice.ID).IsMe)
	assert.False(t, v.Message(m, bob.ID).IsMe)
}

// TestViewsWireNames pins the JSON field names clients depend on.
func TestViewsWireNames(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	v := Views{}

	raw, err := json.Marshal(v.Request(Connection{ID: 4, Sender: alice, Receiver: bob, CreatedAt: created}))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": 4,
		"sender": {"username": "alice", "name": "Alice Smith", "thumbnail": null},
		"receiver": {"username": "bob", "name": "Bob Jones", "thumbnail": "/thumbnails/b.png"},
		"accepted": false,
		"created_date": "2024-03-01T10:00:00Z"
	}`, string(raw))

	raw, err = json.Marshal(v.Search(alice, StatusPendingMe))
	require.NoError(t, err)
	assert.JSONEq(t, `{"username": "alice", "name": "Alice Smith", "thumbnail": null, "status": "pending-me"}`, string(raw))

	raw, err = json.Marshal(MessageListView{Messages: []MessageView{}, Friend: v.User(alice)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"messages": [], "next": null, "friend": {"username": "alice", "name": "Alice Smith", "thumbnail": null}}`, string(raw))
}
