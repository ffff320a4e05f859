package integration

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/friendchat/test/testhelpers"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type userView struct {
	Username  string  `json:"username"`
	Name      string  `json:"name"`
	Thumbnail *string `json:"thumbnail"`
}

type requestView struct {
	ID       int64    `json:"id"`
	Sender   userView `json:"sender"`
	Receiver userView `json:"receiver"`
	Accepted bool     `json:"accepted"`
}

type friendView struct {
	ID      int64    `json:"id"`
	Friend  userView `json:"friend"`
	Preview string   `json:"preview"`
}

type messageView struct {
	ID   int64  `json:"id"`
	IsMe bool   `json:"is_me"`
	Text string `json:"text"`
}

// TestFriendshipConversation walks two users from search to a conversation.
func TestFriendshipConversation(t *testing.T) {
	stack := testhelpers.StartStack(t, nil)
	stack.CreateUser(t, "alice", "alice", "smith")
	stack.CreateUser(t, "bob", "bob", "jones")

	alice := stack.Connect(t, "alice")
	bob := stack.Connect(t, "bob")

	testhelpers.Send(t, alice, `{"source":"search","query":"bo"}`)
	var hits []struct {
		Username string `json:"username"`
		Name     string `json:"name"`
		Status   string `json:"status"`
	}
	testhelpers.ReceiveSource(t, alice, "search").Decode(t, &hits)
	require.Len(t, hits, 1)
	assert.Equal(t, "bob", hits[0].Username)
	assert.Equal(t, "Bob Jones", hits[0].Name)
	assert.Equal(t, "no-connection", hits[0].Status)

	testhelpers.Send(t, alice, `{"source":"request.connect","username":"bob"}`)
	var sent, received requestView
	testhelpers.ReceiveSource(t, alice, "request.connect").Decode(t, &sent)
	testhelpers.ReceiveSource(t, bob, "request.connect").Decode(t, &received)
	assert.Equal(t, sent, received)
	assert.False(t, sent.Accepted)
	assert.Equal(t, "alice", sent.Sender.Username)

	testhelpers.Send(t, bob, `{"source":"request.list"}`)
	var pending []requestView
	testhelpers.ReceiveSource(t, bob, "request.list").Decode(t, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, sent.ID, pending[0].ID)

	testhelpers.Send(t, bob, `{"source":"request.accept","username":"alice"}`)
	var connectionID int64
	for _, tc := range []struct {
		conn   *websocket.Conn
		friend string
	}{
		{alice, "bob"},
		{bob, "alice"},
	} {
		var accepted requestView
		testhelpers.ReceiveSource(t, tc.conn, "request.accept").Decode(t, &accepted)
		assert.True(t, accepted.Accepted)

		var friend friendView
		testhelpers.ReceiveSource(t, tc.conn, "friend.new").Decode(t, &friend)
		assert.Equal(t, tc.friend, friend.Friend.Username)
		assert.Equal(t, "New connection", friend.Preview)
		connectionID = friend.ID
	}

	testhelpers.Send(t, alice, testhelpers.Frame(t, "message.send", map[string]any{
		"connectionId": connectionID,
		"message":      "hi bob",
	}))
	var mine, theirs struct {
		Message messageView `json:"message"`
		Friend  userView    `json:"friend"`
	}
	testhelpers.ReceiveSource(t, alice, "message.send").Decode(t, &mine)
	testhelpers.ReceiveSource(t, bob, "message.send").Decode(t, &theirs)
	assert.True(t, mine.Message.IsMe)
	assert.False(t, theirs.Message.IsMe)
	assert.Equal(t, "bob", mine.Friend.Username)
	assert.Equal(t, "alice", theirs.Friend.Username)
	assert.Equal(t, mine.Message.ID, theirs.Message.ID)

	testhelpers.Send(t, bob, `{"source":"message.type","username":"alice"}`)
	typing := testhelpers.ReceiveSource(t, alice, "message.type")
	assert.JSONEq(t, `{"username":"bob"}`, string(typing.Data))

	testhelpers.Send(t, bob, testhelpers.Frame(t, "message.list", map[string]any{
		"connectionId": connectionID,
		"page":         0,
	}))
	var page struct {
		Messages []messageView `json:"messages"`
		Next     *int          `json:"next"`
		Friend   userView      `json:"friend"`
	}
	testhelpers.ReceiveSource(t, bob, "message.list").Decode(t, &page)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "hi bob", page.Messages[0].Text)
	assert.False(t, page.Messages[0].IsMe)
	assert.Nil(t, page.Next)
	assert.Equal(t, "alice", page.Friend.Username)

	testhelpers.Send(t, alice, `{"source":"friend.list"}`)
	var friends []friendView
	testhelpers.ReceiveSource(t, alice, "friend.list").Decode(t, &friends)
	require.Len(t, friends, 1)
	assert.Equal(t, "hi bob", friends[0].Preview)

	testhelpers.ExpectNoFrame(t, bob, 100*time.Millisecond)
}

// TestBadFramesGetNoResponse verifies dropped frames leave the session open
// and silent.
func TestBadFramesGetNoResponse(t *testing.T) {
	stack := testhelpers.StartStack(t, nil)
	stack.CreateUser(t, "alice", "alice", "smith")
	alice := stack.Connect(t, "alice")

	for _, frame := range []string{
		`not json`,
		`{"no":"source"}`,
		`{"source":"teleport"}`,
		`{"source":"message.list","connectionId":12345,"page":0}`,
		`{"source":"request.accept","username":"nobody"}`,
	} {
		testhelpers.Send(t, alice, frame)
	}
	testhelpers.ExpectNoFrame(t, alice, 200*time.Millisecond)

	testhelpers.Send(t, alice, `{"source":"request.list"}`)
	env := testhelpers.ReceiveSource(t, alice, "request.list")
	assert.JSONEq(t, `[]`, string(env.Data))
}

// TestThumbnailIsServed verifies an uploaded avatar is reachable under the
// URL returned to the client.
func TestThumbnailIsServed(t *testing.T) {
	stack := testhelpers.StartStack(t, nil)
	stack.CreateUser(t, "alice", "alice", "smith")
	alice := stack.Connect(t, "alice")

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{7}, 64)...)
	testhelpers.Send(t, alice, testhelpers.Frame(t, "thumbnail", map[string]any{
		"base64":   base64.StdEncoding.EncodeToString(png),
		"filename": "avatar.png",
	}))

	var me userView
	testhelpers.ReceiveSource(t, alice, "thumbnail").Decode(t, &me)
	require.NotNil(t, me.Thumbnail)

	resp, err := http.Get(stack.Server.URL + *me.Thumbnail)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	served, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, png, served)
}
