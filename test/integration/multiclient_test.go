package integration

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/friendchat/test/testhelpers"
)

// TestEveryTabReceivesFrames verifies that frames for a user reach all of
// that user's open sessions, including replies to their own requests.
func TestEveryTabReceivesFrames(t *testing.T) {
	stack := testhelpers.StartStack(t, nil)
	stack.CreateUser(t, "alice", "alice", "smith")
	stack.CreateUser(t, "bob", "bob", "jones")

	phone := stack.Connect(t, "alice")
	laptop := stack.Connect(t, "alice")
	bob := stack.Connect(t, "bob")
	require.Equal(t, 2, stack.Hub.Sessions("alice"))

	testhelpers.Send(t, laptop, `{"source":"request.list"}`)
	testhelpers.ReceiveSource(t, phone, "request.list")
	testhelpers.ReceiveSource(t, laptop, "request.list")
	testhelpers.ExpectNoFrame(t, bob, 100*time.Millisecond)

	testhelpers.Send(t, bob, `{"source":"message.type","username":"alice"}`)
	for _, conn := range []*websocket.Conn{phone, laptop} {
		env := testhelpers.ReceiveSource(t, conn, "message.type")
		assert.JSONEq(t, `{"username":"bob"}`, string(env.Data))
	}
}

// TestClosedTabLeavesGroup verifies a closed session is removed while the
// user's remaining sessions keep receiving.
func TestClosedTabLeavesGroup(t *testing.T) {
	stack := testhelpers.StartStack(t, nil)
	stack.CreateUser(t, "alice", "alice", "smith")
	stack.CreateUser(t, "bob", "bob", "jones")

	first := stack.Connect(t, "alice")
	second := stack.Connect(t, "alice")
	bob := stack.Connect(t, "bob")

	require.NoError(t, first.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = first.Close()
	require.Eventually(t, func() bool { return stack.Hub.Sessions("alice") == 1 },
		2*time.Second, 5*time.Millisecond)

	testhelpers.Send(t, bob, `{"source":"message.type","username":"alice"}`)
	testhelpers.ReceiveSource(t, second, "message.type")

	_ = second.Close()
	require.Eventually(t, func() bool { return stack.Hub.Sessions("alice") == 0 },
		2*time.Second, 5*time.Millisecond)

	// Publishing to a handle without sessions is a no-op.
	testhelpers.Send(t, bob, `{"source":"message.type","username":"alice"}`)
	testhelpers.Send(t, bob, `{"source":"friend.list"}`)
	testhelpers.ReceiveSource(t, bob, "friend.list")
}

// TestConcurrentConversations runs several pairs of users exchanging
// messages at once and checks every frame reaches its recipient in order.
func TestConcurrentConversations(t *testing.T) {
	stack := testhelpers.StartStack(t, nil)

	const pairs = 4
	const perPair = 10

	type pair struct {
		sender, receiver *websocket.Conn
		connectionID     int64
	}
	conversations := make([]pair, pairs)
	for i := range conversations {
		from, to := fmt.Sprintf("sender%d", i), fmt.Sprintf("receiver%d", i)
		stack.CreateUser(t, from, "s", "x")
		stack.CreateUser(t, to, "r", "x")
		s, r := stack.Connect(t, from), stack.Connect(t, to)

		testhelpers.Send(t, s, fmt.Sprintf(`{"source":"request.connect","username":%q}`, to))
		testhelpers.ReceiveSource(t, s, "request.connect")
		testhelpers.ReceiveSource(t, r, "request.connect")
		testhelpers.Send(t, r, fmt.Sprintf(`{"source":"request.accept","username":%q}`, from))
		testhelpers.ReceiveSource(t, s, "request.accept")
		var friend friendView
		testhelpers.ReceiveSource(t, s, "friend.new").Decode(t, &friend)
		testhelpers.ReceiveSource(t, r, "request.accept")
		testhelpers.ReceiveSource(t, r, "friend.new")

		conversations[i] = pair{sender: s, receiver: r, connectionID: friend.ID}
	}

	var wg sync.WaitGroup
	for _, p := range conversations {
		wg.Add(1)
		go func(p pair) {
			defer wg.Done()
			for j := 0; j < perPair; j++ {
				frame := fmt.Sprintf(`{"source":"message.send","connectionId":%d,"message":"msg-%d"}`, p.connectionID, j)
				if err := p.sender.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					t.Errorf("send: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	for _, p := range conversations {
		for j := 0; j < perPair; j++ {
			var got struct {
				Message messageView `json:"message"`
			}
			testhelpers.ReceiveSource(t, p.receiver, "message.send").Decode(t, &got)
			assert.Equal(t, fmt.Sprintf("msg-%d", j), got.Message.Text)
			assert.False(t, got.Message.IsMe)
		}
	}
}
