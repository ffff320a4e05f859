package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/friendchat/internal/server"
	"github.com/Tyrowin/friendchat/test/testhelpers"
)

// TestGracefulShutdown verifies a hub without sessions stops promptly.
func TestGracefulShutdown(t *testing.T) {
	hub := server.NewHub(nil)
	go hub.Run()

	assert.NoError(t, hub.Shutdown(5*time.Second))
}

// TestGracefulShutdownWithClients verifies that every open session is closed
// when the hub shuts down.
func TestGracefulShutdownWithClients(t *testing.T) {
	stack := testhelpers.StartStack(t, nil)
	stack.CreateUser(t, "alice", "alice", "smith")
	stack.CreateUser(t, "bob", "bob", "jones")

	clients := []*websocket.Conn{
		stack.Connect(t, "alice"),
		stack.Connect(t, "alice"),
		stack.Connect(t, "bob"),
	}

	done := make(chan error, 1)
	go func() {
		done <- stack.Hub.Shutdown(5 * time.Second)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Shutdown timeout exceeded")
	}

	for _, conn := range clients {
		testhelpers.ExpectClosed(t, conn, 2*time.Second)
	}
	assert.Zero(t, stack.Hub.Sessions("alice"))
	assert.Zero(t, stack.Hub.Sessions("bob"))
}

// TestHandshakeAfterShutdown verifies no session is registered once the hub
// has stopped.
func TestHandshakeAfterShutdown(t *testing.T) {
	stack := testhelpers.StartStack(t, nil)
	stack.CreateUser(t, "alice", "alice", "smith")
	require.NoError(t, stack.Hub.Shutdown(time.Second))

	token, err := stack.Tokens.Issue("alice", time.Hour)
	require.NoError(t, err)
	conn, resp, err := websocket.DefaultDialer.Dial(stack.WSURL(token), testhelpers.OriginHeader(testhelpers.TestOrigin))
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	testhelpers.ExpectClosed(t, conn, 2*time.Second)
	assert.Zero(t, stack.Hub.Sessions("alice"))
}

// TestHTTPShutdown verifies the HTTP server stops accepting requests.
func TestHTTPShutdown(t *testing.T) {
	httpServer := server.CreateServer("127.0.0.1:0", server.SetupRoutes(server.Dependencies{Hub: server.NewHub(nil)}))

	errCh := make(chan error, 1)
	go func() { errCh <- server.StartServer(httpServer, zap.NewNop()) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, server.ShutdownServer(httpServer, time.Second, zap.NewNop()))
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}
}
