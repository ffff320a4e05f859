// Package testhelpers assembles a complete friendchat stack for integration
// tests and provides helpers for driving it over real WebSocket connections.
package testhelpers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/friendchat/internal/auth"
	"github.com/Tyrowin/friendchat/internal/chat"
	"github.com/Tyrowin/friendchat/internal/server"
	"github.com/Tyrowin/friendchat/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TestOrigin is an origin allowed by the default configuration.
const TestOrigin = "http://localhost:8080"

// Stack is a running friendchat server backed by a temporary database.
type Stack struct {
	Server   *httptest.Server
	Hub      *server.Hub
	Store    *store.Store
	Tokens   *auth.Tokens
	MediaDir string
}

// Envelope is an outbound frame as a client sees it.
type Envelope struct {
	Source string              `json:"source"`
	Data   jsoniter.RawMessage `json:"data"`
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, v))
}

// StartStack configures the server package, opens a store in a temporary
// directory and serves the full route table. customize may adjust the
// configuration before sessions are created. Everything is torn down when
// the test ends.
func StartStack(t *testing.T, customize func(cfg *server.Config)) *Stack {
	t.Helper()

	cfg := server.NewConfig()
	if customize != nil {
		customize(cfg)
	}
	applied := server.SetConfig(cfg)
	t.Cleanup(func() { server.SetConfig(nil) })

	log := zaptest.NewLogger(t)

	mediaDir := t.TempDir()
	media, err := store.NewMedia(mediaDir)
	require.NoError(t, err)
	db, err := store.New(filepath.Join(t.TempDir(), "friendchat.db"), media, log)
	require.NoError(t, err)

	tokens, err := auth.NewTokens("integration-secret")
	require.NoError(t, err)

	hub := server.NewHub(log)
	go hub.Run()

	service := chat.NewService(db, hub, log, chat.Options{
		MediaURL:       applied.MediaURL,
		MaxAvatarBytes: applied.MaxAvatarBytes,
	})
	mux := server.SetupRoutes(server.Dependencies{
		Hub:      hub,
		Handler:  service,
		Users:    db,
		Tokens:   tokens,
		MediaDir: media.Root(),
		Log:      log,
	})

	s := &Stack{
		Server:   httptest.NewServer(mux),
		Hub:      hub,
		Store:    db,
		Tokens:   tokens,
		MediaDir: mediaDir,
	}
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
		s.Server.Close()
		_ = db.Close()
	})
	return s
}

// CreateUser adds an account whose password is "pw-" followed by the handle.
func (s *Stack) CreateUser(t *testing.T, handle, first, last string) chat.User {
	t.Helper()
	u, err := s.Store.CreateUser(context.Background(), store.NewUser{
		Username:  handle,
		FirstName: first,
		LastName:  last,
		Password:  "pw-" + handle,
	})
	require.NoError(t, err)
	return u
}

// WSURL returns the WebSocket endpoint URL with token as query parameter.
func (s *Stack) WSURL(token string) string {
	u, _ := url.Parse(s.Server.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String()
}

// Connect opens a session for handle and waits until the hub has joined it.
func (s *Stack) Connect(t *testing.T, handle string) *websocket.Conn {
	t.Helper()
	token, err := s.Tokens.Issue(handle, time.Hour)
	require.NoError(t, err)

	before := s.Hub.Sessions(handle)
	conn, resp, err := websocket.DefaultDialer.Dial(s.WSURL(token), OriginHeader(TestOrigin))
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return s.Hub.Sessions(handle) > before
	}, 2*time.Second, 5*time.Millisecond, "session for %s never joined", handle)
	return conn
}

// OriginHeader builds handshake headers carrying origin.
func OriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// Send writes one text frame.
func Send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// Receive reads the next frame and fails the test if none arrives in time.
func Receive(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env), "frame %s", raw)
	return env
}

// ReceiveSource reads the next frame and requires it to carry source.
func ReceiveSource(t *testing.T, conn *websocket.Conn, source string) Envelope {
	t.Helper()
	env := Receive(t, conn)
	require.Equal(t, source, env.Source, "payload %s", env.Data)
	return env
}

// ExpectNoFrame fails if a frame arrives within timeout.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, received %s", raw)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of a frame: %v", err)
}

// ExpectClosed fails unless the server ends the connection within timeout.
func ExpectClosed(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("connection still open")
		}
		return
	}
}

// Frame renders a JSON frame from source and fields.
func Frame(t *testing.T, source string, fields map[string]any) string {
	t.Helper()
	body := map[string]any{"source": source}
	for k, v := range fields {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return string(raw)
}

// Login posts credentials to the login endpoint.
func Login(t *testing.T, baseURL, username, password string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	require.NoError(t, err)
	resp, err := http.Post(baseURL+"/login", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	return resp
}
