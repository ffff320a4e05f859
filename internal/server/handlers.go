// Package server exposes HTTP handlers, including the authenticated
// WebSocket upgrade, token login, and health checks.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/Tyrowin/friendchat/internal/auth"
	"github.com/Tyrowin/friendchat/internal/chat"
	"github.com/Tyrowin/friendchat/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Users resolves accounts for the HTTP layer.
type Users interface {
	FindUserByHandle(ctx context.Context, handle string) (chat.User, error)
	Authenticate(ctx context.Context, username, password string) (chat.User, error)
}

// Dependencies are the collaborators the HTTP handlers need.
type Dependencies struct {
	Hub      *Hub
	Handler  FrameHandler
	Users    Users
	Tokens   *auth.Tokens
	MediaDir string
	Log      *zap.Logger
}

func (d Dependencies) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// WebSocketHandler upgrades authenticated GET requests to a session. A
// request whose token does not resolve to a known user is refused before
// the upgrade, so no session ever exists without an identity.
func WebSocketHandler(deps Dependencies) http.HandlerFunc {
	log := deps.logger().Named("ws")
	checkOrigin := originChecker(log)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}
		if !checkOrigin(r) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		identity, err := resolveIdentity(r, deps)
		if err != nil {
			log.Info("Refused unauthenticated WebSocket request",
				zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("WebSocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(conn, deps.Hub, deps.Handler, identity, r.RemoteAddr, deps.Log)
		// The hub joins the session to its group and starts its pumps.
		if !deps.Hub.Register(client) {
			_ = conn.Close()
		}
	}
}

func resolveIdentity(r *http.Request, deps Dependencies) (chat.User, error) {
	token, err := auth.FromRequest(r)
	if err != nil {
		return chat.User{}, err
	}
	handle, err := deps.Tokens.Verify(token)
	if err != nil {
		return chat.User{}, err
	}
	user, err := deps.Users.FindUserByHandle(r.Context(), handle)
	if err != nil {
		return chat.User{}, fmt.Errorf("resolve %q: %w", handle, err)
	}
	return user, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// LoginHandler exchanges a username and password for a session token.
func LoginHandler(deps Dependencies) http.HandlerFunc {
	log := deps.logger().Named("login")

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req loginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		user, err := deps.Users.Authenticate(r.Context(), req.Username, req.Password)
		if err != nil {
			if !errors.Is(err, store.ErrInvalidCredentials) {
				log.Error("Login failed", zap.Error(err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}

		token, err := deps.Tokens.Issue(user.Username, currentConfig().TokenTTL)
		if err != nil {
			log.Error("Token issue failed", zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(loginResponse{Token: token, Username: user.Username}); err != nil {
			log.Warn("Error writing login response", zap.Error(err))
		}
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "friendchat server is running!")
}
