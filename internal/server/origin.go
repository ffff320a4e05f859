package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// normalizeOrigins lower-cases scheme and host of every configured origin and
// reports whether the wildcard "*" was present. Invalid entries are skipped.
func normalizeOrigins(origins []string) ([]string, bool) {
	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			allowAll = true
			continue
		}
		if n, ok := normalizeOrigin(trimmed); ok {
			normalized = append(normalized, n)
		}
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	return scheme + "://" + strings.ToLower(parsed.Host), true
}

func isOriginAllowed(r *http.Request) bool {
	normalizedOrigin, ok := normalizeOrigin(r.Header.Get("Origin"))
	if !ok {
		return false
	}

	configMu.RLock()
	defer configMu.RUnlock()

	if allowAllOrigins {
		return true
	}
	_, exists := allowedOrigins[normalizedOrigin]
	return exists
}

// originChecker returns a websocket.Upgrader CheckOrigin func that logs
// rejected origins.
func originChecker(log *zap.Logger) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if isOriginAllowed(r) {
			return true
		}
		log.Warn("Blocked WebSocket connection from disallowed origin",
			zap.String("origin", r.Header.Get("Origin")),
			zap.String("remote_addr", r.RemoteAddr))
		return false
	}
}
