// Package server wires HTTP handlers into a ServeMux for the friendchat
// application via routing helpers.
package server

import (
	"io/fs"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application routes:
// health check, token login, the WebSocket endpoint, metrics, and avatar media.
func SetupRoutes(deps Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler(deps))
	mux.HandleFunc("/login", LoginHandler(deps))
	mux.Handle("/metrics", promhttp.Handler())

	if deps.MediaDir != "" {
		mediaURL := currentConfig().MediaURL
		mux.Handle(mediaURL, http.StripPrefix(mediaURL, http.FileServer(filesOnly{http.Dir(deps.MediaDir)})))
	}
	return mux
}

// filesOnly hides directories so avatar names cannot be listed.
type filesOnly struct {
	root http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}
