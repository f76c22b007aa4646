package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-jukebox/internal/domain/albums"
	"github.com/edumarques81/stellar-jukebox/internal/transport/socketio"
	"github.com/edumarques81/stellar-jukebox/internal/version"
)

// pinger reports whether MPD answers.
type pinger interface {
	Ping() error
}

// routes are the handlers served over HTTP.
type routes struct {
	mpd     pinger
	albums  socketio.AlbumSource
	socket  http.Handler
	metrics http.Handler
}

type healthResponse struct {
	Status string `json:"status"`
	MPD    string `json:"mpd"`
	Albums int    `json:"albums"`
	Songs  int    `json:"songs"`
	// AlbumView is "ready", "building" before the first build, or the
	// last build error.
	AlbumView string `json:"albumView"`
	// Rebuilding is set while a new album view is being built.
	Rebuilding bool `json:"rebuilding,omitempty"`
}

// rebuildReporter is implemented by album caches that rebuild in place.
type rebuildReporter interface {
	Building() bool
}

func newMux(r routes) http.Handler {
	mux := http.NewServeMux()

	if r.socket != nil {
		mux.Handle("/socket.io/", r.socket)
	}
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok", MPD: "connected", AlbumView: "ready"}
		code := http.StatusOK
		if err := r.mpd.Ping(); err != nil {
			resp.Status, resp.MPD = "error", "disconnected"
			code = http.StatusServiceUnavailable
		}
		if r.albums != nil {
			view, err := r.albums.Current()
			switch {
			case err == nil:
				resp.Albums, resp.Songs = view.Len(), view.Songs()
			case errors.Is(err, albums.ErrNotBuilt):
				resp.AlbumView = "building"
			default:
				resp.AlbumView = err.Error()
			}
			if rr, ok := r.albums.(rebuildReporter); ok {
				resp.Rebuilding = rr.Building()
			}
		}
		writeJSON(w, code, resp)
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, version.GetInfo())
	})

	return corsMiddleware(mux)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Write response failed")
	}
}
