// Package socketio provides the Socket.io server clients use to follow
// jukebox activity and drive the jukebox of a partition.
package socketio

import (
	"net/http"
	"time"

	gosocketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"
)

// Namespace every handler is registered on.
const Namespace = "/"

// ServerConfig wires the server to the jukebox.
type ServerConfig struct {
	Jukeboxes        JukeboxLookup
	Albums           AlbumSource
	DefaultPartition string
	Partitions       []string
	// MaxExternal limits concurrent non-loopback clients; zero disables
	// the limit.
	MaxExternal    int
	RequestTimeout time.Duration
}

// Server handles Socket.io connections and events.
type Server struct {
	io        *gosocketio.Server
	clients   *ClientRegistry
	handlers  *Handlers
	partition string
}

// NewServer creates a Socket.io server with every handler registered.
func NewServer(cfg ServerConfig) *Server {
	clients := NewClientRegistry(cfg.MaxExternal)
	s := &Server{
		io:        gosocketio.NewServer(nil),
		clients:   clients,
		handlers:  NewHandlers(cfg.Jukeboxes, cfg.Albums, clients, cfg.DefaultPartition, cfg.RequestTimeout),
		partition: cfg.DefaultPartition,
	}
	s.handlers.partitions = cfg.Partitions
	s.setupHandlers()
	return s
}

// Handlers returns the request handlers.
func (s *Server) Handlers() *Handlers { return s.handlers }

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.OnConnect(Namespace, func(c gosocketio.Conn) error {
		s.connect(c, remoteIP(c.RemoteAddr()))
		return nil
	})

	s.io.OnDisconnect(Namespace, func(c gosocketio.Conn, reason string) {
		log.Info().Str("id", c.ID()).Str("reason", reason).Msg("Client disconnected")
		s.clients.Remove(c.ID())
	})

	s.io.OnError(Namespace, func(c gosocketio.Conn, err error) {
		id := ""
		if c != nil {
			id = c.ID()
		}
		log.Warn().Err(err).Str("id", id).Msg("Socket.io error")
	})

	events := map[string]func(Conn, map[string]interface{}){
		"jukebox:partition:join": s.handlers.HandleJoin,
		"jukebox:status":         s.handlers.HandleStatus,
		"jukebox:configure":      s.handlers.HandleConfigure,
		"jukebox:add":            s.handlers.HandleAdd,
		"jukebox:clear":          s.handlers.HandleClear,
		"jukebox:pending":        s.handlers.HandlePending,
		"albums:list":            s.handlers.HandleAlbums,
		"system:info":            s.handlers.HandleSystemInfo,
	}
	for event, handle := range events {
		s.io.OnEvent(Namespace, event, func(c gosocketio.Conn, payload map[string]interface{}) {
			handle(c, payload)
		})
	}
}

// connect registers a client, evicting the oldest external one when the
// limit is exceeded, and subscribes it to the default partition.
func (s *Server) connect(c Conn, ip string) {
	log.Info().Str("id", c.ID()).Str("ip", ip).Msg("Client connected")

	if evicted := s.clients.Add(c, ip, s.partition); evicted != nil {
		log.Info().Str("id", evicted.ID()).Msg("Evicting oldest external client")
		if err := evicted.Close(); err != nil {
			log.Debug().Err(err).Str("id", evicted.ID()).Msg("Close evicted client")
		}
	}
	c.Join(RoomName(s.partition))
	s.handlers.pushStatus(c, s.partition)
}

// BroadcastToRoom sends event to every client of room.
func (s *Server) BroadcastToRoom(namespace, room, event string, args ...interface{}) bool {
	return s.io.BroadcastToRoom(namespace, room, event, args...)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int { return s.clients.Len() }

// Serve runs the engine.io loop until Close.
func (s *Server) Serve() error {
	return s.io.Serve()
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	return s.io.Close()
}
