// Package server hosts the websocket event surface: it upgrades connections,
// routes inbound named events to the room state machine and the execution
// path, and fans state-change notifications back out.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antonkrylov/coderoom/internal/events"
	"github.com/antonkrylov/coderoom/internal/exec"
	"github.com/antonkrylov/coderoom/internal/protocol"
	"github.com/antonkrylov/coderoom/internal/registry"
	"github.com/antonkrylov/coderoom/internal/room"
)

// Runner executes one run request, streaming chunks to the requester. The
// local orchestrator and the remote sandbox adapter both satisfy it.
type Runner interface {
	Run(ctx context.Context, req exec.Request, emit exec.EmitFunc)
}

// Options wires a Server. Sandbox, Tap and BaseContext are optional.
type Options struct {
	Logger       *slog.Logger
	Orchestrator *exec.Orchestrator

	// AllowedOrigins restricts websocket upgrades; empty allows any
	// origin. Expand with config.ExpandOrigins first.
	AllowedOrigins []string

	// Sandbox, when set, replaces the local orchestrator as the
	// execution path. Stdin relay still consults the orchestrator's
	// route map, which stays empty in sandbox mode.
	Sandbox Runner

	Tap         *events.Tap
	BaseContext context.Context
}

type Server struct {
	logger    *slog.Logger
	names     *registry.Registry
	rooms     *room.Manager
	orch      *exec.Orchestrator
	runner    Runner
	sandboxed bool
	tap       *events.Tap
	baseCtx   context.Context
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

func New(opts Options) *Server {
	s := &Server{
		logger:  opts.Logger,
		names:   registry.New(),
		orch:    opts.Orchestrator,
		runner:  opts.Orchestrator,
		tap:     opts.Tap,
		baseCtx: opts.BaseContext,
		clients: make(map[string]*client),
	}
	if opts.Sandbox != nil {
		s.runner = opts.Sandbox
		s.sandboxed = true
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	s.rooms = room.NewManager(s.names, s, opts.Logger)

	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
	return s
}

// Rooms exposes the room state machine, mainly for tests.
func (s *Server) Rooms() *room.Manager {
	return s.rooms
}

// Routes returns the HTTP surface: the websocket endpoint and a health
// probe.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "err", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		srv:  s,
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Info("connection opened", "conn", c.id, "remote", conn.RemoteAddr().String())

	go c.writePump()
	c.readPump()
}

func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	if s.clients[c.id] != c {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c.id)
	// Closing under the write lock orders the close against every Send,
	// which pushes to the channel while holding the read lock.
	close(c.send)
	s.mu.Unlock()

	s.rooms.Disconnect(c.id)
	s.logger.Info("connection closed", "conn", c.id)
}

// Send implements room.Sender. Frames are encoded immediately so payloads
// are snapshotted inside the caller's critical section; a full send buffer
// drops the frame for that client only.
func (s *Server) Send(connID, event string, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		s.logger.Warn("encode event", "event", event, "err", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.clients[connID]
	if c == nil {
		return
	}
	// The channel push stays under the read lock: dropClient closes the
	// channel under the write lock, so a send can never hit a closed
	// channel. The push itself never blocks.
	select {
	case c.send <- data:
	default:
		s.logger.Warn("slow consumer, dropping frame", "conn", connID, "event", event)
	}
}

// Has implements room.Sender.
func (s *Server) Has(connID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[connID]
	return ok
}

// Close implements room.Sender: it tears down the transport, which unwinds
// the connection's read pump and cascades the usual disconnect cleanup.
func (s *Server) Close(connID string) {
	s.mu.RLock()
	c := s.clients[connID]
	s.mu.RUnlock()
	if c != nil {
		c.conn.Close()
	}
}
