// Package debugserver streams VM state to a connected inspector over a
// websocket whenever a BREAKPOINT instruction fires, for the CLI's
// --debug flag. Grounded on sentra/internal/network's WebSocketServer
// (an http.Server wrapping a gorilla/websocket Upgrader, a Clients map
// keyed by connection id) and its WebSocketBroadcast helper, collapsed
// here to the one thing a toolchain debug server needs: broadcast a
// JSON snapshot to every attached client, never read anything back.
package debugserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mirlang/internal/vm"
)

// Server accepts websocket connections and broadcasts VM snapshots to
// all of them. Safe for concurrent use; Broadcast is expected to be
// called from the VM's OnBreakpoint hook on the machine's own goroutine.
type Server struct {
	addr     string
	upgrader websocket.Upgrader
	http     *http.Server
	listener net.Listener

	mu      sync.RWMutex
	clients map[string]*websocket.Conn
}

// New builds a Server listening on addr (e.g. ":4747"). Call Start to
// actually bind and begin serving.
func New(addr string) *Server {
	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*websocket.Conn),
	}
}

// Start binds the listener and begins accepting connections in the
// background, mirroring WebSocketListen's "go server.Server.ListenAndServe()"
// fire-and-forget shape — a debug session that fails to bind shouldn't
// block the toolchain's primary job of compiling and running a program.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("debugserver: listen %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/debug", s.handleUpgrade)
	s.http = &http.Server{Handler: mux}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("debugserver: %v", err)
		}
	}()
	return nil
}

// Addr returns the address the server is actually bound to (useful when
// constructed with a ":0" port), or "" if Start hasn't run yet.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes every client connection and shuts the listener down.
func (s *Server) Stop() error {
	s.mu.Lock()
	for id, c := range s.clients {
		c.Close()
		delete(s.clients, id)
	}
	s.mu.Unlock()
	if s.http == nil {
		return nil
	}
	return s.http.Close()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.clients[id] = conn
	s.mu.Unlock()

	go s.drainClient(id, conn)
}

// drainClient discards anything a client sends (this server is
// broadcast-only) and evicts it once the connection drops, the same
// read-until-error shape WebSocketConn.readMessages uses to detect a
// closed peer.
func (s *Server) drainClient(id string, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.mu.Lock()
			delete(s.clients, id)
			s.mu.Unlock()
			conn.Close()
			return
		}
	}
}

// snapshotMessage is the wire shape a connected inspector receives: the
// VM's State plus a wall-clock timestamp for the hit.
type snapshotMessage struct {
	Hit   time.Time `json:"hit"`
	State vm.State  `json:"state"`
}

// Broadcast encodes snap as JSON and sends it to every connected client,
// dropping (and evicting) any client whose write fails, the same
// best-effort fan-out WebSocketBroadcast performs.
func (s *Server) Broadcast(snap vm.State) error {
	payload, err := json.Marshal(snapshotMessage{Hit: time.Now(), State: snap})
	if err != nil {
		return fmt.Errorf("debugserver: marshal snapshot: %w", err)
	}

	s.mu.RLock()
	targets := make(map[string]*websocket.Conn, len(s.clients))
	for id, c := range s.clients {
		targets[id] = c
	}
	s.mu.RUnlock()

	var lastErr error
	for id, c := range targets {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			lastErr = err
			s.mu.Lock()
			delete(s.clients, id)
			s.mu.Unlock()
			c.Close()
		}
	}
	return lastErr
}

// Attach wires m's OnBreakpoint hook to broadcast a snapshot on every
// hit, the glue the CLI's --debug flag installs between a VM and a
// running Server.
func (s *Server) Attach(m *vm.VM) {
	m.OnBreakpoint = func(m *vm.VM) {
		if err := s.Broadcast(m.Snapshot()); err != nil {
			log.Printf("debugserver: broadcast: %v", err)
		}
	}
}
