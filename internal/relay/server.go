// Package relay implements the server side of the signaling protocol: it
// upgrades authenticated WebSocket channels and routes each inbound message
// through the room/presence registry. The relay itself holds no membership
// state — it is a stateless-per-message router layered over the registry.
package relay

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/huddle-live/huddle/internal/auth"
	"github.com/huddle-live/huddle/internal/protocol"
	"github.com/huddle-live/huddle/internal/registry"
	"github.com/huddle-live/huddle/internal/util"
)

// Server accepts signaling channels and routes their messages.
type Server struct {
	reg      *registry.Registry
	provider auth.Provider
	upgrader websocket.Upgrader
}

// NewServer creates a relay over the given registry. Identities are resolved
// through provider at upgrade time; allowedOrigins restricts browser clients
// (empty list allows any origin).
func NewServer(reg *registry.Registry, provider auth.Provider, allowedOrigins []string) *Server {
	s := &Server{
		reg:      reg,
		provider: provider,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  maxMessageSize,
		WriteBufferSize: maxMessageSize,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return s
}

// Handler returns the HTTP mux exposing the signaling endpoint and the
// read-only operational endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user, err := s.provider.IdentityFor(r)
	if err != nil {
		util.LogWarning("rejected channel from %s: %v", r.RemoteAddr, err)
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	c := &client{
		id:   registry.ConnID(uuid.NewString()),
		user: user,
		conn: conn,
		srv:  s,
		send: make(chan *protocol.Message, sendBufferSize),
	}
	s.reg.Register(c.id, c)
	util.Stats.AddConn()
	util.LogInfo("channel open for %s (conn %s)", user, c.id)

	go c.writePump()
	go c.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleStats serves a JSON snapshot of live rooms for monitoring.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Rooms []registry.RoomInfo `json:"rooms"`
		Count int                 `json:"count"`
	}{
		Rooms: s.reg.Snapshot(),
		Count: s.reg.RoomCount(),
	})
}

// route dispatches one inbound message from c. Sender attribution always
// comes from the channel's verified identity; a client-supplied From field
// is discarded before forwarding.
func (s *Server) route(c *client, msg *protocol.Message) {
	if err := msg.Validate(); err != nil {
		util.LogWarning("invalid message from %s: %v", c.user, err)
		return
	}

	switch {
	case msg.Type == protocol.MsgTypeJoinRoom:
		s.reg.Join(msg.Room, c.id, c.user)

	case msg.Type == protocol.MsgTypeLeaveRoom:
		s.reg.Leave(msg.Room, c.id, c.user)

	case msg.IsSignal():
		s.reg.RouteTo(msg.To, &protocol.Message{
			Type:      msg.Type,
			Room:      msg.Room,
			From:      c.user,
			To:        msg.To,
			SDP:       msg.SDP,
			Candidate: msg.Candidate,
		})

	default:
		// Membership notifications are relay-originated; a client sending
		// one is misbehaving.
		util.LogWarning("unexpected %s from %s, ignoring", msg.Type, c.user)
	}
}
