// Package session drives one client's membership in a room: local media
// acquisition, the signaling channel, and one negotiation handle per remote
// participant.
//
// Message handling is single-threaded — every signaling event runs to
// completion on the read loop before the next is processed — so peer-handle
// state is never touched concurrently from two event handlers. Join and
// Leave are explicit and idempotent, decoupled from any UI lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/huddle-live/huddle/internal/media"
	"github.com/huddle-live/huddle/internal/peer"
	"github.com/huddle-live/huddle/internal/protocol"
	"github.com/huddle-live/huddle/internal/util"
)

var errChannelClosed = errors.New("signaling channel closed")

// Default STUN servers for candidate gathering. No TURN — the system is
// signaling-only and media must find a direct path.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Options configures a Session.
type Options struct {
	// URL is the relay's signaling endpoint, including the access token,
	// e.g. wss://relay.example.com/ws?token=...
	URL string

	// Room to join.
	Room string

	// Media acquires the local tracks. Acquisition failure aborts Join
	// before any signaling message is sent.
	Media       media.Provider
	Constraints media.Constraints

	// STUNServers overrides the default ICE server list.
	STUNServers []string

	// OnPeerState is invoked on every per-peer state transition.
	OnPeerState func(user string, state peer.State)

	// OnRemoteTrack is invoked when a remote participant's media arrives.
	OnRemoteTrack func(user string, track *webrtc.TrackRemote)
}

// Session is one client's room membership. Create with New, then call Join.
type Session struct {
	opts Options

	mu     sync.Mutex
	joined bool
	stream media.Stream
	peers  map[string]*peer.Peer

	// conn is guarded by sendMu, which also serializes writes. Lock order
	// is mu before sendMu.
	sendMu sync.Mutex
	conn   *websocket.Conn

	done chan struct{} // closed when the read loop exits
}

// New creates an unjoined session.
func New(opts Options) *Session {
	return &Session{
		opts:  opts,
		peers: make(map[string]*peer.Peer),
	}
}

// Join acquires local media, opens the signaling channel, and announces the
// session to the room. Calling Join on an already-joined session is a no-op.
// Media failure is terminal for the attempt: no signaling happens without
// local media.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined {
		return nil
	}

	stream, err := s.opts.Media.Acquire(ctx, s.opts.Constraints)
	if err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		stream.Close()
		return fmt.Errorf("connect to relay: %w", err)
	}

	s.stream = stream
	s.done = make(chan struct{})
	s.joined = true
	s.sendMu.Lock()
	s.conn = conn
	s.sendMu.Unlock()

	if err := s.writeJSON(&protocol.Message{
		Type: protocol.MsgTypeJoinRoom,
		Room: s.opts.Room,
	}); err != nil {
		s.teardownLocked()
		close(s.done) // read loop never started
		s.done = nil
		return fmt.Errorf("join room %s: %w", s.opts.Room, err)
	}

	go s.readLoop(conn, s.done)
	util.LogInfo("joined room %s", s.opts.Room)
	return nil
}

// Leave sends leave-room, closes every peer handle and the local media, and
// shuts the channel. Idempotent: leaving an unjoined session is a no-op.
func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return
	}
	// Best effort — the relay also treats the socket close as a leave.
	s.writeJSON(&protocol.Message{
		Type: protocol.MsgTypeLeaveRoom,
		Room: s.opts.Room,
	})
	s.teardownLocked()
	util.LogInfo("left room %s", s.opts.Room)
}

// Done returns a channel closed when the signaling channel is gone, either
// after Leave or on transport failure.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// SetAudioEnabled toggles the microphone gate for every peer at once.
func (s *Session) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		s.stream.SetAudioEnabled(enabled)
	}
}

// SetVideoEnabled toggles the camera gate for every peer at once.
func (s *Session) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		s.stream.SetVideoEnabled(enabled)
	}
}

// Peers returns the remote identities with a live handle.
func (s *Session) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.peers))
	for user := range s.peers {
		users = append(users, user)
	}
	return users
}

// AllConnected reports whether every current handle is connected. It is a
// derived, advisory aggregate — per-peer states are the authoritative view.
func (s *Session) AllConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peers) == 0 {
		return false
	}
	for _, p := range s.peers {
		if p.State() != peer.StateConnected {
			return false
		}
	}
	return true
}

// SendSignal implements peer.SignalSender.
func (s *Session) SendSignal(msg *protocol.Message) error {
	return s.writeJSON(msg)
}

func (s *Session) writeJSON(msg *protocol.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.conn == nil {
		return errChannelClosed
	}
	return s.conn.WriteJSON(msg)
}

// teardownLocked closes peers, media and the channel. Callers hold s.mu.
func (s *Session) teardownLocked() {
	for user, p := range s.peers {
		p.Close()
		delete(s.peers, user)
	}
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
	s.sendMu.Lock()
	conn := s.conn
	s.conn = nil
	s.sendMu.Unlock()
	if conn != nil {
		conn.Close()
	}
	s.joined = false
}

// readLoop is the session's single event dispatcher.
func (s *Session) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			util.LogDebug("signaling channel closed: %v", err)
			return
		}
		s.handle(&msg)
	}
}

// handle processes one relay message. Failures for one peer are contained to
// that peer's handle.
func (s *Session) handle(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MsgTypeExistingMembers:
		// The newcomer initiates: one offer per existing member. The other
		// side never offers on member-joined, so exactly one of any pair
		// starts the exchange.
		for _, user := range msg.Users {
			p, err := s.createPeer(user)
			if err != nil {
				util.LogError("create handle for %s: %v", user, err)
				continue
			}
			if err := p.StartOffer(); err != nil {
				util.LogError("offer to %s: %v", user, err)
				s.removePeer(user)
			}
		}

	case protocol.MsgTypeMemberJoined:
		// The joining side offers once it has the member list; nothing to
		// initiate here.
		util.LogInfo("%s joined room %s", msg.From, s.opts.Room)

	case protocol.MsgTypeMemberLeft:
		util.LogInfo("%s left room %s", msg.From, s.opts.Room)
		s.removePeer(msg.From)

	case protocol.MsgTypeOffer:
		p, ok := s.lookupPeer(msg.From)
		if ok {
			// Negotiation glare: both sides offered. The newcomer-initiates
			// rule makes this rare; drop the inbound offer and keep ours.
			util.LogWarning("dropping concurrent offer from %s (state %s)", msg.From, p.State())
			return
		}
		p, err := s.createPeer(msg.From)
		if err != nil {
			util.LogError("create handle for %s: %v", msg.From, err)
			return
		}
		if err := p.HandleOffer(msg.SDP); err != nil {
			util.LogError("answer %s: %v", msg.From, err)
		}

	case protocol.MsgTypeAnswer:
		p, ok := s.lookupPeer(msg.From)
		if !ok {
			util.LogWarning("dropping answer from %s: no handle", msg.From)
			return
		}
		if err := p.HandleAnswer(msg.SDP); err != nil {
			util.LogError("apply answer from %s: %v", msg.From, err)
		}

	case protocol.MsgTypeCandidate:
		p, ok := s.lookupPeer(msg.From)
		if !ok {
			util.LogDebug("dropping candidate from %s: no handle", msg.From)
			return
		}
		if err := p.HandleCandidate(msg.Candidate); err != nil {
			util.LogDebug("candidate from %s: %v", msg.From, err)
		}

	default:
		util.LogDebug("ignoring %s from relay", msg.Type)
	}
}

func (s *Session) createPeer(user string) (*peer.Peer, error) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return nil, fmt.Errorf("no local media for %s", user)
	}

	cfg := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: s.iceServers()}},
	}
	p, err := peer.New(s.opts.Room, user, cfg, s, stream.Tracks(), peer.Callbacks{
		OnState: s.opts.OnPeerState,
		OnTrack: s.opts.OnRemoteTrack,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.peers[user] = p
	s.mu.Unlock()
	return p, nil
}

func (s *Session) lookupPeer(user string) (*peer.Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[user]
	return p, ok
}

func (s *Session) removePeer(user string) {
	s.mu.Lock()
	p, ok := s.peers[user]
	delete(s.peers, user)
	s.mu.Unlock()
	if ok {
		p.Close()
	}
}

func (s *Session) iceServers() []string {
	if len(s.opts.STUNServers) > 0 {
		return s.opts.STUNServers
	}
	return defaultSTUNServers
}
