// Package registry owns the room membership and presence state shared by all
// signaling connections. All read-modify-write operations are serialized by a
// single mutex, and membership notifications are enqueued while the lock is
// held, so no observer can see a member-left overtake the member-joined of
// the same join instance.
package registry

import (
	"sync"
	"time"

	"github.com/huddle-live/huddle/internal/protocol"
	"github.com/huddle-live/huddle/internal/util"
)

// ConnID identifies one live signaling connection.
type ConnID string

// Sink is the outbound queue of one signaling connection. Enqueue must not
// block; connections that cannot keep up drop the message instead.
type Sink interface {
	Enqueue(msg *protocol.Message)
}

// Departure describes one (room, user) membership that a disconnecting
// connection was part of.
type Departure struct {
	Room       string
	User       string
	LastDevice bool // true if this removed the user's last connection in the room
}

// RoomInfo is a read-only snapshot of one room, for introspection.
type RoomInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	Connections  int       `json:"connections"`
	Participants int       `json:"participants"`
}

type room struct {
	createdAt time.Time
	members   map[ConnID]string // connection → user identity
}

// userCount returns the number of distinct user identities in the room.
func (r *room) userCount() int {
	seen := make(map[string]struct{}, len(r.members))
	for _, user := range r.members {
		seen[user] = struct{}{}
	}
	return len(seen)
}

// connsOf returns how many of the room's connections belong to user.
func (r *room) connsOf(user string) int {
	n := 0
	for _, u := range r.members {
		if u == user {
			n++
		}
	}
	return n
}

type connEntry struct {
	sink        Sink
	memberships map[string]string // room → user identity
}

// Registry is the shared room/presence table. The zero value is not usable;
// call New.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
	users map[string]map[ConnID]struct{} // presence: user → live connections
	conns map[ConnID]*connEntry
}

func New() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		users: make(map[string]map[ConnID]struct{}),
		conns: make(map[ConnID]*connEntry),
	}
}

// Register records a connection and its outbound sink before any join.
func (g *Registry) Register(conn ConnID, sink Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[conn] = &connEntry{
		sink:        sink,
		memberships: make(map[string]string),
	}
}

// Join adds the connection to the room under the given user identity,
// creating the room on first join. The caller's sink receives an
// existing-members message listing every other currently-present user
// exactly once (computed before the caller is added), and, when this is the
// user's first connection in the room, every other user's connections
// receive a member-joined broadcast.
func (g *Registry) Join(roomID string, conn ConnID, user string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.conns[conn]
	if !ok {
		util.LogWarning("join from unregistered connection %s", conn)
		return
	}
	if prev, joined := entry.memberships[roomID]; joined {
		util.LogDebug("connection %s already in room %s as %s", conn, roomID, prev)
		return
	}

	rm, ok := g.rooms[roomID]
	if !ok {
		rm = &room{
			createdAt: time.Now(),
			members:   make(map[ConnID]string),
		}
		g.rooms[roomID] = rm
		util.Stats.AddRoom()
		util.LogInfo("room %s created", roomID)
	}

	// Membership list before the caller is added, one entry per identity.
	firstDevice := rm.connsOf(user) == 0
	seen := make(map[string]struct{})
	existing := make([]string, 0, len(rm.members))
	for _, u := range rm.members {
		if u == user {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		existing = append(existing, u)
	}

	rm.members[conn] = user
	entry.memberships[roomID] = user
	if g.users[user] == nil {
		g.users[user] = make(map[ConnID]struct{})
	}
	g.users[user][conn] = struct{}{}

	entry.sink.Enqueue(&protocol.Message{
		Type:  protocol.MsgTypeExistingMembers,
		Room:  roomID,
		Users: existing,
	})

	if firstDevice {
		g.broadcastLocked(rm, user, &protocol.Message{
			Type: protocol.MsgTypeMemberJoined,
			Room: roomID,
			From: user,
		})
	}
	util.LogDebug("%s joined room %s (conn %s, first device %v)", user, roomID, conn, firstDevice)
}

// Leave removes the connection from the room. When this was the user's last
// connection in the room, the remaining members receive a member-left
// broadcast. Empty rooms are destroyed. Leaving a room never joined is a
// logged no-op.
func (g *Registry) Leave(roomID string, conn ConnID, user string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaveLocked(roomID, conn, user)
}

func (g *Registry) leaveLocked(roomID string, conn ConnID, user string) {
	rm, ok := g.rooms[roomID]
	if !ok {
		util.LogDebug("leave for unknown room %s (conn %s)", roomID, conn)
		return
	}
	member, ok := rm.members[conn]
	if !ok {
		util.LogDebug("leave for connection %s not in room %s", conn, roomID)
		return
	}
	if member != user {
		// Identity is resolved server-side, so a mismatch means a stale
		// client message. Use the registered identity.
		user = member
	}

	delete(rm.members, conn)
	if entry, ok := g.conns[conn]; ok {
		delete(entry.memberships, roomID)
	}
	if set, ok := g.users[user]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(g.users, user)
		}
	}

	lastDevice := rm.connsOf(user) == 0
	if lastDevice {
		g.broadcastLocked(rm, user, &protocol.Message{
			Type: protocol.MsgTypeMemberLeft,
			Room: roomID,
			From: user,
		})
	}

	if len(rm.members) == 0 {
		delete(g.rooms, roomID)
		util.LogInfo("room %s destroyed", roomID)
	}
	util.LogDebug("%s left room %s (conn %s, last device %v)", user, roomID, conn, lastDevice)
}

// RouteTo fans the message out to every live connection of user. Messages to
// users with no live presence are dropped and logged, never surfaced to the
// sender as an error.
func (g *Registry) RouteTo(user string, msg *protocol.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.users[user]
	if !ok || len(set) == 0 {
		util.Stats.AddDropped()
		util.LogWarning("dropping %s for %s: no live presence", msg.Type, user)
		return
	}
	for conn := range set {
		if entry, ok := g.conns[conn]; ok {
			entry.sink.Enqueue(msg)
		}
	}
	util.Stats.AddRouted()
}

// DisconnectConnection handles a transport-level close: it performs the
// equivalent of Leave for every (room, user) pair the connection belonged to
// and forgets the connection. Returns the departures for logging.
func (g *Registry) DisconnectConnection(conn ConnID) []Departure {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.conns[conn]
	if !ok {
		return nil
	}

	var departures []Departure
	for roomID, user := range entry.memberships {
		var lastDevice bool
		if rm, ok := g.rooms[roomID]; ok {
			lastDevice = rm.connsOf(user) == 1
		}
		departures = append(departures, Departure{Room: roomID, User: user, LastDevice: lastDevice})
		g.leaveLocked(roomID, conn, user)
	}
	delete(g.conns, conn)
	return departures
}

// broadcastLocked enqueues msg to every room connection whose identity
// differs from exclude. Callers must hold g.mu.
func (g *Registry) broadcastLocked(rm *room, exclude string, msg *protocol.Message) {
	for conn, user := range rm.members {
		if user == exclude {
			continue
		}
		if entry, ok := g.conns[conn]; ok {
			entry.sink.Enqueue(msg)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Read-only introspection
// ──────────────────────────────────────────────────────────────────────────────

// RoomCount returns the number of live rooms.
func (g *Registry) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// ParticipantCount returns the number of distinct users in the room, or 0
// if the room does not exist.
func (g *Registry) ParticipantCount(roomID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	rm, ok := g.rooms[roomID]
	if !ok {
		return 0
	}
	return rm.userCount()
}

// Snapshot returns introspection data for every live room.
func (g *Registry) Snapshot() []RoomInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	infos := make([]RoomInfo, 0, len(g.rooms))
	for id, rm := range g.rooms {
		infos = append(infos, RoomInfo{
			ID:           id,
			CreatedAt:    rm.createdAt,
			Connections:  len(rm.members),
			Participants: rm.userCount(),
		})
	}
	return infos
}
