package registry

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/huddle-live/huddle/internal/protocol"
)

// recordingSink collects every message enqueued for one connection.
type recordingSink struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (s *recordingSink) Enqueue(msg *protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *recordingSink) byType(t protocol.MessageType) []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*protocol.Message
	for _, m := range s.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (s *recordingSink) last() *protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return nil
	}
	return s.msgs[len(s.msgs)-1]
}

func register(t *testing.T, g *Registry, conn ConnID) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	g.Register(conn, sink)
	return sink
}

func TestJoinReturnsExistingMembersExcludingCaller(t *testing.T) {
	g := New()
	alice := register(t, g, "c-alice")
	bob := register(t, g, "c-bob")

	g.Join("lobby", "c-alice", "alice")
	members := alice.byType(protocol.MsgTypeExistingMembers)
	require.Len(t, members, 1)
	require.Empty(t, members[0].Users, "first join sees an empty room")

	g.Join("lobby", "c-bob", "bob")
	members = bob.byType(protocol.MsgTypeExistingMembers)
	require.Len(t, members, 1)
	require.Equal(t, []string{"alice"}, members[0].Users)

	joined := alice.byType(protocol.MsgTypeMemberJoined)
	require.Len(t, joined, 1)
	require.Equal(t, "bob", joined[0].From)
}

func TestExistingMembersDeduplicatedByIdentity(t *testing.T) {
	g := New()
	register(t, g, "c-a1")
	register(t, g, "c-a2")
	carol := register(t, g, "c-carol")

	// alice is present on two devices.
	g.Join("lobby", "c-a1", "alice")
	g.Join("lobby", "c-a2", "alice")
	g.Join("lobby", "c-carol", "carol")

	members := carol.byType(protocol.MsgTypeExistingMembers)
	require.Len(t, members, 1)
	require.Equal(t, []string{"alice"}, members[0].Users, "a user with two devices appears once")
}

func TestMultiDeviceNotificationSuppression(t *testing.T) {
	g := New()
	bob := register(t, g, "c-bob")
	register(t, g, "c-a1")
	register(t, g, "c-a2")

	g.Join("lobby", "c-bob", "bob")

	// First device joining announces the user.
	g.Join("lobby", "c-a1", "alice")
	require.Len(t, bob.byType(protocol.MsgTypeMemberJoined), 1)

	// Second device is silent.
	g.Join("lobby", "c-a2", "alice")
	require.Len(t, bob.byType(protocol.MsgTypeMemberJoined), 1)

	// First device leaving is silent — alice is still present.
	g.Leave("lobby", "c-a1", "alice")
	require.Empty(t, bob.byType(protocol.MsgTypeMemberLeft))

	// Last device leaving announces the departure.
	g.Leave("lobby", "c-a2", "alice")
	left := bob.byType(protocol.MsgTypeMemberLeft)
	require.Len(t, left, 1)
	require.Equal(t, "alice", left[0].From)
}

func TestLeaveIsIdempotent(t *testing.T) {
	g := New()
	bob := register(t, g, "c-bob")
	register(t, g, "c-alice")

	g.Join("lobby", "c-bob", "bob")
	g.Join("lobby", "c-alice", "alice")

	g.Leave("lobby", "c-alice", "alice")
	g.Leave("lobby", "c-alice", "alice")
	g.Leave("never-joined", "c-alice", "alice")

	require.Len(t, bob.byType(protocol.MsgTypeMemberLeft), 1, "no second member-left broadcast")
}

func TestRoomDestroyedOnLastLeave(t *testing.T) {
	g := New()
	register(t, g, "c-alice")

	g.Join("lobby", "c-alice", "alice")
	require.Equal(t, 1, g.RoomCount())

	g.Leave("lobby", "c-alice", "alice")
	require.Equal(t, 0, g.RoomCount())
	require.Equal(t, 0, g.ParticipantCount("lobby"))
}

func TestRejoinEquivalentToNeverLeaving(t *testing.T) {
	g := New()
	register(t, g, "c-alice")
	bob := register(t, g, "c-bob")

	// Bob joins first so he witnesses both of alice's join instances.
	g.Join("lobby", "c-bob", "bob")
	g.Join("lobby", "c-alice", "alice")

	g.Leave("lobby", "c-alice", "alice")
	g.Join("lobby", "c-alice", "alice")

	require.Equal(t, 2, g.ParticipantCount("lobby"))
	// Modulo notification history: bob observed a left and a second joined.
	require.Len(t, bob.byType(protocol.MsgTypeMemberLeft), 1)
	require.Len(t, bob.byType(protocol.MsgTypeMemberJoined), 2)
}

func TestRouteToFansOutToAllDevices(t *testing.T) {
	g := New()
	a1 := register(t, g, "c-a1")
	a2 := register(t, g, "c-a2")
	register(t, g, "c-bob")

	g.Join("lobby", "c-a1", "alice")
	g.Join("lobby", "c-a2", "alice")
	g.Join("lobby", "c-bob", "bob")

	g.RouteTo("alice", &protocol.Message{Type: protocol.MsgTypeOffer, From: "bob", To: "alice", SDP: "v=0"})

	require.Len(t, a1.byType(protocol.MsgTypeOffer), 1)
	require.Len(t, a2.byType(protocol.MsgTypeOffer), 1)
	require.Equal(t, "bob", a1.last().From)
}

func TestRouteToAbsentUserIsDropped(t *testing.T) {
	g := New()
	register(t, g, "c-alice")
	g.Join("lobby", "c-alice", "alice")

	// Dropped, no panic, no delivery anywhere.
	g.RouteTo("ghost", &protocol.Message{Type: protocol.MsgTypeOffer, From: "alice", To: "ghost", SDP: "v=0"})
}

func TestDisconnectConnectionCleansEveryRoom(t *testing.T) {
	g := New()
	register(t, g, "c-alice")
	lobbyBob := register(t, g, "c-bob")
	gameCarol := register(t, g, "c-carol")

	// One physical connection joined two rooms. Not expected in normal
	// operation but must not corrupt state.
	g.Join("lobby", "c-alice", "alice")
	g.Join("game", "c-alice", "alice")
	g.Join("lobby", "c-bob", "bob")
	g.Join("game", "c-carol", "carol")

	departures := g.DisconnectConnection("c-alice")
	require.Len(t, departures, 2)
	for _, d := range departures {
		require.Equal(t, "alice", d.User)
		require.True(t, d.LastDevice)
	}

	require.Len(t, lobbyBob.byType(protocol.MsgTypeMemberLeft), 1)
	require.Len(t, gameCarol.byType(protocol.MsgTypeMemberLeft), 1)
	require.Equal(t, 1, g.ParticipantCount("lobby"))
	require.Equal(t, 1, g.ParticipantCount("game"))

	// A second disconnect for the same connection is a no-op.
	require.Empty(t, g.DisconnectConnection("c-alice"))
}

// TestRandomizedInterleavings drives a random join/leave sequence and checks
// after every step that the room's membership equals exactly the set of
// connections that have joined and not yet left.
func TestRandomizedInterleavings(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 13))

	for round := 0; round < 20; round++ {
		g := New()
		users := []string{"alice", "bob", "carol", "dave"}

		type ref struct {
			conn ConnID
			user string
		}
		var refs []ref
		for i, user := range users {
			for dev := 0; dev < 2; dev++ {
				conn := ConnID(fmt.Sprintf("c-%d-%d", i, dev))
				register(t, g, conn)
				refs = append(refs, ref{conn: conn, user: user})
			}
		}

		inRoom := make(map[ConnID]string)
		for step := 0; step < 200; step++ {
			r := refs[rng.IntN(len(refs))]
			if _, joined := inRoom[r.conn]; joined && rng.IntN(2) == 0 {
				g.Leave("lobby", r.conn, r.user)
				delete(inRoom, r.conn)
			} else {
				g.Join("lobby", r.conn, r.user)
				inRoom[r.conn] = r.user
			}

			identities := make(map[string]struct{})
			for _, user := range inRoom {
				identities[user] = struct{}{}
			}
			require.Equal(t, len(identities), g.ParticipantCount("lobby"),
				"round %d step %d: participant count diverged", round, step)
			if len(inRoom) == 0 {
				require.Equal(t, 0, g.RoomCount(), "empty room must not exist")
			}
		}

		for conn, user := range inRoom {
			g.Leave("lobby", conn, user)
		}
		require.Equal(t, 0, g.RoomCount(), "round %d: leaked room", round)
	}
}

// TestConcurrentJoinsDoNotRace hammers the registry from many goroutines.
// Run with -race.
func TestConcurrentJoinsDoNotRace(t *testing.T) {
	g := New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		conn := ConnID(fmt.Sprintf("c-%d", i))
		user := fmt.Sprintf("user-%d", i%4)
		register(t, g, conn)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.Join("lobby", conn, user)
				g.RouteTo(user, &protocol.Message{Type: protocol.MsgTypeCandidate, To: user, Candidate: "{}"})
				g.Leave("lobby", conn, user)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 0, g.RoomCount())
}
