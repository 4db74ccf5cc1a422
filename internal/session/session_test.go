package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/huddle-live/huddle/internal/auth"
	"github.com/huddle-live/huddle/internal/media"
	"github.com/huddle-live/huddle/internal/peer"
	"github.com/huddle-live/huddle/internal/registry"
	"github.com/huddle-live/huddle/internal/relay"
)

// fakeStream satisfies media.Stream with an in-memory sample track, so
// sessions can negotiate without capture devices.
type fakeStream struct {
	tracks []webrtc.TrackLocal

	mu     sync.Mutex
	audio  bool
	video  bool
	closed bool
}

func newFakeStream(t *testing.T) *fakeStream {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "fake-capture",
	)
	require.NoError(t, err)
	return &fakeStream{tracks: []webrtc.TrackLocal{track}, audio: true, video: true}
}

func (s *fakeStream) Tracks() []webrtc.TrackLocal { return s.tracks }

func (s *fakeStream) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = enabled
}

func (s *fakeStream) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.video = enabled
}

func (s *fakeStream) AudioEnabled() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.audio }
func (s *fakeStream) VideoEnabled() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.video }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeProvider returns a prepared stream or a fixed error.
type fakeProvider struct {
	stream media.Stream
	err    error
}

func (p *fakeProvider) Acquire(_ context.Context, _ media.Constraints) (media.Stream, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.stream, nil
}

func newTestRelay(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	srv := httptest.NewServer(relay.NewServer(reg, auth.StaticProvider{}, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, reg
}

func wsURL(srv *httptest.Server, user string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=" + user
}

func TestMediaFailureAbortsJoinBeforeSignaling(t *testing.T) {
	srv, reg := newTestRelay(t)

	sess := New(Options{
		URL:   wsURL(srv, "alice"),
		Room:  "R",
		Media: &fakeProvider{err: media.ErrPermissionDenied},
	})
	err := sess.Join(context.Background())
	require.ErrorIs(t, err, media.ErrPermissionDenied)

	// No partial membership: the relay never heard from us.
	require.Equal(t, 0, reg.RoomCount())

	// Leave after a failed join is a harmless no-op.
	sess.Leave()
}

func TestJoinIsIdempotent(t *testing.T) {
	srv, reg := newTestRelay(t)

	sess := New(Options{
		URL:   wsURL(srv, "alice"),
		Room:  "R",
		Media: &fakeProvider{stream: newFakeStream(t)},
	})
	require.NoError(t, sess.Join(context.Background()))
	require.NoError(t, sess.Join(context.Background()), "second join is a no-op")

	require.Eventually(t, func() bool {
		return reg.ParticipantCount("R") == 1
	}, 3*time.Second, 10*time.Millisecond)

	sess.Leave()
	sess.Leave() // idempotent

	require.Eventually(t, func() bool {
		return reg.RoomCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestMuteTogglesStreamInPlace(t *testing.T) {
	srv, _ := newTestRelay(t)
	stream := newFakeStream(t)

	sess := New(Options{
		URL:   wsURL(srv, "alice"),
		Room:  "R",
		Media: &fakeProvider{stream: stream},
	})
	require.NoError(t, sess.Join(context.Background()))
	defer sess.Leave()

	sess.SetAudioEnabled(false)
	require.False(t, stream.AudioEnabled())
	require.True(t, stream.VideoEnabled())

	sess.SetAudioEnabled(true)
	sess.SetVideoEnabled(false)
	require.True(t, stream.AudioEnabled())
	require.False(t, stream.VideoEnabled())
}

// TestTwoPartyNegotiation runs the full join → offer → answer → candidates
// flow between two sessions through a real relay, until both peers connect.
func TestTwoPartyNegotiation(t *testing.T) {
	if testing.Short() {
		t.Skip("connectivity test")
	}
	srv, _ := newTestRelay(t)

	type event struct {
		user  string
		state peer.State
	}
	states := make(chan event, 64)

	newSession := func(user string) *Session {
		return New(Options{
			URL:   wsURL(srv, user),
			Room:  "R",
			Media: &fakeProvider{stream: newFakeStream(t)},
			OnPeerState: func(remote string, state peer.State) {
				states <- event{user: remote, state: state}
			},
		})
	}

	a := newSession("alice")
	require.NoError(t, a.Join(context.Background()))
	defer a.Leave()

	b := newSession("bob")
	require.NoError(t, b.Join(context.Background()))
	defer b.Leave()

	// Each side ends up with exactly one handle for the other, and both
	// reach connected.
	require.Eventually(t, func() bool {
		return a.AllConnected() && b.AllConnected()
	}, 30*time.Second, 50*time.Millisecond, "peers never connected")

	require.Equal(t, []string{"bob"}, a.Peers())
	require.Equal(t, []string{"alice"}, b.Peers())
}

func TestMemberLeftTearsDownHandle(t *testing.T) {
	if testing.Short() {
		t.Skip("connectivity test")
	}
	srv, _ := newTestRelay(t)

	a := New(Options{
		URL:   wsURL(srv, "alice"),
		Room:  "R",
		Media: &fakeProvider{stream: newFakeStream(t)},
	})
	require.NoError(t, a.Join(context.Background()))
	defer a.Leave()

	b := New(Options{
		URL:   wsURL(srv, "bob"),
		Room:  "R",
		Media: &fakeProvider{stream: newFakeStream(t)},
	})
	require.NoError(t, b.Join(context.Background()))

	require.Eventually(t, func() bool {
		return a.AllConnected() && b.AllConnected()
	}, 30*time.Second, 50*time.Millisecond)

	b.Leave()

	// A discards its handle for bob; the session itself stays alive.
	require.Eventually(t, func() bool {
		return len(a.Peers()) == 0
	}, 5*time.Second, 50*time.Millisecond)
	select {
	case <-a.Done():
		t.Fatal("A's session must survive B leaving")
	default:
	}
}
