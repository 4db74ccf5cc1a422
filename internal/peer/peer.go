// Package peer implements the per-remote-participant negotiation handle.
//
// Each Peer wraps one PeerConnection and drives its offer/answer/candidate
// exchange through a signal sender. Handles are isolated failure domains: a
// failed negotiation with one participant never touches the handles of the
// others, and a failed or disconnected handle is surfaced to the caller but
// never retried here — retry policy belongs to the caller.
package peer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/huddle-live/huddle/internal/protocol"
	"github.com/huddle-live/huddle/internal/util"
)

// State is the negotiation state of one handle.
type State string

const (
	StateIdle           State = "idle"
	StateOffering       State = "offering"
	StateAwaitingAnswer State = "awaiting-answer"
	StateNegotiating    State = "negotiating-candidates"
	StateConnected      State = "connected"
	StateDisconnected   State = "disconnected"
	StateFailed         State = "failed"
	StateClosed         State = "closed"
)

// SignalSender delivers outbound signaling messages to the relay.
type SignalSender interface {
	SendSignal(msg *protocol.Message) error
}

// Callbacks surface handle events. Either field may be nil.
type Callbacks struct {
	// OnState is invoked after every state transition.
	OnState func(user string, state State)
	// OnTrack is invoked when remote media arrives.
	OnTrack func(user string, track *webrtc.TrackRemote)
}

// Peer is the negotiation/connection handle for one remote participant.
// It is owned exclusively by the session that created it.
type Peer struct {
	user string
	room string
	pc   *webrtc.PeerConnection
	send SignalSender
	cb   Callbacks

	mu        sync.Mutex
	state     State
	remoteSet bool
	pending   []webrtc.ICECandidateInit // candidates buffered until the remote description lands

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

// New creates a handle for the given remote user, attaches the local tracks,
// and wires candidate/track/state plumbing. The handle starts idle; call
// StartOffer or HandleOffer to begin negotiating.
func New(room, user string, cfg webrtc.Configuration, send SignalSender, localTracks []webrtc.TrackLocal, cb Callbacks) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection for %s: %w", user, err)
	}

	p := &Peer{
		user:  user,
		room:  room,
		pc:    pc,
		send:  send,
		cb:    cb,
		state: StateIdle,
		ready: make(chan struct{}),
	}

	for _, track := range localTracks {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("attach %s track for %s: %w", track.Kind(), user, err)
		}
	}

	// Trickle local candidates to the remote side as they are gathered.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		if err := p.send.SendSignal(&protocol.Message{
			Type:      protocol.MsgTypeCandidate,
			Room:      room,
			To:        user,
			Candidate: string(data),
		}); err != nil {
			util.LogDebug("send candidate to %s: %v", user, err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if p.cb.OnTrack != nil {
			p.cb.OnTrack(user, track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("peer %s connection state: %s", user, state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.readyOnce.Do(func() { close(p.ready) })
			p.setState(StateConnected)
		case webrtc.PeerConnectionStateDisconnected:
			p.setState(StateDisconnected)
		case webrtc.PeerConnectionStateFailed:
			p.setState(StateFailed)
		case webrtc.PeerConnectionStateClosed:
			p.setState(StateClosed)
		}
	})

	return p, nil
}

// User returns the remote participant identity.
func (p *Peer) User() string { return p.user }

// State returns the current negotiation state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Ready returns a channel closed when the transport first reaches connected.
func (p *Peer) Ready() <-chan struct{} { return p.ready }

// StartOffer synthesizes an offer and sends it to the remote participant.
// Used when this side learned of the participant and initiates.
func (p *Peer) StartOffer() error {
	p.setState(StateOffering)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		p.setState(StateFailed)
		return fmt.Errorf("create offer for %s: %w", p.user, err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		p.setState(StateFailed)
		return fmt.Errorf("set local offer for %s: %w", p.user, err)
	}
	if err := p.send.SendSignal(&protocol.Message{
		Type: protocol.MsgTypeOffer,
		Room: p.room,
		To:   p.user,
		SDP:  offer.SDP,
	}); err != nil {
		p.setState(StateFailed)
		return fmt.Errorf("send offer to %s: %w", p.user, err)
	}

	p.setState(StateAwaitingAnswer)
	return nil
}

// HandleOffer accepts an inbound offer, replies with an answer, and moves
// straight to candidate negotiation.
func (p *Peer) HandleOffer(sdp string) error {
	if err := p.setRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		p.setState(StateFailed)
		return fmt.Errorf("apply offer from %s: %w", p.user, err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		p.setState(StateFailed)
		return fmt.Errorf("create answer for %s: %w", p.user, err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		p.setState(StateFailed)
		return fmt.Errorf("set local answer for %s: %w", p.user, err)
	}
	if err := p.send.SendSignal(&protocol.Message{
		Type: protocol.MsgTypeAnswer,
		Room: p.room,
		To:   p.user,
		SDP:  answer.SDP,
	}); err != nil {
		p.setState(StateFailed)
		return fmt.Errorf("send answer to %s: %w", p.user, err)
	}

	p.setState(StateNegotiating)
	return nil
}

// HandleAnswer applies the remote answer for a handle that sent the offer.
// Answers arriving in any other state are stale and dropped.
func (p *Peer) HandleAnswer(sdp string) error {
	p.mu.Lock()
	if p.state != StateAwaitingAnswer {
		state := p.state
		p.mu.Unlock()
		util.LogDebug("dropping answer from %s in state %s", p.user, state)
		return nil
	}
	p.mu.Unlock()

	if err := p.setRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		p.setState(StateFailed)
		return fmt.Errorf("apply answer from %s: %w", p.user, err)
	}

	p.setState(StateNegotiating)
	return nil
}

// HandleCandidate adds a remote network-path candidate. Candidates that
// arrive before the remote description are buffered and flushed once it is
// applied.
func (p *Peer) HandleCandidate(raw string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(raw), &init); err != nil {
		return fmt.Errorf("parse candidate from %s: %w", p.user, err)
	}

	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, init)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate from %s: %w", p.user, err)
	}
	return nil
}

// setRemoteDescription applies the remote SDP and flushes any candidates
// buffered while it was missing.
func (p *Peer) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, init := range pending {
		if err := p.pc.AddICECandidate(init); err != nil {
			util.LogDebug("buffered candidate from %s: %v", p.user, err)
		}
	}
	return nil
}

// Close tears down the transport and discards the handle. Idempotent.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.pc.Close()
		p.setState(StateClosed)
	})
	return err
}

// setState records a transition and notifies the callback. Failed and closed
// are terminal: later transport callbacks cannot resurrect the handle.
func (p *Peer) setState(next State) {
	p.mu.Lock()
	if p.state == next || p.state == StateClosed || (p.state == StateFailed && next != StateClosed) {
		p.mu.Unlock()
		return
	}
	p.state = next
	cb := p.cb.OnState
	p.mu.Unlock()

	if cb != nil {
		cb(p.user, next)
	}
}
