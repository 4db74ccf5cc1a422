// Package protocol defines the signaling messages exchanged between room
// clients and the relay.
package protocol

import "fmt"

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	// Client → relay.
	MsgTypeJoinRoom  MessageType = "join-room"
	MsgTypeLeaveRoom MessageType = "leave-room"

	// Relay → client (membership).
	MsgTypeExistingMembers MessageType = "existing-members"
	MsgTypeMemberJoined    MessageType = "member-joined"
	MsgTypeMemberLeft      MessageType = "member-left"

	// Negotiation payloads, relayed in both directions.
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "ice-candidate"
)

// Message is the JSON structure exchanged over the signaling WebSocket.
// It is a tagged union: which fields are meaningful depends on Type.
//
// From is owned by the relay — it is stamped with the channel's verified
// identity before forwarding, and any client-supplied value is discarded.
type Message struct {
	Type      MessageType `json:"type"`
	Room      string      `json:"room,omitempty"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded webrtc.ICECandidateInit
	Users     []string    `json:"users,omitempty"`     // existing-members only
}

// IsSignal reports whether the message carries a negotiation payload that
// must be routed to a specific recipient.
func (m *Message) IsSignal() bool {
	switch m.Type {
	case MsgTypeOffer, MsgTypeAnswer, MsgTypeCandidate:
		return true
	}
	return false
}

// Validate checks the per-type required fields. The relay rejects invalid
// messages at the boundary, before any routing.
func (m *Message) Validate() error {
	switch m.Type {
	case MsgTypeJoinRoom, MsgTypeLeaveRoom:
		if m.Room == "" {
			return fmt.Errorf("%s: missing room", m.Type)
		}
	case MsgTypeOffer, MsgTypeAnswer:
		if m.To == "" {
			return fmt.Errorf("%s: missing recipient", m.Type)
		}
		if m.SDP == "" {
			return fmt.Errorf("%s: missing sdp", m.Type)
		}
	case MsgTypeCandidate:
		if m.To == "" {
			return fmt.Errorf("%s: missing recipient", m.Type)
		}
		if m.Candidate == "" {
			return fmt.Errorf("%s: missing candidate", m.Type)
		}
	case MsgTypeExistingMembers, MsgTypeMemberJoined, MsgTypeMemberLeft:
		// Relay-originated; nothing for a client to get wrong.
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}
