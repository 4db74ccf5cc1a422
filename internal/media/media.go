// Package media acquires local capture devices and exposes them as WebRTC
// tracks. The core treats capture as an external capability: it either
// yields a Stream or fails with one of the typed errors below, before any
// signaling takes place.
package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

var (
	ErrPermissionDenied = errors.New("media: permission denied")
	ErrNoDevice         = errors.New("media: no capture device")
	ErrDeviceInUse      = errors.New("media: device in use")
)

// Constraints selects which devices to open.
type Constraints struct {
	Audio bool
	Video bool

	// Preferred video dimensions. Zero means driver default.
	Width  int
	Height int
}

// Stream is an acquired set of local tracks. The same Stream is attached to
// every peer handle in a session; muting flips the track gate in place so
// all peers observe it synchronously, without renegotiation.
type Stream interface {
	// Tracks returns the local tracks to attach to a peer connection.
	Tracks() []webrtc.TrackLocal

	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	AudioEnabled() bool
	VideoEnabled() bool

	Close() error
}

// Provider opens capture devices.
type Provider interface {
	// Acquire opens the devices selected by c. It fails with
	// ErrPermissionDenied, ErrNoDevice or ErrDeviceInUse.
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}
