package media

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// MutableTrack wraps a TrackLocal with an enable gate. While disabled, RTP
// written by the underlying track is swallowed instead of reaching the wire,
// which mutes the track for every bound peer connection at once without
// touching the negotiation.
type MutableTrack struct {
	inner   webrtc.TrackLocal
	enabled atomic.Bool
}

var _ webrtc.TrackLocal = (*MutableTrack)(nil)

// NewMutableTrack wraps inner, initially enabled.
func NewMutableTrack(inner webrtc.TrackLocal) *MutableTrack {
	t := &MutableTrack{inner: inner}
	t.enabled.Store(true)
	return t
}

func (t *MutableTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *MutableTrack) Enabled() bool           { return t.enabled.Load() }

// Bind hands the underlying track a write stream that respects the gate.
func (t *MutableTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return t.inner.Bind(gatedContext{
		TrackLocalContext: ctx,
		writer: &gatedWriter{
			enabled: &t.enabled,
			inner:   ctx.WriteStream(),
		},
	})
}

func (t *MutableTrack) Unbind(ctx webrtc.TrackLocalContext) error { return t.inner.Unbind(ctx) }

func (t *MutableTrack) ID() string                { return t.inner.ID() }
func (t *MutableTrack) RID() string               { return t.inner.RID() }
func (t *MutableTrack) StreamID() string          { return t.inner.StreamID() }
func (t *MutableTrack) Kind() webrtc.RTPCodecType { return t.inner.Kind() }

// gatedContext overrides only the write stream of a binding context.
type gatedContext struct {
	webrtc.TrackLocalContext
	writer webrtc.TrackLocalWriter
}

func (c gatedContext) WriteStream() webrtc.TrackLocalWriter { return c.writer }

type gatedWriter struct {
	enabled *atomic.Bool
	inner   webrtc.TrackLocalWriter
}

// WriteRTP drops the packet while the gate is closed. Reporting the payload
// as written keeps the producing track's pacing intact.
func (w *gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !w.enabled.Load() {
		return len(payload), nil
	}
	return w.inner.WriteRTP(header, payload)
}

// Write drops the raw packet while the gate is closed, mirroring WriteRTP.
func (w *gatedWriter) Write(b []byte) (int, error) {
	if !w.enabled.Load() {
		return len(b), nil
	}
	return w.inner.Write(b)
}
