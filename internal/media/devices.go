package media

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// DeviceProvider acquires camera and microphone tracks through
// pion/mediadevices. Callers must blank-import the driver packages
// (driver/camera, driver/microphone) in their main package to register the
// platform adapters.
type DeviceProvider struct {
	selector *mediadevices.CodecSelector
}

var _ Provider = (*DeviceProvider)(nil)

// NewDeviceProvider builds a provider with an Opus + VP8 codec selector
// tuned for real-time conversation.
func NewDeviceProvider() (*DeviceProvider, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	return &DeviceProvider{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Acquire opens the selected devices. It fails before any signaling with one
// of the package's typed errors, so a session can never partially join a
// room without local media.
func (p *DeviceProvider) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, ErrNoDevice
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: p.selector}
	if c.Video {
		constraints.Video = func(mtc *mediadevices.MediaTrackConstraints) {
			if c.Width > 0 {
				mtc.Width = prop.Int(c.Width)
			}
			if c.Height > 0 {
				mtc.Height = prop.Int(c.Height)
			}
			mtc.FrameRate = prop.Float(30)
		}
	}
	if c.Audio {
		constraints.Audio = func(mtc *mediadevices.MediaTrackConstraints) {
			mtc.SampleRate = prop.Int(48000)
			mtc.ChannelCount = prop.Int(1)
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classifyAcquireError(err)
	}

	ds := &deviceStream{stream: stream}
	for _, track := range stream.GetAudioTracks() {
		if local, ok := track.(webrtc.TrackLocal); ok {
			ds.audio = append(ds.audio, NewMutableTrack(local))
		}
	}
	for _, track := range stream.GetVideoTracks() {
		if local, ok := track.(webrtc.TrackLocal); ok {
			ds.video = append(ds.video, NewMutableTrack(local))
		}
	}
	return ds, nil
}

// classifyAcquireError maps driver failures onto the package taxonomy.
// Driver errors are plain strings, so this is a substring match.
func classifyAcquireError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not permitted"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return fmt.Errorf("%w: %v", ErrDeviceInUse, err)
	case strings.Contains(msg, "failed to find"), strings.Contains(msg, "no such"):
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	default:
		return err
	}
}

// deviceStream owns the acquired mediadevices tracks and their mute gates.
type deviceStream struct {
	stream mediadevices.MediaStream
	audio  []*MutableTrack
	video  []*MutableTrack
}

func (s *deviceStream) Tracks() []webrtc.TrackLocal {
	tracks := make([]webrtc.TrackLocal, 0, len(s.audio)+len(s.video))
	for _, t := range s.audio {
		tracks = append(tracks, t)
	}
	for _, t := range s.video {
		tracks = append(tracks, t)
	}
	return tracks
}

func (s *deviceStream) SetAudioEnabled(enabled bool) {
	for _, t := range s.audio {
		t.SetEnabled(enabled)
	}
}

func (s *deviceStream) SetVideoEnabled(enabled bool) {
	for _, t := range s.video {
		t.SetEnabled(enabled)
	}
}

func (s *deviceStream) AudioEnabled() bool {
	for _, t := range s.audio {
		if !t.Enabled() {
			return false
		}
	}
	return len(s.audio) > 0
}

func (s *deviceStream) VideoEnabled() bool {
	for _, t := range s.video {
		if !t.Enabled() {
			return false
		}
	}
	return len(s.video) > 0
}

func (s *deviceStream) Close() error {
	var errs []error
	for _, track := range s.stream.GetTracks() {
		if err := track.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
