// Huddle — room client CLI.
//
// It acquires the local camera/microphone, joins a room through a signaling
// relay, and negotiates a direct media connection with every other
// participant, reporting per-peer connection state as it changes.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-url, -room, -token, -no-video, -no-audio).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	// Register the platform capture adapters.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"

	"github.com/huddle-live/huddle/internal/config"
	"github.com/huddle-live/huddle/internal/media"
	"github.com/huddle-live/huddle/internal/peer"
	"github.com/huddle-live/huddle/internal/session"
	"github.com/huddle-live/huddle/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	urlFlag := flag.String("url", "", "Relay signaling endpoint, e.g. wss://relay.example.com/ws")
	roomFlag := flag.String("room", "", "Room identifier to join")
	tokenFlag := flag.String("token", "", "Access token")
	userFlag := flag.String("user", "", "Identity to claim when the relay runs without token auth (development only)")
	noVideo := flag.Bool("no-video", false, "Skip camera capture")
	noAudio := flag.Bool("no-audio", false, "Skip microphone capture")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Huddle — v%s", version))
	pterm.Println()

	cfg := config.Client{
		URL:   *urlFlag,
		Room:  *roomFlag,
		Token: *tokenFlag,
		User:  *userFlag,
		Audio: !*noAudio,
		Video: !*noVideo,
	}

	// No flags → interactive prompts.
	if cfg.URL == "" {
		cfg.URL, _ = pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay endpoint (e.g. wss://relay.example.com/ws)").
			Show()
	}
	if cfg.Room == "" {
		cfg.Room, _ = pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room to join").
			Show()
	}

	endpoint, err := buildEndpoint(cfg)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	provider, err := media.NewDeviceProvider()
	if err != nil {
		util.LogError("media setup failed: %v", err)
		os.Exit(1)
	}

	sess := session.New(session.Options{
		URL:         endpoint,
		Room:        cfg.Room,
		Media:       provider,
		Constraints: media.Constraints{Audio: cfg.Audio, Video: cfg.Video},
		OnPeerState: func(user string, state peer.State) {
			switch state {
			case peer.StateConnected:
				util.LogSuccess("peer %s connected", user)
			case peer.StateFailed:
				util.LogWarning("peer %s failed — waiting for them to rejoin", user)
			default:
				util.LogInfo("peer %s: %s", user, state)
			}
		},
		OnRemoteTrack: func(user string, track *webrtc.TrackRemote) {
			util.LogInfo("receiving %s from %s", track.Kind(), user)
		},
	})

	if err := sess.Join(ctx); err != nil {
		util.LogError("failed to join room: %v", err)
		os.Exit(1)
	}
	defer sess.Leave()

	util.LogSuccess("in room %s — press Ctrl+C to leave", cfg.Room)

	select {
	case <-ctx.Done():
	case <-sess.Done():
		util.LogWarning("signaling channel lost")
	}
}

// buildEndpoint normalizes the relay URL and appends the access token.
func buildEndpoint(cfg config.Client) (string, error) {
	raw := cfg.URL
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL %q: %w", cfg.URL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay URL scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	q := u.Query()
	if cfg.Token != "" {
		q.Set("token", cfg.Token)
	} else if cfg.User != "" {
		q.Set("user", cfg.User)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
