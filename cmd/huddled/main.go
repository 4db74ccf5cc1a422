// Huddled — the room signaling relay.
//
// It tracks room membership and multi-device presence, and forwards
// offer/answer/candidate messages between exactly the right participants.
// Media never transits this server: once a pair of peers finishes
// negotiating, their traffic flows directly between them.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/huddle-live/huddle/internal/auth"
	"github.com/huddle-live/huddle/internal/config"
	"github.com/huddle-live/huddle/internal/registry"
	"github.com/huddle-live/huddle/internal/relay"
	"github.com/huddle-live/huddle/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := flag.String("addr", ":8080", "Listen address")
	secret := flag.String("secret", "", "Access-token signing secret (empty: trust the 'user' query parameter, development only)")
	origins := flag.String("origins", "", "Comma-separated allowed browser origins (empty: allow any)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Huddled — v%s", version))
	pterm.Println()

	cfg := config.Server{
		Addr:   *addr,
		Secret: *secret,
	}
	if *origins != "" {
		cfg.AllowedOrigins = strings.Split(*origins, ",")
	}

	var provider auth.Provider
	if cfg.Secret != "" {
		provider = &auth.TokenProvider{Secret: cfg.Secret}
	} else {
		util.LogWarning("no -secret set, trusting client-supplied identities (development only)")
		provider = auth.StaticProvider{}
	}

	reg := registry.New()
	srv := relay.NewServer(reg, provider, cfg.AllowedOrigins)

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	util.StartStatsReporter(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	util.LogSuccess("signaling relay listening on %s", cfg.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
		util.LogInfo("relay stopped")

	case err := <-errCh:
		util.LogError("relay terminated: %v", err)
		os.Exit(1)
	}
}
