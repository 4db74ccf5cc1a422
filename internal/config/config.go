// Package config holds the CLI configuration types.
package config

// Server stores all parameters for the signaling relay binary.
type Server struct {
	Addr           string   // listen address, e.g. ":8080"
	Secret         string   // access-token signing secret; empty trusts the "user" query parameter
	AllowedOrigins []string // browser origins allowed to connect; empty allows any
}

// Client stores all parameters for the room client binary.
type Client struct {
	URL   string // relay signaling endpoint, e.g. wss://relay.example.com/ws
	Room  string // room identifier to join
	Token string // access token appended to the endpoint URL
	User  string // claimed identity for relays without token auth (development only)
	Audio bool   // capture microphone
	Video bool   // capture camera
}
