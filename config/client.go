package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Client defaults.
const (
	DefaultServerURL = "ws://localhost:8080/ws"
)

// DefaultSTUNServers are used when neither a flag nor STUN_SERVERS is set.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:global.stun.twilio.com:3478",
}

// ClientConfig holds what the chat client needs to reach the relay and
// set up peer links.
type ClientConfig struct {
	ServerURL   string
	STUNServers []string
	Codename    string
	Room        string
}

// ClientOptions carries command-line overrides. Empty fields fall through.
type ClientOptions struct {
	ServerURL   string
	STUNServers []string
	Codename    string
	Room        string
}

// LoadClient resolves each setting as flag > environment > default.
func LoadClient(opts ClientOptions) (*ClientConfig, error) {
	serverURL := firstNonEmpty(opts.ServerURL, os.Getenv("ETHERCHAT_SERVER"), DefaultServerURL)
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws or wss", serverURL)
	}

	stun := opts.STUNServers
	if len(stun) == 0 {
		if env := os.Getenv("STUN_SERVERS"); env != "" {
			for _, s := range strings.Split(env, ",") {
				if s = strings.TrimSpace(s); s != "" {
					stun = append(stun, s)
				}
			}
		}
	}
	if len(stun) == 0 {
		stun = append([]string(nil), DefaultSTUNServers...)
	}

	return &ClientConfig{
		ServerURL:   u.String(),
		STUNServers: stun,
		Codename:    firstNonEmpty(opts.Codename, os.Getenv("ETHERCHAT_CODENAME")),
		Room:        firstNonEmpty(opts.Room, os.Getenv("ETHERCHAT_ROOM")),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
