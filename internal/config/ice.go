package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

var (
	errMissingURLs        = errors.New("missing urls")
	errTURNUsername       = errors.New("turn urls require username")
	errTURNCredential     = errors.New("turn urls require credential")
	errUnsupportedICEURLs = errors.New("unsupported url scheme")
)

// iceInputs are the raw ICE settings. A JSON list takes precedence over the
// STUN/TURN URL lists.
type iceInputs struct {
	json           string
	stunURLs       string
	turnURLs       string
	turnUsername   string
	turnCredential string
}

// resolve parses the configured servers. TURN entries need static credentials
// unless TURN REST mints them per request.
func (in iceInputs) resolve(turnREST bool) ([]webrtc.ICEServer, error) {
	source := envICEServersJSON
	var (
		servers []webrtc.ICEServer
		err     error
	)
	if raw := strings.TrimSpace(in.json); raw != "" {
		servers, err = ParseICEServersJSON(raw)
	} else {
		source = envStunURLs + "/" + envTurnURLs
		servers, err = ParseICEServerURLs(in.stunURLs, in.turnURLs, in.turnUsername, in.turnCredential)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	if !turnREST {
		for i, server := range servers {
			if err := checkStaticTURNCredentials(server); err != nil {
				return nil, fmt.Errorf("%s: iceServers[%d]: %w (set %s/%s or enable TURN REST)", source, i, err, envTurnUsername, envTurnCredential)
			}
		}
	}
	return servers, nil
}

// ParseICEServersJSON parses a JSON list of RTCIceServer-shaped objects.
// `urls` may be a string or an array.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       urlList `json:"urls"`
		Username   string  `json:"username,omitempty"`
		Credential string  `json:"credential,omitempty"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		server, err := newICEServer(e.URLs, e.Username, e.Credential)
		if err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// ParseICEServerURLs builds at most two servers from comma-separated STUN and
// TURN URL lists. The username and credential apply to the TURN entry only.
func ParseICEServerURLs(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer
	if stun := splitCommaSeparated(stunURLs); len(stun) > 0 {
		server, err := newICEServer(stun, "", "")
		if err != nil {
			return nil, fmt.Errorf("stun: %w", err)
		}
		servers = append(servers, server)
	}
	if turn := splitCommaSeparated(turnURLs); len(turn) > 0 {
		server, err := newICEServer(turn, turnUsername, turnCredential)
		if err != nil {
			return nil, fmt.Errorf("turn: %w", err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// IsTURNServer reports whether any of the server's URLs is a TURN URL.
func IsTURNServer(server webrtc.ICEServer) bool {
	for _, url := range server.URLs {
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}

func newICEServer(urls []string, username, credential string) (webrtc.ICEServer, error) {
	server := webrtc.ICEServer{Username: strings.TrimSpace(username)}
	for _, url := range urls {
		url = strings.TrimSpace(url)
		switch {
		case url == "":
			continue
		case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"),
			strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			server.URLs = append(server.URLs, url)
		default:
			return webrtc.ICEServer{}, fmt.Errorf("%w: %q", errUnsupportedICEURLs, url)
		}
	}
	if len(server.URLs) == 0 {
		return webrtc.ICEServer{}, errMissingURLs
	}
	if credential = strings.TrimSpace(credential); credential != "" {
		server.Credential = credential
	}
	return server, nil
}

func checkStaticTURNCredentials(server webrtc.ICEServer) error {
	if !IsTURNServer(server) {
		return nil
	}
	if server.Username == "" {
		return errTURNUsername
	}
	if cred, _ := server.Credential.(string); cred == "" {
		return errTURNCredential
	}
	return nil
}

type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*l = urlList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
