// Package origin implements the browser Origin policy applied to signaling
// WebSocket upgrades and HTTP endpoints.
package origin

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates a browser Origin header and returns it as
// scheme://host[:port] with default ports removed, plus the host[:port] part
// for same-host comparisons. The literal "null" origin is accepted as-is.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether normalizedOrigin may access requestHost.
//
// A non-empty allowedOrigins list is an exact allowlist where "*" matches
// everything. An empty list means same host:port only. Schemes are not
// compared so a TLS-terminating proxy in front of the relay still matches.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	var scheme string
	switch {
	case strings.HasPrefix(normalizedOrigin, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalizedOrigin, "https://"):
		scheme = "https"
	default:
		return false
	}

	reqHost, ok := canonicalHost(requestHost, scheme)
	return ok && reqHost == originHost
}

// Policy applies IsAllowed to incoming requests.
type Policy struct {
	allowed []string
}

func NewPolicy(allowedOrigins []string) Policy {
	return Policy{allowed: append([]string(nil), allowedOrigins...)}
}

// Check returns the normalized Origin of r and whether it is allowed.
// Requests without an Origin header (non-browser clients) are allowed and
// return an empty origin.
func (p Policy) Check(r *http.Request) (string, bool) {
	values := r.Header.Values("Origin")
	if len(values) == 0 || (len(values) == 1 && strings.TrimSpace(values[0]) == "") {
		return "", true
	}
	if len(values) > 1 {
		return "", false
	}

	normalized, host, ok := NormalizeHeader(values[0])
	if !ok {
		return "", false
	}
	return normalized, IsAllowed(normalized, host, r.Host, p.allowed)
}

func canonicalHost(rawHost, scheme string) (string, bool) {
	rawHost = strings.ToLower(strings.TrimSpace(rawHost))
	if rawHost == "" {
		return "", false
	}

	hostname, port := rawHost, ""
	if strings.HasPrefix(rawHost, "[") || strings.Count(rawHost, ":") == 1 {
		h, p, err := net.SplitHostPort(rawHost)
		if err != nil {
			if !strings.HasPrefix(rawHost, "[") || !strings.HasSuffix(rawHost, "]") {
				return "", false
			}
			h = strings.TrimSuffix(strings.TrimPrefix(rawHost, "["), "]")
		}
		hostname, port = h, p
	} else if strings.Contains(rawHost, ":") {
		return "", false
	}
	if hostname == "" {
		return "", false
	}

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port != "" {
		return hostname + ":" + port, true
	}
	return hostname, true
}
