// Package turnrest mints coturn-compatible ephemeral TURN credentials
// (draft-uberti-behave-turn-rest):
//
//	username   = <unix_expiry>:<prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// The expiry is the server clock in UTC plus the configured TTL.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingSecret = errors.New("turnrest: shared secret is required")
	ErrBadTTL        = errors.New("turnrest: TTLSeconds must be > 0")
	ErrBadPrefix     = errors.New("turnrest: username prefix must be non-empty and must not contain ':'")
	ErrBadSessionID  = errors.New("turnrest: session id must be non-empty and must not contain ':'")
)

type Config struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string

	// Now and SessionIDSource are overridable for tests.
	Now             func() time.Time
	SessionIDSource func() string
}

type Generator struct {
	sharedSecret   []byte
	ttl            int64
	usernamePrefix string
	now            func() time.Time
	sessionID      func() string
}

type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.TTLSeconds <= 0 {
		return nil, ErrBadTTL
	}
	if cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, ErrBadPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SessionIDSource == nil {
		cfg.SessionIDSource = uuid.NewString
	}
	return &Generator{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttl:            cfg.TTLSeconds,
		usernamePrefix: cfg.UsernamePrefix,
		now:            cfg.Now,
		sessionID:      cfg.SessionIDSource,
	}, nil
}

// Generate returns credentials bound to sessionID.
func (g *Generator) Generate(sessionID string) (Credentials, error) {
	if sessionID == "" || strings.Contains(sessionID, ":") {
		return Credentials{}, ErrBadSessionID
	}
	expiry := g.now().UTC().Unix() + g.ttl
	username := strconv.FormatInt(expiry, 10) + ":" + g.usernamePrefix + ":" + sessionID
	return Credentials{
		Username:   username,
		Credential: sign(g.sharedSecret, username),
		ExpiresAt:  time.Unix(expiry, 0).UTC(),
	}, nil
}

// GenerateRandom returns credentials for a fresh random session id.
func (g *Generator) GenerateRandom() (Credentials, error) {
	return g.Generate(g.sessionID())
}

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
