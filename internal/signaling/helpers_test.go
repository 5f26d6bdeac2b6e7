package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/origin"
)

const testSecret = "test-signing-secret-0123456789abcdef"

type testRelay struct {
	srv     *Server
	http    *httptest.Server
	metrics *metrics.Metrics
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRelay(t *testing.T, mutate func(*Config)) *testRelay {
	t.Helper()

	m := metrics.New()
	cfg := Config{
		Verifier:             auth.NewJWTVerifier(testSecret),
		Origins:              origin.NewPolicy(nil),
		Metrics:              m,
		Logger:               discardLogger(),
		IdleTimeout:          5 * time.Second,
		PingInterval:         time.Second,
		MaxMessageBytes:      64 * 1024,
		MaxMessagesPerSecond: 1000,
		SendQueueLen:         64,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv := NewServer(cfg)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &testRelay{srv: srv, http: ts, metrics: m}
}

func mintToken(t *testing.T, name string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"name": name,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func (tr *testRelay) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(tr.http.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func (tr *testRelay) dial(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(tr.wsURL(mintToken(t, name)), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", name, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// join sends join-room and waits until the relay has processed it.
func (tr *testRelay) join(t *testing.T, c *websocket.Conn, roomID string) {
	t.Helper()
	before := tr.metrics.Get(metrics.RoomJoined)
	sendText(t, c, `{"type":"join-room","roomId":`+quote(roomID)+`}`)
	waitFor(t, func() bool { return tr.metrics.Get(metrics.RoomJoined) > before })
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func sendText(t *testing.T, c *websocket.Conn, msg string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readRaw(t *testing.T, c *websocket.Conn) []byte {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		typ, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if typ == websocket.TextMessage {
			return data
		}
	}
}

func readJSON(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	data := readRaw(t, c)
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return msg
}

// readClose reads until the peer closes and returns the close frame.
func readClose(t *testing.T, c *websocket.Conn) *websocket.CloseError {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("read err=%v, want close frame", err)
		}
		return ce
	}
}

// expectSilence asserts nothing arrives on c for a short window. The read
// deadline poisons c, so this must be the last read on it.
func expectSilence(t *testing.T, c *websocket.Conn) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, data, err := c.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected message %s", data)
	}
	if !isTimeout(err) {
		t.Fatalf("read err=%v, want timeout", err)
	}
}

func deadline() time.Time {
	return time.Now().Add(time.Second)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
