package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	logger := slog.New(&recordingHandler{mu: mu, records: records})
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{level: r.Level, msg: r.Message, attrs: map[string]any{}}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.groups = append(append([]string(nil), h.groups...), name)
	return &nh
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupSecurityWarnings(t *testing.T) {
	strongSecret := strings.Repeat("k", minJWTSecretBytes)

	cases := []struct {
		name string
		cfg  config.Config
		want []string
	}{
		{
			name: "clean dev",
			cfg:  config.Config{Mode: config.ModeDev, JWTSecret: strongSecret},
		},
		{
			name: "short secret",
			cfg:  config.Config{Mode: config.ModeDev, JWTSecret: "short"},
			want: []string{"jwt_secret_short"},
		},
		{
			name: "wildcard origins",
			cfg:  config.Config{Mode: config.ModeDev, JWTSecret: strongSecret, AllowedOrigins: []string{"*"}},
			want: []string{"allowed_origins_wildcard"},
		},
		{
			name: "unlimited rate in prod",
			cfg:  config.Config{Mode: config.ModeProd, JWTSecret: strongSecret, MaxSignalingMessagesPerSecond: 0},
			want: []string{"signaling_rate_unlimited_in_prod"},
		},
		{
			name: "large message limit",
			cfg: config.Config{
				Mode:                          config.ModeProd,
				JWTSecret:                     strongSecret,
				MaxSignalingMessagesPerSecond: 10,
				MaxSignalingMessageBytes:      4 << 20,
			},
			want: []string{"signaling_message_limit_large"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logger, records := newRecordingLogger()
			logStartupSecurityWarnings(logger, tc.cfg)

			got := warningCodes(records())
			if len(got) != len(tc.want) {
				t.Fatalf("warnings=%v, want %v", got, tc.want)
			}
			for _, code := range tc.want {
				rec, ok := got[code]
				if !ok {
					t.Fatalf("missing warning_code=%s in %v", code, got)
				}
				if rec.attrs["mode"] != tc.cfg.Mode {
					t.Fatalf("mode attr=%#v, want %q", rec.attrs["mode"], tc.cfg.Mode)
				}
			}
		})
	}
}

func TestStartupSecurityWarnings_NeverLogsSecret(t *testing.T) {
	logger, records := newRecordingLogger()
	logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeDev, JWTSecret: "hunter2"})

	for _, r := range records() {
		for k, v := range r.attrs {
			if s, ok := v.(string); ok && strings.Contains(s, "hunter2") {
				t.Fatalf("attr %s leaks the secret: %q", k, s)
			}
		}
	}
}

func TestResolveBuildInfo_PrefersInjectedValues(t *testing.T) {
	commit, builtAt := resolveBuildInfo("deadbeef", "2024-01-01T00:00:00Z")
	if commit != "deadbeef" || builtAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("got (%q, %q)", commit, builtAt)
	}
}
