package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger("debug")
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}

	logger = NewLogger("invalid")
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", logger.GetLevel())
	}
}

func TestLoggerMasksTokenFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "info")
	logger.Info().Str("token", "a1-SuperSecretValue").Str("symbol", "R_100").Msg("authorize sent")

	out := buf.String()
	if strings.Contains(out, "SuperSecretValue") {
		t.Fatalf("token leaked into log: %s", out)
	}
	if !strings.Contains(out, `"token":"****"`) {
		t.Fatalf("expected masked token, got %s", out)
	}
	if !strings.Contains(out, "R_100") {
		t.Fatalf("non-sensitive fields should survive: %s", out)
	}
}

func TestRedactPayload(t *testing.T) {
	cases := map[string]string{
		`{"authorize":"abc123","req_id":1}`: `{"authorize":"****","req_id":1}`,
		`{"API_TOKEN" : "x\"y"}`:            `{"API_TOKEN" : "****"}`,
		`{"ticks":"R_50"}`:                  `{"ticks":"R_50"}`,
	}
	for in, want := range cases {
		if got := string(Redact([]byte(in))); got != want {
			t.Fatalf("Redact(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("abcdefgh"); got != "****efgh" {
		t.Fatalf("unexpected mask %s", got)
	}
	if got := MaskToken("abc"); got != "****" {
		t.Fatalf("short tokens must be fully masked, got %s", got)
	}
}
