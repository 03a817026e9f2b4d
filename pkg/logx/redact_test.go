package logx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/pkg/logx"
)

func TestRedactingFormatterStripsSensitiveFields(t *testing.T) {
	inner := logx.NewJSONFormatter(logx.DefaultConfig())
	f := logx.NewRedactingFormatter(inner, logx.RedactConfig{
		Enabled:     true,
		MaskEmails:  true,
		Placeholder: "[REDACTED]",
	})

	entry := &logx.LogEntry{
		Level:   logx.LevelInfo,
		Message: "login attempt for jane.doe@example.com",
		Fields: logx.Fields{
			"Authorization": "Bearer abc123",
			"client_secret": "super-secret",
			"path":          "/auth/login",
		},
		Timestamp: time.Now(),
	}

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	body := string(out)

	if strings.Contains(body, "abc123") {
		t.Fatalf("expected Authorization value to be redacted, got %s", body)
	}
	if strings.Contains(body, "super-secret") {
		t.Fatalf("expected client_secret value to be redacted, got %s", body)
	}
	if strings.Contains(body, "jane.doe@example.com") {
		t.Fatalf("expected email local-part to be masked, got %s", body)
	}
	if !strings.Contains(body, "/auth/login") {
		t.Fatalf("expected non-sensitive fields to pass through untouched, got %s", body)
	}
}

func TestRedactingFormatterDisabledPassesThrough(t *testing.T) {
	inner := logx.NewJSONFormatter(logx.DefaultConfig())
	f := logx.NewRedactingFormatter(inner, logx.RedactConfig{Enabled: false})

	entry := &logx.LogEntry{
		Level:     logx.LevelInfo,
		Message:   "raw message",
		Fields:    logx.Fields{"Authorization": "Bearer abc123"},
		Timestamp: time.Now(),
	}

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if !strings.Contains(string(out), "abc123") {
		t.Fatal("expected disabled redaction to pass the original value through unchanged")
	}
}
