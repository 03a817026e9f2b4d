package logx

import (
	"os"
	"regexp"
	"strings"
)

// RedactConfig controls what RedactingFormatter strips or masks before a
// formatter serializes a LogEntry.
type RedactConfig struct {
	Enabled       bool
	RedactHeaders bool
	RedactBody    bool
	MaskEmails    bool
	Placeholder   string
}

// LoadRedactConfig reads PIERRE_LOG_REDACT{,_HEADERS,_BODY},
// PIERRE_LOG_MASK_EMAILS and PIERRE_REDACTION_PLACEHOLDER, defaulting to
// fully redacted since a fitness-data server routinely logs request
// context carrying bearer tokens and provider credentials.
func LoadRedactConfig() RedactConfig {
	return RedactConfig{
		Enabled:       envBool("PIERRE_LOG_REDACT", true),
		RedactHeaders: envBool("PIERRE_LOG_REDACT_HEADERS", true),
		RedactBody:    envBool("PIERRE_LOG_REDACT_BODY", true),
		MaskEmails:    envBool("PIERRE_LOG_MASK_EMAILS", true),
		Placeholder:   envString("PIERRE_REDACTION_PLACEHOLDER", "[REDACTED]"),
	}
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	return strings.EqualFold(raw, "true") || raw == "1"
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var sensitiveFieldNames = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
	"client_secret": true,
	"password":      true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"auth_token":    true,
	"secret":        true,
	"state_secret":  true,
}

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// RedactingFormatter wraps another Formatter, scrubbing sensitive fields
// and masking email local-parts in a LogEntry's Fields/Data before
// handing it to the wrapped formatter for serialization. It is the last
// thing a record passes through before becoming bytes, so console, JSON
// and CloudWatch output are all covered by the same pass.
type RedactingFormatter struct {
	inner Formatter
	cfg   RedactConfig
}

// NewRedactingFormatter wraps inner with cfg's redaction rules.
func NewRedactingFormatter(inner Formatter, cfg RedactConfig) *RedactingFormatter {
	return &RedactingFormatter{inner: inner, cfg: cfg}
}

func (f *RedactingFormatter) Format(entry *LogEntry) ([]byte, error) {
	if !f.cfg.Enabled {
		return f.inner.Format(entry)
	}

	scrubbed := *entry
	scrubbed.Message = f.scrubString(entry.Message)
	if entry.Fields != nil {
		scrubbed.Fields = f.scrubFields(entry.Fields)
	}
	if entry.Data != nil {
		scrubbed.Data = f.scrubValue(entry.Data)
	}
	return f.inner.Format(&scrubbed)
}

func (f *RedactingFormatter) scrubFields(fields Fields) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		out[k] = f.scrubKeyed(k, v)
	}
	return out
}

func (f *RedactingFormatter) scrubKeyed(key string, value interface{}) interface{} {
	lower := strings.ToLower(key)
	if sensitiveFieldNames[lower] {
		return f.cfg.Placeholder
	}
	if f.cfg.RedactHeaders && (lower == "headers" || strings.HasSuffix(lower, "_headers")) {
		return f.cfg.Placeholder
	}
	if f.cfg.RedactBody && (lower == "body" || lower == "request_body" || lower == "response_body") {
		return f.cfg.Placeholder
	}
	return f.scrubValue(value)
}

func (f *RedactingFormatter) scrubValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return f.scrubString(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, vv := range v {
			out[k] = f.scrubKeyed(k, vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, vv := range v {
			out[i] = f.scrubValue(vv)
		}
		return out
	default:
		return value
	}
}

func (f *RedactingFormatter) scrubString(s string) string {
	if !f.cfg.MaskEmails {
		return s
	}
	return emailPattern.ReplaceAllStringFunc(s, func(email string) string {
		at := strings.IndexByte(email, '@')
		if at <= 0 {
			return email
		}
		return email[:1] + "***" + email[at:]
	})
}
