package util

import (
	"io"
	"regexp"
	"strings"
)

const mask = "****"

// sensitiveField matches JSON string members whose key names a credential.
var sensitiveField = regexp.MustCompile(`"((?i:token|api_token|apitoken|authorize|password|secret))"(\s*:\s*)"(?:[^"\\]|\\.)*"`)

// RedactWriter masks credential fields in every write before forwarding it.
type RedactWriter struct {
	w io.Writer
}

// NewRedactWriter wraps w.
func NewRedactWriter(w io.Writer) *RedactWriter {
	return &RedactWriter{w: w}
}

// Write redacts p and forwards it; the returned count refers to p so callers never see a short write.
func (r *RedactWriter) Write(p []byte) (int, error) {
	if _, err := r.w.Write(Redact(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Redact returns payload with any credential-looking JSON string value replaced by a mask.
func Redact(payload []byte) []byte {
	if !sensitiveField.Match(payload) {
		return payload
	}
	return sensitiveField.ReplaceAll(payload, []byte(`"$1"$2"`+mask+`"`))
}

// MaskToken keeps the last four characters of a token for operator correlation.
func MaskToken(token string) string {
	token = strings.TrimSpace(token)
	if len(token) <= 4 {
		return mask
	}
	return mask + token[len(token)-4:]
}
