package tracehttp

import (
	"strings"
	"testing"
)

func TestRedactStripsBearerTokens(t *testing.T) {
	dump := []byte("GET /gmail/v1/users/me/messages HTTP/1.1\r\n" +
		"Authorization: Bearer ya29.secret-token\r\n" +
		"Accept: application/json\r\n\r\n")
	got := string(redact(dump))
	if strings.Contains(got, "secret-token") {
		t.Errorf("redact() left token in dump:\n%s", got)
	}
	if !strings.Contains(got, "Authorization: REDACTED") {
		t.Errorf("redact() dropped the Authorization line:\n%s", got)
	}
	if !strings.Contains(got, "Accept: application/json") {
		t.Errorf("redact() mangled unrelated headers:\n%s", got)
	}
}
