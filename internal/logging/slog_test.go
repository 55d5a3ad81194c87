package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestWithOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := WithOperation(New(&buf, false), "poll_cycle")
	logger.Info("done")
	if !strings.Contains(buf.String(), "operation=poll_cycle") {
		t.Errorf("expected operation attribute in %q", buf.String())
	}
}

func TestWithTenant(t *testing.T) {
	var buf bytes.Buffer
	logger := WithTenant(New(&buf, false), 42)
	logger.Info("done")
	if !strings.Contains(buf.String(), "tenant=42") {
		t.Errorf("expected tenant attribute in %q", buf.String())
	}
}

func TestNew_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug line written at info level: %q", buf.String())
	}

	New(&buf, true).Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("debug line missing at debug level: %q", buf.String())
	}
}

func TestAttrs(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{"operation", Operation("sync"), KeyOperation, "sync"},
		{"tenant", Tenant(7), KeyTenant, "7"},
		{"message id", MessageID("m1"), KeyMessageID, "m1"},
		{"command", Command("/search"), KeyCommand, "/search"},
		{"request id", RequestID("abc"), KeyRequestID, "abc"},
		{"status", Status("success"), KeyStatus, "success"},
		{"trace id", TraceID("4bf92f35"), KeyTraceID, "4bf92f35"},
		{"duration", Duration(1500 * time.Millisecond), KeyDuration, "1.5s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.wantKey {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.wantKey)
			}
			if tt.attr.Value.String() != tt.wantVal {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.wantVal)
			}
		})
	}
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("boom"))
	if attr.Key != KeyError {
		t.Errorf("Err key = %q, want %q", attr.Key, KeyError)
	}
	if attr.Value.String() != "boom" {
		t.Errorf("Err value = %q, want %q", attr.Value.String(), "boom")
	}
}

func TestErr_Nil(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).Info("ok", Err(nil))
	if strings.Contains(buf.String(), KeyError) {
		t.Errorf("nil error should be omitted, got %q", buf.String())
	}
}

func TestTraceID_EmptyOmitted(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).Info("ok", TraceID(""))
	if strings.Contains(buf.String(), KeyTraceID) {
		t.Errorf("empty trace id should be omitted, got %q", buf.String())
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"", "<empty>"},
		{"ya29.secret", "[token:11 chars]"},
	}
	for _, tt := range tests {
		if got := SanitizeToken(tt.token); got != tt.want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}
