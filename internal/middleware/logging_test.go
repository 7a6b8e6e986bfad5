package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"

	"github.com/kiumaa/kixikila/pkg/api"
)

// captureLogs routes the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &rec); err != nil {
		t.Fatalf("failed to decode log line %q: %v", lines[len(lines)-1], err)
	}
	return rec
}

func TestLoggingInterceptor(t *testing.T) {
	domainErr := connect.NewError(connect.CodeFailedPrecondition, errors.New("not enough"))
	domainErr.Meta().Set(api.ErrorKindKey, "INSUFFICIENT_BALANCE")

	tests := []struct {
		name  string
		err   error
		level string
		msg   string
		kind  string
	}{
		{"ok", nil, "INFO", "RPC ok", ""},
		{"domain error", domainErr, "WARN", "RPC error", "INSUFFICIENT_BALANCE"},
		{"internal error", errors.New("disk on fire"), "ERROR", "RPC error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			next := func(context.Context, connect.AnyRequest) (connect.AnyResponse, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return connect.NewResponse(&ping{}), nil
			}

			ctx := WithMemberID(context.Background(), "ana")
			_, err := LoggingInterceptor()(next)(ctx, connect.NewRequest(&ping{}))
			if !errors.Is(err, tt.err) {
				t.Fatalf("interceptor changed the error: %v", err)
			}

			rec := lastRecord(t, buf)
			if rec["level"] != tt.level || rec["msg"] != tt.msg {
				t.Errorf("expected %s %q, got %v %v", tt.level, tt.msg, rec["level"], rec["msg"])
			}
			if rec["member_id"] != "ana" {
				t.Errorf("member_id: expected ana, got %v", rec["member_id"])
			}
			if tt.kind != "" && rec["kind"] != tt.kind {
				t.Errorf("kind: expected %s, got %v", tt.kind, rec["kind"])
			}
		})
	}
}

func TestRequestLogger(t *testing.T) {
	buf := captureLogs(t)
	h := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("status: expected 418, got %d", rr.Code)
	}
	rec := lastRecord(t, buf)
	if rec["msg"] != "Request completed" || rec["path"] != "/healthz" {
		t.Errorf("unexpected record: %v", rec)
	}
	if rec["status"] != float64(http.StatusTeapot) || rec["bytes"] != float64(len("short and stout")) {
		t.Errorf("status/bytes: got %v/%v", rec["status"], rec["bytes"])
	}
}
