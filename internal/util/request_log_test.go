package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestLogRecordsStatusWithoutQuery(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)
	var buf bytes.Buffer
	initLogger(&buf, "debug")

	h := WithRequestID(WithRequestLog(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	})))
	req := httptest.NewRequest(http.MethodGet, "/admin/users?admin_secret=topsecret", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if strings.Contains(buf.String(), "topsecret") {
		t.Fatalf("query string leaked into request log: %s", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["msg"] != "http_request" || entry["path"] != "/admin/users" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if status, _ := entry["status"].(float64); status != http.StatusUnauthorized {
		t.Fatalf("status = %v, want 401", entry["status"])
	}
	if entry["level"] != "WARN" {
		t.Fatalf("level = %v, want WARN", entry["level"])
	}
	if entry["request_id"] == nil || entry["request_id"] == "" {
		t.Fatalf("expected request id in entry %v", entry)
	}
}
