package handler_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stevemurr/json-db-serve/handler"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
	w.Write([]byte("short and stout"))
})

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "https://a.example", "*"},
		{"default", nil, "https://a.example", "*"},
		{"allowed", []string{"https://a.example", " https://b.example"}, "https://b.example", "https://b.example"},
		{"denied", []string{"https://a.example"}, "https://evil.example", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := handler.CORS(okHandler, tc.origins)
			r := httptest.NewRequest("GET", "/todos", nil)
			r.Header.Set("Origin", tc.origin)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
			if w.Code != http.StatusTeapot {
				t.Fatalf("expected request to reach the handler, got %d", w.Code)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := handler.CORS(okHandler, []string{"*"})
	r := httptest.NewRequest("OPTIONS", "/todos/1", nil)
	r.Header.Set("Origin", "https://a.example")
	r.Header.Set("Access-Control-Request-Method", "PATCH")
	r.Header.Set("Access-Control-Request-Headers", "content-type")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if methods := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(methods, "PATCH") {
		t.Fatalf("expected PATCH in allowed methods, got %q", methods)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "content-type" {
		t.Fatalf("expected requested headers reflected, got %q", got)
	}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := handler.Logging(okHandler, zap.New(core))

	r := httptest.NewRequest("GET", "/todos?x=1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	id := w.Header().Get(handler.RequestIDHeader)
	if id == "" {
		t.Fatal("expected generated request id")
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Message != "GET /todos?x=1 418" {
		t.Fatalf("unexpected log message %q", entries[0].Message)
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != id {
		t.Fatalf("expected request_id %s, got %v", id, fields["request_id"])
	}
	if fields["bytes"] != int64(len("short and stout")) {
		t.Fatalf("unexpected bytes field %v", fields["bytes"])
	}

	// A client supplied id is echoed.
	r = httptest.NewRequest("GET", "/todos", nil)
	r.Header.Set(handler.RequestIDHeader, "abc")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if got := w.Header().Get(handler.RequestIDHeader); got != "abc" {
		t.Fatalf("expected echoed id, got %q", got)
	}
}

func TestMetrics(t *testing.T) {
	h := handler.Metrics(okHandler)
	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/todos", nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("BREW", "/todos", nil))

	var buf bytes.Buffer
	metrics.WritePrometheus(&buf, false)
	out := buf.String()
	if !strings.Contains(out, `jsondb_http_requests_total{method="GET",code="418"}`) {
		t.Fatalf("expected GET counter in output:\n%s", out)
	}
	if !strings.Contains(out, `jsondb_http_requests_total{method="OTHER",code="418"}`) {
		t.Fatalf("expected OTHER counter in output:\n%s", out)
	}
}
