package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stevemurr/json-db-serve/server"
	"github.com/stevemurr/json-db-serve/store"
)

func TestHandlerChain(t *testing.T) {
	srv := server.NewWithStore(server.Config{CORSOrigins: []string{"*"}}, nil, store.NewMemoryStore())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/todos", "application/json", strings.NewReader(`{"text":"buy milk"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header")
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/todos", nil)
	req.Header.Set("Origin", "https://a.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", resp.StatusCode)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := server.New(server.Config{Backend: "redis", DBPath: "x"}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestServeAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db.json")
	core, logs := observer.New(zap.InfoLevel)

	srv, err := server.New(server.Config{
		DBPath:      dbPath,
		Host:        "127.0.0.1",
		Port:        0,
		MetricsAddr: "127.0.0.1:0",
	}, zap.New(core))
	if err != nil {
		t.Fatal(err)
	}

	ln, err := srv.Listen()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Post(base+"/todos", "application/json", strings.NewReader(`{"id":1,"text":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	b, err := os.ReadFile(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string][]map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc["todos"]) != 1 || doc["todos"][0]["text"] != "x" {
		t.Fatalf("unexpected file contents %s", b)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	var sawBanner, sawDB bool
	for _, e := range logs.All() {
		if e.Message == "json-db-serve running on http://"+ln.Addr().String() {
			sawBanner = true
		}
		if e.Message == "DB: "+dbPath {
			sawDB = true
		}
	}
	if !sawBanner || !sawDB {
		t.Fatalf("expected startup log lines, got %v", logs.All())
	}
}

func TestMetricsHandler(t *testing.T) {
	srv := server.NewWithStore(server.Config{}, nil, store.WithMetrics(store.NewMemoryStore(), "memory"))
	app := httptest.NewServer(srv.Handler())
	defer app.Close()
	resp, err := http.Get(app.URL + "/anything")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	ts := httptest.NewServer(server.MetricsHandler())
	defer ts.Close()
	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	out := string(b)
	for _, want := range []string{
		`jsondb_http_requests_total{method="GET",code="200"}`,
		`jsondb_storage_duration_seconds_bucket{backend="memory",op="load"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in metrics output:\n%s", want, out)
		}
	}
}
