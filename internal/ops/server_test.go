package ops

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/codegraph-io/codegraph/internal/cas"
	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/internal/recovery"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func newTestChecker(t *testing.T) *recovery.Checker {
	t.Helper()
	blobs, err := cas.Open(t.TempDir())
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	return recovery.NewChecker(blobs, nil, nil, nil, graph.New(), recovery.DefaultConfig())
}

func TestServerHealthz(t *testing.T) {
	addr := freeAddr(t)
	srv := NewServer(addr, newTestChecker(t), NewRegistry(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ListenAndServe(ctx)
	waitForServer(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body)
	}
}

func TestServerMetricsReflectsRequests(t *testing.T) {
	addr := freeAddr(t)
	reg := NewRegistry()
	srv := NewServer(addr, newTestChecker(t), reg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ListenAndServe(ctx)
	waitForServer(t, addr)

	http.Get("http://" + addr + "/healthz")

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "codegraph_ops_requests_total") {
		t.Fatalf("expected requests counter in output, got %s", body)
	}
	if reg.Requests.Value() == 0 {
		t.Fatalf("expected Requests counter to be incremented")
	}
}

func TestServerIntegrityCheckEndpoint(t *testing.T) {
	addr := freeAddr(t)
	srv := NewServer(addr, newTestChecker(t), NewRegistry(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ListenAndServe(ctx)
	waitForServer(t, addr)

	resp, err := http.Get("http://" + addr + "/integrity/check")
	if err != nil {
		t.Fatalf("GET /integrity/check: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var report map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if _, ok := report["Timestamp"]; !ok {
		t.Fatalf("expected a Timestamp field in report, got %v", report)
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never became reachable", addr)
}
