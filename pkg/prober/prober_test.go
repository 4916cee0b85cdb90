package prober

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"

	"broadband-tester/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serverFromTS(t *testing.T, id int64, ts *httptest.Server) models.Server {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}
	return models.Server{ID: id, Host: u.Hostname(), Port: port, Secure: false}
}

func newPingServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != probePath {
			http.NotFound(w, r)
			return
		}
		time.Sleep(delay)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestProbeHealthyServer(t *testing.T) {
	ts := newPingServer(t, 2*time.Millisecond)
	p := New(&transport.TCPDialer{}, Config{Samples: 4, PerSampleTimeout: time.Second}, testLogger())

	stats := p.Probe(context.Background(), serverFromTS(t, 1, ts))

	if stats.LossRatio != 0 {
		t.Errorf("LossRatio = %v, want 0", stats.LossRatio)
	}
	if !stats.Reachable() {
		t.Error("healthy server must be reachable")
	}
	if stats.AvgMs <= 0 {
		t.Errorf("AvgMs = %v, want > 0", stats.AvgMs)
	}
	if stats.MinMs > stats.AvgMs || stats.AvgMs > stats.MaxMs {
		t.Errorf("expected min <= avg <= max, got %v/%v/%v", stats.MinMs, stats.AvgMs, stats.MaxMs)
	}
}

func TestProbeUnreachableServer(t *testing.T) {
	// Nothing listens on port 1; every sample fails fast with a refused
	// connection, none of which aborts the remaining samples.
	server := models.Server{ID: 9, Host: "127.0.0.1", Port: 1, Secure: false}
	p := New(&transport.TCPDialer{}, Config{Samples: 3, PerSampleTimeout: 500 * time.Millisecond}, testLogger())

	stats := p.Probe(context.Background(), server)

	if stats.LossRatio != 1.0 {
		t.Errorf("LossRatio = %v, want 1.0", stats.LossRatio)
	}
	if stats.Reachable() {
		t.Error("unreachable server must not be reachable")
	}
}

func TestProbeAll(t *testing.T) {
	fast := newPingServer(t, time.Millisecond)
	slow := newPingServer(t, 15*time.Millisecond)
	servers := []models.Server{
		serverFromTS(t, 1, fast),
		serverFromTS(t, 2, slow),
		{ID: 3, Host: "127.0.0.1", Port: 1, Secure: false},
	}

	p := New(&transport.TCPDialer{}, Config{Samples: 3, PerSampleTimeout: 500 * time.Millisecond, Concurrency: 2}, testLogger())
	statsBy := p.ProbeAll(context.Background(), servers)

	if len(statsBy) != len(servers) {
		t.Fatalf("got stats for %d servers, want %d", len(statsBy), len(servers))
	}
	if statsBy[1].LossRatio != 0 || statsBy[2].LossRatio != 0 {
		t.Errorf("live servers should have zero loss, got %v and %v", statsBy[1].LossRatio, statsBy[2].LossRatio)
	}
	if statsBy[3].LossRatio != 1.0 {
		t.Errorf("dead server loss = %v, want 1.0", statsBy[3].LossRatio)
	}
	if statsBy[1].AvgMs >= statsBy[2].AvgMs {
		t.Errorf("fast server (%v ms) should beat slow server (%v ms)", statsBy[1].AvgMs, statsBy[2].AvgMs)
	}
}

func TestProbeCancelled(t *testing.T) {
	ts := newPingServer(t, 50*time.Millisecond)
	p := New(&transport.TCPDialer{}, Config{Samples: 10, PerSampleTimeout: time.Second}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan models.LatencyStats, 1)
	go func() { done <- p.Probe(ctx, serverFromTS(t, 1, ts)) }()

	select {
	case stats := <-done:
		if stats.Reachable() {
			t.Error("cancelled probe should not report a reachable server")
		}
	case <-time.After(time.Second):
		t.Fatal("Probe did not return promptly after cancellation")
	}
}
