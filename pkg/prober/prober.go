// Package prober measures round-trip latency, jitter and packet loss against
// candidate measurement servers using lightweight HTTP round trips.
package prober

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"

	"broadband-tester/pkg/models"
)

const probePath = "/ping"

// Config holds the probing tunables.
type Config struct {
	// Samples is the number of round trips per server, clamped to 3..10.
	Samples int
	// PerSampleTimeout bounds one round trip.
	PerSampleTimeout time.Duration
	// Concurrency is the number of servers probed at once.
	Concurrency int
}

// Prober sends round-trip probes to candidate servers. Multiple servers are
// probed concurrently through a bounded worker pool so total selection time
// stays bounded regardless of candidate count.
type Prober struct {
	dialer      transport.StreamDialer
	samples     int
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
}

func New(dialer transport.StreamDialer, cfg Config, logger *slog.Logger) *Prober {
	samples := cfg.Samples
	if samples < 3 {
		samples = 5
	}
	if samples > 10 {
		samples = 10
	}
	timeout := cfg.PerSampleTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Prober{
		dialer:      dialer,
		samples:     samples,
		timeout:     timeout,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Probe sends the configured number of independent round trips to one server.
// A failed round trip is folded into the statistics and never aborts the
// remaining samples.
func (p *Prober) Probe(ctx context.Context, server models.Server) models.LatencyStats {
	httpClient := &http.Client{
		Transport: &http.Transport{DialContext: p.dialContext()},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	defer httpClient.CloseIdleConnections()

	url := server.BaseURL() + probePath

	// Warm up the connection so the handshake cost lands outside the
	// measured samples. A warm-up failure is not a recorded loss.
	p.roundTrip(ctx, httpClient, url)

	samples := make([]models.ProbeSample, 0, p.samples)
	for i := 0; i < p.samples; i++ {
		if ctx.Err() != nil {
			break
		}
		rtt, err := p.roundTrip(ctx, httpClient, url)
		sample := models.ProbeSample{ServerID: server.ID, RTT: rtt, OK: err == nil}
		samples = append(samples, sample)
	}

	return ComputeStats(samples)
}

func (p *Prober) roundTrip(ctx context.Context, httpClient *http.Client, url string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("probe got status %d", resp.StatusCode)
	}
	return time.Since(start), nil
}

// ProbeAll probes every server through the worker pool and returns the
// statistics keyed by server ID. Workers pass completed stats back over a
// channel; nothing mutable is shared across them.
func (p *Prober) ProbeAll(ctx context.Context, servers []models.Server) map[int64]models.LatencyStats {
	type probeResult struct {
		serverID int64
		stats    models.LatencyStats
	}

	jobs := make(chan models.Server, len(servers))
	results := make(chan probeResult, len(servers))

	workers := p.concurrency
	if workers > len(servers) {
		workers = len(servers)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for server := range jobs {
				results <- probeResult{server.ID, p.Probe(ctx, server)}
			}
		}()
	}

	for _, server := range servers {
		jobs <- server
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	statsBy := make(map[int64]models.LatencyStats, len(servers))
	for r := range results {
		statsBy[r.serverID] = r.stats
		p.logger.Debug("probed server",
			"serverID", r.serverID,
			"avgMs", r.stats.AvgMs,
			"jitterMs", r.stats.JitterMs,
			"loss", r.stats.LossRatio)
	}
	return statsBy
}

func (p *Prober) dialContext() func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !strings.HasPrefix(network, "tcp") {
			return nil, fmt.Errorf("protocol not supported: %v", network)
		}
		return p.dialer.DialStream(ctx, addr)
	}
}
