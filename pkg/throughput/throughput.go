// Package throughput measures sustained download and upload transfer rates
// against a selected measurement server using multiple concurrent streams.
package throughput

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"golang.org/x/time/rate"

	"broadband-tester/pkg/models"
)

var (
	// ErrConnectionFailed indicates every stream failed before any
	// steady-state bytes were recorded.
	ErrConnectionFailed = errors.New("all measurement streams failed")
	// ErrTransferTimeout indicates the sole stream was still blocked past
	// the hard deadline.
	ErrTransferTimeout = errors.New("measurement stream exceeded hard deadline")
)

const (
	chunkSize    = 32 * 1024
	downloadPath = "/download"
	uploadPath   = "/upload"

	// Bytes requested per download pass. The body only has to outlast the
	// window; a pass that drains early is simply followed by another one.
	downloadRequestBytes = int64(8_000_000_000)

	progressInterval = 200 * time.Millisecond
)

// ProgressFunc receives the smoothed aggregate transfer rate while a
// measurement is running.
type ProgressFunc func(direction models.Direction, mbps float64)

// Config holds the measurement tunables.
type Config struct {
	// Connections is the number of concurrent streams (default 4).
	Connections int
	// Duration is the steady-state measurement window (default 10s).
	Duration time.Duration
	// RampUp is excluded from the window to avoid slow-start skew
	// (default 2s).
	RampUp time.Duration
	// Grace is how far past the window end a blocked stream may run
	// before it is aborted (default 1s).
	Grace time.Duration
	// RateLimitMbps optionally caps the aggregate transfer rate; zero
	// means unlimited.
	RateLimitMbps float64
}

func (c Config) withDefaults() Config {
	if c.Connections <= 0 {
		c.Connections = 4
	}
	if c.Duration <= 0 {
		c.Duration = 10 * time.Second
	}
	if c.RampUp <= 0 {
		c.RampUp = 2 * time.Second
	}
	if c.Grace <= 0 {
		c.Grace = time.Second
	}
	return c
}

// window is the shared measurement timeline, written once before the go
// signal is released.
type window struct {
	steady time.Time // ramp-up over, bytes start counting
	end    time.Time // steady-state window over
	hard   time.Time // blocked streams are aborted here
}

type streamOutcome struct {
	steadyBytes int64
	err         error
	timedOut    bool
}

type byteUpdate struct {
	streamID int
	bytes    int64
}

// Measurer runs multi-stream transfer measurements. Every stream dials its
// own connection through the configured stream dialer and owns that socket
// until it finishes, fails or is cancelled.
type Measurer struct {
	dialer   transport.StreamDialer
	cfg      Config
	logger   *slog.Logger
	progress ProgressFunc
}

func New(dialer transport.StreamDialer, cfg Config, logger *slog.Logger) *Measurer {
	return &Measurer{dialer: dialer, cfg: cfg.withDefaults(), logger: logger}
}

// OnProgress registers a callback for live rate reporting. Must be called
// before Measure.
func (m *Measurer) OnProgress(fn ProgressFunc) {
	m.progress = fn
}

// Measure transfers data in the given direction over the configured number
// of concurrent streams. All streams start from a common go signal; only
// bytes inside the shared steady-state window count, and the aggregate rate
// is computed once over that window rather than averaged per stream. A
// stream failing mid-measurement keeps its partial byte count.
func (m *Measurer) Measure(ctx context.Context, server models.Server, direction models.Direction) (models.ThroughputResult, error) {
	if direction != models.DirectionDownload && direction != models.DirectionUpload {
		return models.ThroughputResult{}, fmt.Errorf("unknown direction %q", direction)
	}

	streams := m.cfg.Connections
	start := make(chan struct{})
	outcomes := make(chan streamOutcome, streams)
	updates := make(chan byteUpdate, streams*4)

	var limiter *rate.Limiter
	if m.cfg.RateLimitMbps > 0 {
		bps := m.cfg.RateLimitMbps * 1_000_000 / 8
		limiter = rate.NewLimiter(rate.Limit(bps), int(bps))
	}

	// Workers block on the start channel; the window is written before the
	// channel is closed, so the close is the barrier that publishes it.
	var w window
	for i := 0; i < streams; i++ {
		go m.runStream(ctx, i, server, direction, start, &w, limiter, updates, outcomes)
	}
	now := time.Now()
	w = window{
		steady: now.Add(m.cfg.RampUp),
		end:    now.Add(m.cfg.RampUp + m.cfg.Duration),
		hard:   now.Add(m.cfg.RampUp + m.cfg.Duration + m.cfg.Grace),
	}
	close(start)

	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		m.collectProgress(direction, updates)
	}()

	var (
		totalBytes int64
		failures   int
		timeouts   int
		firstErr   error
	)
	for i := 0; i < streams; i++ {
		o := <-outcomes
		totalBytes += o.steadyBytes
		if o.timedOut {
			timeouts++
			m.logger.Warn("stream exceeded hard deadline", "direction", direction)
		}
		if o.err != nil {
			failures++
			if firstErr == nil {
				firstErr = o.err
			}
			m.logger.Debug("stream ended with error", "direction", direction, "error", o.err)
		}
	}
	close(updates)
	<-collectorDone

	if err := ctx.Err(); err != nil {
		return models.ThroughputResult{}, err
	}
	if streams == 1 && timeouts == 1 {
		return models.ThroughputResult{}, ErrTransferTimeout
	}
	if totalBytes == 0 && failures == streams {
		return models.ThroughputResult{}, fmt.Errorf("%w: %v", ErrConnectionFailed, firstErr)
	}

	elapsed := m.cfg.Duration.Seconds()
	result := models.ThroughputResult{
		Direction:      direction,
		Bytes:          totalBytes,
		ElapsedSeconds: elapsed,
		Mbps:           models.Mbps(totalBytes, elapsed),
	}
	m.logger.Debug("measurement complete",
		"direction", direction,
		"bytes", totalBytes,
		"mbps", result.Mbps,
		"failedStreams", failures)
	return result, nil
}

func (m *Measurer) runStream(ctx context.Context, id int, server models.Server, direction models.Direction, start <-chan struct{}, w *window, limiter *rate.Limiter, updates chan<- byteUpdate, outcomes chan<- streamOutcome) {
	select {
	case <-start:
	case <-ctx.Done():
		outcomes <- streamOutcome{err: ctx.Err()}
		return
	}

	ctx, cancel := context.WithDeadline(ctx, w.hard)
	defer cancel()

	// One client per stream keeps the socket owned by this worker.
	httpClient := &http.Client{
		Transport: &http.Transport{DialContext: m.dialContext()},
	}
	defer httpClient.CloseIdleConnections()

	st := &streamState{id: id, w: w, limiter: limiter, updates: updates}

	var err error
	for err == nil && time.Now().Before(w.end) {
		if direction == models.DirectionDownload {
			err = m.downloadPass(ctx, httpClient, server, st)
		} else {
			err = m.uploadPass(ctx, httpClient, server, st)
		}
	}

	outcomes <- streamOutcome{
		steadyBytes: st.steadyBytes(),
		err:         classifyStreamErr(err, w),
		timedOut:    errors.Is(err, context.DeadlineExceeded),
	}
}

// classifyStreamErr drops errors that only mean the window is over.
func classifyStreamErr(err error, w *window) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if time.Now().After(w.end) {
		return nil
	}
	return err
}

// downloadPass issues one request and reads its body in fixed-size chunks
// until the window ends or the body drains. A drained body returns nil so
// the caller starts another pass.
func (m *Measurer) downloadPass(ctx context.Context, httpClient *http.Client, server models.Server, st *streamState) error {
	url := fmt.Sprintf("%s%s?bytes=%d", server.BaseURL(), downloadPath, downloadRequestBytes)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download got status %d", resp.StatusCode)
	}

	buf := make([]byte, chunkSize)
	for {
		if done, err := st.beforeChunk(ctx); done || err != nil {
			return err
		}
		n, err := resp.Body.Read(buf)
		st.account(n)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// uploadPass streams generated bytes to the server for the remainder of the
// window. The response is awaited so the worker joins the request goroutine
// before reporting its outcome.
func (m *Measurer) uploadPass(ctx context.Context, httpClient *http.Client, server models.Server, st *streamState) error {
	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.BaseURL()+uploadPath, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = -1

	respErr := make(chan error, 1)
	go func() {
		resp, err := httpClient.Do(req)
		if err != nil {
			respErr <- err
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			respErr <- fmt.Errorf("upload got status %d", resp.StatusCode)
			return
		}
		respErr <- nil
	}()

	chunk := generatedChunk()
	var writeErr error
	for {
		var done bool
		if done, writeErr = st.beforeChunk(ctx); done || writeErr != nil {
			break
		}
		var n int
		n, writeErr = pw.Write(chunk)
		st.account(n)
		if writeErr != nil {
			break
		}
	}
	pw.Close()

	if err := <-respErr; err != nil {
		return err
	}
	if writeErr != nil && writeErr != io.ErrClosedPipe {
		return writeErr
	}
	return nil
}

func (m *Measurer) collectProgress(direction models.Direction, updates <-chan byteUpdate) {
	if m.progress == nil {
		for range updates {
		}
		return
	}
	reporter := newRateReporter()
	for u := range updates {
		if mbps, ok := reporter.observe(u); ok {
			m.progress(direction, mbps)
		}
	}
}

func (m *Measurer) dialContext() func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !strings.HasPrefix(network, "tcp") {
			return nil, fmt.Errorf("protocol not supported: %v", network)
		}
		return m.dialer.DialStream(ctx, addr)
	}
}
