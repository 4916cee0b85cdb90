package throughput

import (
	"context"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"golang.org/x/time/rate"
)

// streamState is the worker-local byte accounting for one stream. It is
// only touched by the goroutine that owns the stream; completed counts leave
// it exclusively through the updates channel and the final outcome.
type streamState struct {
	id      int
	w       *window
	limiter *rate.Limiter
	updates chan<- byteUpdate

	total      int64
	preSteady  int64
	marked     bool
	lastUpdate time.Time
}

// beforeChunk runs between chunk transfers. It reports done once the steady
// window has ended and snapshots the byte count at the ramp-up boundary.
func (s *streamState) beforeChunk(ctx context.Context) (bool, error) {
	now := time.Now()
	if !now.Before(s.w.end) {
		return true, nil
	}
	if !s.marked && !now.Before(s.w.steady) {
		s.preSteady = s.total
		s.marked = true
	}
	if s.limiter != nil {
		if err := s.limiter.WaitN(ctx, chunkSize); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (s *streamState) account(n int) {
	if n <= 0 {
		return
	}
	s.total += int64(n)
	now := time.Now()
	if now.Sub(s.lastUpdate) < progressInterval {
		return
	}
	s.lastUpdate = now
	// Progress is best-effort; never block the transfer on it.
	select {
	case s.updates <- byteUpdate{streamID: s.id, bytes: s.total}:
	default:
	}
}

// steadyBytes returns the bytes transferred inside the steady-state window.
// A stream that never reached the window contributes nothing.
func (s *streamState) steadyBytes() int64 {
	if !s.marked {
		return 0
	}
	return s.total - s.preSteady
}

var (
	uploadChunkOnce sync.Once
	uploadChunk     []byte
)

// generatedChunk returns the shared random upload payload. Random bytes keep
// compressing middleboxes from inflating the measured rate.
func generatedChunk() []byte {
	uploadChunkOnce.Do(func() {
		uploadChunk = make([]byte, chunkSize)
		rng := mrand.New(mrand.NewSource(time.Now().UnixNano()))
		rng.Read(uploadChunk)
	})
	return uploadChunk
}

// rateReporter folds per-stream byte snapshots into one smoothed aggregate
// rate for live display.
type rateReporter struct {
	totals   map[int]int64
	avg      ewma.MovingAverage
	lastSum  int64
	lastTime time.Time
}

func newRateReporter() *rateReporter {
	return &rateReporter{
		totals:   make(map[int]int64),
		avg:      ewma.NewMovingAverage(),
		lastTime: time.Now(),
	}
}

func (r *rateReporter) observe(u byteUpdate) (float64, bool) {
	r.totals[u.streamID] = u.bytes
	var sum int64
	for _, b := range r.totals {
		sum += b
	}
	now := time.Now()
	dt := now.Sub(r.lastTime).Seconds()
	if dt < progressInterval.Seconds() {
		return 0, false
	}
	r.avg.Add(float64(sum-r.lastSum) * 8 / (dt * 1_000_000))
	r.lastSum, r.lastTime = sum, now
	return r.avg.Value(), true
}
