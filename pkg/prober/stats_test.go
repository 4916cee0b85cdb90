package prober

import (
	"math"
	"testing"
	"time"

	"broadband-tester/pkg/models"
)

func sample(ms float64, ok bool) models.ProbeSample {
	return models.ProbeSample{RTT: time.Duration(ms * float64(time.Millisecond)), OK: ok}
}

func TestComputeStatsLossRatio(t *testing.T) {
	tests := []struct {
		name     string
		samples  []models.ProbeSample
		wantLoss float64
	}{
		{
			name:     "no failures",
			samples:  []models.ProbeSample{sample(10, true), sample(11, true), sample(12, true)},
			wantLoss: 0,
		},
		{
			name:     "one of four failed",
			samples:  []models.ProbeSample{sample(10, true), sample(0, false), sample(12, true), sample(14, true)},
			wantLoss: 0.25,
		},
		{
			name:     "three of five failed",
			samples:  []models.ProbeSample{sample(0, false), sample(10, true), sample(0, false), sample(0, false), sample(12, true)},
			wantLoss: 0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeStats(tt.samples)
			if got.LossRatio != tt.wantLoss {
				t.Errorf("LossRatio = %v, want exactly %v", got.LossRatio, tt.wantLoss)
			}
		})
	}
}

func TestComputeStatsAllFailed(t *testing.T) {
	samples := []models.ProbeSample{sample(0, false), sample(0, false), sample(0, false)}
	got := ComputeStats(samples)

	if got.LossRatio != 1.0 {
		t.Errorf("LossRatio = %v, want 1.0", got.LossRatio)
	}
	for name, v := range map[string]float64{
		"MinMs":    got.MinMs,
		"AvgMs":    got.AvgMs,
		"MaxMs":    got.MaxMs,
		"JitterMs": got.JitterMs,
	} {
		if !math.IsNaN(v) {
			t.Errorf("%s = %v, want NaN sentinel", name, v)
		}
	}
	if got.Reachable() {
		t.Error("all-failed stats must not be reachable")
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	got := ComputeStats(nil)
	if got.LossRatio != 1.0 || !math.IsNaN(got.AvgMs) {
		t.Errorf("empty sequence should behave like all-failed, got %+v", got)
	}
}

func TestComputeStatsTimings(t *testing.T) {
	// Successes 10, 14, 12 with a failure in between: jitter is the mean
	// absolute difference of consecutive successes: (|14-10| + |12-14|)/2 = 3.
	samples := []models.ProbeSample{
		sample(10, true),
		sample(0, false),
		sample(14, true),
		sample(12, true),
	}
	got := ComputeStats(samples)

	if got.MinMs != 10 || got.MaxMs != 14 {
		t.Errorf("min/max = %v/%v, want 10/14", got.MinMs, got.MaxMs)
	}
	if math.Abs(got.AvgMs-12) > 1e-9 {
		t.Errorf("AvgMs = %v, want 12", got.AvgMs)
	}
	if math.Abs(got.JitterMs-3) > 1e-9 {
		t.Errorf("JitterMs = %v, want 3", got.JitterMs)
	}
	if got.LossRatio != 0.25 {
		t.Errorf("LossRatio = %v, want 0.25", got.LossRatio)
	}
}

func TestComputeStatsSingleSuccess(t *testing.T) {
	got := ComputeStats([]models.ProbeSample{sample(20, true), sample(0, false)})
	if got.JitterMs != 0 {
		t.Errorf("JitterMs = %v, want 0 for a single success", got.JitterMs)
	}
	if got.MinMs != 20 || got.AvgMs != 20 || got.MaxMs != 20 {
		t.Errorf("timings = %v/%v/%v, want 20/20/20", got.MinMs, got.AvgMs, got.MaxMs)
	}
}
