package prober

import (
	"math"

	"broadband-tester/pkg/models"
)

// ComputeStats reduces an ordered sequence of probe samples for one server
// to latency statistics. Jitter is the mean absolute difference between
// consecutive successful round-trip times; the loss ratio is failed/total.
// With no successful sample the timing fields are NaN, never zero.
func ComputeStats(samples []models.ProbeSample) models.LatencyStats {
	nan := math.NaN()
	if len(samples) == 0 {
		return models.LatencyStats{MinMs: nan, AvgMs: nan, MaxMs: nan, JitterMs: nan, LossRatio: 1.0}
	}

	rtts := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.OK {
			rtts = append(rtts, float64(s.RTT.Nanoseconds())/1e6)
		}
	}

	loss := float64(len(samples)-len(rtts)) / float64(len(samples))
	if len(rtts) == 0 {
		return models.LatencyStats{MinMs: nan, AvgMs: nan, MaxMs: nan, JitterMs: nan, LossRatio: 1.0}
	}

	min, max, sum := rtts[0], rtts[0], 0.0
	for _, v := range rtts {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}

	// A single successful sample carries no variation information.
	jitter := 0.0
	if len(rtts) > 1 {
		var diffSum float64
		for i := 1; i < len(rtts); i++ {
			diffSum += math.Abs(rtts[i] - rtts[i-1])
		}
		jitter = diffSum / float64(len(rtts)-1)
	}

	return models.LatencyStats{
		MinMs:     min,
		AvgMs:     sum / float64(len(rtts)),
		MaxMs:     max,
		JitterMs:  jitter,
		LossRatio: loss,
	}
}
