// Package selector ranks probed candidate servers and picks the best
// reachable one.
package selector

import (
	"errors"
	"sort"

	"broadband-tester/pkg/models"
)

// ErrNoReachableServer indicates every candidate lost all of its probes.
var ErrNoReachableServer = errors.New("no reachable measurement server")

// Select returns the best server among the candidates. Only servers with at
// least one successful probe sample are eligible. Ranking is ascending loss
// ratio, then ascending average latency, then ascending distance; the order
// is stable so repeated calls with identical input return the same server.
func Select(servers []models.Server, statsBy map[int64]models.LatencyStats) (models.Server, error) {
	eligible := make([]models.Server, 0, len(servers))
	for _, server := range servers {
		if statsBy[server.ID].Reachable() {
			eligible = append(eligible, server)
		}
	}
	if len(eligible) == 0 {
		return models.Server{}, ErrNoReachableServer
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := statsBy[eligible[i].ID], statsBy[eligible[j].ID]
		if a.LossRatio != b.LossRatio {
			return a.LossRatio < b.LossRatio
		}
		if a.AvgMs != b.AvgMs {
			return a.AvgMs < b.AvgMs
		}
		return eligible[i].DistanceKM < eligible[j].DistanceKM
	})

	return eligible[0], nil
}
