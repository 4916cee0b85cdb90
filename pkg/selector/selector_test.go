package selector

import (
	"errors"
	"math"
	"testing"

	"broadband-tester/pkg/models"
)

func stats(loss, avg float64) models.LatencyStats {
	return models.LatencyStats{MinMs: avg, AvgMs: avg, MaxMs: avg, LossRatio: loss}
}

func lostStats() models.LatencyStats {
	nan := math.NaN()
	return models.LatencyStats{MinMs: nan, AvgMs: nan, MaxMs: nan, JitterMs: nan, LossRatio: 1.0}
}

func TestSelectRanking(t *testing.T) {
	tests := []struct {
		name    string
		servers []models.Server
		statsBy map[int64]models.LatencyStats
		wantID  int64
		wantErr error
	}{
		{
			name: "lowest loss wins over lower latency",
			servers: []models.Server{
				{ID: 1, Host: "a"},
				{ID: 2, Host: "b"},
			},
			statsBy: map[int64]models.LatencyStats{
				1: stats(0.2, 5),
				2: stats(0.0, 50),
			},
			wantID: 2,
		},
		{
			name: "lowest average latency among zero-loss candidates",
			servers: []models.Server{
				{ID: 1, Host: "a"},
				{ID: 2, Host: "b"},
				{ID: 3, Host: "c"},
			},
			statsBy: map[int64]models.LatencyStats{
				1: stats(0, 20),
				2: stats(0, 15),
				3: lostStats(),
			},
			wantID: 2,
		},
		{
			name: "distance breaks latency ties",
			servers: []models.Server{
				{ID: 1, Host: "a", DistanceKM: 800},
				{ID: 2, Host: "b", DistanceKM: 50},
			},
			statsBy: map[int64]models.LatencyStats{
				1: stats(0, 10),
				2: stats(0, 10),
			},
			wantID: 2,
		},
		{
			name: "unreachable candidates are ineligible",
			servers: []models.Server{
				{ID: 1, Host: "a"},
				{ID: 2, Host: "b"},
			},
			statsBy: map[int64]models.LatencyStats{
				1: lostStats(),
				2: lostStats(),
			},
			wantErr: ErrNoReachableServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(tt.servers, tt.statsBy)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Select() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if got.ID != tt.wantID {
				t.Errorf("Select() = server %d, want %d", got.ID, tt.wantID)
			}
		})
	}
}

func TestSelectDeterministic(t *testing.T) {
	servers := []models.Server{
		{ID: 1, Host: "a", DistanceKM: 100},
		{ID: 2, Host: "b", DistanceKM: 100},
		{ID: 3, Host: "c", DistanceKM: 100},
	}
	statsBy := map[int64]models.LatencyStats{
		1: stats(0, 10),
		2: stats(0, 10),
		3: stats(0, 10),
	}

	first, err := Select(servers, statsBy)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	for i := 0; i < 50; i++ {
		got, err := Select(servers, statsBy)
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if got.ID != first.ID {
			t.Fatalf("Select() not deterministic: got %d then %d", first.ID, got.ID)
		}
	}
}

func TestSelectDoesNotMutateInput(t *testing.T) {
	servers := []models.Server{
		{ID: 1, Host: "a"},
		{ID: 2, Host: "b"},
	}
	statsBy := map[int64]models.LatencyStats{
		1: stats(0, 30),
		2: stats(0, 10),
	}

	if _, err := Select(servers, statsBy); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if servers[0].ID != 1 || servers[1].ID != 2 {
		t.Error("Select() must not reorder the caller's slice")
	}
}
