package models

import (
	"math"
	"testing"
)

func TestMbps(t *testing.T) {
	tests := []struct {
		name    string
		bytes   int64
		seconds float64
		want    float64
	}{
		{
			name:    "100 Mbps reference",
			bytes:   125_000_000,
			seconds: 10.0,
			want:    100.0,
		},
		{
			name:    "1 MB in one second",
			bytes:   1_000_000,
			seconds: 1.0,
			want:    8.0,
		},
		{
			name:    "zero window",
			bytes:   1_000_000,
			seconds: 0,
			want:    0,
		},
		{
			name:    "zero bytes",
			bytes:   0,
			seconds: 10.0,
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Mbps(tt.bytes, tt.seconds)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("Mbps(%d, %v) = %v, want %v", tt.bytes, tt.seconds, got, tt.want)
			}
		})
	}
}

func TestServerBaseURL(t *testing.T) {
	tests := []struct {
		name   string
		server Server
		want   string
	}{
		{
			name:   "secure server",
			server: Server{Host: "speed1.example.net", Port: 8080, Secure: true},
			want:   "https://speed1.example.net:8080",
		},
		{
			name:   "plain server",
			server: Server{Host: "127.0.0.1", Port: 9000, Secure: false},
			want:   "http://127.0.0.1:9000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.server.BaseURL(); got != tt.want {
				t.Errorf("BaseURL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLatencyStatsReachable(t *testing.T) {
	nan := math.NaN()

	reachable := LatencyStats{MinMs: 10, AvgMs: 12, MaxMs: 15, JitterMs: 1, LossRatio: 0.2}
	if !reachable.Reachable() {
		t.Error("stats with successful samples should be reachable")
	}

	lost := LatencyStats{MinMs: nan, AvgMs: nan, MaxMs: nan, JitterMs: nan, LossRatio: 1.0}
	if lost.Reachable() {
		t.Error("all-failed stats must not be reachable")
	}
}
