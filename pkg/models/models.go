package models

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"time"
)

// Server is one candidate measurement server from the directory.
// It is immutable once fetched.
type Server struct {
	ID         int64   `json:"id"`
	Host       string  `json:"host"`
	Port       int     `json:"port"`
	Name       string  `json:"name"`
	City       string  `json:"city,omitempty"`
	Country    string  `json:"country"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	DistanceKM float64 `json:"distance_km"`
	Secure     bool    `json:"secure"`
}

// BaseURL returns the root URL for talking to the server. Secure servers
// are addressed over HTTPS, which is the default transport mode.
func (s Server) BaseURL() string {
	scheme := "https"
	if !s.Secure {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(s.Host, strconv.Itoa(s.Port)))
}

// ProbeSample is the outcome of a single round-trip probe to a server.
type ProbeSample struct {
	ServerID int64
	RTT      time.Duration
	OK       bool
}

// LatencyStats summarizes a sequence of probe samples for one server.
// When every sample failed, LossRatio is 1.0 and the timing fields are
// NaN so they can never be mistaken for a real zero-latency result.
type LatencyStats struct {
	MinMs     float64 `json:"min_ms"`
	AvgMs     float64 `json:"avg_ms"`
	MaxMs     float64 `json:"max_ms"`
	JitterMs  float64 `json:"jitter_ms"`
	LossRatio float64 `json:"loss_ratio"`
}

// Reachable reports whether the stats contain at least one successful
// round trip.
func (l LatencyStats) Reachable() bool {
	return l.LossRatio < 1.0 && !math.IsNaN(l.AvgMs)
}

// Direction identifies which way bytes flow during a throughput measurement.
type Direction string

const (
	DirectionDownload Direction = "download"
	DirectionUpload   Direction = "upload"
)

// ThroughputResult is the outcome of one multi-stream transfer measurement.
type ThroughputResult struct {
	Direction      Direction `json:"direction"`
	Bytes          int64     `json:"bytes_transferred"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Mbps           float64   `json:"mbps"`
}

// Mbps converts an aggregate byte count over a shared window into megabits
// per second.
func Mbps(bytes int64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(bytes) * 8 / (seconds * 1_000_000)
}

// ClientInfo identifies the measuring client as seen from the outside.
// The engine treats all fields as opaque strings; the coordinates are only
// used to compute server distances.
type ClientInfo struct {
	IP      string  `json:"ip"`
	ISP     string  `json:"isp"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
}

// MeasurementResult is the sole output artifact of one full run. It is
// created exactly once per run and never mutated afterwards.
type MeasurementResult struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Server    Server           `json:"server"`
	Latency   LatencyStats     `json:"latency"`
	Download  ThroughputResult `json:"download"`
	Upload    ThroughputResult `json:"upload"`
	Client    ClientInfo       `json:"client"`
}
