// Package directory fetches the list of candidate measurement servers from
// the external directory endpoint.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"broadband-tester/pkg/models"
)

var (
	// ErrUnavailable indicates a transport-level failure talking to the
	// directory endpoint.
	ErrUnavailable = errors.New("directory unavailable")
	// ErrSchema indicates the endpoint answered but the payload did not
	// match the expected server-list contract.
	ErrSchema = errors.New("directory schema mismatch")
	// ErrEmpty indicates a successful response that carried no servers.
	ErrEmpty = errors.New("directory returned no servers")
)

// DefaultTimeout bounds one directory fetch. The orchestrator decides
// whether to retry; this layer never does.
const DefaultTimeout = 10 * time.Second

type serverJSON struct {
	ID      int64   `json:"id"`
	Host    string  `json:"host"`
	Port    int     `json:"port"`
	Name    string  `json:"name"`
	City    string  `json:"city"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Secure  bool    `json:"secure"`
}

// Client fetches server lists from a single directory URL.
type Client struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:        url,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// FetchServers retrieves the candidate server list. It returns ErrEmpty for
// a well-formed but empty response, which callers must treat differently
// from a transport failure.
func (c *Client) FetchServers(ctx context.Context) ([]models.Server, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var raw []serverJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if len(raw) == 0 {
		return nil, ErrEmpty
	}

	servers := make([]models.Server, 0, len(raw))
	for _, s := range raw {
		if s.Host == "" || s.Port <= 0 {
			return nil, fmt.Errorf("%w: server %d is missing host or port", ErrSchema, s.ID)
		}
		servers = append(servers, models.Server{
			ID:      s.ID,
			Host:    s.Host,
			Port:    s.Port,
			Name:    s.Name,
			City:    s.City,
			Country: s.Country,
			Lat:     s.Lat,
			Lon:     s.Lon,
			Secure:  s.Secure,
		})
	}

	c.logger.Debug("fetched server directory", "url", c.url, "servers", len(servers))
	return servers, nil
}

// WithDistances returns a copy of servers with DistanceKM filled in relative
// to the client coordinates. A zero client position leaves distances at zero
// so selection falls back to latency alone.
func WithDistances(servers []models.Server, lat, lon float64) []models.Server {
	out := make([]models.Server, len(servers))
	copy(out, servers)
	if lat == 0 && lon == 0 {
		return out
	}
	for i := range out {
		out[i].DistanceKM = haversineKM(lat, lon, out[i].Lat, out[i].Lon)
	}
	return out
}

const earthRadiusKM = 6371.0

func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
