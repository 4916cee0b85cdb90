// Package ipinfo looks up the identity of the measuring client (public IP,
// ISP, country, coordinates) from the ipinfo.io API.
package ipinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"broadband-tester/pkg/models"
)

const defaultTimeout = 5 * time.Second

type response struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Loc      string `json:"loc"`
	Org      string `json:"org"`
	Timezone string `json:"timezone"`
}

// Client queries a single ipinfo-compatible endpoint.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://ipinfo.io"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Lookup returns the caller's own identity. The engine treats the result as
// opaque strings; a failed lookup degrades the run, it never fails it.
func (c *Client) Lookup(ctx context.Context) (models.ClientInfo, error) {
	url := c.baseURL + "/json"
	if c.token != "" {
		url = fmt.Sprintf("%s?token=%s", url, c.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.ClientInfo{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.ClientInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.ClientInfo{}, fmt.Errorf("identity lookup failed with status %d", resp.StatusCode)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return models.ClientInfo{}, err
	}

	info := models.ClientInfo{
		IP:      r.IP,
		ISP:     ispFromOrg(r.Org),
		Country: r.Country,
	}
	info.Lat, info.Lon = parseLoc(r.Loc)
	return info, nil
}

// ispFromOrg strips the leading AS number from an "AS1234 Example Net" org
// string, keeping the organization name as the ISP.
func ispFromOrg(org string) string {
	parts := strings.SplitN(org, " ", 2)
	if len(parts) == 2 && strings.HasPrefix(parts[0], "AS") {
		return parts[1]
	}
	return org
}

func parseLoc(loc string) (lat, lon float64) {
	parts := strings.Split(loc, ",")
	if len(parts) != 2 {
		return 0, 0
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return lat, lon
}
