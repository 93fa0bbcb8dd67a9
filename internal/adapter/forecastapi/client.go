// Package forecastapi talks to the external chemical-transport forecast
// collaborator, which serves per-pollutant hourly concentration
// trajectories for a location.
package forecastapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
	"github.com/couchcryptid/aqi-fusion-service/internal/forecast"
)

// Client implements forecast.TrajectoryProvider over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a trajectory client for the given API base URL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		logger:  logger,
	}
}

// Trajectory fetches the model's hourly concentration forecast for a
// location out to horizonHours.
func (c *Client) Trajectory(ctx context.Context, loc domain.Location, horizonHours int) ([]forecast.TrajectoryPoint, error) {
	params := url.Values{
		"lat":   {strconv.FormatFloat(loc.Lat, 'f', 4, 64)},
		"lon":   {strconv.FormatFloat(loc.Lon, 'f', 4, 64)},
		"hours": {strconv.Itoa(horizonHours)},
	}
	fullURL := c.baseURL + "/trajectory?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trajectory request for %s: %w", loc.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("forecast API error: status %d: %s", resp.StatusCode, body)
	}

	var apiResp response
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	points := make([]forecast.TrajectoryPoint, 0, len(apiResp.Hours))
	for _, h := range apiResp.Hours {
		concentrations := make(map[domain.Pollutant]float64, len(h.Concentrations))
		for name, value := range h.Concentrations {
			p, ok := domain.NormalizePollutant(name)
			if !ok {
				c.logger.Warn("unknown pollutant in trajectory", "pollutant", name)
				continue
			}
			concentrations[p] = value
		}
		points = append(points, forecast.TrajectoryPoint{
			TargetHour:     h.Hour,
			Concentrations: concentrations,
		})
	}
	return points, nil
}

// Forecast API response types.

type response struct {
	Hours []hourEntry `json:"hours"`
}

type hourEntry struct {
	Hour           int                `json:"hour"`
	Concentrations map[string]float64 `json:"concentrations"`
}
