// Package geocode resolves coordinates to human-readable addresses through
// the Nominatim reverse-geocoding API. Lookups are rate limited to one
// request per second per the service's usage policy, and results are cached
// for the process lifetime keyed by rounded coordinates.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/desertmesh/meshtraffic/internal/config"
)

// ErrGeocode marks a failed reverse lookup. Callers fall back to raw
// coordinate text instead of failing the response.
var ErrGeocode = errors.New("reverse geocoding failed")

// Resolver is the narrow interface the response formatter consumes.
type Resolver interface {
	Resolve(ctx context.Context, lat, lon float64) (string, error)
}

// Client is a caching, rate-limited Nominatim client. The cache is
// append-only: entries are never updated or evicted while the process runs.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewClient creates a reverse-geocoding client from configuration.
func NewClient(cfg config.GeocoderConfig, log *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		log:        log.With("component", "geocoder"),
		cache:      make(map[string]string),
	}
}

// Resolve returns a display address for the coordinates. The cache is
// consulted before the limiter so repeated lookups never touch the network.
func (c *Client) Resolve(ctx context.Context, lat, lon float64) (string, error) {
	key := cacheKey(lat, lon)

	c.mu.RLock()
	addr, hit := c.cache[key]
	c.mu.RUnlock()
	if hit {
		return addr, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeocode, err)
	}

	addr, err := c.reverse(ctx, lat, lon)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeocode, err)
	}

	c.mu.Lock()
	c.cache[key] = addr
	c.mu.Unlock()

	c.log.DebugContext(ctx, "Resolved coordinates", "lat", lat, "lon", lon, "address", addr)
	return addr, nil
}

func (c *Client) reverse(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lon))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return "", fmt.Errorf("unexpected status %d from reverse endpoint", resp.StatusCode)
	}

	var payload struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if payload.DisplayName == "" {
		return "", errors.New("empty display name in response")
	}
	return payload.DisplayName, nil
}

// cacheKey rounds to 4 decimal places (roughly 11m), bounding the key space
// for incidents reported at nearly identical positions.
func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}

// CoordinateText is the fallback representation used when a lookup fails.
func CoordinateText(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}
