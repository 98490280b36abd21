// Package traffic implements the AZ 511 data source client. It fetches the
// statewide event feed, maps raw records to incidents, and filters them by
// category and region.
package traffic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/desertmesh/meshtraffic/internal/config"
	"github.com/desertmesh/meshtraffic/internal/resilience"
)

// ErrSource marks any failure to fetch or decode the upstream feed. Callers
// turn it into a user-visible "query failed" reply rather than crashing.
var ErrSource = errors.New("traffic source unavailable")

// lastUpdatedLayout matches AZ 511 timestamps such as
// "2025-12-11 14:30:00 MST". The zone abbreviation is dropped and the value
// interpreted in the region's local time.
const lastUpdatedLayout = "2006-01-02 15:04:05"

// Source is the narrow interface the query engine consumes.
type Source interface {
	Fetch(ctx context.Context, category Category, region string) ([]Incident, error)
}

// Client talks to the AZ 511 API over HTTP with retry and circuit breaking.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
	retryCfg   resilience.RetryConfig
	loc        *time.Location
	log        *slog.Logger
}

// NewClient creates an AZ 511 client from configuration. Incident timestamps
// are interpreted in America/Phoenix, the region the feed covers.
func NewClient(cfg config.TrafficConfig, log *slog.Logger) (*Client, error) {
	loc, err := time.LoadLocation("America/Phoenix")
	if err != nil {
		return nil, fmt.Errorf("failed to load region time zone: %w", err)
	}

	clientLog := log.With("component", "traffic_client")
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:    "az511",
			Timeout: cfg.Timeout,
		}, clientLog),
		retryCfg: resilience.DefaultRetryConfig(),
		loc:      loc,
		log:      clientLog,
	}, nil
}

// Fetch returns incidents for the given category, filtered to the region.
// An empty region or the literal "all" disables region filtering. A region
// with no matches yields an empty slice, not an error.
func (c *Client) Fetch(ctx context.Context, category Category, region string) ([]Incident, error) {
	var raw []rawEvent
	op := func(ctx context.Context) error {
		var opErr error
		raw, opErr = c.fetchEvents(ctx)
		return opErr
	}

	if err := resilience.WithRetry(ctx, c.log, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, op)
	}, c.retryCfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSource, err)
	}

	incidents := c.mapAndFilter(raw, category, region)
	c.log.DebugContext(ctx, "Fetched incidents",
		"category", string(category), "region", region,
		"total", len(raw), "matched", len(incidents))
	return incidents, nil
}

func (c *Client) fetchEvents(ctx context.Context) ([]rawEvent, error) {
	url := c.baseURL + "/events?format=json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, fmt.Errorf("unexpected status %d from events endpoint", resp.StatusCode)
	}

	var events []rawEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("failed to decode events payload: %w", err)
	}
	return events, nil
}

// mapAndFilter converts raw records to incidents, applies the category and
// region filters, and drops duplicate records. The feed repeats an event once
// per direction segment; the dedup key matches the original integration.
func (c *Client) mapAndFilter(events []rawEvent, category Category, region string) []Incident {
	filter := strings.ToLower(strings.TrimSpace(region))
	if filter == "all" {
		filter = ""
	}

	seen := make(map[string]struct{}, len(events))
	incidents := make([]Incident, 0, len(events))

	for _, ev := range events {
		isAccident := strings.Contains(strings.ToLower(ev.EventType), "accident")
		if (category == CategoryAccidents) != isAccident {
			continue
		}

		if filter != "" && !matchesRegion(ev, filter) {
			continue
		}

		key := ev.RoadwayName + "|" + ev.DirectionOfTravel + "|" + ev.Location + "|" + ev.LastUpdated
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		incidents = append(incidents, Incident{
			EventType:   ev.EventType,
			Description: ev.Description,
			Roadway:     ev.RoadwayName,
			Direction:   ev.DirectionOfTravel,
			Lanes:       ev.LanesAffected,
			CrossStreet: ev.Location,
			Status:      ev.EventStatus,
			Latitude:    ev.Latitude,
			Longitude:   ev.Longitude,
			ReportedAt:  c.parseLastUpdated(ev.LastUpdated),
		})
	}

	return incidents
}

func matchesRegion(ev rawEvent, filter string) bool {
	for _, field := range []string{ev.RoadwayName, ev.Location, ev.Description} {
		if strings.Contains(strings.ToLower(field), filter) {
			return true
		}
	}
	return false
}

// parseLastUpdated parses the feed's "2006-01-02 15:04:05 MST" form. The
// trailing zone abbreviation is discarded; the timestamp is local to the
// region. A zero time is returned for unparseable values.
func (c *Client) parseLastUpdated(s string) time.Time {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return time.Time{}
	}
	if len(fields) > 2 {
		fields = fields[:2]
	}

	t, err := time.ParseInLocation(lastUpdatedLayout, strings.Join(fields, " "), c.loc)
	if err != nil {
		c.log.Warn("Failed to parse incident timestamp", "value", s, "error", err)
		return time.Time{}
	}
	return t
}
