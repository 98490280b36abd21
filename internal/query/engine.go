// Package query resolves parsed commands into incident sets from the
// traffic data source.
package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/desertmesh/meshtraffic/internal/command"
	"github.com/desertmesh/meshtraffic/internal/traffic"
)

// Engine answers commands against a traffic data source. Results are capped
// at maxResults in source order.
type Engine struct {
	source     traffic.Source
	maxResults int
	log        *slog.Logger
}

// New creates an Engine backed by the given source.
func New(source traffic.Source, maxResults int, log *slog.Logger) *Engine {
	return &Engine{
		source:     source,
		maxResults: maxResults,
		log:        log.With("component", "query_engine"),
	}
}

// Query returns incidents for the command kind and location. The alerts and
// weather kinds are recognized but intentionally unimplemented: they return
// an empty set by contract, not an error. An unknown location likewise
// returns an empty set.
func (e *Engine) Query(ctx context.Context, kind command.Kind, location string) ([]traffic.Incident, error) {
	var category traffic.Category
	switch kind {
	case command.KindAccidents:
		category = traffic.CategoryAccidents
	case command.KindEvents:
		category = traffic.CategoryEvents
	case command.KindAlerts, command.KindWeather:
		e.log.DebugContext(ctx, "Placeholder kind requested, returning empty set", "kind", string(kind))
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown command kind %q", kind)
	}

	incidents, err := e.source.Fetch(ctx, category, location)
	if err != nil {
		return nil, fmt.Errorf("fetching %s for %q: %w", kind, location, err)
	}

	if len(incidents) > e.maxResults {
		incidents = incidents[:e.maxResults]
	}
	return incidents, nil
}
