// Package format renders query results into the compact single-line replies
// sent over the mesh. Formatting is deliberately terse: every byte costs
// airtime on the radio channel.
package format

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/desertmesh/meshtraffic/internal/command"
	"github.com/desertmesh/meshtraffic/internal/geocode"
	"github.com/desertmesh/meshtraffic/internal/traffic"
)

// Formatter converts incidents into ordered reply lines. Elapsed times are
// computed here, at formatting time, so a slow pipeline never reports stale
// ages.
type Formatter struct {
	resolver geocode.Resolver
	maxLines int
	loc      *time.Location
	now      func() time.Time
	log      *slog.Logger
}

// New creates a Formatter. maxLines caps the number of reply lines per
// query; the resolver supplies addresses for incidents without cross-street
// text.
func New(resolver geocode.Resolver, maxLines int, log *slog.Logger) (*Formatter, error) {
	loc, err := time.LoadLocation("America/Phoenix")
	if err != nil {
		return nil, fmt.Errorf("failed to load region time zone: %w", err)
	}
	return &Formatter{
		resolver: resolver,
		maxLines: maxLines,
		loc:      loc,
		now:      time.Now,
		log:      log.With("component", "formatter"),
	}, nil
}

// Format renders incidents for the given command kind and location. An empty
// result set yields exactly one "No <kind> found" line. At most maxLines
// lines are returned even when more incidents matched.
func (f *Formatter) Format(ctx context.Context, kind command.Kind, location string, incidents []traffic.Incident) []string {
	if len(incidents) == 0 {
		return []string{fmt.Sprintf("No %s found for '%s'", kind, location)}
	}

	if len(incidents) > f.maxLines {
		incidents = incidents[:f.maxLines]
	}

	lines := make([]string, 0, len(incidents))
	for _, inc := range incidents {
		switch kind {
		case command.KindEvents:
			lines = append(lines, f.eventLine(inc))
		default:
			lines = append(lines, f.accidentLine(ctx, inc))
		}
	}
	return lines
}

// accidentLine renders "ACCIDENT: <roadway> (<dir>) @ <place> [<elapsed> ago]".
// Parts with no data are omitted rather than rendered empty.
func (f *Formatter) accidentLine(ctx context.Context, inc traffic.Incident) string {
	parts := []string{"ACCIDENT: " + roadwayOrUnknown(inc)}

	if inc.Direction != "" {
		parts = append(parts, "("+inc.Direction+")")
	}
	if inc.Lanes != "" && inc.Lanes != "No Data" {
		parts = append(parts, "Lanes: "+inc.Lanes)
	}
	if place := f.place(ctx, inc); place != "" {
		parts = append(parts, "@ "+place)
	}
	if elapsed := f.elapsed(inc.ReportedAt); elapsed != "" {
		parts = append(parts, "["+elapsed+" ago]")
	}

	return strings.Join(parts, " ")
}

// eventLine renders "EVENT: <desc> - <roadway> (<dir>) @ <place> [<status>]".
func (f *Formatter) eventLine(inc traffic.Incident) string {
	head := "EVENT:"
	if inc.Description != "" {
		head += " " + inc.Description + " -"
	}
	parts := []string{head + " " + roadwayOrUnknown(inc)}

	if inc.Direction != "" {
		parts = append(parts, "("+inc.Direction+")")
	}
	if inc.CrossStreet != "" {
		parts = append(parts, "@ "+inc.CrossStreet)
	}
	if inc.Status != "" {
		parts = append(parts, "["+inc.Status+"]")
	}

	return strings.Join(parts, " ")
}

// place prefers the feed's cross-street text and falls back to reverse
// geocoding. A geocoding failure degrades to raw coordinate text; it never
// fails the reply.
func (f *Formatter) place(ctx context.Context, inc traffic.Incident) string {
	if inc.CrossStreet != "" {
		return inc.CrossStreet
	}
	if !inc.HasCoordinates() {
		return ""
	}

	addr, err := f.resolver.Resolve(ctx, inc.Latitude, inc.Longitude)
	if err != nil {
		f.log.WarnContext(ctx, "Geocoding failed, using coordinates",
			"lat", inc.Latitude, "lon", inc.Longitude, "error", err)
		return geocode.CoordinateText(inc.Latitude, inc.Longitude)
	}
	return addr
}

// elapsed formats the age of an incident as "41m" or "1h12m". Unparseable
// or future timestamps yield an empty string.
func (f *Formatter) elapsed(reportedAt time.Time) string {
	if reportedAt.IsZero() {
		return ""
	}

	d := f.now().In(f.loc).Sub(reportedAt)
	if d < 0 {
		return ""
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func roadwayOrUnknown(inc traffic.Incident) string {
	if inc.Roadway == "" {
		return "Unknown road"
	}
	return inc.Roadway
}
