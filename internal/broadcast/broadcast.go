// Package broadcast implements the scheduled accident announcement job: it
// periodically fetches accidents for a configured region and announces the
// ones not seen before on the mesh channel.
package broadcast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/desertmesh/meshtraffic/internal/command"
	"github.com/desertmesh/meshtraffic/internal/database"
	"github.com/desertmesh/meshtraffic/internal/listener"
	"github.com/desertmesh/meshtraffic/internal/mesh"
	"github.com/desertmesh/meshtraffic/internal/traffic"
)

// retention bounds how long a dedup key suppresses re-announcement. Stale
// incidents that drop off the feed and reappear later are announced again.
const retention = 24 * time.Hour

// Announcer is the outbound path shared with the listener, keeping the
// transport single-owned and transmissions paced.
type Announcer interface {
	Announce(ctx context.Context, lines []string) error
}

// Broadcaster fetches, deduplicates, and announces accidents.
type Broadcaster struct {
	engine    listener.QueryEngine
	formatter listener.Formatter
	store     database.Store
	announcer Announcer
	region    string
	log       *slog.Logger
}

// New creates a Broadcaster for the given region.
func New(engine listener.QueryEngine, formatter listener.Formatter, store database.Store, announcer Announcer, region string, log *slog.Logger) *Broadcaster {
	return &Broadcaster{
		engine:    engine,
		formatter: formatter,
		store:     store,
		announcer: announcer,
		region:    region,
		log:       log.With("component", "broadcaster"),
	}
}

// Run executes one broadcast cycle. Scheduled via the scheduler package.
// Incidents are marked seen only after they have actually aired, so a failed
// announcement leaves them eligible for the next cycle.
func (b *Broadcaster) Run(ctx context.Context) error {
	incidents, err := b.engine.Query(ctx, command.KindAccidents, b.region)
	if err != nil {
		return fmt.Errorf("broadcast fetch failed: %w", err)
	}

	fresh := make([]traffic.Incident, 0, len(incidents))
	keys := make([]string, 0, len(incidents))
	for _, inc := range incidents {
		key := incidentKey(inc)
		seen, err := b.store.Seen(ctx, key)
		if err != nil {
			return fmt.Errorf("broadcast dedup failed: %w", err)
		}
		if seen {
			// Refresh last_seen so a still-active incident is not pruned
			// mid-life and re-announced.
			if _, err := b.store.MarkSeen(ctx, key, inc.Roadway); err != nil {
				return fmt.Errorf("broadcast dedup failed: %w", err)
			}
			continue
		}
		fresh = append(fresh, inc)
		keys = append(keys, key)
	}

	if len(fresh) == 0 {
		b.log.DebugContext(ctx, "No unseen accidents to announce", "region", b.region)
		return nil
	}

	lines := b.formatter.Format(ctx, command.KindAccidents, b.region, fresh)
	if err := b.announcer.Announce(ctx, lines); err != nil {
		// Nothing was marked seen, so these incidents air on a later cycle.
		if errors.Is(err, mesh.ErrNotConnected) {
			b.log.WarnContext(ctx, "Deferring announcement, transport not connected", "lines", len(lines))
			return nil
		}
		return fmt.Errorf("broadcast announce failed: %w", err)
	}

	for i, key := range keys {
		if _, err := b.store.MarkSeen(ctx, key, fresh[i].Roadway); err != nil {
			return fmt.Errorf("broadcast dedup failed: %w", err)
		}
	}

	b.log.InfoContext(ctx, "Announced accidents", "region", b.region, "count", len(fresh))
	return nil
}

// Maintain prunes dedup keys older than the retention window and compacts
// the database. Scheduled separately from Run.
func (b *Broadcaster) Maintain(ctx context.Context) error {
	if _, err := b.store.PruneBefore(ctx, time.Now().Add(-retention)); err != nil {
		return err
	}
	return b.store.RunMaintenance(ctx)
}

// incidentKey derives a stable dedup key from the fields that identify one
// feed record, matching the duplicate suppression key used at fetch time.
func incidentKey(inc traffic.Incident) string {
	h := sha256.Sum256([]byte(
		inc.Roadway + "|" + inc.Direction + "|" + inc.CrossStreet + "|" + inc.ReportedAt.UTC().Format(time.RFC3339),
	))
	return hex.EncodeToString(h[:16])
}
