package broadcast_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/desertmesh/meshtraffic/internal/broadcast"
	"github.com/desertmesh/meshtraffic/internal/command"
	"github.com/desertmesh/meshtraffic/internal/mesh"
	"github.com/desertmesh/meshtraffic/internal/traffic"
)

type fakeEngine struct {
	incidents []traffic.Incident
	err       error
}

func (f *fakeEngine) Query(context.Context, command.Kind, string) ([]traffic.Incident, error) {
	return f.incidents, f.err
}

type fakeFormatter struct {
	got []traffic.Incident
}

func (f *fakeFormatter) Format(_ context.Context, _ command.Kind, _ string, incidents []traffic.Incident) []string {
	f.got = incidents
	lines := make([]string, len(incidents))
	for i, inc := range incidents {
		lines[i] = "ACCIDENT: " + inc.Roadway
	}
	return lines
}

type memStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	err  error
}

func newMemStore() *memStore {
	return &memStore{seen: map[string]time.Time{}}
}

func (s *memStore) Ping(context.Context) error { return nil }

func (s *memStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.seen[key]
	return ok, nil
}

func (s *memStore) MarkSeen(_ context.Context, key, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	_, dup := s.seen[key]
	s.seen[key] = time.Now()
	return !dup, nil
}

func (s *memStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, at := range s.seen {
		if at.Before(cutoff) {
			delete(s.seen, key)
			removed++
		}
	}
	return removed, nil
}

func (s *memStore) RunMaintenance(context.Context) error { return nil }

type fakeAnnouncer struct {
	announced [][]string
	err       error
}

func (f *fakeAnnouncer) Announce(_ context.Context, lines []string) error {
	if f.err != nil {
		return f.err
	}
	f.announced = append(f.announced, lines)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// A fixed report time keeps dedup keys stable across calls.
var sampleReportedAt = time.Date(2025, 12, 11, 14, 30, 0, 0, time.UTC)

func sampleIncidents() []traffic.Incident {
	return []traffic.Incident{
		{Roadway: "I-10", Direction: "EB", CrossStreet: "7th St", ReportedAt: sampleReportedAt},
		{Roadway: "US-60", Direction: "WB", CrossStreet: "Mill Ave", ReportedAt: sampleReportedAt},
	}
}

func TestRunAnnouncesUnseenAccidents(t *testing.T) {
	t.Parallel()

	announcer := &fakeAnnouncer{}
	b := broadcast.New(&fakeEngine{incidents: sampleIncidents()}, &fakeFormatter{}, newMemStore(), announcer, "phoenix", discardLogger())

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(announcer.announced) != 1 || len(announcer.announced[0]) != 2 {
		t.Fatalf("announced %v, want one batch of two lines", announcer.announced)
	}
}

// A second cycle over the same feed must stay silent: every incident is
// already marked seen.
func TestRunSuppressesRepeats(t *testing.T) {
	t.Parallel()

	announcer := &fakeAnnouncer{}
	b := broadcast.New(&fakeEngine{incidents: sampleIncidents()}, &fakeFormatter{}, newMemStore(), announcer, "phoenix", discardLogger())

	ctx := context.Background()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if err := b.Run(ctx); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	if len(announcer.announced) != 1 {
		t.Errorf("announced %d batches, want 1", len(announcer.announced))
	}
}

func TestRunAnnouncesOnlyFreshIncidents(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	engine := &fakeEngine{incidents: sampleIncidents()[:1]}
	formatter := &fakeFormatter{}
	announcer := &fakeAnnouncer{}
	b := broadcast.New(engine, formatter, store, announcer, "phoenix", discardLogger())

	ctx := context.Background()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// A new incident joins the still-active one.
	engine.incidents = sampleIncidents()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(formatter.got) != 1 || formatter.got[0].Roadway != "US-60" {
		t.Errorf("second cycle formatted %v, want only the new US-60 incident", formatter.got)
	}
}

func TestRunQueryFailure(t *testing.T) {
	t.Parallel()

	b := broadcast.New(&fakeEngine{err: errors.New("feed down")}, &fakeFormatter{}, newMemStore(), &fakeAnnouncer{}, "phoenix", discardLogger())

	if err := b.Run(context.Background()); err == nil {
		t.Fatal("Run should surface a fetch failure")
	}
}

// A disconnected transport is an expected condition during reconnects, not a
// job failure; the deferred incidents must still air once the link is back.
func TestRunDefersAnnouncementWhileDisconnected(t *testing.T) {
	t.Parallel()

	announcer := &fakeAnnouncer{err: mesh.ErrNotConnected}
	b := broadcast.New(&fakeEngine{incidents: sampleIncidents()}, &fakeFormatter{}, newMemStore(), announcer, "phoenix", discardLogger())

	ctx := context.Background()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run = %v, want nil when the transport is mid-reconnect", err)
	}

	announcer.err = nil
	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run after reconnect failed: %v", err)
	}
	if len(announcer.announced) != 1 || len(announcer.announced[0]) != 2 {
		t.Fatalf("announced %v, want the deferred incidents once connected", announcer.announced)
	}
}

// A failed announcement must not permanently suppress the incidents it
// carried: nothing is marked seen until it has actually aired.
func TestRunRetriesIncidentsAfterAnnounceFailure(t *testing.T) {
	t.Parallel()

	announcer := &fakeAnnouncer{err: errors.New("send failed")}
	b := broadcast.New(&fakeEngine{incidents: sampleIncidents()}, &fakeFormatter{}, newMemStore(), announcer, "phoenix", discardLogger())

	ctx := context.Background()
	if err := b.Run(ctx); err == nil {
		t.Fatal("Run should surface an announce failure")
	}

	announcer.err = nil
	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run after recovery failed: %v", err)
	}
	if len(announcer.announced) != 1 || len(announcer.announced[0]) != 2 {
		t.Fatalf("announced %v, want both incidents retried after the failure", announcer.announced)
	}
}

func TestMaintainPrunesStaleKeys(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.seen["stale"] = time.Now().Add(-48 * time.Hour)
	store.seen["recent"] = time.Now()

	b := broadcast.New(&fakeEngine{}, &fakeFormatter{}, store, &fakeAnnouncer{}, "phoenix", discardLogger())
	if err := b.Maintain(context.Background()); err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.seen["stale"]; ok {
		t.Error("stale key should have been pruned")
	}
	if _, ok := store.seen["recent"]; !ok {
		t.Error("recent key should have been kept")
	}
}
