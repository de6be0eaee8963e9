package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/scribe/pkg/memory"
	"github.com/MrWong99/scribe/pkg/memory/postgres"
	"github.com/MrWong99/scribe/pkg/types"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if SCRIBE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SCRIBE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCRIBE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] on a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS scribe_segments CASCADE",
		"DROP TABLE IF EXISTS scribe_speakers CASCADE",
		"DROP TABLE IF EXISTS scribe_sessions CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecord(id, note string, started time.Time) memory.SessionRecord {
	return memory.SessionRecord{
		ID:            id,
		NoteID:        note,
		StartedAt:     started,
		EndedAt:       started.Add(time.Hour),
		LastTimestamp: "00:09",
		Speakers: []types.Speaker{
			{ID: "spk-1", DisplayName: "Anna", Hints: "host", Color: "#e6194b"},
			{ID: "spk-2", DisplayName: "Ben", Color: "#3cb44b"},
		},
		Segments: []types.Segment{
			{ID: id + "-a", UnitID: "u1", Timestamp: "00:01", SpeakerID: "spk-1", Text: "Welcome to the release planning"},
			{ID: id + "-b", UnitID: "u1", Timestamp: "00:05", SpeakerID: "spk-2", Text: "The release slips a week"},
			{ID: id + "-c", UnitID: "u2", Timestamp: "00:09", SpeakerID: "spk-1", Text: "Noted"},
		},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	rec := sampleRecord("sess-1", "planning", started)
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := s.LoadSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.NoteID != "planning" || !got.StartedAt.Equal(started) || got.LastTimestamp != "00:09" {
		t.Errorf("header = %+v", got)
	}
	if len(got.Speakers) != 2 || got.Speakers[0].Hints != "host" || got.Speakers[1].DisplayName != "Ben" {
		t.Errorf("speakers = %+v", got.Speakers)
	}
	if len(got.Segments) != 3 || got.Segments[2].Text != "Noted" || got.Segments[2].UnitID != "u2" {
		t.Errorf("segments = %+v", got.Segments)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("sess-1", "planning", time.Now().UTC())
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Segments = rec.Segments[:1]
	rec.Speakers[0].DisplayName = "Anna K."
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadSession(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Segments) != 1 || got.Speakers[0].DisplayName != "Anna K." {
		t.Errorf("record not replaced: %+v", got)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LoadSession(context.Background(), "nope"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, rec := range []memory.SessionRecord{
		sampleRecord("sess-1", "planning", base),
		sampleRecord("sess-2", "planning", base.Add(24*time.Hour)),
		sampleRecord("sess-3", "retro", base.Add(48*time.Hour)),
	} {
		if err := s.SaveSession(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListSessions(ctx, "planning")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 || list[0].ID != "sess-2" || list[0].Segments != 3 || list[0].Speakers != 2 {
		t.Errorf("list = %+v", list)
	}

	hits, err := s.SearchSegments(ctx, "release", memory.SearchOpts{NoteID: "planning"})
	if err != nil {
		t.Fatalf("SearchSegments: %v", err)
	}
	if len(hits) != 4 {
		t.Fatalf("hits = %d, want 4", len(hits))
	}
	if hits[0].SessionID != "sess-1" || hits[0].Position != 0 || hits[0].SpeakerName != "Anna" {
		t.Errorf("first hit = %+v", hits[0])
	}

	hits, err = s.SearchSegments(ctx, "release", memory.SearchOpts{SpeakerID: "spk-2", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].SpeakerName != "Ben" {
		t.Errorf("filtered hits = %+v", hits)
	}
}
