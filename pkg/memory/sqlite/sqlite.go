// Package sqlite provides a single-file [memory.SessionStore] on the pure-Go
// modernc.org/sqlite driver.
//
// It suits single-node deployments and the CLI, where running PostgreSQL is
// not worth it. Open ":memory:" for a throwaway archive that lives as long as
// the process.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/scribe/pkg/memory"
	"github.com/MrWong99/scribe/pkg/types"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT    PRIMARY KEY,
    note_id         TEXT    NOT NULL,
    started_at      INTEGER NOT NULL,
    ended_at        INTEGER NOT NULL,
    last_timestamp  TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_note ON sessions (note_id, started_at);

CREATE TABLE IF NOT EXISTS speakers (
    session_id    TEXT    NOT NULL,
    id            TEXT    NOT NULL,
    position      INTEGER NOT NULL,
    display_name  TEXT    NOT NULL,
    hints         TEXT    NOT NULL DEFAULT '',
    color         TEXT    NOT NULL DEFAULT '',
    PRIMARY KEY (session_id, id)
);

CREATE TABLE IF NOT EXISTS segments (
    session_id  TEXT    NOT NULL,
    position    INTEGER NOT NULL,
    id          TEXT    NOT NULL,
    unit_id     TEXT    NOT NULL DEFAULT '',
    ts          TEXT    NOT NULL DEFAULT '',
    speaker_id  TEXT    NOT NULL,
    text        TEXT    NOT NULL,
    PRIMARY KEY (session_id, position)
);
`

var _ memory.SessionStore = (*Store)(nil)

// Store is a SQLite-backed session archive.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != MemoryPath {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping verifies the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession implements [memory.SessionStore].
func (s *Store) SaveSession(ctx context.Context, rec memory.SessionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, note_id, started_at, ended_at, last_timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		    note_id = excluded.note_id,
		    started_at = excluded.started_at,
		    ended_at = excluded.ended_at,
		    last_timestamp = excluded.last_timestamp`,
		rec.ID, rec.NoteID, rec.StartedAt.UnixNano(), rec.EndedAt.UnixNano(), rec.LastTimestamp,
	); err != nil {
		return fmt.Errorf("sqlite store: upsert session: %w", err)
	}

	for _, q := range []string{
		"DELETE FROM segments WHERE session_id = ?",
		"DELETE FROM speakers WHERE session_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, rec.ID); err != nil {
			return fmt.Errorf("sqlite store: clear session: %w", err)
		}
	}

	spStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO speakers (session_id, id, position, display_name, hints, color)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite store: prepare speakers: %w", err)
	}
	defer spStmt.Close()
	for i, sp := range rec.Speakers {
		if _, err := spStmt.ExecContext(ctx, rec.ID, sp.ID, i, sp.DisplayName, sp.Hints, sp.Color); err != nil {
			return fmt.Errorf("sqlite store: insert speaker %s: %w", sp.ID, err)
		}
	}

	segStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO segments (session_id, position, id, unit_id, ts, speaker_id, text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite store: prepare segments: %w", err)
	}
	defer segStmt.Close()
	for i, seg := range rec.Segments {
		if _, err := segStmt.ExecContext(ctx, rec.ID, i, seg.ID, seg.UnitID, seg.Timestamp, seg.SpeakerID, seg.Text); err != nil {
			return fmt.Errorf("sqlite store: insert segment %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

// LoadSession implements [memory.SessionStore].
func (s *Store) LoadSession(ctx context.Context, id string) (*memory.SessionRecord, error) {
	rec := memory.SessionRecord{ID: id, Speakers: []types.Speaker{}, Segments: []types.Segment{}}
	var started, ended int64
	err := s.db.QueryRowContext(ctx, `
		SELECT note_id, started_at, ended_at, last_timestamp
		FROM sessions
		WHERE id = ?`, id,
	).Scan(&rec.NoteID, &started, &ended, &rec.LastTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load session: %w", err)
	}
	rec.StartedAt = timeFromUnixNano(started)
	rec.EndedAt = timeFromUnixNano(ended)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, hints, color
		FROM speakers
		WHERE session_id = ?
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load speakers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sp types.Speaker
		if err := rows.Scan(&sp.ID, &sp.DisplayName, &sp.Hints, &sp.Color); err != nil {
			return nil, fmt.Errorf("sqlite store: scan speaker: %w", err)
		}
		rec.Speakers = append(rec.Speakers, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: load speakers: %w", err)
	}

	segRows, err := s.db.QueryContext(ctx, `
		SELECT id, unit_id, ts, speaker_id, text
		FROM segments
		WHERE session_id = ?
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load segments: %w", err)
	}
	defer segRows.Close()
	for segRows.Next() {
		var seg types.Segment
		if err := segRows.Scan(&seg.ID, &seg.UnitID, &seg.Timestamp, &seg.SpeakerID, &seg.Text); err != nil {
			return nil, fmt.Errorf("sqlite store: scan segment: %w", err)
		}
		rec.Segments = append(rec.Segments, seg)
	}
	if err := segRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: load segments: %w", err)
	}
	return &rec, nil
}

// ListSessions implements [memory.SessionStore].
func (s *Store) ListSessions(ctx context.Context, noteID string) ([]memory.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.note_id, s.started_at, s.ended_at,
		       (SELECT count(*) FROM speakers sp WHERE sp.session_id = s.id),
		       (SELECT count(*) FROM segments sg WHERE sg.session_id = s.id)
		FROM sessions s
		WHERE ? = '' OR s.note_id = ?
		ORDER BY s.started_at DESC`, noteID, noteID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list sessions: %w", err)
	}
	defer rows.Close()

	out := []memory.SessionSummary{}
	for rows.Next() {
		var sum memory.SessionSummary
		var started, ended int64
		if err := rows.Scan(&sum.ID, &sum.NoteID, &started, &ended, &sum.Speakers, &sum.Segments); err != nil {
			return nil, fmt.Errorf("sqlite store: scan session: %w", err)
		}
		sum.StartedAt = timeFromUnixNano(started)
		sum.EndedAt = timeFromUnixNano(ended)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SearchSegments implements [memory.SessionStore] with a case-insensitive
// substring match on segment text.
func (s *Store) SearchSegments(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.SearchHit, error) {
	conditions := []string{"g.text LIKE ? ESCAPE '\\'"}
	args := []any{"%" + escapeLike(query) + "%"}
	if opts.NoteID != "" {
		conditions = append(conditions, "s.note_id = ?")
		args = append(args, opts.NoteID)
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "g.session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.SpeakerID != "" {
		conditions = append(conditions, "g.speaker_id = ?")
		args = append(args, opts.SpeakerID)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = memory.DefaultSearchLimit
	}
	args = append(args, limit)

	q := `SELECT g.session_id, s.note_id, g.position, g.id, g.unit_id, g.ts, g.speaker_id, g.text,
	             COALESCE(sp.display_name, '')
	      FROM segments g
	      JOIN sessions s ON s.id = g.session_id
	      LEFT JOIN speakers sp ON sp.session_id = g.session_id AND sp.id = g.speaker_id
	      WHERE ` + strings.Join(conditions, " AND ") + `
	      ORDER BY s.started_at, g.session_id, g.position
	      LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: search: %w", err)
	}
	defer rows.Close()

	hits := []memory.SearchHit{}
	for rows.Next() {
		var h memory.SearchHit
		if err := rows.Scan(&h.SessionID, &h.NoteID, &h.Position,
			&h.Segment.ID, &h.Segment.UnitID, &h.Segment.Timestamp, &h.Segment.SpeakerID, &h.Segment.Text,
			&h.SpeakerName); err != nil {
			return nil, fmt.Errorf("sqlite store: scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func timeFromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
