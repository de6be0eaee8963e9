package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/scribe/pkg/memory"
	"github.com/MrWong99/scribe/pkg/types"
)

// SaveSession implements [memory.SessionStore]. The session row is upserted
// and its speakers and segments are replaced in one transaction; segments are
// bulk-loaded with COPY.
func (s *Store) SaveSession(ctx context.Context, rec memory.SessionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `
		INSERT INTO scribe_sessions (id, note_id, started_at, ended_at, last_timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    note_id        = EXCLUDED.note_id,
		    started_at     = EXCLUDED.started_at,
		    ended_at       = EXCLUDED.ended_at,
		    last_timestamp = EXCLUDED.last_timestamp`
	if _, err := tx.Exec(ctx, upsert, rec.ID, rec.NoteID, rec.StartedAt, rec.EndedAt, rec.LastTimestamp); err != nil {
		return fmt.Errorf("session store: upsert session: %w", err)
	}

	for _, q := range []string{
		"DELETE FROM scribe_segments WHERE session_id = $1",
		"DELETE FROM scribe_speakers WHERE session_id = $1",
	} {
		if _, err := tx.Exec(ctx, q, rec.ID); err != nil {
			return fmt.Errorf("session store: clear session: %w", err)
		}
	}

	batch := &pgx.Batch{}
	for i, sp := range rec.Speakers {
		batch.Queue(`
			INSERT INTO scribe_speakers (session_id, id, position, display_name, hints, color)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.ID, sp.ID, i, sp.DisplayName, sp.Hints, sp.Color)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("session store: insert speakers: %w", err)
		}
	}

	if len(rec.Segments) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"scribe_segments"},
			[]string{"session_id", "position", "id", "unit_id", "ts", "speaker_id", "text"},
			pgx.CopyFromSlice(len(rec.Segments), func(i int) ([]any, error) {
				seg := rec.Segments[i]
				return []any{rec.ID, i, seg.ID, seg.UnitID, seg.Timestamp, seg.SpeakerID, seg.Text}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("session store: copy segments: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("session store: commit: %w", err)
	}
	return nil
}

// LoadSession implements [memory.SessionStore].
func (s *Store) LoadSession(ctx context.Context, id string) (*memory.SessionRecord, error) {
	rec := memory.SessionRecord{ID: id}
	err := s.pool.QueryRow(ctx, `
		SELECT note_id, started_at, ended_at, last_timestamp
		FROM   scribe_sessions
		WHERE  id = $1`, id,
	).Scan(&rec.NoteID, &rec.StartedAt, &rec.EndedAt, &rec.LastTimestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session store: load session: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, display_name, hints, color
		FROM   scribe_speakers
		WHERE  session_id = $1
		ORDER  BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("session store: load speakers: %w", err)
	}
	rec.Speakers, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Speaker, error) {
		var sp types.Speaker
		err := row.Scan(&sp.ID, &sp.DisplayName, &sp.Hints, &sp.Color)
		return sp, err
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan speakers: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, unit_id, ts, speaker_id, text
		FROM   scribe_segments
		WHERE  session_id = $1
		ORDER  BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("session store: load segments: %w", err)
	}
	rec.Segments, err = pgx.CollectRows(rows, scanSegment)
	if err != nil {
		return nil, fmt.Errorf("session store: scan segments: %w", err)
	}

	if rec.Speakers == nil {
		rec.Speakers = []types.Speaker{}
	}
	if rec.Segments == nil {
		rec.Segments = []types.Segment{}
	}
	return &rec, nil
}

// ListSessions implements [memory.SessionStore].
func (s *Store) ListSessions(ctx context.Context, noteID string) ([]memory.SessionSummary, error) {
	const q = `
		SELECT s.id, s.note_id, s.started_at, s.ended_at,
		       (SELECT count(*) FROM scribe_speakers sp WHERE sp.session_id = s.id),
		       (SELECT count(*) FROM scribe_segments sg WHERE sg.session_id = s.id)
		FROM   scribe_sessions s
		WHERE  $1 = '' OR s.note_id = $1
		ORDER  BY s.started_at DESC`

	rows, err := s.pool.Query(ctx, q, noteID)
	if err != nil {
		return nil, fmt.Errorf("session store: list sessions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SessionSummary, error) {
		var sum memory.SessionSummary
		err := row.Scan(&sum.ID, &sum.NoteID, &sum.StartedAt, &sum.EndedAt, &sum.Speakers, &sum.Segments)
		return sum, err
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan sessions: %w", err)
	}
	if out == nil {
		out = []memory.SessionSummary{}
	}
	return out, nil
}

// SearchSegments implements [memory.SessionStore]. query is passed to
// plainto_tsquery so no operator syntax is required.
func (s *Store) SearchSegments(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.SearchHit, error) {
	args := []any{query}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('simple', g.text) @@ plainto_tsquery('simple', $1)",
	}
	if opts.NoteID != "" {
		conditions = append(conditions, "s.note_id = "+next(opts.NoteID))
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "g.session_id = "+next(opts.SessionID))
	}
	if opts.SpeakerID != "" {
		conditions = append(conditions, "g.speaker_id = "+next(opts.SpeakerID))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = memory.DefaultSearchLimit
	}

	q := "SELECT g.session_id, s.note_id, g.position, g.id, g.unit_id, g.ts, g.speaker_id, g.text,\n" +
		"       COALESCE(sp.display_name, '')\n" +
		"FROM   scribe_segments g\n" +
		"JOIN   scribe_sessions s ON s.id = g.session_id\n" +
		"LEFT   JOIN scribe_speakers sp ON sp.session_id = g.session_id AND sp.id = g.speaker_id\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY s.started_at, g.session_id, g.position\n" +
		"LIMIT  " + next(limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: search: %w", err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SearchHit, error) {
		var h memory.SearchHit
		err := row.Scan(&h.SessionID, &h.NoteID, &h.Position,
			&h.Segment.ID, &h.Segment.UnitID, &h.Segment.Timestamp, &h.Segment.SpeakerID, &h.Segment.Text,
			&h.SpeakerName)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan hits: %w", err)
	}
	if hits == nil {
		hits = []memory.SearchHit{}
	}
	return hits, nil
}

func scanSegment(row pgx.CollectableRow) (types.Segment, error) {
	var seg types.Segment
	err := row.Scan(&seg.ID, &seg.UnitID, &seg.Timestamp, &seg.SpeakerID, &seg.Text)
	return seg, err
}
