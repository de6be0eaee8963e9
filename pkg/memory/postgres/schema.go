// Package postgres provides a PostgreSQL-backed [memory.SessionStore].
//
// Sessions, their speakers and their segments live in three tables sharing
// one [pgxpool.Pool]. Segment text carries a GIN full-text index so archived
// transcripts can be searched with plain-language queries. [Migrate] creates
// everything idempotently.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveSession(ctx, rec)
//	hits, _ := store.SearchSegments(ctx, "release date", memory.SearchOpts{NoteID: "standup"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS scribe_sessions (
    id              TEXT         PRIMARY KEY,
    note_id         TEXT         NOT NULL,
    started_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_timestamp  TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_scribe_sessions_note
    ON scribe_sessions (note_id, started_at DESC);
`

const ddlSpeakers = `
CREATE TABLE IF NOT EXISTS scribe_speakers (
    session_id    TEXT     NOT NULL REFERENCES scribe_sessions (id) ON DELETE CASCADE,
    id            TEXT     NOT NULL,
    position      INTEGER  NOT NULL,
    display_name  TEXT     NOT NULL,
    hints         TEXT     NOT NULL DEFAULT '',
    color         TEXT     NOT NULL DEFAULT '',
    PRIMARY KEY (session_id, id)
);
`

const ddlSegments = `
CREATE TABLE IF NOT EXISTS scribe_segments (
    session_id  TEXT     NOT NULL REFERENCES scribe_sessions (id) ON DELETE CASCADE,
    position    INTEGER  NOT NULL,
    id          TEXT     NOT NULL,
    unit_id     TEXT     NOT NULL DEFAULT '',
    ts          TEXT     NOT NULL DEFAULT '',
    speaker_id  TEXT     NOT NULL,
    text        TEXT     NOT NULL,
    PRIMARY KEY (session_id, position)
);

CREATE INDEX IF NOT EXISTS idx_scribe_segments_speaker
    ON scribe_segments (session_id, speaker_id);

CREATE INDEX IF NOT EXISTS idx_scribe_segments_fts
    ON scribe_segments USING GIN (to_tsvector('simple', text));
`

// migrateLockID serialises concurrent migrations from several replicas.
const migrateLockID = 0x5c41be

// Migrate creates the tables and indexes in one transaction under an
// advisory lock. It is safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: migrate: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("postgres: migrate: lock: %w", err)
	}
	for _, stmt := range []string{ddlSessions, ddlSpeakers, ddlSegments} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: migrate: commit: %w", err)
	}
	return nil
}
