// Package archive mirrors committed conversation exchanges to PostgreSQL.
//
// The [Writer] is the long-term transcript sink behind the turn engine's
// archiver hook: every committed user and assistant text is queued without
// blocking the turn path and flushed in batches by [Writer.Run]. The serving
// path only ever writes; reading the exchanges table back is left to offline
// tooling.
//
// Usage:
//
//	w, err := archive.New(ctx, dsn, archive.Config{})
//	if err != nil { … }
//	defer w.Close()
//
//	go w.Run(ctx)
//	engine := turn.New(id, mux, hist, model, voice, turn.WithArchiver(w))
package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlExchanges = `
CREATE TABLE IF NOT EXISTS exchanges (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    generation  BIGINT       NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    spoken_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    took_ns     BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_exchanges_session_id
    ON exchanges (session_id);

CREATE INDEX IF NOT EXISTS idx_exchanges_spoken_at
    ON exchanges (spoken_at);

CREATE INDEX IF NOT EXISTS idx_exchanges_session_spoken
    ON exchanges (session_id, spoken_at);

CREATE INDEX IF NOT EXISTS idx_exchanges_fts
    ON exchanges USING GIN (to_tsvector('english', text));
`

// Migrate creates the exchanges table and its indexes. It is idempotent
// (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and safe to run
// on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlExchanges); err != nil {
		return fmt.Errorf("archive migrate: %w", err)
	}
	return nil
}
