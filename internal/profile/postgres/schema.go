// Package postgres provides a PostgreSQL-backed [profile.Repository].
//
// Profiles live in speaker_profiles and their history in voice_versions,
// which also carries each version's embedding in a pgvector column. The
// verifier uses [Store.NearestVersion] to find the best reference match in
// the database instead of reading every embedding artifact. The
// pgvector extension must be available; [Migrate] installs it via CREATE
// EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 192)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlProfiles = `
CREATE TABLE IF NOT EXISTS speaker_profiles (
    user_id        TEXT         PRIMARY KEY,
    date_of_birth  DATE         NOT NULL,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ddlVersions returns the version table DDL with the embedding dimension
// substituted. The dimension is fixed at schema creation time.
func ddlVersions(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS voice_versions (
    user_id         TEXT              NOT NULL REFERENCES speaker_profiles (user_id) ON DELETE CASCADE,
    version_id      BIGINT            NOT NULL,
    audio_path      TEXT              NOT NULL,
    embedding_path  TEXT              NOT NULL,
    confidence      DOUBLE PRECISION  NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
    voice_type      TEXT              NOT NULL DEFAULT 'RECORDED',
    embedding       vector(%d),
    created_at      TIMESTAMPTZ       NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, version_id)
);

-- Nearest-version search is always filtered to one user's history, which
-- the primary key covers. An approximate index could drop rows under that
-- filter, so the search stays exact.
DROP INDEX IF EXISTS idx_voice_versions_embedding;
`, embeddingDimensions)
}

// Migrate creates the tables and extension if they do not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	for _, stmt := range []string{ddlProfiles, ddlVersions(embeddingDimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
