package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/chronovox/internal/profile"
)

var (
	_ profile.Repository    = (*Store)(nil)
	_ profile.NearestFinder = (*Store)(nil)
)

// Store is a PostgreSQL profile repository. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, registers pgvector types on every connection and
// runs [Migrate].
//
// embeddingDimensions must match the speaker-embedding model. Changing it
// after the first migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Create implements [profile.Repository].
func (s *Store) Create(ctx context.Context, p profile.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	birth, _ := p.Birth()
	created := p.Created
	if created.IsZero() {
		created = time.Now()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO speaker_profiles (user_id, date_of_birth, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`,
		p.UserID, birth, created.UTC())
	if err != nil {
		return fmt.Errorf("postgres store: create %s: %w", p.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", profile.ErrExists, p.UserID)
	}
	var last int64
	for _, v := range p.Versions {
		if err := s.AppendVersion(ctx, p.UserID, last, v); err != nil {
			return err
		}
		last = v.ID
	}
	return nil
}

// Load implements [profile.Repository].
func (s *Store) Load(ctx context.Context, userID string) (*profile.Profile, error) {
	var (
		p     = &profile.Profile{UserID: userID}
		birth time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT date_of_birth, created_at
		FROM   speaker_profiles
		WHERE  user_id = $1`, userID).Scan(&birth, &p.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", profile.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: load %s: %w", userID, err)
	}
	p.DateOfBirth = birth.Format(profile.DateLayout)
	p.Created = p.Created.UTC()

	rows, err := s.pool.Query(ctx, `
		SELECT version_id, audio_path, embedding_path, confidence, voice_type, embedding, created_at
		FROM   voice_versions
		WHERE  user_id = $1
		ORDER  BY version_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load versions %s: %w", userID, err)
	}
	p.Versions, err = pgx.CollectRows(rows, scanVersion)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan versions %s: %w", userID, err)
	}
	return p, nil
}

func scanVersion(row pgx.CollectableRow) (profile.Version, error) {
	var (
		v     profile.Version
		vtype string
		vec   *pgvector.Vector
	)
	if err := row.Scan(&v.ID, &v.AudioPath, &v.EmbeddingPath, &v.Confidence, &vtype, &vec, &v.Created); err != nil {
		return profile.Version{}, err
	}
	v.Type = profile.VoiceType(vtype)
	v.Created = v.Created.UTC()
	if vec != nil {
		v.Embedding = vec.Slice()
	}
	return v, nil
}

// AppendVersion implements [profile.Repository]. The profile row is locked
// with SELECT … FOR UPDATE so concurrent appends to one profile serialize,
// across processes too, and the latest stored id is compared with
// expectLast under that lock.
func (s *Store) AppendVersion(ctx context.Context, userID string, expectLast int64, v profile.Version) error {
	if err := v.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	err = tx.QueryRow(ctx, `
		SELECT user_id FROM speaker_profiles WHERE user_id = $1 FOR UPDATE`, userID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", profile.ErrNotFound, userID)
	}
	if err != nil {
		return fmt.Errorf("postgres store: lock %s: %w", userID, err)
	}

	var last int64
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version_id), 0) FROM voice_versions WHERE user_id = $1`, userID).Scan(&last)
	if err != nil {
		return fmt.Errorf("postgres store: latest version %s: %w", userID, err)
	}
	if last != expectLast {
		return fmt.Errorf("%w: latest version is %d, expected %d", profile.ErrConflict, last, expectLast)
	}
	if v.ID <= last {
		return fmt.Errorf("%w: %d after %d", profile.ErrVersionOrder, v.ID, last)
	}

	var emb any
	if len(v.Embedding) > 0 {
		emb = pgvector.NewVector(v.Embedding)
	}
	created := v.Created
	if created.IsZero() {
		created = time.Now()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO voice_versions
		    (user_id, version_id, audio_path, embedding_path, confidence, voice_type, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		userID, v.ID, v.AudioPath, v.EmbeddingPath, v.Confidence, string(v.Type), emb, created.UTC())
	if err != nil {
		return fmt.Errorf("postgres store: insert version %s/%d: %w", userID, v.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// NearestVersion implements [profile.NearestFinder] with the pgvector cosine
// distance operator over one user's versions.
func (s *Store) NearestVersion(ctx context.Context, userID string, emb []float32) (profile.Version, float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT version_id, audio_path, embedding_path, confidence, voice_type, embedding, created_at,
		       embedding <=> $2 AS distance
		FROM   voice_versions
		WHERE  user_id = $1 AND embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  1`, userID, pgvector.NewVector(emb))
	if err != nil {
		return profile.Version{}, 0, fmt.Errorf("postgres store: nearest %s: %w", userID, err)
	}
	type hit struct {
		v    profile.Version
		dist float64
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (hit, error) {
		var (
			h     hit
			vtype string
			vec   *pgvector.Vector
		)
		if err := row.Scan(&h.v.ID, &h.v.AudioPath, &h.v.EmbeddingPath, &h.v.Confidence, &vtype, &vec, &h.v.Created, &h.dist); err != nil {
			return hit{}, err
		}
		h.v.Type = profile.VoiceType(vtype)
		h.v.Created = h.v.Created.UTC()
		if vec != nil {
			h.v.Embedding = vec.Slice()
		}
		return h, nil
	})
	if err != nil {
		return profile.Version{}, 0, fmt.Errorf("postgres store: scan nearest %s: %w", userID, err)
	}
	if len(hits) == 0 {
		return profile.Version{}, 0, fmt.Errorf("%w: no embedded versions for %s", profile.ErrNotFound, userID)
	}
	return hits[0].v, hits[0].dist, nil
}

// Ping implements [profile.Repository].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [profile.Repository].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
