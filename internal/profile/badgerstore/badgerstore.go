// Package badgerstore implements [profile.Repository] on an embedded
// BadgerDB database. Each profile is one msgpack-encoded value under the key
// "profile/<user id>"; appends are read-modify-write transactions run under
// a per-user lock, so badger's optimistic conflict detection only trips when
// another process shares the directory.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/chronovox/internal/profile"
)

var _ profile.Repository = (*Store)(nil)

const keyPrefix = "profile/"

// Options configures [Open].
type Options struct {
	// Dir is the database directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps all data in memory. Used by tests.
	InMemory bool

	// Logger receives badger's warnings and errors. Nil uses slog.Default().
	Logger *slog.Logger
}

// Store is a BadgerDB-backed profile repository.
type Store struct {
	db    *badger.DB
	locks sync.Map // user id -> *sync.Mutex
}

// Open opens (or creates) the database described by opts.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badgerstore: Dir is required for on-disk mode")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(slogAdapter{log: log})
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

// ── records ─────────────────────────────────────────────────────────────────

type versionRecord struct {
	ID            int64     `msgpack:"version_id"`
	EmbeddingPath string    `msgpack:"embedding_path"`
	AudioPath     string    `msgpack:"audio_path"`
	Confidence    float64   `msgpack:"confidence"`
	Type          string    `msgpack:"voice_type"`
	Created       time.Time `msgpack:"created"`
	Embedding     []float32 `msgpack:"embedding,omitempty"`
}

type profileRecord struct {
	UserID      string          `msgpack:"user_id"`
	DateOfBirth string          `msgpack:"date_of_birth"`
	Created     time.Time       `msgpack:"created"`
	Versions    []versionRecord `msgpack:"voice_versions"`
}

func toRecord(p *profile.Profile) profileRecord {
	r := profileRecord{
		UserID:      p.UserID,
		DateOfBirth: p.DateOfBirth,
		Created:     p.Created.UTC(),
		Versions:    make([]versionRecord, len(p.Versions)),
	}
	for i, v := range p.Versions {
		r.Versions[i] = versionRecord{
			ID:            v.ID,
			EmbeddingPath: v.EmbeddingPath,
			AudioPath:     v.AudioPath,
			Confidence:    v.Confidence,
			Type:          string(v.Type),
			Created:       v.Created.UTC(),
			Embedding:     v.Embedding,
		}
	}
	return r
}

func (r profileRecord) profile() *profile.Profile {
	p := &profile.Profile{
		UserID:      r.UserID,
		DateOfBirth: r.DateOfBirth,
		Created:     r.Created.UTC(),
		Versions:    make([]profile.Version, len(r.Versions)),
	}
	for i, v := range r.Versions {
		p.Versions[i] = profile.Version{
			ID:            v.ID,
			EmbeddingPath: v.EmbeddingPath,
			AudioPath:     v.AudioPath,
			Confidence:    v.Confidence,
			Type:          profile.VoiceType(v.Type),
			Created:       v.Created.UTC(),
			Embedding:     v.Embedding,
		}
	}
	return p
}

func key(userID string) []byte { return []byte(keyPrefix + userID) }

func get(txn *badger.Txn, userID string) (*profile.Profile, error) {
	item, err := txn.Get(key(userID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", profile.ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	var rec profileRecord
	err = item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore: decode %s: %w", userID, err)
	}
	return rec.profile(), nil
}

func put(txn *badger.Txn, p *profile.Profile) error {
	val, err := msgpack.Marshal(toRecord(p))
	if err != nil {
		return fmt.Errorf("badgerstore: encode %s: %w", p.UserID, err)
	}
	return txn.Set(key(p.UserID), val)
}

// ── profile.Repository ──────────────────────────────────────────────────────

// Create implements [profile.Repository].
func (s *Store) Create(_ context.Context, p profile.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key(p.UserID))
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", profile.ErrExists, p.UserID)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("badgerstore: create %s: %w", p.UserID, err)
		}
		return put(txn, &p)
	})
}

// Load implements [profile.Repository].
func (s *Store) Load(_ context.Context, userID string) (*profile.Profile, error) {
	var p *profile.Profile
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = get(txn, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AppendVersion implements [profile.Repository].
func (s *Store) AppendVersion(ctx context.Context, userID string, expectLast int64, v profile.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		p, err := get(txn, userID)
		if err != nil {
			return err
		}
		if err := profile.CheckAppend(p, expectLast, v); err != nil {
			return err
		}
		p.Versions = append(p.Versions, v)
		return put(txn, p)
	})
}

// Ping implements [profile.Repository].
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badgerstore: database closed")
	}
	return nil
}

// Close implements [profile.Repository].
func (s *Store) Close() error {
	return s.db.Close()
}

// slogAdapter routes badger's logger to slog. Info and debug output is
// dropped.
type slogAdapter struct{ log *slog.Logger }

func (a slogAdapter) Errorf(f string, v ...any) {
	a.log.Error(fmt.Sprintf("badger: "+f, v...))
}

func (a slogAdapter) Warningf(f string, v ...any) {
	a.log.Warn(fmt.Sprintf("badger: "+f, v...))
}

func (slogAdapter) Infof(string, ...any)  {}
func (slogAdapter) Debugf(string, ...any) {}
