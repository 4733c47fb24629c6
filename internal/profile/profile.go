// Package profile defines the speaker profile record and the repository that
// persists it.
//
// A [Profile] is created once on enrollment and afterwards only grows by
// appending [Version] records. Versions are kept in insertion order, which is
// also chronological order because version ids are strictly increasing.
//
// Three [Repository] backends are provided: an in-process [MemoryStore], an
// embedded BadgerDB store (package badgerstore) and a PostgreSQL store with a
// pgvector embedding column (package postgres).
package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound is returned when no profile exists for a user id.
	ErrNotFound = errors.New("profile: not found")

	// ErrExists is returned by Create when the user id is already taken.
	ErrExists = errors.New("profile: already exists")

	// ErrVersionOrder is returned by AppendVersion when the new version id
	// is not greater than the latest stored id.
	ErrVersionOrder = errors.New("profile: version id not increasing")

	// ErrConflict is returned by AppendVersion when the stored history no
	// longer ends at the version the caller based its decision on.
	ErrConflict = errors.New("profile: history changed concurrently")

	// ErrInvalid is returned for records that fail validation.
	ErrInvalid = errors.New("profile: invalid record")
)

// DateLayout is the wire format of [Profile.DateOfBirth].
const DateLayout = "2006-01-02"

// VoiceType tags how a version was produced.
type VoiceType string

// VoiceRecorded marks a version captured from a real recording. It is the
// only type the pipeline stores.
const VoiceRecorded VoiceType = "RECORDED"

// Version is one immutable reference sample of a speaker.
type Version struct {
	ID            int64     `json:"version_id"`
	EmbeddingPath string    `json:"embedding_path"`
	AudioPath     string    `json:"audio_path"`
	Confidence    float64   `json:"confidence"`
	Type          VoiceType `json:"voice_type"`
	Created       time.Time `json:"created"`

	// Embedding is an optional in-record copy of the unit-norm embedding.
	// Backends that index embeddings persist it; the canonical copy lives at
	// EmbeddingPath.
	Embedding []float32 `json:"-"`
}

// Profile is a speaker and their version history.
type Profile struct {
	UserID      string    `json:"user_id"`
	DateOfBirth string    `json:"date_of_birth"`
	Created     time.Time `json:"created"`
	Versions    []Version `json:"voice_versions"`
}

// Birth parses DateOfBirth.
func (p *Profile) Birth() (time.Time, error) {
	t, err := time.Parse(DateLayout, p.DateOfBirth)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date of birth %q: %v", ErrInvalid, p.DateOfBirth, err)
	}
	return t, nil
}

// AgeAt returns the speaker's age in fractional years at t.
func (p *Profile) AgeAt(t time.Time) (float64, error) {
	birth, err := p.Birth()
	if err != nil {
		return 0, err
	}
	return t.Sub(birth).Hours() / (24 * 365.2425), nil
}

// Latest returns the most recently appended version.
func (p *Profile) Latest() (Version, bool) {
	if len(p.Versions) == 0 {
		return Version{}, false
	}
	return p.Versions[len(p.Versions)-1], true
}

// LastID returns the id of the latest version, or 0 with no history.
func (p *Profile) LastID() int64 {
	if v, ok := p.Latest(); ok {
		return v.ID
	}
	return 0
}

// Version looks up a version by id.
func (p *Profile) Version(id int64) (Version, bool) {
	for _, v := range p.Versions {
		if v.ID == id {
			return v, true
		}
	}
	return Version{}, false
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	c := *p
	c.Versions = make([]Version, len(p.Versions))
	for i, v := range p.Versions {
		v.Embedding = slices.Clone(v.Embedding)
		c.Versions[i] = v
	}
	return &c
}

// Validate checks the profile header fields.
func (p *Profile) Validate() error {
	var errs []error
	if p.UserID == "" {
		errs = append(errs, fmt.Errorf("%w: empty user id", ErrInvalid))
	}
	if _, err := p.Birth(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks a version before it is appended.
func (v Version) Validate() error {
	var errs []error
	if v.ID <= 0 {
		errs = append(errs, fmt.Errorf("%w: version id %d", ErrInvalid, v.ID))
	}
	if math.IsNaN(v.Confidence) || v.Confidence < 0 || v.Confidence > 1 {
		errs = append(errs, fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalid, v.Confidence))
	}
	if v.Type != VoiceRecorded {
		errs = append(errs, fmt.Errorf("%w: voice type %q", ErrInvalid, v.Type))
	}
	if v.AudioPath == "" || v.EmbeddingPath == "" {
		errs = append(errs, fmt.Errorf("%w: missing artifact path", ErrInvalid))
	}
	return errors.Join(errs...)
}

// CheckAppend validates v and verifies it may follow the versions already in
// p, whose latest id must still be expectLast. Backends call it while holding
// their per-profile lock.
func CheckAppend(p *Profile, expectLast int64, v Version) error {
	if err := v.Validate(); err != nil {
		return err
	}
	last := p.LastID()
	if last != expectLast {
		return fmt.Errorf("%w: latest version is %d, expected %d", ErrConflict, last, expectLast)
	}
	if v.ID <= last {
		return fmt.Errorf("%w: %d after %d", ErrVersionOrder, v.ID, last)
	}
	return nil
}

// NearestFinder is implemented by backends that store version embeddings and
// can search them. The postgres backend does so with pgvector.
type NearestFinder interface {
	// NearestVersion returns the version of userID whose embedding has the
	// smallest cosine distance to emb, and that distance. It returns
	// [ErrNotFound] when no version carries an embedding.
	NearestVersion(ctx context.Context, userID string, emb []float32) (Version, float64, error)
}

// Repository persists profiles. Implementations must be safe for concurrent
// use and must serialize AppendVersion per user id. AppendVersion is a
// compare-and-append: it succeeds only if the history still ends at the
// version the caller loaded, which keeps decisions made by separate
// processes sharing one backend consistent.
type Repository interface {
	// Create stores a new profile. It returns [ErrExists] if the user id is
	// taken.
	Create(ctx context.Context, p Profile) error

	// Load returns a copy of the profile, or [ErrNotFound].
	Load(ctx context.Context, userID string) (*Profile, error)

	// AppendVersion appends v to the profile's history if its latest
	// version id is expectLast (0 for an empty history). It returns
	// [ErrNotFound] for unknown users, [ErrConflict] if the history moved
	// on, and [ErrVersionOrder] if v.ID does not exceed expectLast.
	AppendVersion(ctx context.Context, userID string, expectLast int64, v Version) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
