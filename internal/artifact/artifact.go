// Package artifact stores the binary artifacts that back a profile version:
// the reference recording as a WAV file and the speaker embedding as a small
// binary vector file.
//
// Layout under the store root:
//
//	audio/{user}_{version}.wav        16-bit PCM mono
//	embeddings/{user}_{version}.f32   "CVEM" + uint32 dim + little-endian float32
//
// Paths handed out by the store are relative to the root so that a data
// directory can be moved without rewriting profile records. Every write goes
// to a temporary file in the target directory and is linked into place.
// Artifacts are immutable: a write never replaces an existing file.
package artifact

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MrWong99/chronovox/pkg/audio"
)

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("artifact: not found")

// ErrExists is returned when a write targets an artifact that is already
// present, for example when two writers picked the same version id.
var ErrExists = errors.New("artifact: already exists")

// ErrCorrupt is returned when an embedding file cannot be decoded.
var ErrCorrupt = errors.New("artifact: corrupt embedding file")

const (
	audioDir     = "audio"
	embeddingDir = "embeddings"

	// DefaultCacheSize is the number of embeddings kept in memory.
	DefaultCacheSize = 1024
)

var embeddingMagic = [4]byte{'C', 'V', 'E', 'M'}

// Store is a filesystem artifact store. It is safe for concurrent use.
type Store struct {
	root  string
	cache *lru.Cache[string, []float32]
	log   *slog.Logger
}

// Option configures a [Store].
type Option func(*storeConfig)

type storeConfig struct {
	cacheSize int
	log       *slog.Logger
}

// WithCacheSize sets how many decoded embeddings are cached. Zero or less
// keeps [DefaultCacheSize].
func WithCacheSize(n int) Option {
	return func(c *storeConfig) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *storeConfig) { c.log = l }
}

// NewStore creates the directory layout under root and returns a store.
func NewStore(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("artifact: root directory is empty")
	}
	cfg := storeConfig{cacheSize: DefaultCacheSize, log: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	for _, d := range []string{audioDir, embeddingDir} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("artifact: create %s dir: %w", d, err)
		}
	}
	cache, err := lru.New[string, []float32](cfg.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("artifact: create cache: %w", err)
	}
	return &Store{root: root, cache: cache, log: cfg.log}, nil
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// Path resolves a relative artifact path to a filesystem path.
func (s *Store) Path(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// AudioRel returns the relative path of a version's audio artifact.
func AudioRel(userID string, version int64) string {
	return fmt.Sprintf("%s/%s_%d.wav", audioDir, userID, version)
}

// EmbeddingRel returns the relative path of a version's embedding artifact.
func EmbeddingRel(userID string, version int64) string {
	return fmt.Sprintf("%s/%s_%d.f32", embeddingDir, userID, version)
}

// ── audio ───────────────────────────────────────────────────────────────────

// PutAudio writes clip as the audio artifact of (userID, version) and
// returns its relative path.
func (s *Store) PutAudio(userID string, version int64, clip audio.Clip) (string, error) {
	rel := AudioRel(userID, version)
	var buf bytes.Buffer
	if err := audio.EncodeWAV(&buf, clip); err != nil {
		return "", fmt.Errorf("artifact: put audio %s: %w", rel, err)
	}
	if err := s.writeAtomic(rel, buf.Bytes()); err != nil {
		return "", err
	}
	return rel, nil
}

// LoadAudio reads an audio artifact.
func (s *Store) LoadAudio(rel string) (audio.Clip, error) {
	clip, _, err := audio.ReadFile(s.Path(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return audio.Clip{}, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err != nil {
		return audio.Clip{}, fmt.Errorf("artifact: load audio %s: %w", rel, err)
	}
	return clip, nil
}

// ── embeddings ──────────────────────────────────────────────────────────────

// PutEmbedding writes emb as the embedding artifact of (userID, version) and
// returns its relative path.
func (s *Store) PutEmbedding(userID string, version int64, emb []float32) (string, error) {
	rel := EmbeddingRel(userID, version)
	var buf bytes.Buffer
	if err := EncodeEmbedding(&buf, emb); err != nil {
		return "", fmt.Errorf("artifact: put embedding %s: %w", rel, err)
	}
	if err := s.writeAtomic(rel, buf.Bytes()); err != nil {
		return "", err
	}
	s.cache.Add(rel, append([]float32(nil), emb...))
	return rel, nil
}

// LoadEmbedding reads an embedding artifact, serving repeated reads from an
// LRU cache. The returned slice is a copy.
func (s *Store) LoadEmbedding(rel string) ([]float32, error) {
	if v, ok := s.cache.Get(rel); ok {
		return append([]float32(nil), v...), nil
	}
	f, err := os.Open(s.Path(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: load embedding %s: %w", rel, err)
	}
	defer f.Close()

	v, err := DecodeEmbedding(f)
	if err != nil {
		return nil, fmt.Errorf("artifact: load embedding %s: %w", rel, err)
	}
	s.cache.Add(rel, v)
	return append([]float32(nil), v...), nil
}

// EncodeEmbedding writes the binary embedding format.
func EncodeEmbedding(w io.Writer, v []float32) error {
	if len(v) == 0 {
		return errors.New("empty embedding")
	}
	buf := make([]byte, 8+4*len(v))
	copy(buf, embeddingMagic[:])
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(v)))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[8+4*i:], math.Float32bits(x))
	}
	_, err := w.Write(buf)
	return err
}

// DecodeEmbedding reads the binary embedding format.
func DecodeEmbedding(r io.Reader) ([]float32, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(hdr[:4], embeddingMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, hdr[:4])
	}
	dim := binary.LittleEndian.Uint32(hdr[4:])
	if dim == 0 || dim > 1<<16 {
		return nil, fmt.Errorf("%w: dimension %d", ErrCorrupt, dim)
	}
	body := make([]byte, 4*int(dim))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrCorrupt, err)
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
	}
	return v, nil
}

// ── maintenance ─────────────────────────────────────────────────────────────

// Exists reports whether the artifact is present.
func (s *Store) Exists(rel string) bool {
	_, err := os.Stat(s.Path(rel))
	return err == nil
}

// Remove deletes the given artifacts. Missing files are ignored; other
// failures are joined.
func (s *Store) Remove(rels ...string) error {
	var errs []error
	for _, rel := range rels {
		if rel == "" {
			continue
		}
		s.cache.Remove(rel)
		if err := os.Remove(s.Path(rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("artifact: remove %s: %w", rel, err))
		}
	}
	return errors.Join(errs...)
}

// Check verifies that the store root is writable. It is used as a readiness
// probe.
func (s *Store) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("artifact: root not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (s *Store) writeAtomic(rel string, data []byte) error {
	if strings.Contains(rel, "..") {
		return fmt.Errorf("artifact: refusing path %q", rel)
	}
	dst := s.Path(rel)
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("artifact: create temp for %s: %w", rel, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("artifact: write %s: %w", rel, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("artifact: sync %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("artifact: close %s: %w", rel, err)
	}
	// Link fails on an existing dst where rename would replace it.
	err = os.Link(tmpName, dst)
	cleanup()
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, rel)
	}
	if err != nil {
		return fmt.Errorf("artifact: link %s: %w", rel, err)
	}
	s.log.Debug("artifact: wrote", "path", rel, "bytes", len(data))
	return nil
}
