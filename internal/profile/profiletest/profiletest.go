// Package profiletest holds behavioural tests every [profile.Repository]
// backend must pass. Backend packages call [Run] from their own tests.
package profiletest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/chronovox/internal/profile"
)

// Factory returns a fresh, empty repository. It should register cleanup with
// t.Cleanup.
type Factory func(t *testing.T) profile.Repository

// NewProfile returns a valid profile with no versions.
func NewProfile(userID string) profile.Profile {
	return profile.Profile{
		UserID:      userID,
		DateOfBirth: "1990-04-12",
		Created:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// NewVersion returns a valid RECORDED version with the given id.
func NewVersion(userID string, id int64) profile.Version {
	return profile.Version{
		ID:            id,
		AudioPath:     fmt.Sprintf("audio/%s_%d.wav", userID, id),
		EmbeddingPath: fmt.Sprintf("embeddings/%s_%d.f32", userID, id),
		Confidence:    0.875,
		Type:          profile.VoiceRecorded,
		Created:       time.UnixMilli(id).UTC(),
		Embedding:     []float32{0.6, 0.8, 0, 0},
	}
}

// Run exercises the [profile.Repository] contract against repositories made
// by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Helper()

	t.Run("CreateLoad", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		repo := newRepo(t)

		want := NewProfile("alice")
		if err := repo.Create(ctx, want); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := repo.Load(ctx, "alice")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.UserID != want.UserID || got.DateOfBirth != want.DateOfBirth {
			t.Errorf("Load = %+v, want %+v", got, want)
		}
		if !got.Created.Equal(want.Created) {
			t.Errorf("Created = %v, want %v", got.Created, want.Created)
		}
		if len(got.Versions) != 0 {
			t.Errorf("Versions = %d, want 0", len(got.Versions))
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		repo := newRepo(t)

		if err := repo.Create(ctx, NewProfile("bob")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		err := repo.Create(ctx, NewProfile("bob"))
		if !errors.Is(err, profile.ErrExists) {
			t.Fatalf("second Create error = %v, want ErrExists", err)
		}
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		t.Parallel()
		repo := newRepo(t)
		p := NewProfile("carol")
		p.DateOfBirth = "12/04/1990"
		if err := repo.Create(context.Background(), p); !errors.Is(err, profile.ErrInvalid) {
			t.Fatalf("Create error = %v, want ErrInvalid", err)
		}
	})

	t.Run("LoadMissing", func(t *testing.T) {
		t.Parallel()
		repo := newRepo(t)
		_, err := repo.Load(context.Background(), "nobody")
		if !errors.Is(err, profile.ErrNotFound) {
			t.Fatalf("Load error = %v, want ErrNotFound", err)
		}
	})

	t.Run("AppendKeepsOrder", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		repo := newRepo(t)
		if err := repo.Create(ctx, NewProfile("dave")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids := []int64{1000, 1001, 5000}
		var last int64
		for _, id := range ids {
			if err := repo.AppendVersion(ctx, "dave", last, NewVersion("dave", id)); err != nil {
				t.Fatalf("AppendVersion(%d): %v", id, err)
			}
			last = id
		}
		got, err := repo.Load(ctx, "dave")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(got.Versions) != len(ids) {
			t.Fatalf("Versions = %d, want %d", len(got.Versions), len(ids))
		}
		for i, v := range got.Versions {
			want := NewVersion("dave", ids[i])
			if v.ID != want.ID || v.AudioPath != want.AudioPath || v.EmbeddingPath != want.EmbeddingPath {
				t.Errorf("Versions[%d] = %+v, want %+v", i, v, want)
			}
			if v.Confidence != want.Confidence || v.Type != profile.VoiceRecorded {
				t.Errorf("Versions[%d] confidence/type = %v/%q", i, v.Confidence, v.Type)
			}
		}
	})

	t.Run("AppendRejectsNonIncreasing", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		repo := newRepo(t)
		if err := repo.Create(ctx, NewProfile("erin")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.AppendVersion(ctx, "erin", 0, NewVersion("erin", 10)); err != nil {
			t.Fatalf("AppendVersion: %v", err)
		}
		for _, id := range []int64{10, 9} {
			err := repo.AppendVersion(ctx, "erin", 10, NewVersion("erin", id))
			if !errors.Is(err, profile.ErrVersionOrder) {
				t.Errorf("AppendVersion(%d) error = %v, want ErrVersionOrder", id, err)
			}
		}
	})

	t.Run("AppendUnknownUser", func(t *testing.T) {
		t.Parallel()
		repo := newRepo(t)
		err := repo.AppendVersion(context.Background(), "ghost", 0, NewVersion("ghost", 1))
		if !errors.Is(err, profile.ErrNotFound) {
			t.Fatalf("AppendVersion error = %v, want ErrNotFound", err)
		}
	})

	t.Run("AppendInvalid", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		repo := newRepo(t)
		if err := repo.Create(ctx, NewProfile("fay")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		v := NewVersion("fay", 1)
		v.Confidence = 1.5
		if err := repo.AppendVersion(ctx, "fay", 0, v); !errors.Is(err, profile.ErrInvalid) {
			t.Fatalf("AppendVersion error = %v, want ErrInvalid", err)
		}
	})

	t.Run("LoadReturnsCopy", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		repo := newRepo(t)
		if err := repo.Create(ctx, NewProfile("gus")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.AppendVersion(ctx, "gus", 0, NewVersion("gus", 1)); err != nil {
			t.Fatalf("AppendVersion: %v", err)
		}
		p, _ := repo.Load(ctx, "gus")
		p.Versions[0].AudioPath = "tampered"
		p.Versions = append(p.Versions, NewVersion("gus", 2))

		again, err := repo.Load(ctx, "gus")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(again.Versions) != 1 || again.Versions[0].AudioPath == "tampered" {
			t.Errorf("stored profile changed through returned copy: %+v", again.Versions)
		}
	})

	t.Run("AppendStaleHistory", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		repo := newRepo(t)
		if err := repo.Create(ctx, NewProfile("ivan")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.AppendVersion(ctx, "ivan", 0, NewVersion("ivan", 1)); err != nil {
			t.Fatalf("first AppendVersion: %v", err)
		}

		// A second writer that loaded the empty history must not add
		// another first version.
		err := repo.AppendVersion(ctx, "ivan", 0, NewVersion("ivan", 2))
		if !errors.Is(err, profile.ErrConflict) {
			t.Fatalf("stale AppendVersion error = %v, want ErrConflict", err)
		}
		err = repo.AppendVersion(ctx, "ivan", 5, NewVersion("ivan", 6))
		if !errors.Is(err, profile.ErrConflict) {
			t.Fatalf("AppendVersion after unknown id error = %v, want ErrConflict", err)
		}
		got, err := repo.Load(ctx, "ivan")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(got.Versions) != 1 {
			t.Fatalf("Versions = %d after stale appends, want 1", len(got.Versions))
		}

		if err := repo.AppendVersion(ctx, "ivan", 1, NewVersion("ivan", 2)); err != nil {
			t.Fatalf("AppendVersion on current history: %v", err)
		}
	})

	t.Run("ConcurrentFirstAppends", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		repo := newRepo(t)
		if err := repo.Create(ctx, NewProfile("hal")); err != nil {
			t.Fatalf("Create: %v", err)
		}

		const n = 16
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range n {
			wg.Go(func() {
				errs <- repo.AppendVersion(ctx, "hal", 0, NewVersion("hal", int64(i+1)))
			})
		}
		wg.Wait()
		close(errs)

		var ok int
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, profile.ErrConflict):
			default:
				t.Errorf("unexpected append error: %v", err)
			}
		}
		if ok != 1 {
			t.Fatalf("%d appends on an empty history succeeded, want exactly 1", ok)
		}
		got, err := repo.Load(ctx, "hal")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(got.Versions) != 1 {
			t.Fatalf("Versions = %d, want 1", len(got.Versions))
		}
	})

	t.Run("ConcurrentLoadAppendRetry", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		repo := newRepo(t)
		if err := repo.Create(ctx, NewProfile("jill")); err != nil {
			t.Fatalf("Create: %v", err)
		}

		const n = 8
		var wg sync.WaitGroup
		for range n {
			wg.Go(func() {
				for {
					p, err := repo.Load(ctx, "jill")
					if err != nil {
						t.Errorf("Load: %v", err)
						return
					}
					last := p.LastID()
					err = repo.AppendVersion(ctx, "jill", last, NewVersion("jill", last+1))
					if errors.Is(err, profile.ErrConflict) {
						continue
					}
					if err != nil {
						t.Errorf("AppendVersion: %v", err)
					}
					return
				}
			})
		}
		wg.Wait()

		got, err := repo.Load(ctx, "jill")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(got.Versions) != n {
			t.Fatalf("Versions = %d, want %d", len(got.Versions), n)
		}
		for i, v := range got.Versions {
			if v.ID != int64(i+1) {
				t.Errorf("Versions[%d].ID = %d, want %d", i, v.ID, i+1)
			}
		}
	})

	t.Run("Ping", func(t *testing.T) {
		t.Parallel()
		if err := newRepo(t).Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}
