package badgerstore_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/MrWong99/chronovox/internal/profile"
	"github.com/MrWong99/chronovox/internal/profile/badgerstore"
	"github.com/MrWong99/chronovox/internal/profile/profiletest"
)

func newStore(t *testing.T, opts badgerstore.Options) *badgerstore.Store {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	s, err := badgerstore.Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	t.Parallel()
	profiletest.Run(t, func(t *testing.T) profile.Repository {
		return newStore(t, badgerstore.Options{InMemory: true})
	})
}

func TestOpen_RequiresDir(t *testing.T) {
	t.Parallel()
	if _, err := badgerstore.Open(badgerstore.Options{}); err == nil {
		t.Fatal("Open without Dir or InMemory succeeded")
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	discard := slog.New(slog.DiscardHandler)

	s, err := badgerstore.Open(badgerstore.Options{Dir: dir, Logger: discard})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Create(ctx, profiletest.NewProfile("alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	v := profiletest.NewVersion("alice", 1700000000000)
	if err := s.AppendVersion(ctx, "alice", 0, v); err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s = newStore(t, badgerstore.Options{Dir: dir, Logger: discard})
	got, err := s.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if len(got.Versions) != 1 {
		t.Fatalf("Versions = %d, want 1", len(got.Versions))
	}
	gv := got.Versions[0]
	if gv.ID != v.ID || !gv.Created.Equal(v.Created) {
		t.Errorf("version = %+v, want %+v", gv, v)
	}
	if len(gv.Embedding) != len(v.Embedding) || gv.Embedding[1] != v.Embedding[1] {
		t.Errorf("embedding = %v, want %v", gv.Embedding, v.Embedding)
	}
}

func TestStore_PingAfterClose(t *testing.T) {
	t.Parallel()
	s, err := badgerstore.Open(badgerstore.Options{InMemory: true, Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_ = s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("Ping after Close succeeded")
	}
}
