// Package mock provides a configurable test double for [profile.Repository].
//
// The mock keeps profiles in memory like [profile.MemoryStore] but lets tests
// inject failures per method and inspect every call. It is safe for
// concurrent use.
//
//	repo := mock.New()
//	repo.AppendErr = errors.New("disk full")
//	// inject repo into the system under test …
//	if got := repo.CallCount("AppendVersion"); got != 1 { … }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/chronovox/internal/profile"
)

var _ profile.Repository = (*Repository)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Repository is a test double for [profile.Repository]. Nil *Err fields mean
// the call is delegated to an embedded in-memory store.
type Repository struct {
	mu    sync.Mutex
	calls []Call
	store *profile.MemoryStore

	// CreateErr is returned by Create when non-nil.
	CreateErr error

	// LoadErr is returned by Load when non-nil.
	LoadErr error

	// AppendErr is returned by AppendVersion when non-nil.
	AppendErr error

	// PingErr is returned by Ping when non-nil.
	PingErr error
}

// New returns an empty mock repository.
func New() *Repository {
	return &Repository{store: profile.NewMemoryStore()}
}

func (m *Repository) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

func (m *Repository) err(p *error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *p
}

// Calls returns a copy of all recorded method invocations.
func (m *Repository) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Repository) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and injected errors. Stored profiles are kept.
func (m *Repository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.CreateErr, m.LoadErr, m.AppendErr, m.PingErr = nil, nil, nil, nil
}

// Create implements [profile.Repository].
func (m *Repository) Create(ctx context.Context, p profile.Profile) error {
	m.record("Create", p)
	if err := m.err(&m.CreateErr); err != nil {
		return err
	}
	return m.store.Create(ctx, p)
}

// Load implements [profile.Repository].
func (m *Repository) Load(ctx context.Context, userID string) (*profile.Profile, error) {
	m.record("Load", userID)
	if err := m.err(&m.LoadErr); err != nil {
		return nil, err
	}
	return m.store.Load(ctx, userID)
}

// AppendVersion implements [profile.Repository].
func (m *Repository) AppendVersion(ctx context.Context, userID string, expectLast int64, v profile.Version) error {
	m.record("AppendVersion", userID, expectLast, v)
	if err := m.err(&m.AppendErr); err != nil {
		return err
	}
	return m.store.AppendVersion(ctx, userID, expectLast, v)
}

// Ping implements [profile.Repository].
func (m *Repository) Ping(context.Context) error {
	m.record("Ping")
	return m.err(&m.PingErr)
}

// Close implements [profile.Repository].
func (m *Repository) Close() error {
	m.record("Close")
	return nil
}
