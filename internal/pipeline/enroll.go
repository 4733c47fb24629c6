package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/chronovox/internal/profile"
)

// MsgUserExists is the user-facing message for duplicate enrollment.
const MsgUserExists = "User already exists"

var (
	// ErrInvalidUserID is returned when a user id sanitizes to nothing.
	ErrInvalidUserID = errors.New("pipeline: invalid user id")

	// ErrInvalidBirthDate is returned for malformed or future birth dates.
	ErrInvalidBirthDate = errors.New("pipeline: invalid date of birth")
)

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// SanitizeUserID replaces every run of characters outside [a-zA-Z0-9_-] with
// a single underscore and trims leading and trailing underscores.
func SanitizeUserID(raw string) string {
	return strings.Trim(unsafeIDChars.ReplaceAllString(strings.TrimSpace(raw), "_"), "_")
}

// Enroller creates new speaker profiles.
type Enroller struct {
	repo profile.Repository
	now  func() time.Time
	log  *slog.Logger
}

// NewEnroller returns an enroller. A nil now uses time.Now; a nil log uses
// slog.Default().
func NewEnroller(repo profile.Repository, now func() time.Time, log *slog.Logger) *Enroller {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Enroller{repo: repo, now: now, log: log}
}

// Create enrolls a new speaker. The returned profile carries the sanitized
// user id. Duplicates fail with an error wrapping [profile.ErrExists].
func (e *Enroller) Create(ctx context.Context, rawUserID, dateOfBirth string) (*profile.Profile, error) {
	id := SanitizeUserID(rawUserID)
	if id == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUserID, rawUserID)
	}

	now := e.now().UTC()
	dob, err := time.Parse(profile.DateLayout, strings.TrimSpace(dateOfBirth))
	if err != nil {
		return nil, fmt.Errorf("%w: %q (want YYYY-MM-DD)", ErrInvalidBirthDate, dateOfBirth)
	}
	if dob.After(now) {
		return nil, fmt.Errorf("%w: %s is in the future", ErrInvalidBirthDate, dob.Format(profile.DateLayout))
	}

	p := profile.Profile{
		UserID:      id,
		DateOfBirth: dob.Format(profile.DateLayout),
		Created:     now,
	}
	if err := e.repo.Create(ctx, p); err != nil {
		if errors.Is(err, profile.ErrExists) {
			return nil, fmt.Errorf("pipeline: %s: %w", MsgUserExists, err)
		}
		return nil, fmt.Errorf("pipeline: enroll %s: %w", id, err)
	}
	e.log.Info("pipeline: user enrolled", "user_id", id)
	return &p, nil
}
