package age

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/chronovox/pkg/audio"
)

// ErrInvalidStep is returned by [Engine.RenderPack] for a step outside
// [PackSteps].
var ErrInvalidStep = errors.New("age: invalid pack step")

// PackSteps are the supported age spacings for sample packs.
var PackSteps = []int{1, 2, 5, 10}

// PackOptions configures [Engine.RenderPack].
type PackOptions struct {
	// OutDir receives one age_<n>.wav per rendered age plus manifest.json.
	OutDir string

	// Step is the age spacing, one of [PackSteps]. Zero means 5.
	Step int

	// Concurrency bounds parallel renders. Zero means GOMAXPROCS.
	Concurrency int
}

// PackEntry describes one rendered file.
type PackEntry struct {
	Age  int    `json:"age"`
	Path string `json:"path"`
}

// Pack is the manifest written next to the rendered files.
type Pack struct {
	ID         string      `json:"id"`
	SampleRate int         `json:"sample_rate"`
	Step       int         `json:"step"`
	Entries    []PackEntry `json:"entries"`
}

// PackAges lists the ages a pack with the given step covers: MinAge through
// MaxAge inclusive.
func PackAges(step int) []int {
	var ages []int
	for a := int(MinAge); a <= int(MaxAge); a += step {
		ages = append(ages, a)
	}
	return ages
}

// RenderPack renders clip at every age in [PackAges] and writes the results
// to opts.OutDir. Renders run in parallel; the first failure cancels the
// rest.
func (e *Engine) RenderPack(ctx context.Context, clip audio.Clip, opts PackOptions) (*Pack, error) {
	if opts.Step == 0 {
		opts.Step = 5
	}
	if !slices.Contains(PackSteps, opts.Step) {
		return nil, fmt.Errorf("%w: %d (want one of %v)", ErrInvalidStep, opts.Step, PackSteps)
	}
	if opts.OutDir == "" {
		return nil, errors.New("age: pack output directory is empty")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("age: create pack dir: %w", err)
	}

	ages := PackAges(opts.Step)
	entries := make([]PackEntry, len(ages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, a := range ages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := e.ApplyClip(gctx, clip, float64(a))
			path := filepath.Join(opts.OutDir, fmt.Sprintf("age_%d.wav", a))
			if err := audio.WriteFile(path, out); err != nil {
				return fmt.Errorf("age: render %d: %w", a, err)
			}
			entries[i] = PackEntry{Age: a, Path: path}
			e.log.Debug("age: rendered pack entry", "age", a, "path", path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pack := &Pack{
		ID:         uuid.NewString(),
		SampleRate: clip.SampleRate,
		Step:       opts.Step,
		Entries:    entries,
	}
	manifest, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("age: encode pack manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(opts.OutDir, "manifest.json"), manifest, 0o644); err != nil {
		return nil, fmt.Errorf("age: write pack manifest: %w", err)
	}
	return pack, nil
}
