package playback

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/chronovox/internal/age"
	"github.com/MrWong99/chronovox/internal/artifact"
	"github.com/MrWong99/chronovox/internal/profile"
	"github.com/MrWong99/chronovox/internal/profile/profiletest"
	"github.com/MrWong99/chronovox/pkg/audio"
	ttsmock "github.com/MrWong99/chronovox/pkg/provider/tts/mock"
)

type fixture struct {
	repo  *profile.MemoryStore
	store *artifact.Store
	out   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifact.NewStore: %v", err)
	}
	return &fixture{repo: profile.NewMemoryStore(), store: store, out: t.TempDir()}
}

func (f *fixture) service(t *testing.T, opts ...Option) *Service {
	t.Helper()
	engine := age.New(age.WithLogger(slog.New(slog.DiscardHandler)))
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	s, err := NewService(f.repo, f.store, engine, f.out, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

// voice is a harmonic test tone at 16 kHz.
func voice(seconds float64) audio.Clip {
	n := int(seconds * audio.DefaultSampleRate)
	x := make([]float64, n)
	for i := range x {
		tt := float64(i) / audio.DefaultSampleRate
		for h := 1; h <= 4; h++ {
			x[i] += 0.5 / float64(h) * math.Sin(2*math.Pi*150*float64(h)*tt)
		}
	}
	return audio.Clip{Samples: x, SampleRate: audio.DefaultSampleRate}
}

// seed enrolls userID with one recorded version and returns it.
func (f *fixture) seed(t *testing.T, userID string) profile.Version {
	t.Helper()
	ctx := context.Background()
	if err := f.repo.Create(ctx, profiletest.NewProfile(userID)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	const id = 1_700_000_000_000
	audioRel, err := f.store.PutAudio(userID, id, voice(0.5))
	if err != nil {
		t.Fatalf("PutAudio: %v", err)
	}
	embRel, err := f.store.PutEmbedding(userID, id, []float32{0.6, 0.8})
	if err != nil {
		t.Fatalf("PutEmbedding: %v", err)
	}
	v := profile.Version{
		ID:            id,
		AudioPath:     audioRel,
		EmbeddingPath: embRel,
		Confidence:    1,
		Type:          profile.VoiceRecorded,
		Created:       time.UnixMilli(id).UTC(),
	}
	if err := f.repo.AppendVersion(ctx, userID, 0, v); err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}
	return v
}

func TestPlay_BaseAgeIsNormalizedInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.seed(t, "alice")
	s := f.service(t)

	res, err := s.Play(context.Background(), "alice", age.BaseAge, "", 0)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.Mode != ModeAged {
		t.Fatalf("Mode = %s, want AGED", res.Mode)
	}
	if res.VersionID != v.ID {
		t.Errorf("VersionID = %d, want %d", res.VersionID, v.ID)
	}

	stored, err := f.store.LoadAudio(v.AudioPath)
	if err != nil {
		t.Fatalf("LoadAudio: %v", err)
	}
	got, _, err := audio.ReadFile(res.AudioRef)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := audio.Normalize(stored.Samples)
	if len(got.Samples) != len(want) {
		t.Fatalf("len = %d, want %d", len(got.Samples), len(want))
	}
	for i := range want {
		if math.Abs(got.Samples[i]-want[i]) > 1.0/32768 {
			t.Fatalf("sample %d = %v, want %v", i, got.Samples[i], want[i])
		}
	}
}

func TestPlay_AgedWritesOutput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "bob")
	s := f.service(t)

	res, err := s.Play(context.Background(), "bob", 68, "", 0)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.Mode != ModeAged || res.Reason != ReasonAged {
		t.Fatalf("Result = %+v", res)
	}
	if res.Relation != RelationOlder || res.Alpha <= 0 {
		t.Errorf("Relation = %q Alpha = %v, want older with positive alpha", res.Relation, res.Alpha)
	}
	if filepath.Dir(res.AudioRef) != f.out {
		t.Errorf("AudioRef %q not in output dir %q", res.AudioRef, f.out)
	}
	if base := filepath.Base(res.AudioRef); !strings.HasPrefix(base, "bob_aged_68_") {
		t.Errorf("output name = %q", base)
	}
	if _, err := os.Stat(res.AudioRef); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestPlay_Recorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.seed(t, "carol")
	s := f.service(t)

	res, err := s.Play(context.Background(), "carol", 50, "", v.ID)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	want := Result{Mode: ModeRecorded, AudioRef: f.store.Path(v.AudioPath), Reason: ReasonRecorded, VersionID: v.ID}
	if res != want {
		t.Errorf("Result = %+v, want %+v", res, want)
	}
}

func TestPlay_MissingArtifacts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		versionID  bool
		wantReason string
	}{
		{name: "recorded", versionID: true, wantReason: ReasonRecordedMissing},
		{name: "aged", wantReason: ReasonBaseMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			v := f.seed(t, "dave")
			if err := f.store.Remove(v.AudioPath); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			var id int64
			if tt.versionID {
				id = v.ID
			}
			res, err := f.service(t).Play(context.Background(), "dave", 40, "", id)
			if err != nil {
				t.Fatalf("Play: %v", err)
			}
			if res.Mode != ModeError || res.Reason != tt.wantReason {
				t.Errorf("Result = %+v, want ERROR %q", res, tt.wantReason)
			}
		})
	}
}

func TestPlay_NoVersions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.repo.Create(context.Background(), profiletest.NewProfile("erin")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	res, err := f.service(t).Play(context.Background(), "erin", 40, "hi", 0)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.Mode != ModeNone || res.Reason != ReasonNoVoice {
		t.Errorf("Result = %+v", res)
	}
}

func TestPlay_UnknownUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.service(t).Play(context.Background(), "ghost", 40, "", 0)
	if !errors.Is(err, profile.ErrNotFound) {
		t.Errorf("err = %v, want profile.ErrNotFound", err)
	}
}

func TestPlay_InvalidAge(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "fay")
	if _, err := f.service(t).Play(context.Background(), "fay", math.NaN(), "", 0); err == nil {
		t.Error("NaN target age accepted")
	}
}

func TestPlay_Synthesizer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "gus")
	synth := &ttsmock.Provider{SynthesizeResult: voice(0.25)}
	s := f.service(t, WithSynthesizer(synth))

	res, err := s.Play(context.Background(), "gus", 6, "I went home.", 0)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.Mode != ModeAged || res.Reason != ReasonAgedNeural {
		t.Fatalf("Result = %+v", res)
	}

	calls := synth.Calls()
	if len(calls) != 1 {
		t.Fatalf("Synthesize called %d times, want 1", len(calls))
	}
	req := calls[0].Request
	if want := "Hi! I went home!  I like talking. "; req.Text != want {
		t.Errorf("Text = %q, want shaped %q", req.Text, want)
	}
	if len(req.Embedding) != 2 || req.Embedding[0] != 0.6 {
		t.Errorf("Embedding = %v", req.Embedding)
	}
	if len(req.Reference.Samples) == 0 {
		t.Error("Reference clip empty")
	}
	if req.VoiceKey != "gus_1700000000000" {
		t.Errorf("VoiceKey = %q", req.VoiceKey)
	}
	if _, ok := calls[0].Ctx.Deadline(); !ok {
		t.Error("synthesizer context has no deadline")
	}

	got, _, err := audio.ReadFile(res.AudioRef)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got.Samples) != len(synth.SynthesizeResult.Samples) {
		t.Errorf("output len = %d, want synthesizer clip", len(got.Samples))
	}
}

func TestPlay_SynthesizerSkippedWithoutText(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "hal")
	synth := &ttsmock.Provider{SynthesizeResult: voice(0.25)}
	res, err := f.service(t, WithSynthesizer(synth)).Play(context.Background(), "hal", 40, "  ", 0)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.Reason != ReasonAged {
		t.Errorf("Reason = %q, want DSP rendering", res.Reason)
	}
	if n := len(synth.Calls()); n != 0 {
		t.Errorf("Synthesize called %d times", n)
	}
}

func TestPlay_SynthesizerFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "ivy")
	boom := errors.New("backend down")
	synth := &ttsmock.Provider{SynthesizeErr: boom}

	res, err := f.service(t, WithSynthesizer(synth)).Play(context.Background(), "ivy", 40, "Hello.", 0)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if res.Mode != ModeError || res.Reason != ReasonSynthFailed {
		t.Errorf("Result = %+v", res)
	}
}

func TestNewService_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	engine := age.New()
	if _, err := NewService(nil, f.store, engine, f.out); err == nil {
		t.Error("nil repository accepted")
	}
	if _, err := NewService(f.repo, f.store, engine, ""); err == nil {
		t.Error("empty output dir accepted")
	}
}

func TestOutputName(t *testing.T) {
	t.Parallel()

	a, b := OutputName("alice", 6.6), OutputName("alice", 6.6)
	if !strings.HasPrefix(a, "alice_aged_7_") || !strings.HasSuffix(a, ".wav") || len(a) != len("alice_aged_7_")+8+len(".wav") {
		t.Errorf("OutputName = %q", a)
	}
	if a == b {
		t.Error("OutputName is not unique")
	}
}
