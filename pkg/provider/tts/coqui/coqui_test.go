package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/chronovox/pkg/audio"
	"github.com/MrWong99/chronovox/pkg/provider/tts"
)

func refClip() audio.Clip {
	s := make([]float64, 8000)
	for i := range s {
		s[i] = 0.1
	}
	return audio.Clip{Samples: s, SampleRate: 16000}
}

func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

// xttsServer fakes /clone_speaker and /tts_to_audio/. It counts clone calls
// and answers synthesis with outSamples of silence at outRate.
type xttsServer struct {
	*httptest.Server
	clones    atomic.Int32
	lastTTS   atomic.Pointer[ttsRequest]
	outRate   int
	outLength int
}

func newXTTSServer(t *testing.T, outRate, outLength int) *xttsServer {
	t.Helper()
	s := &xttsServer{outRate: outRate, outLength: outLength}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+cloneSpeakerEndpoint, func(w http.ResponseWriter, r *http.Request) {
		s.clones.Add(1)
		f, _, err := r.FormFile("wav_files")
		if err != nil {
			t.Errorf("clone: form file: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer f.Close()
		if _, _, err := audio.DecodeWAV(f); err != nil {
			t.Errorf("clone: decode upload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(cloneSpeakerResponse{Name: "speaker-1"})
	})
	mux.HandleFunc("POST "+ttsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("tts: decode: %v", err)
		}
		s.lastTTS.Store(&req)
		var buf bytes.Buffer
		_ = audio.EncodeWAV(&buf, audio.Clip{Samples: make([]float64, s.outLength), SampleRate: s.outRate})
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(buf.Bytes())
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:8002/")
		if p.serverURL != "http://localhost:8002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", p.serverURL)
		}
		if p.language != defaultLanguage {
			t.Errorf("language = %q, want %q", p.language, defaultLanguage)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
		if p.Name() != "coqui" {
			t.Errorf("Name() = %q", p.Name())
		}
	})

	t.Run("options", func(t *testing.T) {
		p := mustNew(t, "http://x", WithLanguage("de"), WithTimeout(time.Second), WithOutputSampleRate(22050), WithSpeakerCacheSize(2))
		if p.language != "de" || p.httpClient.Timeout != time.Second || p.outputRate != 22050 || p.cacheSize != 2 {
			t.Errorf("options not applied: %+v", p)
		}
	})

	t.Run("empty url", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("expected error for empty URL")
		}
	})
}

func TestSynthesize(t *testing.T) {
	srv := newXTTSServer(t, 24000, 2400)
	p := mustNew(t, srv.URL)

	clip, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello there.", Reference: refClip(), Language: "fr"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.SampleRate != 24000 || len(clip.Samples) != 2400 {
		t.Errorf("clip = %d samples @ %d Hz, want 2400 @ 24000", len(clip.Samples), clip.SampleRate)
	}
	req := srv.lastTTS.Load()
	if req == nil {
		t.Fatal("no tts request recorded")
	}
	if req.SpeakerWav != "speaker-1" || req.Text != "Hello there." || req.Language != "fr" {
		t.Errorf("tts request = %+v", *req)
	}
}

func TestSynthesize_ReusesSpeaker(t *testing.T) {
	srv := newXTTSServer(t, 16000, 160)
	p := mustNew(t, srv.URL)

	req := tts.Request{Text: "one", Reference: refClip(), VoiceKey: "alice_1"}
	for range 3 {
		if _, err := p.Synthesize(context.Background(), req); err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
	}
	if n := srv.clones.Load(); n != 1 {
		t.Errorf("clone calls = %d, want 1", n)
	}

	// Without a key every call uploads.
	req.VoiceKey = ""
	for range 2 {
		if _, err := p.Synthesize(context.Background(), req); err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
	}
	if n := srv.clones.Load(); n != 3 {
		t.Errorf("clone calls = %d, want 3", n)
	}
}

func TestSynthesize_Resamples(t *testing.T) {
	srv := newXTTSServer(t, 24000, 24000)
	p := mustNew(t, srv.URL, WithOutputSampleRate(16000))

	clip, err := p.Synthesize(context.Background(), tts.Request{Text: "hi", Reference: refClip()})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.SampleRate != 16000 || len(clip.Samples) != 16000 {
		t.Errorf("clip = %d samples @ %d Hz, want 16000 @ 16000", len(clip.Samples), clip.SampleRate)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     tts.Request
		handler http.HandlerFunc
	}{
		{name: "empty text", req: tts.Request{Text: "  ", Reference: refClip()}},
		{name: "empty reference", req: tts.Request{Text: "hi"}},
		{
			name: "clone fails",
			req:  tts.Request{Text: "hi", Reference: refClip()},
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "clone missing name",
			req:  tts.Request{Text: "hi", Reference: refClip()},
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			},
		},
		{
			name: "tts returns garbage",
			req:  tts.Request{Text: "hi", Reference: refClip()},
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == cloneSpeakerEndpoint {
					_, _ = w.Write([]byte(`{"name":"s"}`))
					return
				}
				_, _ = w.Write([]byte("not a wav"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "http://127.0.0.1:19999"
			if tt.handler != nil {
				srv := httptest.NewServer(tt.handler)
				defer srv.Close()
				url = srv.URL
			}
			p := mustNew(t, url)
			if _, err := p.Synthesize(context.Background(), tt.req); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}
