// Package coqui provides a voice-cloning TTS provider backed by a Coqui
// XTTS v2 API server.
//
// Synthesis is a two-step exchange. The reference recording is first
// registered with POST /clone_speaker (multipart, field "wav_files"), which
// answers with a speaker name; the text is then rendered with
// POST /tts_to_audio/ using that name as speaker_wav. Registered speakers
// are remembered per [tts.Request.VoiceKey] in a bounded LRU so repeated
// playback of the same version skips the upload.
//
// XTTS conditions on its own speaker encoder, so [tts.Request.Embedding] is
// not sent.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:8002",
//	    coqui.WithLanguage("en"),
//	    coqui.WithTimeout(60*time.Second),
//	)
//	clip, err := p.Synthesize(ctx, tts.Request{Text: "Hello", Reference: ref})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MrWong99/chronovox/pkg/audio"
	"github.com/MrWong99/chronovox/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage      = "en"
	defaultTimeout       = 30 * time.Second
	defaultSpeakerCache  = 64
	ttsEndpoint          = "/tts_to_audio/"
	cloneSpeakerEndpoint = "/clone_speaker"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the default language code (e.g., "en", "de").
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithOutputSampleRate resamples synthesised audio to rate. Zero keeps the
// model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// WithSpeakerCacheSize bounds the number of remembered cloned speakers.
func WithSpeakerCacheSize(n int) Option {
	return func(p *Provider) {
		p.cacheSize = n
	}
}

// Provider implements tts.Provider against an XTTS v2 server. It is safe for
// concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	outputRate int
	cacheSize  int
	speakers   *lru.Cache[string, string]
}

// New creates a Provider targeting serverURL (e.g., "http://localhost:8002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		cacheSize: defaultSpeakerCache,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.cacheSize <= 0 {
		p.cacheSize = defaultSpeakerCache
	}
	cache, err := lru.New[string, string](p.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("coqui: speaker cache: %w", err)
	}
	p.speakers = cache
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/.
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// cloneSpeakerResponse is the JSON body returned by POST /clone_speaker.
type cloneSpeakerResponse struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "coqui" }

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	if strings.TrimSpace(req.Text) == "" {
		return audio.Clip{}, errors.New("coqui: synthesize: empty text")
	}
	if len(req.Reference.Samples) == 0 {
		return audio.Clip{}, errors.New("coqui: synthesize: empty reference")
	}

	speaker, err := p.speaker(ctx, req)
	if err != nil {
		return audio.Clip{}, err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	clip, err := p.render(ctx, ttsRequest{Text: req.Text, SpeakerWav: speaker, Language: lang})
	if err != nil {
		return audio.Clip{}, err
	}

	if p.outputRate > 0 && clip.SampleRate != p.outputRate {
		clip, err = audio.Standardize(clip, p.outputRate)
		if err != nil {
			return audio.Clip{}, fmt.Errorf("coqui: resample output: %w", err)
		}
	}
	return clip, nil
}

// speaker returns the server-side speaker name for req, registering the
// reference when it is not cached.
func (p *Provider) speaker(ctx context.Context, req tts.Request) (string, error) {
	if req.VoiceKey != "" {
		if name, ok := p.speakers.Get(req.VoiceKey); ok {
			return name, nil
		}
	}
	name, err := p.cloneSpeaker(ctx, req.Reference)
	if err != nil {
		return "", err
	}
	if req.VoiceKey != "" {
		p.speakers.Add(req.VoiceKey, name)
	}
	return name, nil
}

func (p *Provider) cloneSpeaker(ctx context.Context, ref audio.Clip) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("wav_files", "reference.wav")
	if err != nil {
		return "", fmt.Errorf("coqui: create form file: %w", err)
	}
	if err := audio.EncodeWAV(fw, ref); err != nil {
		return "", fmt.Errorf("coqui: encode reference: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("coqui: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+cloneSpeakerEndpoint, &body)
	if err != nil {
		return "", fmt.Errorf("coqui: create clone-speaker request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("coqui: POST %s: %w", cloneSpeakerEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("coqui: POST %s returned status %d", cloneSpeakerEndpoint, resp.StatusCode)
	}

	var cloneResp cloneSpeakerResponse
	if err := json.NewDecoder(resp.Body).Decode(&cloneResp); err != nil {
		return "", fmt.Errorf("coqui: decode clone-speaker response: %w", err)
	}
	if cloneResp.Name == "" {
		return "", errors.New("coqui: clone-speaker response missing name")
	}
	return cloneResp.Name, nil
}

func (p *Provider) render(ctx context.Context, body ttsRequest) (audio.Clip, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return audio.Clip{}, fmt.Errorf("coqui: POST %s returned status %d: %s", ttsEndpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	clip, _, err := audio.DecodeWAV(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: decode WAV response: %w", err)
	}
	return clip, nil
}
