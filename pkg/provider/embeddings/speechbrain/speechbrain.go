// Package speechbrain provides a speaker-embedding provider backed by a
// SpeechBrain inference sidecar.
//
// The sidecar exposes a single endpoint, POST /embed, which accepts a
// 16-bit mono WAV body and answers with a JSON object holding the model name
// and the embedding vector. Clips are resampled to 16 kHz before upload
// because the ECAPA and x-vector recipes are trained at that rate.
//
// Example usage:
//
//	p, err := speechbrain.New("", "speechbrain/spkrec-ecapa-voxceleb") // http://localhost:8088
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vec, err := p.Embed(ctx, clip)
package speechbrain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/chronovox/pkg/audio"
	"github.com/MrWong99/chronovox/pkg/provider/embeddings"
)

// DefaultBaseURL is the default address of a locally running sidecar.
const DefaultBaseURL = "http://localhost:8088"

// DefaultModel is the ECAPA-TDNN VoxCeleb model.
const DefaultModel = "speechbrain/spkrec-ecapa-voxceleb"

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider against a SpeechBrain sidecar.
//
// Dimension resolution happens in this order:
//  1. Value supplied via WithDimensions.
//  2. The built-in table for recognised model names.
//  3. A single probe embed of one second of silence, cached for the
//     lifetime of the Provider.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client

	dimensions int
	detectOnce sync.Once
	detectErr  error
}

type config struct {
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Zero means none.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions pre-sets the embedding dimension and skips the probe.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// New constructs a Provider. An empty baseURL means [DefaultBaseURL]; an
// empty model means [DefaultModel].
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("speechbrain embeddings: base URL %q must be http(s)", baseURL)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	p := &Provider{
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		dimensions: cfg.dimensions,
	}
	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}
	return p, nil
}

type embedResponse struct {
	Model     string    `json:"model"`
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, clip audio.Clip) ([]float32, error) {
	if len(clip.Samples) == 0 {
		return nil, fmt.Errorf("speechbrain embeddings: embed: empty clip")
	}
	std, err := audio.Standardize(clip, audio.DefaultSampleRate)
	if err != nil {
		return nil, fmt.Errorf("speechbrain embeddings: embed: %w", err)
	}
	vec, err := p.callEmbed(ctx, std)
	if err != nil {
		return nil, fmt.Errorf("speechbrain embeddings: embed: %w", err)
	}
	if d := p.dimensions; d != 0 && len(vec) != d {
		return nil, fmt.Errorf("speechbrain embeddings: embed: got %d dimensions, want %d", len(vec), d)
	}
	return vec, nil
}

// Dimensions implements embeddings.Provider. Returns 0 when the probe fails.
func (p *Provider) Dimensions() int {
	if p.dimensions != 0 {
		return p.dimensions
	}
	p.detectOnce.Do(func() {
		silence := audio.Clip{Samples: make([]float64, audio.DefaultSampleRate), SampleRate: audio.DefaultSampleRate}
		vec, err := p.callEmbed(context.Background(), silence)
		if err != nil {
			p.detectErr = err
			return
		}
		p.dimensions = len(vec)
	})
	return p.dimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) callEmbed(ctx context.Context, clip audio.Clip) ([]float32, error) {
	var body bytes.Buffer
	if err := audio.EncodeWAV(&body, clip); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("X-Model", p.model)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("sidecar: %s", result.Error)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return result.Embedding, nil
}

// knownDimensions returns the output size of recognised SpeechBrain models,
// or 0 to trigger a probe.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "ecapa"):
		return 192
	case strings.Contains(lower, "xvect"):
		return 512
	case strings.Contains(lower, "resnet"):
		return 256
	default:
		return 0
	}
}
