// Package server exposes profiles, sample submission, playback and ad-hoc
// age rendering over HTTP.
//
// Routes:
//
//	POST /v1/profiles                      enroll {"user_id","date_of_birth"}
//	GET  /v1/profiles/{id}                 profile record
//	POST /v1/profiles/{id}/samples         submit a WAV sample for verification
//	GET  /v1/profiles/{id}/playback        ?age=&text=&version=&format=json|wav
//	POST /v1/age                           ?age=  WAV in, aged WAV out
//	GET  /healthz, /readyz, /metrics
//
// Every route is wrapped with [observe.Middleware].
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/chronovox/internal/age"
	"github.com/MrWong99/chronovox/internal/health"
	"github.com/MrWong99/chronovox/internal/observe"
	"github.com/MrWong99/chronovox/internal/pipeline"
	"github.com/MrWong99/chronovox/internal/playback"
	"github.com/MrWong99/chronovox/internal/profile"
	"github.com/MrWong99/chronovox/pkg/audio"
)

// DefaultMaxUploadBytes caps request bodies when [Deps.MaxUploadBytes] is
// zero.
const DefaultMaxUploadBytes = 64 << 20

// Deps are the components the server routes to.
type Deps struct {
	Repo     profile.Repository
	Enroller *pipeline.Enroller
	Playback *playback.Service
	Engine   *age.Engine

	// Verifier handles sample submissions. Without it the samples route
	// answers 503.
	Verifier *pipeline.Verifier

	// Extras are applied by POST /v1/age.
	Extras age.Extras

	// Health is registered on /healthz and /readyz when non-nil.
	Health *health.Handler

	// MetricsHandler is served on /metrics when non-nil.
	MetricsHandler http.Handler

	Metrics        *observe.Metrics
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Server is the HTTP front end. Create it with [New].
type Server struct {
	deps    Deps
	log     *slog.Logger
	handler http.Handler
}

// New validates deps and builds the route table.
func New(deps Deps) (*Server, error) {
	var errs []error
	if deps.Repo == nil {
		errs = append(errs, errors.New("repository is required"))
	}
	if deps.Enroller == nil {
		errs = append(errs, errors.New("enroller is required"))
	}
	if deps.Playback == nil {
		errs = append(errs, errors.New("playback service is required"))
	}
	if deps.Engine == nil {
		errs = append(errs, errors.New("age engine is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	s := &Server{deps: deps, log: deps.Logger}
	if s.log == nil {
		s.log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/profiles", s.createProfile)
	mux.HandleFunc("GET /v1/profiles/{id}", s.getProfile)
	mux.HandleFunc("POST /v1/profiles/{id}/samples", s.submitSample)
	mux.HandleFunc("GET /v1/profiles/{id}/playback", s.play)
	mux.HandleFunc("POST /v1/age", s.ageClip)
	if deps.Health != nil {
		deps.Health.Register(mux)
	}
	if deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", deps.MetricsHandler)
	}
	s.handler = observe.Middleware(deps.Metrics)(mux)
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ── Profiles ────────────────────────────────────────────────────────────────

type createRequest struct {
	UserID      string `json:"user_id"`
	DateOfBirth string `json:"date_of_birth"`
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	p, err := s.deps.Enroller.Create(r.Context(), req.UserID, req.DateOfBirth)
	switch {
	case errors.Is(err, profile.ErrExists):
		writeError(w, http.StatusConflict, errors.New(pipeline.MsgUserExists))
	case errors.Is(err, pipeline.ErrInvalidUserID), errors.Is(err, pipeline.ErrInvalidBirthDate):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		s.internalError(w, r, "enroll", err)
	default:
		writeJSON(w, http.StatusCreated, p)
	}
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Repo.Load(r.Context(), r.PathValue("id"))
	if errors.Is(err, profile.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.internalError(w, r, "load profile", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ── Samples ─────────────────────────────────────────────────────────────────

func (s *Server) submitSample(w http.ResponseWriter, r *http.Request) {
	if s.deps.Verifier == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("sample verification is not configured"))
		return
	}
	clip, ok := s.readClip(w, r)
	if !ok {
		return
	}
	out := s.deps.Verifier.Process(r.Context(), r.PathValue("id"), clip)
	writeJSON(w, outcomeStatus(out), out)
}

// outcomeStatus maps a verification outcome to an HTTP status.
func outcomeStatus(out pipeline.Outcome) int {
	rej, ok := out.(pipeline.Rejected)
	if !ok {
		return http.StatusCreated
	}
	switch rej.Reason {
	case pipeline.ReasonUnknownUser:
		return http.StatusNotFound
	case pipeline.ReasonStorage:
		return http.StatusInternalServerError
	case pipeline.ReasonConflict:
		return http.StatusConflict
	case pipeline.ReasonEmbedding:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

// ── Playback ────────────────────────────────────────────────────────────────

func (s *Server) play(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	targetAge, err := parseAge(q.Get("age"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var versionID int64
	if v := q.Get("version"); v != "" {
		versionID, err = strconv.ParseInt(v, 10, 64)
		if err != nil || versionID <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid version %q", v))
			return
		}
	}
	format := q.Get("format")
	if format != "" && format != "json" && format != "wav" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid format %q (want json or wav)", format))
		return
	}

	res, err := s.deps.Playback.Play(r.Context(), r.PathValue("id"), targetAge, q.Get("text"), versionID)
	if errors.Is(err, profile.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.log.Warn("server: playback failed", "error", err, "trace_id", observe.CorrelationID(r.Context()))
		writeJSON(w, http.StatusBadGateway, res)
		return
	}

	if format != "wav" {
		writeJSON(w, http.StatusOK, res)
		return
	}
	if res.AudioRef == "" {
		writeJSON(w, http.StatusNotFound, res)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Playback-Mode", string(res.Mode))
	http.ServeFile(w, r, res.AudioRef)
}

// ── Ad-hoc aging ────────────────────────────────────────────────────────────

func (s *Server) ageClip(w http.ResponseWriter, r *http.Request) {
	targetAge, err := parseAge(r.URL.Query().Get("age"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	clip, ok := s.readClip(w, r)
	if !ok {
		return
	}
	clean, err := audio.Standardize(clip, audio.DefaultSampleRate)
	if err != nil || len(clean.Samples) == 0 {
		if err == nil {
			err = errors.New("empty clip")
		}
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	out, err := s.deps.Engine.Render(r.Context(), clean, targetAge, s.deps.Extras)
	if err != nil {
		s.internalError(w, r, "render", err)
		return
	}
	var buf bytes.Buffer
	if err := audio.EncodeWAV(&buf, out); err != nil {
		s.internalError(w, r, "encode", err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// ── Helpers ─────────────────────────────────────────────────────────────────

// readClip decodes a WAV request body. On failure it writes the response and
// returns false.
func (s *Server) readClip(w http.ResponseWriter, r *http.Request) (audio.Clip, bool) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return audio.Clip{}, false
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return audio.Clip{}, false
	}
	clip, _, err := audio.DecodeWAV(bytes.NewReader(buf.Bytes()))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, pipeline.Rejected{Reason: pipeline.ReasonPreprocess, Err: err})
		return audio.Clip{}, false
	}
	return clip, true
}

func parseAge(raw string) (float64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, errors.New("missing age parameter")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid age %q", raw)
	}
	return v, nil
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, action string, err error) {
	s.log.Error("server: "+action, "error", err, "path", r.URL.Path, "trace_id", observe.CorrelationID(r.Context()))
	writeError(w, http.StatusInternalServerError, err)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
