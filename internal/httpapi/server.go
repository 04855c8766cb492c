// Package httpapi exposes evaluations over HTTP.
//
// Routes:
//
//	POST /v1/evaluations       multipart upload: file, job_title, required_qualities, candidate, candidate_name
//	GET  /v1/evaluations       newest first; ?limit=N (default 50)
//	GET  /v1/evaluations/{id}  one evaluation with its turns, segments and records
//	POST /v1/scores            JSON transcript scoring without audio
//
// Every evaluation waits on a shared semaphore bound to the request context,
// so a client that disconnects while queued never starts a pipeline run.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/vocahire/vocahire/internal/evaluate"
	"github.com/vocahire/vocahire/internal/extract"
	"github.com/vocahire/vocahire/internal/notify"
	"github.com/vocahire/vocahire/internal/observe"
	"github.com/vocahire/vocahire/internal/pipeline"
	"github.com/vocahire/vocahire/internal/store"
	"github.com/vocahire/vocahire/pkg/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// Parts of a multipart form beyond this size spill to disk.
	multipartMemory = 8 << 20
)

// Evaluator runs evaluations. *pipeline.Orchestrator satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	ScoreTranscript(ctx context.Context, transcript evaluate.TranscriptInput, jobTitle string, qualities []string) (*pipeline.Result, error)
}

var _ Evaluator = (*pipeline.Orchestrator)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithLimiter shares a concurrency bound with other evaluation surfaces.
// Default: one evaluation at a time.
func WithLimiter(sem *semaphore.Weighted) Option {
	return func(s *Server) { s.sem = sem }
}

// WithNotifier announces every stored result.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

// WithMaxUploadBytes caps the request body of uploads. Default: 200 MiB.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// WithUploadDir sets where uploads are staged. Default: the OS temp dir.
func WithUploadDir(dir string) Option {
	return func(s *Server) { s.uploadDir = dir }
}

// Server is the HTTP front end. It is safe for concurrent use.
type Server struct {
	eval      Evaluator
	store     store.Store
	notifier  notify.Notifier
	sem       *semaphore.Weighted
	maxUpload int64
	uploadDir string
}

// New returns a Server backed by eval and st.
func New(eval Evaluator, st store.Store, opts ...Option) (*Server, error) {
	if eval == nil || st == nil {
		return nil, errors.New("httpapi: evaluator and store are required")
	}
	s := &Server{
		eval:      eval,
		store:     st,
		notifier:  notify.Nop{},
		sem:       semaphore.NewWeighted(1),
		maxUpload: 200 << 20,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/evaluations", s.handleCreate)
	mux.HandleFunc("GET /v1/evaluations", s.handleList)
	mux.HandleFunc("GET /v1/evaluations/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/scores", s.handleScore)
}

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.maxUpload), "")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", tooBig.Limit), "")
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err), "")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // best-effort temp cleanup

	jobTitle := strings.TrimSpace(r.FormValue("job_title"))
	if jobTitle == "" {
		writeError(w, http.StatusBadRequest, errors.New("job_title is required"), "")
		return
	}
	policy, err := parseCandidate(r.FormValue("candidate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file is required: %w", err), "")
		return
	}
	defer file.Close()

	path, err := s.stage(file, header.Filename)
	if err != nil {
		observe.Logger(r.Context()).Error("httpapi: stage upload", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("could not store upload"), "")
		return
	}
	defer os.Remove(path)

	ctx := observe.WithSource(r.Context(), string(store.SourceHTTP))
	if err := s.sem.Acquire(ctx, 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("request cancelled while queued"), "")
		return
	}
	qualities := SplitQualities(r.FormValue("required_qualities"))
	res, err := s.eval.Evaluate(ctx, pipeline.Request{
		AudioPath: path,
		JobTitle:  jobTitle,
		Qualities: qualities,
		Candidate: policy,
	})
	s.sem.Release(1)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}

	e := store.NewEvaluation(store.SourceHTTP, jobTitle, qualities, *res)
	e.AudioName = filepath.Base(header.Filename)
	e.CandidateName = strings.TrimSpace(r.FormValue("candidate_name"))
	s.persist(w, r, e)
}

// scoreRequest is the body of POST /v1/scores. Segments, when present,
// take precedence over Transcript.
type scoreRequest struct {
	Transcript        string              `json:"transcript"`
	Segments          []types.TextSegment `json:"segments"`
	JobTitle          string              `json:"job_title"`
	RequiredQualities []string            `json:"required_qualities"`
	CandidateName     string              `json:"candidate_name"`
}

func (r scoreRequest) input() evaluate.TranscriptInput {
	if len(r.Segments) > 0 {
		return evaluate.Segments(r.Segments)
	}
	return evaluate.PlainText(r.Transcript)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err), "")
		return
	}

	ctx := observe.WithSource(r.Context(), string(store.SourceHTTP))
	if err := s.sem.Acquire(ctx, 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("request cancelled while queued"), "")
		return
	}
	res, err := s.eval.ScoreTranscript(ctx, req.input(), req.JobTitle, req.RequiredQualities)
	s.sem.Release(1)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}

	e := store.NewEvaluation(store.SourceHTTP, strings.TrimSpace(req.JobTitle), req.RequiredQualities, *res)
	e.CandidateName = strings.TrimSpace(req.CandidateName)
	s.persist(w, r, e)
}

// persist stores e, notifies and writes 201 with the evaluation.
func (s *Server) persist(w http.ResponseWriter, r *http.Request, e store.Evaluation) {
	ctx := r.Context()
	if err := s.store.SaveEvaluation(ctx, e); err != nil {
		observe.Logger(ctx).Error("httpapi: save evaluation", "id", e.ID, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("could not save evaluation"), "")
		return
	}
	if err := s.notifier.Notify(ctx, e); err != nil {
		observe.Logger(ctx).Warn("httpapi: notify", "id", e.ID, "err", err)
	}
	w.Header().Set("Location", "/v1/evaluations/"+e.ID)
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !store.ValidID(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("evaluation %q not found", id), "")
		return
	}
	e, err := s.store.GetEvaluation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("evaluation %q not found", id), "")
		return
	}
	if err != nil {
		observe.Logger(r.Context()).Error("httpapi: get evaluation", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("could not load evaluation"), "")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit %q must be a positive integer", raw), "")
			return
		}
		limit = min(n, maxListLimit)
	}
	list, err := s.store.ListEvaluations(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("httpapi: list evaluations", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("could not list evaluations"), "")
		return
	}
	if list == nil {
		list = []store.Evaluation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": list})
}

// stage copies an upload into the upload directory, keeping its extension
// so format-sniffing providers see the right suffix.
func (s *Server) stage(src io.Reader, name string) (string, error) {
	f, err := os.CreateTemp(s.uploadDir, "upload-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// StatusFor maps a pipeline error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, extract.ErrEmptyTranscript):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case pipeline.FailedStage(err) != "":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	stage := string(pipeline.FailedStage(err))
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("httpapi: evaluation failed", "stage", stage, "status", status, "err", err)
	} else {
		log.Info("httpapi: evaluation rejected", "stage", stage, "status", status, "err", err)
	}
	writeError(w, status, err, stage)
}

// SplitQualities parses a comma-separated list, dropping blanks.
func SplitQualities(s string) []string {
	var out []string
	for q := range strings.SplitSeq(s, ",") {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

func parseCandidate(raw string) (*extract.Policy, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	p, err := extract.ParsePolicy(raw)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func writeError(w http.ResponseWriter, status int, err error, stage string) {
	writeJSON(w, status, errorBody{Error: err.Error(), Stage: stage})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("httpapi: encode response", "err", err)
	}
}
