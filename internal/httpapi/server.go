// Package httpapi exposes the task submission and polling endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kaloper/douyin-fetch/internal/jobs"
	"github.com/kaloper/douyin-fetch/pkg/log"
)

// Server wires the job manager and workers behind an authenticated HTTP API.
type Server struct {
	manager     *jobs.Manager
	retriever   jobs.Retriever
	transcriber jobs.Transcriber
	gate        *semaphore.Weighted

	apiKey       string
	apiKeyHeader string

	mux    *http.ServeMux
	server *http.Server
}

// Config holds the server wiring. MaxConcurrent bounds how many submitted
// tasks run at once; the rest queue on the gate.
type Config struct {
	Addr          string
	APIKey        string
	APIKeyHeader  string
	MaxConcurrent int
}

func NewServer(cfg Config, manager *jobs.Manager, retriever jobs.Retriever, transcriber jobs.Transcriber) *Server {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-KEY"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}

	s := &Server{
		manager:      manager,
		retriever:    retriever,
		transcriber:  transcriber,
		gate:         semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		apiKey:       cfg.APIKey,
		apiKeyHeader: cfg.APIKeyHeader,
		mux:          http.NewServeMux(),
	}

	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/download", s.requireKey(s.handleDownload))
	s.mux.HandleFunc("/download_and_transcribe", s.requireKey(s.handleDownloadTranscribe))
	s.mux.HandleFunc("/task/", s.requireKey(s.handleTaskStatus))

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routing table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe() error {
	log.Info("HTTP API listening on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// requireKey guards an endpoint with the shared API key header.
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(s.apiKeyHeader) != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}

// handleRoot is the unauthenticated liveness probe.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "douyin-fetch",
		"status":  "ok",
	})
}

type submitRequest struct {
	VideoID string `json:"video_id"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	input, ok := s.readSubmission(w, r)
	if !ok {
		return
	}
	id := uuid.NewString()
	s.enqueue(w, jobs.NewDownloadTask(id, input, s.retriever))
}

func (s *Server) handleDownloadTranscribe(w http.ResponseWriter, r *http.Request) {
	input, ok := s.readSubmission(w, r)
	if !ok {
		return
	}
	id := uuid.NewString()
	s.enqueue(w, jobs.NewDownloadTranscribeTask(id, input, s.retriever, s.transcriber))
}

// readSubmission validates the method and body of a task submission.
func (s *Server) readSubmission(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return "", false
	}

	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}
	input := strings.TrimSpace(req.VideoID)
	if input == "" {
		writeError(w, http.StatusBadRequest, "video_id is required")
		return "", false
	}
	return input, true
}

// enqueue registers the task and starts it in the background. The submission
// response never waits for a gate slot.
func (s *Server) enqueue(w http.ResponseWriter, task jobs.Task) {
	s.manager.Register(task)
	go s.manager.RunTask(context.Background(), task.ID(), s.gate)

	log.Info("Task %s queued", task.ID())
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "queued",
		"task_id": task.ID(),
		"message": "Task accepted, poll /task/{task_id} for progress.",
	})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/task/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	job, ok := s.manager.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
