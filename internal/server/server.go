// Package server is the HTTP + WebSocket API surface: scan submission,
// status polling, artifact retrieval and live job progress. Every request
// is bound to a browser session cookie so artifact listings stay scoped to
// the caller.
package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shadowscan/shadowscan/internal/extractor"
	"github.com/shadowscan/shadowscan/internal/logging"
	"github.com/shadowscan/shadowscan/internal/narrative"
	"github.com/shadowscan/shadowscan/internal/orchestrator"
	"github.com/shadowscan/shadowscan/internal/pdfexport"
	"github.com/shadowscan/shadowscan/internal/render"
	"github.com/shadowscan/shadowscan/internal/scan"
	"github.com/shadowscan/shadowscan/internal/store"
	"github.com/shadowscan/shadowscan/internal/zaprunner"

	_ "modernc.org/sqlite" // SQLite driver
)

const sessionCookieName = "shadowscan_session"

type contextKey string

const sessionIDKey contextKey = "session_id"

// Server wires the scan pipeline behind the HTTP API.
type Server struct {
	cfg          Config
	orchestrator *orchestrator.Orchestrator
	store        *store.Store
	router       chi.Router
	upgrader     websocket.Upgrader
	logger       logging.Logger
	storeDB      *sql.DB
}

// NewServer builds the full pipeline and the router around it.
func NewServer(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("Server")
	}

	if cfg.StorageRoot == "" {
		cfg.StorageRoot = "storage"
	}
	if err := os.MkdirAll(cfg.StorageRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(cfg.StorageRoot, "shadowscan.db"))
	if err != nil {
		return nil, fmt.Errorf("opening artifact database: %w", err)
	}

	st, err := store.New(db, cfg.StorageRoot, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating artifact store: %w", err)
	}

	runner := zaprunner.New(cfg.Runner, logger)
	ext := extractor.New(logger)

	var client narrative.Client
	if cfg.Narrative.APIKey != "" {
		client = narrative.NewHTTPClient(cfg.Narrative)
	} else {
		logger.Warn("no narrative API key configured, enrichment disabled")
	}
	enr := narrative.NewEnricher(narrative.Config{OutputsDir: cfg.Orchestrator.OutputsDir}, client, logger)

	rend := render.New(render.Config{FinalDir: cfg.Orchestrator.FinalDir}, pdfexport.NewConverter(), logger)

	orch := orchestrator.New(cfg.Orchestrator, runner, ext, enr, rend, st, logger)
	orch.Start()

	s := &Server{
		cfg:          cfg,
		orchestrator: orch,
		store:        st,
		router:       chi.NewRouter(),
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: tighten for production
				return true
			},
		},
		storeDB: db,
	}

	s.routes()
	return s, nil
}

// Orchestrator returns the underlying orchestrator for advanced use (tests, etc.).
func (s *Server) Orchestrator() *orchestrator.Orchestrator {
	return s.orchestrator
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)
	r.Use(s.sessionMiddleware)

	// CORS preflight
	r.Options("/scan", s.optionsHandler("POST"))
	r.Options("/scan/{taskID}/status", s.optionsHandler("GET"))
	r.Options("/jobs", s.optionsHandler("GET"))
	r.Options("/artifacts/{artifactID}", s.optionsHandler("GET"))
	r.Options("/reports/{reportID}", s.optionsHandler("GET"))
	r.Options("/reports/{reportID}/artifacts/{role}", s.optionsHandler("GET"))
	r.Options("/session/artifacts", s.optionsHandler("GET"))
	r.Options("/sessions/{sessionID}/artifacts", s.optionsHandler("GET"))

	// Scans
	r.Post("/scan", s.handleStartScan)
	r.Get("/scan/{taskID}/status", s.handleScanStatus)
	r.Get("/jobs", s.handleListJobs)

	// Artifacts and reports
	r.Get("/artifacts/{artifactID}", s.handleGetArtifact)
	r.Get("/reports/{reportID}", s.handleGetReport)
	r.Get("/reports/{reportID}/artifacts/{role}", s.handleGetReportArtifact)
	r.Get("/session/artifacts", s.handleOwnSessionArtifacts)
	r.Get("/sessions/{sessionID}/artifacts", s.handleSessionArtifacts)

	// WebSockets for job progress
	r.Get("/ws/jobs/{taskID}", s.handleJobWS)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

// sessionMiddleware binds every request to a session id: an existing valid
// cookie is reused, anything else gets a fresh one. The session row is
// upserted so listings and activity tracking work from the first request.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := ""
		if c, err := r.Cookie(sessionCookieName); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				sessionID = c.Value
			}
		}
		if sessionID == "" {
			sessionID = uuid.New().String()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    sessionID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				MaxAge:   int((30 * 24 * time.Hour).Seconds()),
			})
		}

		if _, err := s.store.GetOrCreateSession(r.Context(), sessionID, r.UserAgent(), clientIP(r)); err != nil {
			s.logger.Warn("upserting session", logging.Field{Key: "error", Value: err.Error()})
		}

		ctx := context.WithValue(r.Context(), sessionIDKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}

	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// Close shuts down the orchestrator and underlying resources.
func (s *Server) Close() {
	if s.orchestrator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.orchestrator.Shutdown(ctx); err != nil {
			s.logger.Warn("orchestrator shutdown", logging.Field{Key: "error", Value: err.Error()})
		}
	}
	if s.storeDB != nil {
		s.storeDB.Close()
	}
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- HTTP handlers ---

// Scans

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var body ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	target := body.Target()
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}

	scanType, err := scan.ParseScanType(body.ScanType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reportType, err := scan.ParseReportType(body.ReportType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reportFormat, err := scan.ParseReportFormat(body.ReportFormat)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.orchestrator.Submit(target, scanType, reportType, reportFormat, sessionFromContext(r.Context()))
	if err != nil {
		s.logger.Warn("submitting scan", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("scan submitted",
		logging.Field{Key: "task_id", Value: job.ID},
		logging.Field{Key: "target", Value: job.TargetURL},
		logging.Field{Key: "scan_type", Value: string(job.ScanType)})
	writeJSON(w, http.StatusAccepted, ScanAccepted{
		TaskID:   job.ID,
		Status:   "Scan initiated",
		Target:   job.TargetURL,
		ScanType: string(job.ScanType),
	})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	job := s.orchestrator.GetJob(taskID)
	if job == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		TaskID: job.ID,
		State:  string(job.Status),
		Error:  job.Error,
		Result: job.Result,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.orchestrator.ListJobs()
	s.logger.Info("listed jobs", logging.Field{Key: "count", Value: len(jobs)})
	writeJSON(w, http.StatusOK, jobs)
}

// Artifacts and reports

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "artifactID")
	data, filename, contentType, err := s.store.Get(r.Context(), artifactID)
	if err != nil {
		if errors.Is(err, store.ErrArtifactNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		s.logger.Warn("fetching artifact", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	serveArtifact(w, data, filename, contentType)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	rec, err := s.store.GetReport(r.Context(), reportID)
	if err != nil {
		if errors.Is(err, store.ErrReportNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetReportArtifact(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	role := chi.URLParam(r, "role")

	data, filename, contentType, err := s.store.ReadReportArtifact(r.Context(), reportID, role)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrReportNotFound):
			writeError(w, http.StatusNotFound, "report not found")
		case errors.Is(err, store.ErrArtifactNotFound):
			writeError(w, http.StatusNotFound, "artifact not found")
		default:
			s.logger.Warn("reading report artifact", logging.Field{Key: "error", Value: err.Error()})
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	serveArtifact(w, data, filename, contentType)
}

func serveArtifact(w http.ResponseWriter, data []byte, filename, contentType string) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleOwnSessionArtifacts(w http.ResponseWriter, r *http.Request) {
	s.writeSessionArtifacts(w, r, sessionFromContext(r.Context()))
}

func (s *Server) handleSessionArtifacts(w http.ResponseWriter, r *http.Request) {
	s.writeSessionArtifacts(w, r, chi.URLParam(r, "sessionID"))
}

func (s *Server) writeSessionArtifacts(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}
	groups, err := s.store.ListSessionArtifacts(r.Context(), sessionID)
	if err != nil {
		s.logger.Warn("listing session artifacts", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"groups":     groups,
	})
}

// WebSockets

func (s *Server) handleJobWS(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	job := s.orchestrator.GetJob(taskID)
	if job == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	// Initial snapshot so late subscribers see the current state.
	_ = conn.WriteJSON(job)

	events := s.orchestrator.Events(taskID)
	if events == nil {
		return
	}
	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	// Channel closed: the job is terminal; send the final snapshot.
	if final := s.orchestrator.GetJob(taskID); final != nil {
		_ = conn.WriteJSON(final)
	}
}
