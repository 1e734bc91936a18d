// Package api exposes pipeline control, zone and source settings,
// violation queries, clips and the live annotated stream over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/LdDl/redlight-go/pipeline"
	"github.com/LdDl/redlight-go/registry"
	"github.com/LdDl/redlight-go/stream"
	"github.com/LdDl/redlight-go/violation"
	"github.com/LdDl/redlight-go/zone"
)

// DefaultAddress to listen on
const DefaultAddress = "127.0.0.1:5000"

// TimeNow is the clock used in responses
var TimeNow = time.Now

// Pipeline is the control surface of the orchestrator
type Pipeline interface {
	Start(ctx context.Context) error
	Stop() bool
	Status() pipeline.Status
	Settings() *pipeline.Settings
}

// Violations answers violation queries
type Violations interface {
	Query(limit int) []violation.Event
}

// ServerOptions configures the HTTP server
type ServerOptions struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	// Doesn't apply to /video_feed
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// Directory clips are served from
	ClipsDir string
	// Cap of /violations results
	QueryLimit int
	// Live stream source, /video_feed answers 404 when nil
	Feed *stream.Feed
	// Parent of pipeline runs started through /start
	RunContext context.Context
	Logger     *slog.Logger
}

// Server hosts the HTTP API
type Server struct {
	http       *http.Server
	pipeline   Pipeline
	violations Violations
	logger     *slog.Logger
	opts       ServerOptions
}

// NewServer constructs server. It does not listen until Start is called.
func NewServer(p Pipeline, violations Violations, opts ServerOptions) *Server {
	if p == nil || violations == nil {
		panic("api.NewServer: nil pipeline or violations")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddress
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.ReadHeaderTimeout == 0 {
		opts.ReadHeaderTimeout = 2 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.QueryLimit <= 0 || opts.QueryLimit > registry.DefaultQueryLimit {
		opts.QueryLimit = registry.DefaultQueryLimit
	}
	if opts.RunContext == nil {
		opts.RunContext = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "api")

	mux := http.NewServeMux()
	s := &Server{
		pipeline:   p,
		violations: violations,
		logger:     logger,
		opts:       opts,
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           withLogging(mux, logger),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /violations", s.handleViolations)
	mux.HandleFunc("GET /zone", s.handleGetZone)
	mux.HandleFunc("POST /zone", s.handleSetZone)
	mux.HandleFunc("POST /source", s.handleSetSource)
	mux.HandleFunc("GET /clips/{name}", s.handleClip)
	mux.HandleFunc("GET /video_feed", s.handleVideoFeed)
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe serves until Stop. It returns nil after a graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

// Start serves in a background goroutine
func (s *Server) Start() {
	go func() {
		if err := s.ListenAndServe(); err != nil {
			s.logger.Error("server failed", "error", err.Error())
		}
	}()
}

// Stop gracefully shuts down the server, waiting up to ShutdownTimeout
func (s *Server) Stop(ctx context.Context) error {
	timeout := s.opts.ShutdownTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": TimeNow().UTC().Format(time.RFC3339),
	})
}

// handleStart opens the configured source and starts processing.
// 409 while running, 503 when the source can't be opened.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.pipeline.Start(s.opts.RunContext)
	switch {
	case err == nil:
		st := s.pipeline.Status()
		s.writeJSON(w, http.StatusOK, ControlResponse{Status: "started", RunID: st.RunID})
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, pipeline.ErrSourceUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	st := s.pipeline.Status()
	if !s.pipeline.Stop() {
		s.writeJSON(w, http.StatusOK, ControlResponse{Status: "idle"})
		return
	}
	s.writeJSON(w, http.StatusOK, ControlResponse{Status: "stopped", RunID: st.RunID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pipeline.Status())
}

// handleViolations returns newest events first, at most min(limit, QueryLimit)
func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	limit := s.opts.QueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, errors.Errorf("limit must be a positive integer, got '%s'", raw))
			return
		}
		if n < limit {
			limit = n
		}
	}
	s.writeJSON(w, http.StatusOK, s.violations.Query(limit))
}

func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	poly := s.pipeline.Settings().Zone().Polygon()
	s.writeJSON(w, http.StatusOK, ZoneBody{Points: poly.Pairs()})
}

func (s *Server) handleSetZone(w http.ResponseWriter, r *http.Request) {
	var req ZoneBody
	if !s.decodeJSON(w, r, &req) {
		return
	}
	poly, err := zone.FromPairs(req.Points)
	if err == nil {
		err = s.pipeline.Settings().Zone().Set(poly)
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.logger.Info("zone updated", "zone", poly.String())
	s.writeJSON(w, http.StatusOK, ZoneBody{Points: poly.Pairs()})
}

// handleSetSource changes input of the next run
func (s *Server) handleSetSource(w http.ResponseWriter, r *http.Request) {
	var req SourceRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	var spec pipeline.SourceSpec
	switch {
	case req.Camera != nil && req.Path != "":
		s.writeError(w, http.StatusBadRequest, errors.New("either path or camera, not both"))
		return
	case req.Camera != nil:
		spec = pipeline.CameraSource(*req.Camera)
	default:
		spec = pipeline.FileSource(req.Path)
	}
	if err := s.pipeline.Settings().SetSource(spec); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.logger.Info("source updated", "source", spec.String())
	s.writeJSON(w, http.StatusOK, SourceResponse{Source: spec.String()})
}

// handleClip serves a clip file by bare name
func (s *Server) handleClip(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !validClipName(name) {
		s.writeError(w, http.StatusBadRequest, errors.Errorf("bad clip name '%s'", name))
		return
	}
	file, err := os.Open(filepath.Join(s.opts.ClipsDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			s.writeError(w, http.StatusNotFound, errors.Errorf("clip '%s' not found", name))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		s.writeError(w, http.StatusNotFound, errors.Errorf("clip '%s' not found", name))
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeContent(w, r, name, info.ModTime(), file)
}

func validClipName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.IsLocal(name)
}

// handleVideoFeed streams annotated frames until the client goes away
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	if s.opts.Feed == nil {
		s.writeError(w, http.StatusNotFound, errors.New("live stream disabled"))
		return
	}
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("can't lift write deadline", "error", err.Error())
	}
	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := stream.WriteMJPEG(r.Context(), w, s.opts.Feed); err != nil && r.Context().Err() == nil {
		s.logger.Warn("video feed ended", "error", err.Error())
	}
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := TimeNow()
		next.ServeHTTP(w, r)
		logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds(), "ua", r.UserAgent())
	})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid JSON"))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, APIError{
		Error:     err.Error(),
		Timestamp: TimeNow().UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		s.logger.Debug("can't write response", "status", status, "error", err.Error())
	}
}
