package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/agleyzer/segindex/internal/container"
	"github.com/agleyzer/segindex/internal/playlist"
	"github.com/agleyzer/segindex/internal/segment"
)

// Server serves the byte-range playlist, the segment table and the media file.
type Server struct {
	index      *container.Index
	segments   []segment.DashSegment
	seek       []segment.SeekSegment
	lookup     *segment.Lookup[segment.DashSegment]
	playlist   playlist.Playlist
	port       int
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a new HTTP server for the segments of one reference id.
func New(index *container.Index, track uint32, pl playlist.Playlist, port int, logger *slog.Logger) *Server {
	segments := index.DashSegments(track)
	return &Server{
		index:    index,
		segments: segments,
		seek:     index.SeekSegments(track),
		lookup:   segment.NewLookup(segments),
		playlist: pl,
		port:     port,
		logger:   logger,
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/playlist.m3u8", s.handlePlaylist)
	mux.HandleFunc("/segments.json", s.handleSegments)
	mux.HandleFunc("/seek", s.handleSeek)
	mux.HandleFunc("/media", s.handleMedia)
	mux.HandleFunc("/health", s.handleHealth)

	return s.loggingMiddleware(mux)
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:     fmt.Sprintf(":%d", s.port),
		Handler:  s.Handler(),
		ErrorLog: newErrorLog(s.logger),
	}

	// Start server in a goroutine
	go func() {
		s.logger.Info("starting HTTP server", "port", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	// Graceful shutdown
	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// newErrorLog bridges net/http's internal error log through hclog.
func newErrorLog(logger *slog.Logger) *log.Logger {
	level := hclog.Info
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "http",
		Level:  level,
		Output: os.Stderr,
	}).StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
}

// handlePlaylist serves the byte-range media playlist
func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	content, err := s.playlist.Generate()
	if err != nil {
		s.logger.Error("failed to generate playlist", "error", err)
		http.Error(w, "failed to generate playlist", http.StatusInternalServerError)
		return
	}

	// Set HLS-specific headers
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}

// handleSegments serves the derived segment table as JSON
func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	switch shape := r.URL.Query().Get("shape"); shape {
	case "", "dash":
		writeJSON(w, http.StatusOK, s.segments)
	case "seek":
		writeJSON(w, http.StatusOK, s.seek)
	default:
		http.Error(w, fmt.Sprintf("unknown shape %q", shape), http.StatusBadRequest)
	}
}

// handleSeek returns the segment containing the requested time
func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	t, err := strconv.ParseFloat(r.URL.Query().Get("t"), 64)
	if err != nil {
		http.Error(w, "query parameter t must be a number of seconds", http.StatusBadRequest)
		return
	}

	i, ok := s.lookup.Index(t)
	if !ok {
		http.Error(w, fmt.Sprintf("no segment contains t=%g", t), http.StatusNotFound)
		return
	}

	seg := s.segments[i]
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"index":   i,
		"segment": seg,
		"range":   seg.Range(),
	})
}

// handleMedia serves the indexed file, honouring Range requests
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(s.index.Path)
	if err != nil {
		s.logger.Error("failed to open media file", "path", s.index.Path, "error", err)
		http.Error(w, "media unavailable", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.logger.Error("failed to stat media file", "path", s.index.Path, "error", err)
		http.Error(w, "media unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// handleHealth serves health check information
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"stats":  s.playlist.GetStats(),
		"boxes":  len(s.index.Boxes),
	}

	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap the response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"range", r.Header.Get("Range"),
			"remote", r.RemoteAddr,
			"status", wrapped.statusCode,
			"duration", duration,
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
