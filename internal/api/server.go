// Package api exposes the replay buffer over HTTP: status, manual saves,
// controller input, clip management and a websocket feed of save results.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/ShadowReplay/internal/capture"
	"github.com/bryanchriswhite/ShadowReplay/internal/clipstore"
	"github.com/bryanchriswhite/ShadowReplay/internal/config"
	"github.com/bryanchriswhite/ShadowReplay/internal/export"
	"github.com/bryanchriswhite/ShadowReplay/internal/input"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
	"github.com/bryanchriswhite/ShadowReplay/internal/output"
	"github.com/bryanchriswhite/ShadowReplay/internal/replay"
)

// Version is reported by /api/health.
const Version = "0.1.0"

// SourceFactory builds a fresh capture source for /api/recording/start.
type SourceFactory func() (capture.Source, error)

// Deps are the components the server routes to. Replay and Store are
// required; the rest are optional.
type Deps struct {
	Replay    *replay.Orchestrator
	Store     *clipstore.Store
	Exporter  *export.Exporter
	Preview   *output.MJPEGOutput
	Config    *config.Manager
	NewSource SourceFactory
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	deps     Deps
	upgrader websocket.Upgrader
	started  time.Time

	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(deps Deps) (*Server, error) {
	if deps.Replay == nil || deps.Store == nil {
		return nil, errors.New("api: replay orchestrator and clip store are required")
	}
	s := &Server{
		router:  mux.NewRouter(),
		deps:    deps,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Saving
	api.HandleFunc("/save", s.handleSave).Methods("POST")
	api.HandleFunc("/saves/last", s.handleLastSave).Methods("GET")
	api.HandleFunc("/events", s.handleEvents)

	// Capture
	api.HandleFunc("/recording/start", s.handleRecordingStart).Methods("POST")
	api.HandleFunc("/recording/stop", s.handleRecordingStop).Methods("POST")
	api.HandleFunc("/input", s.handleInput).Methods("POST")

	// Clips
	api.HandleFunc("/clips", s.handleListClips).Methods("GET")
	api.HandleFunc("/clips/{id}", s.handleGetClip).Methods("GET")
	api.HandleFunc("/clips/{id}", s.handleDeleteClip).Methods("DELETE")
	api.HandleFunc("/clips/{id}/thumbnail", s.handleThumbnail).Methods("GET")
	api.HandleFunc("/clips/{id}/export", s.handleExport).Methods("POST")

	if p := s.deps.Preview; p != nil {
		s.router.HandleFunc("/stream", p.Handler()).Methods("GET")
		s.router.HandleFunc("/stream/stats", p.StatsHandler()).Methods("GET")
		s.router.HandleFunc("/", p.ViewerHandler()).Methods("GET")
	}
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.WithComponent("api").Info().Str("addr", "http://localhost"+addr).Msg("Starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// clipError maps store errors to status codes.
func clipError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clipstore.ErrNotFound), errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, clipstore.ErrOutsideDirectory):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Replay.Status())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"replay": s.deps.Replay.Stats(),
	}
	if total, err := s.deps.Store.TotalSize(); err == nil {
		stats["clips_bytes"] = total
		stats["clips_size"] = humanize.IBytes(uint64(total))
	}
	if p := s.deps.Preview; p != nil {
		stats["preview"] = p.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		writeError(w, http.StatusNotFound, errors.New("configuration not available"))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Config.Get())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	pending, ok := s.deps.Replay.StartSave()
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]any{
			"started": false,
			"error":   "save already in progress",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"started": true,
		"id":      pending.ID,
		"frames":  pending.Frames,
	})
}

func (s *Server) handleLastSave(w http.ResponseWriter, r *http.Request) {
	res, ok := s.deps.Replay.LastResult()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no saves yet"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	results := s.deps.Replay.Subscribe()
	defer s.deps.Replay.Unsubscribe(results)

	// reads only to notice the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.deps.Replay.Status()); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if err := conn.WriteJSON(res); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.NewSource == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no capture source configured"))
		return
	}
	if s.deps.Replay.Status().Recording {
		writeError(w, http.StatusConflict, capture.ErrAlreadyRunning)
		return
	}
	src, err := s.deps.NewSource()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.deps.Replay.StartCapture(src); err != nil {
		if errors.Is(err, capture.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Replay.Status())
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Replay.StopCapture()
	writeJSON(w, http.StatusOK, s.deps.Replay.Status())
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var sample input.Sample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.deps.Replay.UpdateInput(sample)
	writeJSON(w, http.StatusOK, map[string]bool{
		"held": s.deps.Replay.Detector().IsHeld(),
	})
}

func (s *Server) handleListClips(w http.ResponseWriter, r *http.Request) {
	clips, err := s.deps.Store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if clips == nil {
		clips = []clipstore.Info{}
	}
	writeJSON(w, http.StatusOK, clips)
}

func (s *Server) handleGetClip(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Store.Get(mux.Vars(r)["id"])
	if err != nil {
		clipError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteClip(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Store.Delete(id); err != nil {
		clipError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Store.Thumbnails().Get(mux.Vars(r)["id"])
	if err != nil {
		clipError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Write(b)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		writeError(w, http.StatusNotImplemented, errors.New("export not configured"))
		return
	}
	id := mux.Vars(r)["id"]
	info, err := s.deps.Store.Get(id)
	if err != nil {
		clipError(w, err)
		return
	}
	c, err := s.deps.Store.Open(id)
	if err != nil {
		clipError(w, err)
		return
	}

	out := export.OutputPath(info.Path, "")
	if err := s.deps.Exporter.Export(r.Context(), c, out); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, export.ErrFFmpegNotFound) {
			status = http.StatusNotImplemented
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": out})
}
