// Package server runs watch mode: it keeps a scanned folder tree in sync
// with the disk and serves snapshots of it over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/worldlens/worldlens/internal/folder"
	"github.com/worldlens/worldlens/internal/metrics"
	"github.com/worldlens/worldlens/internal/middleware"
	"github.com/worldlens/worldlens/internal/worlddb"
)

const defaultDebounce = 500 * time.Millisecond

// Config configures the watch server.
type Config struct {
	// Listen is the HTTP address. Empty disables the HTTP surface.
	Listen   string
	Debounce time.Duration
}

// APIResponse is the envelope of every /api response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Server watches a root folder and rescans it after file system changes.
type Server struct {
	root    *folder.Folder
	config  Config
	metrics metrics.Manager
	system  *metrics.SystemTracker
	logger  *logrus.Logger

	httpServer *http.Server
	snapshot   atomic.Pointer[Node]
	scannedAt  atomic.Int64

	// rescans are serialized; fsnotify and POST /api/rescan both land here
	scanMu  sync.Mutex
	watched map[string]bool
	watcher *fsnotify.Watcher
}

// New creates a watch server for root. root is owned by the caller and is
// not closed by the server.
func New(root *folder.Folder, cfg Config, m metrics.Manager, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if m == nil {
		m = metrics.Noop()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}

	s := &Server{
		root:    root,
		config:  cfg,
		metrics: m,
		system:  metrics.NewSystemTracker(root.Path()),
		logger:  logger,
		watched: make(map[string]bool),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Logging(s.logger))
	router.Use(s.trackRequests)

	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.Handle("/metrics", s.metrics.GetMetricsHandler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/tree", s.handleTree).Methods("GET")
	api.HandleFunc("/failures", s.handleFailures).Methods("GET")
	api.HandleFunc("/stores", s.handleStores).Methods("GET")
	api.HandleFunc("/system", s.handleSystem).Methods("GET")
	api.HandleFunc("/rescan", s.handleRescan).Methods("POST")

	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(middleware.CORS()(router))
}

// Snapshot returns the tree captured by the last rescan, or nil.
func (s *Server) Snapshot() *Node {
	return s.snapshot.Load()
}

// Rescan scans the whole tree, publishes a new snapshot and, when watching,
// updates the set of watched directories.
func (s *Server) Rescan(ctx context.Context) error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	start := time.Now()
	err := s.root.ScanAll(ctx)
	tree := BuildTree(s.root)
	s.snapshot.Store(tree)
	s.scannedAt.Store(time.Now().Unix())
	s.metrics.UpdateOpenStores(worlddb.OpenCount())

	files, stores, failed := tree.Count()
	s.logger.WithFields(logrus.Fields{
		"root":     s.root.Path(),
		"files":    files,
		"stores":   stores,
		"failed":   failed,
		"duration": time.Since(start),
	}).Info("Tree rescanned")

	if s.watcher != nil {
		s.syncWatches()
	}
	return err
}

// Start performs the initial scan, starts watching and serving, and blocks
// until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"root":     s.root.Path(),
		"address":  s.config.Listen,
		"debounce": s.config.Debounce,
	}).Info("Starting watch mode")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	s.scanMu.Lock()
	s.watcher = watcher
	s.scanMu.Unlock()

	if err := s.Rescan(ctx); err != nil {
		watcher.Close()
		return fmt.Errorf("initial scan failed: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.watch(ctx)
	}()

	if s.config.Listen != "" {
		go func() {
			s.logger.WithField("address", s.config.Listen).Info("Starting HTTP server")
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.WithError(err).Error("HTTP server error")
			}
		}()
	}

	// Wait for context cancellation
	<-ctx.Done()
	<-done

	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.logger.Info("Shutting down watch mode")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.config.Listen != "" {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server")
		}
	}

	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	err := s.watcher.Close()
	s.watcher = nil
	s.watched = make(map[string]bool)
	return err
}

// watch coalesces file system events and rescans once the tree has been
// quiet for the debounce interval.
func (s *Server) watch(ctx context.Context) {
	s.scanMu.Lock()
	w := s.watcher
	s.scanMu.Unlock()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			s.logger.WithFields(logrus.Fields{
				"path": ev.Name,
				"op":   ev.Op.String(),
			}).Debug("File system change")
			if timer == nil {
				timer = time.NewTimer(s.config.Debounce)
			} else {
				timer.Reset(s.config.Debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("File watcher error")
		case <-fire:
			fire = nil
			if err := s.Rescan(ctx); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Warn("Rescan failed")
			}
		}
	}
}

// syncWatches makes the watcher follow the root and every known subfolder.
// Store directories are not watched. Callers hold scanMu.
func (s *Server) syncWatches() {
	want := map[string]bool{s.root.Path(): true}
	for _, sub := range s.root.AllSubfolders() {
		want[sub.Path()] = true
	}

	for path := range s.watched {
		if !want[path] {
			// the directory may already be gone, which removes the watch
			_ = s.watcher.Remove(path)
			delete(s.watched, path)
		}
	}
	for path := range want {
		if s.watched[path] {
			continue
		}
		if err := s.watcher.Add(path); err != nil {
			s.logger.WithError(err).WithField("path", path).Debug("Failed to watch directory")
			continue
		}
		s.watched[path] = true
	}
}

// WatchedPaths returns the number of directories being watched.
func (s *Server) WatchedPaths() int {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	return len(s.watched)
}

// statusRecorder captures the status code for trackRequests.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) trackRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.system.RecordRequest(uint64(time.Since(start).Milliseconds()), rec.status >= http.StatusInternalServerError)
	})
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.system.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "ok",
		"scanned_at": s.scannedAt.Load(),
		"open":       worlddb.OpenCount(),
	})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	tree := s.Snapshot()
	if tree == nil {
		s.writeError(w, "tree has not been scanned yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, tree)
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	tree := s.Snapshot()
	if tree == nil {
		s.writeError(w, "tree has not been scanned yet", http.StatusServiceUnavailable)
		return
	}

	failures := []FailureNode{}
	var walk func(n *Node)
	walk = func(n *Node) {
		failures = append(failures, n.FailedFiles...)
		failures = append(failures, n.FailedStores...)
		for _, sub := range n.Subfolders {
			walk(sub)
		}
	}
	walk(tree)
	s.writeJSON(w, failures)
}

func (s *Server) handleStores(w http.ResponseWriter, r *http.Request) {
	tree := s.Snapshot()
	if tree == nil {
		s.writeError(w, "tree has not been scanned yet", http.StatusServiceUnavailable)
		return
	}

	stores := []StoreNode{}
	var walk func(n *Node)
	walk = func(n *Node) {
		stores = append(stores, n.Stores...)
		for _, sub := range n.Subfolders {
			walk(sub)
		}
	}
	walk(tree)
	s.writeJSON(w, stores)
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	if err := s.Rescan(r.Context()); err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, s.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message})
	s.logger.WithField("error", message).WithField("status", statusCode).Warn("API error")
}
