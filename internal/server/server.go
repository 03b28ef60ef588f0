// Package server is the development HTTP server: it serves the output tree,
// injects the live reload client into HTML pages and hosts the reload socket.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/conneroisu/sitewright/internal/build"
	"github.com/conneroisu/sitewright/internal/config"
	"github.com/conneroisu/sitewright/internal/errors"
	"github.com/conneroisu/sitewright/internal/logging"
	"github.com/conneroisu/sitewright/internal/websocket"
)

// Server serves the output directory with live reload.
type Server struct {
	cfg        *config.Config
	hub        *websocket.Hub
	logger     logging.Logger
	router     *mux.Router
	httpServer *http.Server
	files      http.Handler
	root       string

	// Opener launches a browser; replaced in tests.
	Opener func(url string) error

	// BuildStats, when set, is reported by /health.
	BuildStats func() build.Stats

	mu           sync.Mutex
	listener     net.Listener
	shutdownOnce sync.Once
}

// New creates a server for cfg. hub receives the /ws connections.
func New(cfg *config.Config, hub *websocket.Hub, logger logging.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		hub:    hub,
		logger: logger.WithComponent("server"),
		root:   cfg.OutputDir(),
		Opener: OpenBrowser,
	}
	s.files = http.FileServer(http.Dir(s.root))

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.Handle("/ws", hub)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc(ClientPath, s.handleClientScript).Methods(http.MethodGet)

	static := http.Handler(http.HandlerFunc(s.serveStatic))
	if base := strings.TrimSuffix(cfg.BasePath(), "/"); base != "" {
		static = http.StripPrefix(base, static)
		r.Handle(base, http.RedirectHandler(base+"/", http.StatusMovedPermanently))
		r.PathPrefix(base + "/").Handler(static)
	} else {
		r.PathPrefix("/").Handler(static)
	}
	s.router = r

	s.httpServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. It returns once the
// port is bound; binding errors are returned. The server shuts down when ctx
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return errors.NewNetworkError(errors.CodeListenFailed, "binding "+s.cfg.Addr(), err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error(ctx, err, "server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	url := s.URL()
	s.logger.Info(ctx, "serving", "url", url, "root", s.root)

	if s.cfg.Server.Open && s.Opener != nil {
		if err := s.Opener(url); err != nil {
			s.logger.Warn(ctx, err, "failed to open browser")
		}
	}
	return nil
}

// URL is the address of the running server, base path included.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := s.cfg.Addr()
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	return "http://" + addr + s.cfg.BasePath()
}

// Shutdown closes live reload clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.hub != nil {
			_ = s.hub.Shutdown(ctx)
		}
		err = s.httpServer.Shutdown(ctx)
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{
		"status":  "ok",
		"mode":    s.cfg.Mode.String(),
		"clients": s.hub.Clients(),
	}
	if s.BuildStats != nil {
		stats := s.BuildStats()
		body["builds"] = map[string]any{
			"runs":       stats.Runs,
			"failures":   stats.Failures,
			"average_ms": stats.AverageDuration().Milliseconds(),
		}
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleClientScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(clientScript))
}

// serveStatic serves files from the output root. HTML pages get the live
// reload client injected; everything else is left to http.FileServer.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	upath := path.Clean("/" + r.URL.Path)
	name := filepath.Join(s.root, filepath.FromSlash(upath))

	info, err := os.Stat(name)
	if err == nil && info.IsDir() {
		if !strings.HasSuffix(r.URL.Path, "/") {
			s.files.ServeHTTP(w, r)
			return
		}
		name = filepath.Join(name, "index.html")
		info, err = os.Stat(name)
	}

	if err != nil || info.IsDir() || !strings.EqualFold(filepath.Ext(name), ".html") {
		s.files.ServeHTTP(w, r)
		return
	}

	content, err := os.ReadFile(name)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, name, info.ModTime(), bytes.NewReader(InjectScript(content, ClientTag)))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for websocket
// upgrades.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			"status", rec.status, "duration", time.Since(start))
	})
}
