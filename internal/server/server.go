package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"tabletop/internal/apperr"
	"tabletop/internal/dice"
	"tabletop/internal/realtime"
	"tabletop/internal/storage"
	"tabletop/internal/syncbridge"
	"tabletop/internal/tactical"
	"tabletop/internal/telemetry"
)

const (
	maxBodyBytes   = 1 << 20
	shutdownPeriod = 10 * time.Second
)

// Server wraps HTTP handlers and configuration.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	mux      *http.ServeMux
	origins  originPolicy
	store    *storage.Store
	hub      *realtime.Hub
	bridge   *syncbridge.Bridge
	tokens   tokenIssuer
	roller   dice.Roller
	upgrader websocket.Upgrader
	tracer   trace.Tracer

	rosterMu sync.Mutex
	rosters  map[string]map[*websocket.Conn]tactical.Actor
}

// New constructs a Server with routes and middleware configured. A nil logger
// logs JSON to stdout.
func New(cfg Config, store *storage.Store, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	}

	if err := ensureDir(cfg.UploadDir); err != nil {
		return nil, fmt.Errorf("ensure uploads directory: %w", err)
	}

	tokens, err := newTokenIssuer(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	if cfg.TokenSecret == "" {
		logger.Warn("TOKEN_SECRET is not set, using a random secret; tokens will not survive a restart")
	}

	rng, err := dice.NewRoller()
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(logger)
	srv := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		origins: newOriginPolicy(cfg.AllowedOrigins),
		store:   store,
		hub:     hub,
		bridge:  syncbridge.New(store, hub, logger),
		tokens:  tokens,
		roller:  dice.NewLocked(rng),
		tracer:  telemetry.Tracer("server"),
		rosters: make(map[string]map[*websocket.Conn]tactical.Actor),
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     srv.origins.checkUpgrade,
	}

	srv.routes()
	return srv, nil
}

// Router returns the fully wrapped handler.
func (s *Server) Router() http.Handler {
	return s.withSecurityHeaders(s.withCORS(s.loggingMiddleware(s.mux)))
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownPeriod)
	defer cancel()
	s.logger.Info("shutting down server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /sessions/{id}", s.requireActor(s.handleGetSession))
	s.mux.HandleFunc("DELETE /sessions/{id}", s.requireActor(s.handleDeleteSession))
	s.mux.HandleFunc("POST /sessions/{id}/join", s.handleJoin)
	s.mux.HandleFunc("GET /sessions/{id}/scene", s.requireActor(s.handleScene))
	s.mux.HandleFunc("PUT /sessions/{id}/pause", s.requireActor(s.handlePause))
	s.mux.HandleFunc("PUT /sessions/{id}/background", s.requireActor(s.handleBackground))
	s.mux.HandleFunc("PUT /sessions/{id}/grid", s.requireActor(s.handleGrid))

	s.mux.HandleFunc("POST /sessions/{id}/tokens", s.requireActor(s.handleAddToken))
	s.mux.HandleFunc("PATCH /sessions/{id}/tokens/{tid}", s.requireActor(s.handlePatchToken))
	s.mux.HandleFunc("PUT /sessions/{id}/tokens/{tid}/visibility", s.requireActor(s.handleVisibility))
	s.mux.HandleFunc("DELETE /sessions/{id}/tokens/{tid}", s.requireActor(s.handleDeleteToken))

	s.mux.HandleFunc("POST /sessions/{id}/fog/toggle", s.requireActor(s.handleToggleFog))
	s.mux.HandleFunc("PUT /sessions/{id}/fog", s.requireActor(s.handleReplaceFog))
	s.mux.HandleFunc("DELETE /sessions/{id}/fog", s.requireActor(s.handleClearFog))

	s.mux.HandleFunc("GET /sessions/{id}/mutations", s.requireActor(s.handleMutations))
	s.mux.HandleFunc("POST /sessions/{id}/mutations/{mid}/retry", s.requireActor(s.handleRetry))

	s.mux.HandleFunc("POST /sessions/{id}/rolls", s.requireActor(s.handleRoll))
	s.mux.HandleFunc("GET /sessions/{id}/rolls", s.requireActor(s.handleListRolls))
	s.mux.HandleFunc("POST /sessions/{id}/messages", s.requireActor(s.handlePostMessage))
	s.mux.HandleFunc("GET /sessions/{id}/messages", s.requireActor(s.handleListMessages))

	s.mux.HandleFunc("POST /maps", s.requireActor(s.handleCreateMap))
	s.mux.HandleFunc("GET /maps", s.requireActor(s.handleListMaps))
	s.mux.HandleFunc("GET /maps/{mapID}", s.requireActor(s.handleGetMap))

	s.mux.HandleFunc("GET /ws/sessions/{id}", s.requireActor(s.handleWebsocket))

	s.mux.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.cfg.UploadDir))))
	s.mux.Handle("/", s.spaHandler())
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method), semconv.URLPath(r.URL.Path)))
		defer span.End()

		req := r.WithContext(ctx)
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, req)

		if req.Pattern != "" {
			span.SetName(req.Pattern)
			span.SetAttributes(semconv.HTTPRoute(req.Pattern))
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(rw.status))
		if rw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rw.status))
		}
		s.logger.Info("request", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Int("status", rw.status), slog.Duration("duration", time.Since(start)))
	})
}

func ensureDir(path string) error {
	if path == "" {
		return errors.New("path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	return nil
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// Hijack allows WebSocket handlers to upgrade the connection through the wrapped writer.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}

func (s *Server) spaHandler() http.Handler {
	fs := http.Dir(s.cfg.FrontendDir)
	fileServer := http.FileServer(fs)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		urlPath := r.URL.Path
		if urlPath == "/" {
			fileServer.ServeHTTP(w, r)
			return
		}

		cleanPath := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
		requested := filepath.Join(s.cfg.FrontendDir, cleanPath)
		if info, err := os.Stat(requested); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("health check", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loadSession returns the live session named by the {id} path segment.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*tactical.Session, bool) {
	sess, err := s.bridge.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, err)
		return nil, false
	}
	return sess, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeAppError maps a domain error onto its HTTP status. Server-side
// failures are logged and their details withheld.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	code := apperr.CodeOf(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("code", string(code)), slog.String("error", err.Error()))
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: message, Code: string(code)})
}

// mutationStatus is 202 when the change applied locally but was not saved.
func mutationStatus(ok int, m syncbridge.Mutation) int {
	if m.Status == syncbridge.StatusFailed {
		return http.StatusAccepted
	}
	return ok
}
