// Package api serves node positions and computed diagrams over HTTP.
//
// Routes (all under /api/v1):
//
//	GET    /health
//	GET    /node-positions/project/{projectID}
//	POST   /node-positions/bulk
//	PUT    /node-positions/{nodeID}/project/{projectID}
//	DELETE /node-positions/{nodeID}/project/{projectID}
//	DELETE /node-positions/project/{projectID}
//	GET    /projects/{projectID}/diagram
//	POST   /projects/{projectID}/positions/sweep
//
// Errors are JSON objects {"error": msg, "code": CODE} with the status
// chosen by errors.HTTPStatus.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/matzehuels/testmap/pkg/cache"
	"github.com/matzehuels/testmap/pkg/diagram"
	errs "github.com/matzehuels/testmap/pkg/errors"
	"github.com/matzehuels/testmap/pkg/positions"
	"github.com/matzehuels/testmap/pkg/source"
)

// Defaults for [Options].
const (
	DefaultBulkRate  = 5
	DefaultBulkBurst = 10
	DefaultCacheTTL  = time.Minute

	maxBodyBytes = 4 << 20
)

// RequestIDHeader carries the per-request id.
const RequestIDHeader = "X-Request-ID"

// Options configures a Server.
type Options struct {
	Positions positions.Repository
	// Source is needed by the diagram and sweep routes only.
	Source source.Source
	Layout diagram.Options
	// Cache holds rendered diagrams. Nil disables caching.
	Cache    cache.Cache
	Keyer    cache.Keyer
	CacheTTL time.Duration
	// BulkRate and BulkBurst bound bulk saves across all clients.
	BulkRate  rate.Limit
	BulkBurst int
	Logger    *log.Logger
}

// Server is the HTTP API.
type Server struct {
	repo    positions.Repository
	src     source.Source
	layout  diagram.Options
	cache   cache.Cache
	keyer   cache.Keyer
	ttl     time.Duration
	limiter *rate.Limiter
	logger  *log.Logger
	router  chi.Router
	srv     *http.Server
}

// New builds a server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Positions == nil {
		return nil, errs.New(errs.ErrCodeInvalidInput, "api: positions repository is required")
	}
	if opts.Layout == (diagram.Options{}) {
		opts.Layout = diagram.DefaultOptions()
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrCodeInvalidInput, err, "api: layout options")
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNullCache()
	}
	if opts.Keyer == nil {
		opts.Keyer = cache.NewDefaultKeyer()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.BulkRate <= 0 {
		opts.BulkRate = DefaultBulkRate
	}
	if opts.BulkBurst <= 0 {
		opts.BulkBurst = DefaultBulkBurst
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	s := &Server{
		repo:    opts.Positions,
		src:     opts.Source,
		layout:  opts.Layout,
		cache:   opts.Cache,
		keyer:   opts.Keyer,
		ttl:     opts.CacheTTL,
		limiter: rate.NewLimiter(opts.BulkRate, opts.BulkBurst),
		logger:  opts.Logger,
	}
	s.routes()
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(s.requestID, s.logRequests, s.recoverPanics)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, errs.New(errs.ErrCodeNotFound, "no route for %s %s", r.Method, r.URL.Path))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/node-positions", func(r chi.Router) {
			r.Get("/project/{projectID}", s.handleListPositions)
			r.Delete("/project/{projectID}", s.handleDeleteProjectPositions)
			r.With(s.rateLimit).Post("/bulk", s.handleBulkSave)
			r.Put("/{nodeID}/project/{projectID}", s.handleSavePosition)
			r.Delete("/{nodeID}/project/{projectID}", s.handleDeletePosition)
		})

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/diagram", s.handleDiagram)
			r.Post("/positions/sweep", s.handleSweep)
		})
	})
	s.router = r
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.Wrap(errs.ErrCodeNetwork, err, "listen on %s", addr)
	}
	s.logger.Info("listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones. A later
// ListenAndServe returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// Middleware
// =============================================================================

type ctxKey struct{}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"took", time.Since(start),
			"request_id", RequestID(r.Context()),
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("panic recovered", "panic", v, "path", r.URL.Path, "stack", string(debug.Stack()))
				writeError(w, errs.New(errs.ErrCodeInternal, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(s.limiter.Tokens())))
			s.logger.Warn("rate limit exceeded", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeError(w, &errs.RateLimitedError{RetryAfter: 1})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Responses
// =============================================================================

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := string(errs.GetCode(err))
	var rl *errs.RateLimitedError
	if errors.As(err, &rl) {
		code = string(errs.ErrCodeRateLimited)
	}
	status := errs.HTTPStatus(err)
	msg := errs.UserMessage(err)
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return errs.Wrap(errs.ErrCodeInvalidFormat, err, "invalid request body")
	}
	return nil
}
