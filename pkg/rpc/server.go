// Package rpc hosts the backend side of remote mode: an HTTP server that
// runs calls sent by remote query processors against an inline processor.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/klauspost/compress/gzip"
	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/logging"
	"github.com/payvex/payvex/internal/metrics"
	"github.com/payvex/payvex/internal/query"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MaxRequestBodySize is the maximum accepted request body size (64MB).
const MaxRequestBodySize = 64 * 1024 * 1024

// Endpoint paths.
const (
	PathQuery    = "/api/query"
	PathMutation = "/api/mutation"
)

// Error kinds carried in error responses.
const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindBackend    = "backend"
	KindAuth       = "auth"
)

// Call is the body of a query or mutation request.
type Call struct {
	Path string          `json:"path"`
	Args json.RawMessage `json:"args"`
}

// Response is the body of every call response.
type Response struct {
	Status       string          `json:"status"`
	Value        json.RawMessage `json:"value,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	ErrorKind    string          `json:"errorKind,omitempty"`
}

// Options configures a Server.
type Options struct {
	AuthToken        string
	QueryConcurrency int
	QueryTimeout     time.Duration
	MutationTimeout  time.Duration
	Logger           *logging.Logger
}

// Server serves remote-mode calls.
type Server struct {
	proc    *query.Processor
	opts    Options
	limiter *TableLimiter
	logger  *logging.Logger
	mux     *http.ServeMux
	handler http.Handler
}

// NewServer creates a server executing calls with proc, which must be an
// inline processor.
func NewServer(proc *query.Processor, opts Options) (*Server, error) {
	if proc.Mode() != query.ModeInline {
		return nil, query.ErrNotInline
	}
	if opts.Logger == nil {
		opts.Logger = logging.New()
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.MutationTimeout <= 0 {
		opts.MutationTimeout = 60 * time.Second
	}

	s := &Server{
		proc:    proc,
		opts:    opts,
		limiter: NewTableLimiter(opts.QueryConcurrency),
		logger:  opts.Logger,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("POST "+PathQuery, s.authMiddleware(s.handleCall(false)))
	s.mux.HandleFunc("POST "+PathMutation, s.authMiddleware(s.handleCall(true)))

	s.handler = logging.Middleware(s.logger)(gzhttp.GzipHandler(s.mux))
	return s, nil
}

// Limiter returns the per-table query limiter.
func (s *Server) Limiter() *TableLimiter {
	return s.limiter
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.handler.ServeHTTP(w, req)
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if s.opts.AuthToken == "" {
			next(w, req)
			return
		}

		auth := req.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			s.writeError(w, http.StatusUnauthorized, KindAuth, "missing or invalid Authorization header")
			return
		}
		if strings.TrimPrefix(auth, "Bearer ") != s.opts.AuthToken {
			s.writeError(w, http.StatusUnauthorized, KindAuth, "invalid token")
			return
		}

		next(w, req)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCall(mutation bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.ContentLength > MaxRequestBodySize {
			s.writeError(w, http.StatusRequestEntityTooLarge, KindValidation, "request body exceeds 64MB limit")
			return
		}
		body, err := readBody(w, req)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, KindValidation, err.Error())
			return
		}

		var call Call
		if err := json.Unmarshal(body, &call); err != nil {
			s.writeError(w, http.StatusBadRequest, KindValidation, "invalid JSON in request body")
			return
		}
		if mutation && !query.IsMutationRef(call.Path) || !mutation && !query.IsQueryRef(call.Path) {
			s.writeError(w, http.StatusBadRequest, KindValidation,
				fmt.Sprintf("%q is not served on %s", call.Path, req.URL.Path))
			return
		}

		table := query.TableOf(call.Args)
		if m := logging.RequestMetricsFromContext(req.Context()); m != nil {
			m.Ref = call.Path
			m.Table = table
		}

		timeout := s.opts.QueryTimeout
		if mutation {
			timeout = s.opts.MutationTimeout
		}
		ctx, cancel := context.WithTimeout(req.Context(), timeout)
		defer cancel()

		value, err := s.execute(ctx, call, table, mutation)
		if err != nil {
			status, kind := Classify(err)
			s.writeError(w, status, kind, err.Error())
			return
		}

		raw, err := json.Marshal(value)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, KindBackend, fmt.Sprintf("failed to encode result: %v", err))
			return
		}
		s.writeJSON(w, http.StatusOK, Response{Status: "success", Value: raw})
	}
}

// execute runs one call. Reads wait for a slot of their table's limiter.
func (s *Server) execute(ctx context.Context, call Call, table string, mutation bool) (value any, err error) {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		metrics.ObserveRPC(call.Path, elapsed.Seconds(), err)
		if m := logging.RequestMetricsFromContext(ctx); m != nil {
			m.ExecMs = float64(elapsed.Microseconds()) / 1000.0
		}
	}()

	if !mutation && table != "" {
		release, err := s.limiter.Acquire(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("waiting for query slot: %w", err)
		}
		defer release()
	}
	return s.proc.Serve(ctx, call.Path, call.Args)
}

// Classify maps an execution error to its HTTP status and error kind.
func Classify(err error) (int, string) {
	switch {
	case query.IsValidation(err):
		return http.StatusBadRequest, KindValidation
	case errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, KindBackend
	}
	return http.StatusInternalServerError, KindBackend
}

func readBody(w http.ResponseWriter, req *http.Request) ([]byte, error) {
	var r io.Reader = http.MaxBytesReader(w, req.Body, MaxRequestBodySize)
	if req.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		defer gz.Close()
		r = io.LimitReader(gz, MaxRequestBodySize)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, message string) {
	s.writeJSON(w, status, Response{
		Status:       "error",
		ErrorMessage: message,
		ErrorKind:    kind,
	})
}
