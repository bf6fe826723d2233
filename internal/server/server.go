// Package server provides the read-only HTTP API of the plan daemon.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"onchain-sip/internal/cache"
	"onchain-sip/internal/discovery"
	"onchain-sip/internal/domain"
	"onchain-sip/internal/observability"
	"onchain-sip/internal/portfolio"
	"onchain-sip/internal/storage"
)

// DefaultProbeLimit caps GET /owners/{owner}/probes when no limit is given.
const DefaultProbeLimit = 100

// Config holds server configuration.
type Config struct {
	Addr      string
	Log       zerolog.Logger
	Scanner   *discovery.Scanner
	Cache     *cache.Cache
	Presenter *portfolio.Presenter
	ProbeLog  storage.ProbeLogStore // optional
}

// Server is the HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	scanner   *discovery.Scanner
	cache     *cache.Cache
	presenter *portfolio.Presenter
	probeLog  storage.ProbeLogStore
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		scanner:   cfg.Scanner,
		cache:     cfg.Cache,
		presenter: cfg.Presenter,
		probeLog:  cfg.ProbeLog,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	// Scans are paced between batches; leave room for a full sweep.
	s.router.Use(middleware.Timeout(60 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", observability.Handler())

	s.router.Route("/owners/{owner}", func(r chi.Router) {
		r.Use(ownerCtx)
		r.Get("/plans", s.handlePlans)
		r.Get("/summary", s.handleSummary)
		r.Get("/known", s.handleKnown)
		r.Get("/probes", s.handleProbes)
		r.Post("/check/{identifier}", s.handleCheck)
		r.Delete("/cache", s.handleClearCache)
	})
}

// Start starts the HTTP server. It blocks until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type plansResponse struct {
	Owner      string                `json:"owner"`
	ScanID     string                `json:"scanId"`
	ScannedAt  time.Time             `json:"scannedAt"`
	Plans      []*portfolio.PlanView `json:"plans"`
	Discovered []string              `json:"discovered"`
	Probes     probeCounts           `json:"probes"`
}

type probeCounts struct {
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Absent   int `json:"absent"`
	Error    int `json:"error"`
}

// handlePlans scans the owner and renders active plans. ?cached=true serves
// the last completed scan when there is one.
func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)

	result, err := s.scanResult(r, owner)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, plansResponse{
		Owner:      owner.Hex(),
		ScanID:     result.ScanID,
		ScannedAt:  result.FinishedAt,
		Plans:      s.presenter.Views(r.Context(), owner, result.Plans),
		Discovered: nonNil(result.Discovered),
		Probes: probeCounts{
			Active:   result.Count(discovery.OutcomeActive),
			Inactive: result.Count(discovery.OutcomeInactive),
			Absent:   result.Count(discovery.OutcomeAbsent),
			Error:    result.Count(discovery.OutcomeError),
		},
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)

	result, err := s.scanResult(r, owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio.Summarize(result.Plans))
}

func (s *Server) scanResult(r *http.Request, owner common.Address) (*discovery.ScanResult, error) {
	if cached, _ := strconv.ParseBool(r.URL.Query().Get("cached")); cached {
		if last, ok := s.scanner.Last(owner); ok {
			return last, nil
		}
	}
	return s.scanner.Scan(r.Context(), owner)
}

func (s *Server) handleKnown(w http.ResponseWriter, r *http.Request) {
	ids, err := s.cache.ListKnown(r.Context(), ownerFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"identifiers": nonNil(ids)})
}

type probeEntry struct {
	ScanID     string `json:"scanId"`
	Identifier string `json:"identifier"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	LatencyMs  int64  `json:"latencyMs"`
	ProbedAt   int64  `json:"probedAt"`
}

func (s *Server) handleProbes(w http.ResponseWriter, r *http.Request) {
	if s.probeLog == nil {
		writeJSON(w, http.StatusOK, map[string][]probeEntry{"probes": {}})
		return
	}

	limit := DefaultProbeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := s.probeLog.GetByOwner(r.Context(), ownerFrom(r).Hex(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]probeEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, probeEntry{
			ScanID:     e.ScanID,
			Identifier: e.Identifier,
			Outcome:    e.Outcome,
			Error:      e.Error,
			LatencyMs:  e.LatencyMs,
			ProbedAt:   e.ProbedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]probeEntry{"probes": out})
}

type checkResponse struct {
	Identifier string              `json:"identifier"`
	Outcome    string              `json:"outcome"`
	Plan       *portfolio.PlanView `json:"plan,omitempty"`
	Error      string              `json:"error,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	identifier := chi.URLParam(r, "identifier")

	res, err := s.scanner.Check(r.Context(), owner, identifier)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := checkResponse{
		Identifier: res.Identifier,
		Outcome:    res.Outcome.String(),
	}
	if res.Active() {
		if views := s.presenter.Views(r.Context(), owner, []*domain.PlanRecord{res.Plan}); len(views) == 1 {
			resp.Plan = views[0]
		}
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}

	status := http.StatusOK
	if res.Outcome == discovery.OutcomeError {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Clear(r.Context(), ownerFrom(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

type ownerKey struct{}

// ownerCtx parses the {owner} path parameter.
func ownerCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "owner")
		if !common.IsHexAddress(raw) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid owner address"})
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, common.HexToAddress(raw))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFrom(r *http.Request) common.Address {
	owner, _ := r.Context().Value(ownerKey{}).(common.Address)
	return owner
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var scanErr *discovery.ScanError

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.As(err, &scanErr), errors.Is(err, domain.ErrLedgerUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		Retryable: status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
