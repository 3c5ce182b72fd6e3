package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/requirements/evaluation"
	"github.com/liamcoop/requirements/internal/logger"
	"github.com/liamcoop/requirements/internal/metrics"
	"github.com/liamcoop/requirements/rules"
)

// UserIDHeader carries the acting user. Authentication happens upstream.
const UserIDHeader = "X-User-ID"

// pinger is a dependency the health check can probe.
type pinger interface {
	Ping(ctx context.Context) error
}

// ServerOptions carries the optional server collaborators.
type ServerOptions struct {
	Evaluator      *rules.ConditionEvaluator
	Metrics        *metrics.Collector
	Checks         map[string]pinger
	RequestTimeout time.Duration
}

type Server struct {
	store          rules.Store
	ruleSets       *rules.RuleSetStore
	orchestrator   *evaluation.Orchestrator
	resolver       *evaluation.ResolutionService
	metrics        *metrics.Collector
	checks         map[string]pinger
	requestTimeout time.Duration
	logger         *slog.Logger
	router         *chi.Mux
}

// NewServer wires the evaluation services over store and ruleSets.
func NewServer(store rules.Store, ruleSets *rules.RuleSetStore, opts ServerOptions) *Server {
	svcOpts := []evaluation.Option{evaluation.WithLogger(logger.Logger)}
	if opts.Evaluator != nil {
		svcOpts = append(svcOpts, evaluation.WithEvaluator(opts.Evaluator))
	}
	if opts.Metrics != nil {
		svcOpts = append(svcOpts, evaluation.WithRecorder(opts.Metrics))
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		store:          store,
		ruleSets:       ruleSets,
		orchestrator:   evaluation.NewOrchestrator(store, ruleSets, svcOpts...),
		resolver:       evaluation.NewResolutionService(store, svcOpts...),
		metrics:        opts.Metrics,
		checks:         opts.Checks,
		requestTimeout: opts.RequestTimeout,
		logger:         logger.Component("server"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/projects/{projectId}", func(r chi.Router) {
			// A run is not bound to the request deadline.
			r.Post("/evaluations", s.handleRunEvaluation)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(s.requestTimeout))
				r.Get("/evaluations", s.handleListEvaluations)
				r.Get("/requirements", s.handleListRequirements)
				r.Get("/requirements/latest", s.handleLatestRequirements)
				r.Get("/conflicts", s.handleListConflicts)
				r.Get("/overrides", s.handleListOverrides)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout))

			r.Get("/health", s.handleHealth)
			r.Get("/evaluations/{evaluationId}", s.handleGetEvaluation)

			r.Route("/conflicts/{conflictId}", func(r chi.Router) {
				r.Get("/", s.handleGetConflict)
				r.Post("/resolve", s.handleResolveConflict)
			})

			r.Get("/rulesets", s.handleListRuleSets)
			r.Post("/rulesets/invalidate", s.handleInvalidateRuleSets)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs one line per request.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check.Ping(ctx)
		cancel()
		if err != nil {
			resp.Status = "unhealthy"
			resp.Checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	respondJSON(w, status, resp)
}

// Evaluation handlers
func (s *Server) handleRunEvaluation(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")

	var req RunEvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.TriggeredByUserID == "" {
		req.TriggeredByUserID = r.Header.Get(UserIDHeader)
	}

	// Once started, a run finishes even if the client goes away.
	result, err := s.orchestrator.Run(context.WithoutCancel(r.Context()), projectID, evaluation.RunRequest{
		Scope:             req.Scope,
		Facts:             req.Facts,
		RuleSetIDs:        req.RuleSetIDs,
		TriggeredByUserID: req.TriggeredByUserID,
		Metadata:          req.Metadata,
	})
	if err != nil {
		s.fail(w, r, "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pagination", err)
		return
	}

	evaluations, err := s.store.ListEvaluations(r.Context(), chi.URLParam(r, "projectId"), page)
	if err != nil {
		s.fail(w, r, "failed to list evaluations", err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluationsListResponse{
		Evaluations: nonNil(evaluations),
		Limit:       page.Limit,
		Offset:      page.Offset,
	})
}

func (s *Server) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	eval, err := s.store.GetEvaluation(r.Context(), chi.URLParam(r, "evaluationId"))
	if err != nil {
		s.fail(w, r, "evaluation not found", err)
		return
	}
	respondJSON(w, http.StatusOK, eval)
}

// Requirements model handlers
func (s *Server) handleLatestRequirements(w http.ResponseWriter, r *http.Request) {
	model, err := s.store.GetLatestModel(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		s.fail(w, r, "requirements model not found", err)
		return
	}
	respondJSON(w, http.StatusOK, model)
}

func (s *Server) handleListRequirements(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pagination", err)
		return
	}

	models, err := s.store.ListModels(r.Context(), chi.URLParam(r, "projectId"), page)
	if err != nil {
		s.fail(w, r, "failed to list requirements models", err)
		return
	}

	respondJSON(w, http.StatusOK, RequirementsModelsListResponse{
		Models: nonNil(models),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

// Conflict handlers
func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	status := rules.ConflictStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	switch status {
	case "", rules.ConflictOpen, rules.ConflictResolved, rules.ConflictIgnored:
	default:
		respondError(w, http.StatusBadRequest, "status must be OPEN, RESOLVED or IGNORED", nil)
		return
	}

	conflicts, err := s.store.ListConflicts(r.Context(), chi.URLParam(r, "projectId"), status)
	if err != nil {
		s.fail(w, r, "failed to list conflicts", err)
		return
	}

	respondJSON(w, http.StatusOK, ConflictsListResponse{Conflicts: nonNil(conflicts)})
}

func (s *Server) handleGetConflict(w http.ResponseWriter, r *http.Request) {
	conflict, err := s.store.GetConflict(r.Context(), chi.URLParam(r, "conflictId"))
	if err != nil {
		s.fail(w, r, "conflict not found", err)
		return
	}
	respondJSON(w, http.StatusOK, conflict)
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	conflict, err := s.resolver.Resolve(r.Context(), chi.URLParam(r, "conflictId"), evaluation.ResolveRequest{
		Resolution: evaluation.Resolution(req.Resolution),
		Notes:      req.Notes,
		UserID:     r.Header.Get(UserIDHeader),
	})
	if err != nil {
		s.fail(w, r, "failed to resolve conflict", err)
		return
	}

	respondJSON(w, http.StatusOK, conflict)
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := s.store.ListOverrides(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		s.fail(w, r, "failed to list overrides", err)
		return
	}
	respondJSON(w, http.StatusOK, OverridesListResponse{Overrides: nonNil(overrides)})
}

// Rule-set handlers
func (s *Server) handleListRuleSets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := rules.ScopeFilter{
		TenantID:  q.Get("tenantId"),
		ProjectID: q.Get("projectId"),
	}
	if ids := q.Get("ruleSetIds"); ids != "" {
		filter.RuleSetIDs = strings.Split(ids, ",")
	}
	refresh, _ := strconv.ParseBool(q.Get("refresh"))

	if filter.ProjectID != "" && filter.TenantID == "" {
		project, err := s.store.GetProject(r.Context(), filter.ProjectID)
		if err != nil {
			s.fail(w, r, "project not found", err)
			return
		}
		filter.TenantID = project.TenantID
	}

	sets, err := s.ruleSets.ListCached(r.Context(), filter, refresh)
	if err != nil {
		s.fail(w, r, "failed to list rule sets", err)
		return
	}

	respondJSON(w, http.StatusOK, RuleSetsListResponse{RuleSets: nonNil(sets)})
}

func (s *Server) handleInvalidateRuleSets(w http.ResponseWriter, r *http.Request) {
	var err error
	if projectID := r.URL.Query().Get("projectId"); projectID != "" {
		err = s.ruleSets.Invalidate(r.Context(), projectID)
	} else {
		err = s.ruleSets.InvalidateAll(r.Context())
	}
	if err != nil {
		s.fail(w, r, "failed to invalidate rule-set cache", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps a service error to a status and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(message,
			"error", err,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
		)
	}
	respondError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rules.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, evaluation.ErrInvalidResolution):
		return http.StatusBadRequest
	case errors.Is(err, rules.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func pageFromQuery(r *http.Request) (rules.Page, error) {
	var page rules.Page
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, errors.New("limit must be an integer")
		}
		page.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, errors.New("offset must be an integer")
		}
		page.Offset = n
	}
	return page.Normalize(), nil
}

// nonNil keeps empty listings encoded as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	switch {
	case status >= http.StatusInternalServerError:
		logger.ErrorHttp5xx()
	case status >= http.StatusBadRequest:
		logger.WarnHttp4xx(status)
	}

	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}
