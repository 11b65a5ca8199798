// Package server exposes the retrieval pipeline over a JSON HTTP API.
//
// The API returns only derived plan metadata, masked summaries, and session
// state; raw credentials never appear in any response.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/terradash/terradash/pkg/config"
	"github.com/terradash/terradash/pkg/secrets"
	"github.com/terradash/terradash/pkg/telemetry"
	"github.com/terradash/terradash/pkg/tfe"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Options configures a Server.
type Options struct {
	// Descriptor is the initial TFE connection descriptor. It may be replaced
	// at runtime via SetDescriptor (config hot reload).
	Descriptor *config.Descriptor

	// Version is reported in responses and forwarded to the TFE client.
	Version string

	// Logger overrides the default component logger.
	Logger *zerolog.Logger

	// Telemetry, when set, exposes /metrics, wraps each fetch in a span,
	// records fetch and session metrics, and publishes lifecycle events.
	Telemetry *telemetry.Telemetry
}

// Server serves the dashboard API. It owns a single plan store shared across
// fetches; fetched plan data lives only in that store and vanishes on session
// clear or idle timeout.
type Server struct {
	version string
	log     zerolog.Logger
	tel     *telemetry.Telemetry
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher

	store *secrets.Store

	mu     sync.Mutex
	desc   *config.Descriptor
	client *tfe.Client

	// newClient is a seam for tests.
	newClient func(*config.Descriptor, tfe.ClientOptions) (*tfe.Client, error)
}

// New creates a Server from the given options.
func New(opts Options) *Server {
	logger := log.With().Str("component", "server").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		version:   version,
		log:       logger,
		tel:       opts.Telemetry,
		desc:      opts.Descriptor,
		newClient: tfe.NewClient,
	}
	if opts.Telemetry != nil {
		s.metrics = opts.Telemetry.Metrics
		s.tracer = opts.Telemetry.Tracer
		s.events = opts.Telemetry.Events
	}
	s.store = secrets.New(secrets.Options{OnCleared: s.sessionCleared})
	return s
}

// sessionCleared feeds every wipe of the plan store, whatever triggered it,
// into the session metrics and the event stream.
func (s *Server) sessionCleared(reason string) {
	if s.metrics != nil {
		s.metrics.RecordSessionCleared(reason)
		s.metrics.SetActiveSessions(0)
	}
	if s.events != nil {
		_ = s.events.PublishSessionCleared(string(secrets.SourceTFEIntegration), reason)
	}
	s.log.Info().Str("reason", reason).Msg("session data cleared")
}

// Handler builds the chi router for the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/validate", s.handleValidate)
		r.Post("/plan/fetch", s.handleFetch)
		r.Get("/plan", s.handleGetPlan)
		r.Get("/session", s.handleSession)
		r.Delete("/session", s.handleClearSession)
	})

	return r
}

// Run serves the API on addr until ctx is cancelled, then shuts down
// gracefully and releases the plan store and client.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// SetDescriptor replaces the active descriptor. Any existing client is closed
// so the next fetch picks up the new connection settings; closing the client
// also wipes the plan fetched under the old configuration.
func (s *Server) SetDescriptor(desc *config.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.desc = desc
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
}

// Close releases the client and wipes the plan store.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.store.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(s.log, w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// handleValidate validates a descriptor document (YAML or JSON body) and
// returns the structured findings without touching the active configuration.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(s.log, w, http.StatusBadRequest, "unable to read request body")
		return
	}
	if len(body) == 0 {
		writeError(s.log, w, http.StatusBadRequest, "request body is empty")
		return
	}

	_, result, err := config.Parse(body)
	if err != nil {
		writeJSON(s.log, w, http.StatusOK, map[string]interface{}{
			"valid": false,
			"errors": []config.FieldError{{
				Field:   "document",
				Code:    "invalid_type",
				Message: err.Error(),
			}},
		})
		return
	}

	writeJSON(s.log, w, http.StatusOK, map[string]interface{}{
		"valid":    result.Valid,
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// fetchRequest optionally overrides the descriptor's workspace and run ids.
type fetchRequest struct {
	WorkspaceID string `json:"workspace_id"`
	RunID       string `json:"run_id"`
}

// handleFetch runs the retrieval pipeline. The response carries derived plan
// metadata and a masked summary only; the raw plan is read via GET /plan.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			writeError(s.log, w, http.StatusBadRequest, "unable to read request body")
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(s.log, w, http.StatusBadRequest, "request body is not valid JSON")
				return
			}
		}
	}

	client, desc, err := s.activeClient()
	if err != nil {
		writeError(s.log, w, http.StatusServiceUnavailable, err.Error())
		return
	}

	workspaceID := req.WorkspaceID
	if workspaceID == "" {
		workspaceID = desc.WorkspaceID
	}
	runID := req.RunID
	if runID == "" {
		runID = desc.RunID
	}

	ctx := r.Context()
	if s.tel != nil {
		ctx = s.tel.WithContext(ctx)
	}
	ctx = telemetry.WithFetchContext(ctx, workspaceID, runID)

	_, err = client.GetPlanJSON(ctx, workspaceID, runID)

	var operation, category string
	var cerr *tfe.ClassifiedError
	if errors.As(err, &cerr) {
		operation = cerr.Operation
		category = string(cerr.Category)
	}
	telemetry.EndFetchContext(ctx, workspaceID, runID, operation, category, err)

	if err != nil {
		s.writeClassified(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SetActiveSessions(1)
	}

	writeJSON(s.log, w, http.StatusOK, map[string]interface{}{
		"metadata": s.store.Metadata(),
		"summary":  s.store.MaskedSummary(),
		"session":  s.store.SessionInfo(),
	})
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan := s.store.Get()
	if plan == nil {
		writeError(s.log, w, http.StatusNotFound, "no plan in session; fetch one or the session has expired")
		return
	}
	writeJSON(s.log, w, http.StatusOK, plan)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(s.log, w, http.StatusOK, s.store.SessionInfo())
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	s.store.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// activeClient returns the current client, creating one from the active
// descriptor on first use.
func (s *Server) activeClient() (*tfe.Client, *config.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.desc == nil {
		return nil, nil, errors.New("no configuration loaded")
	}
	if s.client == nil {
		client, err := s.newClient(s.desc, tfe.ClientOptions{
			Version:   s.version,
			PlanStore: s.store,
			Metrics:   s.metrics,
			Tracer:    s.tracer,
			Events:    s.events,
		})
		if err != nil {
			return nil, nil, err
		}
		s.client = client
	}
	return s.client, s.desc, nil
}

// writeClassified maps a classified pipeline error onto an HTTP status and a
// structured error body. Underlying causes are passed through as formatted by
// the pipeline, which never includes the token.
func (s *Server) writeClassified(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]interface{}{"message": err.Error()}

	var cerr *tfe.ClassifiedError
	if errors.As(err, &cerr) {
		status = statusForCategory(cerr.Category)
		body["category"] = string(cerr.Category)
		body["operation"] = cerr.Operation
		if cerr.Attempts > 0 {
			body["attempts"] = cerr.Attempts
		}
	}

	s.log.Error().Err(err).Int("status", status).Msg("plan fetch failed")
	writeJSON(s.log, w, status, map[string]interface{}{"error": body})
}

func statusForCategory(c tfe.Category) int {
	switch c {
	case tfe.CategoryAuthentication:
		return http.StatusUnauthorized
	case tfe.CategoryPermissionDenied:
		return http.StatusForbidden
	case tfe.CategoryPlanNotFound:
		return http.StatusNotFound
	case tfe.CategoryInvalidIDFormat:
		return http.StatusBadRequest
	case tfe.CategoryAPIRateLimit:
		return http.StatusServiceUnavailable
	case tfe.CategoryTimeout:
		return http.StatusGatewayTimeout
	case tfe.CategoryNetworkConnectivity, tfe.CategoryServerUnreachable, tfe.CategorySSLError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(log zerolog.Logger, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encoding failed")
	}
}

func writeError(log zerolog.Logger, w http.ResponseWriter, status int, message string) {
	writeJSON(log, w, status, map[string]interface{}{
		"error": map[string]interface{}{"message": message},
	})
}
