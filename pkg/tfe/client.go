package tfe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/terradash/terradash/pkg/config"
	"github.com/terradash/terradash/pkg/secrets"
	"github.com/terradash/terradash/pkg/telemetry"
)

// maxPlanBodySize bounds the downloaded plan artifact (64 MiB) so a
// misbehaving server cannot exhaust memory.
const maxPlanBodySize = 64 << 20

// ClientOptions configures optional collaborators for a Client. Zero values
// get sensible defaults; Metrics and Tracer may stay nil.
type ClientOptions struct {
	// Version is reported in the User-Agent header.
	Version string

	// Retrier overrides the retry engine built from the descriptor.
	Retrier *Retrier

	// PlanStore receives the downloaded plan JSON. A private store is
	// created when nil.
	PlanStore *secrets.Store

	// CredentialStore holds the descriptor for the lifetime of the client.
	// A private store is created when nil.
	CredentialStore *secrets.Store

	// Logger overrides the default component logger.
	Logger *zerolog.Logger

	// Metrics records API call and retry counters when non-nil.
	Metrics *telemetry.Metrics

	// Tracer wraps each pipeline step in a span when non-nil.
	Tracer *telemetry.Tracer

	// Events publishes retry and step lifecycle events when non-nil.
	Events *telemetry.EventPublisher
}

// Client orchestrates the four-step retrieval chain against one TFE server:
// authenticate, resolve run to plan, resolve plan to its redacted JSON URL,
// download. Each network call is independently wrapped by the retry engine.
// A Client owns its HTTP client and its secret stores exclusively;
// concurrent user sessions each get their own Client.
type Client struct {
	mu sync.Mutex

	baseURL       string
	token         string
	workspaceID   string
	runID         string
	retryAttempts int

	httpClient *http.Client
	headers    map[string]string
	retrier    *Retrier
	store      *secrets.Store
	creds      *secrets.Store

	log     zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher

	authenticated bool
	closed        bool
}

// NewClient builds an orchestrator from a validated descriptor. The
// descriptor is deep-copied into the credential store; the client keeps only
// what it needs for request construction.
func NewClient(desc *config.Descriptor, opts ClientOptions) (*Client, error) {
	if desc == nil {
		return nil, errors.New("descriptor is required")
	}
	baseURL := desc.NormalizedServerURL()
	if baseURL == "" {
		return nil, errors.New("descriptor has no server address")
	}

	timeout := time.Duration(desc.Timeout) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultTimeout) * time.Second
	}

	logger := log.With().Str("component", "tfe_client").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	if !desc.VerifySSL {
		logger.Warn().
			Str("server", baseURL).
			Msg("TLS certificate verification is DISABLED; the connection is vulnerable to interception")
	}

	retrier := opts.Retrier
	if retrier == nil {
		retrier = NewRetrier(desc.RetryAttempts, DefaultBaseDelay)
		if opts.Metrics != nil || opts.Events != nil {
			m, ev := opts.Metrics, opts.Events
			retrier.Notify = func(n RetryNotice) {
				LogNotifier(n)
				if m != nil {
					m.RecordRetry(n.Operation, string(n.Category))
				}
				if ev != nil {
					_ = ev.PublishRetryScheduled(n.Operation, string(n.Category), n.Attempt+1, n.Delay)
				}
			}
		}
	}

	store := opts.PlanStore
	if store == nil {
		store = secrets.New(secrets.Options{})
	}
	creds := opts.CredentialStore
	if creds == nil {
		creds = secrets.New(secrets.Options{})
	}
	creds.Store(desc.AsMap(), secrets.SourceCredentials, nil)

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	c := &Client{
		baseURL:       baseURL,
		token:         desc.Token,
		workspaceID:   desc.WorkspaceID,
		runID:         desc.RunID,
		retryAttempts: desc.RetryAttempts,
		httpClient:    newHTTPClient(desc.VerifySSL, timeout),
		headers: map[string]string{
			"User-Agent":    fmt.Sprintf("terradash/%s", version),
			"Accept":        "application/vnd.api+json",
			"Cache-Control": "no-cache, no-store",
			"Pragma":        "no-cache",
		},
		retrier: retrier,
		store:   store,
		creds:   creds,
		log:     logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		events:  opts.Events,
	}
	return c, nil
}

// PlanStore exposes the store holding the retrieved plan so glue layers can
// read masked summaries and session info.
func (c *Client) PlanStore() *secrets.Store {
	return c.store
}

// Authenticated reports whether the auth probe has succeeded since the last
// Close.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Authenticate probes GET /api/v2/account/details with the bearer token.
// A 200 marks the client authenticated; a 401 fails fast with an
// authentication-classified error.
func (c *Client) Authenticate(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "tfe.authenticate")
	defer span.End()
	started := time.Now()

	ectx := NewErrorContext(opAuthentication, c.retryAttempts).WithServer(c.baseURL)
	err := c.retrier.Do(ctx, func() error {
		body, err := c.get(ctx, c.baseURL+"/api/v2/account/details", true)
		if err != nil {
			return err
		}
		var account accountResponse
		if err := json.Unmarshal(body, &account); err != nil {
			return &PayloadError{Reason: "account details response is not valid JSON", Err: err}
		}
		c.log.Debug().Str("account", account.Data.ID).Msg("Authenticated against TFE")
		return nil
	}, ectx)

	c.recordOutcome(span, opAuthentication, ectx, started, err)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
	return nil
}

// ValidateConnection probes the API root without credentials. Both 200 and
// 401 prove the server answered (401 just means auth is required), which
// distinguishes "server down" from "server up but unauthenticated".
func (c *Client) ValidateConnection(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "tfe.connection_check")
	defer span.End()
	started := time.Now()

	ectx := NewErrorContext(opConnectionCheck, c.retryAttempts).WithServer(c.baseURL)
	err := c.retrier.Do(ctx, func() error {
		_, err := c.get(ctx, c.baseURL+"/api/v2", false)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 401 {
			return nil
		}
		return err
	}, ectx)

	c.recordOutcome(span, opConnectionCheck, ectx, started, err)
	return err
}

// GetPlanJSON runs the full retrieval chain for a run and returns the plan
// JSON mapping. On success the payload is stored in the plan store tagged
// tfe_integration and the returned value is a fresh deep copy read back out,
// so the orchestrator and the store never share mutable state. On failure
// the error is always a *ClassifiedError carrying the troubleshooting
// message; no exception-style propagation crosses this boundary.
func (c *Client) GetPlanJSON(ctx context.Context, workspaceID, runID string) (map[string]interface{}, error) {
	ctx, span := c.startSpan(ctx, "tfe.get_plan_json")
	defer span.End()

	if ok, msg := ValidateWorkspaceID(workspaceID); !ok {
		return nil, c.formatError(opRunLookup, CategoryInvalidIDFormat, errors.New(msg), workspaceID, runID)
	}
	if ok, msg := ValidateRunID(runID); !ok {
		return nil, c.formatError(opRunLookup, CategoryInvalidIDFormat, errors.New(msg), workspaceID, runID)
	}

	if !c.Authenticated() {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	planID, err := c.resolvePlanID(ctx, workspaceID, runID)
	if err != nil {
		return nil, err
	}

	jsonURL, err := c.resolveJSONURL(ctx, workspaceID, runID, planID)
	if err != nil {
		return nil, err
	}

	plan, err := c.downloadPlanJSON(ctx, workspaceID, runID, jsonURL)
	if err != nil {
		return nil, err
	}

	c.store.Store(plan, secrets.SourceTFEIntegration, map[string]string{
		"workspace_id": workspaceID,
		"run_id":       runID,
	})
	c.log.Info().
		Str("workspace_id", workspaceID).
		Str("run_id", runID).
		Str("plan_id", planID).
		Msg("Plan JSON retrieved and stored")

	return c.store.Get(), nil
}

// resolvePlanID extracts the plan ID from the run's relationships.
func (c *Client) resolvePlanID(ctx context.Context, workspaceID, runID string) (string, error) {
	ctx, span := c.startSpan(ctx, "tfe.run_lookup")
	defer span.End()
	started := time.Now()

	ectx := NewErrorContext(opRunLookup, c.retryAttempts).
		WithServer(c.baseURL).
		WithRun(workspaceID, runID)

	planID, err := DoValue(ctx, c.retrier, func() (string, error) {
		body, err := c.get(ctx, c.baseURL+"/api/v2/runs/"+url.PathEscape(runID), true)
		if err != nil {
			return "", err
		}
		var run runResponse
		if err := json.Unmarshal(body, &run); err != nil {
			return "", &PayloadError{Reason: "run response is not valid JSON", Err: err}
		}
		ref := run.Data.Relationships.Plan.Data
		if ref == nil || ref.Type != "plans" || ref.ID == "" {
			return "", &PayloadError{Reason: "no plan found in run data"}
		}
		return ref.ID, nil
	}, ectx)

	c.recordOutcome(span, opRunLookup, ectx, started, err)
	return planID, err
}

// resolveJSONURL extracts the pre-signed redacted JSON URL from the plan's
// attributes.
func (c *Client) resolveJSONURL(ctx context.Context, workspaceID, runID, planID string) (string, error) {
	ctx, span := c.startSpan(ctx, "tfe.plan_lookup")
	defer span.End()
	started := time.Now()

	ectx := NewErrorContext(opPlanLookup, c.retryAttempts).
		WithServer(c.baseURL).
		WithRun(workspaceID, runID)

	jsonURL, err := DoValue(ctx, c.retrier, func() (string, error) {
		body, err := c.get(ctx, c.baseURL+"/api/v2/plans/"+url.PathEscape(planID), true)
		if err != nil {
			return "", err
		}
		var plan planResponse
		if err := json.Unmarshal(body, &plan); err != nil {
			return "", &PayloadError{Reason: "plan response is not valid JSON", Err: err}
		}
		if plan.Data.Attributes.JSONOutputRedacted == "" {
			return "", &PayloadError{Reason: "no structured JSON output available for this plan"}
		}
		return plan.Data.Attributes.JSONOutputRedacted, nil
	}, ectx)

	c.recordOutcome(span, opPlanLookup, ectx, started, err)
	return jsonURL, err
}

// downloadPlanJSON fetches the plan artifact and parses it. A malformed body
// is a content-level PayloadError, distinct from transport failures and
// never retried.
func (c *Client) downloadPlanJSON(ctx context.Context, workspaceID, runID, jsonURL string) (map[string]interface{}, error) {
	ctx, span := c.startSpan(ctx, "tfe.plan_download")
	defer span.End()
	started := time.Now()

	ectx := NewErrorContext(opPlanDownload, c.retryAttempts).
		WithServer(c.baseURL).
		WithRun(workspaceID, runID)

	plan, err := DoValue(ctx, c.retrier, func() (map[string]interface{}, error) {
		body, err := c.get(ctx, jsonURL, true)
		if err != nil {
			return nil, err
		}
		var plan map[string]interface{}
		if err := json.Unmarshal(body, &plan); err != nil {
			return nil, &PayloadError{Reason: "downloaded plan is not valid JSON", Err: err}
		}
		return plan, nil
	}, ectx)

	c.recordOutcome(span, opPlanDownload, ectx, started, err)
	return plan, err
}

// Close tears the orchestrator down: the fixed header set is cleared in
// place, idle connections are closed, the authenticated flag drops, and both
// the plan store and the credential store are wiped.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.authenticated = false
	for k := range c.headers {
		delete(c.headers, k)
	}
	c.token = ""
	c.mu.Unlock()

	c.httpClient.CloseIdleConnections()
	c.store.Close()
	c.creds.Close()
	c.log.Debug().Msg("TFE client closed, secret stores wiped")
}

// get performs a single GET with the fixed header set, optionally with the
// bearer token. Non-2xx answers become *APIError; transport failures are
// unwrapped from their url.Error shell and re-wrapped with a sanitized URL
// so pre-signed query credentials never reach logs or messages.
func (c *Client) get(ctx context.Context, rawURL string, withAuth bool) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", sanitizeURL(rawURL), err)
	}

	c.mu.Lock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	token := c.token
	c.mu.Unlock()

	if withAuth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		c.observeCall(req.Method, 0, start)
		return nil, fmt.Errorf("GET %s: %w", sanitizeURL(rawURL), err)
	}
	defer resp.Body.Close()

	c.observeCall(req.Method, resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			Path:       sanitizeURL(rawURL),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlanBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", sanitizeURL(rawURL), err)
	}
	return body, nil
}

// formatError produces a ClassifiedError outside the retry engine, for
// failures (like ID format checks) that never reach it.
func (c *Client) formatError(operation string, category Category, err error, workspaceID, runID string) error {
	ectx := &ErrorContext{
		Category:    category,
		Err:         err,
		Operation:   operation,
		Server:      c.baseURL,
		WorkspaceID: workspaceID,
		RunID:       runID,
	}
	f := c.retrier.Formatter
	if f == nil {
		f = TextFormatter{}
	}
	if c.metrics != nil {
		c.metrics.RecordError(string(category))
	}
	return &ClassifiedError{
		Category:  category,
		Operation: operation,
		Message:   f.Format(ectx),
		Attempts:  1,
		Err:       err,
	}
}

// observeCall feeds the API call metrics.
func (c *Client) observeCall(method string, status int, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordAPICall(method, status, time.Since(start))
}

// recordOutcome annotates the step span, error metrics, and step events
// after a retried operation finishes.
func (c *Client) recordOutcome(span trace.Span, operation string, ectx *ErrorContext, started time.Time, err error) {
	if err != nil {
		telemetry.RecordError(span, err)
		if c.metrics != nil {
			c.metrics.RecordError(string(ectx.Category))
		}
		return
	}
	telemetry.RecordSuccess(span)
	if c.metrics != nil && ectx.Attempt > 0 {
		c.metrics.RecordRetrySuccess(operation, ectx.Attempt)
	}
	if c.events != nil {
		_ = c.events.PublishFetchStep(ectx.RunID, operation, time.Since(started))
	}
}

// startSpan opens a tracing span when a tracer is configured; without one it
// returns the (no-op) span already carried by the context.
func (c *Client) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if c.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return c.tracer.StartSpan(ctx, name)
}
