// Package tfe implements the Terraform Cloud/Enterprise plan retrieval
// pipeline: a classified error taxonomy, an exponential-backoff retry engine,
// and the four-step API orchestration that resolves a run to its redacted
// plan JSON.
package tfe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// Category classifies a pipeline failure for retry and messaging decisions.
type Category string

const (
	// CategoryAuthentication indicates the token was rejected (HTTP 401).
	CategoryAuthentication Category = "authentication"

	// CategoryAPIRateLimit indicates the API throttled the request (HTTP 429).
	CategoryAPIRateLimit Category = "api_rate_limit"

	// CategoryNetworkConnectivity indicates a generic network-level failure.
	CategoryNetworkConnectivity Category = "network_connectivity"

	// CategoryInvalidIDFormat indicates a malformed workspace or run ID.
	CategoryInvalidIDFormat Category = "invalid_id_format"

	// CategoryServerUnreachable indicates the server could not be reached or
	// answered with a server-side error (connect failure, HTTP 5xx).
	CategoryServerUnreachable Category = "server_unreachable"

	// CategoryPlanNotFound indicates the run, plan, or its JSON output does
	// not exist or cannot be used (HTTP 404, missing relationship, malformed
	// plan payload).
	CategoryPlanNotFound Category = "plan_not_found"

	// CategoryPermissionDenied indicates the token lacks access (HTTP 403).
	CategoryPermissionDenied Category = "permission_denied"

	// CategorySSLError indicates a TLS handshake or certificate failure.
	CategorySSLError Category = "ssl_error"

	// CategoryTimeout indicates the request exceeded its deadline.
	CategoryTimeout Category = "timeout"

	// CategoryUnknown is the fallback for unrecognized failures.
	CategoryUnknown Category = "unknown"
)

// policy describes how a category is retried and reported. The single table
// is consumed by both the retry engine (Retryable) and the message formatter
// (Summary, Causes, Remediation) so the two can never disagree.
type policy struct {
	Retryable   bool
	Summary     string
	Causes      []string
	Remediation []string
}

var policyTable = map[Category]policy{
	CategoryAuthentication: {
		Retryable: false,
		Summary:   "authentication with the TFE server failed",
		Causes: []string{
			"the API token is invalid or has expired",
			"the token belongs to a different TFE organization",
			"the token was revoked by an administrator",
		},
		Remediation: []string{
			"generate a fresh API token in TFE user settings",
			"confirm the token grants access to the target organization",
			"verify the server address points at the right TFE instance",
		},
	},
	CategoryAPIRateLimit: {
		Retryable: true,
		Summary:   "the TFE API rate limit was exceeded",
		Causes: []string{
			"too many requests were issued in a short window",
			"other clients share the same token or source address",
		},
		Remediation: []string{
			"wait a minute before retrying",
			"reduce concurrent requests against the same server",
		},
	},
	CategoryNetworkConnectivity: {
		Retryable: true,
		Summary:   "a network problem interrupted the connection",
		Causes: []string{
			"transient packet loss or an unstable link",
			"a proxy or firewall dropped the connection",
		},
		Remediation: []string{
			"check local network connectivity",
			"verify proxy and firewall settings allow the TFE host",
		},
	},
	CategoryInvalidIDFormat: {
		Retryable: false,
		Summary:   "the workspace or run identifier is malformed",
		Causes: []string{
			"the ID was copied incompletely",
			"a workspace name was supplied instead of its ws- ID",
		},
		Remediation: []string{
			"workspace IDs look like ws-ABC123456",
			"run IDs look like run-XYZ789012",
			"copy the ID from the workspace or run URL in the TFE UI",
		},
	},
	CategoryServerUnreachable: {
		Retryable: true,
		Summary:   "the TFE server could not be reached",
		Causes: []string{
			"the server hostname is wrong or not resolvable",
			"the server is down or behind an unreachable network",
			"the server returned an internal error",
		},
		Remediation: []string{
			"confirm the server address (e.g. app.terraform.io)",
			"check the TFE status page or ask the instance operator",
			"retry once the server recovers",
		},
	},
	CategoryPlanNotFound: {
		Retryable: false,
		Summary:   "no usable plan was found for the requested run",
		Causes: []string{
			"the run ID does not exist in the workspace",
			"the run has not produced a plan yet",
			"structured JSON output is unavailable for this plan",
			"the plan payload could not be parsed",
		},
		Remediation: []string{
			"verify the run ID against the TFE UI",
			"wait for the run to finish planning, then retry",
			"structured output requires Terraform 0.12 or newer",
		},
	},
	CategoryPermissionDenied: {
		Retryable: false,
		Summary:   "the token does not have permission for this resource",
		Causes: []string{
			"the token lacks read access to the workspace",
			"the workspace belongs to a different organization",
		},
		Remediation: []string{
			"ask a workspace admin to grant read access",
			"confirm the organization name in the configuration",
		},
	},
	CategorySSLError: {
		Retryable: false,
		Summary:   "the TLS connection to the server could not be verified",
		Causes: []string{
			"the server presents a self-signed or expired certificate",
			"an intercepting proxy rewrites TLS traffic",
		},
		Remediation: []string{
			"install the server's CA certificate locally",
			"set verify_ssl: false only for trusted internal servers",
		},
	},
	CategoryTimeout: {
		Retryable: true,
		Summary:   "the request timed out waiting for the server",
		Causes: []string{
			"the server is overloaded or responding slowly",
			"the configured timeout is too aggressive",
		},
		Remediation: []string{
			"retry the operation",
			"raise the timeout setting (current range 1-300 seconds)",
		},
	},
	CategoryUnknown: {
		Retryable: true,
		Summary:   "an unexpected error occurred",
		Causes: []string{
			"an unanticipated failure in the retrieval pipeline",
		},
		Remediation: []string{
			"retry the operation",
			"run with --verbose and inspect the logs",
		},
	},
}

// Retryable reports whether failures of this category are worth retrying.
func (c Category) Retryable() bool {
	return policyTable[c].Retryable
}

// Summary returns the one-line cause summary for this category.
func (c Category) Summary() string {
	return policyTable[c].Summary
}

// APIError is raised when the TFE API answers with a non-2xx status. The URL
// is reduced to its path so pre-signed query credentials never appear in
// error text.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s %s", e.StatusCode, e.Method, e.Path)
}

// PayloadError is a content-level failure: the server answered successfully
// but the body is missing required fields or is not valid JSON. Payload
// errors are never retried; a malformed payload stays malformed.
type PayloadError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *PayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

// Unwrap returns the underlying error.
func (e *PayloadError) Unwrap() error {
	return e.Err
}

// ClassifiedError is the error surfaced by the pipeline after classification
// and (if applicable) retry exhaustion. Message carries the full structured
// troubleshooting text produced by the configured Formatter.
type ClassifiedError struct {
	Category  Category
	Operation string
	Message   string
	Attempts  int
	Err       error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Is matches classified errors by category.
func (e *ClassifiedError) Is(target error) bool {
	t, ok := target.(*ClassifiedError)
	if !ok {
		return false
	}
	return e.Category == t.Category
}

// ErrorContext carries the state of one top-level pipeline operation across
// retry attempts. It is created fresh per operation and mutated in place by
// the retry engine.
type ErrorContext struct {
	Category    Category
	Err         error
	Operation   string
	Server      string
	WorkspaceID string
	RunID       string
	Attempt     int
	MaxRetries  int
}

// NewErrorContext creates an error context for a named operation.
func NewErrorContext(operation string, maxRetries int) *ErrorContext {
	return &ErrorContext{
		Category:   CategoryUnknown,
		Operation:  operation,
		MaxRetries: maxRetries,
	}
}

// WithServer records the server hostname for error messaging.
func (c *ErrorContext) WithServer(server string) *ErrorContext {
	c.Server = server
	return c
}

// WithRun records the workspace and run identifiers for error messaging.
func (c *ErrorContext) WithRun(workspaceID, runID string) *ErrorContext {
	c.WorkspaceID = workspaceID
	c.RunID = runID
	return c
}

// Classify maps a transport or HTTP failure to a Category. Checks run in
// priority order: TLS, timeout, connection failure, HTTP status, payload
// errors, then substring sniffing on the stringified error.
func Classify(err error, operation string) Category {
	if err == nil {
		return CategoryUnknown
	}

	if isTLSError(err) {
		return CategorySSLError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	if isConnectError(err) {
		return CategoryServerUnreachable
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401:
			return CategoryAuthentication
		case apiErr.StatusCode == 403:
			return CategoryPermissionDenied
		case apiErr.StatusCode == 404:
			return CategoryPlanNotFound
		case apiErr.StatusCode == 429:
			return CategoryAPIRateLimit
		case apiErr.StatusCode >= 500:
			return CategoryServerUnreachable
		}
	}

	// Missing plan relationships and malformed plan payloads are terminal:
	// retrying cannot repair content the server already committed to.
	var payloadErr *PayloadError
	if errors.As(err, &payloadErr) {
		return CategoryPlanNotFound
	}

	return sniffCategory(err)
}

// isTLSError reports whether the error chain contains a TLS handshake or
// certificate verification failure.
func isTLSError(err error) bool {
	var (
		recordErr  tls.RecordHeaderError
		certErr    *tls.CertificateVerificationError
		authErr    x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	if errors.As(err, &recordErr) || errors.As(err, &certErr) ||
		errors.As(err, &authErr) || errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:")
}

// isConnectError reports whether the error chain indicates the server could
// not be reached at all.
func isConnectError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}

// sniffCategory falls back to substring matching on the error text for
// failures that carry no structured type information.
func sniffCategory(err error) Category {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return CategoryAPIRateLimit
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"):
		return CategoryNetworkConnectivity
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "auth"):
		return CategoryAuthentication
	}
	return CategoryUnknown
}

// sanitizeURL strips the query string from a URL so pre-signed credentials
// never leak into logs or error messages.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
