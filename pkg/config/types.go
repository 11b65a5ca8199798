package config

import (
	"os"
	"strconv"
	"strings"
)

// Defaults applied to optional descriptor fields.
const (
	DefaultTimeout       = 30
	DefaultRetryAttempts = 3

	MinTimeout       = 1
	MaxTimeout       = 300
	MinRetryAttempts = 0
	MaxRetryAttempts = 10
)

// Descriptor is the validated connection descriptor for a TFE server. It is
// immutable once validated and is held only by the secret store; presentation
// layers see masked summaries, never this struct.
type Descriptor struct {
	// TFEServer is the server hostname or URL (scheme and port optional).
	TFEServer string `yaml:"tfe_server" json:"tfe_server" validate:"required,tfe_server"`

	// Organization is the TFE organization name.
	Organization string `yaml:"organization" json:"organization" validate:"required,max=100,tfe_org"`

	// Token is the API token used as a bearer credential.
	Token string `yaml:"token" json:"token" validate:"required,tfe_token"`

	// WorkspaceID identifies the workspace (ws- plus at least 6 alphanumerics).
	WorkspaceID string `yaml:"workspace_id" json:"workspace_id" validate:"required,tfe_workspace_id"`

	// RunID identifies the run (run- plus at least 6 alphanumerics).
	RunID string `yaml:"run_id" json:"run_id" validate:"required,tfe_run_id"`

	// VerifySSL controls TLS certificate verification (default true).
	VerifySSL bool `yaml:"verify_ssl" json:"verify_ssl"`

	// Timeout is the per-request timeout in seconds (1-300, default 30).
	Timeout int `yaml:"timeout" json:"timeout" validate:"omitempty,min=1,max=300"`

	// RetryAttempts is the retry budget per network call (0-10, default 3).
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts" validate:"min=0,max=10"`
}

// NewDescriptor returns a descriptor with the optional fields set to their
// defaults.
func NewDescriptor() *Descriptor {
	return &Descriptor{
		VerifySSL:     true,
		Timeout:       DefaultTimeout,
		RetryAttempts: DefaultRetryAttempts,
	}
}

// NormalizedServerURL returns the server as a full base URL: https:// is
// prefixed when no scheme is present and any trailing slash is stripped.
func (d *Descriptor) NormalizedServerURL() string {
	server := strings.TrimSpace(d.TFEServer)
	if server == "" {
		return ""
	}
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}
	return strings.TrimRight(server, "/")
}

// ApplyEnv overrides descriptor fields from the environment. Environment
// values win over file values so tokens can stay out of config files.
func (d *Descriptor) ApplyEnv() {
	if v := os.Getenv("TFE_SERVER"); v != "" {
		d.TFEServer = v
	}
	if v := os.Getenv("TFE_ORGANIZATION"); v != "" {
		d.Organization = v
	}
	if v := os.Getenv("TFE_TOKEN"); v != "" {
		d.Token = v
	}
	if v := os.Getenv("TFE_WORKSPACE_ID"); v != "" {
		d.WorkspaceID = v
	}
	if v := os.Getenv("TFE_RUN_ID"); v != "" {
		d.RunID = v
	}
	if v := os.Getenv("TFE_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.Timeout = n
		}
	}
	if v := os.Getenv("TFE_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.RetryAttempts = n
		}
	}
}

// AsMap renders the descriptor as the mapping shape consumed by the secret
// store and the map-level validator.
func (d *Descriptor) AsMap() map[string]interface{} {
	return map[string]interface{}{
		"tfe_server":     d.TFEServer,
		"organization":   d.Organization,
		"token":          d.Token,
		"workspace_id":   d.WorkspaceID,
		"run_id":         d.RunID,
		"verify_ssl":     d.VerifySSL,
		"timeout":        d.Timeout,
		"retry_attempts": d.RetryAttempts,
	}
}
