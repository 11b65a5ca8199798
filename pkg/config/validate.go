package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FieldError is a structured validation finding. Validation never raises;
// every problem is reported as one of these.
type FieldError struct {
	Field      string `json:"field"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Result aggregates the findings for one descriptor. Warnings never flip
// Valid to false.
type Result struct {
	Valid    bool         `json:"valid"`
	Errors   []FieldError `json:"errors"`
	Warnings []FieldError `json:"warnings"`
}

func (r *Result) addError(field, code, message, suggestion string) {
	r.Valid = false
	r.Errors = append(r.Errors, FieldError{Field: field, Code: code, Message: message, Suggestion: suggestion})
}

func (r *Result) addWarning(field, code, message, suggestion string) {
	r.Warnings = append(r.Warnings, FieldError{Field: field, Code: code, Message: message, Suggestion: suggestion})
}

// Validation error codes.
const (
	CodeRequired    = "required"
	CodeType        = "invalid_type"
	CodeFormat      = "invalid_format"
	CodeRange       = "out_of_range"
	CodeUnknown     = "unknown_field"
	CodePlaceholder = "placeholder_value"
	CodeInsecure    = "insecure_transport"
)

var (
	workspaceIDPattern = regexp.MustCompile(`^ws-[A-Za-z0-9]{6,}$`)
	runIDPattern       = regexp.MustCompile(`^run-[A-Za-z0-9]{6,}$`)
	tokenPattern       = regexp.MustCompile(`^[A-Za-z0-9._-]{10,200}$`)
	orgPattern         = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
	hostnamePattern    = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,62}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,62}[A-Za-z0-9])?)*$`)
)

// placeholderMarkers are substrings that indicate a templated fake value was
// left in the descriptor.
var placeholderMarkers = []string{
	"your-token-here", "your-org", "example", "test", "dummy",
	"changeme", "placeholder", "xxxx", "<", ">",
}

// requiredFields maps the required descriptor keys to their expected type.
var requiredFields = []string{"tfe_server", "organization", "token", "workspace_id", "run_id"}

// knownFields is the strict schema: any top-level key outside this set is an
// error.
var knownFields = map[string]string{
	"tfe_server":     "string",
	"organization":   "string",
	"token":          "string",
	"workspace_id":   "string",
	"run_id":         "string",
	"verify_ssl":     "bool",
	"timeout":        "int",
	"retry_attempts": "int",
}

var (
	validateOnce sync.Once
	structV      *validator.Validate
)

// structValidator returns the shared validator instance with the TFE custom
// validations registered.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		structV = validator.New()
		_ = structV.RegisterValidation("tfe_workspace_id", func(fl validator.FieldLevel) bool {
			return workspaceIDPattern.MatchString(fl.Field().String())
		})
		_ = structV.RegisterValidation("tfe_run_id", func(fl validator.FieldLevel) bool {
			return runIDPattern.MatchString(fl.Field().String())
		})
		_ = structV.RegisterValidation("tfe_token", func(fl validator.FieldLevel) bool {
			return tokenPattern.MatchString(fl.Field().String())
		})
		_ = structV.RegisterValidation("tfe_org", func(fl validator.FieldLevel) bool {
			return orgPattern.MatchString(fl.Field().String())
		})
		_ = structV.RegisterValidation("tfe_server", func(fl validator.FieldLevel) bool {
			return isValidServer(fl.Field().String())
		})
	})
	return structV
}

// Validate checks a raw descriptor mapping against the strict schema:
// required fields, types, formats, ranges, unknown keys, plus the security
// heuristics. It is a pure function over the input and never panics.
func Validate(raw map[string]interface{}) *Result {
	res := &Result{Valid: true}

	for key := range raw {
		if _, ok := knownFields[key]; !ok {
			res.addError(key, CodeUnknown,
				fmt.Sprintf("unknown field %q", key),
				"remove the field or check its spelling against the documented option set")
		}
	}

	for _, field := range requiredFields {
		v, ok := raw[field]
		if !ok || v == nil {
			res.addError(field, CodeRequired,
				fmt.Sprintf("%s is required", field), "")
			continue
		}
		s, isStr := v.(string)
		if !isStr {
			res.addError(field, CodeType,
				fmt.Sprintf("%s must be a string, got %T", field, v), "")
			continue
		}
		if strings.TrimSpace(s) == "" {
			res.addError(field, CodeRequired,
				fmt.Sprintf("%s must not be blank", field), "")
		}
	}

	if v, ok := raw["verify_ssl"]; ok {
		if _, isBool := v.(bool); !isBool {
			res.addError("verify_ssl", CodeType,
				fmt.Sprintf("verify_ssl must be a bool, got %T", v), "use true or false")
		}
	}
	checkIntField(res, raw, "timeout", MinTimeout, MaxTimeout)
	checkIntField(res, raw, "retry_attempts", MinRetryAttempts, MaxRetryAttempts)

	if !res.Valid {
		return res
	}

	d := descriptorFromMap(raw)
	merge(res, ValidateDescriptor(d))
	return res
}

// ValidateDescriptor runs the struct-level format and range checks on an
// already-decoded descriptor, plus the security heuristics.
func ValidateDescriptor(d *Descriptor) *Result {
	res := &Result{Valid: true}

	if err := structValidator().Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok {
			for _, fe := range verrs {
				res.Errors = append(res.Errors, describeFieldError(fe))
			}
			res.Valid = len(res.Errors) == 0
		} else {
			res.addError("", CodeFormat, err.Error(), "")
		}
	}

	for field, value := range map[string]string{
		"tfe_server":   d.TFEServer,
		"organization": d.Organization,
		"token":        d.Token,
	} {
		if marker := placeholderIn(value); marker != "" {
			res.addWarning(field, CodePlaceholder,
				fmt.Sprintf("%s looks like a placeholder value (contains %q)", field, marker),
				"replace templated values with the real ones before connecting")
		}
	}

	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(d.TFEServer)), "http://") {
		res.addWarning("tfe_server", CodeInsecure,
			"the server is configured for plain HTTP; the token will be sent unencrypted",
			"use https:// unless the server is only reachable over a trusted network")
	}

	return res
}

// describeFieldError converts a validator finding into the structured error
// contract, with a field-appropriate suggestion.
func describeFieldError(fe validator.FieldError) FieldError {
	field := yamlFieldName(fe.StructField())

	switch fe.Tag() {
	case "required":
		return FieldError{Field: field, Code: CodeRequired,
			Message: fmt.Sprintf("%s is required", field)}
	case "min", "max":
		return FieldError{Field: field, Code: CodeRange,
			Message:    fmt.Sprintf("%s is out of range", field),
			Suggestion: rangeSuggestion(field)}
	case "tfe_workspace_id":
		return FieldError{Field: field, Code: CodeFormat,
			Message:    "workspace_id must match ws- followed by at least 6 alphanumeric characters",
			Suggestion: "copy the ws-... ID from the workspace settings page"}
	case "tfe_run_id":
		return FieldError{Field: field, Code: CodeFormat,
			Message:    "run_id must match run- followed by at least 6 alphanumeric characters",
			Suggestion: "copy the run-... ID from the run URL"}
	case "tfe_token":
		return FieldError{Field: field, Code: CodeFormat,
			Message:    "token must be 10-200 characters from [A-Za-z0-9._-]",
			Suggestion: "generate an API token in TFE user settings"}
	case "tfe_org":
		return FieldError{Field: field, Code: CodeFormat,
			Message:    "organization may only contain letters, digits, hyphens and underscores (max 100)",
			Suggestion: "use the organization name exactly as it appears in TFE"}
	case "tfe_server":
		return FieldError{Field: field, Code: CodeFormat,
			Message:    "tfe_server must be a valid hostname or IP, optionally with scheme and port",
			Suggestion: "for Terraform Cloud use app.terraform.io"}
	}
	return FieldError{Field: field, Code: CodeFormat,
		Message: fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())}
}

func rangeSuggestion(field string) string {
	switch field {
	case "timeout":
		return fmt.Sprintf("timeout must be between %d and %d seconds", MinTimeout, MaxTimeout)
	case "retry_attempts":
		return fmt.Sprintf("retry_attempts must be between %d and %d", MinRetryAttempts, MaxRetryAttempts)
	case "organization":
		return "organization names are at most 100 characters"
	}
	return ""
}

// yamlFieldName maps struct field names back to their yaml keys for
// reporting.
func yamlFieldName(structField string) string {
	switch structField {
	case "TFEServer":
		return "tfe_server"
	case "Organization":
		return "organization"
	case "Token":
		return "token"
	case "WorkspaceID":
		return "workspace_id"
	case "RunID":
		return "run_id"
	case "VerifySSL":
		return "verify_ssl"
	case "Timeout":
		return "timeout"
	case "RetryAttempts":
		return "retry_attempts"
	}
	return structField
}

// isValidServer accepts a hostname or IP with optional scheme and optional
// port in 1-65535.
func isValidServer(server string) bool {
	server = strings.TrimSpace(server)
	if server == "" {
		return false
	}

	hostport := server
	if strings.Contains(server, "://") {
		u, err := url.Parse(server)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return false
		}
		if u.Path != "" && u.Path != "/" {
			return false
		}
		hostport = u.Host
	}

	host := hostport
	if h, p, err := net.SplitHostPort(hostport); err == nil {
		port, perr := strconv.Atoi(p)
		if perr != nil || port < 1 || port > 65535 {
			return false
		}
		host = h
	}

	if net.ParseIP(host) != nil {
		return true
	}
	return len(host) <= 253 && hostnamePattern.MatchString(host)
}

// placeholderIn returns the first placeholder marker found in the value, or
// the empty string when the value looks real.
func placeholderIn(value string) string {
	lower := strings.ToLower(value)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	return ""
}

// checkIntField validates an optional integer field in a raw mapping. YAML
// decodes integers as int, JSON as float64; both are accepted.
func checkIntField(res *Result, raw map[string]interface{}, field string, min, max int) {
	v, ok := raw[field]
	if !ok || v == nil {
		return
	}

	var n int
	switch t := v.(type) {
	case int:
		n = t
	case int64:
		n = int(t)
	case float64:
		if t != float64(int(t)) {
			res.addError(field, CodeType,
				fmt.Sprintf("%s must be an integer", field), "")
			return
		}
		n = int(t)
	default:
		res.addError(field, CodeType,
			fmt.Sprintf("%s must be an integer, got %T", field, v), "")
		return
	}

	if n < min || n > max {
		res.addError(field, CodeRange,
			fmt.Sprintf("%s must be between %d and %d, got %d", field, min, max, n),
			rangeSuggestion(field))
	}
}

// descriptorFromMap builds a descriptor from an already type-checked raw
// mapping, applying defaults for absent optional fields.
func descriptorFromMap(raw map[string]interface{}) *Descriptor {
	d := NewDescriptor()
	if v, ok := raw["tfe_server"].(string); ok {
		d.TFEServer = v
	}
	if v, ok := raw["organization"].(string); ok {
		d.Organization = v
	}
	if v, ok := raw["token"].(string); ok {
		d.Token = v
	}
	if v, ok := raw["workspace_id"].(string); ok {
		d.WorkspaceID = v
	}
	if v, ok := raw["run_id"].(string); ok {
		d.RunID = v
	}
	if v, ok := raw["verify_ssl"].(bool); ok {
		d.VerifySSL = v
	}
	if n, ok := intFrom(raw["timeout"]); ok {
		d.Timeout = n
	}
	if n, ok := intFrom(raw["retry_attempts"]); ok {
		d.RetryAttempts = n
	}
	return d
}

func intFrom(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	}
	return 0, false
}

// merge folds the findings of other into res.
func merge(res, other *Result) {
	res.Errors = append(res.Errors, other.Errors...)
	res.Warnings = append(res.Warnings, other.Warnings...)
	if !other.Valid {
		res.Valid = false
	}
}

// asValidationErrors is errors.As specialized for validator.ValidationErrors
// (a slice type, which errors.As handles but reads awkwardly inline).
func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = verrs
	return true
}
