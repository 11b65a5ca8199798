package config

import (
	"strings"
	"testing"
)

// validRaw returns a raw mapping that passes every check.
func validRaw() map[string]interface{} {
	return map[string]interface{}{
		"tfe_server":   "tfe.acme-platform.io",
		"organization": "acme-platform",
		"token":        "tfe-AbCdEf0123456789xyz",
		"workspace_id": "ws-ABC123xyz",
		"run_id":       "run-XYZ789abc",
	}
}

func findingFor(findings []FieldError, field string) *FieldError {
	for i := range findings {
		if findings[i].Field == field {
			return &findings[i]
		}
	}
	return nil
}

func TestValidate_CleanDescriptor(t *testing.T) {
	res := Validate(validRaw())
	if !res.Valid {
		t.Fatalf("expected valid, got errors: %+v", res.Errors)
	}
	if len(res.Errors) != 0 {
		t.Errorf("expected no errors, got %+v", res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("expected no warnings, got %+v", res.Warnings)
	}
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	for _, field := range []string{"tfe_server", "organization", "token", "workspace_id", "run_id"} {
		t.Run(field, func(t *testing.T) {
			raw := validRaw()
			delete(raw, field)

			res := Validate(raw)
			if res.Valid {
				t.Fatal("expected invalid result")
			}
			fe := findingFor(res.Errors, field)
			if fe == nil {
				t.Fatalf("no finding for %s in %+v", field, res.Errors)
			}
			if fe.Code != CodeRequired {
				t.Errorf("code = %q, want %q", fe.Code, CodeRequired)
			}
		})
	}
}

func TestValidate_BlankFieldIsRequired(t *testing.T) {
	raw := validRaw()
	raw["organization"] = "   "

	res := Validate(raw)
	fe := findingFor(res.Errors, "organization")
	if fe == nil || fe.Code != CodeRequired {
		t.Fatalf("expected required finding for blank organization, got %+v", res.Errors)
	}
}

func TestValidate_WrongTypes(t *testing.T) {
	tests := []struct {
		field string
		value interface{}
	}{
		{"token", 12345},
		{"workspace_id", true},
		{"verify_ssl", "yes"},
		{"timeout", "thirty"},
		{"retry_attempts", 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			raw := validRaw()
			raw[tt.field] = tt.value

			res := Validate(raw)
			fe := findingFor(res.Errors, tt.field)
			if fe == nil {
				t.Fatalf("no finding for %s: %+v", tt.field, res.Errors)
			}
			if fe.Code != CodeType {
				t.Errorf("code = %q, want %q", fe.Code, CodeType)
			}
		})
	}
}

func TestValidate_UnknownField(t *testing.T) {
	raw := validRaw()
	raw["workspce_id"] = "ws-ABC123xyz"

	res := Validate(raw)
	fe := findingFor(res.Errors, "workspce_id")
	if fe == nil || fe.Code != CodeUnknown {
		t.Fatalf("expected unknown_field finding, got %+v", res.Errors)
	}
	if fe.Suggestion == "" {
		t.Error("unknown field findings should carry a suggestion")
	}
}

func TestValidate_IntegerRanges(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value interface{}
		valid bool
	}{
		{"timeout lower bound", "timeout", 1, true},
		{"timeout upper bound", "timeout", 300, true},
		{"timeout zero", "timeout", 0, false},
		{"timeout too large", "timeout", 301, false},
		{"timeout as json float", "timeout", float64(30), true},
		{"retries zero", "retry_attempts", 0, true},
		{"retries upper bound", "retry_attempts", 10, true},
		{"retries too many", "retry_attempts", 11, false},
		{"retries negative", "retry_attempts", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			raw[tt.field] = tt.value

			res := Validate(raw)
			if tt.valid {
				if !res.Valid {
					t.Fatalf("expected valid, got %+v", res.Errors)
				}
				return
			}
			fe := findingFor(res.Errors, tt.field)
			if fe == nil || fe.Code != CodeRange {
				t.Fatalf("expected out_of_range finding, got %+v", res.Errors)
			}
		})
	}
}

func TestValidate_WorkspaceIDFormats(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"minimum length", "ws-ABCDEF", true},
		{"long mixed case", "ws-4fJk29QnXw", true},
		{"too short", "ws-ABC", false},
		{"wrong prefix", "workspace-123456", false},
		{"uppercase prefix", "WS-ABC123456", false},
		{"illegal characters", "ws-abc!12345", false},
		{"prefix only", "ws-", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			raw["workspace_id"] = tt.id

			res := Validate(raw)
			if tt.valid != res.Valid {
				t.Fatalf("valid = %v, want %v (errors: %+v)", res.Valid, tt.valid, res.Errors)
			}
			if !tt.valid {
				fe := findingFor(res.Errors, "workspace_id")
				if fe == nil || fe.Code != CodeFormat {
					t.Fatalf("expected invalid_format finding, got %+v", res.Errors)
				}
				if !strings.Contains(fe.Message, "ws-") {
					t.Errorf("message should state the expected shape, got %q", fe.Message)
				}
			}
		})
	}
}

func TestValidate_RunIDFormats(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"minimum length", "run-ABCDEF", true},
		{"too short", "run-AB12", false},
		{"workspace id", "ws-ABC123xyz", false},
		{"embedded space", "run-ABC 123", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			raw["run_id"] = tt.id

			res := Validate(raw)
			if tt.valid != res.Valid {
				t.Fatalf("valid = %v, want %v (errors: %+v)", res.Valid, tt.valid, res.Errors)
			}
		})
	}
}

func TestValidate_TokenFormat(t *testing.T) {
	tests := []struct {
		name  string
		token string
		valid bool
	}{
		{"dotted token", "AbCd.0123456789_xyz-QRS", true},
		{"minimum length", "a123456789", true},
		{"too short", "a12345678", false},
		{"embedded space", "tfe AbCdEf0123456789", false},
		{"illegal characters", "tfe-AbCdEf01234$6789", false},
		{"over maximum length", strings.Repeat("a", 201), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			raw["token"] = tt.token

			res := Validate(raw)
			if tt.valid != res.Valid {
				t.Fatalf("valid = %v, want %v (errors: %+v)", res.Valid, tt.valid, res.Errors)
			}
		})
	}
}

func TestValidate_ServerFormats(t *testing.T) {
	tests := []struct {
		name   string
		server string
		valid  bool
	}{
		{"bare hostname", "tfe.acme-platform.io", true},
		{"https url", "https://tfe.acme-platform.io", true},
		{"url with port", "https://tfe.acme-platform.io:8443", true},
		{"ip address", "10.0.0.5", true},
		{"ip with port", "10.0.0.5:443", true},
		{"url with path", "https://tfe.acme-platform.io/api", false},
		{"unsupported scheme", "ftp://tfe.acme-platform.io", false},
		{"port out of range", "tfe.acme-platform.io:70000", false},
		{"hostname with spaces", "tfe server", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			raw["tfe_server"] = tt.server

			res := Validate(raw)
			if tt.valid != res.Valid {
				t.Fatalf("valid = %v, want %v (errors: %+v)", res.Valid, tt.valid, res.Errors)
			}
		})
	}
}

func TestValidate_PlaceholderWarnings(t *testing.T) {
	raw := validRaw()
	raw["token"] = "changeme-0123456789"
	raw["organization"] = "your-org"

	res := Validate(raw)
	if !res.Valid {
		t.Fatalf("placeholders warn, they must not invalidate: %+v", res.Errors)
	}

	tokenWarn := findingFor(res.Warnings, "token")
	if tokenWarn == nil || tokenWarn.Code != CodePlaceholder {
		t.Fatalf("expected placeholder warning for token, got %+v", res.Warnings)
	}
	orgWarn := findingFor(res.Warnings, "organization")
	if orgWarn == nil || orgWarn.Code != CodePlaceholder {
		t.Fatalf("expected placeholder warning for organization, got %+v", res.Warnings)
	}
}

func TestValidate_PlainHTTPWarns(t *testing.T) {
	raw := validRaw()
	raw["tfe_server"] = "http://tfe.acme-platform.io"

	res := Validate(raw)
	if !res.Valid {
		t.Fatalf("plain http is a warning, not an error: %+v", res.Errors)
	}
	fe := findingFor(res.Warnings, "tfe_server")
	if fe == nil || fe.Code != CodeInsecure {
		t.Fatalf("expected insecure_transport warning, got %+v", res.Warnings)
	}
}

func TestValidate_SchemaErrorsSkipFormatChecks(t *testing.T) {
	raw := validRaw()
	delete(raw, "token")
	raw["workspace_id"] = "ws-ABC" // would also fail the format check

	res := Validate(raw)
	if res.Valid {
		t.Fatal("expected invalid result")
	}
	// Only the schema finding is reported; format checks wait until the
	// mapping itself is well-formed.
	if fe := findingFor(res.Errors, "workspace_id"); fe != nil {
		t.Errorf("unexpected format finding alongside schema errors: %+v", fe)
	}
}

func TestValidateDescriptor_RangeFindings(t *testing.T) {
	d := NewDescriptor()
	d.TFEServer = "tfe.acme-platform.io"
	d.Organization = "acme-platform"
	d.Token = "tfe-AbCdEf0123456789xyz"
	d.WorkspaceID = "ws-ABC123xyz"
	d.RunID = "run-XYZ789abc"
	d.RetryAttempts = 99

	res := ValidateDescriptor(d)
	if res.Valid {
		t.Fatal("expected invalid result")
	}
	fe := findingFor(res.Errors, "retry_attempts")
	if fe == nil || fe.Code != CodeRange {
		t.Fatalf("expected out_of_range finding, got %+v", res.Errors)
	}
	if fe.Suggestion == "" {
		t.Error("range findings should suggest the allowed interval")
	}
}

func TestDescriptor_NormalizedServerURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"tfe.acme-platform.io", "https://tfe.acme-platform.io"},
		{"https://tfe.acme-platform.io/", "https://tfe.acme-platform.io"},
		{"http://10.0.0.5:8080", "http://10.0.0.5:8080"},
		{"  tfe.acme-platform.io  ", "https://tfe.acme-platform.io"},
		{"", ""},
	}
	for _, tt := range tests {
		d := &Descriptor{TFEServer: tt.in}
		if got := d.NormalizedServerURL(); got != tt.want {
			t.Errorf("NormalizedServerURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDescriptor_AsMapRoundTrip(t *testing.T) {
	d := NewDescriptor()
	d.TFEServer = "tfe.acme-platform.io"
	d.Organization = "acme-platform"
	d.Token = "tfe-AbCdEf0123456789xyz"
	d.WorkspaceID = "ws-ABC123xyz"
	d.RunID = "run-XYZ789abc"

	res := Validate(d.AsMap())
	if !res.Valid {
		t.Fatalf("descriptor rendered by AsMap should validate: %+v", res.Errors)
	}
}
