package secrets

import (
	"strings"
	"testing"
)

func TestMaskToken(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"long token", "tfe-AbCdEf0123456789xyz", "tfe-***************9xyz"},
		{"exactly nine", "abcdefghi", "abcd*fghi"},
		{"exactly eight", "abcdefgh", "********"},
		{"short", "abc", "***"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaskToken(tt.in)
			if got != tt.want {
				t.Errorf("MaskToken(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if len(got) != len(tt.in) {
				t.Errorf("mask changed length: %d != %d", len(got), len(tt.in))
			}
		})
	}
}

func TestMaskToken_Idempotent(t *testing.T) {
	once := MaskToken("tfe-AbCdEf0123456789xyz")
	twice := MaskToken(once)
	if len(twice) != len(once) {
		t.Errorf("double masking changed length: %q -> %q", once, twice)
	}
	if strings.Trim(twice[4:len(twice)-4], "*") != "" {
		t.Errorf("double masking exposed middle characters: %q", twice)
	}
}

func TestMaskedSummary_Credentials(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Store(map[string]interface{}{
		"tfe_server":   "tfe.example.com",
		"organization": "acme-platform",
		"token":        "tfe-AbCdEf0123456789xyz",
		"workspace_id": "ws-ABC123xyz",
		"run_id":       "run-XYZ789abc",
	}, SourceCredentials, nil)

	summary := s.MaskedSummary()
	if summary == nil {
		t.Fatal("expected a summary")
	}
	if summary["tfe_server"] != "tfe.example.com" {
		t.Errorf("tfe_server = %v", summary["tfe_server"])
	}
	if summary["organization"] != "acme-platform" {
		t.Errorf("organization = %v", summary["organization"])
	}
	if summary["token"] != "tfe-***************9xyz" {
		t.Errorf("token = %v", summary["token"])
	}
	if tok, _ := summary["token"].(string); strings.Contains(tok, "AbCdEf") {
		t.Error("token middle characters leaked into the summary")
	}
	if summary["workspace_id"] != MaskToken("ws-ABC123xyz") {
		t.Errorf("workspace_id = %v", summary["workspace_id"])
	}
}

func TestMaskedSummary_Plan(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Store(testPlan(), SourceTFEIntegration, map[string]string{
		"workspace_id": "ws-ABC123xyz",
		"run_id":       "run-XYZ789abc",
	})

	summary := s.MaskedSummary()
	if summary == nil {
		t.Fatal("expected a summary")
	}
	if summary["source"] != string(SourceTFEIntegration) {
		t.Errorf("source = %v", summary["source"])
	}
	if summary["terraform_version"] != "1.6.2" {
		t.Errorf("terraform_version = %v", summary["terraform_version"])
	}
	if summary["resource_count"] != 2 {
		t.Errorf("resource_count = %v", summary["resource_count"])
	}
	actions, ok := summary["action_summary"].(map[string]interface{})
	if !ok {
		t.Fatalf("action_summary missing: %v", summary["action_summary"])
	}
	if actions["create"] != 2 {
		t.Errorf("create count = %v", actions["create"])
	}

	// Ids appear masked, never verbatim.
	ws, _ := summary["workspace_id"].(string)
	if ws == "ws-ABC123xyz" {
		t.Error("workspace id appeared unmasked")
	}
}

func TestMaskedSummary_EmptyStore(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	if got := s.MaskedSummary(); got != nil {
		t.Errorf("expected nil summary for an empty store, got %v", got)
	}
}
