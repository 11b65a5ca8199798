package secrets

import "strings"

// MaskToken renders a secret as first4 + stars + last4, preserving overall
// length. Values of 8 characters or fewer are fully starred. The same
// masking is applied to workspace and run identifiers in summaries.
func MaskToken(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// MaskedSummary returns a non-sensitive view of the stored value: masked
// identifiers, counts and sizes, and derived metadata, never raw secret
// material. It returns nil when the store is empty.
func (s *Store) MaskedSummary() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.value == nil {
		return nil
	}
	s.lastAccess = s.clock()
	s.armTimerLocked(s.timeout)

	summary := map[string]interface{}{
		"source":      string(s.source),
		"field_count": len(s.value),
	}

	if s.source == SourceCredentials {
		for _, field := range []string{"tfe_server", "organization"} {
			if v, ok := s.value[field].(string); ok {
				summary[field] = v
			}
		}
		for _, field := range []string{"token", "workspace_id", "run_id"} {
			if v, ok := s.value[field].(string); ok {
				summary[field] = MaskToken(v)
			}
		}
		return summary
	}

	if ws, ok := s.tags["workspace_id"]; ok {
		summary["workspace_id"] = MaskToken(ws)
	}
	if run, ok := s.tags["run_id"]; ok {
		summary["run_id"] = MaskToken(run)
	}
	if s.meta != nil {
		summary["terraform_version"] = s.meta.TerraformVersion
		summary["format_version"] = s.meta.FormatVersion
		summary["resource_count"] = s.meta.ResourceCount
		actions := make(map[string]interface{}, len(s.meta.ActionSummary))
		for k, v := range s.meta.ActionSummary {
			actions[k] = v
		}
		summary["action_summary"] = actions
	}
	return summary
}
