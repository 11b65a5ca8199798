package secrets

// PlanMetadata is the non-sensitive summary derived from a stored plan JSON
// payload. It is safe to expose to presentation layers after the raw plan
// has been cleared.
type PlanMetadata struct {
	TerraformVersion string         `json:"terraform_version,omitempty"`
	FormatVersion    string         `json:"format_version,omitempty"`
	ResourceCount    int            `json:"resource_count"`
	ActionSummary    map[string]int `json:"action_summary"`
	WorkspaceID      string         `json:"workspace_id,omitempty"`
	RunID            string         `json:"run_id,omitempty"`
}

// deriveMetadata reads the handful of fields the pipeline itself understands
// (terraform_version, format_version, resource_changes[].change.actions[])
// and counts actions per kind. Unknown shapes yield zero counts rather than
// errors so UI layers degrade gracefully.
func deriveMetadata(plan map[string]interface{}, workspaceID, runID string) *PlanMetadata {
	meta := &PlanMetadata{
		ActionSummary: make(map[string]int),
		WorkspaceID:   workspaceID,
		RunID:         runID,
	}
	if plan == nil {
		return meta
	}

	if v, ok := plan["terraform_version"].(string); ok {
		meta.TerraformVersion = v
	}
	switch v := plan["format_version"].(type) {
	case string:
		meta.FormatVersion = v
	}

	changes, ok := plan["resource_changes"].([]interface{})
	if !ok {
		return meta
	}
	meta.ResourceCount = len(changes)

	for _, rc := range changes {
		change, ok := rc.(map[string]interface{})
		if !ok {
			continue
		}
		inner, ok := change["change"].(map[string]interface{})
		if !ok {
			continue
		}
		actions, ok := inner["actions"].([]interface{})
		if !ok {
			continue
		}
		for _, a := range actions {
			if name, ok := a.(string); ok {
				meta.ActionSummary[name]++
			}
		}
	}
	return meta
}
