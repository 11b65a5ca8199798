package tfe

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Formatter turns an exhausted error context into the human-facing message
// carried by ClassifiedError. The retry decision logic never depends on a
// formatter, so non-terminal consumers (APIs, tests) can swap in structured
// output or a no-op.
type Formatter interface {
	Format(ectx *ErrorContext) string
}

// TextFormatter renders the structured troubleshooting contract: a one-line
// cause summary, a bulleted list of common causes, and a bulleted list of
// remediation steps. Secret values are never part of the inputs, so they can
// never appear in the output.
type TextFormatter struct{}

// Format implements Formatter.
func (TextFormatter) Format(ectx *ErrorContext) string {
	pol := policyTable[ectx.Category]

	var b strings.Builder
	fmt.Fprintf(&b, "%s failed: %s", ectx.Operation, pol.Summary)
	if ectx.Server != "" {
		fmt.Fprintf(&b, " (server: %s)", ectx.Server)
	}
	b.WriteString("\n")

	if ectx.WorkspaceID != "" || ectx.RunID != "" {
		b.WriteString("\n")
		if ectx.WorkspaceID != "" {
			fmt.Fprintf(&b, "Workspace: %s\n", ectx.WorkspaceID)
		}
		if ectx.RunID != "" {
			fmt.Fprintf(&b, "Run: %s\n", ectx.RunID)
		}
	}

	b.WriteString("\nCommon causes:\n")
	for _, c := range pol.Causes {
		fmt.Fprintf(&b, "  - %s\n", c)
	}

	b.WriteString("\nHow to fix:\n")
	for _, r := range pol.Remediation {
		fmt.Fprintf(&b, "  - %s\n", r)
	}

	if ectx.Err != nil {
		fmt.Fprintf(&b, "\nUnderlying error: %v\n", ectx.Err)
	}
	if ectx.Category.Retryable() && ectx.MaxRetries > 0 {
		fmt.Fprintf(&b, "\nGave up after %d attempts.\n", ectx.Attempt+1)
	}

	return b.String()
}

// JSONFormatter renders the same contract as a JSON document for API
// consumers.
type JSONFormatter struct{}

// Format implements Formatter.
func (JSONFormatter) Format(ectx *ErrorContext) string {
	pol := policyTable[ectx.Category]

	doc := map[string]interface{}{
		"category":    string(ectx.Category),
		"operation":   ectx.Operation,
		"summary":     pol.Summary,
		"causes":      pol.Causes,
		"remediation": pol.Remediation,
		"attempts":    ectx.Attempt + 1,
	}
	if ectx.Server != "" {
		doc["server"] = ectx.Server
	}
	if ectx.WorkspaceID != "" {
		doc["workspace_id"] = ectx.WorkspaceID
	}
	if ectx.RunID != "" {
		doc["run_id"] = ectx.RunID
	}
	if ectx.Err != nil {
		doc["error"] = ectx.Err.Error()
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return pol.Summary
	}
	return string(out)
}
