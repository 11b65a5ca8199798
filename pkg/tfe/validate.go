package tfe

import "regexp"

var (
	workspaceIDPattern = regexp.MustCompile(`^ws-[A-Za-z0-9]{6,}$`)
	runIDPattern       = regexp.MustCompile(`^run-[A-Za-z0-9]{6,}$`)
)

// ValidateWorkspaceID checks a TFE workspace ID (ws- followed by at least six
// alphanumeric characters). It returns false with an explanatory message on
// failure; the message is empty on success.
func ValidateWorkspaceID(id string) (bool, string) {
	if id == "" {
		return false, "workspace ID is required"
	}
	if !workspaceIDPattern.MatchString(id) {
		return false, "workspace ID must look like ws-ABC123456 (ws- followed by at least 6 alphanumeric characters)"
	}
	return true, ""
}

// ValidateRunID checks a TFE run ID (run- followed by at least six
// alphanumeric characters).
func ValidateRunID(id string) (bool, string) {
	if id == "" {
		return false, "run ID is required"
	}
	if !runIDPattern.MatchString(id) {
		return false, "run ID must look like run-XYZ789012 (run- followed by at least 6 alphanumeric characters)"
	}
	return true, ""
}
