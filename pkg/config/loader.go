// Package config defines the TFE connection descriptor and its validator.
// Validation is pure and structured: findings are (field, code, message,
// suggestion) records, never raised errors, so UI layers can render them
// directly.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML descriptor file, validates it against the strict schema,
// and returns the decoded descriptor together with the validation result.
// The error return covers I/O and YAML syntax problems only; validation
// findings live in the Result.
func Load(path string) (*Descriptor, *Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read descriptor file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML descriptor content.
func Parse(data []byte) (*Descriptor, *Result, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse descriptor YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	res := Validate(raw)
	d := descriptorFromMap(raw)
	return d, res, nil
}
