package handler

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/healthlake-io/ingestlake/internal/filename"
)

// transformationOverride is the subset of a Transformation an operator may
// tune from YAML without recompiling: validation rules and the required
// flag. SourceColumn/TargetColumn/TargetType stay compile-time, since
// changing them would require a matching schema migration anyway.
type transformationOverride struct {
	Required *bool            `yaml:"required"`
	Rules    []ValidationRule `yaml:"rules"`
}

// handlerOverride is one extract type's section of the overrides file.
type handlerOverride struct {
	Transformations map[string]transformationOverride `yaml:"transformations"`
}

// overridesFile is the top-level shape of the YAML document: extract type
// name to its overrides.
type overridesFile map[string]handlerOverride

// LoadOverrides reads a YAML file of per-extract-type overrides and applies
// them on top of the compile-time registry. Every extract type and target
// column named in the file must already exist in the compiled-in registry;
// an override naming an unknown extract type or column is a configuration
// error, not a silent no-op, so a typo never ships quietly.
func LoadOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("handler: load overrides: %w", err)
	}

	var file overridesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("handler: parse overrides %s: %w", path, err)
	}

	for extractName, override := range file {
		var (
			et filename.ExtractType
			h  Handler
			ok bool
		)

		for candidate, candidateHandler := range registry {
			if strings.EqualFold(string(candidate), extractName) {
				et, h, ok = candidate, candidateHandler, true

				break
			}
		}

		if !ok {
			return fmt.Errorf("handler: overrides %s: unknown extract type %q", path, extractName)
		}

		h.Transformations = append([]Transformation{}, h.Transformations...)

		if err := applyOverride(&h, override); err != nil {
			return fmt.Errorf("handler: overrides %s: extract type %q: %w", path, extractName, err)
		}

		registry[et] = h
	}

	return nil
}

// applyOverride mutates h in place, matching each override entry against
// h.Transformations by TargetColumn.
func applyOverride(h *Handler, override handlerOverride) error {
	for targetColumn, tr := range override.Transformations {
		idx := -1

		for i, t := range h.Transformations {
			if t.TargetColumn == targetColumn {
				idx = i
				break
			}
		}

		if idx == -1 {
			return fmt.Errorf("unknown target column %q", targetColumn)
		}

		if tr.Required != nil {
			h.Transformations[idx].Required = *tr.Required
		}

		if tr.Rules != nil {
			h.Transformations[idx].Rules = tr.Rules
		}
	}

	return nil
}
