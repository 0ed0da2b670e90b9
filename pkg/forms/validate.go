// Package forms validates form submissions against the JSON Schema a
// form definition carries, and merges submitted data over definition
// defaults.
package forms

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/estately/dealflow/pkg/domain"
)

// Validator compiles definition schemas once and caches them by
// definition ID. Safe for concurrent use after construction only if
// callers pre-compile; provisioning paths go through ValidateSubmission
// which compiles lazily per call when the cache misses.
type Validator struct {
	compiled map[string]*jsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

// ValidateSubmission checks data against the definition's schema.
// Definitions without a schema accept any data.
func (v *Validator) ValidateSubmission(def domain.Definition, data map[string]any) error {
	if len(def.Schema) == 0 {
		return nil
	}
	schema, ok := v.compiled[def.ID]
	if !ok {
		var err error
		schema, err = compile(def)
		if err != nil {
			return err
		}
		v.compiled[def.ID] = schema
	}
	if err := schema.Validate(toPlain(data)); err != nil {
		return fmt.Errorf("form %s submission invalid: %w", def.Key, err)
	}
	return nil
}

func compile(def domain.Definition) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(def.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", def.Key, err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://dealflow.schemas.local/forms/%s.schema.json", def.Key)
	if err := c.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("load schema for %s: %w", def.Key, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", def.Key, err)
	}
	return schema, nil
}

// toPlain round-trips data through JSON so the validator sees the same
// value shapes (float64 numbers, []any arrays) a decoded submission has.
func toPlain(data map[string]any) any {
	b, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return data
	}
	return out
}

// MergeDefaults layers submitted data over the definition's default
// data. Submitted keys win; defaults only fill gaps.
func MergeDefaults(def domain.Definition, data map[string]any) map[string]any {
	out := make(map[string]any, len(def.DefaultData)+len(data))
	for k, v := range def.DefaultData {
		out[k] = v
	}
	for k, v := range data {
		out[k] = v
	}
	return out
}
