/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package workflows

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/logging"
)

// Schema returns the JSON schema of the workflow's arguments
func (d Definition) Schema() map[string]any {
	properties := make(map[string]any, len(d.Params))
	requiredNames := make([]string, 0)
	for _, p := range d.Params {
		properties[p.Name] = p.schema()
		if p.Required {
			requiredNames = append(requiredNames, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   requiredNames,
	}
}

func (p Param) schema() map[string]any {
	s := map[string]any{}
	if p.Nullable {
		s["type"] = []any{string(p.Type), "null"}
	} else {
		s["type"] = string(p.Type)
	}
	if p.Description != "" {
		s["description"] = p.Description
	}
	if p.Default != nil {
		s["default"] = p.Default
	}
	if len(p.Enum) > 0 {
		enum := make([]any, 0, len(p.Enum))
		for _, v := range p.Enum {
			enum = append(enum, v)
		}
		s["enum"] = enum
	}
	if p.Items != nil {
		s["items"] = p.Items.schema()
	}
	if p.MinItems > 0 {
		s["minItems"] = p.MinItems
	}
	if p.MaxItems > 0 {
		s["maxItems"] = p.MaxItems
	}
	return s
}

// ValidationResult is the outcome of checking arguments against a workflow schema
type ValidationResult struct {
	Valid     bool     `json:"valid"`
	Errors    []string `json:"errors,omitempty"`
	RawErrors []string `json:"raw_errors,omitempty"`
}

// Validator checks workflow arguments, caching compiled schemas per workflow
type Validator struct {
	logger *logging.Logger

	mu      sync.Mutex
	schemas map[string]*gojsonschema.Schema
}

// NewValidator creates a Validator
func NewValidator(logger *logging.Logger) *Validator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Validator{
		logger:  logger,
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

func (v *Validator) schema(def Definition) (*gojsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.schemas[def.Name]; ok {
		return s, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Schema()))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}
	v.schemas[def.Name] = s
	return s, nil
}

// Validate checks args against the workflow's schema
func (v *Validator) Validate(def Definition, args map[string]any) (*ValidationResult, error) {
	schema, err := v.schema(def)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.RawErrors = append(out.RawErrors, desc.String())
		out.Errors = append(out.Errors, describe(desc))
	}
	if !out.Valid {
		v.logger.Debugf("Arguments for %s failed validation: %v", def.Name, out.RawErrors)
	}
	return out, nil
}

// describe turns a schema violation into a message a tool caller can act on
func describe(desc gojsonschema.ResultError) string {
	details := desc.Details()
	field := desc.Field()
	if field == "(root)" {
		field = ""
	}

	switch desc.Type() {
	case "required":
		return fmt.Sprintf("Missing required parameter: %v", details["property"])
	case "invalid_type":
		return fmt.Sprintf("Parameter '%s': expected %v, got %v", field, details["expected"], details["given"])
	case "enum":
		return fmt.Sprintf("Parameter '%s': must be one of %v", field, details["allowed"])
	}

	if field == "" {
		return desc.Description()
	}
	return fmt.Sprintf("Parameter '%s': %s", field, desc.Description())
}
