/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package workflows

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/global"
)

func TestCatalogueNames(t *testing.T) {
	c := NewCatalogue()
	names := c.Names()

	assert.Len(t, names, 8)
	assert.IsIncreasing(t, names)
	for _, name := range names {
		assert.True(t, strings.HasSuffix(name, "_workflow"), name)
	}
	_, ok := c.Lookup(global.ToolSinglePoint)
	assert.True(t, ok)
	_, ok = c.Lookup("no_such_workflow")
	assert.False(t, ok)
}

func TestDeprecatedAliases(t *testing.T) {
	c := NewCatalogue()

	var names []string
	for _, def := range c.Aliases() {
		names = append(names, def.Name)
		assert.True(t, strings.HasPrefix(def.Description, "Deprecated: use "+def.AliasOf), def.Name)
		_, ok := c.Lookup(def.AliasOf)
		assert.True(t, ok, def.AliasOf)
	}
	assert.Equal(t, []string{"build_structure", "optimize_with_mlip", "read_structure_file", "write_structure_file"}, names)

	read, ok := c.Lookup("read_structure_file")
	require.True(t, ok)
	assert.Equal(t, global.ToolAnalyzeStructure, read.Workflow())
	assert.True(t, read.ReadOnly)
	assert.Len(t, read.Params, 2)

	optimize, _ := c.Lookup("optimize_with_mlip")
	args := optimize.ApplyDefaults(map[string]any{"input_filepath": "in.xyz"})
	assert.Equal(t, "orb", args["calculator_name"])
	assert.Equal(t, "optimized.xyz", args["output_filepath"])
	_, hasMaxstep := args["maxstep"]
	assert.False(t, hasMaxstep)

	build, _ := c.Lookup("build_structure")
	assert.Equal(t, "structure.xyz", build.ApplyDefaults(map[string]any{"formula": "Cu"})["output_filepath"])

	// The workflow keeps its own defaults
	workflow, _ := c.Lookup(global.ToolBuildStructure)
	assert.Equal(t, global.ToolBuildStructure, workflow.Workflow())
	assert.Equal(t, "structure.extxyz", workflow.ApplyDefaults(map[string]any{"formula": "Cu"})["output_filepath"])
}

func TestDefinitionSchema(t *testing.T) {
	def, ok := NewCatalogue().Lookup(global.ToolBuildStructure)
	require.True(t, ok)

	schema := def.Schema()
	assert.Equal(t, "object", schema["type"])
	_, strict := schema["additionalProperties"]
	assert.False(t, strict)
	assert.Equal(t, []string{"formula"}, schema["required"])

	props := schema["properties"].(map[string]any)
	crystal := props["crystal_system"].(map[string]any)
	assert.Equal(t, "string", crystal["type"])
	assert.Equal(t, "fcc", crystal["default"])

	cell := props["cell"].(map[string]any)
	assert.Equal(t, []any{"array", "null"}, cell["type"])
	assert.Equal(t, 3, cell["minItems"])

	pbc := props["pbc"].(map[string]any)
	assert.Equal(t, []any{"array", "null"}, pbc["type"])
}

func TestApplyDefaults(t *testing.T) {
	def, _ := NewCatalogue().Lookup(global.ToolRunMD)
	in := map[string]any{"input_filepath": "in.xyz", "steps": 10}

	out := def.ApplyDefaults(in)
	assert.Equal(t, 10, out["steps"])
	assert.Equal(t, "velocityverlet", out["integrator"])
	assert.Equal(t, 300.0, out["temperature_K"])
	_, hasFormat := out["input_format"]
	assert.False(t, hasFormat)
	_, mutated := in["integrator"]
	assert.False(t, mutated)

	// Undeclared keys are ignored rather than forwarded
	out = def.ApplyDefaults(map[string]any{"input_filepath": "in.xyz", "colour": "red"})
	_, forwarded := out["colour"]
	assert.False(t, forwarded)
}

func TestValidator(t *testing.T) {
	c := NewCatalogue()
	v := NewValidator(nil)
	build, _ := c.Lookup(global.ToolBuildStructure)

	tests := []struct {
		name    string
		args    map[string]any
		valid   bool
		message string
	}{
		{name: "minimal", args: map[string]any{"formula": "Cu"}, valid: true},
		{name: "full", args: map[string]any{
			"formula": "Mg", "crystal_system": "hcp", "lattice_constant": 3.2,
			"pbc": []any{true, true, false}, "cell": nil, "builder_kwargs": map[string]any{"cubic": true},
		}, valid: true},
		{name: "missing formula", args: map[string]any{}, message: "Missing required parameter: formula"},
		{name: "nil args", args: nil, message: "Missing required parameter: formula"},
		{name: "unknown parameter ignored", args: map[string]any{"formula": "Cu", "colour": "red"}, valid: true},
		{name: "null pbc", args: map[string]any{"formula": "Cu", "pbc": nil}, valid: true},
		{name: "wrong type", args: map[string]any{"formula": "Cu", "lattice_constant": "big"}, message: "lattice_constant"},
		{name: "bad enum", args: map[string]any{"formula": "Cu", "structure_type": "blob"}, message: "structure_type"},
		{name: "short pbc", args: map[string]any{"formula": "Cu", "pbc": []any{true}}, message: "pbc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(build, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid, res.RawErrors)
			if tt.message != "" {
				assert.Contains(t, strings.Join(res.Errors, "; "), tt.message)
			}
		})
	}
}

func TestValidatorAcceptsWholeFloatsForIntegers(t *testing.T) {
	def, _ := NewCatalogue().Lookup(global.ToolAnalyzeStructure)
	res, err := NewValidator(nil).Validate(def, map[string]any{"filepath": "a.xyz", "rdf_bins": float64(100)})
	require.NoError(t, err)
	assert.True(t, res.Valid, res.RawErrors)
}

func TestEveryDefinitionCompiles(t *testing.T) {
	c := NewCatalogue()
	v := NewValidator(nil)
	for _, def := range append(c.Definitions(), c.Aliases()...) {
		_, err := v.Validate(def, map[string]any{})
		assert.NoError(t, err, def.Name)
	}
}
