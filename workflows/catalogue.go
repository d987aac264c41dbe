/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package workflows describes the atomistic simulation workflows exposed as
// tools and runs them on the external scientific backend.
package workflows

import (
	"fmt"
	"sort"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/global"
)

// ParamType is the JSON type of a workflow parameter
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Param describes one named workflow argument
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Default     any
	Required    bool
	Nullable    bool
	Enum        []string
	Items       *Param // element type for arrays
	MinItems    int
	MaxItems    int
}

// Definition is a workflow exposed as an MCP tool
type Definition struct {
	Name        string
	Title       string
	Description string
	Params      []Param
	ReadOnly    bool
	// AliasOf names the workflow a deprecated tool forwards to
	AliasOf string
}

// Workflow returns the backend workflow this definition runs
func (d Definition) Workflow() string {
	if d.AliasOf != "" {
		return d.AliasOf
	}
	return d.Name
}

// Param returns the named parameter
func (d Definition) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// ApplyDefaults returns a copy of the declared args with defaults filled in
// for omitted parameters. Undeclared keys are dropped.
func (d Definition) ApplyDefaults(args map[string]any) map[string]any {
	out := make(map[string]any, len(d.Params))
	for _, p := range d.Params {
		if v, ok := args[p.Name]; ok {
			out[p.Name] = v
		} else if p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

// Catalogue is the fixed set of workflows and their deprecated aliases
type Catalogue struct {
	defs    map[string]Definition
	aliases map[string]Definition
}

// NewCatalogue returns the built-in workflow catalogue
func NewCatalogue() *Catalogue {
	c := &Catalogue{
		defs:    make(map[string]Definition),
		aliases: make(map[string]Definition),
	}
	for _, d := range builtin() {
		c.defs[d.Name] = d
	}
	for _, d := range c.deprecated() {
		c.aliases[d.Name] = d
	}
	return c
}

// Lookup returns the named workflow or deprecated alias
func (c *Catalogue) Lookup(name string) (Definition, bool) {
	if d, ok := c.defs[name]; ok {
		return d, true
	}
	d, ok := c.aliases[name]
	return d, ok
}

// Aliases returns the deprecated tool names sorted by name
func (c *Catalogue) Aliases() []Definition {
	out := make([]Definition, 0, len(c.aliases))
	for _, d := range c.aliases {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns workflow names in sorted order
func (c *Catalogue) Names() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns all workflows sorted by name
func (c *Catalogue) Definitions() []Definition {
	names := c.Names()
	out := make([]Definition, 0, len(names))
	for _, name := range names {
		out = append(out, c.defs[name])
	}
	return out
}

func str(name, desc string, def any) Param {
	return Param{Name: name, Type: TypeString, Description: desc, Default: def}
}

func optStr(name, desc string) Param {
	return Param{Name: name, Type: TypeString, Description: desc, Nullable: true}
}

func num(name, desc string, def float64) Param {
	return Param{Name: name, Type: TypeNumber, Description: desc, Default: def}
}

func integer(name, desc string, def int) Param {
	return Param{Name: name, Type: TypeInteger, Description: desc, Default: def}
}

func required(p Param) Param {
	p.Required = true
	p.Default = nil
	return p
}

func vector(name, desc string, elem ParamType, n int) Param {
	return Param{Name: name, Type: TypeArray, Description: desc, Items: &Param{Type: elem}, MinItems: n, MaxItems: n}
}

func matrix(name, desc string) Param {
	row := Param{Type: TypeArray, Items: &Param{Type: TypeNumber}, MinItems: 3, MaxItems: 3}
	return Param{Name: name, Type: TypeArray, Description: desc, Items: &row, MinItems: 3, MaxItems: 3}
}

func plotFormats() Param {
	return Param{
		Name:        "plot_formats",
		Type:        TypeArray,
		Description: "Image formats for generated plots (e.g. png, svg, pdf)",
		Items:       &Param{Type: TypeString},
		Nullable:    true,
	}
}

func formatParam() Param {
	return optStr("format", "File format (optional, guessed from extension if not provided)")
}

const calculatorDesc = "MLIP calculator: 'auto' (kim, orb, nequix in order), 'orb', 'nequix' or 'kim'"

func builtin() []Definition {
	return []Definition{
		{
			Name:        global.ToolBuildStructure,
			Title:       "Build Structure",
			Description: "Build an atomic structure (bulk, surface, molecule, supercell, amorphous, liquid, bicrystal or polycrystal), write it to disk and return metadata.",
			Params: []Param{
				required(str("formula", "Chemical formula (e.g. 'Fe', 'TiO2')", nil)),
				{
					Name:        "structure_type",
					Type:        TypeString,
					Description: "Type of structure",
					Default:     "bulk",
					Enum:        []string{"bulk", "surface", "molecule", "supercell", "amorphous", "liquid", "bicrystal", "polycrystal"},
				},
				str("crystal_system", "Crystal system for bulk ('fcc', 'bcc', 'sc', 'hcp', 'diamond', ...)", "fcc"),
				num("lattice_constant", "Lattice constant in Angstroms", 4.0),
				{
					Name:        "pbc",
					Type:        TypeArray,
					Description: "Periodic boundary condition flags",
					Items:       &Param{Type: TypeBoolean},
					MinItems:    3,
					MaxItems:    3,
					Default:     []any{true, true, true},
					Nullable:    true,
				},
				withNullable(matrix("cell", "Explicit 3x3 cell matrix")),
				withNullable(vector("cell_size", "Cell lengths (a, b, c) if cell not provided", TypeNumber, 3)),
				str("output_filepath", "Output file path for the built structure", "structure.extxyz"),
				optStr("output_format", "Output file format (optional)"),
				{Name: "builder_kwargs", Type: TypeObject, Description: "Extra builder-specific parameters (e.g. cubic, size, vacuum)", Nullable: true},
			},
		},
		{
			Name:        global.ToolAnalyzeStructure,
			Title:       "Analyze Structure",
			Description: "Analyze a structure file: composition, symmetry, radial distribution and coordination, with plots and tables as downloadable artifacts.",
			ReadOnly:    true,
			Params: []Param{
				required(str("filepath", "Path to structure file", nil)),
				formatParam(),
				str("output_dir", "Directory for analysis outputs", "analysis_outputs/structure"),
				num("rdf_max", "Maximum RDF radius in Angstroms", 10.0),
				integer("rdf_bins", "Number of RDF bins", 200),
				{Name: "coordination_cutoff", Type: TypeNumber, Description: "Fixed coordination cutoff in Angstroms (optional)", Nullable: true},
				num("coordination_factor", "Scale factor on covalent radii for coordination", 1.2),
				plotFormats(),
			},
		},
		{
			Name:        global.ToolWriteStructure,
			Title:       "Write Structure",
			Description: "Write a structure given positions, symbols and cell to a file and return metadata.",
			Params: []Param{
				required(Param{Name: "positions", Type: TypeArray, Description: "Atomic positions", Items: &Param{Type: TypeArray, Items: &Param{Type: TypeNumber}, MinItems: 3, MaxItems: 3}}),
				required(Param{Name: "symbols", Type: TypeArray, Description: "Chemical symbols", Items: &Param{Type: TypeString}}),
				required(matrix("cell", "Unit cell vectors")),
				required(str("filepath", "Output file path", nil)),
				formatParam(),
			},
		},
		{
			Name:        global.ToolOptimizeStructure,
			Title:       "Optimize Structure",
			Description: "Relax a structure with a machine-learned interatomic potential and write the optimized structure.",
			Params: []Param{
				required(str("input_filepath", "Path to structure file", nil)),
				optStr("input_format", "Input file format (optional)"),
				str("output_filepath", "Output file path", "optimized.extxyz"),
				optStr("output_format", "Output file format (optional)"),
				str("calculator_name", calculatorDesc, "auto"),
				integer("max_steps", "Maximum optimization steps", 50),
				num("fmax", "Force convergence criterion in eV/Angstrom", 0.1),
				{Name: "constraints", Type: TypeObject, Description: "Constraint settings (fixed atoms, cell or bonds)", Nullable: true},
				num("maxstep", "Maximum atomic displacement per step in Angstroms", 0.04),
				num("alpha", "Initial Hessian guess for the optimizer", 70.0),
			},
		},
		{
			Name:        global.ToolSinglePoint,
			Title:       "Single Point",
			Description: "Compute single-point energy, forces and (for periodic systems) stress without relaxation or MD.",
			ReadOnly:    true,
			Params: []Param{
				required(str("input_filepath", "Path to structure file", nil)),
				optStr("input_format", "Input file format (optional)"),
				str("calculator_name", calculatorDesc, "auto"),
			},
		},
		{
			Name:        global.ToolRunMD,
			Title:       "Run Molecular Dynamics",
			Description: "Run a molecular dynamics simulation and return trajectory, log and summary files.",
			Params: []Param{
				required(str("input_filepath", "Path to structure file", nil)),
				optStr("input_format", "Input file format (optional)"),
				str("output_trajectory_filepath", "Output trajectory path", "md.extxyz"),
				optStr("output_format", "Trajectory file format (optional)"),
				str("log_filepath", "MD log file path", "md.log"),
				str("summary_filepath", "Summary file path", "md_summary.txt"),
				str("calculator_name", calculatorDesc, "auto"),
				{
					Name:        "integrator",
					Type:        TypeString,
					Description: "Integrator",
					Default:     "velocityverlet",
					Enum:        []string{"velocityverlet", "langevin", "nvtberendsen", "nptberendsen"},
				},
				num("timestep_fs", "Timestep in femtoseconds", 1.0),
				num("temperature_K", "Temperature in Kelvin", 300.0),
				integer("steps", "Number of MD steps", 100),
				num("friction", "Langevin friction coefficient", 0.02),
				num("taut", "Berendsen thermostat time constant in fs", 100.0),
				integer("trajectory_interval", "Write a frame every N steps", 1),
			},
		},
		{
			Name:        global.ToolAnalyzeTrajectory,
			Title:       "Analyze Trajectory",
			Description: "Analyze a trajectory: energies, temperature, MSD and time-averaged RDF, with plots and tables as artifacts.",
			ReadOnly:    true,
			Params: []Param{
				required(str("filepath", "Path to trajectory file", nil)),
				formatParam(),
				str("output_dir", "Directory for analysis outputs", "analysis_outputs/trajectory"),
				num("timestep_fs", "Timestep between frames in femtoseconds", 1.0),
				num("rdf_max", "Maximum RDF radius in Angstroms", 10.0),
				integer("rdf_bins", "Number of RDF bins", 200),
				integer("rdf_stride", "Use every Nth frame for the RDF", 1),
				plotFormats(),
			},
		},
		{
			Name:        global.ToolAutocorrelation,
			Title:       "Velocity Autocorrelation",
			Description: "Compute the velocity autocorrelation function and diffusion coefficients from a trajectory.",
			ReadOnly:    true,
			Params: []Param{
				required(str("filepath", "Path to trajectory file", nil)),
				formatParam(),
				str("output_dir", "Directory for analysis outputs", "analysis_outputs/autocorrelation"),
				num("timestep_fs", "Timestep between frames in femtoseconds", 1.0),
				{Name: "max_lag", Type: TypeInteger, Description: "Maximum lag in frames (optional)", Nullable: true},
				plotFormats(),
			},
		},
	}
}

// deprecated returns the legacy tool names. Each keeps its old parameter
// list and defaults and forwards to the workflow it was replaced by.
func (c *Catalogue) deprecated() []Definition {
	return []Definition{
		c.alias("build_structure", global.ToolBuildStructure, nil, map[string]any{
			"output_filepath": "structure.xyz",
		}),
		c.alias("read_structure_file", global.ToolAnalyzeStructure, []string{"filepath", "format"}, nil),
		c.alias("write_structure_file", global.ToolWriteStructure, nil, nil),
		c.alias("optimize_with_mlip", global.ToolOptimizeStructure,
			[]string{"input_filepath", "input_format", "output_filepath", "output_format", "calculator_name", "max_steps", "fmax", "constraints"},
			map[string]any{"output_filepath": "optimized.xyz", "calculator_name": "orb"}),
	}
}

// alias derives a deprecated tool from target. keep selects parameters
// (nil keeps all) and defaults overrides their default values.
func (c *Catalogue) alias(name, target string, keep []string, defaults map[string]any) Definition {
	def := c.defs[target]
	out := Definition{
		Name:        name,
		Title:       def.Title,
		Description: fmt.Sprintf("Deprecated: use %s instead.", target),
		ReadOnly:    def.ReadOnly,
		AliasOf:     target,
	}
	params := def.Params
	if keep != nil {
		params = make([]Param, 0, len(keep))
		for _, n := range keep {
			if p, ok := def.Param(n); ok {
				params = append(params, p)
			}
		}
	}
	for _, p := range params {
		if v, ok := defaults[p.Name]; ok {
			p.Default = v
		}
		out.Params = append(out.Params, p)
	}
	return out
}

func withNullable(p Param) Param {
	p.Nullable = true
	return p
}
