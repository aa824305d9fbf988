// Package manifest loads function definitions from HCL files and lowers
// them to emitted code.
//
//	function "energy" {
//	  input "x" {}
//	  input "q" { size = 3 }
//	  locals { r2 = q[0]*q[0] + q[1]*q[1] }
//	  output "E" { value = x * local.r2 }
//	  gradient = true
//	  hessian  = true
//	}
package manifest

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/pkg/errors"

	"github.com/njchilds90/goautogen"
	"github.com/njchilds90/goautogen/internal/ctxlog"
)

// Names of the derivative outputs added by the gradient and hessian flags.
const (
	GradientName = "grad"
	HessianName  = "hess"
)

type hclFile struct {
	Functions []*hclFunction `hcl:"function,block"`
}

type hclFunction struct {
	Name     string       `hcl:"name,label"`
	Inputs   []*hclInput  `hcl:"input,block"`
	Locals   []*hclLocals `hcl:"locals,block"`
	Outputs  []*hclOutput `hcl:"output,block"`
	Gradient *bool        `hcl:"gradient,optional"`
	Hessian  *bool        `hcl:"hessian,optional"`
	Type     *string      `hcl:"type,optional"`
	Remain   hcl.Body     `hcl:",remain"`
}

type hclInput struct {
	Name   string   `hcl:"name,label"`
	Size   *int     `hcl:"size,optional"`
	Remain hcl.Body `hcl:",remain"`
}

type hclLocals struct {
	Body hcl.Body `hcl:",remain"`
}

type hclOutput struct {
	Name  string         `hcl:"name,label"`
	Value hcl.Expression `hcl:"value"`
}

// Input is a scalar (Size 0) or an indexed input of Size elements.
type Input struct {
	Name string
	Size int
}

// Elements returns the parameter names the input expands to.
func (in Input) Elements() []string {
	if in.Size == 0 {
		return []string{in.Name}
	}
	out := make([]string, in.Size)
	for i := range out {
		out[i] = in.Name + "[" + strconv.Itoa(i) + "]"
	}
	return out
}

// Local is a named intermediate formula.
type Local struct {
	Name string
	Expr hcl.Expression
}

// Output is a named result formula.
type Output struct {
	Name string
	Expr hcl.Expression
}

// Function is one decoded function block.
type Function struct {
	Name     string
	Type     string
	Inputs   []Input
	Locals   []Local // in dependency order
	Outputs  []Output
	Gradient bool
	Hessian  bool
	Range    hcl.Range
}

// Dimension is the number of scalar inputs after indexed ones are expanded.
func (f *Function) Dimension() int {
	n := 0
	for _, in := range f.Inputs {
		n += len(in.Elements())
	}
	return n
}

// Manifest is every function found in one or more files.
type Manifest struct {
	Functions []*Function
}

// Lookup finds a function by name.
func (m *Manifest) Lookup(name string) (*Function, bool) {
	for _, f := range m.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// LoadFiles parses and validates the given HCL files.
func LoadFiles(ctx context.Context, paths ...string) (*Manifest, error) {
	logger := ctxlog.FromContext(ctx)
	parser := hclparse.NewParser()
	m := &Manifest{}
	for _, path := range paths {
		logger.Debug("Loading manifest", "path", path)
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, errors.Wrapf(diags, "failed to parse %s", path)
		}
		fns, diags := decode(file.Body)
		if diags.HasErrors() {
			return nil, errors.Wrapf(diags, "failed to decode %s", path)
		}
		m.Functions = append(m.Functions, fns...)
	}
	if err := m.checkUnique(); err != nil {
		return nil, err
	}
	logger.Debug("Manifest loaded", "functions", len(m.Functions))
	return m, nil
}

// Parse reads a manifest from memory.
func Parse(src []byte, filename string) (*Manifest, error) {
	file, diags := hclsyntax.ParseConfig(src, filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to parse %s", filename)
	}
	fns, diags := decode(file.Body)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to decode %s", filename)
	}
	m := &Manifest{Functions: fns}
	if err := m.checkUnique(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) checkUnique() error {
	seen := make(map[string]bool)
	for _, f := range m.Functions {
		if seen[f.Name] {
			return errors.Errorf("function %q defined twice (%s)", f.Name, f.Range)
		}
		seen[f.Name] = true
	}
	return nil
}

func decode(body hcl.Body) ([]*Function, hcl.Diagnostics) {
	var raw hclFile
	if diags := gohcl.DecodeBody(body, nil, &raw); diags.HasErrors() {
		return nil, diags
	}
	var diags hcl.Diagnostics
	var out []*Function
	for _, rf := range raw.Functions {
		f, d := newFunction(rf)
		diags = append(diags, d...)
		if f != nil {
			out = append(out, f)
		}
	}
	return out, diags
}

func newFunction(rf *hclFunction) (*Function, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	rng := rf.Remain.MissingItemRange()
	f := &Function{Name: rf.Name, Range: rng}
	diags = append(diags, unsupported(rf.Remain)...)
	if !autogen.IsIdentifier(rf.Name) {
		diags = append(diags, invalid(rng, "Invalid function name", "%q is not a valid identifier.", rf.Name))
	} else if autogen.Reserved(rf.Name) {
		diags = append(diags, invalid(rng, "Reserved name", "%q is reserved in generated code.", rf.Name))
	}
	if rf.Type != nil {
		f.Type = *rf.Type
	}
	f.Gradient = rf.Gradient != nil && *rf.Gradient
	f.Hessian = rf.Hessian != nil && *rf.Hessian

	names := make(map[string]hcl.Range)
	claim := func(name string, rng hcl.Range) {
		if !autogen.IsIdentifier(name) || name == "local" {
			diags = append(diags, invalid(rng, "Invalid name", "%q cannot be used as a name.", name))
			return
		}
		if autogen.Reserved(name) {
			diags = append(diags, invalid(rng, "Reserved name", "%q is reserved in generated code.", name))
			return
		}
		if prev, ok := names[name]; ok {
			diags = append(diags, invalid(rng, "Duplicate name", "%q is already declared at %s.", name, prev))
			return
		}
		names[name] = rng
	}
	if f.Gradient {
		claim(GradientName, rng)
	}
	if f.Hessian {
		claim(HessianName, rng)
	}
	for _, in := range rf.Inputs {
		inRng := in.Remain.MissingItemRange()
		diags = append(diags, unsupported(in.Remain)...)
		claim(in.Name, inRng)
		size := 0
		if in.Size != nil {
			size = *in.Size
			if size < 1 {
				diags = append(diags, invalid(inRng, "Invalid size", "Input %q must have a positive size.", in.Name))
			}
		}
		f.Inputs = append(f.Inputs, Input{Name: in.Name, Size: size})
	}
	for _, out := range rf.Outputs {
		claim(out.Name, out.Value.Range())
		f.Outputs = append(f.Outputs, Output{Name: out.Name, Expr: out.Value})
	}
	if len(f.Outputs) == 0 {
		diags = append(diags, invalid(rng, "No outputs", "Function %q declares no output block.", f.Name))
	}
	if (f.Gradient || f.Hessian) && len(f.Outputs) != 1 {
		diags = append(diags, invalid(rng, "Ambiguous derivative", "gradient and hessian need exactly one output; %q has %d.", f.Name, len(f.Outputs)))
	}
	locals, d := orderLocals(rf.Locals)
	diags = append(diags, d...)
	f.Locals = locals
	if diags.HasErrors() {
		return nil, diags
	}
	return f, nil
}

// orderLocals sorts locals so every local follows the locals it reads,
// and reports reference cycles.
func orderLocals(blocks []*hclLocals) ([]Local, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	byName := make(map[string]*hcl.Attribute)
	for _, b := range blocks {
		attrs, d := b.Body.JustAttributes()
		diags = append(diags, d...)
		for name, attr := range attrs {
			if prev, ok := byName[name]; ok {
				diags = append(diags, invalid(attr.NameRange, "Duplicate local", "local.%s is already defined at %s.", name, prev.NameRange))
				continue
			}
			byName[name] = attr
		}
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var out []Local
	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			diags = append(diags, invalid(byName[name].NameRange, "Local cycle", "local.%s depends on itself.", name))
			return false
		case done:
			return true
		}
		state[name] = visiting
		for _, t := range byName[name].Expr.Variables() {
			if t.RootName() != "local" || len(t) < 2 {
				continue
			}
			attr, ok := t[1].(hcl.TraverseAttr)
			if !ok {
				continue
			}
			if _, known := byName[attr.Name]; known && !visit(attr.Name) {
				return false
			}
		}
		state[name] = done
		out = append(out, Local{Name: name, Expr: byName[name].Expr})
		return true
	}
	for _, n := range names {
		if !visit(n) {
			break
		}
	}
	return out, diags
}

func invalid(rng hcl.Range, summary, format string, args ...any) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf(format, args...),
		Subject:  rng.Ptr(),
	}
}

// unsupported reports attributes and blocks left over after decoding.
func unsupported(body hcl.Body) hcl.Diagnostics {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Unsupported block",
			Detail:   "Only the documented blocks are allowed here.",
			Subject:  body.MissingItemRange().Ptr(),
		}}
	}
	names := make([]string, 0, len(attrs))
	for n := range attrs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		diags = append(diags, invalid(attrs[n].NameRange, "Unsupported argument", "An argument named %q is not expected here.", n))
	}
	return diags
}
