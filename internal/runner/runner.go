// Package runner executes functions emitted by autogen without a compiler.
// It reads the parameter list and the straight-line body of one emitted
// function, in either dialect, and evaluates each right-hand side as an HCL
// expression over cty numbers, rounding every statement to float64 so the
// result matches compiled code.
package runner

import (
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// Values maps a parameter name to its elements. Scalars have one element.
type Values map[string][]float64

// Scalar returns the single value of a scalar parameter.
func (v Values) Scalar(name string) (float64, bool) {
	xs, ok := v[name]
	if !ok || len(xs) != 1 {
		return 0, false
	}
	return xs[0], true
}

// Param is a parsed entry of the emitted parameter list.
type Param struct {
	Name    string
	Indexed bool
	Output  bool
}

// Func is one parsed emitted function.
type Func struct {
	Name   string
	Params []Param
	stmts  []stmt
}

type stmt struct {
	line   int
	target string // temporary, output name, or output element
	index  int    // element of an indexed output, -1 otherwise
	output bool
	expr   hclsyntax.Expression
}

var (
	cxxHead = regexp.MustCompile(`^void\s+([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)\s*$`)
	goHead  = regexp.MustCompile(`^func\s+([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)\s*\{\s*$`)

	cxxDecl   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_:<>]*\s+(v_*[0-9]+)\s*=\s*(.+);$`)
	cxxAssign = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(\[([0-9]+)\])?\s*=\s*(v_*[0-9]+);$`)
	goDecl    = regexp.MustCompile(`^(v_*[0-9]+)\s*:=\s*(.+)$`)
	goAssign  = regexp.MustCompile(`^(\*)?([A-Za-z_][A-Za-z0-9_]*)(\[([0-9]+)\])?\s*=\s*(v_*[0-9]+)$`)
	goDiscard = regexp.MustCompile(`^_\s*=\s*v_*[0-9]+$`)

	goFloat = regexp.MustCompile(`float64\(([^()]*)\)`)
)

// rewrite maps the math spellings of both dialects onto the function
// names known to the evaluation context.
var rewrite = strings.NewReplacer(
	"math.Pow(", "pow(",
	"math.Sqrt(", "sqrt(",
	"math.Log(", "log(",
	"math.NaN()", "nan()",
	"math.Inf(1)", "inf()",
	"math.Inf(-1)", "-inf()",
)

// cxxConst matches the C++ non-finite macros as whole words only.
var cxxConst = regexp.MustCompile(`\b(NAN|INFINITY)\b`)

func rewriteRHS(rhs string) string {
	rhs = cxxConst.ReplaceAllStringFunc(rewrite.Replace(rhs), func(m string) string {
		if m == "NAN" {
			return "nan()"
		}
		return "inf()"
	})
	return goFloat.ReplaceAllString(rhs, "($1)")
}

// Parse finds the function called name in src. An empty name selects the
// first function.
func Parse(src, name string) (*Func, error) {
	lines := strings.Split(src, "\n")
	for i := 0; i < len(lines); i++ {
		head := strings.TrimSpace(lines[i])
		var m []string
		goStyle := false
		if m = cxxHead.FindStringSubmatch(head); m == nil {
			if m = goHead.FindStringSubmatch(head); m == nil {
				continue
			}
			goStyle = true
		}
		if name != "" && m[1] != name {
			continue
		}
		fn := &Func{Name: m[1]}
		params, err := parseParams(m[2], goStyle)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: line %d", fn.Name, i+1)
		}
		fn.Params = params
		body := i + 1
		if !goStyle {
			if body >= len(lines) || strings.TrimSpace(lines[body]) != "{" {
				return nil, errors.Errorf("%s: line %d: expected {", fn.Name, body+1)
			}
			body++
		}
		if err := fn.parseBody(lines, body, goStyle); err != nil {
			return nil, err
		}
		return fn, nil
	}
	if name == "" {
		return nil, errors.New("no emitted function found")
	}
	return nil, errors.Errorf("function %q not found", name)
}

func parseParams(list string, goStyle bool) ([]Param, error) {
	var out []Param
	if strings.TrimSpace(list) == "" {
		return out, nil
	}
	for _, raw := range strings.Split(list, ",") {
		f := strings.Fields(strings.TrimSpace(raw))
		if len(f) < 2 {
			return nil, errors.Errorf("malformed parameter %q", raw)
		}
		var p Param
		if goStyle {
			p.Name = f[0]
			p.Indexed = strings.HasPrefix(f[1], "[]")
			p.Output = strings.HasPrefix(f[1], "*")
		} else {
			last := f[len(f)-1]
			p.Name = strings.TrimLeft(last, "*&")
			p.Indexed = strings.Contains(raw, "*")
			p.Output = f[0] != "const"
		}
		out = append(out, p)
	}
	return out, nil
}

func (fn *Func) parseBody(lines []string, from int, goStyle bool) error {
	for i := from; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		switch {
		case line == "":
			continue
		case line == "}":
			fn.markOutputs()
			return nil
		}
		s := stmt{line: i + 1, index: -1}
		var rhs string
		if goStyle {
			if goDiscard.MatchString(line) {
				continue
			}
			if m := goDecl.FindStringSubmatch(line); m != nil {
				s.target, rhs = m[1], m[2]
			} else if m := goAssign.FindStringSubmatch(line); m != nil {
				s.target, s.output, rhs = m[2], true, m[5]
				if m[3] != "" {
					s.index, _ = strconv.Atoi(m[4])
				}
			} else {
				return errors.Errorf("%s: line %d: unrecognized statement %q", fn.Name, i+1, line)
			}
		} else {
			if m := cxxDecl.FindStringSubmatch(line); m != nil {
				s.target, rhs = m[1], m[2]
			} else if m := cxxAssign.FindStringSubmatch(line); m != nil {
				s.target, s.output, rhs = m[1], true, m[4]
				if m[2] != "" {
					s.index, _ = strconv.Atoi(m[3])
				}
			} else {
				return errors.Errorf("%s: line %d: unrecognized statement %q", fn.Name, i+1, line)
			}
		}
		rhs = rewriteRHS(rhs)
		expr, diags := hclsyntax.ParseExpression([]byte(rhs), fn.Name, hcl.Pos{Line: i + 1, Column: 1, Byte: 0})
		if diags.HasErrors() {
			return errors.Wrapf(diags, "%s: line %d", fn.Name, i+1)
		}
		s.expr = expr
		fn.stmts = append(fn.stmts, s)
	}
	return errors.Errorf("%s: missing closing brace", fn.Name)
}

// markOutputs settles parameters the signature alone leaves ambiguous:
// whatever the body assigns to is an output.
func (fn *Func) markOutputs() {
	assigned := make(map[string]bool)
	for _, s := range fn.stmts {
		if s.output {
			assigned[s.target] = true
		}
	}
	for i := range fn.Params {
		if assigned[fn.Params[i].Name] {
			fn.Params[i].Output = true
		}
	}
}

// Inputs returns the names of the input parameters.
func (fn *Func) Inputs() []string {
	var out []string
	for _, p := range fn.Params {
		if !p.Output {
			out = append(out, p.Name)
		}
	}
	return out
}

// Call executes the body with the given inputs. Every input parameter must
// be bound; scalars take exactly one element.
func (fn *Func) Call(in Values) (Values, error) {
	vars := make(map[string]cty.Value)
	for _, p := range fn.Params {
		if p.Output {
			continue
		}
		xs, ok := in[p.Name]
		if !ok {
			return nil, errors.Errorf("%s: input %q not bound", fn.Name, p.Name)
		}
		if !p.Indexed {
			if len(xs) != 1 {
				return nil, errors.Errorf("%s: scalar input %q bound to %d values", fn.Name, p.Name, len(xs))
			}
			v, err := number(xs[0])
			if err != nil {
				return nil, errors.Wrapf(err, "%s: input %q", fn.Name, p.Name)
			}
			vars[p.Name] = v
			continue
		}
		elems := make([]cty.Value, len(xs))
		for i, x := range xs {
			v, err := number(x)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: input %s[%d]", fn.Name, p.Name, i)
			}
			elems[i] = v
		}
		if len(elems) == 0 {
			vars[p.Name] = cty.EmptyTupleVal
		} else {
			vars[p.Name] = cty.TupleVal(elems)
		}
	}
	ctx := &hcl.EvalContext{Variables: vars, Functions: Functions()}
	out := make(Values)
	for _, s := range fn.stmts {
		v, diags := s.expr.Value(ctx)
		if diags.HasErrors() {
			return nil, errors.Wrapf(diags, "%s: line %d", fn.Name, s.line)
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: line %d", fn.Name, s.line)
		}
		if !s.output {
			vars[s.target] = cty.NumberVal(new(big.Float).SetFloat64(f))
			continue
		}
		if s.index < 0 {
			out[s.target] = []float64{f}
			continue
		}
		xs := out[s.target]
		for len(xs) <= s.index {
			xs = append(xs, 0)
		}
		xs[s.index] = f
		out[s.target] = xs
	}
	return out, nil
}

// Run parses and calls in one step.
func Run(src, name string, in Values) (Values, error) {
	fn, err := Parse(src, name)
	if err != nil {
		return nil, err
	}
	return fn.Call(in)
}

func toFloat(v cty.Value) (float64, error) {
	if v.IsNull() || !v.IsKnown() || v.Type() != cty.Number {
		return 0, errors.Errorf("expected a number, got %s", v.GoString())
	}
	f, _ := v.AsBigFloat().Float64()
	return f, nil
}

// ============================================================
// Functions available to emitted right-hand sides
// ============================================================

func unary(fn func(float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "x", Type: cty.Number}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			x, _ := args[0].AsBigFloat().Float64()
			return number(fn(x))
		},
	})
}

func number(f float64) (cty.Value, error) {
	if math.IsNaN(f) {
		return cty.NilVal, errors.New("result is NaN")
	}
	return cty.NumberVal(new(big.Float).SetFloat64(f)), nil
}

// Functions returns pow, sqrt, log, nan and inf.
func Functions() map[string]function.Function {
	return map[string]function.Function{
		"pow": function.New(&function.Spec{
			Params: []function.Parameter{
				{Name: "base", Type: cty.Number},
				{Name: "exp", Type: cty.Number},
			},
			Type: function.StaticReturnType(cty.Number),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				a, _ := args[0].AsBigFloat().Float64()
				b, _ := args[1].AsBigFloat().Float64()
				return number(math.Pow(a, b))
			},
		}),
		"sqrt": unary(math.Sqrt),
		"log":  unary(math.Log),
		"nan": function.New(&function.Spec{
			Type: function.StaticReturnType(cty.Number),
			Impl: func([]cty.Value, cty.Type) (cty.Value, error) {
				return cty.NilVal, errors.New("NaN constant")
			},
		}),
		"inf": function.New(&function.Spec{
			Type: function.StaticReturnType(cty.Number),
			Impl: func([]cty.Value, cty.Type) (cty.Value, error) {
				return cty.PositiveInfinity, nil
			},
		}),
	}
}
