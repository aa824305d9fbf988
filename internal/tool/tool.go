// Package tool exposes the recorder to agents as JSON tool calls: build
// and differentiate formulas, emit code from manifests and run it.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/njchilds90/goautogen"
	"github.com/njchilds90/goautogen/internal/ctxlog"
	"github.com/njchilds90/goautogen/internal/formula"
	"github.com/njchilds90/goautogen/internal/manifest"
	"github.com/njchilds90/goautogen/internal/runner"
)

// ToolRequest names a tool and carries its JSON parameters.
type ToolRequest struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// ToolResponse is the reply; Error is set instead of Result on failure.
type ToolResponse struct {
	Result any    `json:"result,omitempty"`
	LaTeX  string `json:"latex,omitempty"`
	String string `json:"string,omitempty"`
	Error  string `json:"error,omitempty"`
}

type params map[string]any

func (p params) str(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", errors.Errorf("missing param: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Errorf("param %s must be a string", key)
	}
	return s, nil
}

func (p params) optStr(key string) (string, error) {
	if _, ok := p[key]; !ok {
		return "", nil
	}
	return p.str(key)
}

func (p params) strs(key string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, errors.Errorf("missing param: %s", key)
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, errors.Errorf("param %s must be array", key)
	}
	out := make([]string, len(raw))
	for i, r := range raw {
		s, ok := r.(string)
		if !ok {
			return nil, errors.Errorf("param %s[%d] must be string", key, i)
		}
		out[i] = s
	}
	return out, nil
}

// values reads an object of numbers or arrays of numbers. JSON numbers
// arrive as float64.
func (p params) values(key string) (manifest.Values, error) {
	v, ok := p[key]
	if !ok {
		return manifest.Values{}, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, errors.Errorf("param %s must be an object", key)
	}
	out := make(manifest.Values, len(raw))
	for name, r := range raw {
		switch x := r.(type) {
		case float64:
			out[name] = []float64{x}
		case []any:
			xs := make([]float64, len(x))
			for i, e := range x {
				f, ok := e.(float64)
				if !ok {
					return nil, errors.Errorf("param %s.%s[%d] must be a number", key, name, i)
				}
				xs[i] = f
			}
			out[name] = xs
		default:
			return nil, errors.Errorf("param %s.%s must be a number or an array of numbers", key, name)
		}
	}
	return out, nil
}

func (p params) dialect() (autogen.Dialect, error) {
	s, err := p.optStr("dialect")
	if err != nil {
		return 0, err
	}
	return autogen.ParseDialect(s)
}

// HandleToolCall runs one tool. Recording faults are reported in Error
// rather than propagated.
func HandleToolCall(ctx context.Context, req ToolRequest) (resp ToolResponse) {
	logger := ctxlog.FromContext(ctx).With("tool", req.Tool)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Tool call panicked", "panic", r)
			resp = ToolResponse{Error: fmt.Sprint(r)}
		}
	}()
	logger.Debug("Tool call received")
	h, ok := handlers[req.Tool]
	if !ok {
		return ToolResponse{Error: fmt.Sprintf("unknown tool: %s", req.Tool)}
	}
	resp, err := h(ctx, params(req.Params))
	if err != nil {
		logger.Debug("Tool call failed", "error", err)
		return ToolResponse{Error: err.Error()}
	}
	return resp
}

type handler func(context.Context, params) (ToolResponse, error)

var handlers map[string]handler

func init() {
	handlers = map[string]handler{
		"generate": generate,
		"evaluate": evaluate,
		"gradient": gradient,
		"hessian":  hessian,
		"inspect":  inspect,
		"to_latex": toLaTeX,
		"run":      run,
		"mcp_spec": func(context.Context, params) (ToolResponse, error) {
			return ToolResponse{Result: json.RawMessage(MCPToolSpec())}, nil
		},
	}
}

// ============================================================
// Formulas
// ============================================================

// parseFormula reads params.expr and works out which names are scalars
// and which are indexed, and how many elements the indexed ones need.
func parseFormula(p params) (hclsyntax.Expression, map[string]int, error) {
	src, err := p.str("expr")
	if err != nil {
		return nil, nil, err
	}
	expr, diags := formula.Parse(src, "expr")
	if diags.HasErrors() {
		return nil, nil, diags
	}
	sizes := make(map[string]int)
	for _, t := range expr.Variables() {
		name := t.RootName()
		if name == "local" {
			return nil, nil, errors.New("local references are only allowed in manifests")
		}
		size := 0
		if len(t) > 1 {
			if idx, ok := t[1].(hcl.TraverseIndex); ok && idx.Key.Type() == cty.Number {
				var i int
				if err := gocty.FromCtyValue(idx.Key, &i); err == nil && i >= 0 {
					size = i + 1
				}
			}
		}
		if prev, ok := sizes[name]; !ok || size > prev {
			sizes[name] = size
		}
	}
	return expr, sizes, nil
}

// elementNames lists every scalar element in name order, indexed
// elements expanded.
func elementNames(sizes map[string]int) []string {
	roots := make([]string, 0, len(sizes))
	for n := range sizes {
		roots = append(roots, n)
	}
	sort.Strings(roots)
	var out []string
	for _, n := range roots {
		out = append(out, manifest.Input{Name: n, Size: sizes[n]}.Elements()...)
	}
	return out
}

// bind fills env from values laid out like elementNames.
func bind[T autogen.Field[T]](env *formula.Env[T], sizes map[string]int, lookup func(string) T) {
	for n, size := range sizes {
		if size == 0 {
			env.Scalars[n] = lookup(n)
			continue
		}
		vec := make([]T, size)
		for i, el := range (manifest.Input{Name: n, Size: size}).Elements() {
			vec[i] = lookup(el)
		}
		env.Vectors[n] = vec
	}
}

// buildOver records expr over xs, laid out like elementNames(sizes).
func buildOver[T autogen.Field[T]](expr hcl.Expression, sizes map[string]int, xs []T, proto T) (T, hcl.Diagnostics) {
	names := elementNames(sizes)
	byName := make(map[string]T, len(names))
	for i, n := range names {
		byName[n] = xs[i]
	}
	env := formula.NewEnv(proto)
	bind(env, sizes, func(n string) T { return byName[n] })
	return formula.Build(expr, env)
}

// record builds the formula on a fresh graph with one variable per
// element. Variables are returned in elementNames order.
func record(p params) (autogen.Expr, []autogen.Expr, error) {
	expr, sizes, err := parseFormula(p)
	if err != nil {
		return autogen.Expr{}, nil, err
	}
	g := autogen.NewGraph()
	vars := g.Vars(elementNames(sizes)...)
	e, diags := buildOver(expr, sizes, vars, g.Const(0))
	if diags.HasErrors() {
		return autogen.Expr{}, nil, diags
	}
	return e, vars, nil
}

func respond(e autogen.Expr) ToolResponse {
	return ToolResponse{Result: e.String(), LaTeX: e.LaTeX(), String: e.String()}
}

func toLaTeX(_ context.Context, p params) (ToolResponse, error) {
	e, _, err := record(p)
	if err != nil {
		return ToolResponse{}, err
	}
	return respond(e), nil
}

func evaluate(_ context.Context, p params) (ToolResponse, error) {
	expr, sizes, err := parseFormula(p)
	if err != nil {
		return ToolResponse{}, err
	}
	in, err := p.values("values")
	if err != nil {
		return ToolResponse{}, err
	}
	flat := make(map[string]float64)
	for name, size := range sizes {
		xs, ok := in[name]
		if !ok {
			return ToolResponse{}, errors.Errorf("no value for %s", name)
		}
		if size == 0 {
			if len(xs) != 1 {
				return ToolResponse{}, errors.Errorf("%s is a scalar, got %d values", name, len(xs))
			}
			flat[name] = xs[0]
			continue
		}
		if len(xs) < size {
			return ToolResponse{}, errors.Errorf("%s needs at least %d values, got %d", name, size, len(xs))
		}
		for i, el := range (manifest.Input{Name: name, Size: size}).Elements() {
			flat[el] = xs[i]
		}
	}
	env := formula.NewEnv(autogen.Float(0))
	bind(env, sizes, func(n string) autogen.Float { return autogen.Float(flat[n]) })
	v, diags := formula.Build(expr, env)
	if diags.HasErrors() {
		return ToolResponse{}, diags
	}
	return ToolResponse{Result: float64(v), String: autogen.CXX.Literal(float64(v))}, nil
}

// wrt resolves params.vars against the recorded variables; without it
// the derivative is taken with respect to every element.
func wrt(p params, vars []autogen.Expr) ([]int, error) {
	if _, ok := p["vars"]; !ok {
		idx := make([]int, len(vars))
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	names, err := p.strs("vars")
	if err != nil {
		return nil, err
	}
	at := make(map[string]int, len(vars))
	for i, v := range vars {
		at[v.Name()] = i
	}
	idx := make([]int, len(names))
	for i, n := range names {
		j, ok := at[n]
		if !ok {
			return nil, errors.Errorf("variable %s does not occur in expr", n)
		}
		idx[i] = j
	}
	return idx, nil
}

// derive rebuilds the formula over duals of every element and returns
// the requested partial derivatives. The Hessian is nil unless second is
// set.
func derive(p params, second bool) ([]autogen.Expr, [][]autogen.Expr, error) {
	_, vars, err := record(p)
	if err != nil {
		return nil, nil, err
	}
	idx, err := wrt(p, vars)
	if err != nil || len(vars) == 0 {
		return nil, nil, err
	}
	expr, sizes, _ := parseFormula(p)
	proto := vars[0].Lift(0)
	pick := func(grad []autogen.Expr) []autogen.Expr {
		out := make([]autogen.Expr, len(idx))
		for i, a := range idx {
			out[i] = grad[a]
		}
		return out
	}
	if !second {
		_, grad := autogen.Gradient(vars, func(xs []autogen.Dual[autogen.Expr]) autogen.Dual[autogen.Expr] {
			v, _ := buildOver(expr, sizes, xs, autogen.Variable(proto))
			return v
		})
		return pick(grad), nil, nil
	}
	_, grad, hess := autogen.Hessian(vars, func(xs []autogen.Dual[autogen.Dual[autogen.Expr]]) autogen.Dual[autogen.Dual[autogen.Expr]] {
		v, _ := buildOver(expr, sizes, xs, autogen.Variable(autogen.Variable(proto)))
		return v
	})
	h := make([][]autogen.Expr, len(idx))
	for i := range idx {
		h[i] = pick(hess[idx[i]])
	}
	return pick(grad), h, nil
}

func render(es []autogen.Expr) ([]string, []string) {
	s := make([]string, len(es))
	l := make([]string, len(es))
	for i, e := range es {
		s[i], l[i] = e.String(), e.LaTeX()
	}
	return s, l
}

func gradient(_ context.Context, p params) (ToolResponse, error) {
	grad, _, err := derive(p, false)
	if err != nil {
		return ToolResponse{}, err
	}
	s, l := render(grad)
	return ToolResponse{
		Result: s,
		LaTeX:  `\left(` + strings.Join(l, ", ") + `\right)`,
		String: "[" + strings.Join(s, ", ") + "]",
	}, nil
}

func hessian(_ context.Context, p params) (ToolResponse, error) {
	_, hess, err := derive(p, true)
	if err != nil {
		return ToolResponse{}, err
	}
	rows := make([][]string, len(hess))
	texRows := make([]string, len(hess))
	strRows := make([]string, len(hess))
	for i, row := range hess {
		s, l := render(row)
		rows[i] = s
		texRows[i] = strings.Join(l, " & ")
		strRows[i] = "[" + strings.Join(s, ", ") + "]"
	}
	return ToolResponse{
		Result: rows,
		LaTeX:  `\begin{pmatrix}` + strings.Join(texRows, ` \\ `) + `\end{pmatrix}`,
		String: "[" + strings.Join(strRows, ", ") + "]",
	}, nil
}

type inspection struct {
	Inputs []string         `json:"inputs"`
	Kinds  map[string]int   `json:"kinds"`
	Hash   string           `json:"hash"`
	Graph  autogen.Snapshot `json:"graph"`
}

func inspect(_ context.Context, p params) (ToolResponse, error) {
	e, _, err := record(p)
	if err != nil {
		return ToolResponse{}, err
	}
	kinds := make(map[string]int)
	for k, n := range e.CountKinds() {
		kinds[k.String()] = n
	}
	return ToolResponse{
		Result: inspection{
			Inputs: e.Inputs(),
			Kinds:  kinds,
			Hash:   fmt.Sprintf("%016x", e.Hash()),
			Graph:  autogen.TakeSnapshot(e),
		},
		String: e.String(),
		LaTeX:  e.LaTeX(),
	}, nil
}

// ============================================================
// Manifests
// ============================================================

func loadFunctions(p params) ([]*manifest.Function, error) {
	src, err := p.str("manifest")
	if err != nil {
		return nil, err
	}
	m, err := manifest.Parse([]byte(src), "manifest.hcl")
	if err != nil {
		return nil, err
	}
	name, err := p.optStr("function")
	if err != nil || name == "" {
		return m.Functions, err
	}
	f, ok := m.Lookup(name)
	if !ok {
		return nil, errors.Errorf("function %q not found", name)
	}
	return []*manifest.Function{f}, nil
}

type emitted struct {
	Function string          `json:"function"`
	Params   []autogen.Param `json:"params"`
	Stats    autogen.Stats   `json:"stats"`
}

func generate(ctx context.Context, p params) (ToolResponse, error) {
	fns, err := loadFunctions(p)
	if err != nil {
		return ToolResponse{}, err
	}
	d, err := p.dialect()
	if err != nil {
		return ToolResponse{}, err
	}
	unit, err := p.optStr("unit")
	if err != nil {
		return ToolResponse{}, err
	}
	var codes []string
	var out []emitted
	for _, f := range fns {
		u, err := manifest.Build(ctx, f, autogen.WithDialect(d))
		if err != nil {
			return ToolResponse{}, err
		}
		codes = append(codes, u.Code)
		out = append(out, emitted{Function: f.Name, Params: u.Params, Stats: u.Stats})
	}
	return ToolResponse{Result: out, String: d.File(unit, codes...)}, nil
}

func run(ctx context.Context, p params) (ToolResponse, error) {
	fns, err := loadFunctions(p)
	if err != nil {
		return ToolResponse{}, err
	}
	d, err := p.dialect()
	if err != nil {
		return ToolResponse{}, err
	}
	in, err := p.values("values")
	if err != nil {
		return ToolResponse{}, err
	}
	results := make(map[string]runner.Values, len(fns))
	var lines []string
	for _, f := range fns {
		u, err := manifest.Build(ctx, f, autogen.WithDialect(d))
		if err != nil {
			return ToolResponse{}, err
		}
		out, err := runner.Run(u.Code, f.Name, runner.Values(in))
		if err != nil {
			return ToolResponse{}, err
		}
		results[f.Name] = out
		names := make([]string, 0, len(out))
		for n := range out {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			lines = append(lines, fmt.Sprintf("%s.%s = %v", f.Name, n, out[n]))
		}
	}
	return ToolResponse{Result: results, String: strings.Join(lines, "\n")}, nil
}

// ============================================================
// Schema
// ============================================================

// MCPToolSpec describes every tool for agent registration.
func MCPToolSpec() string {
	tools := []map[string]any{
		ts("generate", "Emit straight-line code for the functions of an HCL manifest. Optional: function, dialect (cxx|go), unit", []string{"manifest"}, map[string]string{"manifest": "string", "function": "string", "dialect": "string", "unit": "string"}),
		ts("evaluate", "Evaluate a formula numerically. values maps names to numbers or arrays", []string{"expr", "values"}, map[string]string{"expr": "string", "values": "object"}),
		ts("gradient", "Symbolic gradient of a formula. Optional vars (string[]) selects and orders the variables", []string{"expr"}, map[string]string{"expr": "string", "vars": "array"}),
		ts("hessian", "Symbolic Hessian of a formula. Optional vars (string[])", []string{"expr"}, map[string]string{"expr": "string", "vars": "array"}),
		ts("inspect", "Inputs, node counts by kind, hash and graph dump of a formula", []string{"expr"}, map[string]string{"expr": "string"}),
		ts("to_latex", "Record a formula and render it as LaTeX", []string{"expr"}, map[string]string{"expr": "string"}),
		ts("run", "Emit the functions of a manifest and execute the emitted code", []string{"manifest", "values"}, map[string]string{"manifest": "string", "function": "string", "dialect": "string", "values": "object"}),
		ts("mcp_spec", "Return this tool schema", []string{}, map[string]string{}),
	}
	spec := map[string]any{"tools": tools}
	b, _ := json.MarshalIndent(spec, "", "  ")
	return string(b)
}

func ts(name, description string, required []string, props map[string]string) map[string]any {
	properties := map[string]any{}
	for k, typ := range props {
		properties[k] = map[string]any{"type": typ}
	}
	return map[string]any{
		"name":        name,
		"description": description,
		"inputSchema": map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}
