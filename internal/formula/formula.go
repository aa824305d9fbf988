// Package formula turns arithmetic written in HCL expression syntax into
// recorded autogen values. The same source builds plain graphs, dual
// graphs, or nested dual graphs, depending on the Field it is built over.
package formula

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/njchilds90/goautogen"
)

// Env binds the names a formula may reference.
type Env[T autogen.Field[T]] struct {
	Scalars map[string]T
	Vectors map[string][]T
	Locals  map[string]T
	// Lift builds constants; NewEnv takes it from a prototype value.
	Lift func(float64) T
}

// NewEnv returns an empty Env whose constants are lifted through proto.
func NewEnv[T autogen.Field[T]](proto T) *Env[T] {
	return &Env[T]{
		Scalars: make(map[string]T),
		Vectors: make(map[string][]T),
		Locals:  make(map[string]T),
		Lift:    proto.Lift,
	}
}

// Parse reads one expression.
func Parse(src, filename string) (hclsyntax.Expression, hcl.Diagnostics) {
	return hclsyntax.ParseExpression([]byte(src), filename, hcl.InitialPos)
}

// Eval parses and builds src in one step.
func Eval[T autogen.Field[T]](src string, env *Env[T]) (T, hcl.Diagnostics) {
	expr, diags := Parse(src, "formula")
	if diags.HasErrors() {
		var zero T
		return zero, diags
	}
	return Build(expr, env)
}

// References returns the sorted root names an expression reads, with
// local.<name> reported as "local.<name>".
func References(expr hcl.Expression) []string {
	set := make(map[string]bool)
	for _, t := range expr.Variables() {
		name := t.RootName()
		if name == "local" && len(t) > 1 {
			if attr, ok := t[1].(hcl.TraverseAttr); ok {
				name = "local." + attr.Name
			}
		}
		set[name] = true
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func errorf(rng hcl.Range, summary, format string, args ...any) hcl.Diagnostics {
	return hcl.Diagnostics{{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf(format, args...),
		Subject:  rng.Ptr(),
	}}
}

// Build walks an HCL syntax tree and records it over env. Only arithmetic
// is accepted: number literals, references, parentheses, unary minus, the
// four binary operators, and calls to sqrt, log and pow.
func Build[T autogen.Field[T]](expr hcl.Expression, env *Env[T]) (T, hcl.Diagnostics) {
	var zero T
	switch e := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		if e.Val.Type() != cty.Number || e.Val.IsNull() {
			return zero, errorf(e.Range(), "Unsupported literal", "Only numbers are allowed, got %s.", e.Val.Type().FriendlyName())
		}
		var f float64
		if err := gocty.FromCtyValue(e.Val, &f); err != nil {
			return zero, errorf(e.Range(), "Invalid number", "%s", err)
		}
		return env.Lift(f), nil

	case *hclsyntax.ParenthesesExpr:
		return Build(e.Expression, env)

	case *hclsyntax.ScopeTraversalExpr:
		return resolve(e.Traversal, e.Range(), env)

	case *hclsyntax.UnaryOpExpr:
		if e.Op != hclsyntax.OpNegate {
			return zero, errorf(e.Range(), "Unsupported operator", "Only unary minus is allowed.")
		}
		v, diags := Build(e.Val, env)
		if diags.HasErrors() {
			return zero, diags
		}
		return v.Neg(), nil

	case *hclsyntax.BinaryOpExpr:
		lhs, diags := Build(e.LHS, env)
		if diags.HasErrors() {
			return zero, diags
		}
		rhs, diags := Build(e.RHS, env)
		if diags.HasErrors() {
			return zero, diags
		}
		switch e.Op {
		case hclsyntax.OpAdd:
			return lhs.Add(rhs), nil
		case hclsyntax.OpSubtract:
			return lhs.Sub(rhs), nil
		case hclsyntax.OpMultiply:
			return lhs.Mul(rhs), nil
		case hclsyntax.OpDivide:
			return lhs.Div(rhs), nil
		}
		return zero, errorf(e.Range(), "Unsupported operator", "Only +, -, * and / are allowed.")

	case *hclsyntax.FunctionCallExpr:
		return call(e, env)
	}
	return zero, errorf(expr.Range(), "Unsupported expression", "Formulas may only contain arithmetic.")
}

func call[T autogen.Field[T]](e *hclsyntax.FunctionCallExpr, env *Env[T]) (T, hcl.Diagnostics) {
	var zero T
	want := map[string]int{"sqrt": 1, "log": 1, "pow": 2}
	n, ok := want[e.Name]
	if !ok {
		return zero, errorf(e.NameRange, "Unknown function", "There is no function named %q; available are sqrt, log and pow.", e.Name)
	}
	if len(e.Args) != n || e.ExpandFinal {
		return zero, errorf(e.Range(), "Wrong number of arguments", "%s takes %d argument(s).", e.Name, n)
	}
	args := make([]T, n)
	for i, a := range e.Args {
		v, diags := Build(a, env)
		if diags.HasErrors() {
			return zero, diags
		}
		args[i] = v
	}
	switch e.Name {
	case "sqrt":
		return args[0].Sqrt(), nil
	case "log":
		return args[0].Log(), nil
	}
	return args[0].Pow(args[1]), nil
}

func resolve[T autogen.Field[T]](t hcl.Traversal, rng hcl.Range, env *Env[T]) (T, hcl.Diagnostics) {
	var zero T
	root := t.RootName()
	rest := t[1:]
	if root == "local" {
		if len(rest) != 1 {
			return zero, errorf(rng, "Invalid local reference", "Expected local.<name>.")
		}
		attr, ok := rest[0].(hcl.TraverseAttr)
		if !ok {
			return zero, errorf(rng, "Invalid local reference", "Expected local.<name>.")
		}
		v, ok := env.Locals[attr.Name]
		if !ok {
			return zero, errorf(rng, "Unknown local", "There is no local named %q.", attr.Name)
		}
		return v, nil
	}
	if len(rest) == 0 {
		if v, ok := env.Scalars[root]; ok {
			return v, nil
		}
		if _, ok := env.Vectors[root]; ok {
			return zero, errorf(rng, "Missing index", "%q has several elements; reference one as %s[i].", root, root)
		}
		return zero, errorf(rng, "Unknown input", "There is no input named %q.", root)
	}
	vec, ok := env.Vectors[root]
	if !ok {
		return zero, errorf(rng, "Unknown input", "There is no indexed input named %q.", root)
	}
	idx, ok := rest[0].(hcl.TraverseIndex)
	if !ok || len(rest) != 1 {
		return zero, errorf(rng, "Invalid reference", "Only %s[<number>] is allowed.", root)
	}
	var i int
	if err := gocty.FromCtyValue(idx.Key, &i); err != nil {
		return zero, errorf(rng, "Invalid index", "%s", err)
	}
	if i < 0 || i >= len(vec) {
		return zero, errorf(rng, "Index out of range", "%s has %d elements; index %d is out of range.", root, len(vec), i)
	}
	return vec[i], nil
}
