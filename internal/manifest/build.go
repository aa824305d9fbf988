package manifest

import (
	"context"
	"strconv"

	"github.com/hashicorp/hcl/v2"
	"github.com/pkg/errors"

	"github.com/njchilds90/goautogen"
	"github.com/njchilds90/goautogen/internal/ctxlog"
	"github.com/njchilds90/goautogen/internal/formula"
)

// Values binds input names to elements; scalars have one element.
type Values map[string][]float64

// Unit is the result of lowering one function.
type Unit struct {
	Function  *Function
	Code      string
	Params    []autogen.Param
	Stats     autogen.Stats
	Generator *autogen.Generator
}

// apply builds every output of f over the flat input vector xs, whose
// layout follows f.Inputs with indexed inputs expanded in place.
func apply[T autogen.Field[T]](f *Function, xs []T, proto T) ([]T, hcl.Diagnostics) {
	env := formula.NewEnv(proto)
	at := 0
	for _, in := range f.Inputs {
		if in.Size == 0 {
			env.Scalars[in.Name] = xs[at]
			at++
			continue
		}
		env.Vectors[in.Name] = xs[at : at+in.Size]
		at += in.Size
	}
	for _, l := range f.Locals {
		v, diags := formula.Build(l.Expr, env)
		if diags.HasErrors() {
			return nil, diags
		}
		env.Locals[l.Name] = v
	}
	out := make([]T, len(f.Outputs))
	for i, o := range f.Outputs {
		v, diags := formula.Build(o.Expr, env)
		if diags.HasErrors() {
			return nil, diags
		}
		out[i] = v
	}
	return out, nil
}

// scalar adapts apply to the single-output sweeps. Formula errors cannot
// be returned through a sweep callback, so the first one is kept aside
// and the sweep continues on a constant.
func scalar[T autogen.Field[T]](f *Function, proto T, diags *hcl.Diagnostics) func([]T) T {
	return func(xs []T) T {
		out, d := apply(f, xs, proto)
		if d.HasErrors() {
			if !diags.HasErrors() {
				*diags = d
			}
			return proto.Lift(0)
		}
		return out[0]
	}
}

// Build records f on a fresh graph, adds the requested derivatives, and
// emits one function.
func Build(ctx context.Context, f *Function, opts ...autogen.Option) (*Unit, error) {
	logger := ctxlog.FromContext(ctx).With("function", f.Name)
	g := autogen.NewGraph()
	var vars []autogen.Expr
	for _, in := range f.Inputs {
		for _, name := range in.Elements() {
			vars = append(vars, g.TypedVar(name, f.Type))
		}
	}
	proto := g.Const(0)
	gen := autogen.NewGenerator(g, append([]autogen.Option{autogen.WithLogger(logger)}, opts...)...)
	gen.Declare(vars...)

	outs, diags := apply(f, vars, proto)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "function %s", f.Name)
	}
	for i, o := range f.Outputs {
		gen.TypedOutput(o.Name, f.Type, outs[i])
	}

	switch {
	case f.Hessian:
		var d hcl.Diagnostics
		nested := autogen.Variable(autogen.Variable(proto))
		_, grad, hess := autogen.Hessian(vars, scalar(f, nested, &d))
		if d.HasErrors() {
			return nil, errors.Wrapf(d, "function %s", f.Name)
		}
		if f.Gradient {
			typedVector(gen, GradientName, f.Type, grad)
		}
		for i, row := range hess {
			for j, e := range row {
				gen.TypedOutput(HessianName+"["+strconv.Itoa(i*len(row)+j)+"]", f.Type, e)
			}
		}
	case f.Gradient:
		var d hcl.Diagnostics
		_, grad := autogen.Gradient(vars, scalar(f, autogen.Variable(proto), &d))
		if d.HasErrors() {
			return nil, errors.Wrapf(d, "function %s", f.Name)
		}
		typedVector(gen, GradientName, f.Type, grad)
	}

	code := gen.Emit(f.Name)
	stats := gen.Stats()
	logger.Debug("Function emitted",
		"dialect", gen.Dialect(),
		"statements", len(gen.Schedule()),
		"cse_hits", stats.CSEHits,
	)
	return &Unit{Function: f, Code: code, Params: gen.Params(), Stats: stats, Generator: gen}, nil
}

func typedVector(gen *autogen.Generator, name, typ string, es []autogen.Expr) {
	for i, e := range es {
		gen.TypedOutput(name+"["+strconv.Itoa(i)+"]", typ, e)
	}
}

// BuildAll lowers every function of m and returns the units in manifest
// order.
func BuildAll(ctx context.Context, m *Manifest, opts ...autogen.Option) ([]*Unit, error) {
	units := make([]*Unit, 0, len(m.Functions))
	for _, f := range m.Functions {
		u, err := Build(ctx, f, opts...)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

// Flatten lays values out in input order. Missing inputs and size
// mismatches are errors.
func (f *Function) Flatten(in Values) ([]float64, error) {
	var xs []float64
	for _, inp := range f.Inputs {
		v, ok := in[inp.Name]
		if !ok {
			return nil, errors.Errorf("function %s: input %q not set", f.Name, inp.Name)
		}
		want := inp.Size
		if want == 0 {
			want = 1
		}
		if len(v) != want {
			return nil, errors.Errorf("function %s: input %q takes %d value(s), got %d", f.Name, inp.Name, want, len(v))
		}
		xs = append(xs, v...)
	}
	return xs, nil
}

// Evaluate computes f and its requested derivatives numerically, straight
// from the formulas, without emitting code. Outputs are keyed like the
// parameters of the emitted function.
func Evaluate(f *Function, in Values) (Values, error) {
	flat, err := f.Flatten(in)
	if err != nil {
		return nil, err
	}
	xs := make([]autogen.Float, len(flat))
	for i, v := range flat {
		xs[i] = autogen.Float(v)
	}
	outs, diags := apply(f, xs, autogen.Float(0))
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "function %s", f.Name)
	}
	res := make(Values)
	for i, o := range f.Outputs {
		res[o.Name] = []float64{float64(outs[i])}
	}
	var d hcl.Diagnostics
	switch {
	case f.Hessian:
		nested := autogen.Variable(autogen.Variable(autogen.Float(0)))
		_, grad, hess := autogen.Hessian(xs, scalar(f, nested, &d))
		if f.Gradient {
			res[GradientName] = floats(grad)
		}
		for _, row := range hess {
			res[HessianName] = append(res[HessianName], floats(row)...)
		}
	case f.Gradient:
		_, grad := autogen.Gradient(xs, scalar(f, autogen.Variable(autogen.Float(0)), &d))
		res[GradientName] = floats(grad)
	}
	if d.HasErrors() {
		return nil, errors.Wrapf(d, "function %s", f.Name)
	}
	return res, nil
}

func floats(xs []autogen.Float) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}
