package autogen_test

import (
	"math"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp"

	"github.com/njchilds90/goautogen"
)

func constant(t *testing.T, e autogen.Expr) float64 {
	t.Helper()
	v, ok := e.Constant()
	qt.Assert(t, qt.IsTrue(ok), qt.Commentf("%s is a %s node", e, e.Kind()))
	return v
}

func TestFold_Binary(t *testing.T) {
	g := autogen.NewGraph()
	two, three := g.Const(2), g.Const(3)

	tests := []struct {
		name string
		e    autogen.Expr
		want float64
	}{
		{"add", two.Add(three), 5},
		{"sub", two.Sub(three), -1},
		{"mul", two.Mul(three), 6},
		{"div", three.Div(two), 1.5},
		{"pow", two.Pow(three), 8},
		{"neg", three.Neg(), -3},
		{"sqrt", g.Const(16).Sqrt(), 4},
		{"nested", two.Add(three).Mul(two.Sub(three)), -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qt.Assert(t, qt.Equals(tt.e.Kind(), autogen.KindConst))
			qt.Assert(t, qt.Equals(constant(t, tt.e), tt.want))
		})
	}
}

func TestFold_NonFinite(t *testing.T) {
	g := autogen.NewGraph()
	qt.Check(t, qt.IsTrue(math.IsInf(constant(t, g.Const(1).Div(g.Const(0))), 1)))
	qt.Check(t, qt.IsTrue(math.IsInf(constant(t, g.Const(-1).Div(g.Const(0))), -1)))
	qt.Check(t, qt.IsTrue(math.IsNaN(constant(t, g.Const(-4).Sqrt()))))
	qt.Check(t, qt.IsTrue(math.IsNaN(constant(t, g.Const(0).Div(g.Const(0))))))
}

func TestSimplify_Identities(t *testing.T) {
	g := autogen.NewGraph()
	x := g.Var("x")
	zero, one, minusOne := g.Const(0), g.Const(1), g.Const(-1)

	same := []struct {
		name string
		got  autogen.Expr
	}{
		{"0+x", zero.Add(x)},
		{"x+0", x.Add(zero)},
		{"x-0", x.Sub(zero)},
		{"1*x", one.Mul(x)},
		{"x*1", x.Mul(one)},
		{"x/1", x.Div(one)},
		{"pow(x,1)", x.Pow(one)},
	}
	for _, tt := range same {
		t.Run(tt.name, func(t *testing.T) {
			qt.Assert(t, qt.Equals(tt.got, x))
		})
	}

	zeros := []struct {
		name string
		got  autogen.Expr
	}{
		{"x-x", x.Sub(x)},
		{"x-x by hash", x.Sub(g.Var("x"))},
		{"0*x", zero.Mul(x)},
		{"x*0", x.Mul(zero)},
		{"0/x", zero.Div(x)},
	}
	for _, tt := range zeros {
		t.Run(tt.name, func(t *testing.T) {
			qt.Assert(t, qt.Equals(constant(t, tt.got), 0.0))
		})
	}

	negs := []struct {
		name string
		got  autogen.Expr
	}{
		{"0-x", zero.Sub(x)},
		{"-1*x", minusOne.Mul(x)},
		{"x*-1", x.Mul(minusOne)},
	}
	for _, tt := range negs {
		t.Run(tt.name, func(t *testing.T) {
			qt.Assert(t, qt.Equals(tt.got.Kind(), autogen.KindNeg))
			qt.Assert(t, qt.Equals(tt.got.Child(0), x))
		})
	}

	qt.Assert(t, qt.Equals(constant(t, x.Pow(zero)), 1.0))
}

func TestSimplify_NoRewriteWithoutIdentity(t *testing.T) {
	g := autogen.NewGraph()
	x, y := g.Var("x"), g.Var("y")

	qt.Check(t, qt.Equals(x.Sub(y).Kind(), autogen.KindSub))
	qt.Check(t, qt.Equals(x.MulF(2).Kind(), autogen.KindMul))
	qt.Check(t, qt.Equals(x.Div(g.Const(0)).Kind(), autogen.KindDiv))
	qt.Check(t, qt.Equals(x.Add(x).Kind(), autogen.KindAdd))
	qt.Check(t, qt.Equals(x.PowF(2).Kind(), autogen.KindPow))
}

// 0 + x must not leave an Add node behind.
func TestSimplify_ZeroPlusXRecordsNoAdd(t *testing.T) {
	g := autogen.NewGraph()
	x := g.Var("x")
	e := g.Const(0).Add(x)

	qt.Assert(t, qt.Equals(e.Kind(), autogen.KindVar))
	qt.Assert(t, qt.Equals(e.CountKinds()[autogen.KindAdd], 0))

	gen := autogen.NewGenerator(g)
	gen.Output("y", e)
	qt.Assert(t, qt.Equals(gen.Stats().Kinds[autogen.KindAdd], 0))
}

func TestExpr_String(t *testing.T) {
	g := autogen.NewGraph()
	x, y := g.Var("x"), g.Var("y")

	tests := []struct {
		e    autogen.Expr
		want string
	}{
		{x.Mul(x).AddF(2), "x*x + 2"},
		{x.Sub(y.Sub(x)), "x - (y - x)"},
		{x.Add(y).Mul(y), "(x + y)*y"},
		{x.Neg().Mul(y.Add(x).Neg()), "-x*-(y + x)"},
		{x.PowF(2).Div(y.Sqrt()), "pow(x, 2)/sqrt(y)"},
		{x.MulF(-2), "x*(-2)"},
		{x.Log(), "log(x)"},
	}
	for _, tt := range tests {
		qt.Check(t, qt.Equals(tt.e.String(), tt.want))
	}
}

func TestExpr_LaTeX(t *testing.T) {
	g := autogen.NewGraph()
	x, y := g.Var("x"), g.Var("y")
	qt.Check(t, qt.Equals(x.Div(y).LaTeX(), `\frac{x}{y}`))
	qt.Check(t, qt.Equals(x.PowF(2).LaTeX(), `{x}^{2}`))
	qt.Check(t, qt.Equals(x.Add(y).Sqrt().LaTeX(), `\sqrt{x + y}`))
	qt.Check(t, qt.Equals(x.Add(y).Mul(y).LaTeX(), `\left(x + y\right) \cdot y`))
}

func TestExpr_Inputs(t *testing.T) {
	g := autogen.NewGraph()
	x, y, z := g.Var("x"), g.Var("y"), g.Var("z")
	e := z.Mul(x).Add(x.Sqrt()).Sub(g.Var("x"))

	if diff := cmp.Diff([]string{"x", "z"}, e.Inputs()); diff != "" {
		t.Errorf("Inputs mismatch (-want +got):\n%s", diff)
	}
	qt.Assert(t, qt.IsTrue(e.Depends("z")))
	qt.Assert(t, qt.IsFalse(e.Depends(y.Name())))
}

func TestExpr_CountKinds(t *testing.T) {
	g := autogen.NewGraph()
	x, y := g.Var("x"), g.Var("y")
	p := x.Mul(y)
	e := p.Add(x.Mul(y)).Add(g.Const(3))

	want := map[autogen.Kind]int{
		autogen.KindVar:   2,
		autogen.KindMul:   1,
		autogen.KindAdd:   2,
		autogen.KindConst: 1,
	}
	if diff := cmp.Diff(want, e.CountKinds()); diff != "" {
		t.Errorf("CountKinds mismatch (-want +got):\n%s", diff)
	}
}

func TestExpr_Substitute(t *testing.T) {
	g := autogen.NewGraph()
	x, y := g.Var("x"), g.Var("y")
	e := x.Mul(y).Add(x)

	partial := e.Substitute(map[string]autogen.Expr{"y": g.Const(1)})
	qt.Assert(t, qt.Equals(partial.String(), "x + x"))

	full := e.SubstituteValues(map[string]float64{"x": 2, "y": 3})
	qt.Assert(t, qt.Equals(constant(t, full), 8.0))

	renamed := e.Substitute(map[string]autogen.Expr{"x": g.Var("u")})
	qt.Assert(t, qt.DeepEquals(renamed.Inputs(), []string{"u", "y"}))
}
