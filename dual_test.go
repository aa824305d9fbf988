package autogen_test

import (
	"math"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/njchilds90/goautogen"
)

// xyPlusX is f(x, y) = x*y + x, written once for every Field.
func xyPlusX[T autogen.Field[T]](v []T) T { return v[0].Mul(v[1]).Add(v[0]) }

// xxy is f(x, y) = x*x*y.
func xxy[T autogen.Field[T]](v []T) T { return v[0].Mul(v[0]).Mul(v[1]) }

func floats(xs ...float64) []autogen.Float {
	out := make([]autogen.Float, len(xs))
	for i, x := range xs {
		out[i] = autogen.Float(x)
	}
	return out
}

func TestDual_GradientNumeric(t *testing.T) {
	val, grad := autogen.Gradient(floats(2, 3), xyPlusX[autogen.Dual[autogen.Float]])
	qt.Assert(t, qt.Equals(val, autogen.Float(8)))
	qt.Assert(t, qt.DeepEquals(grad, floats(4, 2)))
}

func TestDual_GradientSymbolic(t *testing.T) {
	g := autogen.NewGraph()
	vars := g.Vars("x", "y")
	val, grad := autogen.Gradient(vars, xyPlusX[autogen.Dual[autogen.Expr]])

	qt.Assert(t, qt.Equals(val.String(), "x*y + x"))
	qt.Assert(t, qt.Equals(grad[0].String(), "y + 1"))
	qt.Assert(t, qt.Equals(grad[1], vars[0]))

	env := map[string]float64{"x": 2, "y": 3}
	for i, want := range []float64{4, 2} {
		got, ok := grad[i].EvaluateWith(env)
		qt.Assert(t, qt.IsTrue(ok))
		qt.Assert(t, qt.Equals(got, want))
	}
}

func TestDual_ManualSeedProtocol(t *testing.T) {
	g := autogen.NewGraph()
	xs := autogen.Variables(g.Vars("x", "y"))

	reset := autogen.Seed(xs, 0)
	dx := xyPlusX(xs).Der
	reset()
	reset = autogen.Seed(xs, 1)
	dy := xyPlusX(xs).Der
	reset()

	qt.Assert(t, qt.Equals(dx.String(), "y + 1"))
	qt.Assert(t, qt.Equals(dy.String(), "x"))
	for _, x := range xs {
		qt.Assert(t, qt.Equals(constant(t, x.Der), 0.0))
	}
}

// A forgotten reset leaves the previous direction in place: the second
// sweep reads the directional derivative along x+y, not d/dy.
func TestDual_MissingResetCorrupts(t *testing.T) {
	xs := autogen.Variables(floats(2, 3))
	autogen.Seed(xs, 0)
	dx := xyPlusX(xs).Der
	autogen.Seed(xs, 1)
	stale := xyPlusX(xs).Der

	qt.Assert(t, qt.Equals(dx, autogen.Float(4)))
	qt.Assert(t, qt.Equals(stale, autogen.Float(6)))
}

func TestDual_Rules(t *testing.T) {
	d := func(f func(autogen.Dual[autogen.Float]) autogen.Dual[autogen.Float], x float64) float64 {
		v := autogen.Variable(autogen.Float(x))
		v.Der = 1
		return float64(f(v).Der)
	}
	type D = autogen.Dual[autogen.Float]
	c := func(v float64) D { return D{Val: autogen.Float(v)} }

	tests := []struct {
		name string
		f    func(D) D
		x    float64
		want float64
	}{
		{"neg", func(x D) D { return x.Neg() }, 2, -1},
		{"product", func(x D) D { return x.Mul(x) }, 3, 6},
		{"quotient", func(x D) D { return c(1).Div(x) }, 2, -0.25},
		{"quotient num", func(x D) D { return x.Div(c(4)) }, 2, 0.25},
		{"sqrt", func(x D) D { return x.Sqrt() }, 4, 0.25},
		{"log", func(x D) D { return x.Log() }, 2, 0.5},
		{"power", func(x D) D { return x.Pow(c(3)) }, 2, 12},
		{"exponential", func(x D) D { return c(2).Pow(x) }, 1, 2 * math.Ln2},
		{"self power", func(x D) D { return x.Pow(x) }, 2, 4 * (math.Log(2) + 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d(tt.f, tt.x)
			qt.Assert(t, qt.CmpEquals(got, tt.want, cmpopts.EquateApprox(1e-12, 0)))
		})
	}
}

func TestDual_ConstantExponentRecordsNoLog(t *testing.T) {
	g := autogen.NewGraph()
	x := autogen.Variable(g.Var("x"))
	x.Der = x.Val.Lift(1)
	p := x.Pow(x.Lift(3))

	qt.Assert(t, qt.Equals(p.Der.CountKinds()[autogen.KindLog], 0))
	v, ok := p.Der.EvaluateWith(map[string]float64{"x": 2})
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(v, 12.0))
}

func TestDual_Constant(t *testing.T) {
	x := autogen.Variable(autogen.Float(3))
	v, ok := x.Constant()
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(v, 3.0))

	x.Der = 1
	_, ok = x.Constant()
	qt.Assert(t, qt.IsFalse(ok))
}

func TestHessian_Numeric(t *testing.T) {
	val, grad, hess := autogen.Hessian(floats(1, 2), xxy[autogen.Dual[autogen.Dual[autogen.Float]]])

	qt.Assert(t, qt.Equals(val, autogen.Float(2)))
	qt.Assert(t, qt.DeepEquals(grad, floats(4, 1)))
	qt.Assert(t, qt.DeepEquals(hess, [][]autogen.Float{floats(4, 2), floats(2, 0)}))
}

func TestHessian_Symbolic(t *testing.T) {
	g := autogen.NewGraph()
	_, grad, hess := autogen.Hessian(g.Vars("x", "y"), xxy[autogen.Dual[autogen.Dual[autogen.Expr]]])

	env := map[string]float64{"x": 1.5, "y": -2}
	eval := func(e autogen.Expr) float64 {
		v, ok := e.EvaluateWith(env)
		qt.Assert(t, qt.IsTrue(ok), qt.Commentf("%s", e))
		return v
	}
	gotGrad := []float64{eval(grad[0]), eval(grad[1])}
	gotHess := [][]float64{
		{eval(hess[0][0]), eval(hess[0][1])},
		{eval(hess[1][0]), eval(hess[1][1])},
	}
	if diff := cmp.Diff([]float64{2 * 1.5 * -2, 1.5 * 1.5}, gotGrad); diff != "" {
		t.Errorf("gradient mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]float64{{2 * -2, 2 * 1.5}, {2 * 1.5, 0}}, gotHess); diff != "" {
		t.Errorf("hessian mismatch (-want +got):\n%s", diff)
	}
	qt.Assert(t, qt.Equals(hess[1][1].Kind(), autogen.KindConst))
}

func TestMixedJacobian(t *testing.T) {
	// f = x0*x1*x2: d2f/dx0 dx2 = x1, d2f/dx1 dx2 = x0.
	f := func(v []autogen.Dual[autogen.Dual[autogen.Float]]) autogen.Dual[autogen.Dual[autogen.Float]] {
		return v[0].Mul(v[1]).Mul(v[2])
	}
	jac := autogen.MixedJacobian(floats(2, 3, 5), []int{0, 1}, []int{2}, f)
	qt.Assert(t, qt.DeepEquals(jac, [][]autogen.Float{floats(3), floats(2)}))

	qt.Assert(t, qt.PanicMatches(func() {
		autogen.MixedJacobian(floats(1), []int{0}, []int{1}, f)
	}, `autogen: jacobian index 1 out of range \[0,1\)`))
}

func TestJacobian(t *testing.T) {
	// F(x, y) = (x*y, x + y*y)
	f := func(v []autogen.Dual[autogen.Float]) []autogen.Dual[autogen.Float] {
		return []autogen.Dual[autogen.Float]{v[0].Mul(v[1]), v[0].Add(v[1].Mul(v[1]))}
	}
	jac := autogen.Jacobian(floats(2, 3), f)
	qt.Assert(t, qt.DeepEquals(jac, [][]autogen.Float{floats(3, 2), floats(1, 6)}))
	qt.Assert(t, qt.Equals(autogen.Divergence(floats(2, 3), f), autogen.Float(9)))
}

func TestLaplacian(t *testing.T) {
	// x*x*y: trace of the Hessian is 2y.
	got := autogen.Laplacian(floats(1, 2), xxy[autogen.Dual[autogen.Dual[autogen.Float]]])
	qt.Assert(t, qt.Equals(got, autogen.Float(4)))
}
