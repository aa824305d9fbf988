package autogen_test

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/njchilds90/goautogen"
)

func fnvBits(v float64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	h := fnv.New64a()
	h.Write(buf[:])
	return h.Sum64()
}

func fnvName(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

func TestHash_Leaves(t *testing.T) {
	g := autogen.NewGraph()
	qt.Assert(t, qt.Equals(g.Const(2.5).Hash(), fnvBits(2.5)))
	qt.Assert(t, qt.Equals(g.Var("x").Hash(), fnvName("x")))
}

func TestHash_StableAcrossGraphs(t *testing.T) {
	build := func() uint64 {
		g := autogen.NewGraph()
		x, y := g.Var("x"), g.Var("y")
		return x.Mul(y).Add(x.Sqrt()).Div(y.Sub(x)).Hash()
	}
	qt.Assert(t, qt.Equals(build(), build()))
}

func TestHash_SameStructureSameHash(t *testing.T) {
	g := autogen.NewGraph()
	a := g.Var("x").Mul(g.Var("y"))
	b := g.Var("x").Mul(g.Var("y"))
	qt.Assert(t, qt.Not(qt.Equals(a.ID(), b.ID())))
	qt.Assert(t, qt.Equals(a.Hash(), b.Hash()))
	qt.Assert(t, qt.IsTrue(a.Same(b)))
}

func TestHash_Commutativity(t *testing.T) {
	g := autogen.NewGraph()
	x, y := g.Var("x"), g.Var("y")
	qt.Check(t, qt.Equals(x.Add(y).Hash(), y.Add(x).Hash()))
	qt.Check(t, qt.Equals(x.Mul(y).Hash(), y.Mul(x).Hash()))
	qt.Check(t, qt.Not(qt.Equals(x.Sub(y).Hash(), y.Sub(x).Hash())))
	qt.Check(t, qt.Not(qt.Equals(x.Div(y).Hash(), y.Div(x).Hash())))
	qt.Check(t, qt.Not(qt.Equals(x.Pow(y).Hash(), x.Div(y).Hash())))
	qt.Check(t, qt.Not(qt.Equals(x.Add(y).Hash(), x.Mul(y).Hash())))
}

func TestHash_Formulas(t *testing.T) {
	rol := func(x uint64, d uint) uint64 { return x<<d | x>>(64-d) }
	g := autogen.NewGraph()
	x, y := g.Var("x"), g.Var("y")
	hx, hy := x.Hash(), y.Hash()

	qt.Check(t, qt.Equals(x.Neg().Hash(), rol(hx, 3)+1))
	qt.Check(t, qt.Equals(x.Add(y).Hash(), rol(hx, 3)+rol(hy, 3)+2))
	qt.Check(t, qt.Equals(x.Sub(y).Hash(), rol(hx, 3)+rol(hy, 5)+3))
	qt.Check(t, qt.Equals(x.Mul(y).Hash(), rol(hx, 3)+rol(hy, 3)+4))
	qt.Check(t, qt.Equals(x.Div(y).Hash(), rol(hx, 3)+rol(hy, 5)+5))
	qt.Check(t, qt.Equals(x.Pow(y).Hash(), rol(hx, 3)+rol(hy, 5)+6))
	qt.Check(t, qt.Equals(x.Sqrt().Hash(), rol(hx, 13)+7))
	qt.Check(t, qt.Equals(g.Result("out", "", x).Hash(), fnvName("out")+rol(hx, 3)))
}

func TestKind_StringRoundTrip(t *testing.T) {
	for k := autogen.KindConst; k <= autogen.KindResult; k++ {
		text, err := k.MarshalText()
		qt.Assert(t, qt.IsNil(err))
		var back autogen.Kind
		qt.Assert(t, qt.IsNil(back.UnmarshalText(text)))
		qt.Assert(t, qt.Equals(back, k))
	}
	var k autogen.Kind
	qt.Assert(t, qt.ErrorMatches(k.UnmarshalText([]byte("exp")), `autogen: unknown node kind "exp"`))
}

func TestKind_RoleAndArity(t *testing.T) {
	qt.Check(t, qt.Equals(autogen.KindVar.Role(), autogen.RoleInput))
	qt.Check(t, qt.Equals(autogen.KindResult.Role(), autogen.RoleOutput))
	qt.Check(t, qt.Equals(autogen.KindMul.Role(), autogen.RoleInterior))
	qt.Check(t, qt.Equals(autogen.KindConst.Arity(), 0))
	qt.Check(t, qt.Equals(autogen.KindSqrt.Arity(), 1))
	qt.Check(t, qt.Equals(autogen.KindPow.Arity(), 2))
}

func TestGraph_Children(t *testing.T) {
	g := autogen.NewGraph()
	x, y := g.Var("x"), g.Var("y")
	sum := x.Add(y)

	qt.Assert(t, qt.Equals(sum.Child(0), x))
	qt.Assert(t, qt.Equals(sum.Child(1), y))
	qt.Assert(t, qt.DeepEquals(g.Children(sum.ID()), []autogen.NodeID{x.ID(), y.ID()}))
	qt.Assert(t, qt.Equals(g.NumChildren(x.ID()), 0))
}

func TestGraph_ChildOfLeafPanics(t *testing.T) {
	g := autogen.NewGraph()
	x := g.Var("x")
	qt.Assert(t, qt.PanicMatches(func() { x.Child(0) }, `autogen: child 0 of var node`))
	qt.Assert(t, qt.PanicMatches(func() { x.Sqrt().Child(1) }, `autogen: child 1 of sqrt node`))
}

func TestGraph_Evaluate(t *testing.T) {
	g := autogen.NewGraph()
	x := g.Var("x")
	e := x.Mul(x).AddF(2)

	qt.Assert(t, qt.PanicMatches(func() { e.Evaluate() }, `autogen: add node \d+ is not evaluable`))
	qt.Assert(t, qt.PanicMatches(func() { x.Evaluate() }, `autogen: var node \d+ is not evaluable`))

	_, ok := g.TryEvaluate(e.ID())
	qt.Assert(t, qt.IsFalse(ok))

	v, ok := e.EvaluateWith(map[string]float64{"x": 3})
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(v, 11.0))

	_, ok = e.EvaluateWith(map[string]float64{"y": 3})
	qt.Assert(t, qt.IsFalse(ok))
}

func TestGraph_ResultIsNotEvaluable(t *testing.T) {
	g := autogen.NewGraph()
	r := g.Result("y", "", g.Const(1).AddF(0).Sqrt())
	_, ok := g.TryEvaluate(r.ID())
	qt.Assert(t, qt.IsFalse(ok))
}

func TestGraph_MixedGraphsPanic(t *testing.T) {
	a, b := autogen.NewGraph(), autogen.NewGraph()
	qt.Assert(t, qt.PanicMatches(func() { a.Var("x").Add(b.Var("x")) }, `autogen: operands belong to different graphs`))
	qt.Assert(t, qt.PanicMatches(func() { a.Var("x").Add(autogen.Expr{}) }, `autogen: zero Expr used as operand`))
}
