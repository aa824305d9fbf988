package autogen

import (
	"math"

	"github.com/pkg/errors"
)

// ============================================================
// Expr: a handle onto a recorded node
// ============================================================

// Expr is a value handle onto a node of a Graph. Arithmetic on an Expr
// records new nodes in the same Graph. The zero Expr is not usable.
type Expr struct {
	g  *Graph
	id NodeID
}

func (g *Graph) Const(v float64) Expr { return Expr{g, g.push(node{kind: KindConst, value: v})} }
func (g *Graph) Var(name string) Expr  { return g.TypedVar(name, "") }

// TypedVar is Var with a declared parameter type. An empty type falls
// back to the scalar type of the dialect used at emission.
func (g *Graph) TypedVar(name, typ string) Expr {
	if name == "" {
		panic(errors.New("autogen: variable name is empty"))
	}
	return Expr{g, g.push(node{kind: KindVar, name: name, typ: typ})}
}

// Vars is shorthand for one Var per name.
func (g *Graph) Vars(names ...string) []Expr {
	out := make([]Expr, len(names))
	for i, n := range names {
		out[i] = g.Var(n)
	}
	return out
}

// Result tags e as the named output of a generated function. Result nodes
// are not arithmetic and are only meaningful to a Generator.
func (g *Graph) Result(name, typ string, e Expr) Expr {
	if name == "" {
		panic(errors.New("autogen: result name is empty"))
	}
	g.mustOwn(e)
	return Expr{g, g.push(node{kind: KindResult, name: name, typ: typ, a: e.id})}
}

// Ref wraps an existing node id.
func (g *Graph) Ref(id NodeID) Expr {
	g.at(id)
	return Expr{g, id}
}

func (g *Graph) mustOwn(e Expr) {
	if e.g != g {
		if e.g == nil {
			panic(errors.New("autogen: zero Expr used as operand"))
		}
		panic(errors.New("autogen: operands belong to different graphs"))
	}
}

func (e Expr) Graph() *Graph { return e.g }
func (e Expr) ID() NodeID    { return e.id }
func (e Expr) Kind() Kind    { return e.g.Kind(e.id) }
func (e Expr) Hash() uint64  { return e.g.Hash(e.id) }
func (e Expr) Name() string  { return e.g.Name(e.id) }
func (e Expr) IsValid() bool { return e.g != nil }

// Child returns the i-th operand. Leaves panic.
func (e Expr) Child(i int) Expr { return Expr{e.g, e.g.Child(e.id, i)} }

// Same reports structural identity, decided by hash as the generator does.
func (e Expr) Same(o Expr) bool { return e.g == o.g && e.Hash() == o.Hash() }

// Constant returns the value of e when it is a Const node.
func (e Expr) Constant() (float64, bool) {
	n := e.g.at(e.id)
	if n.kind != KindConst {
		return 0, false
	}
	return n.value, true
}

// Evaluate computes e when it is a constant subtree and panics otherwise.
func (e Expr) Evaluate() float64 { return e.g.Evaluate(e.id) }

// EvaluateWith computes e with inputs bound by name. The second result is
// false when an input reached by e is missing from env.
func (e Expr) EvaluateWith(env map[string]float64) (float64, bool) {
	return e.g.evalWith(e.id, env)
}

func (e Expr) is(v float64) bool {
	c, ok := e.Constant()
	return ok && c == v
}

// ============================================================
// Builder: fold, simplify, or record
// ============================================================

func (e Expr) Lift(v float64) Expr { return e.g.Const(v) }

func (e Expr) Add(o Expr) Expr { return e.binary(KindAdd, o) }
func (e Expr) Sub(o Expr) Expr { return e.binary(KindSub, o) }
func (e Expr) Mul(o Expr) Expr { return e.binary(KindMul, o) }
func (e Expr) Div(o Expr) Expr { return e.binary(KindDiv, o) }
func (e Expr) Pow(o Expr) Expr { return e.binary(KindPow, o) }
func (e Expr) Neg() Expr       { return e.unary(KindNeg) }
func (e Expr) Sqrt() Expr      { return e.unary(KindSqrt) }
func (e Expr) Log() Expr       { return e.unary(KindLog) }

// AddF and friends take a plain number as the right operand.
func (e Expr) AddF(v float64) Expr { return e.Add(e.Lift(v)) }
func (e Expr) SubF(v float64) Expr { return e.Sub(e.Lift(v)) }
func (e Expr) MulF(v float64) Expr { return e.Mul(e.Lift(v)) }
func (e Expr) DivF(v float64) Expr { return e.Div(e.Lift(v)) }
func (e Expr) PowF(v float64) Expr { return e.Pow(e.Lift(v)) }

func (e Expr) unary(k Kind) Expr {
	if e.g == nil {
		panic(errors.New("autogen: zero Expr used as operand"))
	}
	if v, ok := e.Constant(); ok {
		return e.g.Const(apply(k, v, 0))
	}
	return Expr{e.g, e.g.push(node{kind: k, a: e.id})}
}

func (e Expr) binary(k Kind, o Expr) Expr {
	if e.g == nil {
		panic(errors.New("autogen: zero Expr used as operand"))
	}
	e.g.mustOwn(o)
	g := e.g
	va, ca := e.Constant()
	vb, cb := o.Constant()
	// Children are folded as they are built, so a candidate is constant
	// exactly when both operands are Const nodes.
	if ca && cb {
		return g.Const(apply(k, va, vb))
	}
	switch k {
	case KindAdd:
		switch {
		case e.is(0):
			return o
		case o.is(0):
			return e
		}
	case KindSub:
		switch {
		case e.Hash() == o.Hash():
			return g.Const(0)
		case e.is(0):
			return o.Neg()
		case o.is(0):
			return e
		}
	case KindMul:
		switch {
		case e.is(0):
			return e
		case o.is(0):
			return o
		case e.is(1):
			return o
		case o.is(1):
			return e
		case e.is(-1):
			return o.Neg()
		case o.is(-1):
			return e.Neg()
		}
	case KindDiv:
		switch {
		case e.is(0):
			return e
		case o.is(1):
			return e
		}
	case KindPow:
		switch {
		case o.is(1):
			return e
		case o.is(0):
			return g.Const(1)
		}
	}
	return Expr{g, g.push(node{kind: k, a: e.id, b: o.id})}
}

// ============================================================
// Rewriting
// ============================================================

// Substitute rebuilds e with the named inputs replaced. Rebuilding goes
// through the builder, so folding and simplification apply again: binding
// every input yields a single Const.
func (e Expr) Substitute(bind map[string]Expr) Expr {
	g := e.g
	for _, b := range bind {
		g.mustOwn(b)
	}
	memo := make(map[NodeID]Expr)
	var walk func(id NodeID) Expr
	walk = func(id NodeID) Expr {
		if r, ok := memo[id]; ok {
			return r
		}
		n := g.at(id)
		var r Expr
		switch n.kind {
		case KindConst:
			r = Expr{g, id}
		case KindVar:
			if b, ok := bind[n.name]; ok {
				r = b
			} else {
				r = Expr{g, id}
			}
		case KindResult:
			r = g.Result(n.name, n.typ, walk(n.a))
		case KindNeg, KindSqrt, KindLog:
			r = walk(n.a).unary(n.kind)
		default:
			r = walk(n.a).binary(n.kind, walk(n.b))
		}
		memo[id] = r
		return r
	}
	return walk(e.id)
}

// SubstituteValues binds inputs to numbers.
func (e Expr) SubstituteValues(env map[string]float64) Expr {
	bind := make(map[string]Expr, len(env))
	for k, v := range env {
		bind[k] = e.g.Const(v)
	}
	return e.Substitute(bind)
}

// IsFinite reports whether a Const payload is a finite number.
func IsFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
