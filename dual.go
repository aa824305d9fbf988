package autogen

import "math"

// ============================================================
// Field: the arithmetic a Dual can be built over
// ============================================================

// Field is the arithmetic shared by Expr, Float and Dual. Because Dual[T]
// is itself a Field, duals nest: Dual[Dual[Expr]] records second
// derivatives.
type Field[T any] interface {
	Add(T) T
	Sub(T) T
	Mul(T) T
	Div(T) T
	Pow(T) T
	Neg() T
	Sqrt() T
	Log() T
	// Lift builds a constant of the same kind, on the same graph.
	Lift(float64) T
	// Constant reports whether the value is a known number.
	Constant() (float64, bool)
}

// Float is a plain number satisfying Field, for purely numeric AD.
type Float float64

func (a Float) Add(b Float) Float         { return a + b }
func (a Float) Sub(b Float) Float         { return a - b }
func (a Float) Mul(b Float) Float         { return a * b }
func (a Float) Div(b Float) Float         { return a / b }
func (a Float) Pow(b Float) Float         { return Float(math.Pow(float64(a), float64(b))) }
func (a Float) Neg() Float                { return -a }
func (a Float) Sqrt() Float               { return Float(math.Sqrt(float64(a))) }
func (a Float) Log() Float                { return Float(math.Log(float64(a))) }
func (a Float) Lift(v float64) Float      { return Float(v) }
func (a Float) Constant() (float64, bool) { return float64(a), true }

// ============================================================
// Dual
// ============================================================

// Dual carries a value and its tangent. Seeding one input's Der to one
// and reading the output's Der yields the partial derivative along that
// input.
type Dual[T Field[T]] struct {
	Val T
	Der T
}

// Variable wraps x with a zero tangent.
func Variable[T Field[T]](x T) Dual[T] { return Dual[T]{Val: x, Der: x.Lift(0)} }

// Variables wraps each element of xs.
func Variables[T Field[T]](xs []T) []Dual[T] {
	out := make([]Dual[T], len(xs))
	for i, x := range xs {
		out[i] = Variable(x)
	}
	return out
}

func isZero[T Field[T]](x T) bool {
	v, ok := x.Constant()
	return ok && v == 0
}

func (d Dual[T]) Lift(v float64) Dual[T] { return Dual[T]{Val: d.Val.Lift(v), Der: d.Val.Lift(0)} }

// Constant reports a known number only when the tangent is known to be zero.
func (d Dual[T]) Constant() (float64, bool) {
	if !isZero(d.Der) {
		return 0, false
	}
	return d.Val.Constant()
}

func (d Dual[T]) Add(o Dual[T]) Dual[T] { return Dual[T]{d.Val.Add(o.Val), d.Der.Add(o.Der)} }
func (d Dual[T]) Sub(o Dual[T]) Dual[T] { return Dual[T]{d.Val.Sub(o.Val), d.Der.Sub(o.Der)} }
func (d Dual[T]) Neg() Dual[T]          { return Dual[T]{d.Val.Neg(), d.Der.Neg()} }

func (d Dual[T]) Mul(o Dual[T]) Dual[T] {
	return Dual[T]{
		Val: d.Val.Mul(o.Val),
		Der: d.Der.Mul(o.Val).Add(d.Val.Mul(o.Der)),
	}
}

// Div uses (da - q*db)/b with q = a/b, which records one product fewer
// than the textbook (da*b - a*db)/b^2.
func (d Dual[T]) Div(o Dual[T]) Dual[T] {
	q := d.Val.Div(o.Val)
	return Dual[T]{
		Val: q,
		Der: d.Der.Sub(q.Mul(o.Der)).Div(o.Val),
	}
}

func (d Dual[T]) Sqrt() Dual[T] {
	s := d.Val.Sqrt()
	return Dual[T]{
		Val: s,
		Der: d.Der.Div(s.Lift(2).Mul(s)),
	}
}

func (d Dual[T]) Log() Dual[T] {
	return Dual[T]{
		Val: d.Val.Log(),
		Der: d.Der.Div(d.Val),
	}
}

// Pow differentiates a^b as b*a^(b-1)*da + a^b*ln(a)*db. A term whose
// tangent is the constant zero is left out, so constant exponents never
// record a logarithm.
func (d Dual[T]) Pow(o Dual[T]) Dual[T] {
	p := d.Val.Pow(o.Val)
	der := d.Val.Lift(0)
	if !isZero(d.Der) {
		one := d.Val.Lift(1)
		der = o.Val.Mul(d.Val.Pow(o.Val.Sub(one))).Mul(d.Der)
	}
	if !isZero(o.Der) {
		der = der.Add(p.Mul(d.Val.Log()).Mul(o.Der))
	}
	return Dual[T]{Val: p, Der: der}
}
