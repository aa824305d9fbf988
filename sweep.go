package autogen

import "github.com/pkg/errors"

// ============================================================
// Seeding
// ============================================================

// Seed sets the tangent of xs[i] to one and returns the function that
// sets it back to zero. Every Seed must be paired with its reset before
// the next seed, or later derivatives pick up a stale direction.
func Seed[T Field[T]](xs []Dual[T], i int) (reset func()) {
	xs[i].Der = xs[i].Val.Lift(1)
	return func() { xs[i].Der = xs[i].Val.Lift(0) }
}

// SeedInner seeds the inner tangent of a nested dual, the j direction of
// a second derivative.
func SeedInner[T Field[T]](xs []Dual[Dual[T]], j int) (reset func()) {
	xs[j].Val.Der = xs[j].Val.Val.Lift(1)
	return func() { xs[j].Val.Der = xs[j].Val.Val.Lift(0) }
}

// Nest wraps xs twice, ready for second-order sweeps.
func Nest[T Field[T]](xs []T) []Dual[Dual[T]] {
	return Variables(Variables(xs))
}

// ============================================================
// Sweeps
// ============================================================

// Gradient evaluates f once per input with that input seeded and returns
// the value and the partial derivatives.
func Gradient[T Field[T]](x []T, f func([]Dual[T]) Dual[T]) (T, []T) {
	xs := Variables(x)
	grad := make([]T, len(x))
	var val T
	if len(x) == 0 {
		return f(xs).Val, grad
	}
	for i := range xs {
		reset := Seed(xs, i)
		out := f(xs)
		val, grad[i] = out.Val, out.Der
		reset()
	}
	return val, grad
}

// Hessian runs the nested sweep: outer seed i, inner seed j. The gradient
// is read from the outer tangent and the Hessian from the tangent of the
// tangent. Only j >= i is recorded; the lower triangle mirrors it.
func Hessian[T Field[T]](x []T, f func([]Dual[Dual[T]]) Dual[Dual[T]]) (T, []T, [][]T) {
	n := len(x)
	xs := Nest(x)
	grad := make([]T, n)
	hess := make([][]T, n)
	for i := range hess {
		hess[i] = make([]T, n)
	}
	var val T
	if n == 0 {
		return f(xs).Val.Val, grad, hess
	}
	for i := 0; i < n; i++ {
		resetOuter := Seed(xs, i)
		for j := i; j < n; j++ {
			resetInner := SeedInner(xs, j)
			out := f(xs)
			val = out.Val.Val
			if j == i {
				grad[i] = out.Der.Val
			}
			hess[i][j] = out.Der.Der
			hess[j][i] = out.Der.Der
			resetInner()
		}
		resetOuter()
	}
	return val, grad, hess
}

// MixedJacobian returns the second derivatives of a scalar f with respect
// to first[i] and second[j], both given as indices into x.
func MixedJacobian[T Field[T]](x []T, first, second []int, f func([]Dual[Dual[T]]) Dual[Dual[T]]) [][]T {
	for _, idx := range append(append([]int(nil), first...), second...) {
		if idx < 0 || idx >= len(x) {
			panic(errors.Errorf("autogen: jacobian index %d out of range [0,%d)", idx, len(x)))
		}
	}
	xs := Nest(x)
	jac := make([][]T, len(first))
	for i, fi := range first {
		jac[i] = make([]T, len(second))
		resetOuter := Seed(xs, fi)
		for j, sj := range second {
			resetInner := SeedInner(xs, sj)
			jac[i][j] = f(xs).Der.Der
			resetInner()
		}
		resetOuter()
	}
	return jac
}

// Jacobian returns the m×n matrix of first derivatives of a vector
// function, one seeded evaluation per input column.
func Jacobian[T Field[T]](x []T, f func([]Dual[T]) []Dual[T]) [][]T {
	xs := Variables(x)
	var jac [][]T
	for j := range xs {
		reset := Seed(xs, j)
		out := f(xs)
		if jac == nil {
			jac = make([][]T, len(out))
			for i := range jac {
				jac[i] = make([]T, len(x))
			}
		}
		if len(out) != len(jac) {
			panic(errors.Errorf("autogen: jacobian function returned %d outputs, then %d", len(jac), len(out)))
		}
		for i := range out {
			jac[i][j] = out[i].Der
		}
		reset()
	}
	return jac
}

// Laplacian returns the trace of the Hessian.
func Laplacian[T Field[T]](x []T, f func([]Dual[Dual[T]]) Dual[Dual[T]]) T {
	xs := Nest(x)
	var sum T
	for i := range xs {
		resetOuter := Seed(xs, i)
		resetInner := SeedInner(xs, i)
		d := f(xs).Der.Der
		if i == 0 {
			sum = d
		} else {
			sum = sum.Add(d)
		}
		resetInner()
		resetOuter()
	}
	return sum
}

// Divergence returns the sum of dF_i/dx_i for a vector field.
func Divergence[T Field[T]](x []T, f func([]Dual[T]) []Dual[T]) T {
	xs := Variables(x)
	var sum T
	for i := range xs {
		reset := Seed(xs, i)
		out := f(xs)
		if len(out) != len(x) {
			panic(errors.Errorf("autogen: divergence requires %d components, got %d", len(x), len(out)))
		}
		if i == 0 {
			sum = out[i].Der
		} else {
			sum = sum.Add(out[i].Der)
		}
		reset()
	}
	return sum
}
