package autogen

import (
	"sort"
	"strconv"
	"strings"
)

// ============================================================
// Printing
// ============================================================

const (
	precSum = iota + 1
	precProduct
	precUnary
	precAtom
)

func prec(k Kind) int {
	switch k {
	case KindAdd, KindSub:
		return precSum
	case KindMul, KindDiv:
		return precProduct
	case KindNeg:
		return precUnary
	}
	return precAtom
}

// String renders e as infix text. Shared subgraphs are printed in full at
// every use.
func (e Expr) String() string {
	if e.g == nil {
		return "<nil>"
	}
	var b strings.Builder
	e.g.write(&b, e.id, false)
	return b.String()
}

// LaTeX renders e for display.
func (e Expr) LaTeX() string {
	if e.g == nil {
		return ""
	}
	var b strings.Builder
	e.g.write(&b, e.id, true)
	return b.String()
}

func (g *Graph) wrap(b *strings.Builder, id NodeID, min int, tex bool) {
	if prec(g.Kind(id)) < min || (g.Kind(id) == KindConst && g.Value(id) < 0 && min > precSum) {
		if tex {
			b.WriteString(`\left(`)
		} else {
			b.WriteByte('(')
		}
		g.write(b, id, tex)
		if tex {
			b.WriteString(`\right)`)
		} else {
			b.WriteByte(')')
		}
		return
	}
	g.write(b, id, tex)
}

func (g *Graph) write(b *strings.Builder, id NodeID, tex bool) {
	n := g.at(id)
	switch n.kind {
	case KindConst:
		b.WriteString(strconv.FormatFloat(n.value, 'g', -1, 64))
	case KindVar:
		b.WriteString(n.name)
	case KindNeg:
		b.WriteByte('-')
		g.wrap(b, n.a, precUnary, tex)
	case KindAdd, KindSub:
		g.wrap(b, n.a, precSum, tex)
		if n.kind == KindAdd {
			b.WriteString(" + ")
		} else {
			b.WriteString(" - ")
		}
		g.wrap(b, n.b, precSum+1, tex)
	case KindMul:
		g.wrap(b, n.a, precProduct, tex)
		if tex {
			b.WriteString(` \cdot `)
		} else {
			b.WriteString("*")
		}
		g.wrap(b, n.b, precProduct+1, tex)
	case KindDiv:
		if tex {
			b.WriteString(`\frac{`)
			g.write(b, n.a, tex)
			b.WriteString("}{")
			g.write(b, n.b, tex)
			b.WriteString("}")
			return
		}
		g.wrap(b, n.a, precProduct, tex)
		b.WriteString("/")
		g.wrap(b, n.b, precProduct+1, tex)
	case KindPow:
		if tex {
			b.WriteString("{")
			g.wrap(b, n.a, precAtom, tex)
			b.WriteString("}^{")
			g.write(b, n.b, tex)
			b.WriteString("}")
			return
		}
		b.WriteString("pow(")
		g.write(b, n.a, tex)
		b.WriteString(", ")
		g.write(b, n.b, tex)
		b.WriteString(")")
	case KindSqrt:
		if tex {
			b.WriteString(`\sqrt{`)
			g.write(b, n.a, tex)
			b.WriteString("}")
			return
		}
		b.WriteString("sqrt(")
		g.write(b, n.a, tex)
		b.WriteString(")")
	case KindLog:
		if tex {
			b.WriteString(`\ln\left(`)
			g.write(b, n.a, tex)
			b.WriteString(`\right)`)
			return
		}
		b.WriteString("log(")
		g.write(b, n.a, tex)
		b.WriteString(")")
	case KindResult:
		b.WriteString(n.name)
		b.WriteString(" = ")
		g.write(b, n.a, tex)
	}
}

// ============================================================
// Queries
// ============================================================

// walk visits every node reachable from id once, by node identity.
func (g *Graph) walk(id NodeID, fn func(NodeID)) {
	seen := make(map[NodeID]bool)
	stack := []NodeID{id}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[top] {
			continue
		}
		seen[top] = true
		fn(top)
		stack = append(stack, g.Children(top)...)
	}
}

// Inputs returns the sorted, distinct names of the Vars reachable from e.
func (e Expr) Inputs() []string {
	set := make(map[string]bool)
	e.g.walk(e.id, func(id NodeID) {
		if e.g.Kind(id) == KindVar {
			set[e.g.Name(id)] = true
		}
	})
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// CountKinds counts the structurally distinct nodes of each kind reachable
// from e, de-duplicated by hash the way a Generator would.
func (e Expr) CountKinds() map[Kind]int {
	counts := make(map[Kind]int)
	seen := make(map[uint64]bool)
	e.g.walk(e.id, func(id NodeID) {
		h := e.g.Hash(id)
		if seen[h] {
			return
		}
		seen[h] = true
		counts[e.g.Kind(id)]++
	})
	return counts
}

// Depends reports whether e reaches the named input.
func (e Expr) Depends(name string) bool {
	for _, n := range e.Inputs() {
		if n == name {
			return true
		}
	}
	return false
}
