// Package autogen records arithmetic on symbolic handles into an expression
// DAG and lowers the DAG to flat, dependency-ordered source code.
//
// Design goals:
//   - Every operation is recorded once, in an arena, and addressed by NodeID
//   - Structural hashes are computed eagerly when a node is built
//   - Constant subtrees fold and local identities simplify as the graph grows
//   - Derivatives are recorded through the same builder with Dual numbers
//   - Emitted code is common-subexpression-eliminated and topologically sorted
//
// A Graph and everything built on it are single-writer values: they are not
// safe for concurrent mutation.
package autogen

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// ============================================================
// Kinds
// ============================================================

// Kind is the closed set of node variants.
type Kind uint8

const (
	KindConst Kind = iota
	KindVar
	KindNeg
	KindAdd
	KindSub
	KindMul
	KindDiv
	KindPow
	KindSqrt
	KindLog
	KindResult
)

var kindNames = [...]string{
	KindConst:  "const",
	KindVar:    "var",
	KindNeg:    "neg",
	KindAdd:    "add",
	KindSub:    "sub",
	KindMul:    "mul",
	KindDiv:    "div",
	KindPow:    "pow",
	KindSqrt:   "sqrt",
	KindLog:    "log",
	KindResult: "result",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for i, n := range kindNames {
		if n == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return errors.Errorf("autogen: unknown node kind %q", b)
}

// Arity is the number of children a node of this kind has.
func (k Kind) Arity() int {
	switch k {
	case KindConst, KindVar:
		return 0
	case KindNeg, KindSqrt, KindLog, KindResult:
		return 1
	case KindAdd, KindSub, KindMul, KindDiv, KindPow:
		return 2
	}
	panic(errors.Errorf("autogen: arity of unknown kind %d", k))
}

// Role classifies a node for parameter-list construction and scheduling.
type Role uint8

const (
	RoleInterior Role = iota
	RoleInput
	RoleOutput
)

func (k Kind) Role() Role {
	switch k {
	case KindVar:
		return RoleInput
	case KindResult:
		return RoleOutput
	}
	return RoleInterior
}

// ============================================================
// Arena
// ============================================================

// NodeID addresses a node inside its Graph.
type NodeID int32

type node struct {
	kind  Kind
	value float64 // KindConst
	name  string  // KindVar, KindResult
	typ   string  // declared type of a Var or Result; "" means the dialect scalar
	a, b  NodeID
	hash  uint64
}

// Graph is the arena every node of a recording lives in. Nodes are
// immutable once appended and are never removed.
type Graph struct {
	nodes []node
}

func NewGraph() *Graph { return &Graph{} }

// Len reports how many nodes have been recorded.
func (g *Graph) Len() int { return len(g.nodes) }

func (g *Graph) at(id NodeID) *node {
	if id < 0 || int(id) >= len(g.nodes) {
		panic(errors.Errorf("autogen: node id %d out of range [0,%d)", id, len(g.nodes)))
	}
	return &g.nodes[id]
}

func (g *Graph) push(n node) NodeID {
	n.hash = g.hashOf(&n)
	g.nodes = append(g.nodes, n)
	return NodeID(len(g.nodes) - 1)
}

func (g *Graph) Kind(id NodeID) Kind       { return g.at(id).kind }
func (g *Graph) Hash(id NodeID) uint64     { return g.at(id).hash }
func (g *Graph) Name(id NodeID) string     { return g.at(id).name }
func (g *Graph) DeclType(id NodeID) string { return g.at(id).typ }
func (g *Graph) NumChildren(id NodeID) int { return g.at(id).kind.Arity() }

// Value returns the payload of a Const node.
func (g *Graph) Value(id NodeID) float64 {
	n := g.at(id)
	if n.kind != KindConst {
		panic(errors.Errorf("autogen: Value on %s node", n.kind))
	}
	return n.value
}

// Child returns the i-th operand of id. Asking a leaf for a child is a
// usage fault.
func (g *Graph) Child(id NodeID, i int) NodeID {
	n := g.at(id)
	switch {
	case i == 0 && n.kind.Arity() >= 1:
		return n.a
	case i == 1 && n.kind.Arity() == 2:
		return n.b
	}
	panic(errors.Errorf("autogen: child %d of %s node", i, n.kind))
}

// Children returns the operands of id in order.
func (g *Graph) Children(id NodeID) []NodeID {
	n := g.at(id)
	switch n.kind.Arity() {
	case 1:
		return []NodeID{n.a}
	case 2:
		return []NodeID{n.a, n.b}
	}
	return nil
}

// ============================================================
// Hashing
// ============================================================

func rol(x uint64, d uint) uint64 { return x<<d | x>>(64-d) }

func fnvString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

func fnvFloat(v float64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	h := fnv.New64a()
	h.Write(buf[:])
	return h.Sum64()
}

// hashOf combines the already stored child hashes; it is called exactly
// once per node, before the node is appended.
func (g *Graph) hashOf(n *node) uint64 {
	var ha, hb uint64
	switch n.kind.Arity() {
	case 2:
		hb = g.at(n.b).hash
		fallthrough
	case 1:
		ha = g.at(n.a).hash
	}
	switch n.kind {
	case KindConst:
		return fnvFloat(n.value)
	case KindVar:
		return fnvString(n.name)
	case KindNeg:
		return rol(ha, 3) + 1
	case KindAdd:
		return rol(ha, 3) + rol(hb, 3) + 2
	case KindSub:
		return rol(ha, 3) + rol(hb, 5) + 3
	case KindMul:
		return rol(ha, 3) + rol(hb, 3) + 4
	case KindDiv:
		return rol(ha, 3) + rol(hb, 5) + 5
	case KindPow:
		return rol(ha, 3) + rol(hb, 5) + 6
	case KindSqrt:
		return rol(ha, 13) + 7
	case KindLog:
		return rol(ha, 11) + 8
	case KindResult:
		return fnvString(n.name) + rol(ha, 3)
	}
	panic(errors.Errorf("autogen: hash of unknown kind %d", n.kind))
}

// ============================================================
// Evaluation
// ============================================================

func apply(k Kind, a, b float64) float64 {
	switch k {
	case KindNeg:
		return -a
	case KindAdd:
		return a + b
	case KindSub:
		return a - b
	case KindMul:
		return a * b
	case KindDiv:
		return a / b
	case KindPow:
		return math.Pow(a, b)
	case KindSqrt:
		return math.Sqrt(a)
	case KindLog:
		return math.Log(a)
	}
	panic(errors.Errorf("autogen: %s is not an arithmetic kind", k))
}

// Evaluate computes the value of a constant subtree. It panics when the
// subtree reaches a Var or a Result.
func (g *Graph) Evaluate(id NodeID) float64 {
	v, ok := g.TryEvaluate(id)
	if !ok {
		panic(errors.Errorf("autogen: %s node %d is not evaluable", g.Kind(id), id))
	}
	return v
}

// TryEvaluate is Evaluate without the panic.
func (g *Graph) TryEvaluate(id NodeID) (float64, bool) {
	return g.evalWith(id, nil)
}

// evalWith evaluates id with Vars bound from env. Children always have
// smaller ids than their parents, so one ascending pass over the reachable
// set visits every operand before its users.
func (g *Graph) evalWith(id NodeID, env map[string]float64) (float64, bool) {
	if n := g.at(id); n.kind == KindResult && env == nil {
		return 0, false
	}
	reach := make([]bool, id+1)
	reach[id] = true
	for i := id; i >= 0; i-- {
		if !reach[i] {
			continue
		}
		for _, c := range g.Children(i) {
			reach[c] = true
		}
	}
	vals := make([]float64, id+1)
	for i := NodeID(0); i <= id; i++ {
		if !reach[i] {
			continue
		}
		n := &g.nodes[i]
		switch n.kind {
		case KindConst:
			vals[i] = n.value
		case KindVar:
			v, ok := env[n.name]
			if !ok {
				return 0, false
			}
			vals[i] = v
		case KindResult:
			if env == nil {
				return 0, false
			}
			vals[i] = vals[n.a]
		default:
			vals[i] = apply(n.kind, vals[n.a], vals[n.b])
		}
	}
	return vals[id], true
}
