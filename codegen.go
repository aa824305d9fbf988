package autogen

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ============================================================
// Generator
// ============================================================

// Generator owns the hash-consing table of one generation run. Outputs are
// collected into the table, which is then scheduled and emitted as a
// single function. A Generator is not safe for concurrent use.
type Generator struct {
	g       *Graph
	dialect Dialect
	scalar  string
	log     *slog.Logger
	check   bool

	table   map[uint64]NodeID
	order   []NodeID // registration order
	outputs map[string]NodeID

	hits       int
	collisions int
	sched      []NodeID
}

// Option configures a Generator.
type Option func(*Generator)

// WithDialect selects the emitted language. The default is CXX.
func WithDialect(d Dialect) Option { return func(c *Generator) { c.dialect = d } }

// WithScalarType overrides the declared type of temporaries and untyped
// parameters.
func WithScalarType(typ string) Option { return func(c *Generator) { c.scalar = typ } }

// WithLogger reports CSE hits at debug level and hash collisions at warn
// level.
func WithLogger(l *slog.Logger) Option { return func(c *Generator) { c.log = l } }

// WithCollisionCheck compares every CSE hit structurally against the entry
// it resolved to. A mismatch means two different subgraphs share a hash;
// it is counted and logged, and the entry still wins.
func WithCollisionCheck(on bool) Option { return func(c *Generator) { c.check = on } }

func NewGenerator(g *Graph, opts ...Option) *Generator {
	c := &Generator{
		g:       g,
		table:   make(map[uint64]NodeID),
		outputs: make(map[string]NodeID),
	}
	for _, o := range opts {
		o(c)
	}
	if c.scalar == "" {
		c.scalar = c.dialect.Scalar()
	}
	return c
}

func (c *Generator) Graph() *Graph    { return c.g }
func (c *Generator) Dialect() Dialect { return c.dialect }
func (c *Generator) Len() int         { return len(c.order) }

// Registered returns the table entries in registration order.
func (c *Generator) Registered() []NodeID { return append([]NodeID(nil), c.order...) }

// Lookup resolves a hash to its registered node.
func (c *Generator) Lookup(h uint64) (NodeID, bool) {
	id, ok := c.table[h]
	return id, ok
}

func (c *Generator) register(id NodeID) {
	h := c.g.Hash(id)
	if prev, ok := c.table[h]; ok {
		panic(errors.Errorf("autogen: hash %016x registered twice (nodes %d and %d)", h, prev, id))
	}
	c.table[h] = id
	c.order = append(c.order, id)
	c.sched = nil
}

// Collect walks the graph below id breadth-first. A node whose hash is
// already in the table is not descended into: every reference to it
// resolves to the earlier entry.
func (c *Generator) Collect(e Expr) {
	c.g.mustOwn(e)
	work := []NodeID{e.id}
	for len(work) > 0 {
		id := work[0]
		work = work[1:]
		h := c.g.Hash(id)
		if prev, ok := c.table[h]; ok {
			if prev != id {
				c.hits++
				c.debug("cse hit", "node", id, "kind", c.g.Kind(id), "entry", prev)
				if c.check && !c.sameShape(prev, id) {
					c.collisions++
					c.warn("hash collision", "hash", h, "entry", prev, "entry_kind", c.g.Kind(prev), "node", id, "node_kind", c.g.Kind(id))
				}
			}
			continue
		}
		c.register(id)
		work = append(work, c.g.Children(id)...)
	}
}

// sameShape compares two nodes one level deep; children are compared by
// hash, which is what the table itself trusts.
func (c *Generator) sameShape(a, b NodeID) bool {
	na, nb := c.g.at(a), c.g.at(b)
	if na.kind != nb.kind || na.name != nb.name {
		return false
	}
	if na.kind == KindConst && math.Float64bits(na.value) != math.Float64bits(nb.value) {
		return false
	}
	ca, cb := c.g.Children(a), c.g.Children(b)
	for i := range ca {
		if c.g.Hash(ca[i]) != c.g.Hash(cb[i]) {
			return false
		}
	}
	return true
}

func (c *Generator) debug(msg string, args ...any) {
	if c.log != nil {
		c.log.Log(context.Background(), slog.LevelDebug, msg, args...)
	}
}

func (c *Generator) warn(msg string, args ...any) {
	if c.log != nil {
		c.log.Warn(msg, args...)
	}
}

// ============================================================
// Outputs and inputs
// ============================================================

// Output binds e to the named output and collects it.
func (c *Generator) Output(name string, e Expr) Expr { return c.TypedOutput(name, "", e) }

// TypedOutput is Output with a declared parameter type.
func (c *Generator) TypedOutput(name, typ string, e Expr) Expr {
	if !ValidName(name) {
		panic(nameError("output", name))
	}
	if _, dup := c.outputs[name]; dup {
		panic(errors.Errorf("autogen: output %q bound twice", name))
	}
	r := c.g.Result(name, typ, e)
	c.outputs[name] = r.id
	c.Collect(r)
	return r
}

// OutputVector binds es to name[0], name[1], ...
func (c *Generator) OutputVector(name string, es []Expr) {
	for i, e := range es {
		c.Output(name+"["+strconv.Itoa(i)+"]", e)
	}
}

// OutputMatrix binds rows to name[i*cols+j], row-major. All rows must
// have the same length.
func (c *Generator) OutputMatrix(name string, rows [][]Expr) {
	if len(rows) == 0 {
		return
	}
	cols := len(rows[0])
	for i, row := range rows {
		if len(row) != cols {
			panic(errors.Errorf("autogen: matrix %q is ragged: row %d has %d columns, row 0 has %d", name, i, len(row), cols))
		}
	}
	for i, row := range rows {
		for j, e := range row {
			c.Output(name+"["+strconv.Itoa(i*cols+j)+"]", e)
		}
	}
}

func nameError(what, name string) error {
	if base, _, _, ok := splitName(name); ok && Reserved(base) {
		return errors.Errorf("autogen: %s name %q is reserved", what, name)
	}
	return errors.Errorf("autogen: invalid %s name %q", what, name)
}

// Declare collects inputs so that they appear in the parameter list even
// when no output depends on them.
func (c *Generator) Declare(vars ...Expr) {
	for _, v := range vars {
		if v.Kind() != KindVar {
			panic(errors.Errorf("autogen: Declare of %s node", v.Kind()))
		}
		if !ValidName(v.Name()) {
			panic(nameError("input", v.Name()))
		}
		c.Collect(v)
	}
}

// ============================================================
// Scheduling
// ============================================================

// Schedule orders every registered node so that each appears after its
// children: a children-first walk from each entry in registration order,
// de-duplicated by hash, followed by a stable partition into inputs,
// interior nodes and outputs. Children are resolved through the table,
// so a reference to a duplicate resolves to the entry that was kept.
func (c *Generator) Schedule() []NodeID {
	if c.sched != nil {
		return c.sched
	}
	seen := make(map[uint64]bool, len(c.order))
	walked := make([]NodeID, 0, len(c.order))
	var visit func(id NodeID)
	visit = func(id NodeID) {
		h := c.g.Hash(id)
		if seen[h] {
			return
		}
		seen[h] = true
		for _, ch := range c.g.Children(id) {
			visit(c.resolve(ch))
		}
		walked = append(walked, id)
	}
	for _, id := range c.order {
		visit(id)
	}
	sort.SliceStable(walked, func(i, j int) bool {
		return c.g.Kind(walked[i]).Role().rank() < c.g.Kind(walked[j]).Role().rank()
	})
	c.sched = walked
	return walked
}

func (r Role) rank() int {
	switch r {
	case RoleInput:
		return 0
	case RoleInterior:
		return 1
	}
	return 2
}

func (c *Generator) resolve(id NodeID) NodeID {
	canon, ok := c.table[c.g.Hash(id)]
	if !ok {
		panic(errors.Errorf("autogen: %s node %d was never collected", c.g.Kind(id), id))
	}
	return canon
}

// ============================================================
// Emission
// ============================================================

// Params derives the parameter list: inputs then outputs, each in
// registration order. Indexed names such as grad[2] fold into one array
// parameter named grad.
func (c *Generator) Params() []Param {
	var ins, outs []Param
	where := make(map[string]*[]Param)
	at := make(map[string]int)
	for _, id := range c.order {
		k := c.g.Kind(id)
		if k != KindVar && k != KindResult {
			continue
		}
		name := c.g.Name(id)
		base, idx, indexed, ok := splitName(name)
		if !ok || Reserved(base) {
			panic(nameError("parameter", name))
		}
		typ := c.g.DeclType(id)
		if typ == "" {
			typ = c.scalar
		}
		list := &ins
		if k == KindResult {
			list = &outs
		}
		if prev, ok := where[base]; ok {
			p := &(*prev)[at[base]]
			if prev != list || p.Indexed != indexed {
				panic(errors.Errorf("autogen: parameter %q used inconsistently", base))
			}
			if !indexed {
				continue
			}
			if idx+1 > p.Size {
				p.Size = idx + 1
			}
			continue
		}
		p := Param{Name: base, Type: typ, Output: k == KindResult, Indexed: indexed}
		if indexed {
			p.Size = idx + 1
		}
		where[base] = list
		at[base] = len(*list)
		*list = append(*list, p)
	}
	return append(ins, outs...)
}

// Emit assigns v0, v1, ... in schedule order and renders one statement
// per node. Temporaries switch to v_0, v_1, ... when a parameter is
// already named like one.
func (c *Generator) Emit(fn string) string {
	if !ValidName(fn) || strings.Contains(fn, "[") {
		panic(nameError("function", fn))
	}
	sched := c.Schedule()
	params := c.Params()
	prefix := tempPrefix(fn, params)
	ident := make(map[uint64]string, len(sched))
	for i, id := range sched {
		if c.g.Kind(id) != KindResult {
			ident[c.g.Hash(id)] = prefix + strconv.Itoa(i)
		}
	}
	name := func(id NodeID) string { return ident[c.g.Hash(id)] }

	used := make(map[uint64]bool, len(sched))
	for _, id := range sched {
		for _, ch := range c.g.Children(id) {
			used[c.g.Hash(ch)] = true
		}
	}

	var b strings.Builder
	b.WriteString(c.dialect.signature(fn, params))
	b.WriteByte('\n')
	for _, id := range sched {
		b.WriteByte('\t')
		if c.g.Kind(id) == KindResult {
			_, _, indexed, _ := splitName(c.g.Name(id))
			b.WriteString(c.dialect.assign(c.g.Name(id), indexed, name(c.g.Child(id, 0))))
			b.WriteByte('\n')
			continue
		}
		v := name(id)
		typ := c.scalar
		if t := c.g.DeclType(id); t != "" {
			typ = t
		}
		b.WriteString(c.dialect.declare(typ, v, c.dialect.render(c.g, id, name)))
		b.WriteByte('\n')
		// Go rejects unused locals; declared inputs nobody reads are discarded.
		if c.dialect == Go && !used[c.g.Hash(id)] {
			b.WriteString("\t_ = " + v + "\n")
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// tempPrefix returns "v", or "v_", "v__" and so on when a parameter or
// the function itself already has the form <prefix><digits>.
func tempPrefix(fn string, params []Param) string {
	names := []string{fn}
	for _, p := range params {
		names = append(names, p.Name)
	}
	prefix := "v"
	for i := 0; i < len(names); i++ {
		rest, ok := strings.CutPrefix(names[i], prefix)
		if ok && rest != "" && strings.Trim(rest, "0123456789") == "" {
			prefix += "_"
			i = -1
		}
	}
	return prefix
}

// Stats summarizes a generation run.
type Stats struct {
	Registered int          `json:"registered" yaml:"registered"`
	Inputs     int          `json:"inputs" yaml:"inputs"`
	Outputs    int          `json:"outputs" yaml:"outputs"`
	Interior   int          `json:"interior" yaml:"interior"`
	CSEHits    int          `json:"cse_hits" yaml:"cse_hits"`
	Collisions int          `json:"collisions" yaml:"collisions"`
	Kinds      map[Kind]int `json:"kinds" yaml:"kinds"`
}

// Stats counts the scheduled statements by role and kind.
func (c *Generator) Stats() Stats {
	s := Stats{
		Registered: len(c.order),
		CSEHits:    c.hits,
		Collisions: c.collisions,
		Kinds:      make(map[Kind]int),
	}
	for _, id := range c.Schedule() {
		k := c.g.Kind(id)
		s.Kinds[k]++
		switch k.Role() {
		case RoleInput:
			s.Inputs++
		case RoleOutput:
			s.Outputs++
		default:
			s.Interior++
		}
	}
	return s
}
