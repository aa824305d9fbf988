package autogen

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ============================================================
// Snapshots: portable dumps of a recorded subgraph
// ============================================================

// SnapshotNode is one node of a Snapshot. Args refer to earlier entries
// by their Ref.
type SnapshotNode struct {
	Ref   int    `json:"ref" yaml:"ref"`
	Kind  Kind   `json:"kind" yaml:"kind"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
	Args  []int  `json:"args,omitempty" yaml:"args,omitempty,flow"`
	Hash  string `json:"hash" yaml:"hash"`
}

// Snapshot lists the nodes reachable from Roots, children before parents.
type Snapshot struct {
	Nodes []SnapshotNode `json:"nodes" yaml:"nodes"`
	Roots []int          `json:"roots" yaml:"roots,flow"`
}

// TakeSnapshot dumps the subgraph under roots. Shared nodes appear once.
func TakeSnapshot(roots ...Expr) Snapshot {
	var s Snapshot
	if len(roots) == 0 {
		return s
	}
	g := roots[0].g
	reach := make(map[NodeID]bool)
	for _, r := range roots {
		g.mustOwn(r)
		g.walk(r.id, func(id NodeID) { reach[id] = true })
	}
	ids := make([]NodeID, 0, len(reach))
	for id := range reach {
		ids = append(ids, id)
	}
	// Ascending ids are already children-first.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ref := make(map[NodeID]int, len(ids))
	for i, id := range ids {
		ref[id] = i
		n := g.at(id)
		sn := SnapshotNode{
			Ref:  i,
			Kind: n.kind,
			Name: n.name,
			Type: n.typ,
			Hash: strconv.FormatUint(n.hash, 16),
		}
		if n.kind == KindConst {
			sn.Value = strconv.FormatFloat(n.value, 'g', -1, 64)
		}
		for _, ch := range g.Children(id) {
			sn.Args = append(sn.Args, ref[ch])
		}
		s.Nodes = append(s.Nodes, sn)
	}
	for _, r := range roots {
		s.Roots = append(s.Roots, ref[r.id])
	}
	return s
}

func (s Snapshot) JSON() ([]byte, error) { return json.MarshalIndent(s, "", "  ") }
func (s Snapshot) YAML() ([]byte, error) { return yaml.Marshal(s) }

func DecodeSnapshotJSON(data []byte) (Snapshot, error) {
	var s Snapshot
	err := json.Unmarshal(data, &s)
	return s, errors.Wrap(err, "decode snapshot")
}

func DecodeSnapshotYAML(data []byte) (Snapshot, error) {
	var s Snapshot
	err := yaml.Unmarshal(data, &s)
	return s, errors.Wrap(err, "decode snapshot")
}

// Restore appends the snapshot to g node for node, without re-simplifying,
// and checks every recomputed hash against the recorded one. It returns the
// roots. The snapshot is rebuilt in a scratch graph first, so g is left
// untouched when it is rejected.
func (s Snapshot) Restore(g *Graph) ([]Expr, error) {
	scratch := NewGraph()
	ids, err := s.rebuild(scratch)
	if err != nil {
		return nil, err
	}
	// Hashes depend only on child hashes, so shifting ids keeps them valid.
	base := NodeID(len(g.nodes))
	for _, n := range scratch.nodes {
		switch n.kind.Arity() {
		case 2:
			n.b += base
			fallthrough
		case 1:
			n.a += base
		}
		g.nodes = append(g.nodes, n)
	}
	roots := make([]Expr, len(ids))
	for i, id := range ids {
		roots[i] = Expr{g, id + base}
	}
	return roots, nil
}

// rebuild pushes every node into g and returns the ids of the roots.
func (s Snapshot) rebuild(g *Graph) ([]NodeID, error) {
	ids := make([]NodeID, len(s.Nodes))
	for i, sn := range s.Nodes {
		if sn.Ref != i {
			return nil, errors.Errorf("node %d: ref %d out of order", i, sn.Ref)
		}
		if int(sn.Kind) >= len(kindNames) {
			return nil, errors.Errorf("node %d: unknown kind %d", i, sn.Kind)
		}
		if len(sn.Args) != sn.Kind.Arity() {
			return nil, errors.Errorf("node %d: %s takes %d args, got %d", i, sn.Kind, sn.Kind.Arity(), len(sn.Args))
		}
		n := node{kind: sn.Kind, name: sn.Name, typ: sn.Type}
		for j, a := range sn.Args {
			if a < 0 || a >= i {
				return nil, errors.Errorf("node %d: arg %d refers forward to %d", i, j, a)
			}
			if j == 0 {
				n.a = ids[a]
			} else {
				n.b = ids[a]
			}
		}
		switch sn.Kind {
		case KindConst:
			v, err := strconv.ParseFloat(sn.Value, 64)
			if err != nil && !math.IsInf(v, 0) {
				return nil, errors.Wrapf(err, "node %d: value", i)
			}
			n.value = v
		case KindVar, KindResult:
			if sn.Name == "" {
				return nil, errors.Errorf("node %d: %s without a name", i, sn.Kind)
			}
		}
		ids[i] = g.push(n)
		if got := strconv.FormatUint(g.Hash(ids[i]), 16); sn.Hash != "" && got != sn.Hash {
			return nil, errors.Errorf("node %d: hash %s does not match recorded %s", i, got, sn.Hash)
		}
	}
	roots := make([]NodeID, len(s.Roots))
	for i, r := range s.Roots {
		if r < 0 || r >= len(ids) {
			return nil, errors.Errorf("root %d: ref %d out of range", i, r)
		}
		roots[i] = ids[r]
	}
	return roots, nil
}
