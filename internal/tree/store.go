// Package tree holds the immutable node store: dictionary-encoded nodes,
// the child-to-parent table and the dataset extremes, built once at
// startup and shared read-only by all request handlers.
package tree

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/phylo-tiles/server/internal/data/jsonl"
)

// MetaAbsent marks a metadata column that is not set on a node.
const MetaAbsent = int32(-1)

// Node is one tree vertex with its metadata dictionary-encoded. Meta has
// one code per interned column, in the order fixed by the first record.
type Node struct {
	Name      string
	XDist     float64
	Y         float64
	Mutations []int32
	ParentID  int32
	NodeID    int32
	NumTips   int32
	Clades    map[string]string
	Meta      []int32
}

// IsLeaf reports whether the node is a tip.
func (n *Node) IsLeaf() bool { return n.NumTips == 1 }

// Extremes are the dataset coordinate bounds, computed once after load.
type Extremes struct {
	MinX float64
	MaxX float64
	MinY float64
	MaxY float64
}

// Store owns all nodes. It is immutable after Build returns.
type Store struct {
	nodes         []Node
	index         map[int32]int // node_id -> position in nodes
	childToParent map[int32]int32
	rootID        int32
	rootMutations []int32
	metaKeys      []string
	dicts         []*Dictionary
	extremes      Extremes
}

// Builder accumulates node records and produces a Store. The first record
// fixes the metadata column slate for the whole tree.
type Builder struct {
	nodes         []Node
	index         map[int32]int
	childToParent map[int32]int32
	metaKeys      []string
	dicts         []*Dictionary
	rootID        int32
	rootMutations []int32
	hasRoot       bool
	slated        bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		index:         make(map[int32]int),
		childToParent: make(map[int32]int32),
	}
}

// Add encodes one node record into the store under construction.
func (b *Builder) Add(rec jsonl.NodeRecord) error {
	if !b.slated {
		b.metaKeys = append([]string(nil), rec.MetaKeys...)
		b.dicts = make([]*Dictionary, len(b.metaKeys))
		for i := range b.dicts {
			b.dicts[i] = NewDictionary()
		}
		b.slated = true
	}

	if _, dup := b.index[rec.NodeID]; dup {
		return fmt.Errorf("duplicate node_id %d", rec.NodeID)
	}

	meta := make([]int32, len(b.metaKeys))
	for i, key := range b.metaKeys {
		raw, ok := rec.Meta[key]
		if !ok {
			meta[i] = MetaAbsent
			continue
		}
		meta[i] = b.dicts[i].Encode(string(raw))
	}

	mutations := rec.Mutations
	if mutations == nil {
		mutations = []int32{}
	}
	clades := rec.Clades
	if clades == nil {
		clades = map[string]string{}
	}

	if rec.ParentID == rec.NodeID {
		// Root: its mutation list is accumulated state, not a per-edge
		// change. Capture it separately and keep the root out of the
		// child-to-parent table so closure walks terminate.
		if b.hasRoot {
			return fmt.Errorf("multiple roots: node %d and node %d", b.rootID, rec.NodeID)
		}
		b.hasRoot = true
		b.rootID = rec.NodeID
		b.rootMutations = mutations
		mutations = []int32{}
	} else {
		b.childToParent[rec.NodeID] = rec.ParentID
	}

	b.index[rec.NodeID] = len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Name:      rec.Name,
		XDist:     rec.XDist,
		Y:         rec.Y,
		Mutations: mutations,
		ParentID:  rec.ParentID,
		NodeID:    rec.NodeID,
		NumTips:   rec.NumTips,
		Clades:    clades,
		Meta:      meta,
	})
	return nil
}

// Build validates the tree, rescales vertical coordinates and returns the
// finished store. The store is never partially built: any integrity
// failure here fails the whole load.
func (b *Builder) Build() (*Store, error) {
	if len(b.nodes) == 0 {
		return nil, fmt.Errorf("no node records in input")
	}
	if !b.hasRoot {
		return nil, fmt.Errorf("no root node (parent_id == node_id) found")
	}
	for child, parent := range b.childToParent {
		if _, ok := b.index[parent]; !ok {
			return nil, fmt.Errorf("node %d references missing parent %d", child, parent)
		}
	}

	scaleY(b.nodes)

	s := &Store{
		nodes:         b.nodes,
		index:         b.index,
		childToParent: b.childToParent,
		rootID:        b.rootID,
		rootMutations: b.rootMutations,
		metaKeys:      b.metaKeys,
		dicts:         b.dicts,
		extremes:      computeExtremes(b.nodes),
	}
	return s, nil
}

// scaleY normalizes vertical density: small trees are spread out so they
// are not rendered too sparsely, large trees fit a nominal 2400-unit
// canvas. Results are rounded to six decimal places.
func scaleY(nodes []Node) {
	n := float64(len(nodes))
	divisor := n * 0.6666
	if len(nodes) > 10000 {
		divisor = n
	}
	scale := 2400.0 / divisor
	for i := range nodes {
		nodes[i].Y = math.Round(nodes[i].Y*scale*1e6) / 1e6
	}
}

func computeExtremes(nodes []Node) Extremes {
	ext := Extremes{
		MinX: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MinY: math.MaxFloat64,
		MaxY: -math.MaxFloat64,
	}
	for i := range nodes {
		ext.MinX = math.Min(ext.MinX, nodes[i].XDist)
		ext.MaxX = math.Max(ext.MaxX, nodes[i].XDist)
		ext.MinY = math.Min(ext.MinY, nodes[i].Y)
		ext.MaxY = math.Max(ext.MaxY, nodes[i].Y)
	}
	return ext
}

// NumNodes returns the number of nodes in the tree.
func (s *Store) NumNodes() int { return len(s.nodes) }

// At returns the node at storage position i.
func (s *Store) At(i int) *Node { return &s.nodes[i] }

// IndexOf returns the storage position for a node id.
func (s *Store) IndexOf(id int32) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

// Parent returns the parent of id. The root and unknown ids have no
// parent.
func (s *Store) Parent(id int32) (int32, bool) {
	parent, ok := s.childToParent[id]
	return parent, ok
}

// RootID returns the root node's id.
func (s *Store) RootID() int32 { return s.rootID }

// RootMutations returns the mutation list captured from the root record.
func (s *Store) RootMutations() []int32 { return s.rootMutations }

// MetaKeys returns the interned metadata column names in slate order.
func (s *Store) MetaKeys() []string { return s.metaKeys }

// Extremes returns the dataset coordinate bounds.
func (s *Store) Extremes() Extremes { return s.extremes }

// Record rehydrates the node at storage position i back into the wire
// shape, decoding metadata codes through the reverse dictionaries.
func (s *Store) Record(i int) jsonl.NodeRecord {
	n := &s.nodes[i]
	rec := jsonl.NodeRecord{
		Name:      n.Name,
		XDist:     n.XDist,
		Y:         n.Y,
		Mutations: n.Mutations,
		ParentID:  n.ParentID,
		NodeID:    n.NodeID,
		NumTips:   n.NumTips,
		Clades:    n.Clades,
	}
	for col, code := range n.Meta {
		if code == MetaAbsent {
			continue
		}
		value, ok := s.dicts[col].Decode(code)
		if !ok {
			continue
		}
		if rec.Meta == nil {
			rec.Meta = make(map[string]json.RawMessage, len(n.Meta))
		}
		rec.Meta[s.metaKeys[col]] = json.RawMessage(value)
		rec.MetaKeys = append(rec.MetaKeys, s.metaKeys[col])
	}
	return rec
}
