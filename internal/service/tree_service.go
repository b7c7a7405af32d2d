// Package service provides the query pipeline for the tree server.
package service

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/phylo-tiles/server/internal/cache"
	"github.com/phylo-tiles/server/internal/data/jsonl"
	"github.com/phylo-tiles/server/internal/render"
	"github.com/phylo-tiles/server/internal/tree"
)

// minSpan clamps the precision denominator so a degenerate viewport
// (min == max) yields very fine cells instead of a division by zero.
const minSpan = 1e-9

// TreeServiceConfig contains tree service configuration.
type TreeServiceConfig struct {
	Store    *tree.Store
	Cache    *cache.Manager
	Renderer *render.PreviewRenderer
}

// TreeService answers viewport queries against the shared read-only
// store. It holds no per-request state, so concurrent requests need no
// locking.
type TreeService struct {
	store    *tree.Store
	cache    *cache.Manager
	renderer *render.PreviewRenderer
}

// NewTreeService creates a new tree service.
func NewTreeService(cfg TreeServiceConfig) *TreeService {
	return &TreeService{
		store:    cfg.Store,
		cache:    cfg.Cache,
		renderer: cfg.Renderer,
	}
}

// Store returns the underlying node store.
func (s *TreeService) Store() *tree.Store { return s.store }

// Bounds is the effective viewport for one request.
type Bounds struct {
	MinY float64
	MaxY float64
	MinX float64
	MaxX float64
}

// EffectiveBounds fills missing bounds from the dataset extremes.
func (s *TreeService) EffectiveBounds(minY, maxY, minX, maxX *float64) Bounds {
	ext := s.store.Extremes()
	b := Bounds{MinY: ext.MinY, MaxY: ext.MaxY, MinX: ext.MinX, MaxX: ext.MaxX}
	if minY != nil {
		b.MinY = *minY
	}
	if maxY != nil {
		b.MaxY = *maxY
	}
	if minX != nil {
		b.MinX = *minX
	}
	if maxX != nil {
		b.MaxX = *maxX
	}
	return b
}

// NodesResponse is the payload of a viewport query.
type NodesResponse struct {
	Nodes []jsonl.NodeRecord `json:"nodes"`
}

// QueryNodes runs the full pipeline: viewport filter, overplotting
// reduction, ancestor closure, rehydration. The result is ordered by
// ascending node id.
func (s *TreeService) QueryNodes(b Bounds, xType string) []jsonl.NodeRecord {
	return s.assemble(s.selectIndices(b, xType))
}

// QueryNodesJSON is QueryNodes with response caching: identical effective
// bounds share one serialized entry.
func (s *TreeService) QueryNodesJSON(b Bounds, xType string) ([]byte, error) {
	key := cache.QueryKey(b.MinY, b.MaxY, b.MinX, b.MaxX, xType)
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(key); ok {
			return data, nil
		}
	}

	data, err := json.Marshal(NodesResponse{Nodes: s.QueryNodes(b, xType)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode nodes response: %w", err)
	}

	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}

// selectIndices returns the storage positions retained by the pipeline,
// ordered by ascending node id.
func (s *TreeService) selectIndices(b Bounds, xType string) []int {
	filtered := s.filterByY(b.MinY, b.MaxY)

	leaves := filtered[:0]
	for _, idx := range filtered {
		if s.store.At(idx).IsLeaf() {
			leaves = append(leaves, idx)
		}
	}

	reduced := s.reduceOverplotting(leaves, precision(b.MinX, b.MaxX)/5, precision(b.MinY, b.MaxY), xType)
	return s.addAncestors(reduced)
}

// filterByY returns the storage positions of nodes whose vertical
// coordinate lies in [minY, maxY], inclusive on both ends. Horizontal
// bounds never affect inclusion; they only calibrate reduction density.
func (s *TreeService) filterByY(minY, maxY float64) []int {
	out := make([]int, 0, 1024)
	for i := 0; i < s.store.NumNodes(); i++ {
		y := s.store.At(i).Y
		if y >= minY && y <= maxY {
			out = append(out, i)
		}
	}
	return out
}

// precision converts a coordinate span to grid cells per unit.
func precision(min, max float64) float64 {
	span := max - min
	if span < minSpan {
		span = minSpan
	}
	return 2000.0 / span
}

// xCoord selects the horizontal coordinate for a node. The x_type
// selector is accepted for client compatibility but every value resolves
// to the distance coordinate; no alternate coordinate system exists in
// the data model.
func xCoord(n *tree.Node, xType string) float64 {
	_ = xType
	return n.XDist
}

// reduceOverplotting deduplicates candidate leaves onto the grid implied
// by the request's zoom: one representative per cell, first occurrence in
// storage order wins. Seen cells are tracked per x-cell.
func (s *TreeService) reduceOverplotting(indices []int, precisionX, precisionY float64, xType string) []int {
	seen := make(map[int64]map[int64]struct{})
	out := make([]int, 0, len(indices))
	for _, idx := range indices {
		n := s.store.At(idx)
		cellX := int64(math.Round(xCoord(n, xType) * precisionX))
		cellY := int64(math.Round(n.Y * precisionY))

		ys, ok := seen[cellX]
		if !ok {
			ys = make(map[int64]struct{})
			seen[cellX] = ys
		}
		if _, dup := ys[cellY]; dup {
			continue
		}
		ys[cellY] = struct{}{}
		out = append(out, idx)
	}
	return out
}

// addAncestors expands the reduced set with every ancestor up to the
// root, so each retained node's lineage path is unbroken. Each id is
// pushed at most once; the root has no entry in the parent table, so the
// walk terminates there.
func (s *TreeService) addAncestors(indices []int) []int {
	selected := make(map[int32]struct{}, len(indices)*2)
	work := make([]int32, 0, len(indices))
	for _, idx := range indices {
		id := s.store.At(idx).NodeID
		selected[id] = struct{}{}
		work = append(work, id)
	}

	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]

		parent, ok := s.store.Parent(id)
		if !ok {
			continue
		}
		if _, in := selected[parent]; in {
			continue
		}
		selected[parent] = struct{}{}
		work = append(work, parent)
	}

	// Deterministic response order: ascending node id.
	ids := make([]int32, 0, len(selected))
	for id := range selected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if idx, ok := s.store.IndexOf(id); ok {
			out = append(out, idx)
		}
	}
	return out
}

// assemble rehydrates the selected nodes back to wire records.
func (s *TreeService) assemble(indices []int) []jsonl.NodeRecord {
	records := make([]jsonl.NodeRecord, len(indices))
	for i, idx := range indices {
		records[i] = s.store.Record(idx)
	}
	return records
}

// RenderPreview draws the query's retained nodes and their lineage edges
// to a PNG.
func (s *TreeService) RenderPreview(b Bounds, xType string) ([]byte, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("preview renderer not configured")
	}

	indices := s.selectIndices(b, xType)

	selected := make(map[int32]struct{}, len(indices))
	for _, idx := range indices {
		selected[s.store.At(idx).NodeID] = struct{}{}
	}

	points := make([]render.Point, 0, len(indices))
	edges := make([]render.Edge, 0, len(indices))
	for _, idx := range indices {
		n := s.store.At(idx)
		points = append(points, render.Point{X: n.XDist, Y: n.Y, Leaf: n.IsLeaf()})

		parent, ok := s.store.Parent(n.NodeID)
		if !ok {
			continue
		}
		if _, in := selected[parent]; !in {
			continue
		}
		pIdx, ok := s.store.IndexOf(parent)
		if !ok {
			continue
		}
		p := s.store.At(pIdx)
		edges = append(edges, render.Edge{X1: p.XDist, Y1: p.Y, X2: n.XDist, Y2: n.Y})
	}

	return s.renderer.RenderViewport(points, edges, render.Viewport{
		MinX: b.MinX, MaxX: b.MaxX,
		MinY: b.MinY, MaxY: b.MaxY,
	})
}

// NodeJSON returns one node by id, serialized, caching the result.
func (s *TreeService) NodeJSON(id int32) ([]byte, bool, error) {
	if s.cache != nil {
		if data, ok := s.cache.GetNode(id); ok {
			return data, true, nil
		}
	}

	idx, ok := s.store.IndexOf(id)
	if !ok {
		return nil, false, nil
	}

	data, err := json.Marshal(s.store.Record(idx))
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode node %d: %w", id, err)
	}

	if s.cache != nil {
		s.cache.SetNode(id, data)
	}
	return data, true, nil
}
