package tree

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/phylo-tiles/server/internal/data/jsonl"
)

func record(id, parent int32, x, y float64, numTips int32, meta map[string]string, metaKeys []string) jsonl.NodeRecord {
	rec := jsonl.NodeRecord{
		Name:     "node",
		XDist:    x,
		Y:        y,
		ParentID: parent,
		NodeID:   id,
		NumTips:  numTips,
	}
	if meta != nil {
		rec.Meta = make(map[string]json.RawMessage, len(meta))
		for _, key := range metaKeys {
			rec.Meta[key] = json.RawMessage(meta[key])
		}
		rec.MetaKeys = metaKeys
	}
	return rec
}

func TestBuilderMetaSlate(t *testing.T) {
	b := NewBuilder()

	// First record fixes the column slate: country, lineage.
	first := record(0, 0, 0, 0, 3,
		map[string]string{"country": `"UK"`, "lineage": `"B.1"`},
		[]string{"country", "lineage"})
	if err := b.Add(first); err != nil {
		t.Fatalf("Add root: %v", err)
	}

	// Second record: country missing, extra key outside the slate.
	second := record(1, 0, 1, 1, 1,
		map[string]string{"lineage": `"B.1"`, "date": `"2021-01-01"`},
		[]string{"lineage", "date"})
	if err := b.Add(second); err != nil {
		t.Fatalf("Add child: %v", err)
	}

	store, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	keys := store.MetaKeys()
	if len(keys) != 2 || keys[0] != "country" || keys[1] != "lineage" {
		t.Fatalf("unexpected meta slate: %v", keys)
	}

	idx, _ := store.IndexOf(1)
	n := store.At(idx)
	if n.Meta[0] != MetaAbsent {
		t.Errorf("expected absent country on node 1, got code %d", n.Meta[0])
	}
	if n.Meta[1] == MetaAbsent {
		t.Error("expected lineage present on node 1")
	}

	// The extra key never became a column.
	rec := store.Record(idx)
	if _, ok := rec.Meta["date"]; ok {
		t.Error("key outside the first record's slate must be dropped")
	}
}

func TestBuilderDictionaryRoundTrip(t *testing.T) {
	b := NewBuilder()
	metaKeys := []string{"country"}
	values := []string{`"UK"`, `"France"`, `"UK"`}

	if err := b.Add(record(0, 0, 0, 0, 3, map[string]string{"country": values[0]}, metaKeys)); err != nil {
		t.Fatal(err)
	}
	for i, v := range values[1:] {
		id := int32(i + 1)
		if err := b.Add(record(id, 0, 1, float64(id), 1, map[string]string{"country": v}, metaKeys)); err != nil {
			t.Fatal(err)
		}
	}

	store, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for i, want := range values {
		idx, _ := store.IndexOf(int32(i))
		rec := store.Record(idx)
		got, ok := rec.Meta["country"]
		if !ok {
			t.Fatalf("node %d: country missing after rehydration", i)
		}
		if string(got) != want {
			t.Errorf("node %d: round trip mismatch: got %s want %s", i, got, want)
		}
	}
}

func TestBuilderRootHandling(t *testing.T) {
	b := NewBuilder()

	root := record(7, 7, 0, 0, 2, nil, nil)
	root.Mutations = []int32{10, 11}
	if err := b.Add(root); err != nil {
		t.Fatal(err)
	}
	child := record(8, 7, 1, 1, 1, nil, nil)
	child.Mutations = []int32{12}
	if err := b.Add(child); err != nil {
		t.Fatal(err)
	}

	store, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if store.RootID() != 7 {
		t.Errorf("expected root id 7, got %d", store.RootID())
	}
	if got := store.RootMutations(); len(got) != 2 || got[0] != 10 || got[1] != 11 {
		t.Errorf("unexpected root mutations: %v", got)
	}

	// The root's own stored mutation list is cleared.
	idx, _ := store.IndexOf(7)
	if n := store.At(idx); len(n.Mutations) != 0 {
		t.Errorf("root mutations not cleared: %v", n.Mutations)
	}

	// The root has no parent entry; the child does.
	if _, ok := store.Parent(7); ok {
		t.Error("root must not appear in the child-to-parent table")
	}
	if parent, ok := store.Parent(8); !ok || parent != 7 {
		t.Errorf("expected parent 7 for node 8, got %d (ok=%v)", parent, ok)
	}
}

func TestBuilderIntegrityErrors(t *testing.T) {
	t.Run("duplicateNodeID", func(t *testing.T) {
		b := NewBuilder()
		if err := b.Add(record(0, 0, 0, 0, 2, nil, nil)); err != nil {
			t.Fatal(err)
		}
		if err := b.Add(record(0, 0, 1, 1, 1, nil, nil)); err == nil {
			t.Error("expected duplicate node_id error")
		}
	})

	t.Run("danglingParent", func(t *testing.T) {
		b := NewBuilder()
		if err := b.Add(record(0, 0, 0, 0, 2, nil, nil)); err != nil {
			t.Fatal(err)
		}
		if err := b.Add(record(1, 99, 1, 1, 1, nil, nil)); err != nil {
			t.Fatal(err)
		}
		if _, err := b.Build(); err == nil {
			t.Error("expected missing parent error")
		}
	})

	t.Run("noRoot", func(t *testing.T) {
		b := NewBuilder()
		if err := b.Add(record(1, 2, 0, 0, 1, nil, nil)); err != nil {
			t.Fatal(err)
		}
		if err := b.Add(record(2, 1, 1, 1, 1, nil, nil)); err != nil {
			t.Fatal(err)
		}
		if _, err := b.Build(); err == nil {
			t.Error("expected no-root error")
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := NewBuilder().Build(); err == nil {
			t.Error("expected error for empty builder")
		}
	})

	t.Run("multipleRoots", func(t *testing.T) {
		b := NewBuilder()
		if err := b.Add(record(0, 0, 0, 0, 1, nil, nil)); err != nil {
			t.Fatal(err)
		}
		if err := b.Add(record(1, 1, 1, 1, 1, nil, nil)); err == nil {
			t.Error("expected multiple-roots error")
		}
	})
}

func TestScaleYSmallTree(t *testing.T) {
	nodes := []Node{{Y: 1.0}, {Y: 0.5}, {Y: 3.0}, {Y: 0}, {Y: 1.5}}
	scaleY(nodes)

	// scale = 2400 / (5 * 0.6666)
	scale := 2400.0 / (5 * 0.6666)
	want := []float64{1.0, 0.5, 3.0, 0, 1.5}
	for i, w := range want {
		expected := math.Round(w*scale*1e6) / 1e6
		if math.Abs(nodes[i].Y-expected) > 1e-9 {
			t.Errorf("node %d: got y=%v want %v", i, nodes[i].Y, expected)
		}
		// Six-decimal precision: the scaled value is integral in micro-units.
		if micro := nodes[i].Y * 1e6; math.Abs(micro-math.Round(micro)) > 1e-3 {
			t.Errorf("node %d: y=%v not rounded to six decimals", i, nodes[i].Y)
		}
	}
}

func TestScaleYLargeTree(t *testing.T) {
	nodes := make([]Node, 10001)
	for i := range nodes {
		nodes[i].Y = 1.0
	}
	scaleY(nodes)

	// Above 10000 nodes the 0.6666 stretch factor is dropped.
	want := math.Round(2400.0/10001*1e6) / 1e6
	if math.Abs(nodes[0].Y-want) > 1e-9 {
		t.Errorf("got y=%v want %v", nodes[0].Y, want)
	}
}

func TestStoreExtremes(t *testing.T) {
	b := NewBuilder()
	if err := b.Add(record(0, 0, 0.5, 0, 2, nil, nil)); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(record(1, 0, 2.5, 4, 1, nil, nil)); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(record(2, 0, 1.0, 2, 1, nil, nil)); err != nil {
		t.Fatal(err)
	}

	store, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	ext := store.Extremes()
	if ext.MinX != 0.5 || ext.MaxX != 2.5 {
		t.Errorf("unexpected x extremes: [%v,%v]", ext.MinX, ext.MaxX)
	}
	if ext.MinY != 0 {
		t.Errorf("unexpected min y: %v", ext.MinY)
	}
	if ext.MaxY <= ext.MinY {
		t.Errorf("expected max y above min y, got [%v,%v]", ext.MinY, ext.MaxY)
	}
}

func TestApplyLoadSummary(t *testing.T) {
	b := NewBuilder()
	root := record(0, 0, 0, 0, 2, nil, nil)
	root.Mutations = []int32{3}
	if err := b.Add(root); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(record(1, 0, 2, 4, 1, nil, nil)); err != nil {
		t.Fatal(err)
	}

	store, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	var cfg jsonl.BaseConfig
	catalog := []jsonl.Mutation{{Gene: "S", MutationID: 3, Type: "aa"}}
	ApplyLoadSummary(&cfg, store, catalog)

	ext := store.Extremes()
	if cfg.InitialX == nil || *cfg.InitialX != (ext.MaxX+ext.MinX)/2 {
		t.Errorf("unexpected initial_x: %v", cfg.InitialX)
	}
	if cfg.InitialY == nil || *cfg.InitialY != (ext.MaxY+ext.MinY)/2 {
		t.Errorf("unexpected initial_y: %v", cfg.InitialY)
	}
	if cfg.InitialZoom == nil || *cfg.InitialZoom != -2.0 {
		t.Errorf("unexpected initial_zoom: %v", cfg.InitialZoom)
	}
	if cfg.NumNodes == nil || *cfg.NumNodes != 2 {
		t.Errorf("unexpected num_nodes: %v", cfg.NumNodes)
	}
	if cfg.RootID == nil || *cfg.RootID != 0 {
		t.Errorf("unexpected root_id: %v", cfg.RootID)
	}
	if len(cfg.RootMutations) != 1 || cfg.RootMutations[0] != 3 {
		t.Errorf("unexpected root_mutations: %v", cfg.RootMutations)
	}
	if len(cfg.Mutations) != 1 {
		t.Errorf("mutation catalog not carried over: %v", cfg.Mutations)
	}
	if len(cfg.KeysToDisplay) != 2 || cfg.KeysToDisplay[0] != "name" || cfg.KeysToDisplay[1] != "num_tips" {
		t.Errorf("unexpected keys_to_display: %v", cfg.KeysToDisplay)
	}
}

func TestApplyLoadSummaryKeepsExplicitZoom(t *testing.T) {
	b := NewBuilder()
	if err := b.Add(record(0, 0, 0, 0, 1, nil, nil)); err != nil {
		t.Fatal(err)
	}
	store, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	zoom := 1.5
	cfg := jsonl.BaseConfig{InitialZoom: &zoom}
	ApplyLoadSummary(&cfg, store, nil)

	if cfg.InitialZoom == nil || *cfg.InitialZoom != 1.5 {
		t.Errorf("explicit initial_zoom must be preserved, got %v", cfg.InitialZoom)
	}
}
