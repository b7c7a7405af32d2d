package tree

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/phylo-tiles/server/internal/data/jsonl"
)

// Load reads the export at path and builds the store. The load is
// all-or-nothing: the first malformed line or integrity failure aborts it.
func Load(path string) (*Store, *jsonl.Metadata, error) {
	r, err := jsonl.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	return Read(r)
}

// Read builds the store from an already-open record stream.
func Read(r io.Reader) (*Store, *jsonl.Metadata, error) {
	dec, err := jsonl.NewDecoder(r)
	if err != nil {
		return nil, nil, err
	}

	builder := NewBuilder()
	count := 0
	for {
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if err := builder.Add(rec); err != nil {
			return nil, nil, err
		}
		count++
		if count%100000 == 0 {
			log.Printf("Processed %d nodes", count)
		}
	}

	store, err := builder.Build()
	if err != nil {
		return nil, nil, err
	}
	return store, dec.Metadata(), nil
}

// ApplyLoadSummary fills the load-derived config fields: the default
// viewport center and zoom, node counts, root identity, the global
// mutation catalog and the keys recommended for client display. Called
// once after Build; the config is immutable afterwards.
func ApplyLoadSummary(cfg *jsonl.BaseConfig, store *Store, catalog []jsonl.Mutation) {
	ext := store.Extremes()

	initialX := (ext.MaxX + ext.MinX) / 2
	initialY := (ext.MaxY + ext.MinY) / 2
	cfg.InitialX = &initialX
	cfg.InitialY = &initialY
	if cfg.InitialZoom == nil {
		zoom := -2.0
		cfg.InitialZoom = &zoom
	}

	numNodes := store.NumNodes()
	cfg.NumNodes = &numNodes

	rootID := store.RootID()
	cfg.RootID = &rootID
	cfg.RootMutations = store.RootMutations()

	cfg.Mutations = catalog
	cfg.KeysToDisplay = []string{"name", "num_tips"}
}

// Describe returns a short human-readable summary for startup logging.
func Describe(store *Store) string {
	ext := store.Extremes()
	return fmt.Sprintf("%d nodes, root=%d, x=[%g,%g], y=[%g,%g]",
		store.NumNodes(), store.RootID(), ext.MinX, ext.MaxX, ext.MinY, ext.MaxY)
}
