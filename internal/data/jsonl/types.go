package jsonl

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Metadata is the header record on the first line of the stream.
type Metadata struct {
	Version    string     `json:"version"`
	Mutations  []Mutation `json:"mutations"`
	TotalNodes int        `json:"total_nodes"`
	Config     BaseConfig `json:"config"`
}

// Mutation is one entry of the global mutation catalog. Amino-acid and
// nucleotide mutations share the same fields except nuc_for_codon, which
// only amino-acid entries carry.
type Mutation struct {
	Gene            string `json:"gene"`
	PreviousResidue string `json:"previous_residue"`
	ResiduePos      int    `json:"residue_pos"`
	NewResidue      string `json:"new_residue"`
	MutationID      int    `json:"mutation_id"`
	NucForCodon     *int   `json:"nuc_for_codon,omitempty"`
	Type            string `json:"type"`
}

// GeneDetail describes one gene annotation.
type GeneDetail struct {
	Name   string `json:"name"`
	Strand int    `json:"strand"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// BaseConfig is the client-facing configuration carried by the header
// record. The load-derived fields (initial viewport, counts, root
// identity) are filled in after the tree is built and never change again.
type BaseConfig struct {
	GeneDetails   map[string]GeneDetail `json:"gene_details"`
	NumTips       int                   `json:"num_tips"`
	Mutations     []Mutation            `json:"mutations,omitempty"`
	InitialX      *float64              `json:"initial_x,omitempty"`
	InitialY      *float64              `json:"initial_y,omitempty"`
	InitialZoom   *float64              `json:"initial_zoom,omitempty"`
	KeysToDisplay []string              `json:"keys_to_display,omitempty"`
	NumNodes      *int                  `json:"num_nodes,omitempty"`
	RootMutations []int32               `json:"root_mutations,omitempty"`
	RootID        *int32                `json:"root_id,omitempty"`
}

// NodeRecord is one node line of the stream, and also the shape returned
// to clients after rehydration. Metadata keys beyond the fixed fields are
// flattened into the same JSON object; they are captured here as raw JSON
// in document order.
type NodeRecord struct {
	Name      string            `json:"name"`
	XDist     float64           `json:"x_dist"`
	Y         float64           `json:"y"`
	Mutations []int32           `json:"mutations"`
	ParentID  int32             `json:"parent_id"`
	NodeID    int32             `json:"node_id"`
	NumTips   int32             `json:"num_tips"`
	Clades    map[string]string `json:"clades"`

	Meta     map[string]json.RawMessage `json:"-"`
	MetaKeys []string                   `json:"-"`
}

// nodeRecordFields are the fixed fields; everything else on a node line
// belongs to the flattened metadata bag.
var nodeRecordFields = map[string]bool{
	"name":      true,
	"x_dist":    true,
	"y":         true,
	"mutations": true,
	"parent_id": true,
	"node_id":   true,
	"num_tips":  true,
	"clades":    true,
}

// UnmarshalJSON decodes the fixed fields and collects the remaining keys
// into Meta, preserving their document order in MetaKeys. Document order
// matters: the first record of the stream fixes the metadata column slate.
func (r *NodeRecord) UnmarshalJSON(data []byte) error {
	type plain NodeRecord
	var known plain
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	*r = NodeRecord(known)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("node record is not a JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in node record", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if nodeRecordFields[key] {
			continue
		}
		if r.Meta == nil {
			r.Meta = make(map[string]json.RawMessage)
		}
		if _, seen := r.Meta[key]; !seen {
			r.MetaKeys = append(r.MetaKeys, key)
		}
		r.Meta[key] = value
	}
	return nil
}

// MarshalJSON writes the fixed fields and splices the metadata bag back
// into the same object, in MetaKeys order.
func (r NodeRecord) MarshalJSON() ([]byte, error) {
	type plain NodeRecord
	base, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if len(r.Meta) == 0 {
		return base, nil
	}

	var buf bytes.Buffer
	buf.Grow(len(base) + 32*len(r.Meta))
	buf.Write(base[:len(base)-1])
	for _, key := range r.MetaKeys {
		value, ok := r.Meta[key]
		if !ok {
			continue
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(encodedKey)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
