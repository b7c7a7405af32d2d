package service

import (
	"strings"

	"github.com/phylo-tiles/server/internal/data/jsonl"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

// SearchResult is the payload of a name search. The shape matches the
// original backend's search endpoint.
type SearchResult struct {
	Type       string             `json:"type"`
	Data       []jsonl.NodeRecord `json:"data"`
	TotalCount int                `json:"total_count"`
}

// SearchNodes scans node names for a case-insensitive substring match.
// TotalCount counts every match; Data carries at most limit rehydrated
// records in storage order. An empty query matches nothing.
func (s *TreeService) SearchNodes(query string, limit int) SearchResult {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	result := SearchResult{Type: "complete", Data: []jsonl.NodeRecord{}}

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return result
	}

	for i := 0; i < s.store.NumNodes(); i++ {
		n := s.store.At(i)
		if !strings.Contains(strings.ToLower(n.Name), needle) {
			continue
		}
		result.TotalCount++
		if len(result.Data) < limit {
			result.Data = append(result.Data, s.store.Record(i))
		}
	}
	return result
}
