package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/vassal/internal/memorystore"
	"github.com/haasonsaas/vassal/pkg/models"
)

// memorySearchArgs is the parameter shape of the memory_search built-in.
// The jsonschema struct tags are what invopop/jsonschema reads to build
// the descriptor's Schema; the tag parser's forced-string attribute set
// ("query", "tags") is independent of this and enforced at parse time.
type memorySearchArgs struct {
	Query string `json:"query" jsonschema:"description=Free-text query; empty ranks purely by importance and recency"`
	Tags  string `json:"tags,omitempty" jsonschema:"description=Comma-separated tags that must all be present"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results; 0 selects a small default"`
}

type memorySearchResultItem struct {
	MemoryID   uint64   `json:"memory_id"`
	Text       string   `json:"text"`
	Tags       []string `json:"tags"`
	Importance float64  `json:"importance"`
	Relevance  float64  `json:"relevance"`
}

type memorySearchResult struct {
	Results []memorySearchResultItem `json:"results"`
}

const defaultMemorySearchLimit = 5

// memoryAddArgs is the parameter shape of the memory_remember built-in.
type memoryAddArgs struct {
	Text       string  `json:"text" jsonschema:"required,description=Text to remember"`
	Tags       string  `json:"tags,omitempty" jsonschema:"description=Comma-separated tags"`
	Importance float64 `json:"importance,omitempty" jsonschema:"description=Importance in [0,1]; 0 selects a default of 0.5"`
}

type memoryAddResult struct {
	MemoryID uint64 `json:"memory_id"`
}

// RegisterMemoryTools registers memory_search and memory_remember against
// store. Model-initiated memory access always goes through these two
// tools, never a direct Store API — the same convention pathconfig
// follows for its own persistence.
func RegisterMemoryTools(r *Registry, store *memorystore.Store) *models.Error {
	if err := r.Register(models.ToolDescriptor{
		Name:               "memory_search",
		Description:        "Searches past conversation memory by text relevance and/or tags.",
		Schema:             ReflectSchema(memorySearchArgs{}),
		IsDeterministic:    false,
		IsStateful:         true,
		EstimatedLatencyMs: 5,
		Executor:           memorySearchExecutor(store),
	}); err != nil {
		return err
	}
	return r.Register(models.ToolDescriptor{
		Name:               "memory_remember",
		Description:        "Stores a new memory entry tagged for later retrieval.",
		Schema:             ReflectSchema(memoryAddArgs{}),
		IsDeterministic:    false,
		IsStateful:         true,
		EstimatedLatencyMs: 5,
		Executor:           memoryAddExecutor(store),
	})
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func memorySearchExecutor(store *memorystore.Store) models.ToolExecutor {
	return func(_ context.Context, args json.RawMessage) (json.RawMessage, string) {
		var parsed memorySearchArgs
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Sprintf("invalid arguments: %v", err)
		}
		limit := parsed.Limit
		if limit <= 0 {
			limit = defaultMemorySearchLimit
		}
		res := store.Search(parsed.Query, splitTags(parsed.Tags), limit)
		matches, ok := res.Value()
		if !ok {
			return nil, res.Err().Error()
		}
		out := memorySearchResult{Results: make([]memorySearchResultItem, 0, len(matches))}
		for _, m := range matches {
			out.Results = append(out.Results, memorySearchResultItem{
				MemoryID:   m.Entry.MemoryID,
				Text:       m.Entry.Text,
				Tags:       m.Entry.Tags,
				Importance: m.Entry.Importance,
				Relevance:  m.Relevance,
			})
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Sprintf("encode result: %v", err)
		}
		return data, ""
	}
}

func memoryAddExecutor(store *memorystore.Store) models.ToolExecutor {
	return func(_ context.Context, args json.RawMessage) (json.RawMessage, string) {
		var parsed memoryAddArgs
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Sprintf("invalid arguments: %v", err)
		}
		importance := parsed.Importance
		if importance <= 0 {
			importance = 0.5
		}
		res := store.Add(parsed.Text, splitTags(parsed.Tags), importance, false)
		id, ok := res.Value()
		if !ok {
			return nil, res.Err().Error()
		}
		data, err := json.Marshal(memoryAddResult{MemoryID: id})
		if err != nil {
			return nil, fmt.Sprintf("encode result: %v", err)
		}
		return data, ""
	}
}
