package memorystore

import (
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/vassal/pkg/models"
)

// minTokenLen is the longest word length excluded from the similarity
// set: only tokens longer than this count toward the overlap score.
const minTokenLen = 2

// wordSet case-folds text and keeps tokens longer than minTokenLen chars.
func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if len(f) > minTokenLen {
			set[f] = struct{}{}
		}
	}
	return set
}

func hasAllTags(entry models.MemoryEntry, required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(entry.Tags))
	for _, t := range entry.Tags {
		have[t] = struct{}{}
	}
	for _, t := range required {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// Search scores every tag-matching entry against query and returns the top
// limit results, descending by relevance with ties broken newer-first.
func (s *Store) Search(query string, tagFilter []string, limit int) models.Result[[]models.SearchResult] {
	if s.metrics != nil {
		start := time.Now()
		defer func() { s.metrics.MemorySearchDuration.Observe(time.Since(start).Seconds()) }()
	}
	s.totalSearches++

	n := len(s.entries)
	queryWords := wordSet(query)
	nonEmptyQuery := strings.TrimSpace(query) != ""

	var results []models.SearchResult
	for i, e := range s.entries {
		if !hasAllTags(e, tagFilter) {
			continue
		}
		var score float64
		if nonEmptyQuery {
			entryWords := wordSet(e.Text)
			overlap := 0
			for w := range queryWords {
				if _, ok := entryWords[w]; ok {
					overlap++
				}
			}
			denom := len(queryWords)
			if denom < 1 {
				denom = 1
			}
			sim := float64(overlap) / float64(denom)
			score = 0.7*sim + 0.3*e.Importance
		} else {
			rank := n - 1 - i // newest entry has rank 0
			recency := 1.0
			if n > 0 {
				recency = 1.0 - float64(rank)/float64(n)
			}
			score = 0.6*e.Importance + 0.4*recency
		}
		results = append(results, models.SearchResult{Entry: e, Relevance: score})
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Relevance != results[b].Relevance {
			return results[a].Relevance > results[b].Relevance
		}
		return results[a].Entry.MemoryID > results[b].Entry.MemoryID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return models.Success(results)
}

// SearchByTag returns every entry matching the all-of tag filter, newest
// first, without text-based ranking.
func (s *Store) SearchByTag(tags []string, limit int) models.Result[[]models.SearchResult] {
	n := len(s.entries)
	var results []models.SearchResult
	for i := n - 1; i >= 0; i-- {
		e := s.entries[i]
		if !hasAllTags(e, tags) {
			continue
		}
		rank := n - 1 - i
		recency := 1.0
		if n > 0 {
			recency = 1.0 - float64(rank)/float64(n)
		}
		results = append(results, models.SearchResult{Entry: e, Relevance: 0.6*e.Importance + 0.4*recency})
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return models.Success(results)
}
