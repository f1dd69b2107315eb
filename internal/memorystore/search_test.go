package memorystore

import (
	"testing"

	"github.com/haasonsaas/vassal/pkg/models"
)

func TestSearchRanksByOverlapAndImportance(t *testing.T) {
	dir := t.TempDir()
	s := mustStore(t, "session-a", dir)
	defer s.Close()

	s.Add("the weather today is sunny and warm", []string{"weather"}, 0.2, false)
	s.Add("remember to buy milk and eggs tomorrow", []string{"errand"}, 0.8, false)

	res := s.Search("weather sunny", nil, 10)
	results, ok := res.Value()
	if !ok {
		t.Fatalf("Search() error = %v", res.Err())
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Entry.Text != "the weather today is sunny and warm" {
		t.Fatalf("expected weather entry ranked first, got %q", results[0].Entry.Text)
	}
}

// Tokens longer than 2 chars count toward the overlap set, so 3-letter
// words like "red" must not be dropped.
func TestSearchCountsThreeLetterWords(t *testing.T) {
	dir := t.TempDir()
	s := mustStore(t, "session-a", dir)
	defer s.Close()

	s.Add("my favorite color is red", []string{"color"}, 0.2, false)
	s.Add("remember to buy milk and eggs tomorrow", []string{"errand"}, 0.8, false)

	res := s.Search("red", nil, 10)
	results, ok := res.Value()
	if !ok {
		t.Fatalf("Search() error = %v", res.Err())
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Entry.Text != "my favorite color is red" || results[0].Relevance == 0 {
		t.Fatalf("expected the entry containing \"red\" ranked first with nonzero relevance, got %+v", results[0])
	}
}

func TestSearchEmptyQueryUsesRecencyAndImportance(t *testing.T) {
	dir := t.TempDir()
	s := mustStore(t, "session-a", dir)
	defer s.Close()

	s.Add("older note", nil, 0.5, false)
	s.Add("newer note", nil, 0.5, false)

	res := s.Search("", nil, 10)
	results, ok := res.Value()
	if !ok {
		t.Fatalf("Search() error = %v", res.Err())
	}
	if results[0].Entry.Text != "newer note" {
		t.Fatalf("expected newer entry ranked first with equal importance, got %q", results[0].Entry.Text)
	}
}

func TestSearchByTagAllOfFilterNewestFirst(t *testing.T) {
	dir := t.TempDir()
	s := mustStore(t, "session-a", dir)
	defer s.Close()

	s.Add("a", []string{"color"}, 0.5, false)
	s.Add("b", []string{"color", "favorite"}, 0.5, false)
	s.Add("c", []string{"shape"}, 0.5, false)

	res := s.SearchByTag([]string{"color", "favorite"}, 0)
	results, ok := res.Value()
	if !ok {
		t.Fatalf("SearchByTag() error = %v", res.Err())
	}
	if len(results) != 1 || results[0].Entry.Text != "b" {
		t.Fatalf("expected only entry b, got %+v", results)
	}
}

func TestStoreFullFailsAdd(t *testing.T) {
	dir := t.TempDir()
	res := InitWithOptions("session-a", dir, Options{MaxEntries: 1})
	s, ok := res.Value()
	if !ok {
		t.Fatalf("Init() error = %v", res.Err())
	}
	defer s.Close()

	if _, ok := s.Add("first", nil, 0.5, false).Value(); !ok {
		t.Fatalf("expected first Add to succeed")
	}
	full := s.Add("second", nil, 0.5, false)
	if full.IsOK() {
		t.Fatalf("expected StoreFull failure on second Add")
	}
	if full.Err().Kind != models.ErrResourceExhausted {
		t.Fatalf("expected resource_exhausted, got %v", full.Err().Kind)
	}
}
