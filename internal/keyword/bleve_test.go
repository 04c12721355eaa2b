package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
)

func chunk(id, path, heading, text string) *models.Chunk {
	return &models.Chunk{ID: id, FilePath: path, Heading: heading, Text: text, StartLine: 1, EndLine: 1}
}

func TestBleveIndex_SearchFindsText(t *testing.T) {
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()
	ctx := context.Background()

	err = idx.Replace(ctx, nil, []*models.Chunk{
		chunk("c1", "reference/contacts.md", "", "John Smith - Engineering Lead - john@example.com"),
		chunk("c2", "daily/2024-05-01.md", "Standup", "Discussed the quarterly budget."),
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}

	results, err := idx.Search(ctx, "Engineering", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "c1" {
		t.Fatalf("expected c1 only, got %+v", results)
	}

	// Standard analyzer lowercases without stemming.
	results, _ = idx.Search(ctx, "BUDGET", 10, nil)
	if len(results) != 1 || results[0].ID != "c2" {
		t.Errorf("case-insensitive match failed: %+v", results)
	}
	// Headings are searchable.
	results, _ = idx.Search(ctx, "standup", 10, nil)
	if len(results) != 1 || results[0].ID != "c2" {
		t.Errorf("heading match failed: %+v", results)
	}

	n, err := idx.DocCount()
	if err != nil || n != 2 {
		t.Errorf("DocCount=%d, %v", n, err)
	}
}

func TestBleveIndex_HeadingBoost(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	_ = idx.Replace(ctx, nil, []*models.Chunk{
		chunk("a", "a.md", "", "notes about kubernetes clusters and other things"),
		chunk("b", "b.md", "Kubernetes", "notes about clusters and other things"),
	})
	results, err := idx.Search(ctx, "kubernetes", 10, &SearchOptions{HeadingBoost: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "b" {
		t.Errorf("heading match should rank first: %+v", results)
	}
}

func TestBleveIndex_ReplaceAndDelete(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	_ = idx.Replace(ctx, nil, []*models.Chunk{chunk("old1", "a.md", "", "zebra crossing")})
	_ = idx.Replace(ctx, []string{"old1"}, []*models.Chunk{chunk("new1", "a.md", "", "giraffe neck")})

	if res, _ := idx.Search(ctx, "zebra", 10, nil); len(res) != 0 {
		t.Errorf("replaced chunk still found: %+v", res)
	}
	if res, _ := idx.Search(ctx, "giraffe", 10, nil); len(res) != 1 {
		t.Errorf("new chunk not found: %+v", res)
	}

	if err := idx.Delete(ctx, []string{"new1", "unknown"}); err != nil {
		t.Fatal(err)
	}
	if res, _ := idx.Search(ctx, "giraffe", 10, nil); len(res) != 0 {
		t.Errorf("deleted chunk still found: %+v", res)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx, _ := NewBleveIndex("")
	defer idx.Close()
	ctx := context.Background()
	_ = idx.Replace(ctx, nil, []*models.Chunk{chunk("c", "a.md", "", "meeting with the accountant")})

	if res, _ := idx.Search(ctx, "acountant", 10, nil); len(res) != 0 {
		t.Errorf("exact search should miss a typo: %+v", res)
	}
	res, err := idx.Search(ctx, "acountant", 10, &SearchOptions{Fuzziness: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Errorf("fuzzy search should match: %+v", res)
	}
}

func TestBleveIndex_ResetAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = idx.Replace(ctx, nil, []*models.Chunk{chunk("c", "a.md", "", "persistent words")})
	_ = idx.Close()

	idx, err = NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if n, _ := idx.DocCount(); n != 1 {
		t.Fatalf("reopened index has %d docs", n)
	}
	if err := idx.Reset(); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 0 {
		t.Errorf("Reset left %d docs", n)
	}
	if res, _ := idx.Search(ctx, "persistent", 10, nil); len(res) != 0 {
		t.Errorf("Reset index still returns hits: %+v", res)
	}
}
