package vector

import (
	"context"
	"testing"
)

func TestMemoryIndex_AddSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	if err := idx.Add(ctx, []string{"a", "b", "c"}, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("unexpected order: %s, %s", results[0].ID, results[1].ID)
	}
}

func TestMemoryIndex_DimensionFromFirstAdd(t *testing.T) {
	idx, _ := NewMemoryIndex(0)
	ctx := context.Background()
	if idx.Dimensions() != 0 {
		t.Fatalf("dimensions should start unknown, got %d", idx.Dimensions())
	}
	if err := idx.Add(ctx, []string{"x"}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}
	if idx.Dimensions() != 2 {
		t.Errorf("Dimensions=%d, want 2", idx.Dimensions())
	}
	if err := idx.Add(ctx, []string{"y"}, [][]float32{{1, 0, 0}}); err == nil {
		t.Error("expected dimension mismatch error")
	}
	if _, err := idx.Search(ctx, []float32{1, 0, 0}, 1); err == nil {
		t.Error("expected query dimension mismatch error")
	}
	idx.Reset()
	if idx.Size() != 0 || idx.Dimensions() != 0 {
		t.Errorf("Reset should empty the index, size=%d dims=%d", idx.Size(), idx.Dimensions())
	}
}

func TestMemoryIndex_AddReplaces(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"x"}, [][]float32{{1, 0}})
	_ = idx.Add(ctx, []string{"x"}, [][]float32{{0, 1}})
	if idx.Size() != 1 {
		t.Fatalf("expected size 1, got %d", idx.Size())
	}
	res, _ := idx.Search(ctx, []float32{0, 1}, 1)
	if len(res) != 1 || res[0].Score < 0.99 {
		t.Errorf("replacement vector not used: %+v", res)
	}
}

func TestMemoryIndex_Remove(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"x", "y", "z"}, [][]float32{{1, 0}, {0, 1}, {1, 1}})
	if err := idx.Remove(ctx, []string{"x", "missing"}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Errorf("expected size 2, got %d", idx.Size())
	}
	_ = idx.Add(ctx, []string{"z"}, [][]float32{{0, 1}})
	if idx.Size() != 2 {
		t.Errorf("re-adding a kept id should replace, size=%d", idx.Size())
	}
}

func TestMemoryIndex_SearchEmpty(t *testing.T) {
	idx, _ := NewMemoryIndex(0)
	res, err := idx.Search(context.Background(), []float32{1}, 5)
	if err != nil || res != nil {
		t.Errorf("empty index: got %v, %v", res, err)
	}
}
