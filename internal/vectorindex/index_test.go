package vectorindex

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestSearch_OrdersByCosine(t *testing.T) {
	ix, err := New([]int64{10, 20, 30}, [][]float32{
		{1, 0, 0},
		{0.7, 0.7, 0},
		{0, 0, 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := ix.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 neighbors, got %d", len(got))
	}
	if got[0].ID != 10 || got[1].ID != 20 {
		t.Errorf("unexpected order: %+v", got)
	}
	if math.Abs(float64(got[0].Score)-1) > 1e-5 {
		t.Errorf("expected similarity 1 for identical vector, got %f", got[0].Score)
	}
}

func TestSearch_DimMismatch(t *testing.T) {
	ix, _ := New([]int64{1}, [][]float32{{1, 0}})
	if _, err := ix.Search([]float32{1, 0, 0}, 1); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestSearch_ZeroQueryOrEmptyIndex(t *testing.T) {
	ix, _ := New([]int64{1}, [][]float32{{1, 0}})
	if got, err := ix.Search([]float32{0, 0}, 3); err != nil || got != nil {
		t.Errorf("expected nil result for zero query, got %v, %v", got, err)
	}
	empty, _ := New(nil, nil)
	if got, err := empty.Search([]float32{1}, 3); err != nil || got != nil {
		t.Errorf("expected nil result for empty index, got %v, %v", got, err)
	}
}

func TestNew_InconsistentDims(t *testing.T) {
	if _, err := New([]int64{1, 2}, [][]float32{{1, 0}, {1}}); err == nil {
		t.Fatal("expected inconsistent dims error")
	}
	if _, err := New([]int64{1}, nil); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestWriteLoad(t *testing.T) {
	ix, _ := New([]int64{-1, 7}, [][]float32{{0.5, 0.25}, {-1, 2}})
	path := filepath.Join(t.TempDir(), "index.vec")
	if err := ix.Write(path); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Dim() != 2 || loaded.Len() != 2 {
		t.Fatalf("unexpected dim/len: %d/%d", loaded.Dim(), loaded.Len())
	}
	got, _ := loaded.Search([]float32{-1, 2}, 1)
	if len(got) != 1 || got[0].ID != 7 {
		t.Errorf("unexpected neighbor after reload: %+v", got)
	}
}

func TestUnmarshalBinary_Corrupt(t *testing.T) {
	tests := map[string][]byte{
		"short":     []byte("BR"),
		"bad magic": make([]byte, headerSize),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			var ix Index
			if err := ix.UnmarshalBinary(data); !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}

	good, _ := New([]int64{1}, [][]float32{{1, 2}})
	data, _ := good.MarshalBinary()
	var ix Index
	if err := ix.UnmarshalBinary(data[:len(data)-2]); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt for truncated data, got %v", err)
	}
}
