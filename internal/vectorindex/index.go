// Package vectorindex is the per-publisher flat cosine index loaded from index.vec.
package vectorindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/viant/vec/search"
)

const (
	magic   = "BRVX"
	version = 1
	// headerSize is magic + version + dim + n.
	headerSize = 4 + 4 + 4 + 4
)

// ErrCorrupt signals a malformed index file.
var ErrCorrupt = errors.New("vectorindex: corrupt index")

// Neighbor is one nearest-neighbor result; Score is cosine similarity.
type Neighbor struct {
	ID    int64
	Score float32
}

// Index is an immutable brute-force cosine index. Safe for concurrent Search.
type Index struct {
	dim  int
	ids  []int64
	vecs []search.Float32s
	mags []float32
}

// New builds an index from ids and equally sized vectors.
func New(ids []int64, vectors [][]float32) (*Index, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("vectorindex: ids and vectors length mismatch: %d != %d", len(ids), len(vectors))
	}
	ix := &Index{}
	if len(ids) == 0 {
		return ix, nil
	}
	ix.dim = len(vectors[0])
	ix.ids = append([]int64(nil), ids...)
	ix.vecs = make([]search.Float32s, len(vectors))
	ix.mags = make([]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != ix.dim {
			return nil, fmt.Errorf("vectorindex: inconsistent vector dims %d vs %d", len(v), ix.dim)
		}
		ix.vecs[i] = search.Float32s(v)
		ix.mags[i] = ix.vecs[i].Magnitude()
	}
	return ix, nil
}

// Dim returns the vector dimensionality (0 for an empty index).
func (ix *Index) Dim() int { return ix.dim }

// Len returns the number of stored vectors.
func (ix *Index) Len() int { return len(ix.ids) }

// Search returns up to k neighbors ordered by descending similarity.
func (ix *Index) Search(query []float32, k int) ([]Neighbor, error) {
	if len(ix.vecs) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("vectorindex: query dim %d != index dim %d", len(query), ix.dim)
	}
	qm := search.Float32s(query).Magnitude()
	if qm == 0 {
		return nil, nil
	}

	out := make([]Neighbor, 0, len(ix.vecs))
	for i, v := range ix.vecs {
		if ix.mags[i] == 0 {
			continue
		}
		sim := 1 - v.CosineDistance(query)
		if math.IsNaN(float64(sim)) {
			continue
		}
		out = append(out, Neighbor{ID: ix.ids[i], Score: sim})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// MarshalBinary encodes: magic, version u32, dim u32, n u32, then n × (id i64, dim × f32).
func (ix *Index) MarshalBinary() ([]byte, error) {
	out := make([]byte, headerSize, headerSize+len(ix.ids)*(8+4*ix.dim))
	copy(out, magic)
	binary.LittleEndian.PutUint32(out[4:], version)
	binary.LittleEndian.PutUint32(out[8:], uint32(ix.dim))    //nolint:gosec // dims fit in u32
	binary.LittleEndian.PutUint32(out[12:], uint32(len(ix.ids))) //nolint:gosec // count fits in u32

	var b8 [8]byte
	for i, id := range ix.ids {
		binary.LittleEndian.PutUint64(b8[:], uint64(id)) //nolint:gosec // bit-preserving
		out = append(out, b8[:]...)
		for _, f := range ix.vecs[i] {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
		}
	}
	return out, nil
}

// UnmarshalBinary restores the index from bytes.
func (ix *Index) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize || string(data[:4]) != magic {
		return ErrCorrupt
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != version {
		return fmt.Errorf("vectorindex: unsupported version %d: %w", v, ErrCorrupt)
	}
	dim := int(binary.LittleEndian.Uint32(data[8:]))
	n := int(binary.LittleEndian.Uint32(data[12:]))
	if len(data) != headerSize+n*(8+4*dim) {
		return fmt.Errorf("vectorindex: expected %d items of dim %d: %w", n, dim, ErrCorrupt)
	}

	ids := make([]int64, n)
	vecs := make([][]float32, n)
	off := headerSize
	for i := 0; i < n; i++ {
		ids[i] = int64(binary.LittleEndian.Uint64(data[off:])) //nolint:gosec // bit-preserving
		off += 8
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		vecs[i] = vec
	}

	built, err := New(ids, vecs)
	if err != nil {
		return err
	}
	*ix = *built
	if n == 0 {
		ix.dim = dim
	}
	return nil
}

// Load reads an index file.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}
	ix := &Index{}
	if err := ix.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", path, err)
	}
	return ix, nil
}

// Write stores the index at path.
func (ix *Index) Write(path string) error {
	data, err := ix.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write index %s: %w", path, err)
	}
	return nil
}
