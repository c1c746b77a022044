package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/kailas-cloud/bookrag/internal/metastore"
	"github.com/kailas-cloud/bookrag/internal/vectorindex"
)

// Fixture describes an on-disk corpus for tests in dependent packages.
type Fixture struct {
	Chunks []metastore.Chunk
	// Vectors maps index ids to vectors; ids without a chunk row simulate drift.
	Vectors    map[int64][]float32
	NoFTS      bool
	NoManifest bool
	NoIndex    bool
}

// WriteFixture lays out <root>/<publisher>/ with the production artifacts.
func WriteFixture(root, publisher string, f Fixture) error {
	dir := filepath.Join(root, publisher)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create corpus dir: %w", err)
	}

	if !f.NoIndex {
		ids := make([]int64, 0, len(f.Vectors))
		vecs := make([][]float32, 0, len(f.Vectors))
		for _, c := range f.Chunks {
			if v, ok := f.Vectors[c.RowID]; ok {
				ids = append(ids, c.RowID)
				vecs = append(vecs, v)
			}
		}
		var extra []int64
		for id := range f.Vectors {
			if !hasRow(f.Chunks, id) {
				extra = append(extra, id)
			}
		}
		slices.Sort(extra)
		for _, id := range extra {
			ids = append(ids, id)
			vecs = append(vecs, f.Vectors[id])
		}
		ix, err := vectorindex.New(ids, vecs)
		if err != nil {
			return fmt.Errorf("build index: %w", err)
		}
		if err := ix.Write(filepath.Join(dir, IndexFile)); err != nil {
			return err
		}
	}

	if err := metastore.CreateForTest(filepath.Join(dir, MetaFile), f.Chunks, !f.NoFTS); err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}

	if !f.NoManifest {
		dim := 0
		for _, v := range f.Vectors {
			dim = len(v)
			break
		}
		data, err := json.Marshal(Manifest{Publisher: publisher, EmbedModel: "fixture", Dim: dim, Chunks: len(f.Chunks)})
		if err != nil {
			return fmt.Errorf("encode manifest: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o600); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	return nil
}

func hasRow(chunks []metastore.Chunk, id int64) bool {
	for _, c := range chunks {
		if c.RowID == id {
			return true
		}
	}
	return false
}
