// Package registry loads the per-publisher corpora and records why any of
// them cannot serve queries. Building never fails; a publisher that misses
// a check is reported and skipped.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/domain"
	"github.com/kailas-cloud/bookrag/internal/metastore"
	"github.com/kailas-cloud/bookrag/internal/vectorindex"
)

// Corpus artifact names inside <root>/<publisher>/.
const (
	IndexFile    = "index.vec"
	MetaFile     = "meta.sqlite"
	ManifestFile = "manifest.json"
)

// Failure reasons recorded on a publisher status.
const (
	ReasonMissingDir      = "missing_corpus_dir"
	ReasonMissingIndex    = "missing_index"
	ReasonMissingDB       = "missing_db"
	ReasonMissingManifest = "missing_manifest"
	ReasonDBUnavailable   = "metadata db unavailable"
)

// Config selects what Build loads.
type Config struct {
	Root       string
	Publishers []string
	// EmbedDim is the query embedding width; 0 probes the embedder.
	EmbedDim     int
	TextMax      int
	ProbeTimeout time.Duration
}

// Manifest is the build provenance written next to each corpus.
type Manifest struct {
	Publisher  string `json:"publisher"`
	BuiltAt    string `json:"built_at"`
	EmbedModel string `json:"embed_model"`
	Dim        int    `json:"dim"`
	Chunks     int    `json:"chunks"`
}

// Publisher is a ready corpus: vector index plus metadata store.
type Publisher struct {
	Name  string
	Index *vectorindex.Index
	Store *metastore.Store
}

// Dim is the vector index width.
func (p *Publisher) Dim() int { return p.Index.Dim() }

// Engine holds every ready publisher and the readiness of all known ones.
// It is read-only after Build and safe for concurrent queries.
type Engine struct {
	order    []string
	pubs     map[string]*Publisher
	status   map[string]Status
	embedDim int
	logger   *zap.Logger
}

// Build soft-validates every configured publisher. emb may be nil, in which
// case dimension checks are skipped and only lexical retrieval is possible.
func Build(ctx context.Context, cfg Config, emb domain.Embedder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		order:  slices.Clone(cfg.Publishers),
		pubs:   make(map[string]*Publisher, len(cfg.Publishers)),
		status: make(map[string]Status, len(cfg.Publishers)),
		logger: logger,
	}
	e.embedDim = resolveEmbedDim(ctx, cfg, emb, logger)

	for _, name := range cfg.Publishers {
		pub, st := e.load(ctx, cfg, name)
		e.status[name] = st
		if pub != nil {
			e.pubs[name] = pub
			logger.Info("Publisher ready",
				zap.String("publisher", name),
				zap.Int("vectors", pub.Index.Len()),
				zap.Int("dim", pub.Dim()),
			)
			continue
		}
		logger.Warn("Publisher not ready",
			zap.String("publisher", name),
			zap.Strings("reasons", st.Reasons),
		)
	}
	return e
}

func resolveEmbedDim(ctx context.Context, cfg Config, emb domain.Embedder, logger *zap.Logger) int {
	if emb == nil {
		return 0
	}
	if cfg.EmbedDim > 0 {
		return cfg.EmbedDim
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dim, err := domain.ProbeDimensions(pctx, emb)
	if err != nil {
		logger.Warn("Embedding probe failed, dense retrieval disabled", zap.Error(err))
		return 0
	}
	return dim
}

func (e *Engine) load(ctx context.Context, cfg Config, name string) (*Publisher, Status) {
	dir := filepath.Join(cfg.Root, name)
	st := checkFiles(name, dir)
	st.EmbedDim = e.embedDim
	if !st.Exists || len(st.Missing) > 0 {
		return nil, st.finish()
	}
	st.DimOK = true

	st.Manifest = readManifest(filepath.Join(dir, ManifestFile))

	var failure string
	ix, err := vectorindex.Load(filepath.Join(dir, IndexFile))
	if err != nil {
		st.DimOK = false
		failure = "index load error: " + errorType(err)
	} else {
		st.IndexDim = ix.Dim()
		if e.embedDim > 0 && ix.Dim() != e.embedDim {
			st.DimOK = false
			failure = fmt.Sprintf("dim mismatch: emb %d vs ix %d", e.embedDim, ix.Dim())
		} else {
			st.IndexLoaded = true
		}
	}

	store, err := metastore.Open(ctx, filepath.Join(dir, MetaFile), cfg.TextMax)
	if err == nil {
		ok, ftsErr := store.HasFullText(ctx)
		switch {
		case ftsErr != nil:
			err = ftsErr
		case !ok:
			err = domain.ErrFullTextUnavailable
		default:
			st.MetaLoaded = true
		}
	}
	if err != nil {
		if failure == "" && !errors.Is(err, domain.ErrFullTextUnavailable) {
			failure = "metadata db error: " + errorType(err)
		}
		if store != nil {
			_ = store.Close()
		}
		store = nil
	}
	if failure == "" && !st.MetaLoaded {
		failure = ReasonDBUnavailable
	}
	st.FailureReason = failure

	st = st.finish()
	if !st.Ready {
		if store != nil {
			_ = store.Close()
		}
		return nil, st
	}
	return &Publisher{Name: name, Index: ix, Store: store}, st
}

func checkFiles(name, dir string) Status {
	st := Status{Publisher: name, Path: dir}
	info, err := os.Stat(dir)
	st.Exists = err == nil && info.IsDir()
	if !st.Exists {
		st.Reasons = []string{ReasonMissingDir}
		st.Missing = []string{"index", "db", "manifest"}
		return st
	}
	st.IndexFile = fileExists(filepath.Join(dir, IndexFile))
	st.MetaFile = fileExists(filepath.Join(dir, MetaFile))
	st.ManifestFile = fileExists(filepath.Join(dir, ManifestFile))

	for _, c := range []struct {
		ok           bool
		part, reason string
	}{
		{st.IndexFile, "index", ReasonMissingIndex},
		{st.MetaFile, "db", ReasonMissingDB},
		{st.ManifestFile, "manifest", ReasonMissingManifest},
	} {
		if !c.ok {
			st.Missing = append(st.Missing, c.part)
			st.Reasons = append(st.Reasons, c.reason)
		}
	}
	return st
}

func readManifest(path string) *Manifest {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var m Manifest
	if json.Unmarshal(data, &m) != nil {
		return nil
	}
	return &m
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// errorType names the innermost error type, e.g. "*fs.PathError".
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

// HasEmbedding reports whether query vectors can be produced.
func (e *Engine) HasEmbedding() bool { return e.embedDim > 0 }

// EmbedDim is the query vector width, 0 without an embedder.
func (e *Engine) EmbedDim() int { return e.embedDim }

// Known lists configured publishers in order.
func (e *Engine) Known() []string { return slices.Clone(e.order) }

// Ready lists ready publishers in configured order.
func (e *Engine) Ready() []string {
	out := make([]string, 0, len(e.pubs))
	for _, name := range e.order {
		if _, ok := e.pubs[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// IndexDim is the vector width of the first ready publisher, 0 when none is ready.
func (e *Engine) IndexDim() int {
	for _, name := range e.order {
		if p, ok := e.pubs[name]; ok {
			return p.Dim()
		}
	}
	return 0
}

// Publisher returns a ready publisher.
func (e *Engine) Publisher(name string) (*Publisher, bool) {
	p, ok := e.pubs[name]
	return p, ok
}

// Status returns the readiness record of a known publisher.
func (e *Engine) Status(name string) (Status, bool) {
	st, ok := e.status[name]
	return st, ok
}

// Close releases every metadata store.
func (e *Engine) Close() error {
	var errs []error
	for _, name := range e.order {
		if p, ok := e.pubs[name]; ok {
			if err := p.Store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
