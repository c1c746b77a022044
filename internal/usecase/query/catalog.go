package query

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/bookrag/internal/domain"
	"github.com/kailas-cloud/bookrag/internal/metastore"
	"github.com/kailas-cloud/bookrag/internal/registry"
)

type engineCatalog struct {
	engine *registry.Engine
}

// FromEngine adapts the registry to Catalog.
func FromEngine(e *registry.Engine) Catalog {
	return engineCatalog{engine: e}
}

func (c engineCatalog) Ready() []string { return c.engine.Ready() }

func (c engineCatalog) IndexDim() int { return c.engine.IndexDim() }

func (c engineCatalog) Window(
	ctx context.Context, publisher, source string, index, window int,
) ([]metastore.Chunk, error) {
	p, ok := c.engine.Publisher(publisher)
	if !ok {
		return nil, fmt.Errorf("publisher %s: %w", publisher, domain.ErrNotFound)
	}
	chunks, err := p.Store.Window(ctx, source, index, window)
	if err != nil {
		return nil, fmt.Errorf("reader window: %w", err)
	}
	return chunks, nil
}
