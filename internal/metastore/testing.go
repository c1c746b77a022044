package metastore

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaChunks = `CREATE TABLE IF NOT EXISTS chunks (
	i64  INTEGER PRIMARY KEY,
	cid  TEXT NOT NULL,
	fp   TEXT,
	sec  TEXT,
	cidx INTEGER,
	tx   TEXT
)`

const schemaFTS = `CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(cid UNINDEXED, fp UNINDEXED, sec, tx)`

// CreateForTest writes a meta.sqlite fixture with the production layout.
// withFTS=false omits chunks_fts to simulate a store without full-text search.
func CreateForTest(path string, chunks []Chunk, withFTS bool) error {
	ctx := context.Background()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open fixture: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schemaChunks); err != nil {
		return fmt.Errorf("create chunks: %w", err)
	}
	if withFTS {
		if _, err := db.ExecContext(ctx, schemaFTS); err != nil {
			return fmt.Errorf("create chunks_fts: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (i64, cid, fp, sec, cidx, tx) VALUES (?, ?, ?, ?, ?, ?)`,
			c.RowID, c.ID, c.Source, c.Section, c.Index, c.Text,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
		if withFTS {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunks_fts (cid, fp, sec, tx) VALUES (?, ?, ?, ?)`,
				c.ID, c.Source, c.Section, c.Text,
			); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("insert fts %s: %w", c.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
