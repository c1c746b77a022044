// Package metastore reads a publisher's chunk metadata and FTS5 index from meta.sqlite.
package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DefaultTextMax bounds chunk text read from the database.
const DefaultTextMax = 4000

// Chunk is one row of the chunks table.
type Chunk struct {
	RowID   int64
	ID      string
	Source  string
	Section string
	Index   int
	Text    string
}

// Match is a full-text hit; BM25 is lower-is-better as returned by SQLite.
type Match struct {
	Chunk
	BM25 float64
}

// Store is a read handle over one meta.sqlite file. database/sql hands each
// query its own connection, so concurrent queries do not share cursors.
type Store struct {
	db      *sql.DB
	path    string
	textMax int
}

// Open opens the database read-only and verifies connectivity. A missing
// file is an error rather than a fresh empty database. textMax <= 0 uses
// DefaultTextMax.
func Open(ctx context.Context, path string, textMax int) (*Store, error) {
	db, err := sql.Open("sqlite", readOnlyDSN(path))
	if err != nil {
		return nil, &Error{Op: OpOpen, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &Error{Op: OpPing, Err: err}
	}
	if textMax <= 0 {
		textMax = DefaultTextMax
	}
	return &Store{db: db, path: path, textMax: textMax}, nil
}

// readOnlyDSN escapes path into a SQLite URI so '?', '#' and '%' in
// directory names survive.
func readOnlyDSN(path string) string {
	return "file:" + (&url.URL{Path: path}).EscapedPath() + "?mode=ro"
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return nil
}

// HasFullText reports whether the chunks_fts table exists.
func (s *Store) HasFullText(ctx context.Context) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name='chunks_fts'`,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: OpFTSCheck, Err: err}
	}
	return true, nil
}

// ChunksByRowIDs joins vector ids against the chunks table in one statement.
// Ids without a row are absent from the returned map.
func (s *Store) ChunksByRowIDs(ctx context.Context, ids []int64) (map[int64]Chunk, error) {
	out := make(map[int64]Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT i64, cid, fp, sec, cidx, tx FROM chunks WHERE i64 IN (`+ph+`)`, args...) //nolint:gosec // placeholders only
	if err != nil {
		return nil, &Error{Op: OpByRowIDs, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		c, err := s.scanChunk(rows)
		if err != nil {
			return nil, &Error{Op: OpByRowIDs, Err: err}
		}
		out[c.RowID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: OpByRowIDs, Err: err}
	}
	return out, nil
}

// ChunkByRowID looks up a single row. Returns ErrRowNotFound when absent.
func (s *Store) ChunkByRowID(ctx context.Context, id int64) (Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT i64, cid, fp, sec, cidx, tx FROM chunks WHERE i64 = ? LIMIT 1`, id)
	c, err := s.scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Chunk{}, ErrRowNotFound
	}
	if err != nil {
		return Chunk{}, &Error{Op: OpByRowID, Err: err}
	}
	return c, nil
}

// Match runs an FTS5 MATCH expression ordered by bm25 (best first). Each
// full-text row joins at most one chunks row, the lowest i64 for its cid.
func (s *Store) Match(ctx context.Context, expr string, k int) ([]Match, error) {
	if expr == "" || k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunks_fts.cid, chunks_fts.fp, chunks_fts.sec, chunks_fts.tx,
		       bm25(chunks_fts) AS b, COALESCE(chunks.cidx, -1), COALESCE(chunks.i64, 0)
		FROM chunks_fts
		LEFT JOIN (SELECT cid, MIN(i64) AS i64 FROM chunks GROUP BY cid) AS pick
		       ON pick.cid = chunks_fts.cid
		LEFT JOIN chunks ON chunks.i64 = pick.i64
		WHERE chunks_fts MATCH ?
		ORDER BY b
		LIMIT ?`, expr, k)
	if err != nil {
		return nil, &Error{Op: OpMatch, Err: err}
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var (
			m                  Match
			cid, fp, sec, text sql.NullString
		)
		if err := rows.Scan(&cid, &fp, &sec, &text, &m.BM25, &m.Index, &m.RowID); err != nil {
			return nil, &Error{Op: OpMatch, Err: err}
		}
		m.ID, m.Source, m.Section = cid.String, fp.String, sec.String
		m.Text = capText(text.String, s.textMax)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: OpMatch, Err: err}
	}
	return out, nil
}

// Window returns chunks [index-window, index+window] of one source document.
func (s *Store) Window(ctx context.Context, source string, index, window int) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i64, cid, fp, sec, cidx, tx FROM chunks
		WHERE fp = ? AND cidx BETWEEN ? AND ?
		ORDER BY cidx`, source, index-window, index+window)
	if err != nil {
		return nil, &Error{Op: OpWindow, Err: err}
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		c, err := s.scanChunk(rows)
		if err != nil {
			return nil, &Error{Op: OpWindow, Err: err}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: OpWindow, Err: err}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanChunk(r scanner) (Chunk, error) {
	var (
		c                  Chunk
		cid, fp, sec, text sql.NullString
		cidx               sql.NullInt64
	)
	if err := r.Scan(&c.RowID, &cid, &fp, &sec, &cidx, &text); err != nil {
		return Chunk{}, err //nolint:wrapcheck // wrapped by callers with the op name
	}
	c.ID, c.Source, c.Section = cid.String, fp.String, sec.String
	c.Index = -1
	if cidx.Valid {
		c.Index = int(cidx.Int64)
	}
	c.Text = capText(text.String, s.textMax)
	return c, nil
}

// capText truncates to at most max runes.
func capText(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
