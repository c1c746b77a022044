package metastore

import "errors"

// Sentinel errors for metadata store operations.
var (
	ErrRowNotFound = errors.New("metastore: row not found")
	ErrClosed      = errors.New("metastore: store closed")
)

// Op names the failed statement for error context.
const (
	OpOpen     = "open"
	OpPing     = "ping"
	OpFTSCheck = "fts_check"
	OpByRowIDs = "chunks_by_rowids"
	OpByRowID  = "chunk_by_rowid"
	OpMatch    = "fts_match"
	OpWindow   = "window"
)

// Error wraps a driver error with the operation name.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "metastore " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
