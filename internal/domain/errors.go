package domain

import (
	"crypto/sha1" //nolint:gosec // used for short correlation ids, not security
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrEmptyQuery signals a blank query string.
	ErrEmptyQuery = errors.New("empty query")
	// ErrNoPublishers signals that no publisher index is ready at all.
	ErrNoPublishers = errors.New("no corpus indexes available")
	// ErrPublishersUnavailable signals that requested publishers are not ready.
	ErrPublishersUnavailable = errors.New("requested publishers unavailable")
	// ErrJudgeUnavailable signals that the cross-encoder judge cannot score.
	ErrJudgeUnavailable = errors.New("real judge unavailable")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrFullTextUnavailable signals a metadata store without the chunks_fts table.
	ErrFullTextUnavailable = errors.New("full-text index unavailable")
	// ErrInternal signals an unclassified pipeline failure.
	ErrInternal = errors.New("internal error")
	// ErrTimeout signals that the hosting layer deadline expired.
	ErrTimeout = errors.New("search timed out")
)

// ErrorKind classifies a failed query for callers and telemetry.
type ErrorKind string

// Query error kinds.
const (
	KindEmptyQuery       ErrorKind = "empty_query"
	KindMissingCorpora   ErrorKind = "missing_corpora"
	KindNoCorpus         ErrorKind = "no_corpus_indexes"
	KindJudgeUnavailable ErrorKind = "judge_unavailable"
	KindTimeout          ErrorKind = "timeout"
	KindInternal         ErrorKind = "internal"
)

const maxSafeMessage = 200

// QueryError is the structured failure returned in place of a panic or raw error.
type QueryError struct {
	Kind    ErrorKind
	Where   string
	Msg     string
	ID      string
	Missing []string
	Err     error
}

func (e *QueryError) Error() string {
	if e.Where != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Where, e.Msg, e.ID)
	}
	return fmt.Sprintf("%s (%s)", e.Msg, e.ID)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NewEmptyQueryError reports a blank query.
func NewEmptyQueryError() *QueryError {
	return &QueryError{
		Kind:  KindEmptyQuery,
		Where: "input",
		Msg:   "Please enter a question or keywords.",
		ID:    ErrorID(string(KindEmptyQuery)),
		Err:   ErrEmptyQuery,
	}
}

// NewMissingCorporaError names the requested publishers that are not ready.
func NewMissingCorporaError(missing []string) *QueryError {
	names := strings.Join(missing, ", ")
	return &QueryError{
		Kind:    KindMissingCorpora,
		Where:   "corpus",
		Msg:     "Selected sources are unavailable: " + names,
		ID:      ErrorID("missing_corpora:" + strings.Join(missing, ",")),
		Missing: append([]string(nil), missing...),
		Err:     ErrPublishersUnavailable,
	}
}

// NewNoCorpusError reports that no publisher is ready at all.
func NewNoCorpusError() *QueryError {
	return &QueryError{
		Kind:  KindNoCorpus,
		Where: "corpus",
		Msg:   "No corpus indexes available. Build indexes first.",
		ID:    ErrorID(string(KindNoCorpus)),
		Err:   ErrNoPublishers,
	}
}

// NewJudgeUnavailableError reports a failed explicit real-judge request.
func NewJudgeUnavailableError(reason string) *QueryError {
	msg := SafeMessage(reason)
	return &QueryError{
		Kind:  KindJudgeUnavailable,
		Where: "judge",
		Msg:   "Relevance judge unavailable: " + msg,
		ID:    ErrorID("judge_unavailable:" + msg),
		Err:   ErrJudgeUnavailable,
	}
}

// NewTimeoutError reports a deadline that expired in the hosting layer.
func NewTimeoutError() *QueryError {
	return &QueryError{
		Kind:  KindTimeout,
		Where: "search",
		Msg:   "Search timed out. Try again or narrow the sources.",
		ID:    ErrorID(string(KindTimeout)),
		Err:   ErrTimeout,
	}
}

// NewInternalError converts an unclassified failure. The message seeds the id
// so identical failures correlate across log lines.
func NewInternalError(where string, err error) *QueryError {
	msg := SafeMessage(fmt.Sprintf("%T: %v", err, err))
	return &QueryError{
		Kind:  KindInternal,
		Where: where,
		Msg:   msg,
		ID:    ErrorID(msg),
		Err:   errors.Join(ErrInternal, err),
	}
}

// ErrorID derives a short stable id from a seed string.
func ErrorID(seed string) string {
	sum := sha1.Sum([]byte(seed)) //nolint:gosec // correlation id
	return "err-" + hex.EncodeToString(sum[:])[:10]
}

// SafeMessage flattens newlines and truncates to maxSafeMessage characters.
func SafeMessage(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxSafeMessage {
		s = string(r[:maxSafeMessage])
	}
	return s
}
