package query

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// ReaderChunk is one chunk of a reader window.
type ReaderChunk struct {
	ID         string `json:"cid"`
	Source     string `json:"fp"`
	Section    string `json:"sec"`
	ChunkIndex int    `json:"cidx"`
	Text       string `json:"tx"`
	Publisher  string `json:"corp"`
}

// ReaderResult is the reader window response.
type ReaderResult struct {
	OK     bool          `json:"ok"`
	Chunks []ReaderChunk `json:"chunks"`
	Err    string        `json:"err,omitempty"`
}

// ReaderNotFound is the error of an empty window.
const ReaderNotFound = "not_found"

// ReaderWindow returns chunks index-window..index+window of a source document
// from the first ready publisher that has any of them. A negative window uses
// DefaultReaderWindow.
func (s *Service) ReaderWindow(ctx context.Context, source string, index, window int) ReaderResult {
	if window < 0 {
		window = DefaultReaderWindow
	}
	source = strings.TrimSpace(source)
	if source != "" {
		for _, pub := range s.deps.Catalog.Ready() {
			chunks, err := s.deps.Catalog.Window(ctx, pub, source, index, window)
			if err != nil {
				s.logger.Warn("Reader window lookup failed", zap.String("publisher", pub), zap.Error(err))
				continue
			}
			if len(chunks) == 0 {
				continue
			}
			out := make([]ReaderChunk, len(chunks))
			for i, c := range chunks {
				out[i] = ReaderChunk{
					ID:         c.ID,
					Source:     c.Source,
					Section:    c.Section,
					ChunkIndex: c.Index,
					Text:       snippet(c.Text, s.cfg.SnippetChars),
					Publisher:  pub,
				}
			}
			return ReaderResult{OK: true, Chunks: out}
		}
	}
	return ReaderResult{OK: false, Chunks: []ReaderChunk{}, Err: ReaderNotFound}
}

// Recent returns up to n recent queries, newest first. Store failures yield
// an empty list.
func (s *Service) Recent(ctx context.Context, n int) []string {
	if s.deps.Recent == nil {
		return []string{}
	}
	qs, err := s.deps.Recent.Recent(ctx, n)
	if err != nil {
		s.logger.Warn("Failed to read recent queries", zap.Error(err))
		return []string{}
	}
	if qs == nil {
		qs = []string{}
	}
	return qs
}

// Modes lists the configured mode bundles, default first.
func (s *Service) Modes() []ModeInfo {
	return s.cfg.infos()
}

func snippet(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
