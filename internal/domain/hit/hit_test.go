package hit

import (
	"strings"
	"testing"
)

func TestBookTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/data/books/Designing Data-Intensive Applications.pdf", "Designing Data-Intensive Applications"},
		{"relative/notes.epub", "notes"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := BookTitle(tc.in); got != tc.want {
			t.Errorf("BookTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTextKey_UsesPrefixOnly(t *testing.T) {
	prefix := strings.Repeat("a", 200)
	a := Hit{Text: prefix + "tail one"}
	b := Hit{Text: prefix + "different tail"}
	if a.TextKey() != b.TextKey() {
		t.Error("expected identical keys for identical 200-char prefixes")
	}
	c := Hit{Text: "b" + prefix}
	if a.TextKey() == c.TextKey() {
		t.Error("expected different keys for different prefixes")
	}
}

func TestNewView_CopiesScores(t *testing.T) {
	h := Hit{ID: "c1", Publisher: "Manning", Book: "b", Score: 0.5, Judge: 0.7, DenseNorm: 1, ChunkIndex: 3}
	v := NewView(h)
	if v.ID != "c1" || v.Publisher != "Manning" || v.Score != 0.5 || v.Judge != 0.7 || v.ChunkIndex != 3 {
		t.Errorf("unexpected view: %+v", v)
	}
	if v.NearMissThreshold != nil || v.UsedJudge != nil {
		t.Error("expected near-miss annotations to be unset")
	}
	if got := Views([]Hit{h, h}); len(got) != 2 {
		t.Errorf("expected 2 views, got %d", len(got))
	}
}
